package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/adaptive-memory/internal/model"
	"github.com/rcliao/adaptive-memory/internal/preference"
)

func init() {
	pref := &cobra.Command{
		Use:   "pref",
		Short: "Manage the preference graph",
	}

	add := &cobra.Command{
		Use:   "add [text]",
		Short: "Add a preference, merging into an overlapping one",
		Args:  cobra.MinimumNArgs(1),
		Run:   runPrefAdd,
	}
	add.Flags().String("category", "general", "Category")
	add.Flags().Float64("strength", 0.5, "Strength in [0,1]")
	add.Flags().Float64("confidence", 0.5, "Confidence in [0,1]")
	add.Flags().String("source", string(model.PreferenceExplicit), "Source: explicit, learned, inferred")
	add.Flags().StringArray("example", nil, "Example (repeatable)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List preferences, strongest first",
		Run:   runPrefList,
	}
	list.Flags().String("category", "", "Filter by category")
	list.Flags().Float64("min-strength", 0, "Minimum strength")

	query := &cobra.Command{
		Use:   "query [situation]",
		Short: "Rank preferences relevant to a situation",
		Long:  "Rank preferences against a situation given as free text and/or --situation key=value pairs.",
		Run:   runPrefQuery,
	}
	query.Flags().StringToString("situation", nil, "Situation as key=value pairs")

	discomfort := &cobra.Command{
		Use:   "discomfort [action]",
		Short: "Predict negative preferences a proposed action would violate",
		Run:   runPrefDiscomfort,
	}
	discomfort.Flags().StringToString("action", nil, "Action as key=value pairs")

	pref.AddCommand(add, list, query, discomfort)
	RootCmd.AddCommand(pref)
}

func runPrefAdd(cmd *cobra.Command, args []string) {
	category, _ := cmd.Flags().GetString("category")
	strength, _ := cmd.Flags().GetFloat64("strength")
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	source, _ := cmd.Flags().GetString("source")
	examples, _ := cmd.Flags().GetStringArray("example")

	s, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer s.Close()

	p, merged, err := s.AddPreference(cmd.Context(), preference.AddParams{
		UserID:     userFlag,
		Category:   category,
		Text:       strings.Join(args, " "),
		Strength:   strength,
		Confidence: confidence,
		Source:     model.PreferenceSource(source),
		Examples:   examples,
	})
	if err != nil {
		exitErr("pref add", err)
	}
	output(map[string]any{"preference": p, "merged": merged})
}

func runPrefList(cmd *cobra.Command, args []string) {
	category, _ := cmd.Flags().GetString("category")
	minStrength, _ := cmd.Flags().GetFloat64("min-strength")

	s, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer s.Close()

	prefs, err := s.Preferences().Preferences(cmd.Context(), userFlag, category, minStrength)
	if err != nil {
		exitErr("pref list", err)
	}
	if prefs == nil {
		prefs = []model.Preference{}
	}
	output(prefs)
}

// situationFrom merges free text, stored under key, with explicit pairs.
func situationFrom(key string, args []string, pairs map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(pairs)+1)
	for k, v := range pairs {
		out[k] = v
	}
	if len(args) > 0 {
		out[key] = strings.Join(args, " ")
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("give a positional description or key=value pairs")
	}
	return out, nil
}

func runPrefQuery(cmd *cobra.Command, args []string) {
	pairs, _ := cmd.Flags().GetStringToString("situation")
	situation, err := situationFrom("query", args, pairs)
	if err != nil {
		exitErr("pref query", err)
	}

	s, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer s.Close()

	scored, err := s.Preferences().QueryRelevant(cmd.Context(), userFlag, situation)
	if err != nil {
		exitErr("pref query", err)
	}
	if scored == nil {
		scored = []preference.Scored{}
	}
	output(scored)
}

func runPrefDiscomfort(cmd *cobra.Command, args []string) {
	pairs, _ := cmd.Flags().GetStringToString("action")
	action, err := situationFrom("action", args, pairs)
	if err != nil {
		exitErr("pref discomfort", err)
	}

	s, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer s.Close()

	violations, err := s.Preferences().PredictDiscomfort(cmd.Context(), userFlag, action)
	if err != nil {
		exitErr("pref discomfort", err)
	}
	if violations == nil {
		violations = []preference.Violation{}
	}
	output(violations)
}
