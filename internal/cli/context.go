package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/adaptive-memory/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [description]",
		Short: "Assemble relevant memories and preferences for a task",
		Long:  "Retrieve and score memories, then greedily pack them with relevant preferences into a token budget.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runContext,
	}

	cmd.Flags().StringSlice("kind", nil, "Restrict to kinds")
	cmd.Flags().StringToString("situation", nil, "Situation as key=value pairs for preference matching")
	cmd.Flags().IntP("budget", "b", 4000, "Max tokens in output")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	kinds, _ := cmd.Flags().GetStringSlice("kind")
	situation, _ := cmd.Flags().GetStringToString("situation")
	budget, _ := cmd.Flags().GetInt("budget")

	s, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer s.Close()

	result, err := s.Memory().Assemble(cmd.Context(), s.Preferences(), memory.ContextParams{
		UserID:    userFlag,
		Query:     strings.Join(args, " "),
		Kinds:     toKinds(kinds),
		Situation: situation,
		Budget:    budget,
	})
	if err != nil {
		exitErr("context", err)
	}
	output(result)
}
