package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/adaptive-memory/internal/memory"
	"github.com/rcliao/adaptive-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:     "retrieve [query]",
		Aliases: []string{"search"},
		Short:   "Retrieve memories similar to a query",
		Long:    "Rank the user's memories against the query by cosine similarity blended with recency.",
		Args:    cobra.MinimumNArgs(1),
		Run:     runRetrieve,
	}

	cmd.Flags().StringSlice("kind", nil, "Restrict to kinds (repeatable or comma-separated)")
	cmd.Flags().IntP("top-k", "k", 0, "Max results (default from config)")
	cmd.Flags().Float64("recency", -1, "Recency weight in [0,1] (default from config)")

	RootCmd.AddCommand(cmd)
}

func toKinds(values []string) []model.Kind {
	kinds := make([]model.Kind, 0, len(values))
	for _, v := range values {
		kinds = append(kinds, model.Kind(v))
	}
	return kinds
}

func runRetrieve(cmd *cobra.Command, args []string) {
	kinds, _ := cmd.Flags().GetStringSlice("kind")
	topK, _ := cmd.Flags().GetInt("top-k")
	recency, _ := cmd.Flags().GetFloat64("recency")

	s, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer s.Close()

	if recency < 0 {
		recency = s.Config().Retrieval.RecencyWeight
	}
	results, err := s.Memory().Retrieve(cmd.Context(), memory.RetrieveParams{
		UserID:        userFlag,
		Query:         strings.Join(args, " "),
		Kinds:         toKinds(kinds),
		TopK:          topK,
		RecencyWeight: recency,
	})
	if err != nil {
		exitErr("retrieve", err)
	}
	for i := range results {
		results[i].Memory.Embedding = nil
	}
	output(results)
}
