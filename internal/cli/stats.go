package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/adaptive-memory/internal/store"
)

func init() {
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show storage and protection statistics for the user",
		Run:   runStats,
	}

	updates := &cobra.Command{
		Use:   "updates",
		Short: "Show audited learning updates, newest first",
		Run:   runUpdates,
	}
	updates.Flags().IntP("limit", "l", 20, "Max records")

	RootCmd.AddCommand(stats, updates)
}

func runStats(cmd *cobra.Command, args []string) {
	s, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer s.Close()

	stats, err := s.Stats(cmd.Context(), userFlag)
	if err != nil {
		exitErr("stats", err)
	}
	output(stats)
}

func runUpdates(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	s, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer s.Close()

	records, err := s.Updates(cmd.Context(), userFlag, limit)
	if err != nil {
		exitErr("updates", err)
	}
	if records == nil {
		records = []store.UpdateRecord{}
	}
	output(records)
}
