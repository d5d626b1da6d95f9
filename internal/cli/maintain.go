package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	consolidate := &cobra.Command{
		Use:   "consolidate",
		Short: "Merge near-duplicate memories",
		Run:   runConsolidate,
	}

	forget := &cobra.Command{
		Use:   "forget",
		Short: "Delete stale, unimportant, rarely used memories",
		Run:   runForget,
	}
	forget.Flags().Float64("threshold", 0, "Importance below which entries may be forgotten (default from config)")

	rehearse := &cobra.Command{
		Use:   "rehearse",
		Short: "Rehearse protected memories that are due",
		Long:  "Rehearsal schedules live in the running process, so this only finds work inside serve or after updates in the same run.",
		Run:   runRehearse,
	}

	RootCmd.AddCommand(consolidate, forget, rehearse)
}

func runConsolidate(cmd *cobra.Command, args []string) {
	s, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer s.Close()

	n, err := s.Consolidate(cmd.Context(), userFlag)
	if err != nil {
		exitErr("consolidate", err)
	}
	output(map[string]int{"merged": n})
}

func runForget(cmd *cobra.Command, args []string) {
	threshold, _ := cmd.Flags().GetFloat64("threshold")

	s, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer s.Close()

	n, err := s.Forget(cmd.Context(), userFlag, threshold)
	if err != nil {
		exitErr("forget", err)
	}
	output(map[string]int{"forgotten": n})
}

func runRehearse(cmd *cobra.Command, args []string) {
	s, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer s.Close()

	n, err := s.Rehearse(cmd.Context(), userFlag)
	if err != nil {
		exitErr("rehearse", err)
	}
	output(map[string]int{"rehearsed": n})
}
