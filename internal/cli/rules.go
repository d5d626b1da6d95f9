package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/adaptive-memory/internal/model"
)

func init() {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect learned and explicit rules",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the user's rules",
		Run:   runRulesList,
	}

	rulesCmd.AddCommand(listCmd)
	RootCmd.AddCommand(rulesCmd)
}

func runRulesList(cmd *cobra.Command, args []string) {
	s, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer s.Close()

	rules, err := s.Repository().ListRules(cmd.Context(), userFlag)
	if err != nil {
		exitErr("list rules", err)
	}
	if rules == nil {
		rules = []model.Rule{}
	}
	output(rules)
}
