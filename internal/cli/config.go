package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/adaptive-memory/internal/config"
)

func init() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration (defaults, file, env, flags)",
		Run:   runConfigShow,
	}

	configCmd.AddCommand(showCmd)
	RootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) {
	l := config.NewLoader()
	if _, err := l.Load(configPath, overrides()); err != nil {
		exitErr("load config", err)
	}
	fmt.Print(l.Print())
}
