package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/adaptive-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Show one memory",
		Long:  "Show a memory by ID without recording an access.",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	s, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer s.Close()

	m, err := s.Repository().GetMemory(cmd.Context(), args[0])
	if err == nil && m.UserID != userFlag {
		err = fmt.Errorf("%w: memory %s", store.ErrNotFound, args[0])
	}
	if err != nil {
		exitErr("get", err)
	}
	m.Embedding = nil
	output(m)
}
