package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/adaptive-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the user's memories, preferences and rules",
		Long:  "Write a snapshot of everything stored for the user as JSON or YAML (-f yaml) to stdout or --out.",
		Run:   runExport,
	}

	cmd.Flags().StringP("out", "o", "", "Write to file instead of stdout")

	RootCmd.AddCommand(cmd)
}

func encodeSnapshot(snap *store.Snapshot, format string) ([]byte, error) {
	switch format {
	case "json", "":
		return json.MarshalIndent(snap, "", "  ")
	case "yaml":
		return yaml.Marshal(snap)
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

func runExport(cmd *cobra.Command, args []string) {
	out, _ := cmd.Flags().GetString("out")

	s, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer s.Close()

	snap, err := s.Export(cmd.Context(), userFlag)
	if err != nil {
		exitErr("export", err)
	}
	b, err := encodeSnapshot(snap, formatFlag)
	if err != nil {
		exitErr("export", err)
	}

	if out == "" {
		fmt.Println(string(b))
		return
	}
	if err := os.WriteFile(out, b, 0o644); err != nil {
		exitErr("write export", err)
	}
}
