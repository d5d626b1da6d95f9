package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/adaptive-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import a snapshot produced by export",
		Long:  "Import a JSON or YAML snapshot from a file or stdin. Files ending in .yaml/.yml are read as YAML; stdin follows --format.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

func decodeSnapshot(data []byte, format string) (*store.Snapshot, error) {
	var snap store.Snapshot
	switch format {
	case "json", "":
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	case "yaml":
		if err := yaml.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
	if snap.Version > store.SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d is newer than supported %d", snap.Version, store.SnapshotVersion)
	}
	return &snap, nil
}

func runImport(cmd *cobra.Command, args []string) {
	format := formatFlag
	var (
		data []byte
		err  error
	)
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
		switch strings.ToLower(filepath.Ext(args[0])) {
		case ".yaml", ".yml":
			format = "yaml"
		case ".json":
			format = "json"
		}
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("read snapshot", err)
	}

	snap, err := decodeSnapshot(data, format)
	if err != nil {
		exitErr("import", err)
	}
	if snap.UserID == "" {
		snap.UserID = userFlag
	}

	s, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer s.Close()

	res, err := s.Import(cmd.Context(), snap)
	if err != nil {
		exitErr("import", err)
	}
	output(map[string]any{"ok": true, "imported": res})
}
