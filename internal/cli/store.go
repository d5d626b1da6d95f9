package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/adaptive-memory/internal/memory"
	"github.com/rcliao/adaptive-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "store [content]",
		Short: "Store a memory",
		Long:  "Store a memory for the user. Content can be a positional arg or piped via stdin.",
		Run:   runStore,
	}

	cmd.Flags().String("kind", "semantic", "Kind: episodic, semantic, procedural")
	cmd.Flags().Float64P("importance", "i", 0.5, "Importance in [0,1]")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().StringToString("meta", nil, "Metadata as key=value pairs")

	RootCmd.AddCommand(cmd)
}

func runStore(cmd *cobra.Command, args []string) {
	kind, _ := cmd.Flags().GetString("kind")
	importance, _ := cmd.Flags().GetFloat64("importance")
	tags, _ := cmd.Flags().GetString("tags")
	meta, _ := cmd.Flags().GetStringToString("meta")

	content, err := readContent(args)
	if err != nil {
		exitErr("read stdin", err)
	}
	if strings.TrimSpace(content) == "" {
		exitErr("store", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	s, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer s.Close()

	m, err := s.StoreMemory(cmd.Context(), memory.StoreParams{
		UserID:     userFlag,
		Content:    strings.TrimSpace(content),
		Kind:       model.Kind(kind),
		Importance: importance,
		Tags:       splitList(tags),
		Meta:       meta,
	})
	if err != nil {
		exitErr("store", err)
	}
	m.Embedding = nil
	output(m)
}
