package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/adaptive-memory/internal/model"
	"github.com/rcliao/adaptive-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories",
		Long:  "List the user's memories, most recently accessed first.",
		Run:   runList,
	}

	cmd.Flags().String("kind", "", "Filter by kind")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Bool("ids-only", false, "Only output kind/id pairs")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	kind, _ := cmd.Flags().GetString("kind")
	limit, _ := cmd.Flags().GetInt("limit")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	s, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer s.Close()

	memories, err := s.Repository().ListMemories(cmd.Context(), store.ListParams{
		UserID: userFlag,
		Kind:   model.Kind(kind),
		Limit:  limit,
	})
	if err != nil {
		exitErr("list", err)
	}

	if idsOnly {
		for _, m := range memories {
			fmt.Printf("%s/%s\n", m.Kind, m.ID)
		}
		return
	}

	for i := range memories {
		memories[i].Embedding = nil
	}
	if memories == nil {
		memories = []model.Memory{}
	}
	output(memories)
}
