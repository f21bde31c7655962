package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/brandkeeper/internal/store"
	"github.com/rcliao/brandkeeper/internal/validation"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database and validation statistics",
		Run:   runStats,
	}

	memoryCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show memory, plan and ledger counts",
		Run:   runMemoryStats,
	})
	RootCmd.AddCommand(cmd)
}

func runMemoryStats(cmd *cobra.Command, args []string) {
	e := openEngine(cmd)
	defer e.Close()

	stats, err := e.Memory.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}
	printJSON(stats)
}

func runStats(cmd *cobra.Command, args []string) {
	e := openEngine(cmd)
	defer e.Close()

	st, err := e.Memory.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}
	vs, err := e.Validation.Stats(cmd.Context())
	if err != nil {
		exitErr("validation stats", err)
	}

	printJSON(struct {
		Store      *store.Stats      `json:"store"`
		Validation *validation.Stats `json:"validation"`
	}{st, vs})
}
