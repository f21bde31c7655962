package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/brandkeeper/internal/memory"
	"github.com/rcliao/brandkeeper/internal/model"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Role-gated memory store",
}

func init() {
	storeCmd := &cobra.Command{
		Use:   "store [content]",
		Short: "Store a memory",
		Long:  "Store a memory. Content can be a positional arg or piped via stdin.",
		Run:   runMemoryStore,
	}
	storeCmd.Flags().StringP("type", "T", "", "Memory type: episodic, semantic, procedural, brand (required)")
	storeCmd.Flags().StringP("kind", "k", "", "Record kind (default note)")
	storeCmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	storeCmd.Flags().Float64P("importance", "i", 0.5, "Importance in [0,1]")
	storeCmd.MarkFlagRequired("type")

	retrieveCmd := &cobra.Command{
		Use:   "retrieve [query]",
		Short: "Retrieve memories by text and tags",
		Run:   runMemoryRetrieve,
	}
	retrieveCmd.Flags().StringP("types", "T", "", "Comma-separated memory types (default: every type the role may read)")
	retrieveCmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	retrieveCmd.Flags().Float64("min-importance", 0, "Minimum importance")
	retrieveCmd.Flags().Duration("since", 0, "Only entries newer than this (e.g. 72h)")
	retrieveCmd.Flags().IntP("limit", "l", 20, "Max results")

	consolidateCmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Merge low-importance memories that share tags",
		Run:   runMemoryConsolidate,
	}
	consolidateCmd.Flags().StringP("type", "T", "", "Memory type (default: every type the role may consolidate)")

	memoryCmd.AddCommand(storeCmd, retrieveCmd, consolidateCmd)
	RootCmd.AddCommand(memoryCmd)
}

func runMemoryStore(cmd *cobra.Command, args []string) {
	mt, _ := cmd.Flags().GetString("type")
	kind, _ := cmd.Flags().GetString("kind")
	tags, _ := cmd.Flags().GetString("tags")
	importance, _ := cmd.Flags().GetFloat64("importance")

	content := readContent(args)
	if strings.TrimSpace(content) == "" {
		exitErr("store", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	e := openEngine(cmd)
	defer e.Close()

	entry, err := e.Memory.Store(cmd.Context(), caller(), memory.StoreRequest{
		Type:       model.MemoryType(mt),
		Kind:       model.RecordKind(kind),
		Content:    strings.TrimSpace(content),
		Tags:       splitList(tags),
		Importance: importance,
	})
	if err != nil {
		exitErr("store", err)
	}
	printJSON(entry)
}

func runMemoryRetrieve(cmd *cobra.Command, args []string) {
	types, _ := cmd.Flags().GetString("types")
	tags, _ := cmd.Flags().GetString("tags")
	minImportance, _ := cmd.Flags().GetFloat64("min-importance")
	since, _ := cmd.Flags().GetDuration("since")
	limit, _ := cmd.Flags().GetInt("limit")

	q := memory.Query{
		Text:          strings.Join(args, " "),
		Tags:          splitList(tags),
		MinImportance: minImportance,
		Limit:         limit,
	}
	for _, t := range splitList(types) {
		q.Types = append(q.Types, model.MemoryType(t))
	}
	if since > 0 {
		from := time.Now().UTC().Add(-since)
		q.Since = &from
	}

	e := openEngine(cmd)
	defer e.Close()

	entries, err := e.Memory.Retrieve(cmd.Context(), caller(), q)
	if err != nil {
		exitErr("retrieve", err)
	}
	if len(entries) == 0 {
		fmt.Println("[]")
		return
	}
	printJSON(entries)
}

func runMemoryConsolidate(cmd *cobra.Command, args []string) {
	mt, _ := cmd.Flags().GetString("type")

	e := openEngine(cmd)
	defer e.Close()

	if mt != "" {
		sum, err := e.Memory.Consolidate(cmd.Context(), caller(), model.MemoryType(mt))
		if err != nil {
			exitErr("consolidate", err)
		}
		printJSON(sum)
		return
	}
	sums, err := e.Memory.ConsolidateAll(cmd.Context(), caller())
	if err != nil {
		exitErr("consolidate", err)
	}
	printJSON(sums)
}
