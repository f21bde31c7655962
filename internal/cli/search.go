package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/brandkeeper/internal/knowledge"
	"github.com/rcliao/brandkeeper/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the knowledge base",
		Long:  "Search knowledge titles, content and tags. With tags, only items carrying one of them match.",
		Run:   runSearch,
	}

	cmd.Flags().StringP("type", "T", "", "Filter by knowledge type")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().Bool("archived", false, "Include archived items")
	cmd.Flags().IntP("limit", "l", 20, "Max results")

	knowledgeCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	kt, _ := cmd.Flags().GetString("type")
	tags, _ := cmd.Flags().GetString("tags")
	archived, _ := cmd.Flags().GetBool("archived")
	limit, _ := cmd.Flags().GetInt("limit")

	e := openEngine(cmd)
	defer e.Close()

	results, err := e.Knowledge.Search(cmd.Context(), knowledge.Query{
		Text:            strings.Join(args, " "),
		Tags:            splitList(tags),
		Type:            model.KnowledgeType(kt),
		IncludeArchived: archived,
		Limit:           limit,
	})
	if err != nil {
		exitErr("search", err)
	}

	if len(results) == 0 {
		fmt.Println("[]")
		return
	}
	printJSON(results)
}
