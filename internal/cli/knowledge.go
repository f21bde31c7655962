package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/brandkeeper/internal/errs"
	"github.com/rcliao/brandkeeper/internal/knowledge"
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Versioned knowledge base",
}

func init() {
	loadCmd := &cobra.Command{
		Use:   "load [dir...]",
		Short: "Index knowledge source directories",
		Long:  "Index markdown, YAML and text files. Without arguments the configured sources are loaded. Unchanged files keep their version.",
		Run:   runKnowledgeLoad,
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Report broken, stale, circular and drifted dependencies",
		Run:   runKnowledgeCheck,
	}

	rollbackCmd := &cobra.Command{
		Use:   "rollback [id]",
		Short: "Restore an earlier version as a new version",
		Args:  cobra.ExactArgs(1),
		Run:   runKnowledgeRollback,
	}
	rollbackCmd.Flags().IntP("version", "v", 0, "Version to restore (required)")
	rollbackCmd.MarkFlagRequired("version")

	usageCmd := &cobra.Command{
		Use:   "usage [id]",
		Short: "Show or record how knowledge was used",
		Args:  cobra.MaximumNArgs(1),
		Run:   runKnowledgeUsage,
	}
	usageCmd.Flags().Float64("record", 0, "Record a use with this effectiveness in [0,1]")
	usageCmd.Flags().String("content-type", "", "Content type of the recorded use")
	usageCmd.Flags().StringP("tags", "t", "", "Comma-separated tags of the recorded use")

	recommendCmd := &cobra.Command{
		Use:   "recommend",
		Short: "Recommend knowledge that worked in similar contexts",
		Run:   runKnowledgeRecommend,
	}
	recommendCmd.Flags().StringP("tags", "t", "", "Comma-separated context tags")
	recommendCmd.Flags().IntP("limit", "l", 5, "Max results")

	knowledgeCmd.AddCommand(loadCmd, checkCmd, rollbackCmd, usageCmd, recommendCmd)
	RootCmd.AddCommand(knowledgeCmd)
}

func runKnowledgeLoad(cmd *cobra.Command, args []string) {
	e := openEngine(cmd)
	defer e.Close()

	report, err := e.Knowledge.Load(cmd.Context(), args...)
	if err != nil {
		exitErr("load", err)
	}
	printJSON(report)
}

func runKnowledgeCheck(cmd *cobra.Command, args []string) {
	e := openEngine(cmd)
	defer e.Close()

	conflicts, err := e.Knowledge.ValidateConsistency(cmd.Context())
	if len(conflicts) > 0 {
		printJSON(conflicts)
		e.Close()
		os.Exit(1)
	}
	if err != nil {
		exitErr("check", err)
	}
	printJSON([]knowledge.Conflict{})
}

func runKnowledgeRollback(cmd *cobra.Command, args []string) {
	version, _ := cmd.Flags().GetInt("version")

	e := openEngine(cmd)
	defer e.Close()

	item, err := e.Knowledge.Rollback(cmd.Context(), args[0], version)
	if err != nil {
		exitErr("rollback", err)
	}
	printJSON(item)
}

func runKnowledgeUsage(cmd *cobra.Command, args []string) {
	record, _ := cmd.Flags().GetFloat64("record")
	contentType, _ := cmd.Flags().GetString("content-type")
	tags, _ := cmd.Flags().GetString("tags")

	var id string
	if len(args) == 1 {
		id = args[0]
	}

	e := openEngine(cmd)
	defer e.Close()

	if cmd.Flags().Changed("record") {
		if id == "" {
			exitErr("usage", errs.E(errs.KindInvalidInput, "record_usage", "an item id is required"))
		}
		u, err := e.Knowledge.RecordUsage(cmd.Context(), id, knowledge.UsageContext{
			PlanID:        planFlag,
			ContentType:   contentType,
			Tags:          splitList(tags),
			Effectiveness: record,
		})
		if err != nil {
			exitErr("usage", err)
		}
		printJSON(u)
		return
	}

	usage, err := e.Knowledge.Usage(cmd.Context(), id)
	if err != nil {
		exitErr("usage", err)
	}
	printJSON(usage)
}

func runKnowledgeRecommend(cmd *cobra.Command, args []string) {
	tags, _ := cmd.Flags().GetString("tags")
	limit, _ := cmd.Flags().GetInt("limit")

	e := openEngine(cmd)
	defer e.Close()

	recs, err := e.Knowledge.Recommend(cmd.Context(), splitList(tags), limit)
	if err != nil {
		exitErr("recommend", err)
	}
	printJSON(recs)
}
