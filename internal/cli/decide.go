package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/brandkeeper/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "decide [decision-type]",
		Short: "Apply a decision rule and log the decision",
		Long: "Decision types: content_structure, persona_targeting, template_selection, " +
			"revision_approach, brand_compliance, task_prioritization. The decision is logged against --plan; " +
			"the plan itself is not changed.",
		Args: cobra.ExactArgs(1),
		Run:  runDecide,
	}

	cmd.Flags().String("content-type", "", "Content type")
	cmd.Flags().String("complexity", "", "Content complexity: low, medium, high")
	cmd.Flags().String("personas", "", "Comma-separated personas")
	cmd.Flags().String("output-format", "", "Output format for template selection")
	cmd.Flags().String("feedback", "", "Feedback type: general, structural, voice, technical, creative")
	cmd.Flags().Int("revisions", 0, "Revisions made so far")
	cmd.Flags().Float64("score", -1, "Validation score in [0,1]")
	cmd.Flags().Int("critical", 0, "Critical issues found")
	cmd.Flags().String("tasks", "", `Tasks as JSON, e.g. [{"id":"voice","area":"brand_compliance"}]`)
	cmd.Flags().String("deadline", "", "Deadline (RFC 3339)")

	listCmd := &cobra.Command{
		Use:   "decisions [plan-id]",
		Short: "List logged decisions, all of them when no plan is given",
		Args:  cobra.MaximumNArgs(1),
		Run:   runDecisions,
	}

	planCmd.AddCommand(cmd, listCmd)
}

func runDecide(cmd *cobra.Command, args []string) {
	contentType, _ := cmd.Flags().GetString("content-type")
	complexity, _ := cmd.Flags().GetString("complexity")
	personas, _ := cmd.Flags().GetString("personas")
	format, _ := cmd.Flags().GetString("output-format")
	feedback, _ := cmd.Flags().GetString("feedback")
	revisions, _ := cmd.Flags().GetInt("revisions")
	score, _ := cmd.Flags().GetFloat64("score")
	critical, _ := cmd.Flags().GetInt("critical")
	tasks, _ := cmd.Flags().GetString("tasks")
	deadline, _ := cmd.Flags().GetString("deadline")

	dc := model.DecisionContext{
		ContentType:    contentType,
		Complexity:     complexity,
		Personas:       splitList(personas),
		Format:         format,
		FeedbackType:   feedback,
		RevisionCount:  revisions,
		CriticalIssues: critical,
	}
	if cmd.Flags().Changed("score") {
		dc.ValidationScore = &score
	}
	if tasks != "" {
		if err := json.Unmarshal([]byte(tasks), &dc.Tasks); err != nil {
			exitErr("decide", fmt.Errorf("parse tasks: %w", err))
		}
	}
	if deadline != "" {
		d, err := time.Parse(time.RFC3339, deadline)
		if err != nil {
			exitErr("decide", fmt.Errorf("parse deadline: %w", err))
		}
		dc.Deadline = &d
	}

	e := openEngine(cmd)
	defer e.Close()

	d, err := e.Reasoning.Decide(cmd.Context(), caller(), model.DecisionType(args[0]), dc)
	if err != nil {
		exitErr("decide", err)
	}
	printJSON(d)
}

func runDecisions(cmd *cobra.Command, args []string) {
	planID := planFlag
	if len(args) == 1 {
		planID = args[0]
	}

	e := openEngine(cmd)
	defer e.Close()

	ds, err := e.Reasoning.Decisions(cmd.Context(), planID)
	if err != nil {
		exitErr("decisions", err)
	}
	printJSON(ds)
}
