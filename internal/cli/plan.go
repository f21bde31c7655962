package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/brandkeeper/internal/model"
	"github.com/rcliao/brandkeeper/internal/reasoning"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Create, run, monitor and adapt content plans",
}

func init() {
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a plan from a template",
		Run:   runPlanCreate,
	}
	createCmd.Flags().StringP("template", "T", "", "Template: creation, revision, validation, collaboration (required)")
	createCmd.Flags().String("title", "", "Plan title")
	createCmd.Flags().String("topic", "", "Topic of the piece")
	createCmd.Flags().String("content-type", "", "Content type, e.g. article or newsletter")
	createCmd.Flags().String("personas", "", "Comma-separated target personas")
	createCmd.Flags().String("content-template", "", "Content template the draft follows")
	createCmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	createCmd.Flags().String("deadline", "", "Deadline (RFC 3339)")
	createCmd.MarkFlagRequired("template")

	showCmd := &cobra.Command{
		Use:   "show [plan-id]",
		Short: "Show a plan, or list plans when no id is given",
		Args:  cobra.MaximumNArgs(1),
		Run:   runPlanShow,
	}
	showCmd.Flags().String("status", "", "Filter the list by plan status")

	startCmd := &cobra.Command{
		Use:   "start [plan-id] [step-id]",
		Short: "Start a ready step",
		Args:  cobra.ExactArgs(2),
		Run:   runPlanStart,
	}

	advanceCmd := &cobra.Command{
		Use:   "advance [plan-id] [step-id]",
		Short: "Report a step's outcome",
		Args:  cobra.ExactArgs(2),
		Run:   runPlanAdvance,
	}
	advanceCmd.Flags().StringP("status", "s", "done", "Outcome: done, failed, skipped")
	advanceCmd.Flags().StringP("note", "m", "", "Note recorded with the transition")

	monitorCmd := &cobra.Command{
		Use:   "monitor [plan-id]",
		Short: "Diagnose a plan's health without changing it",
		Args:  cobra.ExactArgs(1),
		Run:   runPlanMonitor,
	}

	adaptCmd := &cobra.Command{
		Use:   "adapt [plan-id]",
		Short: "Revise a plan's step graph",
		Args:  cobra.ExactArgs(1),
		Run:   runPlanAdapt,
	}
	adaptCmd.Flags().StringP("kind", "k", "", "reschedule, add_parallel_step, modify_dependencies, skip_step, add_quality_check, remediate (required)")
	adaptCmd.Flags().String("step", "", "Target step id")
	adaptCmd.Flags().String("deps", "", "Comma-separated step ids the step depends on")
	adaptCmd.Flags().String("name", "", "Name of the added step")
	adaptCmd.Flags().String("description", "", "Description of the added step")
	adaptCmd.Flags().String("agent", "", "Role that carries out the added step")
	adaptCmd.Flags().Int("estimate", 0, "Estimate in minutes")
	adaptCmd.Flags().Float64("threshold", 0, "Score an added quality gate requires")
	adaptCmd.Flags().String("reason", "", "Why the plan changes")
	adaptCmd.MarkFlagRequired("kind")

	cancelCmd := &cobra.Command{
		Use:   "cancel [plan-id]",
		Short: "Abandon a plan",
		Args:  cobra.ExactArgs(1),
		Run:   runPlanCancel,
	}

	planCmd.AddCommand(createCmd, showCmd, startCmd, advanceCmd, monitorCmd, adaptCmd, cancelCmd)
	RootCmd.AddCommand(planCmd)
}

func runPlanCreate(cmd *cobra.Command, args []string) {
	tt, _ := cmd.Flags().GetString("template")
	title, _ := cmd.Flags().GetString("title")
	topic, _ := cmd.Flags().GetString("topic")
	contentType, _ := cmd.Flags().GetString("content-type")
	personas, _ := cmd.Flags().GetString("personas")
	contentTemplate, _ := cmd.Flags().GetString("content-template")
	tags, _ := cmd.Flags().GetString("tags")
	deadline, _ := cmd.Flags().GetString("deadline")

	tc := model.TaskContext{
		Title:       title,
		Topic:       topic,
		ContentType: contentType,
		Personas:    splitList(personas),
		Template:    contentTemplate,
		Tags:        splitList(tags),
	}
	if deadline != "" {
		d, err := time.Parse(time.RFC3339, deadline)
		if err != nil {
			exitErr("create plan", fmt.Errorf("parse deadline: %w", err))
		}
		tc.Deadline = &d
	}

	e := openEngine(cmd)
	defer e.Close()

	p, err := e.Reasoning.CreatePlan(cmd.Context(), caller(), model.TemplateType(tt), tc)
	if err != nil {
		exitErr("create plan", err)
	}
	printJSON(p)
}

func runPlanShow(cmd *cobra.Command, args []string) {
	status, _ := cmd.Flags().GetString("status")

	e := openEngine(cmd)
	defer e.Close()

	if len(args) == 1 {
		p, err := e.Reasoning.Plan(cmd.Context(), args[0])
		if err != nil {
			exitErr("show plan", err)
		}
		printJSON(p)
		return
	}
	plans, err := e.Reasoning.Plans(cmd.Context(), model.PlanStatus(status))
	if err != nil {
		exitErr("list plans", err)
	}
	printJSON(plans)
}

func runPlanStart(cmd *cobra.Command, args []string) {
	e := openEngine(cmd)
	defer e.Close()

	p, err := e.Reasoning.Start(cmd.Context(), caller().WithPlan(args[0]), args[0], args[1])
	if err != nil {
		exitErr("start", err)
	}
	printJSON(p)
}

func runPlanAdvance(cmd *cobra.Command, args []string) {
	status, _ := cmd.Flags().GetString("status")
	note, _ := cmd.Flags().GetString("note")

	e := openEngine(cmd)
	defer e.Close()

	p, err := e.Reasoning.Advance(cmd.Context(), caller().WithPlan(args[0]), args[0], args[1], reasoning.Outcome{
		Status: model.StepStatus(status),
		Note:   note,
	})
	if err != nil {
		exitErr("advance", err)
	}
	printJSON(p)
}

func runPlanMonitor(cmd *cobra.Command, args []string) {
	e := openEngine(cmd)
	defer e.Close()

	h, err := e.Reasoning.Monitor(cmd.Context(), caller().WithPlan(args[0]), args[0])
	if err != nil {
		exitErr("monitor", err)
	}
	printJSON(h)
}

func runPlanAdapt(cmd *cobra.Command, args []string) {
	kind, _ := cmd.Flags().GetString("kind")
	step, _ := cmd.Flags().GetString("step")
	deps, _ := cmd.Flags().GetString("deps")
	name, _ := cmd.Flags().GetString("name")
	description, _ := cmd.Flags().GetString("description")
	agent, _ := cmd.Flags().GetString("agent")
	estimate, _ := cmd.Flags().GetInt("estimate")
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	reason, _ := cmd.Flags().GetString("reason")

	e := openEngine(cmd)
	defer e.Close()

	p, err := e.Reasoning.Adapt(cmd.Context(), caller().WithPlan(args[0]), args[0], reasoning.AdaptRequest{
		Kind:        reasoning.AdaptKind(kind),
		Reason:      reason,
		StepID:      step,
		DependsOn:   splitList(deps),
		Name:        name,
		Description: description,
		Agent:       model.Role(agent),
		EstimateMin: estimate,
		Threshold:   threshold,
	})
	if err != nil {
		exitErr("adapt", err)
	}
	printJSON(p)
}

func runPlanCancel(cmd *cobra.Command, args []string) {
	e := openEngine(cmd)
	defer e.Close()

	p, err := e.Reasoning.Cancel(cmd.Context(), caller().WithPlan(args[0]), args[0])
	if err != nil {
		exitErr("cancel", err)
	}
	printJSON(p)
}
