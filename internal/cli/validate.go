package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/brandkeeper/internal/validation"
)

var validateCmd = &cobra.Command{
	Use:   "validate [content]",
	Short: "Score content against the brand rules",
	Long: "Run every validator over content (positional arg or stdin) and record the result. " +
		"With --realtime only the cheap checks run and nothing is recorded. " +
		"With --step the result also advances that validation step of --plan.",
	Run: runValidate,
}

func init() {
	validateCmd.Flags().Bool("realtime", false, "Cheap checks only; nothing is recorded")
	validateCmd.Flags().String("content-id", "", "Identifies the piece across revisions")
	validateCmd.Flags().String("content-type", "", "Content type")
	validateCmd.Flags().String("personas", "", "Comma-separated target personas")
	validateCmd.Flags().String("template", "", "Content template the draft follows")
	validateCmd.Flags().String("sources", "", "Comma-separated source material paths")
	validateCmd.Flags().Bool("ai-assisted", false, "The draft was written with AI help")
	validateCmd.Flags().String("step", "", "Validation step of --plan to advance with the result")

	historyCmd := &cobra.Command{
		Use:   "history [content-id]",
		Short: "Show every recorded validation of a piece, or of --plan",
		Args:  cobra.MaximumNArgs(1),
		Run:   runValidateHistory,
	}

	validateCmd.AddCommand(historyCmd)
	RootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) {
	realtime, _ := cmd.Flags().GetBool("realtime")
	contentID, _ := cmd.Flags().GetString("content-id")
	contentType, _ := cmd.Flags().GetString("content-type")
	personas, _ := cmd.Flags().GetString("personas")
	template, _ := cmd.Flags().GetString("template")
	sources, _ := cmd.Flags().GetString("sources")
	aiAssisted, _ := cmd.Flags().GetBool("ai-assisted")
	step, _ := cmd.Flags().GetString("step")

	content := readContent(args)
	if strings.TrimSpace(content) == "" {
		exitErr("validate", fmt.Errorf("content is required (positional arg or stdin)"))
	}
	if step != "" && planFlag == "" {
		exitErr("validate", fmt.Errorf("--step needs --plan"))
	}

	vc := validation.Context{
		ContentID:       contentID,
		PlanID:          planFlag,
		ContentType:     contentType,
		Personas:        splitList(personas),
		Template:        template,
		SourceMaterials: splitList(sources),
		AIAssisted:      aiAssisted,
	}

	e := openEngine(cmd)
	defer e.Close()

	switch {
	case step != "":
		res, err := e.Reasoning.RunValidationStep(cmd.Context(), caller(), planFlag, step, content, vc)
		if err != nil {
			exitErr("validate", err)
		}
		printJSON(res)
		if !res.Result.Passed {
			e.Close()
			os.Exit(2)
		}
	case realtime:
		res, err := e.Validation.ValidateRealtime(cmd.Context(), caller(), content, vc)
		if err != nil {
			exitErr("validate", err)
		}
		printJSON(res)
	default:
		res, err := e.Validation.Validate(cmd.Context(), caller(), content, vc)
		if err != nil {
			exitErr("validate", err)
		}
		printJSON(res)
		if !res.Passed {
			e.Close()
			os.Exit(2)
		}
	}
}

func runValidateHistory(cmd *cobra.Command, args []string) {
	e := openEngine(cmd)
	defer e.Close()

	var (
		h   *validation.History
		err error
	)
	switch {
	case len(args) == 1:
		h, err = e.Validation.History(cmd.Context(), args[0])
	case planFlag != "":
		h, err = e.Validation.PlanHistory(cmd.Context(), planFlag)
	default:
		exitErr("history", fmt.Errorf("a content id or --plan is required"))
	}
	if err != nil {
		exitErr("history", err)
	}
	printJSON(h)
}
