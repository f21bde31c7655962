package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Show a knowledge item",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	cmd.Flags().Bool("history", false, "Return all versions (oldest first)")
	cmd.Flags().IntP("version", "v", 0, "Specific version number")

	historyCmd := &cobra.Command{
		Use:   "history [id]",
		Short: "List every version of a knowledge item",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			printHistory(cmd, args[0])
		},
	}

	knowledgeCmd.AddCommand(cmd, historyCmd)
}

func runGet(cmd *cobra.Command, args []string) {
	history, _ := cmd.Flags().GetBool("history")
	version, _ := cmd.Flags().GetInt("version")

	if history {
		printHistory(cmd, args[0])
		return
	}

	e := openEngine(cmd)
	defer e.Close()

	item, err := e.Knowledge.GetVersion(cmd.Context(), args[0], version)
	if err != nil {
		exitErr("get", err)
	}
	printJSON(item)
}

func printHistory(cmd *cobra.Command, id string) {
	e := openEngine(cmd)
	defer e.Close()

	versions, err := e.Knowledge.History(cmd.Context(), id)
	if err != nil {
		exitErr("history", err)
	}
	printJSON(versions)
}
