package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every memory and the access policy as JSON",
		Long:  "Write a snapshot of all memory entries and access rules. The acting role needs read on every memory type.",
		Run:   runExport,
	}

	cmd.Flags().StringP("out", "o", "", "Write to file instead of stdout")

	memoryCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	out, _ := cmd.Flags().GetString("out")

	e := openEngine(cmd)
	defer e.Close()

	blob, err := e.Memory.ExportSnapshot(cmd.Context(), caller())
	if err != nil {
		exitErr("export", err)
	}

	if out != "" {
		if err := os.WriteFile(out, blob, 0o600); err != nil {
			exitErr("write snapshot", err)
		}
		fmt.Printf(`{"ok":true,"path":%q,"bytes":%d}`+"\n", out, len(blob))
		return
	}
	fmt.Println(string(blob))
}
