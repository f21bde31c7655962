package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Replace memory and access policy from a snapshot",
		Long: "Import a snapshot produced by export (file or stdin). Everything is validated before " +
			"anything is replaced. The acting role needs consolidate on every memory type.",
		Args: cobra.MaximumNArgs(1),
		Run:  runImport,
	}

	memoryCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	var (
		data []byte
		err  error
	)
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("read snapshot", err)
	}

	e := openEngine(cmd)
	defer e.Close()

	sum, err := e.Memory.ImportSnapshot(cmd.Context(), caller(), data)
	if err != nil {
		exitErr("import", err)
	}
	printJSON(sum)
}
