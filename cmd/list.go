package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all guides in the database",
	Run: func(cmd *cobra.Command, args []string) {
		runList(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(out io.Writer) {
	snap := DB.Snapshot()
	if snap.Len() == 0 {
		fmt.Fprintln(out, "No guides found in database.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "INDEX\tGUIDE\tDIM")
	fmt.Fprintln(w, "-----\t-----\t---")

	for i := 0; i < snap.Len(); i++ {
		fmt.Fprintf(w, "%d\t%s\t%d\n", i, snap.ID(i), snap.Vector(i).Dim())
	}
	w.Flush()
}
