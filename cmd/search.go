package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/guidecam/internal/imagestore"
	"github.com/andresmejia3/guidecam/internal/search"
	"github.com/andresmejia3/guidecam/internal/utils"
	"github.com/spf13/cobra"
)

var searchOpts Options

var searchCmd = &cobra.Command{
	Use:   "search <image_path>",
	Short: "Find the guides most similar to an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if searchOpts.TopK < 1 {
			searchOpts.TopK = Cfg.Search.TopK
		}
		return runSearch(cmd.Context(), args[0], searchOpts, os.Stdout)
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchOpts.TopK, "top-k", "k", 0, "Number of results (default from config)")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(ctx context.Context, imagePath string, opts Options, out io.Writer) error {
	frame, err := imagestore.New("").Load(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}
	if DB.Len() == 0 {
		fmt.Fprintln(out, "❌ Guide database is empty. Run build first.")
		return nil
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	engines, err := startEngines(ctx, 1, Cfg)
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return err
	}
	defer closeEngines(engines)

	vec, err := engines[0].InferFeature(ctx, frame.JPEG)
	if err != nil {
		utils.ShowError("AI processing failed", err, nil)
		return err
	}

	results, err := DB.Search(ctx, vec, opts.TopK)
	if err != nil {
		utils.ShowError("Database search failed", err, nil)
		return err
	}
	printResults(out, results)
	return nil
}

func printResults(out io.Writer, results []search.Result) {
	if len(results) == 0 {
		fmt.Fprintln(out, "❌ No match found in database.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "RANK\tGUIDE\tDISTANCE")
	fmt.Fprintln(w, "----\t-----\t--------")
	for i, r := range results {
		fmt.Fprintf(w, "%d\t%s\t%.4f\n", i+1, r.ID, r.Distance)
	}
	w.Flush()
}
