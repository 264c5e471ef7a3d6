package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/guidecam/internal/builder"
	"github.com/andresmejia3/guidecam/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var buildOpts Options

var buildCmd = &cobra.Command{
	Use:   "build [image_dir]",
	Short: "Build the guide database from a directory of photographs",
	Long:  "Runs every image through pose estimation, keeps those whose pose is valid, and replaces the guide database with their feature vectors.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		opts := buildOpts
		if len(args) == 1 {
			opts.ImageDir = args[0]
		} else {
			opts.ImageDir = Cfg.Session.ImageDir
		}
		if err := validateBuildFlags(&opts); err != nil {
			return err
		}
		return runBuild(cmd.Context(), opts)
	},
}

func init() {
	buildCmd.Flags().IntVarP(&buildOpts.NumEngines, "engines", "e", 1, "Number of parallel engine workers")
	buildCmd.Flags().BoolVar(&buildOpts.Renumber, "renumber", false, "Rename images to 0001.jpg, 0002.jpg, ... before building")
	buildCmd.Flags().BoolVar(&buildOpts.KeepStale, "keep-stale", false, "Keep the existing database when no image is valid")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(ctx context.Context, opts Options) error {
	candidates, err := builder.ListCandidates(opts.ImageDir)
	if err != nil {
		utils.ShowError("Failed to list images", err, nil)
		return err
	}
	if opts.Renumber {
		if candidates, err = builder.Renumber(opts.ImageDir, candidates); err != nil {
			utils.ShowError("Failed to renumber images", err, nil)
			return err
		}
	}
	logger.Info("building guide database", zap.String("dir", opts.ImageDir), zap.Int("candidates", len(candidates)))

	engines, err := startEngines(ctx, opts.NumEngines, Cfg)
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return err
	}
	defer closeEngines(engines)

	b, err := builder.New(engines, Cfg.Tolerances.Confidence, logger)
	if err != nil {
		return err
	}
	bar := progressbar.NewOptions(len(candidates),
		progressbar.OptionSetDescription("🔍 Building guide database"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)
	b.OnProgress = func() { bar.Add(1) }

	records, report, err := b.Build(ctx, candidates)
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		utils.ShowError("Build interrupted", err, nil)
		return err
	}

	switch {
	case len(records) > 0:
		err = DB.Replace(ctx, records)
	case opts.KeepStale:
		fmt.Fprintln(os.Stderr, "⚠️  No valid images; keeping the existing database.")
	default:
		err = DB.Clear(ctx)
	}
	if err != nil {
		utils.ShowError("Failed to save guide database", err, nil)
		return err
	}

	fmt.Fprintf(os.Stderr, "🏁 Build Complete. %s\n", report)
	return nil
}

// validateBuildFlags checks the image directory and clamps the engine count.
func validateBuildFlags(opts *Options) error {
	info, err := os.Stat(opts.ImageDir)
	if err != nil {
		utils.ShowError("Image directory not found", err, nil)
		return err
	}
	if !info.IsDir() {
		err := fmt.Errorf("%s is not a directory", opts.ImageDir)
		utils.ShowError("Invalid image directory", err, nil)
		return err
	}
	if opts.NumEngines < 1 {
		opts.NumEngines = 1
	}
	return nil
}
