package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/guidecam/internal/camera"
	"github.com/andresmejia3/guidecam/internal/config"
	"github.com/andresmejia3/guidecam/internal/imagestore"
	"github.com/andresmejia3/guidecam/internal/render"
	"github.com/andresmejia3/guidecam/internal/session"
	"github.com/andresmejia3/guidecam/internal/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var guideOpts Options

var guideCmd = &cobra.Command{
	Use:   "guide",
	Short: "Start the live camera session",
	Long: `Keys (type and press Enter):
  s    search the database with the current frame
  1-9  choose a guide from the results
  c    confirm the guide and start live guidance
  r    cancel or reset
  k    add the current frame to the database
  q    quit`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		cfg := *Cfg
		if err := validateGuideFlags(&guideOpts, &cfg); err != nil {
			return err
		}
		return runGuide(cmd.Context(), &cfg)
	},
}

func init() {
	guideCmd.Flags().StringVarP(&guideOpts.Input, "input", "i", "", "Camera device or ffmpeg input (default from config)")
	guideCmd.Flags().StringVarP(&guideOpts.Format, "format", "f", "", "ffmpeg input format, e.g. v4l2 or avfoundation")
	guideCmd.Flags().IntVar(&guideOpts.Width, "width", 0, "Capture width")
	guideCmd.Flags().IntVar(&guideOpts.Height, "height", 0, "Capture height")
	guideCmd.Flags().BoolVar(&guideOpts.NoMirror, "no-mirror", false, "Do not mirror the camera image")
	guideCmd.Flags().StringVar(&guideOpts.AddPolicy, "add-policy", "", "Pose check for added frames: trust or validate")
	guideCmd.Flags().IntVarP(&guideOpts.TopK, "top-k", "k", 0, "Number of guides offered per search")
	guideCmd.Flags().StringVarP(&guideOpts.PreviewPath, "preview", "p", "", "Write the annotated frame to this JPEG file")
	rootCmd.AddCommand(guideCmd)
}

func runGuide(ctx context.Context, cfg *config.Config) error {
	engines, err := startEngines(ctx, 1, cfg)
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return err
	}
	defer closeEngines(engines)

	cam, err := camera.Open(ctx, utils.FFmpegInput{
		Format: cfg.Camera.Format,
		Input:  cfg.Camera.Input,
		Width:  cfg.Camera.Width,
		Height: cfg.Camera.Height,
		Mirror: cfg.Camera.Mirror,
	})
	if err != nil {
		utils.ShowError("Failed to open camera", err, nil)
		return err
	}
	defer cam.Close()

	images := imagestore.New(cfg.Session.ImageDir)
	ctrl := session.NewController(DB, engines[0], images, session.OptionsFromConfig(cfg), logger)

	var renderer render.Renderer = render.NewTextRenderer(os.Stdout)
	if cfg.Session.PreviewPath != "" {
		renderer = render.Multi{renderer, render.NewPreviewRenderer(cfg.Session.PreviewPath, 0, logger)}
	}

	fmt.Fprintf(os.Stderr, "📷 Guide session started with %d guides. Type q and Enter to quit.\n", DB.Len())
	runner := session.NewRunner(ctrl, cam, session.ReadLines(ctx, os.Stdin), renderer, cfg.GetInputPoll(), logger)
	if err := runner.Run(ctx); err != nil {
		utils.ShowError("Camera stream failed", err, cam.Command())
		return err
	}
	logger.Info("guide session ended", zap.String("state", ctrl.State().Name()))
	return nil
}

// validateGuideFlags applies flags over cfg and rejects invalid values.
func validateGuideFlags(opts *Options, cfg *config.Config) error {
	if opts.Input != "" {
		cfg.Camera.Input = opts.Input
	}
	if opts.Format != "" {
		cfg.Camera.Format = opts.Format
	}
	if opts.Width != 0 {
		cfg.Camera.Width = opts.Width
	}
	if opts.Height != 0 {
		cfg.Camera.Height = opts.Height
	}
	if opts.NoMirror {
		cfg.Camera.Mirror = false
	}
	if opts.AddPolicy != "" {
		cfg.Session.AddPolicy = config.AddPolicy(opts.AddPolicy)
	}
	if opts.TopK != 0 {
		cfg.Search.TopK = opts.TopK
	}
	if opts.PreviewPath != "" {
		cfg.Session.PreviewPath = opts.PreviewPath
	}

	if err := cfg.Validate(); err != nil {
		utils.ShowError("Invalid guide options", err, nil)
		return err
	}
	return nil
}
