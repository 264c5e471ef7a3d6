package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/guidecam/internal/config"
	"github.com/andresmejia3/guidecam/internal/imagestore"
	"github.com/andresmejia3/guidecam/internal/session"
	"github.com/andresmejia3/guidecam/internal/utils"
	"github.com/spf13/cobra"
)

var addOpts Options

var addCmd = &cobra.Command{
	Use:   "add <image_path>...",
	Short: "Copy photographs into the image directory and add them as guides",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		cfg := *Cfg
		if addOpts.AddPolicy != "" {
			cfg.Session.AddPolicy = config.AddPolicy(addOpts.AddPolicy)
			if err := cfg.Validate(); err != nil {
				utils.ShowError("Invalid add policy", err, nil)
				return err
			}
		}
		return runAdd(cmd.Context(), args, &cfg, os.Stdout)
	},
}

func init() {
	addCmd.Flags().StringVar(&addOpts.AddPolicy, "add-policy", "", "Pose check for added images: trust or validate")
	rootCmd.AddCommand(addCmd)
}

// runAdd feeds each image through the session's add command so offline and
// live additions follow the same rules.
func runAdd(ctx context.Context, paths []string, cfg *config.Config, out io.Writer) error {
	engines, err := startEngines(ctx, 1, cfg)
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return err
	}
	defer closeEngines(engines)

	images := imagestore.New(cfg.Session.ImageDir)
	ctrl := session.NewController(DB, engines[0], images, session.OptionsFromConfig(cfg), logger)

	for _, p := range paths {
		frame, err := images.Load(p)
		if err != nil {
			fmt.Fprintf(out, "⚠️  %s: %v\n", p, err)
			continue
		}
		res := ctrl.Handle(ctx, session.AddToDatabase{Frame: frame})
		fmt.Fprintf(out, "%s: %s\n", p, res.Notice)
	}
	return nil
}
