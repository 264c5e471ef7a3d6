package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/guidecam/internal/corpus"
	"github.com/andresmejia3/guidecam/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB      bool
	resetFiles   bool
	resetPreview bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Database, Captured Frames, Preview)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components. Original guide photographs are never removed.",
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles && !resetPreview {
			resetDB = true
			resetFiles = true
			resetPreview = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if confirm(reader, "⚠️  Are you sure you want to clear the guide database?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Clear(cmd.Context()); err != nil {
					utils.Die("Failed to clear database", err, nil)
				}
				if PG != nil {
					if err := PG.Reset(cmd.Context()); err != nil {
						utils.Die("Failed to reset database", err, nil)
					}
				}
			}
		}

		if resetFiles {
			if confirm(reader, "⚠️  Are you sure you want to delete all captured frames?") {
				fmt.Println("🗑️  Clearing Captured Frames...")
				if err := removeCaptures(cmd.Context(), Cfg.Session.ImageDir); err != nil {
					utils.Die("Failed to drop captured frames from the database", err, nil)
				}
			}
		}

		if resetPreview && Cfg.Session.PreviewPath != "" {
			fmt.Println("🗑️  Clearing Preview...")
			removePath(Cfg.Session.PreviewPath)
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db", false, "Clear the guide database")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Delete frames captured during sessions")
	resetCmd.Flags().BoolVar(&resetPreview, "preview", false, "Delete the preview image")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

// removeCaptures deletes captured frames and drops their corpus records first,
// so no guide is left pointing at a missing file.
func removeCaptures(ctx context.Context, dir string) error {
	captures := capturedFrames(dir)
	gone := make(map[string]bool, len(captures))
	for _, p := range captures {
		gone[p] = true
	}

	var keep []corpus.Record
	recs := DB.Snapshot().Records()
	for _, r := range recs {
		if !gone[r.ID] {
			keep = append(keep, r)
		}
	}
	if len(keep) != len(recs) {
		var err error
		if len(keep) == 0 {
			err = DB.Clear(ctx)
		} else {
			err = DB.Replace(ctx, keep)
		}
		if err != nil {
			return err
		}
	}

	for _, p := range captures {
		removePath(p)
	}
	return nil
}

// capturedFrames lists the images the session saved into dir.
func capturedFrames(dir string) []string {
	matches, _ := filepath.Glob(filepath.Join(dir, "capture_*"))
	return matches
}

func removePath(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
