package builder

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// ListCandidates returns the image files directly inside dir, sorted by name.
func ListCandidates(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Renumber renames paths to 0001.ext, 0002.ext, ... inside dir, keeping order
// and extensions, and returns the new paths. Files first move to temporary
// names so an existing 0002.jpg is never overwritten by the rename of another.
func Renumber(dir string, paths []string) ([]string, error) {
	tmp := make([]string, len(paths))
	for i, p := range paths {
		tmp[i] = filepath.Join(dir, fmt.Sprintf(".renumber-%d%s", i, filepath.Ext(p)))
		if err := os.Rename(p, tmp[i]); err != nil {
			return nil, fmt.Errorf("rename %s: %w", p, err)
		}
	}

	out := make([]string, len(paths))
	for i, p := range tmp {
		out[i] = filepath.Join(dir, fmt.Sprintf("%04d%s", i+1, filepath.Ext(p)))
		if err := os.Rename(p, out[i]); err != nil {
			return nil, fmt.Errorf("rename %s: %w", p, err)
		}
	}
	return out, nil
}
