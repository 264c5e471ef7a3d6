// Package imagestore reads guide photographs and stores captured frames.
// Identifiers are file paths, the same strings the corpus records.
package imagestore

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/andresmejia3/guidecam/internal/types"
	"github.com/google/uuid"
)

// Store is a directory of guide images.
type Store struct {
	dir string
}

// New returns a store rooted at dir. The directory is created on first Save.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the image directory.
func (s *Store) Dir() string { return s.dir }

// Load reads the image identified by id.
func (s *Store) Load(id string) (types.Frame, error) {
	data, err := os.ReadFile(id)
	if err != nil {
		return types.Frame{}, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return types.Frame{}, fmt.Errorf("decode %s: %w", id, err)
	}
	return types.Frame{JPEG: data, Width: cfg.Width, Height: cfg.Height}, nil
}

// Save writes frame under a fresh unique identifier and returns it.
func (s *Store) Save(frame types.Frame) (string, error) {
	ext := ".jpg"
	if _, format, err := image.DecodeConfig(bytes.NewReader(frame.JPEG)); err == nil && format == "png" {
		ext = ".png"
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", err
	}
	id := filepath.Join(s.dir, "capture_"+uuid.NewString()+ext)
	// O_EXCL so an identifier is never reused.
	f, err := os.OpenFile(id, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(frame.JPEG); err != nil {
		f.Close()
		os.Remove(id)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(id)
		return "", err
	}
	return id, nil
}

// Remove deletes a saved image.
func (s *Store) Remove(id string) error {
	return os.Remove(id)
}
