package corpus

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/andresmejia3/guidecam/internal/types"
	"go.uber.org/zap"
)

// fileLayout is the on-disk form: two index-aligned sequences saved as one unit.
type fileLayout struct {
	Dimension int
	Features  [][]float64
	Paths     []string
}

// FilePersister keeps the corpus in a single gob file. Writes go to a
// temporary file that is synced and renamed over the original.
type FilePersister struct {
	path   string
	logger *zap.Logger
	recs   []Record
}

// NewFilePersister returns a persister for path. The file need not exist.
func NewFilePersister(path string, logger *zap.Logger) *FilePersister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FilePersister{path: path, logger: logger}
}

// Path returns the corpus file location.
func (f *FilePersister) Path() string { return f.path }

// Load reads the corpus. A missing or unreadable file yields an empty corpus.
func (f *FilePersister) Load(ctx context.Context) ([]Record, error) {
	file, err := os.Open(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		f.recs = nil
		return nil, nil
	}
	if err != nil {
		f.logger.Warn("corpus unreadable, starting empty", zap.String("path", f.path), zap.Error(err))
		f.recs = nil
		return nil, nil
	}
	defer file.Close()

	var layout fileLayout
	if err := gob.NewDecoder(file).Decode(&layout); err != nil {
		f.logger.Warn("corpus corrupt, starting empty", zap.String("path", f.path), zap.Error(err))
		f.recs = nil
		return nil, nil
	}

	recs, err := layout.records()
	if err != nil {
		f.logger.Warn("corpus inconsistent, starting empty", zap.String("path", f.path), zap.Error(err))
		f.recs = nil
		return nil, nil
	}
	f.recs = recs
	return cloneRecords(recs), nil
}

func (l fileLayout) records() ([]Record, error) {
	if len(l.Features) != len(l.Paths) {
		return nil, fmt.Errorf("%d features for %d paths", len(l.Features), len(l.Paths))
	}
	recs := make([]Record, len(l.Paths))
	for i := range l.Paths {
		if len(l.Features[i]) != l.Dimension {
			return nil, fmt.Errorf("%w: record %d has %d, header says %d", ErrWrongDimension, i, len(l.Features[i]), l.Dimension)
		}
		v, err := types.NewFeatureVector(l.Features[i])
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		recs[i] = Record{Vector: v, ID: l.Paths[i]}
	}
	// Same rules a live corpus enforces: non-empty, unique identifiers.
	if _, err := NewSnapshot(recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Append writes the corpus with rec added.
func (f *FilePersister) Append(ctx context.Context, rec Record) error {
	next := append(cloneRecords(f.recs), rec)
	if err := f.write(next); err != nil {
		return err
	}
	f.recs = next
	return nil
}

// Replace overwrites the corpus with recs.
func (f *FilePersister) Replace(ctx context.Context, recs []Record) error {
	next := cloneRecords(recs)
	if err := f.write(next); err != nil {
		return err
	}
	f.recs = next
	return nil
}

// Clear deletes the corpus file.
func (f *FilePersister) Clear(ctx context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	f.recs = nil
	return nil
}

func (f *FilePersister) write(recs []Record) error {
	layout := fileLayout{
		Features: make([][]float64, len(recs)),
		Paths:    make([]string, len(recs)),
	}
	for i, r := range recs {
		layout.Features[i] = r.Vector
		layout.Paths[i] = r.ID
	}
	if len(recs) > 0 {
		layout.Dimension = recs[0].Vector.Dim()
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	// No-op once renamed.
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(&layout); err != nil {
		tmp.Close()
		return fmt.Errorf("encode corpus: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func cloneRecords(recs []Record) []Record {
	if len(recs) == 0 {
		return nil
	}
	out := make([]Record, len(recs))
	copy(out, recs)
	return out
}
