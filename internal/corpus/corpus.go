// Package corpus holds the feature database of guide photographs: index
// aligned feature vectors and identifiers, loaded wholesale and extended only
// by append-then-persist.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/guidecam/internal/search"
	"github.com/andresmejia3/guidecam/internal/types"
	"go.uber.org/zap"
)

var (
	// ErrWrongDimension is returned when a vector doesn't match the corpus dimension.
	ErrWrongDimension = errors.New("wrong vector dimension")
	// ErrDuplicateID is returned when an identifier is already present.
	ErrDuplicateID = errors.New("duplicate identifier")
)

// Record pairs a feature vector with the identifier of its source image.
type Record struct {
	Vector types.FeatureVector
	ID     string
}

// Persister durably stores the corpus. Every mutating call must be durable
// before it returns.
type Persister interface {
	Load(ctx context.Context) ([]Record, error)
	Append(ctx context.Context, rec Record) error
	Replace(ctx context.Context, recs []Record) error
	Clear(ctx context.Context) error
}

// NearestSearcher is implemented by persisters that can rank vectors
// server-side with the same ordering contract as search.Search.
type NearestSearcher interface {
	Nearest(ctx context.Context, query types.FeatureVector, k int) ([]search.Result, error)
}

// Snapshot is an immutable view of the corpus.
type Snapshot struct {
	vectors []types.FeatureVector
	ids     []string
	index   map[string]int
}

// NewSnapshot validates recs and builds a snapshot from them.
func NewSnapshot(recs []Record) (*Snapshot, error) {
	s := &Snapshot{
		vectors: make([]types.FeatureVector, 0, len(recs)),
		ids:     make([]string, 0, len(recs)),
		index:   make(map[string]int, len(recs)),
	}
	for _, r := range recs {
		if err := s.check(r); err != nil {
			return nil, err
		}
		s.index[r.ID] = len(s.ids)
		s.vectors = append(s.vectors, r.Vector)
		s.ids = append(s.ids, r.ID)
	}
	return s, nil
}

func (s *Snapshot) check(r Record) error {
	if r.ID == "" {
		return errors.New("empty identifier")
	}
	if r.Vector.Dim() == 0 {
		return fmt.Errorf("%w: empty vector for %s", ErrWrongDimension, r.ID)
	}
	if d := s.Dimension(); d != 0 && r.Vector.Dim() != d {
		return fmt.Errorf("%w: %s has %d, corpus has %d", ErrWrongDimension, r.ID, r.Vector.Dim(), d)
	}
	if _, dup := s.index[r.ID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)
	}
	return nil
}

func (s *Snapshot) Len() int                         { return len(s.ids) }
func (s *Snapshot) Vector(i int) types.FeatureVector { return s.vectors[i] }
func (s *Snapshot) ID(i int) string                  { return s.ids[i] }

// Dimension is the shared vector length, or 0 for an empty corpus.
func (s *Snapshot) Dimension() int {
	if len(s.vectors) == 0 {
		return 0
	}
	return s.vectors[0].Dim()
}

// Contains reports whether id is present.
func (s *Snapshot) Contains(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Records returns a copy of the snapshot as records.
func (s *Snapshot) Records() []Record {
	out := make([]Record, len(s.ids))
	for i := range s.ids {
		out[i] = Record{Vector: s.vectors[i], ID: s.ids[i]}
	}
	return out
}

// with returns a new snapshot extended by r. s is left untouched.
func (s *Snapshot) with(r Record) (*Snapshot, error) {
	if err := s.check(r); err != nil {
		return nil, err
	}
	n := &Snapshot{
		vectors: append(s.vectors[:len(s.vectors):len(s.vectors)], r.Vector),
		ids:     append(s.ids[:len(s.ids):len(s.ids)], r.ID),
		index:   make(map[string]int, len(s.index)+1),
	}
	for k, v := range s.index {
		n.index[k] = v
	}
	n.index[r.ID] = len(n.ids) - 1
	return n, nil
}

// DB is the live feature database. Readers always observe a complete snapshot.
type DB struct {
	mu     sync.Mutex // serializes writers
	snap   atomic.Pointer[Snapshot]
	p      Persister
	logger *zap.Logger
}

// Open loads the corpus from p.
func Open(ctx context.Context, p Persister, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	recs, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	snap, err := NewSnapshot(recs)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	db := &DB{p: p, logger: logger}
	db.snap.Store(snap)
	logger.Info("corpus loaded", zap.Int("records", snap.Len()), zap.Int("dimension", snap.Dimension()))
	return db, nil
}

// Snapshot returns the current immutable view.
func (d *DB) Snapshot() *Snapshot { return d.snap.Load() }

// Len is shorthand for Snapshot().Len().
func (d *DB) Len() int { return d.Snapshot().Len() }

// Append validates rec, persists it, and only then publishes the extended
// snapshot. On any error the previous snapshot stays current.
func (d *DB) Append(ctx context.Context, rec Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	next, err := d.Snapshot().with(rec)
	if err != nil {
		return err
	}
	if err := d.p.Append(ctx, rec); err != nil {
		return fmt.Errorf("persist %s: %w", rec.ID, err)
	}
	d.snap.Store(next)
	d.logger.Info("corpus record appended", zap.String("id", rec.ID), zap.Int("records", next.Len()))
	return nil
}

// Replace swaps the whole corpus for recs, as the builder does.
func (d *DB) Replace(ctx context.Context, recs []Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	next, err := NewSnapshot(recs)
	if err != nil {
		return err
	}
	if err := d.p.Replace(ctx, recs); err != nil {
		return fmt.Errorf("persist corpus: %w", err)
	}
	d.snap.Store(next)
	return nil
}

// Clear removes every record.
func (d *DB) Clear(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.p.Clear(ctx); err != nil {
		return fmt.Errorf("clear corpus: %w", err)
	}
	empty, _ := NewSnapshot(nil)
	d.snap.Store(empty)
	return nil
}

// Search ranks the corpus against query. Persisters able to search
// server-side are used directly; otherwise the in-memory snapshot is scanned.
func (d *DB) Search(ctx context.Context, query types.FeatureVector, k int) ([]search.Result, error) {
	snap := d.Snapshot()
	if snap.Len() == 0 || k <= 0 {
		return []search.Result{}, nil
	}
	if ns, ok := d.p.(NearestSearcher); ok {
		if query.Dim() != snap.Dimension() {
			return nil, fmt.Errorf("%w: query %d, corpus %d", search.ErrDimensionMismatch, query.Dim(), snap.Dimension())
		}
		return ns.Nearest(ctx, query, k)
	}
	return search.Search(query, snap, k)
}
