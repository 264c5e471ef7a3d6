// Package builder turns a directory of guide photographs into corpus records.
package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/andresmejia3/guidecam/internal/corpus"
	"github.com/andresmejia3/guidecam/internal/pose"
	"github.com/andresmejia3/guidecam/internal/worker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Report summarizes one build.
type Report struct {
	Total   int // candidates examined
	Valid   int // kept
	Invalid int // rejected by the pose gate
	Skipped int // unreadable, undecodable or failed inference
}

// Builder runs candidates through a pool of inference engines.
type Builder struct {
	engines    []worker.Engine
	threshold  float64
	logger     *zap.Logger
	OnProgress func() // called once per finished candidate
}

// New returns a builder over engines. Each engine is used by one goroutine at a time.
func New(engines []worker.Engine, threshold float64, logger *zap.Logger) (*Builder, error) {
	if len(engines) == 0 {
		return nil, errors.New("builder needs at least one engine")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{engines: engines, threshold: threshold, logger: logger}, nil
}

type outcome int

const (
	kept outcome = iota
	invalid
	skipped
)

// Build returns the records of every candidate whose pose passes the gate, in
// the order of candidates.
func (b *Builder) Build(ctx context.Context, candidates []string) ([]corpus.Record, Report, error) {
	pool := make(chan worker.Engine, len(b.engines))
	for _, e := range b.engines {
		pool <- e
	}

	// Results land in their input slot so output order is independent of scheduling.
	recs := make([]corpus.Record, len(candidates))
	outcomes := make([]outcome, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(b.engines))
	for i, path := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e := <-pool
			defer func() { pool <- e }()

			rec, out, err := b.process(gctx, e, path)
			if err != nil {
				return err
			}
			recs[i], outcomes[i] = rec, out
			if b.OnProgress != nil {
				b.OnProgress()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Report{}, err
	}

	rep := Report{Total: len(candidates)}
	var out []corpus.Record
	for i, o := range outcomes {
		switch o {
		case kept:
			rep.Valid++
			out = append(out, recs[i])
		case invalid:
			rep.Invalid++
		default:
			rep.Skipped++
		}
	}
	return out, rep, nil
}

// process classifies one candidate. Only a model-side *worker.InferenceError
// skips it; any other engine failure aborts the build.
func (b *Builder) process(ctx context.Context, e worker.Engine, path string) (corpus.Record, outcome, error) {
	log := b.logger.With(zap.String("image", path))

	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("cannot read image, skipping", zap.Error(err))
		return corpus.Record{}, skipped, nil
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		log.Warn("cannot decode image, skipping", zap.Error(err))
		return corpus.Record{}, skipped, nil
	}

	p, err := e.InferPose(ctx, data)
	if err != nil {
		return b.inferenceFailed(log, "pose", path, err)
	}
	if !pose.IsPoseValid(p, b.threshold) {
		log.Debug("pose not valid, excluded")
		return corpus.Record{}, invalid, nil
	}

	vec, err := e.InferFeature(ctx, data)
	if err != nil {
		return b.inferenceFailed(log, "feature", path, err)
	}
	return corpus.Record{Vector: vec, ID: path}, kept, nil
}

func (b *Builder) inferenceFailed(log *zap.Logger, op, path string, err error) (corpus.Record, outcome, error) {
	var ie *worker.InferenceError
	if errors.As(err, &ie) {
		log.Warn(op+" inference failed, skipping", zap.Error(err))
		return corpus.Record{}, skipped, nil
	}
	return corpus.Record{}, skipped, fmt.Errorf("%s inference on %s: %w", op, path, err)
}

func (r Report) String() string {
	return fmt.Sprintf("%d images: %d valid, %d invalid pose, %d skipped", r.Total, r.Valid, r.Invalid, r.Skipped)
}
