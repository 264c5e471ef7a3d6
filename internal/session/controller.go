package session

import (
	"context"
	"fmt"

	"github.com/andresmejia3/guidecam/internal/config"
	"github.com/andresmejia3/guidecam/internal/corpus"
	"github.com/andresmejia3/guidecam/internal/feedback"
	"github.com/andresmejia3/guidecam/internal/pose"
	"github.com/andresmejia3/guidecam/internal/render"
	"github.com/andresmejia3/guidecam/internal/search"
	"github.com/andresmejia3/guidecam/internal/types"
	"github.com/andresmejia3/guidecam/internal/worker"
	"go.uber.org/zap"
)

const noticeUnavailable = "unavailable"

// ImageStore loads guide images and keeps captured frames.
type ImageStore interface {
	Load(id string) (types.Frame, error)
	Save(frame types.Frame) (string, error)
	Remove(id string) error
}

// Options tune the controller.
type Options struct {
	Tolerances      feedback.Tolerances
	TopK            int
	AddPolicy       config.AddPolicy
	ThumbnailWidth  int
	ThumbnailHeight int
}

// OptionsFromConfig extracts the controller settings from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Tolerances:      cfg.Tolerances,
		TopK:            cfg.Search.TopK,
		AddPolicy:       cfg.Session.AddPolicy,
		ThumbnailWidth:  cfg.Session.ThumbnailWidth,
		ThumbnailHeight: cfg.Session.ThumbnailHeight,
	}
}

// Controller owns the session state. It is not safe for concurrent use; the
// runner drives it from a single goroutine.
type Controller struct {
	state  State
	db     *corpus.DB
	engine worker.Engine
	images ImageStore
	opts   Options
	logger *zap.Logger
}

func NewController(db *corpus.DB, engine worker.Engine, images ImageStore, opts Options, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		state:  Searching{},
		db:     db,
		engine: engine,
		images: images,
		opts:   opts,
		logger: logger,
	}
}

// State returns the current state.
func (c *Controller) State() State { return c.state }

// QueryFeature embeds frame for a Search command.
func (c *Controller) QueryFeature(ctx context.Context, frame types.Frame) (types.FeatureVector, error) {
	return c.engine.InferFeature(ctx, frame.JPEG)
}

// Handle applies cmd. Commands that do not apply to the current state are no-ops.
func (c *Controller) Handle(ctx context.Context, cmd Command) Outcome {
	switch cmd := cmd.(type) {
	case Quit:
		return Outcome{Quit: true}
	case AddToDatabase:
		return c.add(ctx, cmd.Frame)
	}

	from := c.state.Name()
	out := c.transition(ctx, cmd)
	if to := c.state.Name(); to != from {
		c.logger.Debug("session transition", zap.String("from", from), zap.String("to", to))
	}
	return out
}

func (c *Controller) transition(ctx context.Context, cmd Command) Outcome {
	switch s := c.state.(type) {
	case Searching:
		switch cmd := cmd.(type) {
		case Search:
			return c.search(ctx, cmd.Query)
		case SelectGuide:
			if cmd.Index < 0 || cmd.Index >= len(s.Results) {
				return Outcome{}
			}
			return c.selectGuide(ctx, s.Results, cmd.Index)
		case Cancel:
			if len(s.Results) > 0 {
				c.state = Searching{}
			}
		}

	case GuideSelected:
		switch cmd.(type) {
		case Confirm:
			return c.confirm(s)
		case Cancel:
			c.state = Searching{Results: s.Results}
		}

	case GuideConfirmed:
		switch cmd.(type) {
		case StartGuiding:
			c.state = Guiding{Target: s.Target}
			return Outcome{Notice: "guiding with " + s.Target.ID}
		case Cancel:
			c.state = Searching{Results: s.Results}
		}

	case Guiding:
		if _, ok := cmd.(Reset); ok {
			c.state = Searching{}
		}
	}
	return Outcome{}
}

func (c *Controller) search(ctx context.Context, query types.FeatureVector) Outcome {
	if c.db.Len() == 0 {
		c.state = Searching{}
		return Outcome{Notice: "database is empty"}
	}
	results, err := c.db.Search(ctx, query, c.opts.TopK)
	if err != nil {
		c.logger.Warn("search failed", zap.Error(err))
		return Outcome{Notice: noticeUnavailable}
	}
	c.state = Searching{Results: results}
	if len(results) == 0 {
		return Outcome{Notice: "no match"}
	}
	return Outcome{Notice: fmt.Sprintf("%d guides found", len(results))}
}

func (c *Controller) selectGuide(ctx context.Context, results []search.Result, i int) Outcome {
	res := results[i]
	frame, err := c.images.Load(res.ID)
	if err != nil {
		c.logger.Warn("cannot load guide image", zap.String("id", res.ID), zap.Error(err))
		return Outcome{Notice: noticeUnavailable}
	}
	p, err := c.engine.InferPose(ctx, frame.JPEG)
	if err != nil {
		c.logger.Warn("guide pose inference failed", zap.String("id", res.ID), zap.Error(err))
		return Outcome{Notice: noticeUnavailable}
	}
	c.state = GuideSelected{Results: results, Candidate: Candidate{Result: res, Frame: frame, Pose: p}}
	return Outcome{Notice: "selected " + res.ID}
}

func (c *Controller) confirm(s GuideSelected) Outcome {
	cand := s.Candidate
	thumb, err := render.Thumbnail(cand.Frame.JPEG, &cand.Pose, c.opts.Tolerances.Confidence, c.opts.ThumbnailWidth, c.opts.ThumbnailHeight)
	if err != nil {
		c.logger.Warn("cannot build guide thumbnail", zap.String("id", cand.Result.ID), zap.Error(err))
		return Outcome{Notice: noticeUnavailable}
	}
	c.state = GuideConfirmed{
		Results: s.Results,
		Target: GuideTarget{
			ID:        cand.Result.ID,
			Pose:      cand.Pose,
			Extent:    pose.CenterAndSize(cand.Pose, cand.Frame.Width, cand.Frame.Height, c.opts.Tolerances.Confidence),
			Thumbnail: thumb,
		},
	}
	return Outcome{}
}

// add stores frame as a new guide. The session state never changes.
func (c *Controller) add(ctx context.Context, frame types.Frame) Outcome {
	vec, err := c.engine.InferFeature(ctx, frame.JPEG)
	if err != nil {
		c.logger.Warn("feature inference failed", zap.Error(err))
		return Outcome{Notice: noticeUnavailable}
	}

	if c.opts.AddPolicy == config.PolicyValidate {
		p, err := c.engine.InferPose(ctx, frame.JPEG)
		if err != nil {
			c.logger.Warn("pose inference failed", zap.Error(err))
			return Outcome{Notice: noticeUnavailable}
		}
		if !pose.IsPoseValid(p, c.opts.Tolerances.Confidence) {
			return Outcome{Notice: "pose not valid, frame not added"}
		}
	}

	id, err := c.images.Save(frame)
	if err != nil {
		c.logger.Error("cannot save captured frame", zap.Error(err))
		return Outcome{Notice: "add failed: " + err.Error()}
	}
	if err := c.db.Append(ctx, corpus.Record{Vector: vec, ID: id}); err != nil {
		c.logger.Error("cannot append to corpus", zap.String("id", id), zap.Error(err))
		if rmErr := c.images.Remove(id); rmErr != nil {
			c.logger.Warn("cannot remove orphaned capture", zap.String("id", id), zap.Error(rmErr))
		}
		return Outcome{Notice: "add failed: " + err.Error()}
	}
	return Outcome{Notice: fmt.Sprintf("added %s (%d guides)", id, c.db.Len())}
}

// Observe compares frame against the target while Guiding.
func (c *Controller) Observe(ctx context.Context, frame types.Frame) Feedback {
	g, ok := c.state.(Guiding)
	if !ok {
		return Feedback{}
	}
	live, err := c.engine.InferPose(ctx, frame.JPEG)
	if err != nil {
		c.logger.Debug("live pose inference failed", zap.Int("frame", frame.Index), zap.Error(err))
		return Feedback{Orientation: feedback.Unavailable, Position: feedback.Unavailable, Active: true}
	}
	tol := c.opts.Tolerances
	return Feedback{
		Orientation: feedback.Orientation(g.Target.Pose, live, tol),
		Position:    feedback.Position(g.Target.Extent, pose.CenterAndSize(live, frame.Width, frame.Height, tol.Confidence), tol),
		Live:        &live,
		Active:      true,
	}
}
