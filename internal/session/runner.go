package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/andresmejia3/guidecam/internal/render"
	"github.com/andresmejia3/guidecam/internal/types"
	"go.uber.org/zap"
)

// FrameSource yields live frames; io.EOF ends the session.
type FrameSource interface {
	ReadFrame() (types.Frame, error)
}

// Runner drives the controller one frame at a time.
type Runner struct {
	ctrl     *Controller
	frames   FrameSource
	input    <-chan string
	renderer render.Renderer
	poll     time.Duration
	logger   *zap.Logger

	notice string
}

func NewRunner(ctrl *Controller, frames FrameSource, input <-chan string, renderer render.Renderer, poll time.Duration, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{ctrl: ctrl, frames: frames, input: input, renderer: renderer, poll: poll, logger: logger}
}

// ReadLines feeds lines from r into the returned channel until r is exhausted
// or ctx is done.
func ReadLines(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case out <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Run loops until the frame source ends, the user quits, or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := r.frames.ReadFrame()
		if errors.Is(err, io.EOF) {
			r.logger.Info("frame source ended")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}

		fb := r.ctrl.Observe(ctx, frame)

		if key, ok := r.nextKey(ctx); ok {
			out := r.dispatch(ctx, key, frame)
			if out.Quit {
				return nil
			}
			r.notice = out.Notice
		}

		r.renderer.Render(frame, r.overlays(fb), r.lines(fb))
	}
}

// nextKey waits up to the poll interval for one input line.
func (r *Runner) nextKey(ctx context.Context) (string, bool) {
	if r.input == nil {
		return "", false
	}
	timer := time.NewTimer(r.poll)
	defer timer.Stop()

	select {
	case key, ok := <-r.input:
		if !ok {
			// Input closed; keep running on frames alone.
			r.input = nil
			return "", false
		}
		return key, true
	case <-timer.C:
	case <-ctx.Done():
	}
	return "", false
}

func (r *Runner) overlays(fb Feedback) render.Overlays {
	o := render.Overlays{Threshold: r.ctrl.opts.Tolerances.Confidence}
	if g, ok := r.ctrl.State().(Guiding); ok {
		o.Target = &g.Target.Pose
		o.Thumbnail = g.Target.Thumbnail
		o.Live = fb.Live
	}
	return o
}

// lines builds the status text for the current state.
func (r *Runner) lines(fb Feedback) []string {
	var lines []string
	switch s := r.ctrl.State().(type) {
	case Searching:
		if len(s.Results) == 0 {
			lines = append(lines, "mode: background search", "s: search  k: add frame  q: quit")
			break
		}
		lines = append(lines, "mode: choose guide", fmt.Sprintf("1-%d: pick  s: search again  r: cancel", min(len(s.Results), 9)))
		for i, res := range s.Results {
			lines = append(lines, fmt.Sprintf("%d. %s (%.3f)", i+1, res.ID, res.Distance))
		}
	case GuideSelected:
		lines = append(lines, "mode: confirm selection", "guide: "+s.Candidate.Result.ID, "c: start guide  r: cancel")
	case GuideConfirmed:
		lines = append(lines, "mode: guide ready", "c: start guide  r: cancel")
	case Guiding:
		lines = append(lines, "mode: live guide",
			"pose: "+fb.Orientation.String(),
			"position: "+fb.Position.String(),
			"r: reset")
	}
	if r.notice != "" {
		lines = append(lines, r.notice)
	}
	return lines
}
