package session

import (
	"context"

	"github.com/andresmejia3/guidecam/internal/types"
	"go.uber.org/zap"
)

// Key bindings. Digits 1-9 select a search result.
const (
	KeySearch = "s"
	KeyAccept = "c"
	KeyCancel = "r"
	KeyAdd    = "k"
	KeyQuit   = "q"
)

// commands translates a key into controller commands. Search runs feature
// inference on the current frame first.
func (r *Runner) commands(ctx context.Context, key string, frame types.Frame) ([]Command, Outcome) {
	switch key {
	case KeySearch:
		q, err := r.ctrl.QueryFeature(ctx, frame)
		if err != nil {
			r.logger.Warn("query inference failed", zap.Error(err))
			return nil, Outcome{Notice: noticeUnavailable}
		}
		return []Command{Search{Query: q}}, Outcome{}
	case KeyAccept:
		// Confirming goes straight into guidance.
		return []Command{Confirm{}, StartGuiding{}}, Outcome{}
	case KeyCancel:
		if _, ok := r.ctrl.State().(Guiding); ok {
			return []Command{Reset{}}, Outcome{}
		}
		return []Command{Cancel{}}, Outcome{}
	case KeyAdd:
		return []Command{AddToDatabase{Frame: frame}}, Outcome{}
	case KeyQuit:
		return []Command{Quit{}}, Outcome{}
	}
	if len(key) == 1 && key[0] >= '1' && key[0] <= '9' {
		return []Command{SelectGuide{Index: int(key[0] - '1')}}, Outcome{}
	}
	return nil, Outcome{}
}

// dispatch handles every command bound to key and merges their outcomes.
func (r *Runner) dispatch(ctx context.Context, key string, frame types.Frame) Outcome {
	cmds, out := r.commands(ctx, key, frame)
	for _, cmd := range cmds {
		o := r.ctrl.Handle(ctx, cmd)
		if o.Notice != "" {
			out.Notice = o.Notice
		}
		if o.Quit {
			out.Quit = true
			break
		}
	}
	return out
}
