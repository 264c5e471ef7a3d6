// Package session runs the interactive guide flow: search the corpus, pick a
// guide, then compare the live pose against it every frame.
package session

import (
	"image"

	"github.com/andresmejia3/guidecam/internal/feedback"
	"github.com/andresmejia3/guidecam/internal/search"
	"github.com/andresmejia3/guidecam/internal/types"
)

// State is one of Searching, GuideSelected, GuideConfirmed or Guiding. Each
// variant carries only the data valid in that state.
type State interface {
	Name() string
	isState()
}

// Searching holds the latest search results; nil or empty means no results.
type Searching struct {
	Results []search.Result
}

// GuideSelected holds a chosen candidate awaiting confirmation.
type GuideSelected struct {
	Results   []search.Result
	Candidate Candidate
}

// GuideConfirmed holds a target ready for live guidance.
type GuideConfirmed struct {
	Results []search.Result
	Target  GuideTarget
}

// Guiding compares every live frame against Target.
type Guiding struct {
	Target GuideTarget
}

func (Searching) Name() string      { return "searching" }
func (GuideSelected) Name() string  { return "guide selected" }
func (GuideConfirmed) Name() string { return "guide confirmed" }
func (Guiding) Name() string        { return "guiding" }

func (Searching) isState()      {}
func (GuideSelected) isState()  {}
func (GuideConfirmed) isState() {}
func (Guiding) isState()        {}

// Candidate is a search result with its image and inferred pose.
type Candidate struct {
	Result search.Result
	Frame  types.Frame
	Pose   types.PoseEstimate
}

// GuideTarget is what live frames are compared against.
type GuideTarget struct {
	ID        string
	Pose      types.PoseEstimate
	Extent    types.Extent
	Thumbnail image.Image
}

// Command is an abstract user request, independent of key bindings.
type Command interface {
	isCommand()
}

type (
	Search        struct{ Query types.FeatureVector }
	SelectGuide   struct{ Index int }
	Confirm       struct{}
	StartGuiding  struct{}
	Cancel        struct{}
	Reset         struct{}
	AddToDatabase struct{ Frame types.Frame }
	Quit          struct{}
)

func (Search) isCommand()        {}
func (SelectGuide) isCommand()   {}
func (Confirm) isCommand()       {}
func (StartGuiding) isCommand()  {}
func (Cancel) isCommand()        {}
func (Reset) isCommand()         {}
func (AddToDatabase) isCommand() {}
func (Quit) isCommand()          {}

// Outcome reports what a command did. Notice is user-facing text.
type Outcome struct {
	Notice string
	Quit   bool
}

// Feedback is the per-frame guidance while Guiding.
type Feedback struct {
	Orientation feedback.Directive
	Position    feedback.Directive
	Live        *types.PoseEstimate
	Active      bool // false outside Guiding
}
