// Package feedback turns a target pose and a live pose into short directives
// telling the user how to move. Orientation and position are independent
// channels and are always reported side by side.
package feedback

import (
	"math"

	"github.com/andresmejia3/guidecam/internal/pose"
	"github.com/andresmejia3/guidecam/internal/types"
)

// Directive is a single instruction for one feedback channel.
type Directive int

const (
	Aligned Directive = iota
	Unavailable
	PoseNotRecognizable
	TiltHeadDown
	TiltHeadUp
	RotateBodyLeft
	RotateBodyRight
	PositionNotDeterminable
	MoveBack
	MoveForward
	MoveRight
	MoveLeft
)

var directiveText = map[Directive]string{
	Aligned:                 "aligned",
	Unavailable:             "unavailable",
	PoseNotRecognizable:     "pose not recognizable",
	TiltHeadDown:            "tilt head down",
	TiltHeadUp:              "tilt head up",
	RotateBodyLeft:          "rotate body left",
	RotateBodyRight:         "rotate body right",
	PositionNotDeterminable: "position not determinable (step back so your upper body is visible)",
	MoveBack:                "move back",
	MoveForward:             "move forward",
	MoveRight:               "move right",
	MoveLeft:                "move left",
}

func (d Directive) String() string {
	if s, ok := directiveText[d]; ok {
		return s
	}
	return "unknown"
}

// Tolerances are the dead bands inside which a channel reports Aligned.
type Tolerances struct {
	Confidence float64 `yaml:"confidence"`
	HeadY      float64 `yaml:"head_y"`     // normalized units
	ShoulderX  float64 `yaml:"shoulder_x"` // normalized units
	SizeMax    float64 `yaml:"size_max"`   // target/live area ratio
	SizeMin    float64 `yaml:"size_min"`
	OffsetX    float64 `yaml:"offset_x"` // pixels in the live frame
}

// DefaultTolerances returns the stock thresholds.
func DefaultTolerances() Tolerances {
	return Tolerances{
		Confidence: pose.DefaultConfidenceThreshold,
		HeadY:      0.05,
		ShoulderX:  0.05,
		SizeMax:    1.3,
		SizeMin:    0.7,
		OffsetX:    50,
	}
}

var orientationKeys = append(append([]types.KeypointIndex{}, types.HeadKeypoints...), types.ShoulderKeypoints...)

// Orientation compares head height and shoulder position. Head tilt is
// checked first and short-circuits the shoulder check.
func Orientation(target, live types.PoseEstimate, tol Tolerances) Directive {
	if !pose.AllAbove(target, tol.Confidence, orientationKeys...) ||
		!pose.AllAbove(live, tol.Confidence, orientationKeys...) {
		return PoseNotRecognizable
	}

	dy := meanY(target, types.HeadKeypoints) - meanY(live, types.HeadKeypoints)
	if math.Abs(dy) > tol.HeadY {
		if dy > 0 {
			return TiltHeadDown
		}
		return TiltHeadUp
	}

	dx := meanX(target, types.ShoulderKeypoints) - meanX(live, types.ShoulderKeypoints)
	if math.Abs(dx) > tol.ShoulderX {
		if dx > 0 {
			return RotateBodyLeft
		}
		return RotateBodyRight
	}
	return Aligned
}

// Position compares framing size first, then horizontal offset.
func Position(target, live types.Extent, tol Tolerances) Directive {
	if !target.Valid || !live.Valid {
		return PositionNotDeterminable
	}

	ratio := math.Inf(1)
	if live.Size > 0 {
		ratio = target.Size / live.Size
	}
	if ratio > tol.SizeMax {
		return MoveBack
	}
	if ratio < tol.SizeMin {
		return MoveForward
	}

	dx := target.Center.X - live.Center.X
	if math.Abs(dx) > tol.OffsetX {
		if dx > 0 {
			return MoveRight
		}
		return MoveLeft
	}
	return Aligned
}

func meanY(p types.PoseEstimate, keys []types.KeypointIndex) float64 {
	var sum float64
	for _, k := range keys {
		sum += p[k].Y
	}
	return sum / float64(len(keys))
}

func meanX(p types.PoseEstimate, keys []types.KeypointIndex) float64 {
	var sum float64
	for _, k := range keys {
		sum += p[k].X
	}
	return sum / float64(len(keys))
}
