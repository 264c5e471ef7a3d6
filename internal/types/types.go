package types

import (
	"errors"
	"fmt"
	"math"
)

// KeypointIndex is the fixed anatomical index of a body landmark.
type KeypointIndex int

const (
	Nose KeypointIndex = iota
	LeftEye
	RightEye
	LeftEar
	RightEar
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
)

// NumKeypoints is the number of keypoints in every PoseEstimate.
const NumKeypoints = 17

var keypointNames = [NumKeypoints]string{
	"nose", "left_eye", "right_eye", "left_ear", "right_ear",
	"left_shoulder", "right_shoulder", "left_elbow", "right_elbow",
	"left_wrist", "right_wrist", "left_hip", "right_hip",
	"left_knee", "right_knee", "left_ankle", "right_ankle",
}

func (k KeypointIndex) String() string {
	if k < 0 || int(k) >= NumKeypoints {
		return fmt.Sprintf("keypoint(%d)", int(k))
	}
	return keypointNames[k]
}

// ParseKeypoint maps a landmark name such as "left_ear" back to its index.
func ParseKeypoint(name string) (KeypointIndex, bool) {
	for i, n := range keypointNames {
		if n == name {
			return KeypointIndex(i), true
		}
	}
	return 0, false
}

// HeadKeypoints are the landmarks that gate corpus admission and head tilt.
var HeadKeypoints = []KeypointIndex{Nose, LeftEye, RightEye, LeftEar, RightEar}

// ShoulderKeypoints are used for body rotation.
var ShoulderKeypoints = []KeypointIndex{LeftShoulder, RightShoulder}

// Keypoint is a landmark in normalized image coordinates.
type Keypoint struct {
	Y          float64 `json:"y"`
	X          float64 `json:"x"`
	Confidence float64 `json:"confidence"`
}

// PoseEstimate holds the keypoints of one subject, indexed by KeypointIndex.
type PoseEstimate [NumKeypoints]Keypoint

// At returns the keypoint for a landmark.
func (p *PoseEstimate) At(k KeypointIndex) Keypoint { return p[k] }

var ErrPoseShape = errors.New("pose must have 17 keypoints of (y, x, score)")

// NewPoseEstimate builds a pose from the flat [y0, x0, s0, y1, ...] layout
// produced by the pose model.
func NewPoseEstimate(flat []float64) (PoseEstimate, error) {
	var p PoseEstimate
	if len(flat) != NumKeypoints*3 {
		return p, fmt.Errorf("%w: got %d values", ErrPoseShape, len(flat))
	}
	for i := range p {
		p[i] = Keypoint{Y: flat[i*3], X: flat[i*3+1], Confidence: flat[i*3+2]}
	}
	return p, nil
}

// FeatureVector is a background embedding. Its dimension is fixed per corpus.
type FeatureVector []float64

var ErrInvalidVector = errors.New("invalid feature vector")

// NewFeatureVector copies values into a FeatureVector, rejecting empty or
// non-finite input.
func NewFeatureVector(values []float64) (FeatureVector, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidVector)
	}
	v := make(FeatureVector, len(values))
	for i, x := range values {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%w: non-finite value at %d", ErrInvalidVector, i)
		}
		v[i] = x
	}
	return v, nil
}

// Dim returns the vector length.
func (v FeatureVector) Dim() int { return len(v) }

// Frame is a single encoded camera or guide image.
type Frame struct {
	Index  int
	JPEG   []byte
	Width  int
	Height int
}

// Point is a position in pixel space.
type Point struct {
	X float64
	Y float64
}

// Extent is the bounding-box centre and area of a pose. Valid is false when
// too few keypoints were confident to define one.
type Extent struct {
	Center Point
	Size   float64
	Valid  bool
}
