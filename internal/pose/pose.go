package pose

import (
	"math"

	"github.com/andresmejia3/guidecam/internal/types"
)

// DefaultConfidenceThreshold is the minimum score for a keypoint to count as detected.
const DefaultConfidenceThreshold = 0.3

// IsPoseValid reports whether the nose, both eyes and both ears were all
// detected above threshold. Only a pose passing this check may become a guide.
func IsPoseValid(p types.PoseEstimate, threshold float64) bool {
	for _, k := range types.HeadKeypoints {
		if p[k].Confidence <= threshold {
			return false
		}
	}
	return true
}

// AllAbove reports whether every listed keypoint exceeds threshold.
func AllAbove(p types.PoseEstimate, threshold float64, keys ...types.KeypointIndex) bool {
	for _, k := range keys {
		if p[k].Confidence <= threshold {
			return false
		}
	}
	return true
}

// CenterAndSize computes the pixel-space bounding box over the confident
// keypoints of p in a width x height frame. At least two keypoints are needed.
func CenterAndSize(p types.PoseEstimate, width, height int, threshold float64) types.Extent {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	n := 0
	for _, kp := range p {
		if kp.Confidence <= threshold {
			continue
		}
		x := kp.X * float64(width)
		y := kp.Y * float64(height)
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
		n++
	}
	if n < 2 {
		return types.Extent{}
	}
	return types.Extent{
		Center: types.Point{X: (minX + maxX) / 2, Y: (minY + maxY) / 2},
		Size:   (maxX - minX) * (maxY - minY),
		Valid:  true,
	}
}
