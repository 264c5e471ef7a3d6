package types

import (
	"errors"
	"math"
	"testing"
)

func TestKeypointNames(t *testing.T) {
	for i := 0; i < NumKeypoints; i++ {
		k := KeypointIndex(i)
		got, ok := ParseKeypoint(k.String())
		if !ok || got != k {
			t.Errorf("ParseKeypoint(%q) = %v, %v; want %v", k.String(), got, ok, k)
		}
	}
	if Nose.String() != "nose" || RightAnkle.String() != "right_ankle" {
		t.Errorf("unexpected names: %s, %s", Nose, RightAnkle)
	}
	if _, ok := ParseKeypoint("tail"); ok {
		t.Error("expected unknown name to fail")
	}
}

func TestNewPoseEstimate(t *testing.T) {
	flat := make([]float64, 51)
	flat[3*int(LeftEar)] = 0.25
	flat[3*int(LeftEar)+1] = 0.75
	flat[3*int(LeftEar)+2] = 0.9

	p, err := NewPoseEstimate(flat)
	if err != nil {
		t.Fatalf("NewPoseEstimate failed: %v", err)
	}
	want := Keypoint{Y: 0.25, X: 0.75, Confidence: 0.9}
	if p.At(LeftEar) != want {
		t.Errorf("LeftEar = %+v, want %+v", p.At(LeftEar), want)
	}

	if _, err := NewPoseEstimate(flat[:50]); !errors.Is(err, ErrPoseShape) {
		t.Errorf("expected ErrPoseShape, got %v", err)
	}
}

func TestNewFeatureVector(t *testing.T) {
	src := []float64{1, 2, 3}
	v, err := NewFeatureVector(src)
	if err != nil {
		t.Fatal(err)
	}
	src[0] = 42
	if v[0] != 1 {
		t.Error("vector must not alias its input")
	}
	if v.Dim() != 3 {
		t.Errorf("Dim = %d, want 3", v.Dim())
	}

	for _, bad := range [][]float64{nil, {math.NaN()}, {1, math.Inf(1)}} {
		if _, err := NewFeatureVector(bad); !errors.Is(err, ErrInvalidVector) {
			t.Errorf("NewFeatureVector(%v) error = %v, want ErrInvalidVector", bad, err)
		}
	}
}
