package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andresmejia3/guidecam/internal/types"
)

// fakeService answers /pose and /feature the way the model service does.
func fakeService(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/pose", func(w http.ResponseWriter, r *http.Request) {
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, `{"error":"missing file"}`, http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		if string(data) == "garbage" {
			json.NewEncoder(w).Encode(map[string]string{"error": "cannot decode image"})
			return
		}
		kps := make([][]float64, types.NumKeypoints)
		for i := range kps {
			kps[i] = []float64{0.1, 0.2, 0.9}
		}
		json.NewEncoder(w).Encode(map[string]any{"keypoints": kps})
	})
	mux.HandleFunc("/feature", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"features": []float64{1, 0, 0.5}})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPEngine(t *testing.T) {
	srv := fakeService(t)
	e := NewHTTPEngine(srv.URL+"/", 0)
	defer e.Close()
	ctx := context.Background()

	if err := e.CheckHealth(ctx); err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}

	p, err := e.InferPose(ctx, []byte("jpeg"))
	if err != nil {
		t.Fatalf("InferPose failed: %v", err)
	}
	if got := p.At(types.LeftAnkle); got.Confidence != 0.9 || got.X != 0.2 {
		t.Errorf("Unexpected keypoint %+v", got)
	}

	v, err := e.InferFeature(ctx, []byte("jpeg"))
	if err != nil {
		t.Fatalf("InferFeature failed: %v", err)
	}
	if v.Dim() != 3 {
		t.Errorf("Expected 3 dims, got %d", v.Dim())
	}
}

func TestHTTPEngineErrors(t *testing.T) {
	srv := fakeService(t)
	e := NewHTTPEngine(srv.URL, 0)
	defer e.Close()
	ctx := context.Background()

	var ie *InferenceError
	if _, err := e.InferPose(ctx, []byte("garbage")); !errors.As(err, &ie) || ie.Msg != "cannot decode image" {
		t.Errorf("Expected InferenceError from error body, got %v", err)
	}

	missing := NewHTTPEngine(srv.URL+"/nowhere", 0)
	defer missing.Close()
	if _, err := missing.InferFeature(ctx, []byte("jpeg")); !errors.As(err, &ie) || ie.Msg != "status 404" {
		t.Errorf("Expected InferenceError for 404, got %v", err)
	}
}
