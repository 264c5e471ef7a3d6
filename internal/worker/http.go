package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/andresmejia3/guidecam/internal/types"
)

// HTTPEngine runs inference through an external model service.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
}

var _ Engine = (*HTTPEngine)(nil)

// NewHTTPEngine targets the service at baseURL. A zero timeout means no limit.
func NewHTTPEngine(baseURL string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type inferenceResponse struct {
	Keypoints [][]float64 `json:"keypoints"`
	Features  []float64   `json:"features"`
	Error     string      `json:"error"`
}

// InferPose posts image to <url>/pose.
func (e *HTTPEngine) InferPose(ctx context.Context, image []byte) (types.PoseEstimate, error) {
	res, err := e.post(ctx, "pose", image)
	if err != nil {
		return types.PoseEstimate{}, err
	}
	flat := make([]float64, 0, len(res.Keypoints)*3)
	for i, kp := range res.Keypoints {
		if len(kp) != 3 {
			return types.PoseEstimate{}, fmt.Errorf("keypoint %d has %d values, want 3", i, len(kp))
		}
		flat = append(flat, kp...)
	}
	return types.NewPoseEstimate(flat)
}

// InferFeature posts image to <url>/feature.
func (e *HTTPEngine) InferFeature(ctx context.Context, image []byte) (types.FeatureVector, error) {
	res, err := e.post(ctx, "feature", image)
	if err != nil {
		return nil, err
	}
	return types.NewFeatureVector(res.Features)
}

// Close releases idle connections.
func (e *HTTPEngine) Close() {
	e.client.CloseIdleConnections()
}

// CheckHealth reports whether the service answers on <url>/health.
func (e *HTTPEngine) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service unhealthy: %d", resp.StatusCode)
	}
	return nil
}

func (e *HTTPEngine) post(ctx context.Context, op string, image []byte) (*inferenceResponse, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(image)); err != nil {
		return nil, fmt.Errorf("copy image data: %w", err)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/"+op, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var res inferenceResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&res)

	if resp.StatusCode != http.StatusOK {
		msg := res.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, &InferenceError{Op: op, Msg: msg}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode response: %w", decodeErr)
	}
	if res.Error != "" {
		return nil, &InferenceError{Op: op, Msg: res.Error}
	}
	return &res, nil
}
