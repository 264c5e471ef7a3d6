package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/guidecam/internal/types"
	"github.com/andresmejia3/guidecam/internal/utils" // Using the SafeCommand wrapper
)

// Request opcodes understood by the inference worker.
const (
	opPose    byte = 1
	opFeature byte = 2
)

// Response status bytes.
const (
	statusOK    byte = 0
	statusError byte = 1
	statusReady byte = 2 // sent once after the models load
)

// poseBodyLen is the exact size of a pose reply: 17 x (y, x, score) float32.
const poseBodyLen = types.NumKeypoints * 3 * 4

// ErrWorkerBroken is returned by every call after the pipe lost sync.
var ErrWorkerBroken = errors.New("worker is broken")

// maxFrame bounds a single response to catch a desynchronized stream early.
const maxFrame = 64 * 1024 * 1024

// Engine is the inference collaborator: image in, pose or feature vector out.
type Engine interface {
	InferPose(ctx context.Context, image []byte) (types.PoseEstimate, error)
	InferFeature(ctx context.Context, image []byte) (types.FeatureVector, error)
	Close()
}

// InferenceError is a failure reported by the model itself (bad input, model
// exception) rather than a broken transport.
type InferenceError struct {
	Op  string
	Msg string
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s inference failed: %s", e.Op, e.Msg)
}

// Config controls how the worker process is launched.
type Config struct {
	Python       string
	Script       string
	PoseModel    string
	FeatureModel string
	ReadTimeout  time.Duration
}

// PythonWorker drives one model process over a length-prefixed pipe protocol.
// Calls are serialized; one worker runs one inference at a time.
type PythonWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration

	mu     sync.Mutex
	broken error // first transport failure; the worker is unusable after it
}

var _ Engine = (*PythonWorker)(nil)

// NewPythonWorker starts the model process. Results come back on FD 3 so the
// worker's own stdout/stderr logging can never corrupt the data stream.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	args := []string{"-u", cfg.Script}
	if cfg.PoseModel != "" {
		args = append(args, "--pose-model", cfg.PoseModel)
	}
	if cfg.FeatureModel != "" {
		args = append(args, "--feature-model", cfg.FeatureModel)
	}
	py := utils.NewSafeCommand(ctx, cfg.Python, args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	pw := &PythonWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}
	if err := pw.awaitReady(); err != nil {
		pw.markBroken(err)
		pw.Close()
		return nil, fmt.Errorf("worker %d failed to load models: %w\n%s", id, err, py.Stderr.String())
	}
	return pw, nil
}

// awaitReady blocks until the worker reports its models are loaded.
func (w *PythonWorker) awaitReady() error {
	resp, err := w.readFrame()
	if err != nil {
		return err
	}
	if len(resp) != 1 || resp[0] != statusReady {
		return fmt.Errorf("unexpected handshake %v", resp)
	}
	return nil
}

// InferPose returns the 17 keypoints detected in image.
func (w *PythonWorker) InferPose(ctx context.Context, image []byte) (types.PoseEstimate, error) {
	body, err := w.call(ctx, opPose, image)
	if err != nil {
		return types.PoseEstimate{}, err
	}
	if len(body) != poseBodyLen {
		return types.PoseEstimate{}, fmt.Errorf("decode pose: body is %d bytes, want %d", len(body), poseBodyLen)
	}
	flat, err := readFloats(bytes.NewReader(body), types.NumKeypoints*3)
	if err != nil {
		return types.PoseEstimate{}, fmt.Errorf("decode pose: %w", err)
	}
	return types.NewPoseEstimate(flat)
}

// InferFeature returns the background embedding of image.
func (w *PythonWorker) InferFeature(ctx context.Context, image []byte) (types.FeatureVector, error) {
	body, err := w.call(ctx, opFeature, image)
	if err != nil {
		return nil, err
	}
	rd := bytes.NewReader(body)
	var dim uint32
	if err := binary.Read(rd, binary.BigEndian, &dim); err != nil {
		return nil, fmt.Errorf("decode feature header: %w", err)
	}
	if int64(dim)*4 != int64(rd.Len()) {
		return nil, fmt.Errorf("decode feature: header says %d values, body has %d bytes", dim, rd.Len())
	}
	vals, err := readFloats(rd, int(dim))
	if err != nil {
		return nil, fmt.Errorf("decode feature: %w", err)
	}
	return types.NewFeatureVector(vals)
}

// call sends one request and returns the body of a successful response.
func (w *PythonWorker) call(ctx context.Context, op byte, image []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.broken != nil {
		return nil, fmt.Errorf("worker %d: %w: %v", w.ID, ErrWorkerBroken, w.broken)
	}
	resp, err := w.communicate(op, image)
	if err == nil && len(resp) == 0 {
		err = errors.New("empty response")
	}
	if err != nil {
		w.markBroken(err)
		return nil, fmt.Errorf("worker %d: %w", w.ID, err)
	}

	switch resp[0] {
	case statusOK:
		return resp[1:], nil
	case statusError:
		rd := bytes.NewReader(resp[1:])
		var n uint32
		if err := binary.Read(rd, binary.BigEndian, &n); err != nil || int(n) > rd.Len() {
			return nil, &InferenceError{Op: opName(op), Msg: "malformed error frame"}
		}
		msg := make([]byte, n)
		rd.Read(msg)
		return nil, &InferenceError{Op: opName(op), Msg: string(msg)}
	default:
		err := fmt.Errorf("unknown status byte %d", resp[0])
		w.markBroken(err)
		return nil, fmt.Errorf("worker %d: %w", w.ID, err)
	}
}

// markBroken retires the worker. A late reply to a timed-out request would
// otherwise be read as the answer to the next one. Callers hold w.mu.
func (w *PythonWorker) markBroken(err error) {
	w.broken = err
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
	}
}

func (w *PythonWorker) communicate(op byte, data []byte) ([]byte, error) {
	// Protocol: [Length][Op][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data)+1)); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write([]byte{op}); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}
	return w.readFrame()
}

// readFrame reads one [uint32 len][body] response, honouring ReadTimeout.
func (w *PythonWorker) readFrame() ([]byte, error) {
	if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok && w.ReadTimeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(w.ReadTimeout)); err == nil {
			defer d.SetReadDeadline(time.Time{})
		}
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch a crashed or missing interpreter
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxFrame {
		return nil, fmt.Errorf("response frame too large (%d bytes)", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Close shuts the worker down and waits for the process to exit.
func (w *PythonWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}

func readFloats(r io.Reader, n int) ([]float64, error) {
	raw := make([]float32, n)
	if err := binary.Read(r, binary.BigEndian, raw); err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i, v := range raw {
		if math.IsNaN(float64(v)) {
			return nil, fmt.Errorf("NaN at %d", i)
		}
		out[i] = float64(v)
	}
	return out, nil
}

func opName(op byte) string {
	if op == opPose {
		return "pose"
	}
	return "feature"
}
