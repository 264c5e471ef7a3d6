// Package camera delivers live frames from an ffmpeg MJPEG pipe.
package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"

	"github.com/andresmejia3/guidecam/internal/types"
	"github.com/andresmejia3/guidecam/internal/utils"
)

const megabyte = 1024 * 1024

// Stream splits a byte stream of concatenated JPEGs into frames.
type Stream struct {
	scanner *bufio.Scanner
	next    int
}

// NewStream reads frames from r.
func NewStream(r io.Reader) *Stream {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)
	return &Stream{scanner: scanner}
}

// ReadFrame returns the next decodable frame. io.EOF marks the end of the stream.
func (s *Stream) ReadFrame() (types.Frame, error) {
	for s.scanner.Scan() {
		// The scanner reuses its buffer; frames outlive the next Scan.
		data := append([]byte(nil), s.scanner.Bytes()...)
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			// A marker pair inside garbage, skip it.
			continue
		}
		f := types.Frame{Index: s.next, JPEG: data, Width: cfg.Width, Height: cfg.Height}
		s.next++
		return f, nil
	}
	if err := s.scanner.Err(); err != nil {
		return types.Frame{}, fmt.Errorf("frame scanner failed: %w", err)
	}
	return types.Frame{}, io.EOF
}

// Camera is a running ffmpeg capture process.
type Camera struct {
	*Stream
	cmd *utils.SafeCommand
	out io.ReadCloser
}

// Open starts ffmpeg for the given input.
func Open(ctx context.Context, in utils.FFmpegInput) (*Camera, error) {
	ffmpeg := utils.NewFFmpegCmd(ctx, in)
	out, err := ffmpeg.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := ffmpeg.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	return &Camera{Stream: NewStream(out), cmd: ffmpeg, out: out}, nil
}

// Command exposes the process so callers can report its captured stderr.
func (c *Camera) Command() *utils.SafeCommand { return c.cmd }

// Close stops capture and reaps the process.
func (c *Camera) Close() error {
	c.out.Close()
	if c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	c.cmd.Wait()
	return nil
}
