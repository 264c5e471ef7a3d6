// Package render presents frames, guide thumbnails and directive text.
package render

import (
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/guidecam/internal/types"
	"go.uber.org/zap"
)

// Overlays are the optional annotations drawn over a frame.
type Overlays struct {
	Live      *types.PoseEstimate
	Target    *types.PoseEstimate
	Thumbnail image.Image
	Threshold float64
}

// Renderer displays one frame. Rendering never fails the session.
type Renderer interface {
	Render(frame types.Frame, overlays Overlays, lines []string)
}

// TextRenderer prints the status lines whenever they change.
type TextRenderer struct {
	w    io.Writer
	last string
}

func NewTextRenderer(w io.Writer) *TextRenderer {
	return &TextRenderer{w: w}
}

func (t *TextRenderer) Render(_ types.Frame, _ Overlays, lines []string) {
	text := strings.Join(lines, " | ")
	if text == t.last {
		return
	}
	t.last = text
	if text != "" {
		fmt.Fprintln(t.w, text)
	}
}

// PreviewRenderer writes the annotated frame to a JPEG file that an image
// viewer can keep open.
type PreviewRenderer struct {
	path    string
	quality int
	logger  *zap.Logger
}

func NewPreviewRenderer(path string, quality int, logger *zap.Logger) *PreviewRenderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &PreviewRenderer{path: path, quality: quality, logger: logger}
}

func (p *PreviewRenderer) Render(frame types.Frame, o Overlays, _ []string) {
	if err := p.write(frame, o); err != nil {
		p.logger.Warn("preview render failed", zap.Int("frame", frame.Index), zap.Error(err))
	}
}

func (p *PreviewRenderer) write(frame types.Frame, o Overlays) error {
	img, err := Annotate(frame, o)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.path), ".preview-*.jpg")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // No-op once renamed.

	if err := jpeg.Encode(tmp, img, &jpeg.Options{Quality: p.quality}); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p.path)
}

const thumbMargin = 20

// Annotate draws the target and live poses and pastes the thumbnail into the
// top-right corner.
func Annotate(frame types.Frame, o Overlays) (*image.RGBA, error) {
	img, err := decodeRGBA(frame.JPEG)
	if err != nil {
		return nil, err
	}
	if o.Target != nil {
		drawPose(img, o.Target, o.Threshold, targetColor)
	}
	if o.Live != nil {
		drawPose(img, o.Live, o.Threshold, liveColor)
	}
	if o.Thumbnail != nil {
		tb := o.Thumbnail.Bounds()
		b := img.Bounds()
		at := image.Pt(b.Max.X-tb.Dx()-thumbMargin, b.Min.Y+thumbMargin)
		draw.Draw(img, image.Rectangle{Min: at, Max: at.Add(tb.Size())}, o.Thumbnail, tb.Min, draw.Src)
	}
	return img, nil
}

// Multi fans a frame out to several renderers.
type Multi []Renderer

func (m Multi) Render(frame types.Frame, o Overlays, lines []string) {
	for _, r := range m {
		r.Render(frame, o, lines)
	}
}
