package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"

	"github.com/andresmejia3/guidecam/internal/types"
)

var (
	liveColor   = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	targetColor = color.RGBA{R: 255, G: 0, B: 255, A: 255}
)

// decodeRGBA decodes an encoded image into a fresh RGBA buffer.
func decodeRGBA(data []byte) (*image.RGBA, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if m, ok := src.(*image.RGBA); ok {
		return m, nil
	}
	m := image.NewRGBA(src.Bounds())
	draw.Draw(m, m.Bounds(), src, src.Bounds().Min, draw.Src)
	return m, nil
}

// fillRect paints rect in a solid colour, clipped to the image.
func fillRect(img *image.RGBA, rect image.Rectangle, c color.RGBA) {
	// Clip rect to image bounds to prevent panics
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return
	}
	stride := img.Stride
	pix := img.Pix
	imgMinX, imgMinY := img.Rect.Min.X, img.Rect.Min.Y
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		rowStart := (y-imgMinY)*stride + (rect.Min.X-imgMinX)*4
		for x := 0; x < rect.Dx(); x++ {
			off := rowStart + x*4
			pix[off] = c.R
			pix[off+1] = c.G
			pix[off+2] = c.B
			pix[off+3] = c.A
		}
	}
}

// drawPose marks every keypoint above threshold with a small square.
func drawPose(img *image.RGBA, p *types.PoseEstimate, threshold float64, c color.RGBA) {
	b := img.Bounds()
	r := b.Dx() / 100
	if r < 2 {
		r = 2
	}
	for _, kp := range p {
		if kp.Confidence <= threshold {
			continue
		}
		x := b.Min.X + int(kp.X*float64(b.Dx()))
		y := b.Min.Y + int(kp.Y*float64(b.Dy()))
		fillRect(img, image.Rect(x-r, y-r, x+r+1, y+r+1), c)
	}
}

// scale resizes src to w x h with nearest-neighbour sampling.
func scale(src *image.RGBA, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	sb := src.Bounds()
	for y := 0; y < h; y++ {
		sy := sb.Min.Y + y*sb.Dy()/h
		for x := 0; x < w; x++ {
			sx := sb.Min.X + x*sb.Dx()/w
			so := src.PixOffset(sx, sy)
			do := dst.PixOffset(x, y)
			copy(dst.Pix[do:do+4], src.Pix[so:so+4])
		}
	}
	return dst
}

// Thumbnail renders a guide image scaled to w x h with its pose drawn on top.
func Thumbnail(data []byte, p *types.PoseEstimate, threshold float64, w, h int) (*image.RGBA, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid thumbnail size %dx%d", w, h)
	}
	img, err := decodeRGBA(data)
	if err != nil {
		return nil, err
	}
	thumb := scale(img, w, h)
	if p != nil {
		drawPose(thumb, p, threshold, targetColor)
	}
	return thumb, nil
}
