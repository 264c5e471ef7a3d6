package camera

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"testing"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestStreamReadFrame(t *testing.T) {
	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x01})
	// Marker pair that is not an image.
	stream.Write([]byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9})
	stream.Write(encodeJPEG(t, 32, 24))
	stream.Write(encodeJPEG(t, 16, 8))

	s := NewStream(&stream)

	f, err := s.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if f.Index != 0 || f.Width != 32 || f.Height != 24 {
		t.Errorf("Unexpected first frame %d %dx%d", f.Index, f.Width, f.Height)
	}

	f, err = s.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if f.Index != 1 || f.Width != 16 || f.Height != 8 {
		t.Errorf("Unexpected second frame %d %dx%d", f.Index, f.Width, f.Height)
	}
	if _, _, err := image.Decode(bytes.NewReader(f.JPEG)); err != nil {
		t.Errorf("Frame bytes do not decode: %v", err)
	}

	if _, err := s.ReadFrame(); err != io.EOF {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestStreamEmpty(t *testing.T) {
	s := NewStream(bytes.NewReader(nil))
	if _, err := s.ReadFrame(); err != io.EOF {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}
