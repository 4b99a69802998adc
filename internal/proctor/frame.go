package proctor

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Frame is an off-screen RGBA pixel buffer at the video's native
// resolution. Pix holds 4 bytes per pixel, row-major, no padding.
type Frame struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewFrame allocates a black, fully transparent frame.
func NewFrame(width, height int) *Frame {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Frame{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*4),
	}
}

// RGB returns the color channels of the pixel at (x, y).
func (f *Frame) RGB(x, y int) (r, g, b uint8) {
	i := (y*f.Width + x) * 4
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// Set paints the pixel at (x, y) opaque.
func (f *Frame) Set(x, y int, r, g, b uint8) {
	i := (y*f.Width + x) * 4
	f.Pix[i] = r
	f.Pix[i+1] = g
	f.Pix[i+2] = b
	f.Pix[i+3] = 0xff
}

// Fill paints the rectangle [x0,x1)×[y0,y1), clipped to the frame.
func (f *Frame) Fill(x0, y0, x1, y1 int, r, g, b uint8) {
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, f.Width), min(y1, f.Height)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			f.Set(x, y, r, g, b)
		}
	}
}

// PixelCount is the number of pixels in the frame.
func (f *Frame) PixelCount() int {
	return f.Width * f.Height
}

// FrameFromImage copies img into a new frame of the same size.
func FrameFromImage(img image.Image) *Frame {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return &Frame{
		Width:  b.Dx(),
		Height: b.Dy(),
		Pix:    rgba.Pix,
	}
}

// Frames larger than twice the requested camera resolution are refused
// before any pixel buffer is allocated.
const (
	MaxFrameWidth  = 2560
	MaxFrameHeight = 1440
)

// DecodeFrame decodes a JPEG, PNG or WebP snapshot. The header is checked
// first so a small payload cannot claim a huge image.
func DecodeFrame(data []byte) (*Frame, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame header: %w", err)
	}
	if cfg.Width > MaxFrameWidth || cfg.Height > MaxFrameHeight {
		return nil, fmt.Errorf("%w: %dx%d", ErrFrameTooLarge, cfg.Width, cfg.Height)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	f := FrameFromImage(img)
	if f.PixelCount() == 0 {
		return nil, fmt.Errorf("decode frame: empty %s image", format)
	}
	return f, nil
}
