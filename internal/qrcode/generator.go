// Package qrcode renders the stylized identifier images printed on rental units.
//
// The matrix comes from a standard QR encoder at error correction level H. Data modules
// are drawn as dots and the three position markers as concentric squares whose outer
// ring has rounded corners on the sides facing away from the symbol.
package qrcode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	xdraw "golang.org/x/image/draw"

	"equiprent-backend/internal/logger"
)

const (
	// internal canvas the symbol is drawn on before scaling to the requested size
	canvasSize   = 1100
	canvasMargin = 60

	DefaultOutputSize = 1080
	DefaultLogoRatio  = 0.15

	finderModules = 7
)

// ErrGenerationFailed is returned instead of a panic or a partial image.
var ErrGenerationFailed = errors.New("identifier image generation failed")

type corner uint8

const (
	cornerTopLeft corner = 1 << iota
	cornerTopRight
	cornerBottomLeft
	cornerBottomRight
)

type Options struct {
	OutputSize int
	EmbedLogo  bool
	LogoRatio  float64
}

type Generator struct {
	opts Options
}

func NewGenerator(opts Options) *Generator {
	if opts.OutputSize <= 0 {
		opts.OutputSize = DefaultOutputSize
	}
	if opts.LogoRatio <= 0 || opts.LogoRatio >= 1 {
		opts.LogoRatio = DefaultLogoRatio
	}
	return &Generator{opts: opts}
}

// Generate renders data as a PNG of size x size pixels (the configured default when size <= 0).
// A logo that cannot be decoded is skipped. Any other failure yields ErrGenerationFailed.
func (g *Generator) Generate(data string, logo []byte, size int) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %v", ErrGenerationFailed, r)
		}
	}()

	if data == "" {
		return nil, fmt.Errorf("%w: empty data", ErrGenerationFailed)
	}
	if size <= 0 {
		size = g.opts.OutputSize
	}

	code, err := qr.Encode(data, qr.H, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	img := scale(render(code), size)

	if g.opts.EmbedLogo && len(logo) > 0 {
		if err := overlayLogo(img, logo, g.opts.LogoRatio); err != nil {
			logger.Warn("Skipping identifier logo", "error", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return buf.Bytes(), nil
}

// render draws the matrix onto the fixed-size canvas.
func render(code barcode.Barcode) *image.RGBA {
	count := code.Bounds().Dx()
	canvas := image.NewRGBA(image.Rect(0, 0, canvasSize, canvasSize))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	block := float64(canvasSize-2*canvasMargin) / float64(count)

	for row := 0; row < count; row++ {
		for col := 0; col < count; col++ {
			if inFinder(col, row, count) || !isSet(code, col, row) {
				continue
			}
			cx := canvasMargin + (float64(col)+0.5)*block
			cy := canvasMargin + (float64(row)+0.5)*block
			fillCircle(canvas, cx, cy, block/2, color.Black)
		}
	}

	markers := []struct {
		col, row int
		rounded  corner
	}{
		{0, 0, cornerTopLeft | cornerTopRight | cornerBottomLeft},
		{count - finderModules, 0, cornerTopLeft | cornerTopRight | cornerBottomRight},
		{0, count - finderModules, cornerTopLeft | cornerBottomLeft | cornerBottomRight},
	}
	for _, m := range markers {
		drawFinder(canvas, m.col, m.row, block, m.rounded)
	}
	return canvas
}

// drawFinder paints the 7x7 position marker: black ring, white ring, 3x3 black core.
// Only the outer ring gets rounded corners.
func drawFinder(img *image.RGBA, col, row int, block float64, rounded corner) {
	for layer := 0; layer < 3; layer++ {
		size := float64(finderModules - 2*layer)
		x0 := canvasMargin + float64(col+layer)*block
		y0 := canvasMargin + float64(row+layer)*block
		c := color.Color(color.Black)
		if layer == 1 {
			c = color.White
		}
		var corners corner
		if layer == 0 {
			corners = rounded
		}
		fillRoundedRect(img, x0, y0, x0+size*block, y0+size*block, block, corners, c)
	}
}

func inFinder(col, row, count int) bool {
	left := col < finderModules
	top := row < finderModules
	right := col >= count-finderModules
	bottom := row >= count-finderModules
	return (left && top) || (right && top) || (left && bottom)
}

func isSet(code barcode.Barcode, col, row int) bool {
	r, g, b, _ := code.At(col, row).RGBA()
	return r == 0 && g == 0 && b == 0
}

func fillCircle(img *image.RGBA, cx, cy, radius float64, c color.Color) {
	r2 := radius * radius
	minX, maxX := int(math.Floor(cx-radius)), int(math.Ceil(cx+radius))
	minY, maxY := int(math.Floor(cy-radius)), int(math.Ceil(cy+radius))
	for y := minY; y < maxY; y++ {
		for x := minX; x < maxX; x++ {
			dx := float64(x) + 0.5 - cx
			dy := float64(y) + 0.5 - cy
			if dx*dx+dy*dy <= r2 {
				img.Set(x, y, c)
			}
		}
	}
}

// fillRoundedRect fills [x0,x1)x[y0,y1). Each selected corner is replaced by a quarter
// circle of the given radius.
func fillRoundedRect(img *image.RGBA, x0, y0, x1, y1, radius float64, corners corner, c color.Color) {
	r2 := radius * radius
	for y := int(math.Floor(y0)); y < int(math.Ceil(y1)); y++ {
		py := float64(y) + 0.5
		if py < y0 || py >= y1 {
			continue
		}
		for x := int(math.Floor(x0)); x < int(math.Ceil(x1)); x++ {
			px := float64(x) + 0.5
			if px < x0 || px >= x1 {
				continue
			}
			if outsideCorner(px, py, x0, y0, x1, y1, radius, r2, corners) {
				continue
			}
			img.Set(x, y, c)
		}
	}
}

func outsideCorner(px, py, x0, y0, x1, y1, radius, r2 float64, corners corner) bool {
	check := func(cx, cy float64) bool {
		dx, dy := px-cx, py-cy
		return dx*dx+dy*dy > r2
	}
	switch {
	case corners&cornerTopLeft != 0 && px < x0+radius && py < y0+radius:
		return check(x0+radius, y0+radius)
	case corners&cornerTopRight != 0 && px >= x1-radius && py < y0+radius:
		return check(x1-radius, y0+radius)
	case corners&cornerBottomLeft != 0 && px < x0+radius && py >= y1-radius:
		return check(x0+radius, y1-radius)
	case corners&cornerBottomRight != 0 && px >= x1-radius && py >= y1-radius:
		return check(x1-radius, y1-radius)
	}
	return false
}

func scale(src *image.RGBA, size int) *image.RGBA {
	if size == src.Bounds().Dx() {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// overlayLogo resizes the logo to fit ratio x image width and composites it in the center.
func overlayLogo(img *image.RGBA, data []byte, ratio float64) error {
	logo, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode logo: %w", err)
	}
	lb := logo.Bounds()
	if lb.Dx() == 0 || lb.Dy() == 0 {
		return errors.New("logo has no pixels")
	}

	target := float64(img.Bounds().Dx()) * ratio
	factor := target / math.Max(float64(lb.Dx()), float64(lb.Dy()))
	w := int(math.Max(1, math.Round(float64(lb.Dx())*factor)))
	h := int(math.Max(1, math.Round(float64(lb.Dy())*factor)))

	resized := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(resized, resized.Bounds(), logo, lb, xdraw.Src, nil)

	x := (img.Bounds().Dx() - w) / 2
	y := (img.Bounds().Dy() - h) / 2
	draw.Draw(img, image.Rect(x, y, x+w, y+h), resized, image.Point{}, draw.Over)
	return nil
}
