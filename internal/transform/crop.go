package transform

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/snapcrop/internal/domain"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// MaxSurfacePixels bounds any single drawing surface (16384 x 16384).
const MaxSurfacePixels = 16384 * 16384

// SafeSize is the side of a square surface that holds a w x h image at any
// rotation without clipping.
func SafeSize(w, h int) int {
	longest := math.Max(float64(w), float64(h))
	return 2 * int(math.Ceil((longest/2)*math.Sqrt2))
}

// CropOffset is where the safe surface's origin lands on the output surface
// so that rect's top-left corner ends up at (0, 0).
func CropOffset(safe, w, h int, rect domain.CropRectangle) image.Point {
	half := float64(safe) / 2
	return image.Point{
		X: roundHalfUp(0 - half + float64(w)*0.5 - rect.X),
		Y: roundHalfUp(0 - half + float64(h)*0.5 - rect.Y),
	}
}

// CropImage rotates src about the centre of a safe surface, then extracts
// rect (given in unrotated source coordinates) onto a rect-sized surface.
func CropImage(ctx context.Context, src image.Image, rect domain.CropRectangle, rotation domain.Rotation) (*image.NRGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, &DecodeError{Err: fmt.Errorf("invalid dimensions %dx%d", w, h)}
	}

	// Fractional sizes truncate; only the offset rounds.
	outW, outH := int(rect.Width), int(rect.Height)
	if outW <= 0 || outH <= 0 {
		return nil, fmt.Errorf("%w: crop %dx%d", ErrSurfaceUnavailable, outW, outH)
	}

	safe := SafeSize(w, h)
	if !surfaceFits(safe, safe) || !surfaceFits(outW, outH) {
		return nil, fmt.Errorf("%w: safe=%d crop=%dx%d", ErrSurfaceUnavailable, safe, outW, outH)
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, safe, safe))
	drawRotated(canvas, src, rotation)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := image.NewNRGBA(image.Rect(0, 0, outW, outH))
	offset := CropOffset(safe, w, h, rect)
	draw.Draw(out, out.Bounds(), canvas, image.Pt(-offset.X, -offset.Y), draw.Src)
	return out, nil
}

func drawRotated(canvas *image.NRGBA, src image.Image, rotation domain.Rotation) {
	safe := canvas.Bounds().Dx()
	degrees := math.Mod(float64(rotation), 360)
	if degrees < 0 {
		degrees += 360
	}

	if math.Mod(degrees, 90) == 0 {
		var turned image.Image
		switch int(degrees) {
		case 90:
			turned = imaging.Rotate270(src)
		case 180:
			turned = imaging.Rotate180(src)
		case 270:
			turned = imaging.Rotate90(src)
		default:
			turned = src
		}
		tb := turned.Bounds()
		at := image.Pt((safe-tb.Dx())/2, (safe-tb.Dy())/2)
		draw.Draw(canvas, image.Rectangle{Min: at, Max: at.Add(tb.Size())}, turned, tb.Min, draw.Src)
		return
	}

	b := src.Bounds()
	center := float64(safe) / 2
	// Source pixel p sits at p - Min + (center - size/2) before rotating
	// about center.
	dx := -float64(b.Dx())*0.5 - float64(b.Min.X)
	dy := -float64(b.Dy())*0.5 - float64(b.Min.Y)

	sin, cos := math.Sincos(rotation.Radians())
	s2d := f64.Aff3{
		cos, -sin, cos*dx - sin*dy + center,
		sin, cos, sin*dx + cos*dy + center,
	}
	draw.BiLinear.Transform(canvas, s2d, src, b, draw.Over, nil)
}

func surfaceFits(w, h int) bool {
	return w > 0 && h > 0 && int64(w)*int64(h) <= MaxSurfacePixels
}

// roundHalfUp rounds .5 toward positive infinity.
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
