// Package suggest picks the crop rectangle a new editing session starts with.
package suggest

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/snapcrop/internal/domain"
	"github.com/muesli/smartcrop"
)

// Centered returns the largest rectangle with the given aspect ratio that
// fits the image, centred. A nil aspect yields the whole image.
func Centered(d domain.Dimensions, aspect *float64) domain.CropRectangle {
	if aspect == nil || *aspect <= 0 || !d.Valid() {
		return domain.Full(d)
	}

	w := float64(d.Width)
	h := w / *aspect
	if h > float64(d.Height) {
		h = float64(d.Height)
		w = h * *aspect
	}
	w, h = math.Round(w), math.Round(h)

	return domain.CropRectangle{
		X:      math.Floor((float64(d.Width) - w) / 2),
		Y:      math.Floor((float64(d.Height) - h) / 2),
		Width:  w,
		Height: h,
	}
}

// Smart looks for the most interesting region with the requested aspect.
// Free aspect and analyzer failures fall back to Centered.
func Smart(ctx context.Context, img image.Image, aspect *float64) (domain.CropRectangle, error) {
	b := img.Bounds()
	dims := domain.Dimensions{Width: b.Dx(), Height: b.Dy()}
	fallback := Centered(dims, aspect)
	if aspect == nil {
		return fallback, nil
	}

	type outcome struct {
		rect image.Rectangle
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		analyzer := smartcrop.NewAnalyzer(resizer{})
		rect, err := analyzer.FindBestCrop(img, int(fallback.Width), int(fallback.Height))
		done <- outcome{rect: rect, err: err}
	}()

	select {
	case <-ctx.Done():
		return fallback, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return fallback, fmt.Errorf("find best crop: %w", res.err)
		}
		r := res.rect.Intersect(b).Sub(b.Min)
		if r.Empty() {
			return fallback, nil
		}
		return domain.CropRectangle{
			X:      float64(r.Min.X),
			Y:      float64(r.Min.Y),
			Width:  float64(r.Dx()),
			Height: float64(r.Dy()),
		}, nil
	}
}

type resizer struct{}

func (resizer) Resize(img image.Image, width, height uint) image.Image {
	return imaging.Resize(img, int(width), int(height), imaging.Linear)
}
