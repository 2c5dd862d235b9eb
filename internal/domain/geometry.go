package domain

import (
	"errors"
	"fmt"
	"math"
)

const (
	MinRotation = -180.0
	MaxRotation = 180.0

	MinZoom = 1.0
	MaxZoom = 3.0

	MaxResizeDimension = 5000
)

var (
	ErrInvalidDimensions = errors.New("dimensions must be positive")
	ErrDegenerateCrop    = errors.New("crop rectangle must have positive width and height")
)

// Dimensions is the decoded pixel size of an image.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (d Dimensions) Valid() bool {
	return d.Width > 0 && d.Height > 0
}

func (d Dimensions) AspectRatio() float64 {
	if d.Height == 0 {
		return 0
	}
	return float64(d.Width) / float64(d.Height)
}

// CropRectangle is expressed in source pixel space, before rotation is applied.
type CropRectangle struct {
	X      float64 `json:"x" validate:"gte=0"`
	Y      float64 `json:"y" validate:"gte=0"`
	Width  float64 `json:"width" validate:"gt=0"`
	Height float64 `json:"height" validate:"gt=0"`
}

func (r CropRectangle) Validate() error {
	if r.X < 0 || r.Y < 0 {
		return fmt.Errorf("crop offset must not be negative: x=%g y=%g", r.X, r.Y)
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: width=%g height=%g", ErrDegenerateCrop, r.Width, r.Height)
	}
	return nil
}

// Full returns the rectangle that covers the whole image.
func Full(d Dimensions) CropRectangle {
	return CropRectangle{Width: float64(d.Width), Height: float64(d.Height)}
}

// Rotation is a signed angle in degrees.
type Rotation float64

func (r Rotation) Radians() float64 {
	return float64(r) * math.Pi / 180
}

// Wrap folds the angle back into [-180, 180].
func (r Rotation) Wrap() Rotation {
	a := math.Mod(float64(r), 360)
	switch {
	case a > MaxRotation:
		a -= 360
	case a < MinRotation:
		a += 360
	}
	return Rotation(a)
}

// ResizeTarget holds the exact output size of a resize.
type ResizeTarget struct {
	Width  int `json:"width" validate:"min=1,max=5000"`
	Height int `json:"height" validate:"min=1,max=5000"`
}

func (t ResizeTarget) Validate() error {
	if t.Width < 1 || t.Height < 1 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, t.Width, t.Height)
	}
	return nil
}

// LockAspect recomputes the dimension the caller did not change so the
// original aspect ratio is preserved. When both or neither changed, target is
// returned untouched.
func LockAspect(original Dimensions, target ResizeTarget, widthChanged, heightChanged bool) ResizeTarget {
	if !original.Valid() || widthChanged == heightChanged {
		return target
	}

	ratio := original.AspectRatio()
	if widthChanged {
		target.Height = int(math.Round(float64(target.Width) / ratio))
	} else {
		target.Width = int(math.Round(float64(target.Height) * ratio))
	}
	return target
}
