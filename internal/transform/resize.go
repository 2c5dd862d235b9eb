package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/snapcrop/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
)

var ErrResizeFailed = errors.New("resize failed")

// Strategy produces a JPEG of exactly target size from encoded source bytes.
type Strategy interface {
	Name() string
	Resize(ctx context.Context, data []byte, target domain.ResizeTarget) ([]byte, error)
}

// Attempt is the outcome of one strategy: Err is nil on success.
type Attempt struct {
	Strategy string
	Err      error
	Duration time.Duration
}

func (a Attempt) OK() bool {
	return a.Err == nil
}

// Resizer tries its strategies in order and returns the first success.
type Resizer struct {
	strategies []Strategy
	logger     zerolog.Logger
}

func NewResizer(logger zerolog.Logger, strategies ...Strategy) *Resizer {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Resizer{
		strategies: strategies,
		logger:     logger.With().Str("component", "resizer").Logger(),
	}
}

// DefaultStrategies is the build's primary resize path followed by the
// canvas fallback.
func DefaultStrategies() []Strategy {
	return append(primaryStrategies(), CanvasStrategy{})
}

func (r *Resizer) Strategies() []string {
	names := make([]string, 0, len(r.strategies))
	for _, s := range r.strategies {
		names = append(names, s.Name())
	}
	return names
}

func (r *Resizer) Resize(ctx context.Context, data []byte, target domain.ResizeTarget) (Result, []Attempt, error) {
	if err := target.Validate(); err != nil {
		return Result{}, nil, err
	}

	attempts := make([]Attempt, 0, len(r.strategies))
	for _, s := range r.strategies {
		if err := ctx.Err(); err != nil {
			return Result{}, attempts, err
		}

		started := time.Now()
		out, err := runStrategy(ctx, s, data, target)
		if err == nil {
			err = verifySize(out, target)
		}
		attempts = append(attempts, Attempt{Strategy: s.Name(), Err: err, Duration: time.Since(started)})
		if err != nil {
			r.logger.Debug().Err(err).Str("strategy", s.Name()).Msg("resize strategy failed")
			continue
		}

		return Result{
			Data:        out,
			ContentType: ContentTypeJPEG,
			Width:       target.Width,
			Height:      target.Height,
		}, attempts, nil
	}

	errs := []error{ErrResizeFailed}
	for _, a := range attempts {
		errs = append(errs, fmt.Errorf("%s: %w", a.Strategy, a.Err))
	}
	return Result{}, attempts, errors.Join(errs...)
}

func runStrategy(ctx context.Context, s Strategy, data []byte, target domain.ResizeTarget) (out []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("strategy panicked: %v", p)
		}
	}()
	return s.Resize(ctx, data, target)
}

func verifySize(out []byte, target domain.ResizeTarget) error {
	w, h, err := Dimensions(out)
	if err != nil {
		return fmt.Errorf("inspect output: %w", err)
	}
	if w != target.Width || h != target.Height {
		return fmt.Errorf("output is %dx%d, want %dx%d", w, h, target.Width, target.Height)
	}
	return nil
}

// ImagingStrategy resamples with a Lanczos filter.
type ImagingStrategy struct{}

func (ImagingStrategy) Name() string { return "imaging" }

func (ImagingStrategy) Resize(ctx context.Context, data []byte, target domain.ResizeTarget) ([]byte, error) {
	if !surfaceFits(target.Width, target.Height) {
		return nil, ErrSurfaceUnavailable
	}
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode source: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := EncodeJPEG(imaging.Resize(src, target.Width, target.Height, imaging.Lanczos))
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// CanvasStrategy draws the decoded source onto a target-sized surface with
// bilinear smoothing. It is the last resort of the default chain.
type CanvasStrategy struct{}

func (CanvasStrategy) Name() string { return "canvas" }

func (CanvasStrategy) Resize(ctx context.Context, data []byte, target domain.ResizeTarget) ([]byte, error) {
	if !surfaceFits(target.Width, target.Height) {
		return nil, ErrSurfaceUnavailable
	}
	src, err := DecodeBytes(data)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := EncodeJPEG(ScaleImage(src, target))
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// ScaleImage draws src stretched onto a target-sized surface.
func ScaleImage(src image.Image, target domain.ResizeTarget) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, target.Width, target.Height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}
