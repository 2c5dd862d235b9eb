package transform

import (
	"context"
	"fmt"

	"github.com/dunamismax/snapcrop/internal/domain"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Engine runs the crop and resize transforms against referenced sources.
type Engine struct {
	opener  Opener
	resizer *Resizer
	logger  zerolog.Logger
	tracer  trace.Tracer
}

func NewEngine(opener Opener, resizer *Resizer, logger zerolog.Logger) *Engine {
	if resizer == nil {
		resizer = NewResizer(logger)
	}
	return &Engine{
		opener:  opener,
		resizer: resizer,
		logger:  logger.With().Str("component", "transform").Logger(),
		tracer:  otel.Tracer("snapcrop/transform"),
	}
}

func (e *Engine) Resizer() *Resizer {
	return e.resizer
}

// Crop decodes ref, rotates it, extracts rect and encodes the result.
func (e *Engine) Crop(ctx context.Context, ref string, rect domain.CropRectangle, rotation domain.Rotation) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "transform.crop")
	defer span.End()
	span.SetAttributes(
		attribute.Float64("crop.width", rect.Width),
		attribute.Float64("crop.height", rect.Height),
		attribute.Float64("crop.rotation", float64(rotation)),
	)

	src, err := Decode(ctx, e.opener, ref)
	if err != nil {
		return Result{}, fail(span, err)
	}

	out, err := CropImage(ctx, src, rect, rotation)
	if err != nil {
		return Result{}, fail(span, err)
	}

	res, err := EncodeJPEG(out)
	if err != nil {
		return Result{}, fail(span, err)
	}

	span.SetAttributes(attribute.Int("result.bytes", len(res.Data)))
	span.SetStatus(codes.Ok, "cropped")
	return res, nil
}

// Resize opens ref and runs the strategy chain.
func (e *Engine) Resize(ctx context.Context, ref string, target domain.ResizeTarget) (Result, []Attempt, error) {
	ctx, span := e.tracer.Start(ctx, "transform.resize")
	defer span.End()
	span.SetAttributes(
		attribute.Int("resize.width", target.Width),
		attribute.Int("resize.height", target.Height),
	)

	data, err := e.opener.Open(ctx, ref)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, nil, fail(span, ctx.Err())
		}
		return Result{}, nil, fail(span, &DecodeError{Ref: ref, Err: err})
	}

	res, attempts, err := e.resizer.Resize(ctx, data, target)
	for i, a := range attempts {
		span.SetAttributes(attribute.String(fmt.Sprintf("resize.attempt.%d", i), a.Strategy))
	}
	if err != nil {
		e.logger.Warn().Err(err).Int("attempts", len(attempts)).Msg("every resize strategy failed")
		return Result{}, attempts, fail(span, err)
	}

	span.SetStatus(codes.Ok, "resized")
	return res, attempts, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
