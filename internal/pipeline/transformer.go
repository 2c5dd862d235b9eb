package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dunamismax/snapcrop/internal/domain"
	"github.com/dunamismax/snapcrop/internal/storage"
	"github.com/dunamismax/snapcrop/internal/transform"
	"github.com/dunamismax/snapcrop/internal/upload"
)

// Transformer runs the crop and resize transforms on a referenced source.
// *transform.Engine satisfies it.
type Transformer interface {
	Crop(ctx context.Context, ref string, rect domain.CropRectangle, rotation domain.Rotation) (transform.Result, error)
	Resize(ctx context.Context, ref string, target domain.ResizeTarget) (transform.Result, []transform.Attempt, error)
}

func apply(ctx context.Context, t Transformer, ref string, spec domain.TransformSpec) (transform.Result, []transform.Attempt, error) {
	switch strings.ToLower(strings.TrimSpace(spec.Operation)) {
	case domain.OperationCrop:
		res, err := t.Crop(ctx, ref, *spec.Crop, domain.Rotation(spec.Rotation))
		return res, nil, err
	case domain.OperationResize:
		return t.Resize(ctx, ref, *spec.Resize)
	default:
		return transform.Result{}, nil, fmt.Errorf("%w: %s", ErrInvalidOperation, spec.Operation)
	}
}

// IsPermanent reports whether retrying the job could ever succeed.
func IsPermanent(err error) bool {
	for _, target := range []error{
		transform.ErrDecode,
		transform.ErrSurfaceUnavailable,
		transform.ErrResizeFailed,
		domain.ErrInvalidDimensions,
		domain.ErrDegenerateCrop,
		ErrUnsupportedSourceType,
		ErrInvalidOperation,
		ErrNoBackgroundRemover,
		storage.ErrObjectNotFound,
		upload.ErrRejected,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
