//go:build govips && cgo

package transform

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/snapcrop/internal/domain"
)

// GovipsStrategy resizes inside libvips without a Go-side decode.
type GovipsStrategy struct{}

func (GovipsStrategy) Name() string { return "govips" }

func (GovipsStrategy) Resize(ctx context.Context, data []byte, target domain.ResizeTarget) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("load source: %w", err)
	}
	defer img.Close()

	if err := img.AutoRotate(); err != nil {
		return nil, fmt.Errorf("auto-rotate: %w", err)
	}
	if img.Width() <= 0 || img.Height() <= 0 {
		return nil, errors.New("source image has invalid dimensions")
	}

	hscale := float64(target.Width) / float64(img.Width())
	vscale := float64(target.Height) / float64(img.Height())
	if err := img.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
		return nil, fmt.Errorf("resize image: %w", err)
	}

	params := vips.NewJpegExportParams()
	params.Quality = JPEGQuality
	out, _, err := img.ExportJpeg(params)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return out, nil
}
