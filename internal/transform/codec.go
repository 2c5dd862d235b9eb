// Package transform implements the image crop and resize pipeline: decode a
// referenced source, transform it on a freshly allocated surface, and encode
// the result as JPEG.
package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	ContentTypeJPEG = "image/jpeg"

	// JPEGQuality matches a 0.9 encoder quality.
	JPEGQuality = 90
)

var (
	ErrDecode             = errors.New("decode image")
	ErrSurfaceUnavailable = errors.New("drawing surface unavailable")
)

// DecodeError reports a source that could not be turned into a bitmap.
type DecodeError struct {
	Ref string
	Err error
}

func (e *DecodeError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("decode image: %v", e.Err)
	}
	return fmt.Sprintf("decode image %s: %v", shortRef(e.Ref), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// Opener resolves a URL-like reference to encoded image bytes.
type Opener interface {
	Open(ctx context.Context, ref string) ([]byte, error)
}

// Result is an encoded transform output.
type Result struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Decode loads the image behind ref.
func Decode(ctx context.Context, opener Opener, ref string) (image.Image, error) {
	data, err := opener.Open(ctx, ref)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &DecodeError{Ref: ref, Err: err}
	}
	img, err := DecodeBytes(data)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Ref = ref
		}
		return nil, err
	}
	return img, nil
}

// DecodeBytes decodes any registered format and applies EXIF orientation.
func DecodeBytes(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: errors.New("empty source")}
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &DecodeError{Err: fmt.Errorf("invalid dimensions %dx%d", b.Dx(), b.Dy())}
	}
	return img, nil
}

// Dimensions reads the pixel size without decoding the whole image.
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, &DecodeError{Err: err}
	}
	return cfg.Width, cfg.Height, nil
}

// EncodeJPEG serializes img at JPEGQuality. Transparent pixels come out black.
func EncodeJPEG(img image.Image) (Result, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Result{}, fmt.Errorf("%w: empty surface", ErrSurfaceUnavailable)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return Result{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return Result{
		Data:        buf.Bytes(),
		ContentType: ContentTypeJPEG,
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}

func shortRef(ref string) string {
	if len(ref) <= 48 {
		return ref
	}
	return ref[:48] + "..."
}
