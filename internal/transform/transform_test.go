package transform

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/dunamismax/snapcrop/internal/blob"
	"github.com/dunamismax/snapcrop/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	red    = color.NRGBA{R: 230, G: 20, B: 20, A: 255}
	green  = color.NRGBA{R: 20, G: 200, B: 40, A: 255}
	blue   = color.NRGBA{R: 20, G: 40, B: 220, A: 255}
	yellow = color.NRGBA{R: 240, G: 220, B: 20, A: 255}
)

func TestSafeSize(t *testing.T) {
	assert.Equal(t, 1416, SafeSize(1000, 1000))
	assert.Equal(t, 2264, SafeSize(1600, 900))
	assert.Equal(t, 2264, SafeSize(900, 1600))
	assert.Equal(t, 4, SafeSize(1, 1))
}

func TestCropOffset(t *testing.T) {
	off := CropOffset(1416, 1000, 1000, domain.CropRectangle{X: 0, Y: 0, Width: 10, Height: 10})
	assert.Equal(t, image.Pt(-208, -208), off)

	off = CropOffset(1416, 1000, 1000, domain.CropRectangle{X: 100, Y: 50, Width: 10, Height: 10})
	assert.Equal(t, image.Pt(-308, -258), off)
}

func TestCropIdentityRectangle(t *testing.T) {
	for _, size := range []image.Point{{240, 120}, {121, 77}} {
		src := gradient(size.X, size.Y)
		out, err := CropImage(context.Background(), src, domain.Full(domain.Dimensions{Width: size.X, Height: size.Y}), 0)
		require.NoError(t, err)
		require.Equal(t, size, out.Bounds().Size())

		for y := 0; y < size.Y; y++ {
			for x := 0; x < size.X; x++ {
				require.Equal(t, src.NRGBAAt(x, y), out.NRGBAAt(x, y), "pixel %d,%d", x, y)
			}
		}
	}
}

func TestEngineCropIdentitySurvivesJPEG(t *testing.T) {
	reg := blob.NewRegistry()
	src := gradient(240, 120)
	ref := reg.Create(encodePNG(t, src), "image/png")

	engine := NewEngine(reg, nil, zerolog.Nop())
	res, err := engine.Crop(context.Background(), ref, domain.CropRectangle{Width: 240, Height: 120}, 0)
	require.NoError(t, err)
	assert.Equal(t, ContentTypeJPEG, res.ContentType)

	decoded := decodeResult(t, res)
	require.Equal(t, image.Pt(240, 120), decoded.Bounds().Size())
	assert.Less(t, meanAbsDiff(src, decoded), 4.0)
}

func TestCropDimensionContract(t *testing.T) {
	src := gradient(300, 200)
	rects := []domain.CropRectangle{
		{X: 0, Y: 0, Width: 300, Height: 200},
		{X: 10, Y: 20, Width: 50, Height: 80},
		{X: 250, Y: 150, Width: 120, Height: 90},
		{X: 0, Y: 0, Width: 1, Height: 1},
	}
	for _, rot := range []domain.Rotation{0, 17, -45, 90, 180, -90, 135.5} {
		for _, rect := range rects {
			out, err := CropImage(context.Background(), src, rect, rot)
			require.NoError(t, err)
			assert.Equal(t, image.Pt(int(rect.Width), int(rect.Height)), out.Bounds().Size(), "rect=%+v rot=%v", rect, rot)
		}
	}
}

func TestCropFractionalRectangleTruncatesSize(t *testing.T) {
	src := gradient(300, 200)
	cases := []struct {
		rect domain.CropRectangle
		want image.Point
	}{
		{domain.CropRectangle{X: 0, Y: 0, Width: 99.6, Height: 49.7}, image.Pt(99, 49)},
		{domain.CropRectangle{X: 10.4, Y: 20.5, Width: 50.2, Height: 80.9}, image.Pt(50, 80)},
	}
	for _, tc := range cases {
		out, err := CropImage(context.Background(), src, tc.rect, 0)
		require.NoError(t, err)
		assert.Equal(t, tc.want, out.Bounds().Size(), "rect=%+v", tc.rect)
	}

	_, err := CropImage(context.Background(), src, domain.CropRectangle{Width: 0.6, Height: 10}, 0)
	assert.ErrorIs(t, err, ErrSurfaceUnavailable)
}

func TestCropRotation90TurnsClockwise(t *testing.T) {
	src := quadrants(1000, 1000)
	out, err := CropImage(context.Background(), src, domain.CropRectangle{Width: 1000, Height: 1000}, 90)
	require.NoError(t, err)
	require.Equal(t, image.Pt(1000, 1000), out.Bounds().Size())

	assert.Equal(t, yellow, out.NRGBAAt(250, 250))
	assert.Equal(t, red, out.NRGBAAt(750, 250))
	assert.Equal(t, green, out.NRGBAAt(750, 750))
	assert.Equal(t, blue, out.NRGBAAt(250, 750))
}

func TestEngineCropRotation90CornerColors(t *testing.T) {
	reg := blob.NewRegistry()
	ref := reg.Create(encodePNG(t, quadrants(1000, 1000)), "image/png")

	res, err := NewEngine(reg, nil, zerolog.Nop()).Crop(context.Background(), ref, domain.CropRectangle{Width: 1000, Height: 1000}, 90)
	require.NoError(t, err)

	decoded := decodeResult(t, res)
	require.Equal(t, image.Pt(1000, 1000), decoded.Bounds().Size())
	assertNear(t, yellow, decoded.At(5, 5))
	assertNear(t, red, decoded.At(994, 5))
	assertNear(t, green, decoded.At(994, 994))
	assertNear(t, blue, decoded.At(5, 994))
}

func TestCropArbitraryAngleMatchesQuarterTurn(t *testing.T) {
	src := quadrants(200, 200)
	rect := domain.CropRectangle{Width: 200, Height: 200}

	exact, err := CropImage(context.Background(), src, rect, 90)
	require.NoError(t, err)
	approx, err := CropImage(context.Background(), src, rect, 89.999)
	require.NoError(t, err)

	for _, p := range []image.Point{{50, 50}, {150, 50}, {150, 150}, {50, 150}} {
		assertNear(t, exact.NRGBAAt(p.X, p.Y), approx.At(p.X, p.Y))
	}

	ccw, err := CropImage(context.Background(), src, rect, -90)
	require.NoError(t, err)
	assert.Equal(t, green, ccw.NRGBAAt(50, 50))
	assert.Equal(t, yellow, ccw.NRGBAAt(150, 150))
}

func TestCropOutsideSourceIsTransparent(t *testing.T) {
	src := quadrants(100, 100)
	out, err := CropImage(context.Background(), src, domain.CropRectangle{X: 0, Y: 0, Width: 100, Height: 100}, 45)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), out.NRGBAAt(0, 0).A)
	assert.Equal(t, uint8(255), out.NRGBAAt(50, 50).A)
}

func TestCropZeroAreaHasNoSurface(t *testing.T) {
	_, err := CropImage(context.Background(), gradient(10, 10), domain.CropRectangle{Width: 0, Height: 5}, 0)
	assert.ErrorIs(t, err, ErrSurfaceUnavailable)

	_, err = CropImage(context.Background(), gradient(10, 10), domain.CropRectangle{Width: 20000, Height: 20000}, 0)
	assert.ErrorIs(t, err, ErrSurfaceUnavailable)
}

func TestDecodeErrors(t *testing.T) {
	reg := blob.NewRegistry()
	ref := reg.Create([]byte("definitely not an image"), "image/png")

	_, err := Decode(context.Background(), reg, ref)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))

	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, ref, de.Ref)

	reg.Revoke(ref)
	_, err = Decode(context.Background(), reg, ref)
	assert.ErrorIs(t, err, ErrDecode)
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestDecodeDataURL(t *testing.T) {
	ref := blob.DataURL("image/png", encodePNG(t, gradient(8, 4)))
	img, err := Decode(context.Background(), blob.NewRegistry(), ref)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(8, 4), img.Bounds().Size())
}

func TestResizeExactness(t *testing.T) {
	data := encodePNG(t, gradient(160, 90))
	resizer := NewResizer(zerolog.Nop())

	for _, target := range []domain.ResizeTarget{{Width: 1, Height: 1}, {Width: 80, Height: 45}, {Width: 333, Height: 17}, {Width: 160, Height: 900}} {
		res, attempts, err := resizer.Resize(context.Background(), data, target)
		require.NoError(t, err, "%+v", target)
		require.NotEmpty(t, attempts)
		assert.True(t, attempts[len(attempts)-1].OK())

		decoded := decodeResult(t, res)
		assert.Equal(t, image.Pt(target.Width, target.Height), decoded.Bounds().Size())
	}
}

func TestResizeFallsBackWhenPrimaryFails(t *testing.T) {
	data := encodePNG(t, gradient(64, 64))
	resizer := NewResizer(zerolog.Nop(), failingStrategy{}, CanvasStrategy{})

	res, attempts, err := resizer.Resize(context.Background(), data, domain.ResizeTarget{Width: 32, Height: 20})
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.False(t, attempts[0].OK())
	assert.Equal(t, "canvas", attempts[1].Strategy)
	assert.True(t, attempts[1].OK())
	assert.NotEmpty(t, res.Data)
	assert.Equal(t, image.Pt(32, 20), decodeResult(t, res).Bounds().Size())
}

func TestResizeFallsBackOnPanicAndWrongSize(t *testing.T) {
	data := encodePNG(t, gradient(64, 64))
	resizer := NewResizer(zerolog.Nop(), panickingStrategy{}, wrongSizeStrategy{}, CanvasStrategy{})

	_, attempts, err := resizer.Resize(context.Background(), data, domain.ResizeTarget{Width: 10, Height: 10})
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	assert.ErrorContains(t, attempts[0].Err, "panicked")
	assert.ErrorContains(t, attempts[1].Err, "want 10x10")
}

func TestResizeReportsFailureWhenEveryStrategyFails(t *testing.T) {
	resizer := NewResizer(zerolog.Nop())
	_, attempts, err := resizer.Resize(context.Background(), []byte("garbage"), domain.ResizeTarget{Width: 10, Height: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResizeFailed)
	assert.Len(t, attempts, len(resizer.Strategies()))
}

func TestResizeRejectsInvalidTarget(t *testing.T) {
	_, _, err := NewResizer(zerolog.Nop()).Resize(context.Background(), nil, domain.ResizeTarget{Width: 0, Height: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidDimensions)
}

func TestDefaultStrategiesEndWithCanvas(t *testing.T) {
	names := NewResizer(zerolog.Nop()).Strategies()
	require.GreaterOrEqual(t, len(names), 2)
	assert.Equal(t, "canvas", names[len(names)-1])
}

type failingStrategy struct{}

func (failingStrategy) Name() string { return "failing" }

func (failingStrategy) Resize(context.Context, []byte, domain.ResizeTarget) ([]byte, error) {
	return nil, errors.New("unsupported environment")
}

type panickingStrategy struct{}

func (panickingStrategy) Name() string { return "panicking" }

func (panickingStrategy) Resize(context.Context, []byte, domain.ResizeTarget) ([]byte, error) {
	panic("invalid buffer")
}

type wrongSizeStrategy struct{}

func (wrongSizeStrategy) Name() string { return "wrong-size" }

func (wrongSizeStrategy) Resize(ctx context.Context, data []byte, _ domain.ResizeTarget) ([]byte, error) {
	return CanvasStrategy{}.Resize(ctx, data, domain.ResizeTarget{Width: 3, Height: 3})
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}
	return img
}

// quadrants paints red, green, blue and yellow clockwise from the top-left.
func quadrants(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var c color.NRGBA
			switch {
			case x < w/2 && y < h/2:
				c = red
			case y < h/2:
				c = green
			case x >= w/2:
				c = blue
			default:
				c = yellow
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeResult(t *testing.T, res Result) image.Image {
	t.Helper()
	img, format, err := image.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	return img
}

func meanAbsDiff(a, b image.Image) float64 {
	bounds := a.Bounds()
	var total, n float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			ar, ag, ab, _ := a.At(x, y).RGBA()
			br, bg, bb, _ := b.At(x, y).RGBA()
			total += absDiff(ar, br) + absDiff(ag, bg) + absDiff(ab, bb)
			n += 3
		}
	}
	return total / n
}

func absDiff(a, b uint32) float64 {
	d := float64(a>>8) - float64(b>>8)
	if d < 0 {
		return -d
	}
	return d
}

func assertNear(t *testing.T, want color.NRGBA, got color.Color) {
	t.Helper()
	r, g, b, _ := got.RGBA()
	const tolerance = 24.0
	assert.InDelta(t, float64(want.R), float64(r>>8), tolerance)
	assert.InDelta(t, float64(want.G), float64(g>>8), tolerance)
	assert.InDelta(t, float64(want.B), float64(b>>8), tolerance)
}
