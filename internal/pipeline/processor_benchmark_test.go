package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/dunamismax/snapcrop/internal/domain"
	"github.com/dunamismax/snapcrop/internal/transform"
	"github.com/rs/zerolog"
)

func BenchmarkProcessorResize(b *testing.B) {
	benchmarkProcessor(b, domain.TransformSpec{
		Operation: domain.OperationResize,
		Resize:    &domain.ResizeTarget{Width: 640, Height: 360},
	})
}

func BenchmarkProcessorCropQuarterTurn(b *testing.B) {
	benchmarkProcessor(b, domain.TransformSpec{
		Operation: domain.OperationCrop,
		Crop:      &domain.CropRectangle{X: 100, Y: 100, Width: 800, Height: 600},
		Rotation:  90,
	})
}

func BenchmarkProcessorCropArbitraryAngle(b *testing.B) {
	benchmarkProcessor(b, domain.TransformSpec{
		Operation: domain.OperationCrop,
		Crop:      &domain.CropRectangle{X: 100, Y: 100, Width: 800, Height: 600},
		Rotation:  17.5,
	})
}

func benchmarkProcessor(b *testing.B, spec domain.TransformSpec) {
	source := buildTestPNG(b, 1920, 1080)
	processor := NewProcessor(staticFetcher{data: source}, discardEmitter{}, presetLimit, zerolog.Nop())

	req := Request{
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  "ignored.png",
		Transform:  spec,
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req.JobID = fmt.Sprintf("bench-%d", i)
		if _, err := processor.Process(context.Background(), req); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

type staticFetcher struct {
	data []byte
}

func (f staticFetcher) Fetch(_ context.Context, _ Request) ([]byte, error) {
	return f.data, nil
}

type discardEmitter struct{}

func (discardEmitter) Emit(_ context.Context, req Request, res transform.Result) (Output, error) {
	return outputFor(req, res, req.Transform.Filename(), ""), nil
}
