package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/snapcrop/internal/bgremove"
	"github.com/dunamismax/snapcrop/internal/blob"
	"github.com/dunamismax/snapcrop/internal/domain"
	"github.com/dunamismax/snapcrop/internal/transform"
	"github.com/dunamismax/snapcrop/internal/upload"
	"github.com/rs/zerolog"
)

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
	ErrInvalidOperation      = errors.New("invalid transform operation")
	ErrNoBackgroundRemover   = errors.New("background removal is not configured")
)

type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	Transform  domain.TransformSpec
}

type Output struct {
	Operation   string
	Filename    string
	Path        string
	ContentType string
	Bytes       int
	SourceBytes int
	Width       int
	Height      int
	Strategy    string
}

// UploadLimit returns the gate ceiling in bytes for a preset.
type UploadLimit func(preset string) int64

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, res transform.Result) (Output, error)
}

// Discarder is implemented by fetchers whose sources are staged copies that
// can be removed once a job has reached a final state.
type Discarder interface {
	Discard(ctx context.Context, req Request) error
}

// Processor runs fetch, transform and emit for one job. Sources are held in
// a private object registry only for the duration of the transform.
type Processor struct {
	fetcher     Fetcher
	transformer Transformer
	emitter     Emitter
	limit       UploadLimit
	remover     bgremove.Remover
	blobs       *blob.Registry
}

// NewProcessor builds a processor whose sources pass the upload gate sized
// by limit. A nil limit checks the media type only.
func NewProcessor(fetcher Fetcher, emitter Emitter, limit UploadLimit, logger zerolog.Logger) *Processor {
	blobs := blob.NewRegistry()
	return &Processor{
		fetcher:     fetcher,
		transformer: transform.NewEngine(blobs, nil, logger),
		emitter:     emitter,
		limit:       limit,
		blobs:       blobs,
	}
}

// WithBackgroundRemoval lets jobs that ask for it strip the source's
// background before the transform.
func (p *Processor) WithBackgroundRemoval(r bgremove.Remover) *Processor {
	p.remover = r
	return p
}

func NewLocalProcessor(outputDir string, limit UploadLimit, logger zerolog.Logger) *Processor {
	return NewProcessor(LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir}, limit, logger)
}

func (p *Processor) Process(ctx context.Context, req Request) (Output, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Output{}, errors.New("job_id is required")
	}
	if err := req.Transform.Validate(); err != nil {
		return Output{}, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}

	source, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Output{}, fmt.Errorf("fetch stage: %w", err)
	}

	contentType, err := p.admit(req, source)
	if err != nil {
		return Output{}, fmt.Errorf("gate stage: %w", err)
	}

	input := source
	if req.Transform.RemoveBackground {
		if input, contentType, err = p.removeBackground(ctx, source); err != nil {
			return Output{}, fmt.Errorf("bg-remove stage: %w", err)
		}
	}

	ref := p.blobs.Create(input, contentType)
	defer p.blobs.Revoke(ref)

	res, attempts, err := apply(ctx, p.transformer, ref, req.Transform)
	if err != nil {
		return Output{}, fmt.Errorf("transform stage operation=%s: %w", req.Transform.Operation, err)
	}

	out, err := p.emitter.Emit(ctx, req, res)
	if err != nil {
		return Output{}, fmt.Errorf("emit stage: %w", err)
	}
	out.SourceBytes = len(source)
	if n := len(attempts); n > 0 {
		out.Strategy = attempts[n-1].Strategy
	}
	return out, nil
}

// admit runs the upload gate over a fetched source. Staged objects carry no
// trustworthy media type, so it is always sniffed.
func (p *Processor) admit(req Request, source []byte) (string, error) {
	var ceiling int64
	if p.limit != nil {
		ceiling = p.limit(req.Transform.Preset)
	}
	gate := upload.NewGate(ceiling)
	contentType := gate.Sniff("", source)
	if err := gate.Check(contentType, int64(len(source))); err != nil {
		return "", err
	}
	return contentType, nil
}

func (p *Processor) removeBackground(ctx context.Context, source []byte) ([]byte, string, error) {
	if p.remover == nil {
		return nil, "", ErrNoBackgroundRemover
	}
	out, err := p.remover.Remove(ctx, source)
	if err != nil {
		return nil, "", err
	}
	contentType := upload.Gate{}.Sniff("", out)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("%w: response is %s", bgremove.ErrUnavailable, contentType)
	}
	return out, contentType, nil
}

// Discard removes the job's staged source when the fetcher supports it.
func (p *Processor) Discard(ctx context.Context, req Request) error {
	d, ok := p.fetcher.(Discarder)
	if !ok {
		return nil
	}
	return d.Discard(ctx, req)
}

// LocalFileFetcher reads the source from a path on disk. It never deletes
// the caller's file.
type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, domain.SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(strings.TrimPrefix(req.ObjectKey, "file://"))
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, res transform.Result) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	filename := req.Transform.Filename()
	fullPath := filepath.Join(jobDir, filename)
	if err := os.WriteFile(fullPath, res.Data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return outputFor(req, res, filename, fullPath), nil
}

func outputFor(req Request, res transform.Result, filename, path string) Output {
	return Output{
		Operation:   req.Transform.Operation,
		Filename:    filename,
		Path:        path,
		ContentType: res.ContentType,
		Bytes:       len(res.Data),
		Width:       res.Width,
		Height:      res.Height,
	}
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
