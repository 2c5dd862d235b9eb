package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/snapcrop/internal/domain"
	"github.com/dunamismax/snapcrop/internal/storage"
	"github.com/dunamismax/snapcrop/internal/transform"
)

const defaultOutputPrefix = "outputs"

// ObjectStore is the part of the storage client the job stages use.
type ObjectStore interface {
	ReadObject(ctx context.Context, key string) ([]byte, error)
	WriteObject(ctx context.Context, key string, data []byte, contentType string) error
	RemoveObject(ctx context.Context, key string) error
}

var _ ObjectStore = (*storage.Client)(nil)

type ObjectStoreFetcher struct {
	Storage ObjectStore
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if !strings.EqualFold(req.SourceType, domain.SourceTypeS3Presigned) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, req.ObjectKey)
}

// Discard deletes the uploaded source so nothing outlives the job.
func (f ObjectStoreFetcher) Discard(ctx context.Context, req Request) error {
	if f.Storage == nil || strings.TrimSpace(req.ObjectKey) == "" {
		return nil
	}
	return f.Storage.RemoveObject(ctx, req.ObjectKey)
}

type ObjectStoreEmitter struct {
	Storage      ObjectStore
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, res transform.Result) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}

	filename := req.Transform.Filename()
	key := ResultKey(e.OutputPrefix, req.JobID, filename)
	if err := e.Storage.WriteObject(ctx, key, res.Data, res.ContentType); err != nil {
		return Output{}, err
	}
	return outputFor(req, res, filename, key), nil
}

// ResultKey is where a job's output lands: <prefix>/<job>/<filename>.
func ResultKey(prefix, jobID, filename string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultOutputPrefix
	}
	return path.Join(prefix, sanitizePathToken(jobID), filename)
}
