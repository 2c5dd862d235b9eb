package editor

import (
	"context"
	"fmt"
	"time"

	"github.com/dunamismax/snapcrop/internal/blob"
	"github.com/dunamismax/snapcrop/internal/domain"
	"github.com/dunamismax/snapcrop/internal/transform"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Editor runs a session's crop or resize and keeps the newest result as an
// object reference.
type Editor struct {
	engine *transform.Engine
	blobs  *blob.Registry
	logger zerolog.Logger
	now    func() time.Time
}

func New(engine *transform.Engine, blobs *blob.Registry, logger zerolog.Logger) *Editor {
	return &Editor{
		engine: engine,
		blobs:  blobs,
		logger: logger.With().Str("component", "editor").Logger(),
		now:    time.Now,
	}
}

// Crop applies the session's crop rectangle and rotation to its source.
func (e *Editor) Crop(ctx context.Context, s *Session) (Output, error) {
	t := s.Begin()
	res, err := e.engine.Crop(ctx, t.SourceRef, t.Crop, t.Rotation)
	if err != nil {
		return Output{}, err
	}
	return e.store(s, t, domain.OperationCrop, res)
}

// Resize scales the session's source to its resize settings.
func (e *Editor) Resize(ctx context.Context, s *Session) (Output, error) {
	t := s.Begin()
	res, attempts, err := e.engine.Resize(ctx, t.SourceRef, t.Resize.Target())
	if err != nil {
		return Output{}, err
	}
	if len(attempts) > 1 {
		e.logger.Info().
			Str("session_id", t.ID).
			Str("strategy", attempts[len(attempts)-1].Strategy).
			Msg("resize served by fallback")
	}
	return e.store(s, t, domain.OperationResize, res)
}

func (e *Editor) store(s *Session, t Ticket, op string, res transform.Result) (Output, error) {
	out := Output{
		Ref:         e.blobs.Create(res.Data, res.ContentType),
		ContentType: res.ContentType,
		Operation:   op,
		Width:       res.Width,
		Height:      res.Height,
		Bytes:       len(res.Data),
		Filename:    s.Preset().Filename,
		CreatedAt:   e.now().UTC(),
	}

	prev, err := s.commit(t, out)
	if err != nil {
		e.blobs.Revoke(out.Ref)
		e.logger.Debug().Err(err).Str("session_id", t.ID).Uint64("generation", t.generation).Msg("dropping result")
		return Output{}, err
	}
	if prev != nil {
		e.blobs.Revoke(prev.Ref)
	}

	e.logger.Debug().
		Str("session_id", t.ID).
		Str("operation", op).
		Str("size", humanize.Bytes(uint64(out.Bytes))).
		Msgf("result %dx%d", out.Width, out.Height)
	return out, nil
}

// Download hands out the session's result bytes and releases the reference.
func (e *Editor) Download(s *Session) (Output, []byte, error) {
	out, err := s.takeResult()
	if err != nil {
		return Output{}, nil, err
	}
	obj, ok := e.blobs.Take(out.Ref)
	if !ok {
		return Output{}, nil, fmt.Errorf("%w: %s", blob.ErrNotFound, out.Ref)
	}
	return out, obj.Data, nil
}

// Release closes the session and revokes every reference it owns. Results
// still in flight are revoked when they try to commit.
func (e *Editor) Release(s *Session) {
	for _, ref := range s.close() {
		e.blobs.Revoke(ref)
	}
}
