package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/dunamismax/snapcrop/internal/blob"
	"github.com/dunamismax/snapcrop/internal/domain"
	"github.com/dunamismax/snapcrop/internal/editor"
	"github.com/dunamismax/snapcrop/internal/upload"
)

const (
	msgCropFailed     = "Failed to crop image. Please try again."
	msgResizeFailed   = "Failed to resize image. Please try again."
	msgDownloadFailed = "Failed to download image. Please try again."
)

// transformFailure maps a crop or resize error to a status and the message
// shown to the user. Anything from the transform core itself collapses into
// the generic failure message for the operation.
func transformFailure(err error, op string) (int, string) {
	var rejection *upload.Rejection
	switch {
	case errors.As(err, &rejection):
		return http.StatusBadRequest, rejection.Reason
	case errors.Is(err, editor.ErrNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, editor.ErrStale):
		return http.StatusConflict, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, failedMessage(op)
	case errors.Is(err, domain.ErrDegenerateCrop), errors.Is(err, domain.ErrInvalidDimensions):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusUnprocessableEntity, failedMessage(op)
	}
}

func failedMessage(op string) string {
	if op == domain.OperationResize {
		return msgResizeFailed
	}
	return msgCropFailed
}

func (s *Server) writeTransformError(w http.ResponseWriter, r *http.Request, err error, op string) {
	status, msg := transformFailure(err, op)
	evt := s.logger.Warn()
	if status == http.StatusUnprocessableEntity || status == http.StatusGatewayTimeout {
		evt = s.logger.Error()
	}
	evt.Err(err).
		Str("operation", op).
		Str("path", r.URL.Path).
		Int("status", status).
		Msg("transform request failed")
	writeError(w, status, msg)
}

func sessionFailure(err error) (int, string) {
	switch {
	case errors.Is(err, editor.ErrNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, editor.ErrNoResult), errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound, msgDownloadFailed
	default:
		return http.StatusBadRequest, err.Error()
	}
}
