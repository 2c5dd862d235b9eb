package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/dunamismax/snapcrop/internal/bgremove"
	"github.com/dunamismax/snapcrop/internal/blob"
	"github.com/dunamismax/snapcrop/internal/domain"
	"github.com/dunamismax/snapcrop/internal/upload"
	"github.com/go-chi/chi/v5"
)

// handleCrop is the stateless crop: multipart file plus x, y, width, height
// and rotation fields in, JPEG out.
func (s *Server) handleCrop(w http.ResponseWriter, r *http.Request) {
	file, err := s.readUpload(w, r, domain.PresetCropImage)
	if err != nil {
		s.writeUploadError(w, err)
		return
	}

	var fields formFields
	form := cropForm{
		X:        fields.floatValue(r, "x"),
		Y:        fields.floatValue(r, "y"),
		Width:    fields.floatValue(r, "width"),
		Height:   fields.floatValue(r, "height"),
		Rotation: fields.floatValue(r, "rotation"),
	}
	if fields.err != nil {
		writeError(w, http.StatusBadRequest, fields.err.Error())
		return
	}
	if err := s.check(form); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ref := s.blobs.Create(file.Data, file.ContentType)
	defer s.blobs.Revoke(ref)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Transform.Timeout)
	defer cancel()

	rect := domain.CropRectangle{X: form.X, Y: form.Y, Width: form.Width, Height: form.Height}
	res, err := s.engine.Crop(ctx, ref, rect, domain.Rotation(form.Rotation))
	s.metrics.observeTransform(domain.OperationCrop, err)
	if err != nil {
		s.writeTransformError(w, r, err, domain.OperationCrop)
		return
	}

	w.Header().Set("X-Image-Width", strconv.Itoa(res.Width))
	w.Header().Set("X-Image-Height", strconv.Itoa(res.Height))
	writeAttachment(w, res.ContentType, file.Preset.Filename, res.Data)
}

// handleResize is the stateless resize to exact width and height.
func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	file, err := s.readUpload(w, r, domain.PresetResize)
	if err != nil {
		s.writeUploadError(w, err)
		return
	}

	var fields formFields
	form := resizeForm{Width: fields.intValue(r, "width"), Height: fields.intValue(r, "height")}
	if fields.err != nil {
		writeError(w, http.StatusBadRequest, fields.err.Error())
		return
	}
	if err := s.check(form); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ref := s.blobs.Create(file.Data, file.ContentType)
	defer s.blobs.Revoke(ref)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Transform.Timeout)
	defer cancel()

	res, attempts, err := s.engine.Resize(ctx, ref, domain.ResizeTarget{Width: form.Width, Height: form.Height})
	s.metrics.observeTransform(domain.OperationResize, err)
	s.metrics.observeAttempts(attempts)
	if err != nil {
		s.writeTransformError(w, r, err, domain.OperationResize)
		return
	}

	if n := len(attempts); n > 0 {
		w.Header().Set("X-Resize-Strategy", attempts[n-1].Strategy)
	}
	writeAttachment(w, res.ContentType, file.Preset.Filename, res.Data)
}

// handleBlob serves an object reference once and revokes it.
func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "id")
	if !strings.HasPrefix(ref, blob.Scheme) {
		ref = blob.Scheme + ref
	}
	obj, ok := s.blobs.Take(ref)
	if !ok {
		writeError(w, http.StatusNotFound, msgDownloadFailed)
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}

// handleBgRemove takes raw image bytes and answers with the foreground. The
// body may arrive as application/octet-stream; its type is sniffed then.
func (s *Server) handleBgRemove(w http.ResponseWriter, r *http.Request) {
	gate := upload.NewGate(s.cfg.Upload.MaxBytes)
	r.Body = http.MaxBytesReader(w, r.Body, gate.MaxBytes)

	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, upload.SizeMessage(gate.MaxBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	contentType := gate.Sniff(r.Header.Get("Content-Type"), data)
	if err := gate.Check(contentType, int64(len(data))); err != nil {
		s.writeUploadError(w, err)
		return
	}

	out, err := s.bgRemover.Remove(r.Context(), data)
	if err != nil {
		s.metrics.bgRemove.WithLabelValues("unavailable").Inc()
		s.logger.Warn().Err(err).Msg("background removal failed")
		if errors.Is(err, bgremove.ErrUnavailable) {
			writeError(w, http.StatusBadGateway, "Background removal is unavailable. Please try again.")
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.metrics.bgRemove.WithLabelValues("ok").Inc()

	w.Header().Set("Content-Type", gate.Sniff("", out))
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// formFields reads numeric form values and keeps the first parse error. An
// absent field reads as zero and is left to validation.
type formFields struct {
	err error
}

func (f *formFields) floatValue(r *http.Request, key string) float64 {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" || f.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		f.err = fmt.Errorf("%s must be a number", key)
		return 0
	}
	return v
}

func (f *formFields) intValue(r *http.Request, key string) int {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" || f.err != nil {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		f.err = fmt.Errorf("%s must be an integer", key)
		return 0
	}
	return v
}
