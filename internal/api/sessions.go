package api

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/dunamismax/snapcrop/internal/domain"
	"github.com/dunamismax/snapcrop/internal/editor"
	"github.com/dunamismax/snapcrop/internal/suggest"
	"github.com/dunamismax/snapcrop/internal/transform"
	"github.com/dunamismax/snapcrop/internal/upload"
	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
)

const (
	maxMemory      = 32 << 20
	multipartSlack = 1 << 20
)

var errUnknownPreset = errors.New("unknown preset")

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	presets := domain.Presets()
	for i := range presets {
		presets[i].MaxUploadBytes = s.cfg.UploadLimit(presets[i].Name)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"presets":        presets,
		"aspect_options": domain.AspectOptions,
		"size_options":   domain.SizeOptions,
		"resize_default": domain.DefaultResizeTarget,
	})
}

// uploadedFile is a file that passed the gate.
type uploadedFile struct {
	Data        []byte
	ContentType string
	Preset      domain.Preset
}

// readUpload parses the multipart body, resolves the preset field and runs
// the gate over the "file" part. It never decodes the image. A body too large
// to parse is reported against the preset named in the query string, if any,
// since the form's own preset field is not readable yet.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, defaultPreset string) (uploadedFile, error) {
	ceiling := max(s.cfg.Upload.MaxBytes, s.cfg.Upload.CropImageMaxBytes)
	r.Body = http.MaxBytesReader(w, r.Body, ceiling+multipartSlack)

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			limit := s.cfg.UploadLimit(cmp.Or(r.URL.Query().Get("preset"), defaultPreset))
			return uploadedFile{}, &upload.Rejection{Reason: upload.SizeMessage(limit)}
		}
		return uploadedFile{}, fmt.Errorf("invalid multipart form: %w", err)
	}

	name := r.FormValue("preset")
	if name == "" {
		name = defaultPreset
	}
	preset, ok := domain.LookupPreset(name)
	if !ok {
		return uploadedFile{}, fmt.Errorf("%w: %s", errUnknownPreset, name)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return uploadedFile{}, &upload.Rejection{Reason: upload.MsgInvalidType}
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	gate := upload.NewGate(s.cfg.UploadLimit(preset.Name))
	if err := gate.Check(contentType, header.Size); err != nil {
		return uploadedFile{}, err
	}

	data, err := readPart(file, header)
	if err != nil {
		return uploadedFile{}, err
	}
	return uploadedFile{Data: data, ContentType: contentType, Preset: preset}, nil
}

func readPart(file multipart.File, header *multipart.FileHeader) ([]byte, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", header.Filename, err)
	}
	return data, nil
}

func (s *Server) writeUploadError(w http.ResponseWriter, err error) {
	var rejection *upload.Rejection
	if errors.As(err, &rejection) {
		writeError(w, http.StatusBadRequest, rejection.Reason)
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	file, err := s.readUpload(w, r, domain.PresetCropImage)
	if err != nil {
		s.writeUploadError(w, err)
		return
	}

	width, height, err := transform.Dimensions(file.Data)
	if err != nil {
		s.writeTransformError(w, r, err, file.Preset.Operation)
		return
	}

	ref := s.blobs.Create(file.Data, file.ContentType)
	session := s.sessions.Create(file.Preset, editor.Source{
		Ref:      ref,
		Bytes:    int64(len(file.Data)),
		Original: domain.Dimensions{Width: width, Height: height},
	})

	if s.cfg.Transform.SmartCrop && file.Preset.Operation == domain.OperationCrop {
		s.applySmartCrop(r.Context(), session, file.Data)
	}

	s.logger.Info().
		Str("session_id", session.ID()).
		Str("preset", file.Preset.Name).
		Str("size", humanize.Bytes(uint64(len(file.Data)))).
		Msgf("session opened for %dx%d source", width, height)

	w.Header().Set("Location", "/v1/sessions/"+session.ID())
	writeJSON(w, http.StatusCreated, session.Snapshot())
}

// applySmartCrop replaces the centred initial crop with a content-aware one.
// Failures keep the centred rectangle.
func (s *Server) applySmartCrop(ctx context.Context, session *editor.Session, data []byte) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Transform.Timeout)
	defer cancel()

	img, err := transform.DecodeBytes(data)
	if err != nil {
		return
	}
	rect, err := suggest.Smart(ctx, img, session.Snapshot().Aspect)
	if err != nil {
		s.logger.Debug().Err(err).Str("session_id", session.ID()).Msg("smart crop fell back to centred")
	}
	if err := session.SetCrop(rect); err != nil {
		s.logger.Debug().Err(err).Str("session_id", session.ID()).Msg("smart crop rejected")
	}
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*editor.Session, bool) {
	session, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		status, msg := sessionFailure(err)
		writeError(w, status, msg)
		return nil, false
	}
	return session, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	var req updateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.check(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := applyUpdate(session, req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

// applyUpdate changes the aspect before the crop so an explicit crop in the
// same request wins over the re-centred one. Width and height together are
// applied verbatim; alone, the aspect lock recomputes the other side.
func applyUpdate(session *editor.Session, req updateSessionRequest) error {
	if req.Aspect != nil {
		aspect, err := aspectValue(*req.Aspect)
		if err != nil {
			return err
		}
		session.SetAspect(aspect)
	}
	if req.Crop != nil {
		rect := domain.CropRectangle{X: req.Crop.X, Y: req.Crop.Y, Width: req.Crop.Width, Height: req.Crop.Height}
		if err := session.SetCrop(rect); err != nil {
			return err
		}
	}
	if req.Zoom != nil {
		if err := session.SetZoom(*req.Zoom); err != nil {
			return err
		}
	}
	if req.Rotation != nil {
		if err := session.SetRotation(domain.Rotation(*req.Rotation)); err != nil {
			return err
		}
	}
	if req.MaintainAspectRatio != nil {
		session.SetMaintainAspect(*req.MaintainAspectRatio)
	}
	switch {
	case req.Width != nil && req.Height != nil:
		session.SetSize(*req.Width, *req.Height)
	case req.Width != nil:
		session.SetWidth(*req.Width)
	case req.Height != nil:
		session.SetHeight(*req.Height)
	}
	return nil
}

func aspectValue(label string) (*float64, error) {
	for _, opt := range domain.AspectOptions {
		if opt.Label == label {
			return opt.Value, nil
		}
	}
	return nil, fmt.Errorf("unknown aspect ratio %q", label)
}

func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	var req rotateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.check(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := session.Rotate(editor.Direction(req.Direction)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func (s *Server) handleSessionCrop(w http.ResponseWriter, r *http.Request) {
	s.runSession(w, r, domain.OperationCrop, s.editor.Crop)
}

func (s *Server) handleSessionResize(w http.ResponseWriter, r *http.Request) {
	s.runSession(w, r, domain.OperationResize, s.editor.Resize)
}

func (s *Server) runSession(w http.ResponseWriter, r *http.Request, op string, run func(context.Context, *editor.Session) (editor.Output, error)) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Transform.Timeout)
	defer cancel()

	out, err := run(ctx, session)
	s.metrics.observeTransform(op, err)
	if err != nil {
		s.writeTransformError(w, r, err, op)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"result":       out,
		"download_url": "/v1/sessions/" + session.ID() + "/download",
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	out, data, err := s.editor.Download(session)
	if err != nil {
		status, msg := sessionFailure(err)
		writeError(w, status, msg)
		return
	}
	writeAttachment(w, out.ContentType, out.Filename, data)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(chi.URLParam(r, "id")); err != nil {
		status, msg := sessionFailure(err)
		writeError(w, status, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeAttachment(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
