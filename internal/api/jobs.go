package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/snapcrop/internal/domain"
	"github.com/dunamismax/snapcrop/internal/id"
	"github.com/dunamismax/snapcrop/internal/queue"
	"github.com/dunamismax/snapcrop/internal/storage"
	"github.com/dunamismax/snapcrop/internal/upload"
	"github.com/go-chi/chi/v5"
)

type jobView struct {
	JobID       string               `json:"job_id"`
	Status      string               `json:"status"`
	SourceType  string               `json:"source_type"`
	ObjectKey   string               `json:"object_key"`
	Transform   domain.TransformSpec `json:"transform"`
	ResultKey   string               `json:"result_key,omitempty"`
	DownloadURL string               `json:"download_url,omitempty"`
	Error       string               `json:"error,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

func (r createJobRequest) spec() domain.TransformSpec {
	spec := domain.TransformSpec{
		Operation:        r.Operation,
		Preset:           r.Preset,
		Rotation:         r.Rotation,
		RemoveBackground: r.RemoveBackground,
	}
	switch r.Operation {
	case domain.OperationCrop:
		if r.Crop != nil {
			spec.Crop = &domain.CropRectangle{X: r.Crop.X, Y: r.Crop.Y, Width: r.Crop.Width, Height: r.Crop.Height}
		}
	case domain.OperationResize:
		spec.Resize = &domain.ResizeTarget{Width: r.Width, Height: r.Height}
		spec.Rotation = 0
	}
	return spec
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if s.jobStore == nil {
		writeError(w, http.StatusServiceUnavailable, "job processing is not enabled")
		return
	}

	var req createJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.SourceType = strings.ToLower(strings.TrimSpace(req.SourceType))
	req.Operation = strings.ToLower(strings.TrimSpace(req.Operation))
	if err := s.check(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	spec := req.spec()
	create := domain.CreateJobRequest{
		SourceType: req.SourceType,
		WebhookURL: req.WebhookURL,
		ObjectKey:  req.ObjectKey,
		Transform:  spec,
	}
	if err := create.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	jobID := id.New()
	objectKey := strings.TrimSpace(req.ObjectKey)
	uploadState := "not_required"
	presignedPutURL := ""

	if req.SourceType == domain.SourceTypeS3Presigned {
		objectKey = fmt.Sprintf("uploads/%s/source", jobID)
		url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.cfg.Storage.PresignTTL)
		if err != nil {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("generate presigned url failed")
			writeError(w, http.StatusInternalServerError, "failed to generate upload URL")
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	}

	job := domain.Job{
		ID:         jobID,
		Status:     domain.JobStatusCreated,
		SourceType: req.SourceType,
		WebhookURL: req.WebhookURL,
		Transform:  spec,
		ObjectKey:  objectKey,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("create job failed")
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
		"upload": map[string]any{
			"object_key":          job.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
			"max_bytes":           s.cfg.UploadLimit(spec.Preset),
		},
		"start_url": fmt.Sprintf("/v1/jobs/%s/start", job.ID),
	})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	if s.jobStore == nil || s.queueClient == nil {
		writeError(w, http.StatusServiceUnavailable, "job processing is not enabled")
		return
	}

	jobID := chi.URLParam(r, "id")
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("fetch job failed")
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != domain.JobStatusCreated {
		writeError(w, http.StatusConflict, fmt.Sprintf("job already %s", job.Status))
		return
	}

	if err := s.verifySource(r.Context(), job); err != nil {
		var rejection *upload.Rejection
		if errors.As(err, &rejection) {
			writeError(w, http.StatusBadRequest, rejection.Reason)
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	payload := queue.TransformPayload{
		JobID:       job.ID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		ObjectKey:   job.ObjectKey,
		Transform:   job.Transform,
		RequestedAt: time.Now().UTC(),
	}

	taskInfo, err := s.queueClient.EnqueueTransform(r.Context(), payload)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("enqueue failed")
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("update status failed")
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.jobStore == nil {
		writeError(w, http.StatusServiceUnavailable, "job processing is not enabled")
		return
	}

	jobID := chi.URLParam(r, "id")
	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("fetch job failed")
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	view := jobView{
		JobID:      job.ID,
		Status:     job.Status,
		SourceType: job.SourceType,
		ObjectKey:  job.ObjectKey,
		Transform:  job.Transform,
		ResultKey:  job.ResultKey,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	}
	if job.Status == domain.JobStatusSucceeded && job.ResultKey != "" && job.SourceType == domain.SourceTypeS3Presigned {
		url, err := s.storage.PresignedGetURL(r.Context(), job.ResultKey, job.Transform.Filename(), s.cfg.Storage.PresignTTL)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("presign result failed")
		} else {
			view.DownloadURL = url
		}
	}
	writeJSON(w, http.StatusOK, view)
}

// verifySource checks that the job's source is in place and within the
// preset's upload ceiling. Media type is checked by the worker, which sniffs
// the bytes; a presigned PUT carries whatever type the uploader declared.
func (s *Server) verifySource(ctx context.Context, job domain.Job) error {
	var size int64
	switch job.SourceType {
	case domain.SourceTypeLocalFile:
		info, err := os.Stat(strings.TrimPrefix(job.ObjectKey, "file://"))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", job.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		size = info.Size()
	default:
		info, err := s.storage.Stat(ctx, job.ObjectKey)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return fmt.Errorf("source object is missing: %s", job.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		size = info.Size
	}

	maxBytes := s.cfg.UploadLimit(job.Transform.Preset)
	if size > maxBytes {
		return &upload.Rejection{Reason: upload.SizeMessage(maxBytes)}
	}
	return nil
}
