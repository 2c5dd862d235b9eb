package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/snapcrop/internal/bgremove"
	"github.com/dunamismax/snapcrop/internal/config"
	"github.com/dunamismax/snapcrop/internal/domain"
	"github.com/dunamismax/snapcrop/internal/pipeline"
	"github.com/dunamismax/snapcrop/internal/queue"
	"github.com/dunamismax/snapcrop/internal/storage"
	"github.com/dunamismax/snapcrop/internal/store"
	"github.com/dunamismax/snapcrop/internal/webhook"
	"github.com/dustin/go-humanize"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type processor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Output, error)
	Discard(ctx context.Context, req pipeline.Request) error
}

type presigner interface {
	PresignedGetURL(ctx context.Context, objectKey, filename string, expiry time.Duration) (string, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// Server consumes transform:run tasks. Each job runs the same crop or resize
// as the interactive API, writes the result next to its job id and removes
// the staged source once the job can no longer be retried.
type Server struct {
	logger          zerolog.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  processor
	objectProcessor processor
	presigner       presigner
	presignTTL      time.Duration
	webhookClient   webhookSender
	jobStore        store.JobStore
	metrics         *metrics
	tracer          trace.Tracer
	now             func() time.Time
}

func NewServer(
	logger zerolog.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	storageCfg config.StorageConfig,
	uploadLimit pipeline.UploadLimit,
	remover bgremove.Remover,
	storageClient *storage.Client,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
) (*Server, error) {
	if storageClient == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	logger = logger.With().Str("component", "worker").Logger()

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues:      map[string]int{queueCfg.Name: 1},
				LogLevel:    asynq.WarnLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Warn().Err(err).
						Str("task_type", task.Type()).
						Int("retry", retried).
						Int("max_retry", maxRetry).
						Msg("task failed")
				}),
			},
		),
		sem:            make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localProcessor: pipeline.NewLocalProcessor(workerCfg.LocalOutputDir, uploadLimit, logger).
			WithBackgroundRemoval(remover),
		objectProcessor: pipeline.NewProcessor(
			pipeline.ObjectStoreFetcher{Storage: storageClient},
			pipeline.ObjectStoreEmitter{Storage: storageClient},
			uploadLimit,
			logger,
		).WithBackgroundRemoval(remover),
		presigner:  storageClient,
		presignTTL: storageCfg.PresignTTL,
		jobStore:   jobStore,
		metrics:    newMetrics(),
		tracer:     otel.Tracer("snapcrop/worker"),
		now:        time.Now,
	}
	if webhookClient != nil {
		s.webhookClient = webhookClient
	}
	return s, nil
}

// Start begins consuming tasks in the background. Callers own signal handling
// and must call Shutdown.
func (s *Server) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeTransformRun, s.handleTransform)
	return s.server.Start(mux)
}

// Shutdown waits for in-flight tasks up to the asynq shutdown timeout.
func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleTransform(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseTransformPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	return s.process(ctx, payload)
}

func (s *Server) process(ctx context.Context, payload queue.TransformPayload) error {
	startedAt := s.now()
	op := payload.Transform.Operation
	status := domain.JobStatusFailed

	ctx, span := s.tracer.Start(ctx, "worker.transform", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("job.operation", op),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(op, status).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(op, status).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		status = domain.JobStatusQueued
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	log := s.logger.With().Str("job_id", payload.JobID).Str("operation", op).Logger()
	log.Info().Str("source_type", payload.SourceType).Str("object_key", payload.ObjectKey).Msg("working")
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	req := pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		Transform:  payload.Transform,
	}
	proc := s.processorFor(payload.SourceType)

	out, err := proc.Process(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transform failed")

		if !pipeline.IsPermanent(err) && !finalAttempt(ctx) {
			status = domain.JobStatusQueued
			s.metrics.retriesTotal.WithLabelValues(op).Inc()
			s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued)
			log.Warn().Err(err).Msg("transient failure, job will be retried")
			return fmt.Errorf("run pipeline: %w", err)
		}

		log.Error().Err(err).Msg("job failed")
		s.finish(ctx, payload.JobID, store.Outcome{Status: domain.JobStatusFailed, Error: err.Error()})
		s.discard(ctx, proc, req)
		s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, map[string]any{
			"job_id":       payload.JobID,
			"status":       domain.JobStatusFailed,
			"operation":    op,
			"requested_at": payload.RequestedAt,
			"failed_at":    s.now().UTC(),
			"error":        err.Error(),
		})
		if pipeline.IsPermanent(err) {
			return fmt.Errorf("run pipeline: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("run pipeline: %w", err)
	}

	status = domain.JobStatusSucceeded
	s.finish(ctx, payload.JobID, store.Outcome{Status: domain.JobStatusSucceeded, ResultKey: out.Path})
	s.discard(ctx, proc, req)
	usage := s.recordOutput(payload.JobID, out, startedAt)

	log.Info().
		Str("result_key", out.Path).
		Str("size", humanize.Bytes(uint64(out.Bytes))).
		Dur("took", time.Since(startedAt)).
		Msgf("processed %dx%d", out.Width, out.Height)

	body := map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"operation":    op,
		"filename":     out.Filename,
		"result_key":   out.Path,
		"width":        out.Width,
		"height":       out.Height,
		"bytes":        out.Bytes,
		"usage":        usage,
		"requested_at": payload.RequestedAt,
		"completed_at": usage.CreatedAt,
	}
	if url := s.downloadURL(ctx, payload.SourceType, out); url != "" {
		body["download_url"] = url
	}
	s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, body)

	span.SetStatus(codes.Ok, "processed")
	return nil
}

func (s *Server) processorFor(sourceType string) processor {
	if sourceType == domain.SourceTypeLocalFile {
		return s.localProcessor
	}
	return s.objectProcessor
}

// finalAttempt reports whether asynq will not retry this task again. Outside
// an asynq handler every attempt is final.
func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func (s *Server) downloadURL(ctx context.Context, sourceType string, out pipeline.Output) string {
	if sourceType == domain.SourceTypeLocalFile || s.presigner == nil {
		return ""
	}
	url, err := s.presigner.PresignedGetURL(ctx, out.Path, out.Filename, s.presignTTL)
	if err != nil {
		s.logger.Warn().Err(err).Str("result_key", out.Path).Msg("presign download failed")
		return ""
	}
	return url
}

func (s *Server) recordOutput(jobID string, out pipeline.Output, startedAt time.Time) domain.Usage {
	now := s.now()
	usage := domain.Usage{
		JobID:           jobID,
		Operation:       out.Operation,
		PixelsProcessed: int64(out.Width) * int64(out.Height),
		BytesIn:         int64(out.SourceBytes),
		BytesOut:        int64(out.Bytes),
		ComputeTimeMS:   now.Sub(startedAt).Milliseconds(),
		CreatedAt:       now.UTC(),
	}

	s.metrics.pixelsTotal.WithLabelValues(out.Operation).Add(float64(usage.PixelsProcessed))
	s.metrics.bytesTotal.WithLabelValues("in").Add(float64(usage.BytesIn))
	s.metrics.bytesTotal.WithLabelValues("out").Add(float64(usage.BytesOut))
	if out.Strategy != "" {
		s.metrics.strategyTotal.WithLabelValues(out.Strategy).Inc()
	}
	return usage
}

func (s *Server) discard(ctx context.Context, proc processor, req pipeline.Request) {
	if err := proc.Discard(ctx, req); err != nil {
		s.logger.Warn().Err(err).Str("job_id", req.JobID).Str("object_key", req.ObjectKey).Msg("source cleanup failed")
	}
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Str("status", status).Msg("job status update failed")
	}
}

func (s *Server) finish(ctx context.Context, jobID string, outcome store.Outcome) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.Finish(ctx, jobID, outcome); err != nil && !errors.Is(err, store.ErrJobNotFound) {
		s.logger.Warn().Err(err).Str("job_id", jobID).Str("status", outcome.Status).Msg("job finish failed")
	}
}

// dispatchWebhook never fails the job: the result already exists and the
// webhook client retries on its own.
func (s *Server) dispatchWebhook(ctx context.Context, payload queue.TransformPayload, event string, body map[string]any) {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return
	}
	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Warn().Err(err).Str("job_id", payload.JobID).Str("event", event).Msg("webhook delivery failed")
	}
}
