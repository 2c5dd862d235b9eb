package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dunamismax/snapcrop/internal/bgremove"
	"github.com/dunamismax/snapcrop/internal/blob"
	"github.com/dunamismax/snapcrop/internal/config"
	"github.com/dunamismax/snapcrop/internal/editor"
	"github.com/dunamismax/snapcrop/internal/logging"
	"github.com/dunamismax/snapcrop/internal/queue"
	"github.com/dunamismax/snapcrop/internal/ratelimit"
	"github.com/dunamismax/snapcrop/internal/storage"
	"github.com/dunamismax/snapcrop/internal/store"
	"github.com/dunamismax/snapcrop/internal/transform"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger      zerolog.Logger
	cfg         config.Config
	engine      *transform.Engine
	blobs       *blob.Registry
	editor      *editor.Editor
	sessions    *editor.MemoryStore
	bgRemover   bgremove.Remover
	queueClient queueEnqueuer
	jobStore    store.JobStore
	storage     objectStorage
	rateLimiter ratelimit.Limiter
	tracer      trace.Tracer
	metrics     *metrics
	validate    *validator.Validate
	router      chi.Router
}

// Deps are the collaborators a Server routes requests to. Queue, Storage and
// RateLimiter may be nil; the routes that need them then answer 503 or run
// unthrottled.
type Deps struct {
	Engine      *transform.Engine
	Blobs       *blob.Registry
	Editor      *editor.Editor
	Sessions    *editor.MemoryStore
	BgRemover   bgremove.Remover
	Queue       queueEnqueuer
	Jobs        store.JobStore
	Storage     objectStorage
	RateLimiter ratelimit.Limiter
	Tracer      trace.Tracer
}

type queueEnqueuer interface {
	EnqueueTransform(ctx context.Context, payload queue.TransformPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	PresignedGetURL(ctx context.Context, objectKey, filename string, expiry time.Duration) (string, error)
	Stat(ctx context.Context, objectKey string) (storage.ObjectInfo, error)
}

var errUnavailable = errors.New("service is unavailable")

func NewServer(logger zerolog.Logger, cfg config.Config, deps Deps) *Server {
	if cfg.Storage.PresignTTL <= 0 {
		cfg.Storage.PresignTTL = 15 * time.Minute
	}
	if cfg.Transform.Timeout <= 0 {
		cfg.Transform.Timeout = 30 * time.Second
	}
	if deps.Storage == nil {
		deps.Storage = unavailableObjectStorage{}
	}
	if deps.BgRemover == nil {
		deps.BgRemover = bgremove.NewProvider(bgremove.ProviderConfig{})
	}

	s := &Server{
		logger:      logger.With().Str("component", "api").Logger(),
		cfg:         cfg,
		engine:      deps.Engine,
		blobs:       deps.Blobs,
		editor:      deps.Editor,
		sessions:    deps.Sessions,
		bgRemover:   deps.BgRemover,
		queueClient: deps.Queue,
		jobStore:    deps.Jobs,
		storage:     deps.Storage,
		rateLimiter: deps.RateLimiter,
		tracer:      deps.Tracer,
		metrics:     newMetrics(),
		validate:    newValidator(),
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(context.Context, string, time.Duration) (string, error) {
	return "", fmt.Errorf("object storage: %w", errUnavailable)
}

func (unavailableObjectStorage) PresignedGetURL(context.Context, string, string, time.Duration) (string, error) {
	return "", fmt.Errorf("object storage: %w", errUnavailable)
}

func (unavailableObjectStorage) Stat(context.Context, string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, fmt.Errorf("object storage: %w", errUnavailable)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Requests(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(s.withTracing)
	r.Use(s.metrics.withHTTPMetrics)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.withRateLimit)

		r.Get("/presets", s.handlePresets)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Patch("/", s.handleUpdateSession)
				r.Delete("/", s.handleDeleteSession)
				r.Post("/rotate", s.handleRotate)
				r.Post("/crop", s.handleSessionCrop)
				r.Post("/resize", s.handleSessionResize)
				r.Get("/download", s.handleDownload)
			})
		})

		r.Post("/crop", s.handleCrop)
		r.Post("/resize", s.handleResize)
		r.Get("/blobs/{id}", s.handleBlob)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleCreateJob)
			r.Get("/{id}", s.handleGetJob)
			r.Post("/{id}/start", s.handleStartJob)
		})
	})

	r.With(s.withRateLimit).Post("/api/bg-remove", s.handleBgRemove)

	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
