// Package worker provides the HTTP service for fathom: the issue group
// API, batch run triggers, and the live change feed.
package worker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/fathomdesk/fathom/internal/grouping"
	"github.com/fathomdesk/fathom/internal/worker/sse"
	"github.com/fathomdesk/fathom/pkg/models"
)

const (
	// DefaultHTTPTimeout bounds request handling, except the SSE stream.
	DefaultHTTPTimeout = 60 * time.Second

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second
)

// GroupReader is the subset of group store methods the API serves from.
type GroupReader interface {
	ListWithCounts(ctx context.Context) ([]models.IssueGroup, error)
	GetByID(ctx context.Context, id int64) (*models.IssueGroup, error)
	Members(ctx context.Context, groupID int64) ([]models.Conversation, error)
}

// MembershipWriter mutates conversation group membership.
type MembershipWriter interface {
	AssignGroup(ctx context.Context, conversationID, groupID int64) error
	UnassignGroup(ctx context.Context, conversationID int64) error
}

// BatchRunner triggers one batch clustering run.
type BatchRunner interface {
	RunBatch(ctx context.Context) (grouping.Result, error)
}

// Backfiller fingerprints conversations that are missing one.
type Backfiller interface {
	Run(ctx context.Context, limit int) (*grouping.BackfillResult, error)
}

// Categorizer classifies a single conversation against existing groups.
type Categorizer interface {
	Categorize(ctx context.Context, conversationID int64) (*grouping.CategorizeResult, error)
}

// Deps are the collaborators the service exposes over HTTP.
type Deps struct {
	Groups      GroupReader
	Memberships MembershipWriter
	Runner      BatchRunner
	Backfiller  Backfiller
	Categorizer Categorizer
}

// Service is the HTTP front of the clustering engine.
type Service struct {
	deps        Deps
	broadcaster *sse.Broadcaster
	router      *chi.Mux
	server      *http.Server
	logger      zerolog.Logger
	version     string
	startTime   time.Time
}

// NewService creates the HTTP service. The caller wires stores and the
// engine; the service only routes.
func NewService(version string, deps Deps, logger zerolog.Logger) *Service {
	svc := &Service{
		version:     version,
		deps:        deps,
		broadcaster: sse.NewBroadcaster(),
		router:      chi.NewRouter(),
		logger:      logger.With().Str("component", "worker").Logger(),
		startTime:   time.Now(),
	}

	svc.setupMiddleware()
	svc.setupRoutes()

	return svc
}

// Broadcaster exposes the SSE broadcaster so callers can wire it as an
// event notifier.
func (s *Service) Broadcaster() *sse.Broadcaster {
	return s.broadcaster
}

func (s *Service) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
}

func (s *Service) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/health", s.handleHealth)

	s.router.Get("/api/groups", s.handleListGroups)
	s.router.Get("/api/groups/{id}", s.handleGetGroup)
	s.router.Post("/api/groups/run", s.handleRunBatch)

	s.router.Post("/api/backfill", s.handleBackfill)

	s.router.Post("/api/conversations/{id}/categorize", s.handleCategorize)
	s.router.Post("/api/conversations/{id}/group", s.handleAssignGroup)
	s.router.Delete("/api/conversations/{id}/group", s.handleUnassignGroup)

	// Live change feed. No timeout middleware here: the stream stays
	// open for the client's lifetime.
	s.router.Get("/api/events", s.broadcaster.HandleSSE)
}

// Router returns the HTTP handler, mainly for tests.
func (s *Service) Router() http.Handler {
	return s.router
}

// Start runs the HTTP server until the context is canceled. Blocks.
func (s *Service) Start(ctx context.Context, addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		s.logger.Info().Msg("Shutting down HTTP server")
		return s.server.Shutdown(shutdownCtx)
	}
}
