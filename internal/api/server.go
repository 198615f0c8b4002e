package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/eargollo/mediaid/internal/api/handlers"
	"github.com/eargollo/mediaid/internal/metrics"
)

// Server holds the HTTP server and all handler dependencies.
type Server struct {
	addr    string
	handler http.Handler
	srv     *http.Server
}

// New wires all routes and returns a Server ready to Run. m may be nil, in
// which case /metrics is not mounted.
func New(addr string, store handlers.Store, m *metrics.Metrics) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors(serviceMethods))

	fpH := &handlers.FingerprintHandler{Store: store, Metrics: m}

	r.Get("/health", handlers.Health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/query-hash/{hash}", fpH.QueryHash)
		r.Post("/submit-hash", fpH.SubmitHash)
		r.Get("/stats", fpH.Stats)
	})
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	return &Server{
		addr:    addr,
		handler: r,
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Control holds what the daemon control endpoints need. Schedule may be
// nil.
type Control struct {
	Scans    handlers.ScanController
	History  handlers.HistorySource
	Schedule handlers.Schedule
}

// NewControl wires the daemon control routes: status, live progress, scan
// history, and starting or cancelling a scan.
func NewControl(addr string, ctl Control) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors(controlMethods))

	scansH := &handlers.ScansHandler{Scans: ctl.Scans, History: ctl.History}
	statusH := &handlers.StatusHandler{Scans: ctl.Scans, Schedule: ctl.Schedule}

	r.Get("/health", handlers.Health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusH.ServeHTTP)
		r.Get("/scans", scansH.List)
		r.Post("/scans", scansH.Create)
		r.Get("/scans/current", scansH.Current)
		r.Delete("/scans/current", scansH.Cancel)
	})

	return &Server{
		addr:    addr,
		handler: r,
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the root router.
func (s *Server) Handler() http.Handler { return s.handler }

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
