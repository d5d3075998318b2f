// Package server - HTTP and WebSocket boundary of the studio.
package server

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/live-detect/capture"
	"github.com/nvr-ai/live-detect/scheduler"
	"github.com/nvr-ai/live-detect/studio"
)

// Studio is what the handlers drive.
type Studio interface {
	Status() studio.Status
	Toggle(ctx context.Context) (studio.RunState, error)
	Upload(ctx context.Context, data []byte) (scheduler.Report, error)
	Capture(ctx context.Context) (capture.CapturedImage, error)
	CaptureInfos() []studio.CaptureInfo
	Download(position int) (capture.CapturedImage, error)
	Export(ctx context.Context, position int) (capture.CapturedImage, error)
	ExportAll(ctx context.Context) (int, error)
	Frame() (image.Image, bool)
}

// Options configures the HTTP server.
type Options struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	MaxUploadBytes    int64
}

// Server serves the studio API.
type Server struct {
	studio Studio
	events http.Handler
	logger *zap.SugaredLogger
	opts   Options
	router *mux.Router
}

// New builds the router. events serves the WebSocket stream, nil disables it.
func New(s Studio, events http.Handler, logger *zap.SugaredLogger, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = 10 * time.Second
	}

	srv := &Server{studio: s, events: events, logger: logger, opts: opts, router: mux.NewRouter()}

	api := srv.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", srv.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/toggle", srv.handleToggle).Methods(http.MethodPost)
	api.HandleFunc("/upload", srv.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/frame", srv.handleFrame).Methods(http.MethodGet)
	api.HandleFunc("/captures", srv.handleCapture).Methods(http.MethodPost)
	api.HandleFunc("/captures", srv.handleListCaptures).Methods(http.MethodGet)
	api.HandleFunc("/captures/export", srv.handleExportAll).Methods(http.MethodPost)
	api.HandleFunc("/captures/{index:[0-9]+}", srv.handleDownload).Methods(http.MethodGet)
	api.HandleFunc("/captures/{index:[0-9]+}/export", srv.handleExport).Methods(http.MethodPost)
	if events != nil {
		api.Handle("/ws", events).Methods(http.MethodGet)
	}

	srv.router.Use(srv.logRequests)
	return srv
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("http server listening", "addr", s.opts.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debugw("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func positionParam(r *http.Request) (int, error) {
	return strconv.Atoi(mux.Vars(r)["index"])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
