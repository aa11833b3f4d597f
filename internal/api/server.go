package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roach88/gatescan/internal/engine"
	"github.com/roach88/gatescan/internal/mode"
	"github.com/roach88/gatescan/internal/remote"
	"github.com/roach88/gatescan/internal/scanner"
	"github.com/roach88/gatescan/internal/store"
	"github.com/roach88/gatescan/internal/syncer"
	"github.com/roach88/gatescan/internal/telemetry"
)

// Error codes returned in the error envelope.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeDuplicateScan  = "DUPLICATE_SCAN"
	CodeScanInFlight   = "SCAN_IN_FLIGHT"
	CodeDisconnected   = "DISCONNECTED"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeUnreachable    = "UNREACHABLE"
	CodeServerError    = "SERVER_ERROR"
	CodeInvalidCatalog = "INVALID_CATALOG"
	CodeStorageFailure = "STORAGE_FAILURE"
	CodeInternal       = "INTERNAL"
)

const maxRequestBody = 64 << 10

// Response is the JSON envelope for every API response.
type Response struct {
	Status string         `json:"status"` // "ok" or "error"
	Data   any            `json:"data,omitempty"`
	Error  *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse describes a failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ScanRequest is the body of POST /v1/scan.
type ScanRequest struct {
	Payload string `json:"payload"`
}

// ModeRequest is the body of PUT /v1/mode. Absent fields are left as they
// are.
type ModeRequest struct {
	OfflineMode *bool `json:"offlineMode,omitempty"`
	Online      *bool `json:"online,omitempty"`
}

// ModeResponse reports the mode inputs and the effective mode.
type ModeResponse struct {
	mode.State
	Effective mode.Mode `json:"effective"`
}

// Server exposes a scanner.Service over HTTP.
type Server struct {
	svc      *scanner.Service
	hub      *Hub
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics serves m at /metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a Server and subscribes its feed to svc's scans and mode
// changes. The hub must be running for the feed to deliver.
func New(svc *scanner.Service, hub *Hub, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		hub:    hub,
		logger: slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     sameHostOrigin,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	svc.Subscribe(func(ev scanner.Event) {
		hub.Broadcast(Message{Type: TypeScan, Payload: ev})
	})
	svc.Mode().Subscribe(func(_, next mode.State) {
		hub.Broadcast(Message{Type: TypeMode, Payload: modeResponse(next)})
	})
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/scan", s.scan)
		r.Post("/catalog/download", s.download)
		r.Post("/ledger/sync", s.sync)
		r.Get("/stats", s.stats)
		r.Delete("/offline-data", s.clear)
		r.Post("/logout", s.logout)
		r.Get("/mode", s.getMode)
		r.Put("/mode", s.putMode)
		r.Get("/feed", s.feed)
	})
	return r
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api: %w", err)
	}
	s.logger.Info("api stopped")
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"feed":      s.hub.ClientCount(),
	})
}

func (s *Server) scan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	if req.Payload == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "payload is required")
		return
	}

	outcome, err := s.svc.Scan(r.Context(), req.Payload)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeOK(w, http.StatusOK, outcomeResponse{Outcome: outcome, Tier: outcome.Tier()})
}

// outcomeResponse adds the derived tier to an outcome.
type outcomeResponse struct {
	engine.Outcome
	Tier engine.Tier `json:"tier"`
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.Download(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.hub.Broadcast(Message{Type: TypeDownload, Payload: summary})
	writeOK(w, http.StatusOK, summary)
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.Sync(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.hub.Broadcast(Message{Type: TypeSync, Payload: summary})
	writeOK(w, http.StatusOK, summary)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Stats(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeOK(w, http.StatusOK, report)
}

func (s *Server) clear(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Clear(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	s.hub.Broadcast(Message{Type: TypeClear})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Logout(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	s.hub.Broadcast(Message{Type: TypeClear})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getMode(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, modeResponse(s.svc.Mode().Snapshot()))
}

func (s *Server) putMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	ctl := s.svc.Mode()
	if req.OfflineMode != nil {
		ctl.SetOfflineMode(*req.OfflineMode)
	}
	if req.Online != nil {
		ctl.SetOnline(*req.Online)
	}
	writeOK(w, http.StatusOK, modeResponse(ctl.Snapshot()))
}

func (s *Server) feed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("feed upgrade failed", "error", err)
		return
	}

	var types []string
	if q := r.URL.Query().Get("types"); q != "" {
		types = strings.Split(q, ",")
	}
	s.hub.attach(r.Context(), uuid.NewString(), conn, types)
}

// fail maps a service error to a status and error code.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status, code := Classify(err)
	if status >= 500 {
		s.logger.Error("api request failed", "code", code, "error", err)
	}
	writeError(w, status, code, err.Error())
}

// Classify maps an error from the scanner service to an HTTP status and an
// error code. The CLI reuses the codes.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, scanner.ErrDuplicateScan):
		return http.StatusConflict, CodeDuplicateScan
	case errors.Is(err, scanner.ErrScanInFlight):
		return http.StatusConflict, CodeScanInFlight
	case errors.Is(err, scanner.ErrDisconnected):
		return http.StatusServiceUnavailable, CodeDisconnected
	case errors.Is(err, syncer.ErrInvalidCatalog):
		return http.StatusBadGateway, CodeInvalidCatalog
	case remote.IsUnauthorized(err):
		return http.StatusUnauthorized, CodeUnauthorized
	case remote.IsUnreachable(err):
		return http.StatusBadGateway, CodeUnreachable
	case remote.IsServerError(err):
		return http.StatusBadGateway, CodeServerError
	case engine.IsStorageFailure(err), store.IsIOFailure(err), store.IsNotInitialized(err):
		return http.StatusInternalServerError, CodeStorageFailure
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func modeResponse(st mode.State) ModeResponse {
	return ModeResponse{State: st, Effective: st.Effective()}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Response{Status: "ok", Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Response{Status: "error", Error: &ErrorResponse{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sameHostOrigin accepts requests without an Origin header (native shells)
// and browser requests from the daemon's own host.
func sameHostOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	host := strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://")
	return host == r.Host
}
