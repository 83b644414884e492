package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tournevent/collivery/internal/telemetry"
	"github.com/tournevent/collivery/pkg/collivery"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ClientFactory returns a fresh client for one request. Clients are not
// safe for concurrent use; factories share the cache store instead.
type ClientFactory func() *collivery.Client

// Server is the HTTP bridge in front of the Collivery client.
type Server struct {
	port      int
	newClient ClientFactory
	logger    *otelzap.Logger
	metrics   *telemetry.Metrics
	gatherer  prometheus.Gatherer
}

// Config holds server configuration.
type Config struct {
	Port     int
	Gatherer prometheus.Gatherer // served on /metrics; defaults to the global registry
}

// New creates a new server instance.
func New(cfg Config, newClient ClientFactory, logger *otelzap.Logger, metrics *telemetry.Metrics) *Server {
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		port:      cfg.Port,
		newClient: newClient,
		logger:    logger,
		metrics:   metrics,
		gatherer:  gatherer,
	}
}

// Handler returns the routes of the bridge.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check
	s.route(mux, "GET /health", s.handleHealth)

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.route(mux, "POST /v1/quote", s.handleQuote)
	s.route(mux, "POST /v1/validate", s.handleValidate)
	s.route(mux, "POST /v1/colliveries", s.handleCreate)
	s.route(mux, "POST /v1/colliveries/{id}/accept", s.handleAccept)
	s.route(mux, "GET /v1/colliveries/{id}/status", s.handleStatus)
	s.route(mux, "GET /v1/towns", s.handleTowns)
	s.route(mux, "GET /v1/reference", s.handleReference)

	return mux
}

// Run starts the HTTP server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ============================================================================
// Middleware
// ============================================================================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// route registers h with a request id and request metrics.
func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r.WithContext(collivery.ContextWithRequestID(r.Context(), requestID)))

		if s.metrics != nil {
			s.metrics.RecordHTTP(pattern, rec.status)
		}
	})
}

// ============================================================================
// Handlers
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req collivery.ShipmentRequest
	if !s.decode(w, r, &req) {
		return
	}

	client := s.newClient()
	defer client.Close()

	quote, err := client.Quote(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req collivery.ShipmentRequest
	if !s.decode(w, r, &req) {
		return
	}

	client := s.newClient()
	defer client.Close()

	quote, err := client.ValidateShipment(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req collivery.ShipmentRequest
	if !s.decode(w, r, &req) {
		return
	}

	client := s.newClient()
	defer client.Close()

	id, err := client.CreateShipment(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]int{"waybill_id": id})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id, ok := s.waybillID(w, r)
	if !ok {
		return
	}

	client := s.newClient()
	defer client.Close()

	status, err := client.AcceptShipment(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.waybillID(w, r)
	if !ok {
		return
	}

	client := s.newClient()
	defer client.Close()

	status, err := client.Status(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleTowns(w http.ResponseWriter, r *http.Request) {
	client := s.newClient()
	defer client.Close()

	var (
		towns map[int]string
		err   error
	)
	if name := r.URL.Query().Get("search"); name != "" {
		towns, err = client.SearchTowns(r.Context(), name)
	} else {
		towns, err = client.Towns(r.Context(), r.URL.Query().Get("country"), r.URL.Query().Get("province"))
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, towns)
}

type referenceResponse struct {
	Towns         map[int]string               `json:"towns"`
	Services      map[int]string               `json:"services"`
	ParcelTypes   map[int]collivery.ParcelType `json:"parcel_types"`
	LocationTypes map[int]string               `json:"location_types"`
}

// handleReference loads every reference list in parallel, one client per
// lookup.
func (s *Server) handleReference(w http.ResponseWriter, r *http.Request) {
	var resp referenceResponse
	g, ctx := errgroup.WithContext(r.Context())

	g.Go(func() error {
		client := s.newClient()
		defer client.Close()
		var err error
		resp.Towns, err = client.Towns(ctx, "", "")
		return err
	})
	g.Go(func() error {
		client := s.newClient()
		defer client.Close()
		var err error
		resp.Services, err = client.Services(ctx)
		return err
	})
	g.Go(func() error {
		client := s.newClient()
		defer client.Close()
		var err error
		resp.ParcelTypes, err = client.ParcelTypes(ctx)
		return err
	})
	g.Go(func() error {
		client := s.newClient()
		defer client.Close()
		var err error
		resp.LocationTypes, err = client.LocationTypes(ctx)
		return err
	})

	if err := g.Wait(); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// ============================================================================
// Helpers
// ============================================================================

type errorResponse struct {
	Error  string                 `json:"error"`
	Errors collivery.ErrorSet     `json:"errors,omitempty"`
	Fields []collivery.FieldError `json:"fields,omitempty"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) waybillID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid waybill id"})
		return 0, false
	}
	return id, true
}

// writeError answers 422 when the request failed validation and 502 when
// the Collivery API could not serve it.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error()}
	status := http.StatusBadGateway

	var verr *collivery.ValidationError
	if errors.As(err, &verr) {
		resp.Errors = verr.Errors
		resp.Fields = verr.Fields
		if verr.Has(collivery.CodeMissingData) || verr.Has(collivery.CodeInvalidData) {
			status = http.StatusUnprocessableEntity
		}
	}

	s.logger.Ctx(r.Context()).Warn("Request failed",
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	)
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
