package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tournevent/collivery/pkg/collivery"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	APIErrors         *prometheus.CounterVec
	HTTPRequestsTotal *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg, or with the
// default registry when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collivery_requests_total",
				Help: "Total number of Collivery API requests by path and status",
			},
			[]string{"path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "collivery_request_duration_seconds",
				Help:    "Collivery API request duration in seconds by path",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		APIErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collivery_errors_total",
				Help: "Total Collivery API errors by error code",
			},
			[]string{"code"},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collivery_http_requests_total",
				Help: "Total HTTP bridge requests by route and status",
			},
			[]string{"route", "status"},
		),
	}
}

// RecordRequest records an API request metric.
func (m *Metrics) RecordRequest(path, status string, duration float64) {
	m.RequestsTotal.WithLabelValues(path, status).Inc()
	m.RequestDuration.WithLabelValues(path).Observe(duration)
}

// RecordError records an API error metric.
func (m *Metrics) RecordError(code string) {
	m.APIErrors.WithLabelValues(code).Inc()
}

// RecordHTTP records a request served by the HTTP bridge.
func (m *Metrics) RecordHTTP(route string, status int) {
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// Instrument wraps an API client so every request is counted and timed.
func (m *Metrics) Instrument(next collivery.APIClient) collivery.APIClient {
	return &instrumentedClient{next: next, metrics: m}
}

type instrumentedClient struct {
	next    collivery.APIClient
	metrics *Metrics
}

func (c *instrumentedClient) Request(ctx context.Context, method, path string, params map[string]any) (json.RawMessage, error) {
	start := time.Now()
	raw, err := c.next.Request(ctx, method, path, params)

	label := pathLabel(path)
	status := "ok"
	if err != nil {
		status = "error"
		code := collivery.CodeTransportFailed
		var apiErr *collivery.APIError
		if errors.As(err, &apiErr) {
			code = apiErr.Code()
		}
		c.metrics.RecordError(code)
	}
	c.metrics.RecordRequest(method+" "+label, status, time.Since(start).Seconds())
	return raw, err
}

// pathLabel replaces a trailing id so paths do not explode label
// cardinality.
func pathLabel(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 || i == len(path)-1 {
		return path
	}
	last := path[i+1:]
	if last[0] >= '0' && last[0] <= '9' {
		return path[:i] + "/{id}"
	}
	return path
}
