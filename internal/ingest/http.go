package ingest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"statusbridge/internal/clock"
	"statusbridge/internal/domain"
)

// PayloadSink receives decoded notification batches from ingest interfaces.
// Params: context and decoded payload.
// Returns: processing error; partial business drops are not errors.
type PayloadSink interface {
	ProcessBatch(ctx context.Context, payload domain.WebhookPayload) error
}

// Stats counts ingest outcomes with atomic counters.
// Params: none.
// Returns: snapshot for the status endpoint and logs.
type Stats struct {
	batches   atomic.Int64
	accepted  atomic.Int64
	ignored   atomic.Int64
	malformed atomic.Int64
	authFail  atomic.Int64
	badShape  atomic.Int64
}

// StatsSnapshot is one point-in-time counter reading.
// Params: counter values.
// Returns: JSON-encodable status document.
type StatsSnapshot struct {
	Batches          int64 `json:"batches"`
	EventsAccepted   int64 `json:"events_accepted"`
	RecordsIgnored   int64 `json:"records_ignored"`
	RecordsMalformed int64 `json:"records_malformed"`
	AuthFailures     int64 `json:"auth_failures"`
	MalformedBodies  int64 `json:"malformed_bodies"`
	UptimeSec        int64 `json:"uptime_sec"`
}

// Record merges one batch's normalization stats into the counters.
// Params: per-batch normalization outcome.
// Returns: none.
func (s *Stats) Record(batch domain.NormalizeStats) {
	s.batches.Add(1)
	s.accepted.Add(int64(batch.Accepted))
	s.ignored.Add(int64(batch.Ignored))
	s.malformed.Add(int64(batch.Malformed))
}

// Snapshot reads all counters.
// Params: none.
// Returns: current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Batches:          s.batches.Load(),
		EventsAccepted:   s.accepted.Load(),
		RecordsIgnored:   s.ignored.Load(),
		RecordsMalformed: s.malformed.Load(),
		AuthFailures:     s.authFail.Load(),
		MalformedBodies:  s.badShape.Load(),
	}
}

// WebhookHandler decodes notification batches and forwards them to the sink.
// Params: sink, stats, basic-auth credentials, body limit, and logger.
// Returns: HTTP handler for the webhook endpoint.
type WebhookHandler struct {
	sink         PayloadSink
	stats        *Stats
	logger       *slog.Logger
	maxBodySize  int64
	authUsername string
	authPassword string
}

// NewWebhookHandler creates the webhook ingest handler.
// Params: sink, shared stats, auth credentials (empty username disables auth),
// body size limit, and logger.
// Returns: configured handler.
func NewWebhookHandler(sink PayloadSink, stats *Stats, username, password string, maxBodySize int64, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		sink:         sink,
		stats:        stats,
		logger:       logger,
		maxBodySize:  maxBodySize,
		authUsername: username,
		authPassword: password,
	}
}

// ServeHTTP handles one inbound notification request.
// Params: response writer and request.
// Returns: 401 before any state mutation on auth failure, 400 on payload
// shape errors, 200 on processing (business-logic drops included).
func (h *WebhookHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(request) {
		h.stats.authFail.Add(1)
		h.logger.Warn("webhook auth failed", "remote", request.RemoteAddr)
		writer.Header().Set("WWW-Authenticate", `Basic realm="statusbridge"`)
		writer.WriteHeader(http.StatusUnauthorized)
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		h.stats.badShape.Add(1)
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logRequest(request, body)

	payload, err := domain.DecodePayload(body)
	if err != nil {
		h.stats.badShape.Add(1)
		h.logger.Warn("webhook payload rejected", "remote", request.RemoteAddr, "error", err.Error())
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.sink.ProcessBatch(request.Context(), payload); err != nil {
		h.logger.Error("webhook batch processing failed", "remote", request.RemoteAddr, "error", err.Error())
		writer.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writer.WriteHeader(http.StatusOK)
}

// authorized checks inbound basic credentials in constant time.
// Params: inbound request.
// Returns: true when auth is disabled or credentials match.
func (h *WebhookHandler) authorized(request *http.Request) bool {
	if h.authUsername == "" {
		return true
	}
	username, password, ok := request.BasicAuth()
	if !ok {
		return false
	}
	userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(h.authUsername)) == 1
	passMatch := subtle.ConstantTimeCompare([]byte(password), []byte(h.authPassword)) == 1
	return userMatch && passMatch
}

// logRequest emits the structured inbound-request line for external filtering.
// Params: inbound request and raw body.
// Returns: none.
func (h *WebhookHandler) logRequest(request *http.Request, body []byte) {
	headers := make(map[string]string, len(request.Header))
	for name := range request.Header {
		if name == "Authorization" {
			continue
		}
		headers[name] = request.Header.Get(name)
	}
	h.logger.Info("webhook request",
		"remote", request.RemoteAddr,
		"headers", headers,
		"body", string(body),
	)
}

// HealthHandler responds to liveness probes.
// Params: service name reported in the body.
// Returns: HTTP handler for the health endpoint.
func HealthHandler(serviceName string) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(writer).Encode(map[string]string{
			"status":  "healthy",
			"service": serviceName,
		})
	})
}

// StatusHandler exposes ingest counters and uptime for operability checks.
// Params: shared stats, process start time, and clock.
// Returns: HTTP handler for the status endpoint.
func StatusHandler(stats *Stats, started time.Time, clk clock.Clock) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		snapshot := stats.Snapshot()
		snapshot.UptimeSec = int64(clk.Now().Sub(started).Seconds())
		writer.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(writer).Encode(snapshot)
	})
}
