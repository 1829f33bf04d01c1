package ingest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"alertrelay/internal/domain"
	"alertrelay/internal/metrics"
	"alertrelay/internal/routing"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// SecretHeader carries the optional shared webhook secret.
const SecretHeader = "X-Webhook-Secret"

// Sink routes and delivers one normalized alert.
// Params: request context and canonical alert.
// Returns: routing decision (possibly dropped) or delivery error.
type Sink interface {
	Handle(ctx context.Context, alert domain.Alert) (routing.Decision, error)
}

// Enricher adds log lines to a monitor alert that arrived without any.
// Params: request context and alert to extend in place.
// Returns: lookup error; the alert is still routed when enrichment fails.
type Enricher interface {
	Enrich(ctx context.Context, alert *domain.Alert) error
}

// Options configures webhook handlers.
type Options struct {
	Secret       string
	MaxBodyBytes int64
	Limiter      *rate.Limiter
	Enricher     Enricher
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	Now          func() time.Time
}

// Handler serves the monitor and local alert endpoints.
type Handler struct {
	sink Sink
	opts Options
}

type response struct {
	OK      bool   `json:"ok"`
	ID      string `json:"id,omitempty"`
	Dropped string `json:"dropped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewHandler creates webhook handlers around one sink.
// Params: sink and options; zero options fall back to 1 MiB body and no secret.
// Returns: configured handler.
func NewHandler(sink Sink, opts Options) *Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{sink: sink, opts: opts}
}

// Monitor handles log-platform monitor webhooks.
// Returns: 200 on delivery or suppression, 400/403/429 on rejection, 502 on delivery failure.
func (h *Handler) Monitor() http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		source := string(domain.SourceMonitor)
		if !h.authorized(request) {
			h.reject(writer, source, http.StatusForbidden, "bad_secret", "invalid secret")
			return
		}
		if h.opts.Limiter != nil && !h.opts.Limiter.Allow() {
			h.reject(writer, source, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		body, ok := h.readBody(writer, request, source)
		if !ok {
			return
		}
		alert, err := NormalizeMonitor(body, h.opts.Now())
		if err != nil {
			h.rejectValidation(writer, source, err)
			return
		}
		if h.opts.Enricher != nil && len(alert.Messages) == 0 && alert.Service != "" {
			if err := h.opts.Enricher.Enrich(request.Context(), &alert); err != nil {
				h.opts.Logger.Warn("alert enrichment failed", "monitor", alert.Monitor, "error", err.Error())
			}
		}
		h.dispatch(writer, request, alert)
	}
}

// Local handles {"title","body"} alerts from local services.
// Returns: 200 on delivery or suppression, 400 on malformed payload, 502 on delivery failure.
func (h *Handler) Local() http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		source := string(domain.SourceLocal)
		body, ok := h.readBody(writer, request, source)
		if !ok {
			return
		}
		alert, err := NormalizeLocal(body, h.opts.Now())
		if err != nil {
			h.rejectValidation(writer, source, err)
			return
		}
		h.dispatch(writer, request, alert)
	}
}

func (h *Handler) authorized(request *http.Request) bool {
	if h.opts.Secret == "" {
		return true
	}
	got := request.Header.Get(SecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.opts.Secret)) == 1
}

func (h *Handler) readBody(writer http.ResponseWriter, request *http.Request, source string) ([]byte, bool) {
	request.Body = http.MaxBytesReader(writer, request.Body, h.opts.MaxBodyBytes)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(writer, source, http.StatusRequestEntityTooLarge, "too_large", "payload too large")
			return nil, false
		}
		h.reject(writer, source, http.StatusBadRequest, "read_failed", "cannot read body")
		return nil, false
	}
	return body, true
}

func (h *Handler) dispatch(writer http.ResponseWriter, request *http.Request, alert domain.Alert) {
	alert.ID = uuid.NewString()
	source := string(alert.Source)
	h.opts.Metrics.Received(source)
	logger := h.opts.Logger.With("alert_id", alert.ID, "source", source, "title", alert.Title)

	decision, err := h.sink.Handle(request.Context(), alert)
	switch {
	case err != nil:
		h.opts.Metrics.Delivered(source, false)
		logger.Error("alert delivery failed", "chat_id", decision.Destination.ChatID, "error", err.Error())
		writeJSON(writer, http.StatusBadGateway, response{ID: alert.ID, Error: "delivery failed"})
	case decision.Dropped():
		h.opts.Metrics.Suppressed(source, decision.DropReason)
		logger.Info("alert suppressed", "reason", decision.DropReason, "match", decision.DropMatch)
		writeJSON(writer, http.StatusOK, response{OK: true, ID: alert.ID, Dropped: decision.DropReason})
	default:
		h.opts.Metrics.Delivered(source, true)
		logger.Info("alert delivered",
			"chat_id", decision.Destination.ChatID,
			"topic_id", decision.Destination.TopicID,
			"tags", decision.Tags,
			"high", decision.High,
		)
		writeJSON(writer, http.StatusOK, response{OK: true, ID: alert.ID})
	}
}

func (h *Handler) rejectValidation(writer http.ResponseWriter, source string, err error) {
	reason, message := "invalid", err.Error()
	if validation, ok := domain.AsValidation(err); ok {
		reason = validation.Reason
	}
	h.reject(writer, source, http.StatusBadRequest, reason, message)
}

func (h *Handler) reject(writer http.ResponseWriter, source string, status int, reason, message string) {
	h.opts.Metrics.Rejected(source, reason)
	h.opts.Logger.Warn("alert rejected", "source", source, "status", status, "reason", reason, "error", message)
	writeJSON(writer, status, response{Error: message})
}

func writeJSON(writer http.ResponseWriter, status int, payload response) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(payload)
}
