package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/globalecho/internal/config"
	"github.com/loqalabs/globalecho/internal/eventstore"
	"github.com/loqalabs/globalecho/internal/protocol"
	"github.com/loqalabs/globalecho/internal/translate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	HeaderSessionID = "X-Session-ID"

	msgTextRequired    = "Text is required"
	msgTranslateFailed = "Failed to translate text"
)

// TranslateRequest is the POST /translate body.
type TranslateRequest struct {
	Text string `json:"text"`
}

// TranslateResponse carries either a translation or an error message.
type TranslateResponse struct {
	Translation string `json:"translation,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Recorder persists translation records.
type Recorder interface {
	TouchSession(ctx context.Context, sessionID, remoteAddr string) error
	Record(ctx context.Context, rec eventstore.Record) error
	ListSession(ctx context.Context, sessionID string, limit int) ([]eventstore.Record, error)
}

// Publisher broadcasts translation events.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Handler serves the translation gateway endpoints.
type Handler struct {
	cfg        config.TranslateConfig
	translator translate.Translator
	store      Recorder
	publisher  Publisher
	hub        *hub
	logger     *slog.Logger
	tracer     trace.Tracer
	requests   metric.Int64Counter
	latency    metric.Float64Histogram
}

// NewHandler wires a translator to HTTP. store and publisher may be nil.
func NewHandler(cfg config.TranslateConfig, translator translate.Translator, store Recorder, publisher Publisher, logger *slog.Logger) *Handler {
	h := &Handler{
		cfg:        cfg,
		translator: translator,
		store:      store,
		publisher:  publisher,
		hub:        newHub(),
		logger:     logger.With(slog.String("component", "gateway")),
		tracer:     otel.Tracer("github.com/loqalabs/globalecho/gateway"),
	}
	meter := otel.Meter("github.com/loqalabs/globalecho/gateway")
	var err error
	if h.requests, err = meter.Int64Counter("globalecho.translate.requests", metric.WithDescription("Translation requests by outcome")); err != nil {
		h.logger.Warn("failed to create request counter", slogError(err))
	}
	if h.latency, err = meter.Float64Histogram("globalecho.translate.latency", metric.WithDescription("Translation backend latency"), metric.WithUnit("ms")); err != nil {
		h.logger.Warn("failed to create latency histogram", slogError(err))
	}
	return h
}

// Routes registers the gateway endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /translate", h.handleTranslate)
	mux.HandleFunc("GET /sessions/{id}/events", h.handleSessionEvents)
	mux.HandleFunc("GET /sessions/{id}/stream", h.handleStream)
}

func (h *Handler) handleTranslate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "gateway.translate")
	defer span.End()

	sessionID := r.Header.Get(HeaderSessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	requestID := uuid.NewString()
	w.Header().Set(HeaderSessionID, sessionID)
	span.SetAttributes(attribute.String("session.id", sessionID), attribute.String("request.id", requestID))

	var body TranslateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Error("translation error", slog.String("session_id", sessionID), slogError(err))
		span.SetStatus(codes.Error, "decode request")
		h.count(ctx, "invalid")
		writeJSON(w, http.StatusInternalServerError, TranslateResponse{Error: msgTranslateFailed})
		return
	}
	if body.Text == "" {
		h.count(ctx, "rejected")
		writeJSON(w, http.StatusBadRequest, TranslateResponse{Error: msgTextRequired})
		return
	}

	if h.store != nil {
		if err := h.store.TouchSession(ctx, sessionID, r.RemoteAddr); err != nil {
			h.logger.Warn("failed to record session", slogError(err))
		}
	}

	req := translate.WithDefaults(h.cfg, translate.Request{
		SessionID: sessionID,
		Text:      body.Text,
		TraceID:   span.SpanContext().TraceID().String(),
	})
	start := time.Now()
	result, err := h.translator.Translate(ctx, req)
	elapsed := time.Since(start)
	if h.latency != nil {
		h.latency.Record(ctx, float64(elapsed.Milliseconds()))
	}

	evt := protocol.TranslationEvent{
		SessionID:  sessionID,
		RequestID:  requestID,
		Text:       body.Text,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
		LatencyMS:  elapsed.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
	if err != nil {
		h.logger.Error("translation error", slog.String("session_id", sessionID), slogError(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "translate")
		h.count(ctx, eventstore.StatusFailed)
		evt.Error = err.Error()
		h.persist(ctx, evt, eventstore.StatusFailed)
		writeJSON(w, http.StatusInternalServerError, TranslateResponse{Error: msgTranslateFailed})
		return
	}

	h.count(ctx, eventstore.StatusCompleted)
	evt.Translation = result.Text
	evt.Model = result.Model
	h.persist(ctx, evt, eventstore.StatusCompleted)
	h.logger.Info("translation complete",
		slog.String("session_id", sessionID),
		slog.String("model", result.Model),
		slog.Duration("latency", elapsed))
	writeJSON(w, http.StatusOK, TranslateResponse{Translation: result.Text})
}

func (h *Handler) persist(ctx context.Context, evt protocol.TranslationEvent, status string) {
	if h.store != nil {
		rec := eventstore.Record{
			SessionID:   evt.SessionID,
			RequestID:   evt.RequestID,
			Status:      status,
			Text:        evt.Text,
			Translation: evt.Translation,
			Error:       evt.Error,
			Model:       evt.Model,
			LatencyMS:   evt.LatencyMS,
			CreatedAt:   evt.Timestamp,
		}
		if err := h.store.Record(ctx, rec); err != nil {
			h.logger.Warn("failed to record translation", slogError(err))
		}
	}
	if dropped := h.hub.broadcast(evt); dropped > 0 {
		h.logger.Warn("stream subscribers lagging", slog.Int("dropped", dropped))
	}
	if h.publisher != nil {
		subject := protocol.SubjectTranslateCompleted
		if status == eventstore.StatusFailed {
			subject = protocol.SubjectTranslateFailed
		}
		if err := h.publisher.PublishJSON(subject, evt); err != nil {
			h.logger.Warn("failed to publish translation event", slogError(err))
		}
	}
}

type sessionEventsResponse struct {
	SessionID string              `json:"session_id"`
	Events    []eventstore.Record `json:"events"`
}

func (h *Handler) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, TranslateResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	resp := sessionEventsResponse{SessionID: sessionID, Events: []eventstore.Record{}}
	if h.store != nil {
		records, err := h.store.ListSession(r.Context(), sessionID, limit)
		if err != nil {
			h.logger.Error("failed to list session events", slogError(err))
			writeJSON(w, http.StatusInternalServerError, TranslateResponse{Error: "Failed to load session events"})
			return
		}
		if records != nil {
			resp.Events = records
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) count(ctx context.Context, outcome string) {
	if h.requests == nil {
		return
	}
	h.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome), attribute.String("mode", h.cfg.Mode)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
