package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/SujJR/ESign-sub002/internal/signature_service/app"
)

const maxWebhookBodySize = 1 << 20 // 1 MB

// EventPublisher forwards accepted webhook events to the broker so HTTP
// ingress stays fast and events fan out to the consumer queue group.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// WebhookHandler receives agreement events from the signing provider.
type WebhookHandler struct {
	publisher EventPublisher
	subject   string
	secret    string
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewWebhookHandler creates the webhook ingress. secret is the shared value
// the provider echoes in X-Provider-Client-Secret; an empty secret disables
// the check (local development).
func NewWebhookHandler(publisher EventPublisher, subject, secret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		publisher: publisher,
		subject:   subject,
		secret:    secret,
		validate:  validator.New(),
		logger:    logger.With("component", "webhook_handler"),
	}
}

// HandleProviderEvent handles POST /webhooks/provider.
func (h *WebhookHandler) HandleProviderEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	if h.secret != "" {
		got := r.Header.Get("X-Provider-Client-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			logger.WarnContext(ctx, "Webhook rejected: bad client secret", "remote_addr", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	rawPayload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to read webhook body", "error", err)
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		return
	}

	var req WebhookEventRequest
	if err := json.Unmarshal(rawPayload, &req); err != nil {
		logger.ErrorContext(ctx, "Failed to parse webhook payload", "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		logger.WarnContext(ctx, "Webhook payload failed validation", "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	event := app.ProviderEvent{
		AgreementID:      req.Agreement.ID,
		EventType:        req.Event,
		ParticipantEmail: req.ParticipantEmail,
	}
	data, err := json.Marshal(event)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to marshal provider event", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := h.publisher.Publish(ctx, h.subject, data); err != nil {
		logger.ErrorContext(ctx, "Failed to publish provider event", "error", err, "subject", h.subject)
		// 5xx asks the provider to redeliver; reconciliation is idempotent.
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	logger.InfoContext(ctx, "Provider event accepted",
		"agreement_id", event.AgreementID, "event_type", event.EventType)
	w.WriteHeader(http.StatusOK)
}
