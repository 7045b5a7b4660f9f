package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/SujJR/ESign-sub002/internal/platform/messagebroker"
	"github.com/SujJR/ESign-sub002/internal/signature_service/domain"
)

// SigningRequestedEvent is handed to the notification pipeline; an external
// mailer consumes it and composes the outbound email.
type SigningRequestedEvent struct {
	DocumentID     string    `json:"document_id"`
	DocumentName   string    `json:"document_name"`
	RecipientName  string    `json:"recipient_name"`
	RecipientEmail string    `json:"recipient_email"`
	SigningURL     string    `json:"signing_url"`
	RequestedAt    time.Time `json:"requested_at"`
}

// NatsNotifier publishes signing notifications onto the broker rather than
// sending mail itself; email composition stays outside the orchestrator.
type NatsNotifier struct {
	natsClient *messagebroker.NatsClient
	subject    string
	logger     *slog.Logger
}

// NewNatsNotifier creates the notifier publishing on the given subject.
func NewNatsNotifier(natsClient *messagebroker.NatsClient, subject string, logger *slog.Logger) *NatsNotifier {
	return &NatsNotifier{
		natsClient: natsClient,
		subject:    subject,
		logger:     logger.With("component", "nats_notifier"),
	}
}

// NotifySigningRequested publishes one notification event per recipient.
func (n *NatsNotifier) NotifySigningRequested(ctx context.Context, recipient domain.Recipient, doc *domain.Document, signingURL string) error {
	event := SigningRequestedEvent{
		DocumentID:     doc.ID,
		DocumentName:   doc.Name,
		RecipientName:  recipient.Name,
		RecipientEmail: recipient.Email,
		SigningURL:     signingURL,
		RequestedAt:    time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling signing notification: %w", err)
	}
	if err := n.natsClient.Publish(ctx, n.subject, data); err != nil {
		return err
	}
	n.logger.DebugContext(ctx, "Published signing notification",
		"document_id", doc.ID, "recipient_email", recipient.Email)
	return nil
}
