package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/SujJR/ESign-sub002/internal/platform/messagebroker"
)

// ProviderEventConsumer consumes provider webhook events published to NATS
// by the HTTP ingress and feeds them into reconciliation. The queue group
// spreads events across instances without duplicate processing.
type ProviderEventConsumer struct {
	natsClient *messagebroker.NatsClient
	appService *SignatureAppService
	logger     *slog.Logger
	sub        *nats.Subscription
}

// NewProviderEventConsumer wires the consumer.
func NewProviderEventConsumer(natsClient *messagebroker.NatsClient, appService *SignatureAppService, logger *slog.Logger) *ProviderEventConsumer {
	return &ProviderEventConsumer{
		natsClient: natsClient,
		appService: appService,
		logger:     logger.With("component", "provider_event_consumer"),
	}
}

// Start subscribes to the event subject. Each event gets its own bounded
// context; a failed event is logged and dropped, since the next webhook or
// manual status check reconciles the same state.
func (c *ProviderEventConsumer) Start(ctx context.Context, subject, queueGroup string) error {
	handler := func(msg *nats.Msg) {
		c.logger.Info("Received provider event", "subject", msg.Subject, "data_len", len(msg.Data))

		var event ProviderEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			c.logger.Error("Failed to unmarshal provider event", "error", err, "data", string(msg.Data))
			return
		}

		eventCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if err := c.appService.ProcessProviderEvent(eventCtx, event); err != nil {
			c.logger.Error("Failed to process provider event",
				"error", err, "agreement_id", event.AgreementID, "event_type", event.EventType)
		}
	}

	sub, err := c.natsClient.Subscribe(ctx, subject, queueGroup, handler)
	if err != nil {
		return err
	}
	c.sub = sub
	c.logger.Info("Provider event consumer started", "subject", subject, "queue_group", queueGroup)
	return nil
}

// Stop unsubscribes from the event subject.
func (c *ProviderEventConsumer) Stop() {
	if c.sub != nil && c.sub.IsValid() {
		if err := c.sub.Unsubscribe(); err != nil {
			c.logger.Error("Failed to unsubscribe provider event consumer", "error", err)
		}
	}
}
