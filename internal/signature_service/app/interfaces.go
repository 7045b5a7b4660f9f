package app

import (
	"context"
	"io"

	"github.com/SujJR/ESign-sub002/internal/signature_service/domain"
)

// DocumentStorage resolves a stored document into readable content for the
// transient upload. Format conversion and template handling live behind this
// interface, outside the orchestrator.
type DocumentStorage interface {
	Open(ctx context.Context, filePath string) (io.ReadCloser, error)
}

// Notifier delivers signing notifications to recipients. Failures are
// logged by callers, never fatal to the signing workflow.
type Notifier interface {
	NotifySigningRequested(ctx context.Context, recipient domain.Recipient, doc *domain.Document, signingURL string) error
}
