package provider

import (
	"context"
	"io"
)

// SignatureProvider is the REST surface of the signing provider consumed by
// the orchestrator. Implementations classify failures through the transport
// error types (NetworkError, RateLimitError, ProviderError).
type SignatureProvider interface {
	// UploadTransientDocument uploads document bytes and returns the
	// provider's temporary handle for agreement creation.
	UploadTransientDocument(ctx context.Context, fileName, mimeType string, content io.Reader) (string, error)

	// CreateAgreement converts a transient document into an agreement.
	CreateAgreement(ctx context.Context, req *CreateAgreementRequest) (*CreateAgreementResponse, error)

	// GetAgreementSnapshot fetches agreement status plus participant detail
	// in one call from the caller's perspective.
	GetAgreementSnapshot(ctx context.Context, agreementID string) (*AgreementSnapshot, error)

	// GetSigningURLs returns the current per-recipient signing URLs.
	GetSigningURLs(ctx context.Context, agreementID string) ([]SigningURL, error)

	// SearchAgreementsByExternalID finds agreements created with the given
	// idempotency token.
	SearchAgreementsByExternalID(ctx context.Context, externalID string) ([]AgreementSummary, error)

	// GetAgreementEvents lists the agreement's audit trail.
	GetAgreementEvents(ctx context.Context, agreementID string) ([]AgreementEvent, error)

	// CreateWebhook registers a callback for agreement events.
	CreateWebhook(ctx context.Context, req *CreateWebhookRequest) error

	// GetName identifies the provider, e.g. for metrics labels.
	GetName() string
}
