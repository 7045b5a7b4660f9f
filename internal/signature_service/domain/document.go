package domain

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// DocumentStatus defines the lifecycle states of a document.
type DocumentStatus string

const (
	DocumentStatusUploaded          DocumentStatus = "uploaded"
	DocumentStatusProcessing        DocumentStatus = "processing"
	DocumentStatusReadyForSignature DocumentStatus = "ready_for_signature"
	DocumentStatusSentForSignature  DocumentStatus = "sent_for_signature"
	DocumentStatusOutForSignature   DocumentStatus = "out_for_signature"
	DocumentStatusPartiallySigned   DocumentStatus = "partially_signed"
	DocumentStatusCompleted         DocumentStatus = "completed"
	DocumentStatusCancelled         DocumentStatus = "cancelled"
	DocumentStatusExpired           DocumentStatus = "expired"
	DocumentStatusFailed            DocumentStatus = "failed"
	DocumentStatusSignatureError    DocumentStatus = "signature_error"
)

// Value implements the driver.Valuer interface for DocumentStatus.
func (s DocumentStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Scan implements the sql.Scanner interface for DocumentStatus.
func (s *DocumentStatus) Scan(value interface{}) error {
	strVal, ok := value.(string)
	if !ok {
		bytesVal, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("failed to scan DocumentStatus: value is %T, not string or []byte", value)
		}
		strVal = string(bytesVal)
	}
	*s = DocumentStatus(strVal)
	return nil
}

// RecipientStatus defines the signing states of a single recipient.
type RecipientStatus string

const (
	RecipientStatusPending  RecipientStatus = "pending"
	RecipientStatusSent     RecipientStatus = "sent"
	RecipientStatusViewed   RecipientStatus = "viewed"
	RecipientStatusWaiting  RecipientStatus = "waiting"
	RecipientStatusSigned   RecipientStatus = "signed"
	RecipientStatusDeclined RecipientStatus = "declined"
	RecipientStatusExpired  RecipientStatus = "expired"
)

// Value implements the driver.Valuer interface for RecipientStatus.
func (s RecipientStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Scan implements the sql.Scanner interface for RecipientStatus.
func (s *RecipientStatus) Scan(value interface{}) error {
	strVal, ok := value.(string)
	if !ok {
		bytesVal, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("failed to scan RecipientStatus: value is %T, not string or []byte", value)
		}
		strVal = string(bytesVal)
	}
	*s = RecipientStatus(strVal)
	return nil
}

// Metadata keys written by the orchestrator into Document.ProviderMetadata.
const (
	MetaMethodUsed        = "method_used"
	MetaRateLimited       = "rate_limited"
	MetaRetryAfterSeconds = "retry_after_seconds"
	MetaRecoveryApplied   = "recovery_applied"
	MetaIdempotencyToken  = "idempotency_token"
)

// Recipient is one signer of a document, identified by email and positioned
// in the signing order (1-based).
type Recipient struct {
	ID             string          `json:"id"` // UUID
	DocumentID     string          `json:"document_id"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	Order          int             `json:"order"`
	Status         RecipientStatus `json:"status"`
	SignedAt       *time.Time      `json:"signed_at,omitempty"`
	LastAccessedAt *time.Time      `json:"last_accessed_at,omitempty"`
	SigningURL     *string         `json:"signing_url,omitempty"`
}

// Document is the unit of work tracked through the signature lifecycle.
// ProviderAgreementID is set once the provider-side agreement exists and is
// never cleared; its presence implies the status has advanced past
// ready_for_signature.
type Document struct {
	ID                  string                 `json:"id"` // UUID
	Name                string                 `json:"name"`
	FilePath            string                 `json:"file_path"`
	Status              DocumentStatus         `json:"status"`
	ProviderAgreementID *string                `json:"provider_agreement_id,omitempty"`
	TransientDocID      *string                `json:"transient_doc_id,omitempty"`
	Recipients          []Recipient            `json:"recipients"`
	ProviderMetadata    map[string]interface{} `json:"provider_metadata,omitempty"`
	ErrorMessage        *string                `json:"error_message,omitempty"`
	SequentialSigning   bool                   `json:"sequential_signing"`
	AutoDetectedFields  bool                   `json:"auto_detected_fields"`
	Version             int64                  `json:"version"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

// RecipientByEmail finds a recipient by case-insensitive email.
// Returns nil when no recipient matches.
func (d *Document) RecipientByEmail(email string) *Recipient {
	for i := range d.Recipients {
		if strings.EqualFold(d.Recipients[i].Email, email) {
			return &d.Recipients[i]
		}
	}
	return nil
}

// SetMetadata writes a key into the provider metadata bag, allocating it on
// first use.
func (d *Document) SetMetadata(key string, value interface{}) {
	if d.ProviderMetadata == nil {
		d.ProviderMetadata = make(map[string]interface{})
	}
	d.ProviderMetadata[key] = value
}

// IdempotencyToken returns the client-generated token embedded in the
// creation request, when one has been recorded.
func (d *Document) IdempotencyToken() string {
	if d.ProviderMetadata == nil {
		return ""
	}
	tok, _ := d.ProviderMetadata[MetaIdempotencyToken].(string)
	return tok
}

// ValidateForSend rejects documents that cannot be submitted before any
// network call is made.
func (d *Document) ValidateForSend() error {
	if len(d.Recipients) == 0 {
		return &ValidationError{Field: "recipients", Reason: "at least one recipient is required"}
	}
	seen := make(map[string]struct{}, len(d.Recipients))
	for _, r := range d.Recipients {
		if r.Email == "" {
			return &ValidationError{Field: "recipients.email", Reason: "recipient email is required"}
		}
		key := strings.ToLower(r.Email)
		if _, dup := seen[key]; dup {
			return &ValidationError{Field: "recipients.email", Reason: fmt.Sprintf("duplicate recipient email %q", r.Email)}
		}
		seen[key] = struct{}{}
		if r.Order < 1 {
			return &ValidationError{Field: "recipients.order", Reason: fmt.Sprintf("recipient %q has non-positive order %d", r.Email, r.Order)}
		}
	}
	switch d.Status {
	case DocumentStatusReadyForSignature, DocumentStatusUploaded, DocumentStatusProcessing:
		return nil
	default:
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("document in status %q cannot be sent", d.Status)}
	}
}
