package httpapi

import (
	"time"

	"github.com/SujJR/ESign-sub002/internal/signature_service/domain"
	"github.com/SujJR/ESign-sub002/internal/signature_service/provider"
)

// SendResponse is returned by POST /documents/{documentID}/send.
type SendResponse struct {
	Status          domain.DocumentStatus `json:"status"`
	AgreementID     string                `json:"agreement_id,omitempty"`
	MethodUsed      string                `json:"method_used,omitempty"`
	RateLimited     bool                  `json:"rate_limited,omitempty"`
	RetryAfterSec   int                   `json:"retry_after_seconds,omitempty"`
	RecoveryApplied bool                  `json:"recovery_applied,omitempty"`
}

// RecoverResponse is returned by POST /documents/{documentID}/recover.
type RecoverResponse struct {
	Recovered bool             `json:"recovered"`
	Document  DocumentResponse `json:"document"`
}

// RecipientResponse is the API view of one recipient.
type RecipientResponse struct {
	Name           string                 `json:"name"`
	Email          string                 `json:"email"`
	Order          int                    `json:"order"`
	Status         domain.RecipientStatus `json:"status"`
	SignedAt       *time.Time             `json:"signed_at,omitempty"`
	LastAccessedAt *time.Time             `json:"last_accessed_at,omitempty"`
	SigningURL     *string                `json:"signing_url,omitempty"`
}

// DocumentResponse is the API view of a document.
type DocumentResponse struct {
	ID                  string                 `json:"id"`
	Name                string                 `json:"name"`
	Status              domain.DocumentStatus  `json:"status"`
	ProviderAgreementID *string                `json:"provider_agreement_id,omitempty"`
	Recipients          []RecipientResponse    `json:"recipients"`
	ProviderMetadata    map[string]interface{} `json:"provider_metadata,omitempty"`
	ErrorMessage        *string                `json:"error_message,omitempty"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

// WebhookEventRequest is the provider's webhook payload, reduced to the
// fields reconciliation needs.
type WebhookEventRequest struct {
	Event     string `json:"event" validate:"required"`
	Agreement struct {
		ID string `json:"id" validate:"required"`
	} `json:"agreement"`
	ParticipantEmail string `json:"participantUserEmail,omitempty"`
}

// EventResponse is one audit-trail entry of the provider agreement.
type EventResponse struct {
	Type             string     `json:"type"`
	ParticipantEmail string     `json:"participant_email,omitempty"`
	Date             *time.Time `json:"date,omitempty"`
	Description      string     `json:"description,omitempty"`
}

// EventsResponse is returned by GET /documents/{documentID}/events.
type EventsResponse struct {
	Events []EventResponse `json:"events"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func toEventResponses(events []provider.AgreementEvent) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, EventResponse{
			Type:             e.Type,
			ParticipantEmail: e.ParticipantEmail,
			Date:             e.Date,
			Description:      e.Description,
		})
	}
	return out
}

func toDocumentResponse(doc *domain.Document) DocumentResponse {
	resp := DocumentResponse{
		ID:                  doc.ID,
		Name:                doc.Name,
		Status:              doc.Status,
		ProviderAgreementID: doc.ProviderAgreementID,
		ProviderMetadata:    doc.ProviderMetadata,
		ErrorMessage:        doc.ErrorMessage,
		UpdatedAt:           doc.UpdatedAt,
	}
	for _, r := range doc.Recipients {
		resp.Recipients = append(resp.Recipients, RecipientResponse{
			Name:           r.Name,
			Email:          r.Email,
			Order:          r.Order,
			Status:         r.Status,
			SignedAt:       r.SignedAt,
			LastAccessedAt: r.LastAccessedAt,
			SigningURL:     r.SigningURL,
		})
	}
	return resp
}
