package provider

import "time"

// Wire DTOs for the signing provider's REST API.

// UploadTransientResponse is returned by the transient document upload.
type UploadTransientResponse struct {
	TransientDocumentID string `json:"transientDocumentId"`
}

// FileInfo references a previously uploaded transient document.
type FileInfo struct {
	TransientDocumentID string `json:"transientDocumentId"`
}

// MemberInfo is one participant inside a participant set.
type MemberInfo struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// ParticipantSetInfo groups the members who sign at the same order position.
// Sequential signing uses one set per recipient with increasing order;
// parallel signing puts every recipient in a single set with order 1.
type ParticipantSetInfo struct {
	MemberInfos []MemberInfo `json:"memberInfos"`
	Order       int          `json:"order"`
	Role        string       `json:"role"`
}

// ExternalID carries the client-generated idempotency token so a later probe
// can correlate an agreement with its originating request.
type ExternalID struct {
	ID string `json:"id"`
}

// FieldOptions controls provider-side signature field placement.
type FieldOptions struct {
	// AutoPlaceFields lets the provider position fields itself. It must be
	// false for text-tag documents: combining tag-driven placement with
	// auto-positioning produces duplicate signature fields.
	AutoPlaceFields bool `json:"autoPlaceFields"`
	// TextTagsEnabled tells the provider to honor inline tag markers.
	TextTagsEnabled bool `json:"textTagsEnabled"`
}

// CreateAgreementRequest creates an agreement from a transient document.
type CreateAgreementRequest struct {
	FileInfos           []FileInfo           `json:"fileInfos"`
	Name                string               `json:"name"`
	ParticipantSetsInfo []ParticipantSetInfo `json:"participantSetsInfo"`
	SignatureType       string               `json:"signatureType"`
	State               string               `json:"state"`
	ExternalID          *ExternalID          `json:"externalId,omitempty"`
	FieldOptions        *FieldOptions        `json:"fieldOptions,omitempty"`
	Message             string               `json:"message,omitempty"`
}

// CreateAgreementResponse is the provider's acknowledgment of a creation.
type CreateAgreementResponse struct {
	ID string `json:"id"`
}

// ParticipantSnapshot is the provider's view of one participant. The
// provider exposes several candidate date fields; reconciliation selects the
// latest non-null one.
type ParticipantSnapshot struct {
	Email            string     `json:"email"`
	Status           string     `json:"status"`
	Order            int        `json:"order,omitempty"`
	CompletedDate    *time.Time `json:"completedDate,omitempty"`
	StatusUpdateDate *time.Time `json:"statusUpdateDate,omitempty"`
	ModifiedDate     *time.Time `json:"modifiedDate,omitempty"`
	AccessDate       *time.Time `json:"accessDate,omitempty"`
}

// AgreementSnapshot is a point-in-time provider view of an agreement and its
// participants, the sole input to status reconciliation.
type AgreementSnapshot struct {
	AgreementID  string                `json:"id"`
	Status       string                `json:"status"`
	Participants []ParticipantSnapshot `json:"participants"`
}

// agreementInfoResponse is the raw GET /agreements/{id} payload.
type agreementInfoResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// membersResponse is the raw GET /agreements/{id}/members payload.
type membersResponse struct {
	ParticipantSets []struct {
		MemberInfos []struct {
			Email            string     `json:"email"`
			Status           string     `json:"status"`
			CompletedDate    *time.Time `json:"completedDate,omitempty"`
			StatusUpdateDate *time.Time `json:"statusUpdateDate,omitempty"`
			ModifiedDate     *time.Time `json:"modifiedDate,omitempty"`
			AccessDate       *time.Time `json:"accessDate,omitempty"`
		} `json:"memberInfos"`
		Order  int    `json:"order"`
		Status string `json:"status"`
	} `json:"participantSets"`
}

// AgreementSummary is one row of an agreement search result.
type AgreementSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	ExternalID string `json:"externalId,omitempty"`
}

type searchAgreementsResponse struct {
	UserAgreementList []AgreementSummary `json:"userAgreementList"`
}

// SigningURL is a per-recipient e-sign page URL.
type SigningURL struct {
	Email string `json:"email"`
	URL   string `json:"esignUrl"`
}

type signingURLsResponse struct {
	SigningURLSetInfos []struct {
		SigningURLs []SigningURL `json:"signingUrls"`
	} `json:"signingUrlSetInfos"`
}

// AgreementEvent is one audit-trail entry for an agreement.
type AgreementEvent struct {
	Type             string     `json:"type"`
	ParticipantEmail string     `json:"participantEmail,omitempty"`
	Date             *time.Time `json:"date,omitempty"`
	Description      string     `json:"description,omitempty"`
}

type agreementEventsResponse struct {
	Events []AgreementEvent `json:"events"`
}

// CreateWebhookRequest registers a callback for agreement events.
type CreateWebhookRequest struct {
	Name                      string   `json:"name"`
	Scope                     string   `json:"scope"`
	State                     string   `json:"state"`
	WebhookSubscriptionEvents []string `json:"webhookSubscriptionEvents"`
	WebhookURLInfo            struct {
		URL string `json:"url"`
	} `json:"webhookUrlInfo"`
}
