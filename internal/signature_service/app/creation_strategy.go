package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SujJR/ESign-sub002/internal/signature_service/domain"
	"github.com/SujJR/ESign-sub002/internal/signature_service/provider"
)

// CreationMethod identifies which agreement-creation request shape was used.
type CreationMethod string

const (
	// CreationMethodTextTags places fields from inline tag markers embedded
	// in the source document.
	CreationMethodTextTags CreationMethod = "text_tags"
	// CreationMethodBasic lets the provider auto-place signature fields.
	CreationMethodBasic CreationMethod = "basic"
)

// CreationResult is the outcome of one agreement-creation attempt.
// RateLimited=true is a normal outcome, not an error: callers surface the
// retry-after to the user instead of failing opaquely.
type CreationResult struct {
	AgreementID string
	MethodUsed  CreationMethod
	RateLimited bool
	RetryAfter  time.Duration
}

// SigningOptions carries the precomputed document analysis that drives
// method selection.
type SigningOptions struct {
	// AutoDetectedFields is true when document analysis found provider text
	// tags in the source document. Detection happens upstream, once; the
	// strategy never probes the provider to find out.
	AutoDetectedFields bool
	SequentialSigning  bool
	Message            string
}

// AgreementCreationStrategy creates agreements, choosing between the
// tag-driven and basic methods deterministically.
type AgreementCreationStrategy struct {
	signProvider provider.SignatureProvider
	gate         *RateLimitGate
	logger       *slog.Logger
}

// NewAgreementCreationStrategy wires the strategy.
func NewAgreementCreationStrategy(signProvider provider.SignatureProvider, gate *RateLimitGate, logger *slog.Logger) *AgreementCreationStrategy {
	return &AgreementCreationStrategy{
		signProvider: signProvider,
		gate:         gate,
		logger:       logger.With("component", "creation_strategy"),
	}
}

// Create builds and submits the agreement-creation request for the document.
//
// Method selection is a precondition check on opts.AutoDetectedFields, not
// trial and error. A tag-driven request that fails is terminal for the
// strategy; falling back to basic creation would silently discard the
// operator's intended field placement, so the caller must see the real error.
//
// A rate-limit response is recorded in the gate and returned as a
// RateLimited result. An exhausted network error is returned as-is so the
// caller can hand off to recovery verification before declaring failure.
func (s *AgreementCreationStrategy) Create(ctx context.Context, doc *domain.Document, transientDocID, idempotencyToken string, opts SigningOptions) (*CreationResult, error) {
	if allowed, wait := s.gate.CheckAllowed(); !allowed {
		s.logger.InfoContext(ctx, "Send suppressed by rate-limit gate",
			"document_id", doc.ID, "wait", wait)
		return &CreationResult{RateLimited: true, RetryAfter: wait}, nil
	}

	method := CreationMethodBasic
	if opts.AutoDetectedFields {
		method = CreationMethodTextTags
	}

	req := s.buildRequest(doc, transientDocID, idempotencyToken, method, opts)

	s.logger.InfoContext(ctx, "Creating agreement",
		"document_id", doc.ID, "method", method, "sequential", opts.SequentialSigning,
		"recipients", len(doc.Recipients))

	resp, err := s.signProvider.CreateAgreement(ctx, req)
	if err != nil {
		var rateErr *provider.RateLimitError
		if errors.As(err, &rateErr) {
			s.gate.RecordRateLimited(rateErr.RetryAfter)
			s.logger.WarnContext(ctx, "Agreement creation rate limited",
				"document_id", doc.ID, "retry_after", rateErr.RetryAfter)
			return &CreationResult{RateLimited: true, RetryAfter: rateErr.RetryAfter, MethodUsed: method}, nil
		}
		return nil, fmt.Errorf("agreement creation via %s method: %w", method, err)
	}

	return &CreationResult{AgreementID: resp.ID, MethodUsed: method}, nil
}

func (s *AgreementCreationStrategy) buildRequest(doc *domain.Document, transientDocID, idempotencyToken string, method CreationMethod, opts SigningOptions) *provider.CreateAgreementRequest {
	req := &provider.CreateAgreementRequest{
		FileInfos:           []provider.FileInfo{{TransientDocumentID: transientDocID}},
		Name:                doc.Name,
		ParticipantSetsInfo: buildParticipantSets(doc.Recipients, opts.SequentialSigning),
		SignatureType:       "ESIGN",
		State:               "IN_PROCESS",
		ExternalID:          &provider.ExternalID{ID: idempotencyToken},
		Message:             opts.Message,
	}

	switch method {
	case CreationMethodTextTags:
		// Auto-positioning must stay off here: combined with tag-driven
		// placement it produces duplicate signature fields.
		req.FieldOptions = &provider.FieldOptions{AutoPlaceFields: false, TextTagsEnabled: true}
	case CreationMethodBasic:
		req.FieldOptions = &provider.FieldOptions{AutoPlaceFields: true, TextTagsEnabled: false}
	}
	return req
}

// buildParticipantSets groups recipients into provider participant sets.
// Sequential signing produces one ordered set per recipient; parallel signing
// produces a single set containing everyone at order 1.
func buildParticipantSets(recipients []domain.Recipient, sequential bool) []provider.ParticipantSetInfo {
	if sequential {
		sets := make([]provider.ParticipantSetInfo, 0, len(recipients))
		for _, r := range recipients {
			sets = append(sets, provider.ParticipantSetInfo{
				MemberInfos: []provider.MemberInfo{{Email: r.Email, Name: r.Name}},
				Order:       r.Order,
				Role:        "SIGNER",
			})
		}
		return sets
	}

	members := make([]provider.MemberInfo, 0, len(recipients))
	for _, r := range recipients {
		members = append(members, provider.MemberInfo{Email: r.Email, Name: r.Name})
	}
	return []provider.ParticipantSetInfo{{MemberInfos: members, Order: 1, Role: "SIGNER"}}
}
