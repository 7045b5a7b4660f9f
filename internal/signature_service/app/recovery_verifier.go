package app

import (
	"context"
	"log/slog"
	"strings"

	"github.com/SujJR/ESign-sub002/internal/signature_service/domain"
	"github.com/SujJR/ESign-sub002/internal/signature_service/provider"
)

// RecoveryPosture decides how an inconclusive verification is resolved.
type RecoveryPosture string

const (
	// PostureVerified reports failure when no evidence of a created
	// agreement can be found.
	PostureVerified RecoveryPosture = "verified"
	// PostureAggressive assumes the creation succeeded and marks the
	// document sent, flagged recovery_applied for operator audit. This is an
	// explicit availability-over-correctness trade and must never be applied
	// without the flag.
	PostureAggressive RecoveryPosture = "aggressive"
)

// VerifyOutcome is the result of a recovery verification pass.
type VerifyOutcome struct {
	Found       bool
	AgreementID string
}

// RecoveryVerifier determines whether an agreement was created server-side
// after a creation call failed ambiguously (connection dropped after the
// request was sent). Blindly retrying risks duplicate agreements; blindly
// failing risks abandoning a successfully sent document.
type RecoveryVerifier struct {
	signProvider provider.SignatureProvider
	logger       *slog.Logger
}

// NewRecoveryVerifier wires the verifier.
func NewRecoveryVerifier(signProvider provider.SignatureProvider, logger *slog.Logger) *RecoveryVerifier {
	return &RecoveryVerifier{
		signProvider: signProvider,
		logger:       logger.With("component", "recovery_verifier"),
	}
}

// Verify runs the ordered probes; the first positive evidence wins. Probe
// failures degrade to inconclusive, never to an error: the verifier's own
// provider calls must not turn an ambiguous outcome into a crash.
func (v *RecoveryVerifier) Verify(ctx context.Context, doc *domain.Document) VerifyOutcome {
	// 1. A previously persisted agreement id settles it.
	if doc.ProviderAgreementID != nil && *doc.ProviderAgreementID != "" {
		return VerifyOutcome{Found: true, AgreementID: *doc.ProviderAgreementID}
	}

	// 2. Correlate by the idempotency token embedded at creation time.
	if token := doc.IdempotencyToken(); token != "" {
		summaries, err := v.signProvider.SearchAgreementsByExternalID(ctx, token)
		if err != nil {
			v.logger.WarnContext(ctx, "Agreement search probe failed, treating as inconclusive",
				"document_id", doc.ID, "error", err)
		} else if len(summaries) > 0 {
			v.logger.InfoContext(ctx, "Recovered agreement id via idempotency token",
				"document_id", doc.ID, "agreement_id", summaries[0].ID)
			return VerifyOutcome{Found: true, AgreementID: summaries[0].ID}
		}
	}

	// 3. Narrower probe: valid signing URLs for the expected recipient set
	// imply an agreement exists even if its id was never captured. Candidate
	// ids come from the transient-document scope recorded on the document.
	if doc.TransientDocID != nil && *doc.TransientDocID != "" {
		summaries, err := v.signProvider.SearchAgreementsByExternalID(ctx, *doc.TransientDocID)
		if err != nil {
			v.logger.WarnContext(ctx, "Transient-scope probe failed, treating as inconclusive",
				"document_id", doc.ID, "error", err)
		} else {
			for _, summary := range summaries {
				if v.signingURLsMatchRecipients(ctx, summary.ID, doc) {
					v.logger.InfoContext(ctx, "Recovered agreement id via signing-URL evidence",
						"document_id", doc.ID, "agreement_id", summary.ID)
					return VerifyOutcome{Found: true, AgreementID: summary.ID}
				}
			}
		}
	}

	v.logger.InfoContext(ctx, "Recovery verification found no agreement evidence", "document_id", doc.ID)
	return VerifyOutcome{Found: false}
}

// signingURLsMatchRecipients checks whether the agreement exposes a signing
// URL for at least one expected recipient.
func (v *RecoveryVerifier) signingURLsMatchRecipients(ctx context.Context, agreementID string, doc *domain.Document) bool {
	urls, err := v.signProvider.GetSigningURLs(ctx, agreementID)
	if err != nil {
		v.logger.WarnContext(ctx, "Signing-URL probe failed, treating as inconclusive",
			"document_id", doc.ID, "agreement_id", agreementID, "error", err)
		return false
	}
	for _, u := range urls {
		for _, r := range doc.Recipients {
			if strings.EqualFold(u.Email, r.Email) && u.URL != "" {
				return true
			}
		}
	}
	return false
}
