package app

import (
	"log/slog"
	"strings"
	"time"

	"github.com/SujJR/ESign-sub002/internal/signature_service/domain"
	"github.com/SujJR/ESign-sub002/internal/signature_service/provider"
)

// agreementStatusTable maps terminal provider agreement statuses onto the
// document state machine. Out-for-signature-class statuses are resolved in
// Reconcile since they depend on recipient progress.
var agreementStatusTable = map[string]domain.DocumentStatus{
	"SIGNED":    domain.DocumentStatusCompleted,
	"APPROVED":  domain.DocumentStatusCompleted,
	"COMPLETED": domain.DocumentStatusCompleted,
	"CANCELLED": domain.DocumentStatusCancelled,
	"ABORTED":   domain.DocumentStatusCancelled,
	"EXPIRED":   domain.DocumentStatusExpired,
}

// outForSignatureClass covers every provider status meaning "the agreement is
// live and waiting on participants".
var outForSignatureClass = map[string]struct{}{
	"OUT_FOR_SIGNATURE":    {},
	"OUT_FOR_APPROVAL":     {},
	"OUT_FOR_ACCEPTANCE":   {},
	"OUT_FOR_DELIVERY":     {},
	"OUT_FOR_FORM_FILLING": {},
	"IN_PROCESS":           {},
}

// participantStatusTable is the single source of truth for the provider's
// per-participant vocabulary. "WAITING_FOR_MY_*" variants are matched by
// prefix in mapParticipantStatus.
var participantStatusTable = map[string]domain.RecipientStatus{
	"SIGNED":             domain.RecipientStatusSigned,
	"APPROVED":           domain.RecipientStatusSigned,
	"ACCEPTED":           domain.RecipientStatusSigned,
	"FORM_FILLED":        domain.RecipientStatusSigned,
	"COMPLETED":          domain.RecipientStatusSigned,
	"WAITING_FOR_OTHERS": domain.RecipientStatusWaiting,
	"NOT_YET_VISIBLE":    domain.RecipientStatusWaiting,
	"DECLINED":           domain.RecipientStatusDeclined,
	"REJECTED":           domain.RecipientStatusDeclined,
	"EXPIRED":            domain.RecipientStatusExpired,
}

// mapParticipantStatus translates one raw provider status. ok is false for
// unrecognized vocabulary, which callers must treat as "no change".
func mapParticipantStatus(raw string) (domain.RecipientStatus, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if status, found := participantStatusTable[normalized]; found {
		return status, true
	}
	if strings.HasPrefix(normalized, "WAITING_FOR_MY_") {
		return domain.RecipientStatusSent, true
	}
	return "", false
}

// StatusReconciler folds a provider agreement snapshot into the local
// document state machine. Reconcile is a pure function of (previous local
// state, snapshot): it makes no network calls and never fails; malformed or
// missing snapshot sections degrade to keeping prior state.
type StatusReconciler struct {
	logger *slog.Logger
}

// NewStatusReconciler wires the reconciler.
func NewStatusReconciler(logger *slog.Logger) *StatusReconciler {
	return &StatusReconciler{logger: logger.With("component", "status_reconciler")}
}

// Reconcile returns an updated copy of doc plus whether anything actually
// changed. Applying the same snapshot twice yields changed=false, which lets
// callers skip the persistence write and makes webhook and poll triggers safe
// to race.
func (r *StatusReconciler) Reconcile(doc *domain.Document, snapshot *provider.AgreementSnapshot) (*domain.Document, bool) {
	updated := *doc
	updated.Recipients = make([]domain.Recipient, len(doc.Recipients))
	copy(updated.Recipients, doc.Recipients)
	if doc.ProviderMetadata != nil {
		updated.ProviderMetadata = make(map[string]interface{}, len(doc.ProviderMetadata))
		for k, v := range doc.ProviderMetadata {
			updated.ProviderMetadata[k] = v
		}
	}

	if snapshot == nil {
		return &updated, false
	}

	changed := false

	// Participant entries first; the agreement-level mapping below depends on
	// recipient signing progress. Unmatched provider entries (internal/CC
	// roles) are ignored; unmatched local recipients keep their state until a
	// snapshot includes them.
	for _, p := range snapshot.Participants {
		if p.Email == "" {
			continue
		}
		local := updated.RecipientByEmail(p.Email)
		if local == nil {
			continue
		}
		if r.applyParticipant(local, p) {
			changed = true
		}
	}

	if newStatus, ok := r.mapAgreementStatus(snapshot.Status, updated.Recipients); ok {
		if updated.Status != newStatus {
			updated.Status = newStatus
			changed = true
		}
	}

	return &updated, changed
}

func (r *StatusReconciler) applyParticipant(local *domain.Recipient, p provider.ParticipantSnapshot) bool {
	changed := false

	if mapped, ok := mapParticipantStatus(p.Status); ok {
		if local.Status != mapped {
			local.Status = mapped
			changed = true
		}
	} else if p.Status != "" {
		r.logger.Warn("Unrecognized provider participant status, keeping local state",
			"email", local.Email, "provider_status", p.Status)
	}

	// signedAt: latest non-null candidate date wins, and the stored value is
	// a monotonic ratchet since stale snapshots can arrive in any order.
	if local.Status == domain.RecipientStatusSigned {
		if candidate := latestTime(p.CompletedDate, p.StatusUpdateDate, p.ModifiedDate); candidate != nil {
			if local.SignedAt == nil || candidate.After(*local.SignedAt) {
				local.SignedAt = candidate
				changed = true
			}
		}
	}

	if candidate := latestTime(p.AccessDate); candidate != nil {
		if local.LastAccessedAt == nil || candidate.After(*local.LastAccessedAt) {
			local.LastAccessedAt = candidate
			changed = true
		}
	}

	// Once an agreement exists the provider is authoritative for the actual
	// signing sequence.
	if p.Order > 0 && local.Order != p.Order {
		local.Order = p.Order
		changed = true
	}

	return changed
}

func (r *StatusReconciler) mapAgreementStatus(raw string, recipients []domain.Recipient) (domain.DocumentStatus, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if normalized == "" {
		return "", false
	}
	if status, found := agreementStatusTable[normalized]; found {
		return status, true
	}
	if _, found := outForSignatureClass[normalized]; found {
		for _, rec := range recipients {
			if rec.Status == domain.RecipientStatusSigned {
				return domain.DocumentStatusPartiallySigned, true
			}
		}
		return domain.DocumentStatusSentForSignature, true
	}
	r.logger.Warn("Unrecognized provider agreement status, keeping local state", "provider_status", raw)
	return "", false
}

// latestTime returns the latest non-nil candidate, or nil when all are nil.
func latestTime(candidates ...*time.Time) *time.Time {
	var latest *time.Time
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if latest == nil || c.After(*latest) {
			latest = c
		}
	}
	return latest
}
