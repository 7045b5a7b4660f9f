package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SujJR/ESign-sub002/internal/signature_service/domain"
	"github.com/SujJR/ESign-sub002/internal/signature_service/provider"
)

func reconcilerFixture() (*StatusReconciler, *domain.Document) {
	doc := sendableDocument(false)
	doc.Status = domain.DocumentStatusSentForSignature
	doc.Recipients[0].Status = domain.RecipientStatusSent
	doc.Recipients[1].Status = domain.RecipientStatusSent
	return NewStatusReconciler(testLogger()), doc
}

func TestReconcile_NilSnapshotKeepsState(t *testing.T) {
	r, doc := reconcilerFixture()
	updated, changed := r.Reconcile(doc, nil)
	assert.False(t, changed)
	assert.Equal(t, doc.Status, updated.Status)
}

func TestReconcile_DoesNotMutateInput(t *testing.T) {
	r, doc := reconcilerFixture()
	snapshot := &provider.AgreementSnapshot{
		Status: "SIGNED",
		Participants: []provider.ParticipantSnapshot{
			{Email: "alice@example.com", Status: "SIGNED"},
		},
	}

	updated, changed := r.Reconcile(doc, snapshot)
	assert.True(t, changed)
	assert.Equal(t, domain.DocumentStatusCompleted, updated.Status)
	assert.Equal(t, domain.RecipientStatusSigned, updated.Recipients[0].Status)

	// The caller's document is untouched until it chooses to persist.
	assert.Equal(t, domain.DocumentStatusSentForSignature, doc.Status)
	assert.Equal(t, domain.RecipientStatusSent, doc.Recipients[0].Status)
}

func TestReconcile_Idempotent(t *testing.T) {
	r, doc := reconcilerFixture()
	signedAt := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	snapshot := &provider.AgreementSnapshot{
		Status: "OUT_FOR_SIGNATURE",
		Participants: []provider.ParticipantSnapshot{
			{Email: "alice@example.com", Status: "SIGNED", CompletedDate: &signedAt},
			{Email: "bob@example.com", Status: "WAITING_FOR_MY_SIGNATURE"},
		},
	}

	first, changed := r.Reconcile(doc, snapshot)
	require.True(t, changed)
	assert.Equal(t, domain.DocumentStatusPartiallySigned, first.Status)

	second, changed := r.Reconcile(first, snapshot)
	assert.False(t, changed, "applying the same snapshot twice must be a no-op")
	assert.Equal(t, first.Status, second.Status)
}

func TestReconcile_WaitingForMyPrefixMapsToSent(t *testing.T) {
	r, doc := reconcilerFixture()
	doc.Recipients[1].Status = domain.RecipientStatusWaiting

	for _, raw := range []string{"WAITING_FOR_MY_SIGNATURE", "WAITING_FOR_MY_APPROVAL", "WAITING_FOR_MY_ACCEPTANCE"} {
		updated, changed := r.Reconcile(doc, &provider.AgreementSnapshot{
			Status: "OUT_FOR_SIGNATURE",
			Participants: []provider.ParticipantSnapshot{
				{Email: "bob@example.com", Status: raw},
			},
		})
		assert.True(t, changed, raw)
		assert.Equal(t, domain.RecipientStatusSent, updated.Recipients[1].Status, raw)
	}
}

func TestReconcile_UnknownVocabularyKeepsLocalState(t *testing.T) {
	r, doc := reconcilerFixture()

	updated, changed := r.Reconcile(doc, &provider.AgreementSnapshot{
		Status: "SOME_FUTURE_STATUS",
		Participants: []provider.ParticipantSnapshot{
			{Email: "alice@example.com", Status: "SOME_FUTURE_PARTICIPANT_STATUS"},
		},
	})
	assert.False(t, changed)
	assert.Equal(t, domain.DocumentStatusSentForSignature, updated.Status)
	assert.Equal(t, domain.RecipientStatusSent, updated.Recipients[0].Status)
}

func TestReconcile_SignedAtRatchet(t *testing.T) {
	r, doc := reconcilerFixture()
	later := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	earlier := later.Add(-24 * time.Hour)

	updated, _ := r.Reconcile(doc, &provider.AgreementSnapshot{
		Status: "OUT_FOR_SIGNATURE",
		Participants: []provider.ParticipantSnapshot{
			{Email: "alice@example.com", Status: "SIGNED", CompletedDate: &later},
		},
	})
	require.NotNil(t, updated.Recipients[0].SignedAt)
	assert.True(t, updated.Recipients[0].SignedAt.Equal(later))

	// A stale snapshot arriving out of order must not roll the timestamp back.
	again, changed := r.Reconcile(updated, &provider.AgreementSnapshot{
		Status: "OUT_FOR_SIGNATURE",
		Participants: []provider.ParticipantSnapshot{
			{Email: "alice@example.com", Status: "SIGNED", CompletedDate: &earlier},
		},
	})
	assert.False(t, changed)
	assert.True(t, again.Recipients[0].SignedAt.Equal(later))
}

func TestReconcile_SignedAtPicksLatestCandidateDate(t *testing.T) {
	r, doc := reconcilerFixture()
	completed := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	modified := completed.Add(2 * time.Hour)

	updated, _ := r.Reconcile(doc, &provider.AgreementSnapshot{
		Status: "OUT_FOR_SIGNATURE",
		Participants: []provider.ParticipantSnapshot{
			{Email: "alice@example.com", Status: "SIGNED", CompletedDate: &completed, ModifiedDate: &modified},
		},
	})
	require.NotNil(t, updated.Recipients[0].SignedAt)
	assert.True(t, updated.Recipients[0].SignedAt.Equal(modified))
}

func TestReconcile_LastAccessedAtRatchet(t *testing.T) {
	r, doc := reconcilerFixture()
	access := time.Date(2026, 8, 22, 8, 0, 0, 0, time.UTC)

	updated, changed := r.Reconcile(doc, &provider.AgreementSnapshot{
		Status: "OUT_FOR_SIGNATURE",
		Participants: []provider.ParticipantSnapshot{
			{Email: "bob@example.com", Status: "WAITING_FOR_MY_SIGNATURE", AccessDate: &access},
		},
	})
	assert.True(t, changed)
	require.NotNil(t, updated.Recipients[1].LastAccessedAt)
	assert.True(t, updated.Recipients[1].LastAccessedAt.Equal(access))
}

func TestReconcile_ProviderOrderOverwritesLocal(t *testing.T) {
	r, doc := reconcilerFixture()

	updated, changed := r.Reconcile(doc, &provider.AgreementSnapshot{
		Status: "OUT_FOR_SIGNATURE",
		Participants: []provider.ParticipantSnapshot{
			{Email: "bob@example.com", Status: "WAITING_FOR_MY_SIGNATURE", Order: 1},
		},
	})
	assert.True(t, changed)
	assert.Equal(t, 1, updated.Recipients[1].Order)
}

func TestReconcile_OutForSignatureClass(t *testing.T) {
	r, doc := reconcilerFixture()

	// Nobody signed yet.
	updated, _ := r.Reconcile(doc, &provider.AgreementSnapshot{Status: "IN_PROCESS"})
	assert.Equal(t, domain.DocumentStatusSentForSignature, updated.Status)

	// One signature in puts the document in the partially signed state.
	updated, _ = r.Reconcile(doc, &provider.AgreementSnapshot{
		Status: "OUT_FOR_APPROVAL",
		Participants: []provider.ParticipantSnapshot{
			{Email: "alice@example.com", Status: "SIGNED"},
		},
	})
	assert.Equal(t, domain.DocumentStatusPartiallySigned, updated.Status)
}

func TestReconcile_TerminalStatuses(t *testing.T) {
	r, doc := reconcilerFixture()

	cases := map[string]domain.DocumentStatus{
		"SIGNED":    domain.DocumentStatusCompleted,
		"COMPLETED": domain.DocumentStatusCompleted,
		"CANCELLED": domain.DocumentStatusCancelled,
		"ABORTED":   domain.DocumentStatusCancelled,
		"EXPIRED":   domain.DocumentStatusExpired,
	}
	for raw, want := range cases {
		updated, changed := r.Reconcile(doc, &provider.AgreementSnapshot{Status: raw})
		assert.True(t, changed, raw)
		assert.Equal(t, want, updated.Status, raw)
	}
}

func TestReconcile_UnmatchedParticipantsIgnored(t *testing.T) {
	r, doc := reconcilerFixture()

	updated, changed := r.Reconcile(doc, &provider.AgreementSnapshot{
		Status: "OUT_FOR_SIGNATURE",
		Participants: []provider.ParticipantSnapshot{
			{Email: "cc-observer@example.com", Status: "SIGNED"},
			{Email: "", Status: "SIGNED"},
		},
	})
	assert.False(t, changed)
	assert.Equal(t, domain.RecipientStatusSent, updated.Recipients[0].Status)
	assert.Equal(t, domain.RecipientStatusSent, updated.Recipients[1].Status)
}

func TestMapParticipantStatus(t *testing.T) {
	got, ok := mapParticipantStatus(" signed ")
	assert.True(t, ok)
	assert.Equal(t, domain.RecipientStatusSigned, got)

	got, ok = mapParticipantStatus("waiting_for_others")
	assert.True(t, ok)
	assert.Equal(t, domain.RecipientStatusWaiting, got)

	_, ok = mapParticipantStatus("UNHEARD_OF")
	assert.False(t, ok)
}
