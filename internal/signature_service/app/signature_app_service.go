package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SujJR/ESign-sub002/internal/signature_service/domain"
	"github.com/SujJR/ESign-sub002/internal/signature_service/provider"
	"github.com/SujJR/ESign-sub002/internal/signature_service/repository"
)

// SendResult is the caller-visible outcome of SendForSignature.
type SendResult struct {
	Status          domain.DocumentStatus `json:"status"`
	AgreementID     string                `json:"agreement_id,omitempty"`
	MethodUsed      CreationMethod        `json:"method_used,omitempty"`
	RateLimited     bool                  `json:"rate_limited,omitempty"`
	RetryAfter      time.Duration         `json:"retry_after,omitempty"`
	RecoveryApplied bool                  `json:"recovery_applied,omitempty"`
}

// RecoverResult is the outcome of an explicit RecoverSend pass.
type RecoverResult struct {
	Recovered bool             `json:"recovered"`
	Document  *domain.Document `json:"document"`
}

// ProviderEvent is an inbound webhook event; it triggers the same
// reconciliation a manual status check runs, so racing triggers are safe.
type ProviderEvent struct {
	AgreementID      string `json:"agreement_id"`
	EventType        string `json:"event_type"`
	ParticipantEmail string `json:"participant_email,omitempty"`
}

// SignatureAppService orchestrates the agreement lifecycle: sending a
// document for signature, verifying ambiguous outcomes, and reconciling
// provider status into the local state machine.
type SignatureAppService struct {
	docRepo      repository.DocumentRepository
	signProvider provider.SignatureProvider
	storage      DocumentStorage
	notifier     Notifier
	strategy     *AgreementCreationStrategy
	verifier     *RecoveryVerifier
	reconciler   *StatusReconciler
	gate         *RateLimitGate
	posture      RecoveryPosture
	logger       *slog.Logger
}

// NewSignatureAppService wires the orchestrator.
func NewSignatureAppService(
	docRepo repository.DocumentRepository,
	signProvider provider.SignatureProvider,
	storage DocumentStorage,
	notifier Notifier,
	strategy *AgreementCreationStrategy,
	verifier *RecoveryVerifier,
	reconciler *StatusReconciler,
	gate *RateLimitGate,
	posture RecoveryPosture,
	logger *slog.Logger,
) *SignatureAppService {
	return &SignatureAppService{
		docRepo:      docRepo,
		signProvider: signProvider,
		storage:      storage,
		notifier:     notifier,
		strategy:     strategy,
		verifier:     verifier,
		reconciler:   reconciler,
		gate:         gate,
		posture:      posture,
		logger:       logger.With("service", "signature_app"),
	}
}

// SendForSignature uploads the document and creates the provider agreement.
// Outcomes: success with agreement id, a rate-limited result carrying the
// wait, a recovery-applied result, or an error.
func (s *SignatureAppService) SendForSignature(ctx context.Context, documentID string) (*SendResult, error) {
	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := doc.ValidateForSend(); err != nil {
		return nil, err
	}

	// Gate check before the upload so a blocked send consumes no network
	// call at all.
	if allowed, wait := s.gate.CheckAllowed(); !allowed {
		rateLimitHitsCounter.Inc()
		s.logger.InfoContext(ctx, "Send rejected by rate-limit gate", "document_id", doc.ID, "wait", wait)
		return &SendResult{Status: doc.Status, RateLimited: true, RetryAfter: wait}, nil
	}

	transientDocID, err := s.uploadTransient(ctx, doc)
	if err != nil {
		return nil, s.failSend(ctx, doc, fmt.Errorf("transient upload: %w", err))
	}
	doc.TransientDocID = &transientDocID

	// The idempotency token must be persisted before the creation call so a
	// recovery pass after a crash can still correlate by it.
	token := doc.IdempotencyToken()
	if token == "" {
		token = uuid.NewString()
		doc.SetMetadata(domain.MetaIdempotencyToken, token)
	}
	doc.Status = domain.DocumentStatusProcessing
	if err := s.docRepo.Update(ctx, doc); err != nil {
		return nil, err
	}

	opts := SigningOptions{
		AutoDetectedFields: doc.AutoDetectedFields,
		SequentialSigning:  doc.SequentialSigning,
	}
	method := CreationMethodBasic
	if opts.AutoDetectedFields {
		method = CreationMethodTextTags
	}

	start := time.Now()
	result, err := s.strategy.Create(ctx, doc, transientDocID, token, opts)
	providerCallDurationHist.WithLabelValues("create_agreement").Observe(time.Since(start).Seconds())

	if err != nil {
		if provider.IsRetryExhausted(err) {
			return s.resolveAmbiguousOutcome(ctx, doc, err)
		}
		sendAttemptsCounter.WithLabelValues(string(method), "error").Inc()
		return nil, s.failSend(ctx, doc, err)
	}

	if result.RateLimited {
		rateLimitHitsCounter.Inc()
		sendAttemptsCounter.WithLabelValues(string(result.MethodUsed), "rate_limited").Inc()
		doc.Status = domain.DocumentStatusReadyForSignature
		doc.SetMetadata(domain.MetaRateLimited, true)
		doc.SetMetadata(domain.MetaRetryAfterSeconds, int(result.RetryAfter.Seconds()))
		if err := s.docRepo.Update(ctx, doc); err != nil {
			return nil, err
		}
		return &SendResult{
			Status:      doc.Status,
			RateLimited: true,
			RetryAfter:  result.RetryAfter,
			MethodUsed:  result.MethodUsed,
		}, nil
	}

	sendAttemptsCounter.WithLabelValues(string(result.MethodUsed), "success").Inc()
	if err := s.markSent(ctx, doc, result.AgreementID, string(result.MethodUsed), false); err != nil {
		return nil, err
	}
	s.notifyRecipients(ctx, doc)

	return &SendResult{
		Status:      doc.Status,
		AgreementID: result.AgreementID,
		MethodUsed:  result.MethodUsed,
	}, nil
}

// resolveAmbiguousOutcome handles a creation call that died after the request
// may have reached the provider. Verification decides between confirmed
// success, confirmed failure, and the explicitly flagged aggressive recovery.
func (s *SignatureAppService) resolveAmbiguousOutcome(ctx context.Context, doc *domain.Document, cause error) (*SendResult, error) {
	s.logger.WarnContext(ctx, "Creation outcome ambiguous, running recovery verification",
		"document_id", doc.ID, "error", cause)

	outcome := s.verifier.Verify(ctx, doc)
	if outcome.Found {
		recoveryProbesCounter.WithLabelValues("found").Inc()
		sendAttemptsCounter.WithLabelValues("", "recovered").Inc()
		if err := s.markSent(ctx, doc, outcome.AgreementID, "", false); err != nil {
			return nil, err
		}
		return &SendResult{Status: doc.Status, AgreementID: outcome.AgreementID}, nil
	}
	recoveryProbesCounter.WithLabelValues("not_found").Inc()

	if s.posture == PostureAggressive {
		sendAttemptsCounter.WithLabelValues("", "recovery_applied").Inc()
		s.logger.WarnContext(ctx, "Applying aggressive recovery: marking document sent without provider evidence",
			"document_id", doc.ID)
		if err := s.markSent(ctx, doc, "", "", true); err != nil {
			return nil, err
		}
		return &SendResult{Status: doc.Status, RecoveryApplied: true}, nil
	}

	sendAttemptsCounter.WithLabelValues("", "error").Inc()
	return nil, s.failSend(ctx, doc, cause)
}

// CheckStatus fetches the current provider snapshot and reconciles it into
// the stored document. Documents without an agreement are returned as-is.
func (s *SignatureAppService) CheckStatus(ctx context.Context, documentID string) (*domain.Document, error) {
	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.ProviderAgreementID == nil || *doc.ProviderAgreementID == "" {
		return doc, nil
	}
	return s.reconcileAgainstProvider(ctx, doc, "poll")
}

// RecoverSend re-runs recovery verification for a document whose send failed
// ambiguously.
func (s *SignatureAppService) RecoverSend(ctx context.Context, documentID string) (*RecoverResult, error) {
	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}

	outcome := s.verifier.Verify(ctx, doc)
	if outcome.Found {
		recoveryProbesCounter.WithLabelValues("found").Inc()
		alreadySent := doc.ProviderAgreementID != nil && *doc.ProviderAgreementID == outcome.AgreementID &&
			doc.Status != domain.DocumentStatusSignatureError && doc.Status != domain.DocumentStatusFailed
		if !alreadySent {
			if err := s.markSent(ctx, doc, outcome.AgreementID, "", false); err != nil {
				return nil, err
			}
		}
		return &RecoverResult{Recovered: true, Document: doc}, nil
	}
	recoveryProbesCounter.WithLabelValues("not_found").Inc()

	if s.posture == PostureAggressive {
		s.logger.WarnContext(ctx, "Applying aggressive recovery on explicit recover request", "document_id", doc.ID)
		if err := s.markSent(ctx, doc, "", "", true); err != nil {
			return nil, err
		}
		return &RecoverResult{Recovered: true, Document: doc}, nil
	}
	return &RecoverResult{Recovered: false, Document: doc}, nil
}

// RefreshSigningURLs fetches current signing URLs and stores them on the
// matching recipients.
func (s *SignatureAppService) RefreshSigningURLs(ctx context.Context, documentID string) (*domain.Document, error) {
	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.ProviderAgreementID == nil || *doc.ProviderAgreementID == "" {
		return nil, &domain.ValidationError{Field: "provider_agreement_id", Reason: "document has no agreement yet"}
	}

	start := time.Now()
	urls, err := s.signProvider.GetSigningURLs(ctx, *doc.ProviderAgreementID)
	providerCallDurationHist.WithLabelValues("signing_urls").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("fetching signing URLs: %w", err)
	}

	changed := false
	for _, u := range urls {
		if rec := doc.RecipientByEmail(u.Email); rec != nil && u.URL != "" {
			if rec.SigningURL == nil || *rec.SigningURL != u.URL {
				urlCopy := u.URL
				rec.SigningURL = &urlCopy
				changed = true
			}
		}
	}
	if changed {
		if err := s.docRepo.Update(ctx, doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// AgreementEvents returns the provider's audit trail for the document's
// agreement, for operator diagnostics.
func (s *SignatureAppService) AgreementEvents(ctx context.Context, documentID string) ([]provider.AgreementEvent, error) {
	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.ProviderAgreementID == nil || *doc.ProviderAgreementID == "" {
		return nil, &domain.ValidationError{Field: "provider_agreement_id", Reason: "document has no agreement yet"}
	}

	start := time.Now()
	events, err := s.signProvider.GetAgreementEvents(ctx, *doc.ProviderAgreementID)
	providerCallDurationHist.WithLabelValues("events").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("fetching agreement events: %w", err)
	}
	return events, nil
}

// ProcessProviderEvent handles an inbound webhook event by re-fetching the
// authoritative snapshot and reconciling. Events can arrive out of order or
// duplicated; reconciliation idempotence makes that safe.
func (s *SignatureAppService) ProcessProviderEvent(ctx context.Context, event ProviderEvent) error {
	if event.AgreementID == "" {
		return &domain.ValidationError{Field: "agreement_id", Reason: "event is missing agreement id"}
	}

	doc, err := s.docRepo.GetByAgreementID(ctx, event.AgreementID)
	if err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			// The provider may report agreements created outside this system.
			s.logger.InfoContext(ctx, "Ignoring event for unknown agreement",
				"agreement_id", event.AgreementID, "event_type", event.EventType)
			return nil
		}
		return err
	}

	s.logger.InfoContext(ctx, "Processing provider event",
		"agreement_id", event.AgreementID, "event_type", event.EventType,
		"participant_email", event.ParticipantEmail, "document_id", doc.ID)

	_, err = s.reconcileAgainstProvider(ctx, doc, "webhook")
	return err
}

func (s *SignatureAppService) reconcileAgainstProvider(ctx context.Context, doc *domain.Document, trigger string) (*domain.Document, error) {
	start := time.Now()
	snapshot, err := s.signProvider.GetAgreementSnapshot(ctx, *doc.ProviderAgreementID)
	providerCallDurationHist.WithLabelValues("snapshot").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("fetching agreement snapshot: %w", err)
	}

	updated, changed := s.reconciler.Reconcile(doc, snapshot)
	if !changed {
		reconciliationsCounter.WithLabelValues(trigger, "unchanged").Inc()
		return updated, nil
	}

	reconciliationsCounter.WithLabelValues(trigger, "changed").Inc()
	if err := s.docRepo.Update(ctx, updated); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			// A concurrent writer won; its reconciliation covers this change
			// or the next trigger will.
			s.logger.InfoContext(ctx, "Reconciliation lost update race, skipping write",
				"document_id", doc.ID, "trigger", trigger)
			return updated, nil
		}
		return nil, err
	}
	s.logger.InfoContext(ctx, "Reconciled document against provider snapshot",
		"document_id", doc.ID, "status", updated.Status, "trigger", trigger)
	return updated, nil
}

func (s *SignatureAppService) uploadTransient(ctx context.Context, doc *domain.Document) (string, error) {
	content, err := s.storage.Open(ctx, doc.FilePath)
	if err != nil {
		return "", fmt.Errorf("opening document file: %w", err)
	}
	defer content.Close()

	mimeType := "application/pdf"
	if strings.HasSuffix(strings.ToLower(doc.FilePath), ".docx") {
		mimeType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}

	start := time.Now()
	transientDocID, err := s.signProvider.UploadTransientDocument(ctx, doc.Name, mimeType, content)
	providerCallDurationHist.WithLabelValues("upload").Observe(time.Since(start).Seconds())
	return transientDocID, err
}

// markSent records a successful (or risk-accepted) send. recoveryApplied must
// be set whenever the aggressive posture was the only evidence.
func (s *SignatureAppService) markSent(ctx context.Context, doc *domain.Document, agreementID, methodUsed string, recoveryApplied bool) error {
	if agreementID != "" {
		doc.ProviderAgreementID = &agreementID
	}
	doc.Status = domain.DocumentStatusSentForSignature
	doc.ErrorMessage = nil
	if methodUsed != "" {
		doc.SetMetadata(domain.MetaMethodUsed, methodUsed)
	}
	if recoveryApplied {
		doc.SetMetadata(domain.MetaRecoveryApplied, true)
	}
	for i := range doc.Recipients {
		if doc.SequentialSigning && doc.Recipients[i].Order > 1 {
			doc.Recipients[i].Status = domain.RecipientStatusWaiting
		} else {
			doc.Recipients[i].Status = domain.RecipientStatusSent
		}
	}
	return s.docRepo.Update(ctx, doc)
}

// failSend persists the terminal error state and returns the original cause.
func (s *SignatureAppService) failSend(ctx context.Context, doc *domain.Document, cause error) error {
	msg := cause.Error()
	doc.Status = domain.DocumentStatusSignatureError
	doc.ErrorMessage = &msg
	if err := s.docRepo.Update(ctx, doc); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist send failure",
			"document_id", doc.ID, "error", err, "cause", cause)
	}
	return cause
}

// notifyRecipients delivers signing URLs best-effort after a successful send.
func (s *SignatureAppService) notifyRecipients(ctx context.Context, doc *domain.Document) {
	if s.notifier == nil || doc.ProviderAgreementID == nil {
		return
	}
	urls, err := s.signProvider.GetSigningURLs(ctx, *doc.ProviderAgreementID)
	if err != nil {
		s.logger.WarnContext(ctx, "Could not fetch signing URLs for notification",
			"document_id", doc.ID, "error", err)
		return
	}
	for _, u := range urls {
		rec := doc.RecipientByEmail(u.Email)
		if rec == nil {
			continue
		}
		if err := s.notifier.NotifySigningRequested(ctx, *rec, doc, u.URL); err != nil {
			s.logger.WarnContext(ctx, "Failed to notify recipient",
				"document_id", doc.ID, "recipient_email", rec.Email, "error", err)
		}
	}
}
