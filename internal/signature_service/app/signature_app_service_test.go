package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/SujJR/ESign-sub002/internal/signature_service/domain"
	"github.com/SujJR/ESign-sub002/internal/signature_service/provider"
)

// --- Mocks ---

type MockDocumentRepository struct {
	mock.Mock
}

func (m *MockDocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *MockDocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) GetByAgreementID(ctx context.Context, agreementID string) (*domain.Document, error) {
	args := m.Called(ctx, agreementID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) Update(ctx context.Context, doc *domain.Document) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

type MockSignatureProvider struct {
	mock.Mock
}

func (m *MockSignatureProvider) UploadTransientDocument(ctx context.Context, fileName, mimeType string, content io.Reader) (string, error) {
	args := m.Called(ctx, fileName, mimeType, content)
	return args.String(0), args.Error(1)
}

func (m *MockSignatureProvider) CreateAgreement(ctx context.Context, req *provider.CreateAgreementRequest) (*provider.CreateAgreementResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.CreateAgreementResponse), args.Error(1)
}

func (m *MockSignatureProvider) GetAgreementSnapshot(ctx context.Context, agreementID string) (*provider.AgreementSnapshot, error) {
	args := m.Called(ctx, agreementID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.AgreementSnapshot), args.Error(1)
}

func (m *MockSignatureProvider) GetSigningURLs(ctx context.Context, agreementID string) ([]provider.SigningURL, error) {
	args := m.Called(ctx, agreementID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]provider.SigningURL), args.Error(1)
}

func (m *MockSignatureProvider) SearchAgreementsByExternalID(ctx context.Context, externalID string) ([]provider.AgreementSummary, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]provider.AgreementSummary), args.Error(1)
}

func (m *MockSignatureProvider) GetAgreementEvents(ctx context.Context, agreementID string) ([]provider.AgreementEvent, error) {
	args := m.Called(ctx, agreementID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]provider.AgreementEvent), args.Error(1)
}

func (m *MockSignatureProvider) CreateWebhook(ctx context.Context, req *provider.CreateWebhookRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockSignatureProvider) GetName() string { return "mock" }

type MockDocumentStorage struct {
	mock.Mock
}

func (m *MockDocumentStorage) Open(ctx context.Context, filePath string) (io.ReadCloser, error) {
	args := m.Called(ctx, filePath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifySigningRequested(ctx context.Context, recipient domain.Recipient, doc *domain.Document, signingURL string) error {
	args := m.Called(ctx, recipient, doc, signingURL)
	return args.Error(0)
}

// --- Helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type serviceFixture struct {
	repo     *MockDocumentRepository
	prov     *MockSignatureProvider
	storage  *MockDocumentStorage
	notifier *MockNotifier
	gate     *RateLimitGate
	svc      *SignatureAppService
}

func newServiceFixture(t *testing.T, posture RecoveryPosture) *serviceFixture {
	t.Helper()
	logger := testLogger()
	repo := new(MockDocumentRepository)
	prov := new(MockSignatureProvider)
	storage := new(MockDocumentStorage)
	notifier := new(MockNotifier)
	gate := NewRateLimitGate()

	svc := NewSignatureAppService(
		repo, prov, storage, notifier,
		NewAgreementCreationStrategy(prov, gate, logger),
		NewRecoveryVerifier(prov, logger),
		NewStatusReconciler(logger),
		gate, posture, logger,
	)
	return &serviceFixture{repo: repo, prov: prov, storage: storage, notifier: notifier, gate: gate, svc: svc}
}

func sendableDocument(sequential bool) *domain.Document {
	return &domain.Document{
		ID:                "doc-1",
		Name:              "Service Agreement",
		FilePath:          "contracts/service-agreement.pdf",
		Status:            domain.DocumentStatusReadyForSignature,
		SequentialSigning: sequential,
		Recipients: []domain.Recipient{
			{ID: "r1", DocumentID: "doc-1", Name: "Alice", Email: "alice@example.com", Order: 1, Status: domain.RecipientStatusPending},
			{ID: "r2", DocumentID: "doc-1", Name: "Bob", Email: "bob@example.com", Order: 2, Status: domain.RecipientStatusPending},
		},
		Version: 1,
	}
}

func fileContent() io.ReadCloser {
	return io.NopCloser(bytes.NewReader([]byte("%PDF-1.7 test")))
}

// --- SendForSignature ---

func TestSendForSignature_SuccessSequential(t *testing.T) {
	f := newServiceFixture(t, PostureVerified)
	doc := sendableDocument(true)

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.storage.On("Open", mock.Anything, doc.FilePath).Return(fileContent(), nil)
	f.prov.On("UploadTransientDocument", mock.Anything, doc.Name, "application/pdf", mock.Anything).Return("trans-1", nil)
	f.repo.On("Update", mock.Anything, mock.Anything).Return(nil)

	var capturedReq *provider.CreateAgreementRequest
	f.prov.On("CreateAgreement", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { capturedReq = args.Get(1).(*provider.CreateAgreementRequest) }).
		Return(&provider.CreateAgreementResponse{ID: "agr-1"}, nil)
	f.prov.On("GetSigningURLs", mock.Anything, "agr-1").Return([]provider.SigningURL{
		{Email: "alice@example.com", URL: "https://sign.example.com/a"},
	}, nil)
	f.notifier.On("NotifySigningRequested", mock.Anything, mock.Anything, mock.Anything, "https://sign.example.com/a").Return(nil)

	result, err := f.svc.SendForSignature(context.Background(), "doc-1")
	require.NoError(t, err)

	assert.Equal(t, "agr-1", result.AgreementID)
	assert.Equal(t, CreationMethodBasic, result.MethodUsed)
	assert.Equal(t, domain.DocumentStatusSentForSignature, result.Status)
	assert.False(t, result.RateLimited)

	require.NotNil(t, capturedReq)
	assert.Equal(t, "trans-1", capturedReq.FileInfos[0].TransientDocumentID)
	require.Len(t, capturedReq.ParticipantSetsInfo, 2, "sequential signing builds one set per recipient")
	assert.Equal(t, 1, capturedReq.ParticipantSetsInfo[0].Order)
	assert.Equal(t, 2, capturedReq.ParticipantSetsInfo[1].Order)
	require.NotNil(t, capturedReq.ExternalID)
	assert.Equal(t, doc.IdempotencyToken(), capturedReq.ExternalID.ID)

	// First recipient is actionable, later ones wait their turn.
	assert.Equal(t, domain.RecipientStatusSent, doc.Recipients[0].Status)
	assert.Equal(t, domain.RecipientStatusWaiting, doc.Recipients[1].Status)
	assert.Equal(t, "basic", doc.ProviderMetadata[domain.MetaMethodUsed])
	require.NotNil(t, doc.ProviderAgreementID)
	assert.Equal(t, "agr-1", *doc.ProviderAgreementID)

	f.notifier.AssertCalled(t, "NotifySigningRequested", mock.Anything, mock.Anything, mock.Anything, "https://sign.example.com/a")
}

func TestSendForSignature_TextTagMethodSelected(t *testing.T) {
	f := newServiceFixture(t, PostureVerified)
	doc := sendableDocument(false)
	doc.AutoDetectedFields = true

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.storage.On("Open", mock.Anything, doc.FilePath).Return(fileContent(), nil)
	f.prov.On("UploadTransientDocument", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("trans-1", nil)
	f.repo.On("Update", mock.Anything, mock.Anything).Return(nil)

	var capturedReq *provider.CreateAgreementRequest
	f.prov.On("CreateAgreement", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { capturedReq = args.Get(1).(*provider.CreateAgreementRequest) }).
		Return(&provider.CreateAgreementResponse{ID: "agr-2"}, nil)
	f.prov.On("GetSigningURLs", mock.Anything, "agr-2").Return([]provider.SigningURL{}, nil)

	result, err := f.svc.SendForSignature(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, CreationMethodTextTags, result.MethodUsed)

	require.NotNil(t, capturedReq.FieldOptions)
	assert.True(t, capturedReq.FieldOptions.TextTagsEnabled)
	assert.False(t, capturedReq.FieldOptions.AutoPlaceFields,
		"auto-placement combined with text tags would duplicate signature fields")
	require.Len(t, capturedReq.ParticipantSetsInfo, 1, "parallel signing puts everyone in one set")
	assert.Len(t, capturedReq.ParticipantSetsInfo[0].MemberInfos, 2)
	assert.Equal(t, 1, capturedReq.ParticipantSetsInfo[0].Order)
}

func TestSendForSignature_TextTagFailureDoesNotFallBack(t *testing.T) {
	f := newServiceFixture(t, PostureVerified)
	doc := sendableDocument(false)
	doc.AutoDetectedFields = true

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.storage.On("Open", mock.Anything, doc.FilePath).Return(fileContent(), nil)
	f.prov.On("UploadTransientDocument", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("trans-1", nil)
	f.repo.On("Update", mock.Anything, mock.Anything).Return(nil)
	f.prov.On("CreateAgreement", mock.Anything, mock.Anything).
		Return(nil, &provider.ProviderError{StatusCode: 400, Body: "MISPLACED_TAG"}).Once()

	_, err := f.svc.SendForSignature(context.Background(), "doc-1")
	require.Error(t, err)
	assert.Equal(t, domain.DocumentStatusSignatureError, doc.Status)
	f.prov.AssertNumberOfCalls(t, "CreateAgreement", 1)
}

func TestSendForSignature_RateLimited(t *testing.T) {
	f := newServiceFixture(t, PostureVerified)
	doc := sendableDocument(false)

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.storage.On("Open", mock.Anything, doc.FilePath).Return(fileContent(), nil)
	f.prov.On("UploadTransientDocument", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("trans-1", nil)
	f.repo.On("Update", mock.Anything, mock.Anything).Return(nil)
	f.prov.On("CreateAgreement", mock.Anything, mock.Anything).
		Return(nil, &provider.RateLimitError{RetryAfter: 120 * time.Second})

	result, err := f.svc.SendForSignature(context.Background(), "doc-1")
	require.NoError(t, err, "rate limiting is a reported outcome, not an error")
	assert.True(t, result.RateLimited)
	assert.Equal(t, 120*time.Second, result.RetryAfter)
	assert.Equal(t, domain.DocumentStatusReadyForSignature, doc.Status, "document stays sendable for a later retry")
	assert.Equal(t, true, doc.ProviderMetadata[domain.MetaRateLimited])
	assert.Equal(t, 120, doc.ProviderMetadata[domain.MetaRetryAfterSeconds])

	// A second attempt inside the embargo is rejected by the gate before any
	// provider traffic.
	result2, err := f.svc.SendForSignature(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.True(t, result2.RateLimited)
	assert.Greater(t, result2.RetryAfter, time.Duration(0))
	f.prov.AssertNumberOfCalls(t, "UploadTransientDocument", 1)
	f.prov.AssertNumberOfCalls(t, "CreateAgreement", 1)
}

func TestSendForSignature_AmbiguousOutcomeRecoveredViaToken(t *testing.T) {
	f := newServiceFixture(t, PostureVerified)
	doc := sendableDocument(false)

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.storage.On("Open", mock.Anything, doc.FilePath).Return(fileContent(), nil)
	f.prov.On("UploadTransientDocument", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("trans-1", nil)
	f.repo.On("Update", mock.Anything, mock.Anything).Return(nil)
	f.prov.On("CreateAgreement", mock.Anything, mock.Anything).
		Return(nil, &provider.NetworkError{Err: errors.New("connection reset"), Exhausted: true})
	f.prov.On("SearchAgreementsByExternalID", mock.Anything, mock.Anything).
		Return([]provider.AgreementSummary{{ID: "agr-recovered"}}, nil)
	f.prov.On("GetSigningURLs", mock.Anything, "agr-recovered").Return([]provider.SigningURL{}, nil)

	result, err := f.svc.SendForSignature(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "agr-recovered", result.AgreementID)
	assert.Equal(t, domain.DocumentStatusSentForSignature, doc.Status)
	require.NotNil(t, doc.ProviderAgreementID)
	assert.Equal(t, "agr-recovered", *doc.ProviderAgreementID)

	// Search used the idempotency token persisted before the creation call.
	token := doc.IdempotencyToken()
	require.NotEmpty(t, token)
	f.prov.AssertCalled(t, "SearchAgreementsByExternalID", mock.Anything, token)
}

func TestSendForSignature_AmbiguousOutcomeVerifiedPostureFails(t *testing.T) {
	f := newServiceFixture(t, PostureVerified)
	doc := sendableDocument(false)

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.storage.On("Open", mock.Anything, doc.FilePath).Return(fileContent(), nil)
	f.prov.On("UploadTransientDocument", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("trans-1", nil)
	f.repo.On("Update", mock.Anything, mock.Anything).Return(nil)
	f.prov.On("CreateAgreement", mock.Anything, mock.Anything).
		Return(nil, &provider.NetworkError{Err: errors.New("timeout"), Exhausted: true})
	f.prov.On("SearchAgreementsByExternalID", mock.Anything, mock.Anything).
		Return([]provider.AgreementSummary{}, nil)

	_, err := f.svc.SendForSignature(context.Background(), "doc-1")
	require.Error(t, err)
	assert.Equal(t, domain.DocumentStatusSignatureError, doc.Status)
	require.NotNil(t, doc.ErrorMessage)
	assert.Nil(t, doc.ProviderAgreementID)
}

func TestSendForSignature_AmbiguousOutcomeAggressivePosture(t *testing.T) {
	f := newServiceFixture(t, PostureAggressive)
	doc := sendableDocument(false)

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.storage.On("Open", mock.Anything, doc.FilePath).Return(fileContent(), nil)
	f.prov.On("UploadTransientDocument", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("trans-1", nil)
	f.repo.On("Update", mock.Anything, mock.Anything).Return(nil)
	f.prov.On("CreateAgreement", mock.Anything, mock.Anything).
		Return(nil, &provider.NetworkError{Err: errors.New("timeout"), Exhausted: true})
	f.prov.On("SearchAgreementsByExternalID", mock.Anything, mock.Anything).
		Return([]provider.AgreementSummary{}, nil)

	result, err := f.svc.SendForSignature(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.True(t, result.RecoveryApplied)
	assert.Equal(t, domain.DocumentStatusSentForSignature, doc.Status)
	assert.Equal(t, true, doc.ProviderMetadata[domain.MetaRecoveryApplied],
		"aggressive recovery must always be flagged for audit")
	assert.Nil(t, doc.ProviderAgreementID)
}

func TestSendForSignature_RejectsInvalidDocument(t *testing.T) {
	f := newServiceFixture(t, PostureVerified)
	doc := sendableDocument(false)
	doc.Status = domain.DocumentStatusCompleted

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)

	_, err := f.svc.SendForSignature(context.Background(), "doc-1")
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	f.prov.AssertNotCalled(t, "UploadTransientDocument", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// --- CheckStatus ---

func TestCheckStatus_NoAgreementSkipsProvider(t *testing.T) {
	f := newServiceFixture(t, PostureVerified)
	doc := sendableDocument(false)

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)

	got, err := f.svc.CheckStatus(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Same(t, doc, got)
	f.prov.AssertNotCalled(t, "GetAgreementSnapshot", mock.Anything, mock.Anything)
}

func TestCheckStatus_ReconcilesAndPersists(t *testing.T) {
	f := newServiceFixture(t, PostureVerified)
	doc := sendableDocument(false)
	agrID := "agr-1"
	doc.ProviderAgreementID = &agrID
	doc.Status = domain.DocumentStatusSentForSignature
	doc.Recipients[0].Status = domain.RecipientStatusSent
	doc.Recipients[1].Status = domain.RecipientStatusSent

	signedAt := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.prov.On("GetAgreementSnapshot", mock.Anything, agrID).Return(&provider.AgreementSnapshot{
		AgreementID: agrID,
		Status:      "OUT_FOR_SIGNATURE",
		Participants: []provider.ParticipantSnapshot{
			{Email: "alice@example.com", Status: "SIGNED", CompletedDate: &signedAt},
			{Email: "bob@example.com", Status: "WAITING_FOR_MY_SIGNATURE"},
		},
	}, nil)
	f.repo.On("Update", mock.Anything, mock.Anything).Return(nil)

	got, err := f.svc.CheckStatus(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusPartiallySigned, got.Status)
	assert.Equal(t, domain.RecipientStatusSigned, got.Recipients[0].Status)
	require.NotNil(t, got.Recipients[0].SignedAt)
	assert.True(t, got.Recipients[0].SignedAt.Equal(signedAt))
	assert.Equal(t, domain.RecipientStatusSent, got.Recipients[1].Status)
	f.repo.AssertCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestCheckStatus_UnchangedSkipsWrite(t *testing.T) {
	f := newServiceFixture(t, PostureVerified)
	doc := sendableDocument(false)
	agrID := "agr-1"
	doc.ProviderAgreementID = &agrID
	doc.Status = domain.DocumentStatusSentForSignature
	doc.Recipients[0].Status = domain.RecipientStatusSent
	doc.Recipients[1].Status = domain.RecipientStatusSent

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.prov.On("GetAgreementSnapshot", mock.Anything, agrID).Return(&provider.AgreementSnapshot{
		AgreementID: agrID,
		Status:      "OUT_FOR_SIGNATURE",
		Participants: []provider.ParticipantSnapshot{
			{Email: "alice@example.com", Status: "ACTIVE"},
		},
	}, nil)

	_, err := f.svc.CheckStatus(context.Background(), "doc-1")
	require.NoError(t, err)
	f.repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestCheckStatus_VersionConflictSwallowed(t *testing.T) {
	f := newServiceFixture(t, PostureVerified)
	doc := sendableDocument(false)
	agrID := "agr-1"
	doc.ProviderAgreementID = &agrID
	doc.Status = domain.DocumentStatusSentForSignature

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.prov.On("GetAgreementSnapshot", mock.Anything, agrID).Return(&provider.AgreementSnapshot{
		AgreementID: agrID,
		Status:      "SIGNED",
	}, nil)
	f.repo.On("Update", mock.Anything, mock.Anything).Return(domain.ErrVersionConflict)

	got, err := f.svc.CheckStatus(context.Background(), "doc-1")
	require.NoError(t, err, "losing the update race is not an error; the winner's write covers it")
	assert.Equal(t, domain.DocumentStatusCompleted, got.Status)
}

// --- RecoverSend ---

func TestRecoverSend_FoundMarksSent(t *testing.T) {
	f := newServiceFixture(t, PostureVerified)
	doc := sendableDocument(false)
	doc.Status = domain.DocumentStatusSignatureError
	doc.SetMetadata(domain.MetaIdempotencyToken, "tok-1")

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.prov.On("SearchAgreementsByExternalID", mock.Anything, "tok-1").
		Return([]provider.AgreementSummary{{ID: "agr-9"}}, nil)
	f.repo.On("Update", mock.Anything, mock.Anything).Return(nil)

	result, err := f.svc.RecoverSend(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.True(t, result.Recovered)
	assert.Equal(t, domain.DocumentStatusSentForSignature, doc.Status)
	require.NotNil(t, doc.ProviderAgreementID)
	assert.Equal(t, "agr-9", *doc.ProviderAgreementID)
}

func TestRecoverSend_AlreadySentIsIdempotent(t *testing.T) {
	f := newServiceFixture(t, PostureVerified)
	doc := sendableDocument(false)
	agrID := "agr-9"
	doc.ProviderAgreementID = &agrID
	doc.Status = domain.DocumentStatusSentForSignature

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)

	result, err := f.svc.RecoverSend(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.True(t, result.Recovered)
	f.repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestRecoverSend_NotFoundVerifiedPosture(t *testing.T) {
	f := newServiceFixture(t, PostureVerified)
	doc := sendableDocument(false)
	doc.Status = domain.DocumentStatusSignatureError

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)

	result, err := f.svc.RecoverSend(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.False(t, result.Recovered)
	assert.Equal(t, domain.DocumentStatusSignatureError, doc.Status)
}

// --- RefreshSigningURLs ---

func TestRefreshSigningURLs_StoresURLs(t *testing.T) {
	f := newServiceFixture(t, PostureVerified)
	doc := sendableDocument(false)
	agrID := "agr-1"
	doc.ProviderAgreementID = &agrID

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.prov.On("GetSigningURLs", mock.Anything, agrID).Return([]provider.SigningURL{
		{Email: "ALICE@example.com", URL: "https://sign.example.com/a"},
	}, nil)
	f.repo.On("Update", mock.Anything, mock.Anything).Return(nil)

	got, err := f.svc.RefreshSigningURLs(context.Background(), "doc-1")
	require.NoError(t, err)
	require.NotNil(t, got.Recipients[0].SigningURL)
	assert.Equal(t, "https://sign.example.com/a", *got.Recipients[0].SigningURL)
	assert.Nil(t, got.Recipients[1].SigningURL)
}

func TestRefreshSigningURLs_RequiresAgreement(t *testing.T) {
	f := newServiceFixture(t, PostureVerified)
	doc := sendableDocument(false)

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)

	_, err := f.svc.RefreshSigningURLs(context.Background(), "doc-1")
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

// --- AgreementEvents ---

func TestAgreementEvents(t *testing.T) {
	f := newServiceFixture(t, PostureVerified)
	doc := sendableDocument(false)
	agrID := "agr-1"
	doc.ProviderAgreementID = &agrID

	when := time.Date(2026, 8, 23, 14, 0, 0, 0, time.UTC)
	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.prov.On("GetAgreementEvents", mock.Anything, agrID).Return([]provider.AgreementEvent{
		{Type: "ESIGNED", ParticipantEmail: "alice@example.com", Date: &when},
	}, nil)

	events, err := f.svc.AgreementEvents(context.Background(), "doc-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ESIGNED", events[0].Type)
}

func TestAgreementEvents_RequiresAgreement(t *testing.T) {
	f := newServiceFixture(t, PostureVerified)
	f.repo.On("GetByID", mock.Anything, "doc-1").Return(sendableDocument(false), nil)

	_, err := f.svc.AgreementEvents(context.Background(), "doc-1")
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	f.prov.AssertNotCalled(t, "GetAgreementEvents", mock.Anything, mock.Anything)
}

// --- ProcessProviderEvent ---

func TestProcessProviderEvent_ReconcilesKnownAgreement(t *testing.T) {
	f := newServiceFixture(t, PostureVerified)
	doc := sendableDocument(false)
	agrID := "agr-1"
	doc.ProviderAgreementID = &agrID
	doc.Status = domain.DocumentStatusSentForSignature

	f.repo.On("GetByAgreementID", mock.Anything, agrID).Return(doc, nil)
	f.prov.On("GetAgreementSnapshot", mock.Anything, agrID).Return(&provider.AgreementSnapshot{
		AgreementID: agrID,
		Status:      "SIGNED",
	}, nil)
	f.repo.On("Update", mock.Anything, mock.Anything).Return(nil)

	err := f.svc.ProcessProviderEvent(context.Background(), ProviderEvent{
		AgreementID: agrID,
		EventType:   "AGREEMENT_WORKFLOW_COMPLETED",
	})
	require.NoError(t, err)
	f.repo.AssertCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestProcessProviderEvent_UnknownAgreementIgnored(t *testing.T) {
	f := newServiceFixture(t, PostureVerified)

	f.repo.On("GetByAgreementID", mock.Anything, "agr-unknown").Return(nil, domain.ErrDocumentNotFound)

	err := f.svc.ProcessProviderEvent(context.Background(), ProviderEvent{
		AgreementID: "agr-unknown",
		EventType:   "AGREEMENT_ACTION_COMPLETED",
	})
	require.NoError(t, err)
	f.prov.AssertNotCalled(t, "GetAgreementSnapshot", mock.Anything, mock.Anything)
}

func TestProcessProviderEvent_MissingAgreementID(t *testing.T) {
	f := newServiceFixture(t, PostureVerified)
	err := f.svc.ProcessProviderEvent(context.Background(), ProviderEvent{EventType: "AGREEMENT_CREATED"})
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
}
