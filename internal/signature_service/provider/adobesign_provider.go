package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
)

// AdobeSignProvider talks to an Adobe-Sign-compatible REST API through the
// retrying transport.
type AdobeSignProvider struct {
	logger      *slog.Logger
	transport   *Transport
	baseURL     string
	accessToken string
}

// NewAdobeSignProvider creates the provider adapter. baseURL is the API root,
// e.g. "https://api.eu1.adobesign.com/api/rest/v6".
func NewAdobeSignProvider(logger *slog.Logger, transport *Transport, baseURL, accessToken string) *AdobeSignProvider {
	return &AdobeSignProvider{
		logger:      logger.With("provider", "adobesign"),
		transport:   transport,
		baseURL:     baseURL,
		accessToken: accessToken,
	}
}

func (p *AdobeSignProvider) GetName() string {
	return "adobesign"
}

func (p *AdobeSignProvider) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+p.accessToken)
	return h
}

// doJSON executes a JSON request and decodes the response into out (when out
// is non-nil).
func (p *AdobeSignProvider) doJSON(ctx context.Context, method, path string, payload, out interface{}) error {
	var bodyFn func() (io.Reader, error)
	header := p.authHeader()
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling %s %s payload: %w", method, path, err)
		}
		bodyFn = func() (io.Reader, error) { return bytes.NewReader(raw), nil }
		header.Set("Content-Type", "application/json")
	}

	resp, err := p.transport.Execute(ctx, &Request{
		Method: method,
		URL:    p.baseURL + path,
		Header: header,
		Body:   bodyFn,
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

func (p *AdobeSignProvider) UploadTransientDocument(ctx context.Context, fileName, mimeType string, content io.Reader) (string, error) {
	// The multipart body is materialized up front so retries can resend it.
	raw, err := io.ReadAll(content)
	if err != nil {
		return "", fmt.Errorf("reading document content: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("File-Name", fileName); err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}
	if err := writer.WriteField("Mime-Type", mimeType); err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}
	part, err := writer.CreateFormFile("File", fileName)
	if err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}
	if _, err := part.Write(raw); err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}

	header := p.authHeader()
	header.Set("Content-Type", writer.FormDataContentType())
	body := buf.Bytes()

	resp, err := p.transport.Execute(ctx, &Request{
		Method: http.MethodPost,
		URL:    p.baseURL + "/transientDocuments",
		Header: header,
		Body:   func() (io.Reader, error) { return bytes.NewReader(body), nil },
	})
	if err != nil {
		return "", err
	}

	var uploadResp UploadTransientResponse
	if err := json.Unmarshal(resp.Body, &uploadResp); err != nil {
		return "", fmt.Errorf("decoding transient upload response: %w", err)
	}
	if uploadResp.TransientDocumentID == "" {
		return "", fmt.Errorf("transient upload response missing transientDocumentId")
	}
	p.logger.InfoContext(ctx, "Uploaded transient document",
		"file_name", fileName, "transient_document_id", uploadResp.TransientDocumentID)
	return uploadResp.TransientDocumentID, nil
}

func (p *AdobeSignProvider) CreateAgreement(ctx context.Context, req *CreateAgreementRequest) (*CreateAgreementResponse, error) {
	var createResp CreateAgreementResponse
	if err := p.doJSON(ctx, http.MethodPost, "/agreements", req, &createResp); err != nil {
		return nil, err
	}
	if createResp.ID == "" {
		return nil, fmt.Errorf("agreement creation response missing id")
	}
	p.logger.InfoContext(ctx, "Created agreement", "agreement_id", createResp.ID, "name", req.Name)
	return &createResp, nil
}

func (p *AdobeSignProvider) GetAgreementSnapshot(ctx context.Context, agreementID string) (*AgreementSnapshot, error) {
	var info agreementInfoResponse
	if err := p.doJSON(ctx, http.MethodGet, "/agreements/"+url.PathEscape(agreementID), nil, &info); err != nil {
		return nil, err
	}

	var members membersResponse
	if err := p.doJSON(ctx, http.MethodGet, "/agreements/"+url.PathEscape(agreementID)+"/members", nil, &members); err != nil {
		return nil, err
	}

	snapshot := &AgreementSnapshot{
		AgreementID: info.ID,
		Status:      info.Status,
	}
	for _, set := range members.ParticipantSets {
		for _, m := range set.MemberInfos {
			status := m.Status
			if status == "" {
				// Some provider versions only report status at set level.
				status = set.Status
			}
			snapshot.Participants = append(snapshot.Participants, ParticipantSnapshot{
				Email:            m.Email,
				Status:           status,
				Order:            set.Order,
				CompletedDate:    m.CompletedDate,
				StatusUpdateDate: m.StatusUpdateDate,
				ModifiedDate:     m.ModifiedDate,
				AccessDate:       m.AccessDate,
			})
		}
	}
	return snapshot, nil
}

func (p *AdobeSignProvider) GetSigningURLs(ctx context.Context, agreementID string) ([]SigningURL, error) {
	var resp signingURLsResponse
	if err := p.doJSON(ctx, http.MethodGet, "/agreements/"+url.PathEscape(agreementID)+"/signingUrls", nil, &resp); err != nil {
		return nil, err
	}
	var urls []SigningURL
	for _, set := range resp.SigningURLSetInfos {
		urls = append(urls, set.SigningURLs...)
	}
	return urls, nil
}

func (p *AdobeSignProvider) SearchAgreementsByExternalID(ctx context.Context, externalID string) ([]AgreementSummary, error) {
	var resp searchAgreementsResponse
	path := "/agreements?externalId=" + url.QueryEscape(externalID)
	if err := p.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.UserAgreementList, nil
}

func (p *AdobeSignProvider) GetAgreementEvents(ctx context.Context, agreementID string) ([]AgreementEvent, error) {
	var resp agreementEventsResponse
	if err := p.doJSON(ctx, http.MethodGet, "/agreements/"+url.PathEscape(agreementID)+"/events", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (p *AdobeSignProvider) CreateWebhook(ctx context.Context, req *CreateWebhookRequest) error {
	return p.doJSON(ctx, http.MethodPost, "/webhooks", req, nil)
}
