package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"

	"github.com/SujJR/ESign-sub002/internal/signature_service/app"
	"github.com/SujJR/ESign-sub002/internal/signature_service/domain"
)

// DocumentHandler binds the orchestrator's entry points to the HTTP API.
type DocumentHandler struct {
	appService *app.SignatureAppService
	logger     *slog.Logger
}

// NewDocumentHandler creates the handler.
func NewDocumentHandler(appService *app.SignatureAppService, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{
		appService: appService,
		logger:     logger.With("component", "document_handler"),
	}
}

// RegisterRoutes mounts the document routes on the router.
func (h *DocumentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/documents/{documentID}", func(r chi.Router) {
		r.Post("/send", h.SendForSignature)
		r.Get("/status", h.CheckStatus)
		r.Post("/recover", h.RecoverSend)
		r.Get("/signing-urls", h.SigningURLs)
		r.Get("/events", h.AgreementEvents)
	})
}

// SendForSignature handles POST /api/v1/documents/{documentID}/send.
func (h *DocumentHandler) SendForSignature(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	documentID := chi.URLParam(r, "documentID")
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx), "document_id", documentID)

	result, err := h.appService.SendForSignature(ctx, documentID)
	if err != nil {
		h.writeError(w, r, logger, err)
		return
	}

	resp := SendResponse{
		Status:          result.Status,
		AgreementID:     result.AgreementID,
		MethodUsed:      string(result.MethodUsed),
		RateLimited:     result.RateLimited,
		RecoveryApplied: result.RecoveryApplied,
	}
	code := http.StatusOK
	if result.RateLimited {
		resp.RetryAfterSec = int(result.RetryAfter.Seconds())
		code = http.StatusTooManyRequests
	}
	writeJSON(w, code, resp)
}

// CheckStatus handles GET /api/v1/documents/{documentID}/status.
func (h *DocumentHandler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	documentID := chi.URLParam(r, "documentID")
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx), "document_id", documentID)

	doc, err := h.appService.CheckStatus(ctx, documentID)
	if err != nil {
		h.writeError(w, r, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// RecoverSend handles POST /api/v1/documents/{documentID}/recover.
func (h *DocumentHandler) RecoverSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	documentID := chi.URLParam(r, "documentID")
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx), "document_id", documentID)

	result, err := h.appService.RecoverSend(ctx, documentID)
	if err != nil {
		h.writeError(w, r, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, RecoverResponse{
		Recovered: result.Recovered,
		Document:  toDocumentResponse(result.Document),
	})
}

// SigningURLs handles GET /api/v1/documents/{documentID}/signing-urls.
func (h *DocumentHandler) SigningURLs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	documentID := chi.URLParam(r, "documentID")
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx), "document_id", documentID)

	doc, err := h.appService.RefreshSigningURLs(ctx, documentID)
	if err != nil {
		h.writeError(w, r, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// AgreementEvents handles GET /api/v1/documents/{documentID}/events.
func (h *DocumentHandler) AgreementEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	documentID := chi.URLParam(r, "documentID")
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx), "document_id", documentID)

	events, err := h.appService.AgreementEvents(ctx, documentID)
	if err != nil {
		h.writeError(w, r, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, EventsResponse{Events: toEventResponses(events)})
}

func (h *DocumentHandler) writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	ctx := r.Context()

	var validationErr *domain.ValidationError
	var rateErr *domain.RateLimitedError
	switch {
	case errors.Is(err, domain.ErrDocumentNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "document not found"})
	case errors.As(err, &validationErr):
		logger.WarnContext(ctx, "Request rejected by validation", "error", err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.As(err, &rateErr):
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrVersionConflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "document was updated concurrently, retry"})
	default:
		logger.ErrorContext(ctx, "Request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
