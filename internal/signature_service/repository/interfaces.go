package repository

import (
	"context"

	"github.com/SujJR/ESign-sub002/internal/signature_service/domain"
)

// DocumentRepository persists documents and their recipients.
//
// Update enforces optimistic concurrency: it compares the document's Version
// against the stored row and returns domain.ErrVersionConflict when another
// writer got there first. This is what serializes concurrent operations on
// the same document, since send and status-check both read-then-write.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	GetByAgreementID(ctx context.Context, agreementID string) (*domain.Document, error)
	Update(ctx context.Context, doc *domain.Document) error
}
