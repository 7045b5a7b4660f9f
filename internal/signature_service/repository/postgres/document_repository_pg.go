package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SujJR/ESign-sub002/internal/signature_service/domain"
	"github.com/SujJR/ESign-sub002/internal/signature_service/repository"
)

type pgDocumentRepository struct {
	db *pgxpool.Pool
}

// NewPgDocumentRepository creates the PostgreSQL document repository.
func NewPgDocumentRepository(db *pgxpool.Pool) repository.DocumentRepository {
	return &pgDocumentRepository{db: db}
}

const documentColumns = `
	id, name, file_path, status, provider_agreement_id, transient_doc_id,
	provider_metadata, error_message, sequential_signing, auto_detected_fields,
	version, created_at, updated_at`

func (r *pgDocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	doc.Version = 1
	if doc.Status == "" {
		doc.Status = domain.DocumentStatusUploaded
	}

	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO documents (
				id, name, file_path, status, provider_agreement_id, transient_doc_id,
				provider_metadata, error_message, sequential_signing, auto_detected_fields,
				version, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			doc.ID, doc.Name, doc.FilePath, doc.Status, doc.ProviderAgreementID, doc.TransientDocID,
			doc.ProviderMetadata, doc.ErrorMessage, doc.SequentialSigning, doc.AutoDetectedFields,
			doc.Version, doc.CreatedAt, doc.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting document: %w", err)
		}
		return r.insertRecipients(ctx, tx, doc)
	})
}

func (r *pgDocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	return r.getWhere(ctx, "id = $1", id)
}

func (r *pgDocumentRepository) GetByAgreementID(ctx context.Context, agreementID string) (*domain.Document, error) {
	return r.getWhere(ctx, "provider_agreement_id = $1", agreementID)
}

func (r *pgDocumentRepository) getWhere(ctx context.Context, where string, arg interface{}) (*domain.Document, error) {
	doc := &domain.Document{}
	query := "SELECT " + documentColumns + " FROM documents WHERE " + where
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&doc.ID, &doc.Name, &doc.FilePath, &doc.Status, &doc.ProviderAgreementID, &doc.TransientDocID,
		&doc.ProviderMetadata, &doc.ErrorMessage, &doc.SequentialSigning, &doc.AutoDetectedFields,
		&doc.Version, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("querying document: %w", err)
	}

	recipients, err := r.loadRecipients(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	doc.Recipients = recipients
	return doc, nil
}

func (r *pgDocumentRepository) loadRecipients(ctx context.Context, documentID string) ([]domain.Recipient, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, document_id, name, email, sign_order, status, signed_at, last_accessed_at, signing_url
		FROM document_recipients
		WHERE document_id = $1
		ORDER BY sign_order, email`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying recipients: %w", err)
	}
	defer rows.Close()

	var recipients []domain.Recipient
	for rows.Next() {
		var rec domain.Recipient
		if err := rows.Scan(
			&rec.ID, &rec.DocumentID, &rec.Name, &rec.Email, &rec.Order,
			&rec.Status, &rec.SignedAt, &rec.LastAccessedAt, &rec.SigningURL,
		); err != nil {
			return nil, fmt.Errorf("scanning recipient: %w", err)
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

// Update writes the document and its recipients atomically, guarded by the
// version column. A stale Version returns domain.ErrVersionConflict and
// leaves the row untouched.
func (r *pgDocumentRepository) Update(ctx context.Context, doc *domain.Document) error {
	now := time.Now().UTC()
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE documents SET
				name = $1, file_path = $2, status = $3, provider_agreement_id = $4,
				transient_doc_id = $5, provider_metadata = $6, error_message = $7,
				sequential_signing = $8, auto_detected_fields = $9,
				version = version + 1, updated_at = $10
			WHERE id = $11 AND version = $12`,
			doc.Name, doc.FilePath, doc.Status, doc.ProviderAgreementID,
			doc.TransientDocID, doc.ProviderMetadata, doc.ErrorMessage,
			doc.SequentialSigning, doc.AutoDetectedFields,
			now, doc.ID, doc.Version,
		)
		if err != nil {
			return fmt.Errorf("updating document: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Either the row is gone or another writer bumped the version.
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE id = $1)`, doc.ID).Scan(&exists); err != nil {
				return fmt.Errorf("checking document existence: %w", err)
			}
			if !exists {
				return domain.ErrDocumentNotFound
			}
			return domain.ErrVersionConflict
		}

		if _, err := tx.Exec(ctx, `DELETE FROM document_recipients WHERE document_id = $1`, doc.ID); err != nil {
			return fmt.Errorf("clearing recipients: %w", err)
		}
		return r.insertRecipients(ctx, tx, doc)
	})
	if err != nil {
		return err
	}
	doc.Version++
	doc.UpdatedAt = now
	return nil
}

func (r *pgDocumentRepository) insertRecipients(ctx context.Context, tx pgx.Tx, doc *domain.Document) error {
	for i := range doc.Recipients {
		rec := &doc.Recipients[i]
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.DocumentID = doc.ID
		if rec.Status == "" {
			rec.Status = domain.RecipientStatusPending
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO document_recipients (
				id, document_id, name, email, sign_order, status, signed_at, last_accessed_at, signing_url
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			rec.ID, rec.DocumentID, rec.Name, rec.Email, rec.Order,
			rec.Status, rec.SignedAt, rec.LastAccessedAt, rec.SigningURL,
		); err != nil {
			return fmt.Errorf("inserting recipient %s: %w", rec.Email, err)
		}
	}
	return nil
}
