package postgres

import (
	"context"
	"database/sql"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/document"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const documentColumns = `id, application_id, student_id, document_name, description, status, uploaded_file_url, rejection_reason,
	created_at, uploaded_at, reviewed_at`

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) GetByID(ctx context.Context, id common.UUID) (*document.Request, error) {
	req, err := scanDocument(r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM document_requests WHERE id = $1`, id))
	if err != nil {
		return nil, storeError("document request not found", err)
	}
	return req, nil
}

func (r *DocumentRepository) ListByApplication(ctx context.Context, applicationID common.UUID) ([]document.Request, error) {
	return listDocuments(ctx, r.db, applicationID)
}

func scanDocument(row scanner) (*document.Request, error) {
	var req document.Request
	var uploadedAt, reviewedAt sql.NullTime
	if err := row.Scan(&req.ID, &req.ApplicationID, &req.StudentID, &req.DocumentName, &req.Description, &req.Status,
		&req.UploadedFileURL, &req.RejectionReason, &req.CreatedAt, &uploadedAt, &reviewedAt); err != nil {
		return nil, err
	}
	req.UploadedAt = timePtr(uploadedAt)
	req.ReviewedAt = timePtr(reviewedAt)
	return &req, nil
}

func listDocuments(ctx context.Context, q querier, applicationID common.UUID) ([]document.Request, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+documentColumns+` FROM document_requests WHERE application_id = $1 ORDER BY created_at, id`, applicationID)
	if err != nil {
		return nil, storeError("failed to list document requests", err)
	}
	defer rows.Close()
	var items []document.Request
	for rows.Next() {
		req, err := scanDocument(rows)
		if err != nil {
			return nil, storeError("failed to scan document request", err)
		}
		items = append(items, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("failed to list document requests", err)
	}
	return items, nil
}

func updateDocument(ctx context.Context, q querier, req document.Request) error {
	result, err := q.ExecContext(ctx, `UPDATE document_requests SET status = $1, uploaded_file_url = $2, rejection_reason = $3,
		uploaded_at = $4, reviewed_at = $5 WHERE id = $6`,
		req.Status, req.UploadedFileURL, req.RejectionReason, nullTime(req.UploadedAt), nullTime(req.ReviewedAt), req.ID)
	if err != nil {
		return storeError("failed to update document request", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return common.NewError(common.CodeNotFound, "document request not found", sql.ErrNoRows)
	}
	return nil
}
