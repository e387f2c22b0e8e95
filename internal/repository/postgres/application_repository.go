package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/application"
	"uniadmit/internal/domain/document"
	"uniadmit/internal/domain/payment"
)

const applicationColumns = `id, student_id, program_id, status, documents_complete, payment_status, payment_amount, payment_currency,
	admin_notes, acceptance_letter_url, personal_statement, created_at, updated_at, submitted_at`

type ApplicationRepository struct {
	db *sql.DB
}

func NewApplicationRepository(db *sql.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

func scanApplication(row scanner) (*application.Application, error) {
	var app application.Application
	var submittedAt sql.NullTime
	if err := row.Scan(&app.ID, &app.StudentID, &app.ProgramID, &app.Status, &app.DocumentsComplete, &app.PaymentStatus, &app.PaymentAmount,
		&app.PaymentCurrency, &app.AdminNotes, &app.AcceptanceLetterURL, &app.PersonalStatement, &app.CreatedAt, &app.UpdatedAt, &submittedAt); err != nil {
		return nil, err
	}
	app.SubmittedAt = timePtr(submittedAt)
	return &app, nil
}

func (r *ApplicationRepository) Create(ctx context.Context, app application.Application) (*application.Application, error) {
	if app.ID.IsZero() {
		app.ID = common.NewUUID()
	}
	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `INSERT INTO applications (`+applicationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		app.ID, app.StudentID, app.ProgramID, app.Status, app.DocumentsComplete, app.PaymentStatus, app.PaymentAmount, app.PaymentCurrency,
		app.AdminNotes, app.AcceptanceLetterURL, app.PersonalStatement, app.CreatedAt, app.UpdatedAt, nullTime(app.SubmittedAt))
	if err != nil {
		return nil, storeError("failed to create application", err)
	}
	return &app, nil
}

// CreateWithPayment inserts an application together with its first fee
// transaction.
func (r *ApplicationRepository) CreateWithPayment(ctx context.Context, app application.Application, fee payment.Transaction) (*application.Application, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if app.ID.IsZero() {
		app.ID = common.NewUUID()
	}
	app.CreatedAt = now
	app.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, `INSERT INTO applications (`+applicationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		app.ID, app.StudentID, app.ProgramID, app.Status, app.DocumentsComplete, app.PaymentStatus, app.PaymentAmount, app.PaymentCurrency,
		app.AdminNotes, app.AcceptanceLetterURL, app.PersonalStatement, app.CreatedAt, app.UpdatedAt, nullTime(app.SubmittedAt)); err != nil {
		return nil, storeError("failed to create application", err)
	}
	fee.ApplicationID = app.ID
	if err := insertTransaction(ctx, tx, fee); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storeError("failed to commit application", err)
	}
	return &app, nil
}

func (r *ApplicationRepository) GetByID(ctx context.Context, id common.UUID) (*application.Application, error) {
	app, err := scanApplication(r.db.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id))
	if err != nil {
		return nil, storeError("application not found", err)
	}
	return app, nil
}

func (r *ApplicationRepository) FindByStudentAndProgram(ctx context.Context, studentID, programID common.UUID) (*application.Application, error) {
	app, err := scanApplication(r.db.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE student_id = $1 AND program_id = $2`, studentID, programID))
	if err != nil {
		return nil, storeError("application not found", err)
	}
	return app, nil
}

func (r *ApplicationRepository) ListByStudent(ctx context.Context, studentID common.UUID) ([]application.Application, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE student_id = $1 ORDER BY created_at DESC`, studentID)
	if err != nil {
		return nil, storeError("failed to list student applications", err)
	}
	return collectApplications(rows)
}

func (r *ApplicationRepository) List(ctx context.Context, filter application.ListFilter) ([]application.Application, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.ProgramID.IsZero() {
		args = append(args, filter.ProgramID)
		where = append(where, fmt.Sprintf("program_id = $%d", len(args)))
	}
	query := `SELECT ` + applicationColumns + ` FROM applications`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("failed to list applications", err)
	}
	return collectApplications(rows)
}

func collectApplications(rows *sql.Rows) ([]application.Application, error) {
	defer rows.Close()
	var items []application.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, storeError("failed to scan application", err)
		}
		items = append(items, *app)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("failed to list applications", err)
	}
	return items, nil
}

// Atomic locks the application row for the duration of fn.
func (r *ApplicationRepository) Atomic(ctx context.Context, id common.UUID, fn func(ctx context.Context, tx application.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()
	app, err := scanApplication(tx.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return storeError("application not found", err)
	}
	if err := fn(ctx, &applicationTx{tx: tx, app: *app}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeError("failed to commit transaction", err)
	}
	return nil
}

type applicationTx struct {
	tx  *sql.Tx
	app application.Application
}

func (t *applicationTx) Load(ctx context.Context) (*application.Aggregate, error) {
	docs, err := listDocuments(ctx, t.tx, t.app.ID)
	if err != nil {
		return nil, err
	}
	payments, err := listTransactions(ctx, t.tx, t.app.ID)
	if err != nil {
		return nil, err
	}
	refunds, err := listRefunds(ctx, t.tx, t.app.ID)
	if err != nil {
		return nil, err
	}
	return &application.Aggregate{Application: t.app, Documents: docs, Payments: payments, Refunds: refunds}, nil
}

func (t *applicationTx) UpdateApplication(ctx context.Context, app application.Application) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE applications SET status = $1, documents_complete = $2, payment_status = $3, payment_amount = $4,
		payment_currency = $5, admin_notes = $6, acceptance_letter_url = $7, personal_statement = $8, updated_at = $9, submitted_at = $10
		WHERE id = $11`,
		app.Status, app.DocumentsComplete, app.PaymentStatus, app.PaymentAmount, app.PaymentCurrency, app.AdminNotes,
		app.AcceptanceLetterURL, app.PersonalStatement, app.UpdatedAt, nullTime(app.SubmittedAt), app.ID)
	if err != nil {
		return storeError("failed to update application", err)
	}
	t.app = app
	return nil
}

func (t *applicationTx) InsertDocumentRequests(ctx context.Context, requests []document.Request) error {
	if len(requests) == 0 {
		return nil
	}
	ids := make([]string, len(requests))
	names := make([]string, len(requests))
	descriptions := make([]string, len(requests))
	for i, req := range requests {
		ids[i] = req.ID.String()
		names[i] = req.DocumentName
		descriptions[i] = req.Description
	}
	first := requests[0]
	_, err := t.tx.ExecContext(ctx, `INSERT INTO document_requests (id, application_id, student_id, document_name, description, status, created_at)
		SELECT d.id, $4, $5, d.name, d.description, $6, $7
		FROM unnest($1::uuid[], $2::text[], $3::text[]) AS d(id, name, description)`,
		pq.Array(ids), pq.Array(names), pq.Array(descriptions), first.ApplicationID, first.StudentID, first.Status, first.CreatedAt)
	if err != nil {
		return storeError("failed to create document requests", err)
	}
	return nil
}

func (t *applicationTx) UpdateDocumentRequest(ctx context.Context, req document.Request) error {
	return updateDocument(ctx, t.tx, req)
}

func (t *applicationTx) InsertPaymentTransaction(ctx context.Context, transaction payment.Transaction) error {
	return insertTransaction(ctx, t.tx, transaction)
}

func (t *applicationTx) UpdatePaymentTransaction(ctx context.Context, transaction payment.Transaction) error {
	return updateTransaction(ctx, t.tx, transaction)
}

func (t *applicationTx) InsertRefund(ctx context.Context, refund payment.Refund) error {
	return insertRefund(ctx, t.tx, refund)
}

func (t *applicationTx) UpdateRefund(ctx context.Context, refund payment.Refund) error {
	return updateRefund(ctx, t.tx, refund)
}
