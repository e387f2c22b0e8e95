package postgres

import (
	"context"
	"database/sql"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/payment"
)

const transactionColumns = `id, application_id, student_id, amount, currency, description, status, receipt_url, payment_method,
	rejection_reason, superseded_at, created_at, updated_at, paid_at`

const refundColumns = `id, application_id, student_id, reason, status, created_at, resolved_at`

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) GetByID(ctx context.Context, id common.UUID) (*payment.Transaction, error) {
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE id = $1`, id))
	if err != nil {
		return nil, storeError("payment transaction not found", err)
	}
	return tx, nil
}

func (r *PaymentRepository) ListByApplication(ctx context.Context, applicationID common.UUID) ([]payment.Transaction, error) {
	return listTransactions(ctx, r.db, applicationID)
}

func (r *PaymentRepository) GetRefund(ctx context.Context, id common.UUID) (*payment.Refund, error) {
	refund, err := scanRefund(r.db.QueryRowContext(ctx, `SELECT `+refundColumns+` FROM refund_requests WHERE id = $1`, id))
	if err != nil {
		return nil, storeError("refund request not found", err)
	}
	return refund, nil
}

func scanTransaction(row scanner) (*payment.Transaction, error) {
	var tx payment.Transaction
	var supersededAt, paidAt sql.NullTime
	if err := row.Scan(&tx.ID, &tx.ApplicationID, &tx.StudentID, &tx.Amount, &tx.Currency, &tx.Description, &tx.Status, &tx.ReceiptURL,
		&tx.PaymentMethod, &tx.RejectionReason, &supersededAt, &tx.CreatedAt, &tx.UpdatedAt, &paidAt); err != nil {
		return nil, err
	}
	tx.SupersededAt = timePtr(supersededAt)
	tx.PaidAt = timePtr(paidAt)
	return &tx, nil
}

func listTransactions(ctx context.Context, q querier, applicationID common.UUID) ([]payment.Transaction, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE application_id = $1 ORDER BY created_at, id`, applicationID)
	if err != nil {
		return nil, storeError("failed to list payment transactions", err)
	}
	defer rows.Close()
	var items []payment.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, storeError("failed to scan payment transaction", err)
		}
		items = append(items, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("failed to list payment transactions", err)
	}
	return items, nil
}

func insertTransaction(ctx context.Context, q querier, tx payment.Transaction) error {
	_, err := q.ExecContext(ctx, `INSERT INTO payment_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		tx.ID, tx.ApplicationID, tx.StudentID, tx.Amount, tx.Currency, tx.Description, tx.Status, tx.ReceiptURL, tx.PaymentMethod,
		tx.RejectionReason, nullTime(tx.SupersededAt), tx.CreatedAt, tx.UpdatedAt, nullTime(tx.PaidAt))
	if err != nil {
		return storeError("failed to create payment transaction", err)
	}
	return nil
}

func updateTransaction(ctx context.Context, q querier, tx payment.Transaction) error {
	result, err := q.ExecContext(ctx, `UPDATE payment_transactions SET status = $1, receipt_url = $2, payment_method = $3, rejection_reason = $4,
		superseded_at = $5, updated_at = $6, paid_at = $7 WHERE id = $8`,
		tx.Status, tx.ReceiptURL, tx.PaymentMethod, tx.RejectionReason, nullTime(tx.SupersededAt), tx.UpdatedAt, nullTime(tx.PaidAt), tx.ID)
	if err != nil {
		return storeError("failed to update payment transaction", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return common.NewError(common.CodeNotFound, "payment transaction not found", sql.ErrNoRows)
	}
	return nil
}

func scanRefund(row scanner) (*payment.Refund, error) {
	var refund payment.Refund
	var resolvedAt sql.NullTime
	if err := row.Scan(&refund.ID, &refund.ApplicationID, &refund.StudentID, &refund.Reason, &refund.Status, &refund.CreatedAt, &resolvedAt); err != nil {
		return nil, err
	}
	refund.ResolvedAt = timePtr(resolvedAt)
	return &refund, nil
}

func listRefunds(ctx context.Context, q querier, applicationID common.UUID) ([]payment.Refund, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+refundColumns+` FROM refund_requests WHERE application_id = $1 ORDER BY created_at`, applicationID)
	if err != nil {
		return nil, storeError("failed to list refund requests", err)
	}
	defer rows.Close()
	var items []payment.Refund
	for rows.Next() {
		refund, err := scanRefund(rows)
		if err != nil {
			return nil, storeError("failed to scan refund request", err)
		}
		items = append(items, *refund)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("failed to list refund requests", err)
	}
	return items, nil
}

func insertRefund(ctx context.Context, q querier, refund payment.Refund) error {
	_, err := q.ExecContext(ctx, `INSERT INTO refund_requests (`+refundColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		refund.ID, refund.ApplicationID, refund.StudentID, refund.Reason, refund.Status, refund.CreatedAt, nullTime(refund.ResolvedAt))
	if err != nil {
		return storeError("failed to create refund request", err)
	}
	return nil
}

func updateRefund(ctx context.Context, q querier, refund payment.Refund) error {
	result, err := q.ExecContext(ctx, `UPDATE refund_requests SET status = $1, resolved_at = $2 WHERE id = $3`,
		refund.Status, nullTime(refund.ResolvedAt), refund.ID)
	if err != nil {
		return storeError("failed to update refund request", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return common.NewError(common.CodeNotFound, "refund request not found", sql.ErrNoRows)
	}
	return nil
}
