package application

import (
	"context"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/document"
	"uniadmit/internal/domain/payment"
)

type Repository interface {
	Create(ctx context.Context, app Application) (*Application, error)
	// CreateWithPayment inserts app and its first fee transaction in one store
	// transaction.
	CreateWithPayment(ctx context.Context, app Application, fee payment.Transaction) (*Application, error)
	GetByID(ctx context.Context, id common.UUID) (*Application, error)
	FindByStudentAndProgram(ctx context.Context, studentID, programID common.UUID) (*Application, error)
	ListByStudent(ctx context.Context, studentID common.UUID) ([]Application, error)
	List(ctx context.Context, filter ListFilter) ([]Application, error)
	// Atomic runs fn in a single store transaction holding the application's row
	// lock. Nothing written through tx is visible unless fn returns nil.
	Atomic(ctx context.Context, id common.UUID, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the write side of the lifecycle, valid only inside Repository.Atomic.
type Tx interface {
	Load(ctx context.Context) (*Aggregate, error)
	UpdateApplication(ctx context.Context, app Application) error
	InsertDocumentRequests(ctx context.Context, requests []document.Request) error
	UpdateDocumentRequest(ctx context.Context, request document.Request) error
	InsertPaymentTransaction(ctx context.Context, transaction payment.Transaction) error
	UpdatePaymentTransaction(ctx context.Context, transaction payment.Transaction) error
	InsertRefund(ctx context.Context, refund payment.Refund) error
	UpdateRefund(ctx context.Context, refund payment.Refund) error
}
