package payment

import (
	"context"
	"errors"
	"math"
	"time"

	"uniadmit/internal/common"
)

type Status string

const (
	StatusPending             Status = "pending"
	StatusPendingVerification Status = "pending_verification"
	StatusCompleted           Status = "completed"
	StatusRejected            Status = "rejected"
)

type Method string

const (
	MethodBankTransfer Method = "bank_transfer"
	MethodCard         Method = "card"
)

type Transaction struct {
	ID              common.UUID `json:"id"`
	ApplicationID   common.UUID `json:"application_id"`
	StudentID       common.UUID `json:"student_id"`
	Amount          float64     `json:"amount"`
	Currency        string      `json:"currency"`
	Description     string      `json:"description,omitempty"`
	Status          Status      `json:"status"`
	ReceiptURL      string      `json:"receipt_url,omitempty"`
	PaymentMethod   Method      `json:"payment_method,omitempty"`
	RejectionReason string      `json:"rejection_reason,omitempty"`
	SupersededAt    *time.Time  `json:"superseded_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	PaidAt          *time.Time  `json:"paid_at,omitempty"`
}

// CheckAmount rejects amounts that do not survive storage as a positive value
// with two decimal places.
func CheckAmount(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return errors.New("amount must be greater than zero")
	}
	cents := math.Round(amount * 100)
	if cents < 1 {
		return errors.New("amount must be at least 0.01")
	}
	if cents >= 1e12 {
		return errors.New("amount is too large")
	}
	if math.Abs(amount*100-cents) > 1e-6 {
		return errors.New("amount must have at most 2 decimal places")
	}
	return nil
}

func (t Transaction) Superseded() bool {
	return t.SupersededAt != nil
}

type RefundStatus string

const (
	RefundPending  RefundStatus = "pending"
	RefundApproved RefundStatus = "approved"
	RefundDenied   RefundStatus = "denied"
)

type Refund struct {
	ID            common.UUID  `json:"id"`
	ApplicationID common.UUID  `json:"application_id"`
	StudentID     common.UUID  `json:"student_id"`
	Reason        string       `json:"reason,omitempty"`
	Status        RefundStatus `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	ResolvedAt    *time.Time   `json:"resolved_at,omitempty"`
}

type Repository interface {
	GetByID(ctx context.Context, id common.UUID) (*Transaction, error)
	ListByApplication(ctx context.Context, applicationID common.UUID) ([]Transaction, error)
	GetRefund(ctx context.Context, id common.UUID) (*Refund, error)
}
