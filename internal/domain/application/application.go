package application

import (
	"time"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/document"
	"uniadmit/internal/domain/payment"
)

type Status string

const (
	StatusDraft                Status = "draft"
	StatusPendingDocuments     Status = "pending_documents"
	StatusPendingPayment       Status = "pending_payment"
	StatusPaymentVerification  Status = "payment_verification"
	StatusDocumentVerification Status = "document_verification"
	StatusSubmitted            Status = "submitted"
	StatusUnderReview          Status = "under_review"
	StatusAccepted             Status = "accepted"
	StatusRejected             Status = "rejected"
	StatusWithdrawn            Status = "withdrawn"
)

var statuses = []Status{
	StatusDraft,
	StatusPendingDocuments,
	StatusPendingPayment,
	StatusPaymentVerification,
	StatusDocumentVerification,
	StatusSubmitted,
	StatusUnderReview,
	StatusAccepted,
	StatusRejected,
	StatusWithdrawn,
}

func Statuses() []Status {
	return append([]Status(nil), statuses...)
}

func (s Status) Valid() bool {
	for _, known := range statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Decided reports whether an admin has taken the application out of the
// ledger-driven part of the lifecycle.
func (s Status) Decided() bool {
	switch s {
	case StatusUnderReview, StatusAccepted, StatusRejected, StatusWithdrawn:
		return true
	default:
		return false
	}
}

type Application struct {
	ID                  common.UUID    `json:"id"`
	StudentID           common.UUID    `json:"student_id"`
	ProgramID           common.UUID    `json:"program_id"`
	Status              Status         `json:"status"`
	DocumentsComplete   bool           `json:"documents_complete"`
	PaymentStatus       payment.Status `json:"payment_status,omitempty"`
	PaymentAmount       float64        `json:"payment_amount,omitempty"`
	PaymentCurrency     string         `json:"payment_currency,omitempty"`
	AdminNotes          string         `json:"admin_notes,omitempty"`
	AcceptanceLetterURL string         `json:"acceptance_letter_url,omitempty"`
	PersonalStatement   string         `json:"personal_statement,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	SubmittedAt         *time.Time     `json:"submitted_at,omitempty"`
}

// StudentView hides admin-only fields.
func (a Application) StudentView() Application {
	a.AdminNotes = ""
	return a
}

// Aggregate is an application together with both ledgers, as read inside one
// transaction.
type Aggregate struct {
	Application Application
	Documents   []document.Request
	Payments    []payment.Transaction
	Refunds     []payment.Refund
}

type ListFilter struct {
	Status    Status
	ProgramID common.UUID
	Limit     int
	Offset    int
}
