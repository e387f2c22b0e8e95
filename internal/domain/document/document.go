package document

import (
	"context"
	"time"

	"uniadmit/internal/common"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
)

type Request struct {
	ID              common.UUID `json:"id"`
	ApplicationID   common.UUID `json:"application_id"`
	StudentID       common.UUID `json:"student_id"`
	DocumentName    string      `json:"document_name"`
	Description     string      `json:"description,omitempty"`
	Status          Status      `json:"status"`
	UploadedFileURL string      `json:"uploaded_file_url,omitempty"`
	RejectionReason string      `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UploadedAt      *time.Time  `json:"uploaded_at,omitempty"`
	ReviewedAt      *time.Time  `json:"reviewed_at,omitempty"`
}

// Outstanding reports whether the student still owes this document.
func (r Request) Outstanding() bool {
	return r.Status == StatusPending || r.Status == StatusRejected
}

type Repository interface {
	GetByID(ctx context.Context, id common.UUID) (*Request, error)
	ListByApplication(ctx context.Context, applicationID common.UUID) ([]Request, error)
}
