package program

import (
	"time"

	"uniadmit/internal/common"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusClosed    Status = "closed"
)

type Program struct {
	ID             common.UUID `json:"id"`
	University     string      `json:"university"`
	Name           string      `json:"name"`
	Degree         string      `json:"degree"`
	Language       string      `json:"language"`
	Duration       string      `json:"duration"`
	TuitionFee     float64     `json:"tuition_fee"`
	ApplicationFee float64     `json:"application_fee"`
	Currency       string      `json:"currency"`
	Description    string      `json:"description"`
	Status         Status      `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// RequiresUpfrontPayment reports whether applying creates a fee transaction.
func (p Program) RequiresUpfrontPayment() bool {
	return p.ApplicationFee > 0
}
