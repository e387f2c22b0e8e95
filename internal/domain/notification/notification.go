package notification

import (
	"context"
	"time"

	"uniadmit/internal/common"
)

type Kind string

const (
	KindStatusChanged     Kind = "status_changed"
	KindPaymentRequested  Kind = "payment_requested"
	KindDocumentRequested Kind = "document_requested"
	KindAcceptanceLetter  Kind = "acceptance_letter"
	KindMessageReceived   Kind = "message_received"
)

type Notification struct {
	ID            common.UUID       `json:"id"`
	Kind          Kind              `json:"kind"`
	ApplicationID common.UUID       `json:"application_id"`
	RecipientID   common.UUID       `json:"recipient_id"`
	Payload       map[string]string `json:"payload,omitempty"`
	Attempts      int               `json:"attempts"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Dispatcher hands a notification off for asynchronous delivery. A returned error
// means the hand-off failed, not the delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}
