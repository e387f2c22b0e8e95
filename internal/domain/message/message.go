package message

import (
	"context"
	"time"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/user"
)

type Message struct {
	ID            common.UUID `json:"id"`
	ApplicationID common.UUID `json:"application_id"`
	SenderID      common.UUID `json:"sender_id"`
	SenderRole    user.Role   `json:"sender_role"`
	Body          string      `json:"body"`
	CreatedAt     time.Time   `json:"created_at"`
}

type Repository interface {
	Create(ctx context.Context, msg Message) (*Message, error)
	ListByApplication(ctx context.Context, applicationID common.UUID, limit, offset int) ([]Message, error)
}
