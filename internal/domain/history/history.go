package history

import (
	"context"
	"time"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/user"
)

type StatusChange struct {
	ApplicationID common.UUID `json:"application_id" bson:"application_id"`
	From          string      `json:"from" bson:"from"`
	To            string      `json:"to" bson:"to"`
	Event         string      `json:"event" bson:"event"`
	ActorID       common.UUID `json:"actor_id" bson:"actor_id"`
	ActorRole     user.Role   `json:"actor_role" bson:"actor_role"`
	At            time.Time   `json:"at" bson:"at"`
}

type Repository interface {
	Append(ctx context.Context, change StatusChange) error
	ListByApplication(ctx context.Context, applicationID common.UUID) ([]StatusChange, error)
}
