package program

import (
	"context"

	"uniadmit/internal/common"
)

type ListFilter struct {
	University string
	Degree     string
	Language   string
	Limit      int
	Offset     int
}

type Repository interface {
	Create(ctx context.Context, program Program) (*Program, error)
	Update(ctx context.Context, program Program) (*Program, error)
	GetByID(ctx context.Context, id common.UUID) (*Program, error)
	ListPublished(ctx context.Context, filter ListFilter) ([]Program, error)
}
