package app

import (
	"context"
	"regexp"
	"strings"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/payment"
	"uniadmit/internal/domain/program"
)

var programCurrencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

type ProgramService struct {
	repo program.Repository
}

func NewProgramService(repo program.Repository) *ProgramService {
	return &ProgramService{repo: repo}
}

func (s *ProgramService) Create(ctx context.Context, p program.Program) (*program.Program, error) {
	if p.Status == "" {
		p.Status = program.StatusDraft
	}
	normalized, err := normalizeProgram(p)
	if err != nil {
		return nil, err
	}
	return s.repo.Create(ctx, normalized)
}

func (s *ProgramService) Update(ctx context.Context, p program.Program) (*program.Program, error) {
	current, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if p.Status == "" {
		p.Status = current.Status
	}
	p.CreatedAt = current.CreatedAt
	normalized, err := normalizeProgram(p)
	if err != nil {
		return nil, err
	}
	return s.repo.Update(ctx, normalized)
}

// Get returns only published programs, the catalog students see.
func (s *ProgramService) Get(ctx context.Context, id common.UUID) (*program.Program, error) {
	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != program.StatusPublished {
		return nil, common.NewError(common.CodeNotFound, "program not found", nil)
	}
	return item, nil
}

func (s *ProgramService) ListPublished(ctx context.Context, filter program.ListFilter) ([]program.Program, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListPublished(ctx, filter)
}

func normalizeProgram(p program.Program) (program.Program, error) {
	p.University = strings.TrimSpace(p.University)
	p.Name = strings.TrimSpace(p.Name)
	p.Degree = strings.TrimSpace(p.Degree)
	p.Language = strings.TrimSpace(p.Language)
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	p.Status = program.Status(strings.ToLower(strings.TrimSpace(string(p.Status))))

	fields := map[string]string{}
	if p.University == "" {
		fields["university"] = "university is required"
	}
	if p.Name == "" {
		fields["name"] = "name is required"
	}
	if p.Degree == "" {
		fields["degree"] = "degree is required"
	}
	if p.TuitionFee < 0 {
		fields["tuition_fee"] = "tuition fee cannot be negative"
	}
	if p.ApplicationFee < 0 {
		fields["application_fee"] = "application fee cannot be negative"
	} else if p.ApplicationFee > 0 {
		if err := payment.CheckAmount(p.ApplicationFee); err != nil {
			fields["application_fee"] = err.Error()
		}
	}
	if (p.ApplicationFee > 0 || p.TuitionFee > 0) && !programCurrencyPattern.MatchString(p.Currency) {
		fields["currency"] = "currency must be a 3-letter ISO code"
	}
	switch p.Status {
	case program.StatusDraft, program.StatusPublished, program.StatusClosed:
	default:
		fields["status"] = "status must be draft, published, or closed"
	}
	if len(fields) > 0 {
		return p, common.NewValidationError("invalid program", fields)
	}
	return p, nil
}
