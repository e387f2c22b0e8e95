package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/application"
	"uniadmit/internal/domain/payment"
	"uniadmit/internal/domain/program"
	"uniadmit/internal/domain/user"
)

type ApplicationService struct {
	repo     application.Repository
	programs program.Repository
	logger   *slog.Logger
}

func NewApplicationService(repo application.Repository, programs program.Repository, logger *slog.Logger) *ApplicationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApplicationService{repo: repo, programs: programs, logger: logger}
}

// Apply opens an application for a published program. With submit unset it stays a
// draft; otherwise it is submitted straight away, behind the program's
// application fee when there is one.
func (s *ApplicationService) Apply(ctx context.Context, actor user.Actor, programID common.UUID, statement string, submit bool) (*application.Application, error) {
	if actor.Role != user.RoleStudent {
		return nil, common.NewError(common.CodeForbidden, "only students can apply", nil)
	}
	prog, err := s.programs.GetByID(ctx, programID)
	if err != nil {
		return nil, err
	}
	if prog.Status != program.StatusPublished {
		return nil, common.NewError(common.CodeValidation, "program is not accepting applications", nil)
	}
	if _, err := s.repo.FindByStudentAndProgram(ctx, actor.ID, programID); err == nil {
		return nil, common.NewError(common.CodeConflict, "already applied", nil)
	} else if !common.Is(err, common.CodeNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	app := application.Application{
		ID:                common.NewUUID(),
		StudentID:         actor.ID,
		ProgramID:         programID,
		Status:            application.StatusDraft,
		DocumentsComplete: true,
		PersonalStatement: strings.TrimSpace(statement),
	}
	if !submit {
		return s.repo.Create(ctx, app)
	}
	app.SubmittedAt = &now
	if !prog.RequiresUpfrontPayment() {
		app.Status = application.StatusSubmitted
		created, err := s.repo.Create(ctx, app)
		if err != nil {
			return nil, err
		}
		s.logger.Info("application submitted", slog.String("application_id", created.ID.String()))
		return created, nil
	}

	fee := payment.Transaction{
		ID:          common.NewUUID(),
		StudentID:   actor.ID,
		Amount:      prog.ApplicationFee,
		Currency:    prog.Currency,
		Description: applicationFeeDescription(*prog),
		Status:      payment.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	app.Status = application.StatusPendingPayment
	app.PaymentStatus = fee.Status
	app.PaymentAmount = fee.Amount
	app.PaymentCurrency = fee.Currency
	created, err := s.repo.CreateWithPayment(ctx, app, fee)
	if err != nil {
		return nil, err
	}
	s.logger.Info("application submitted pending fee", slog.String("application_id", created.ID.String()))
	return created, nil
}

func (s *ApplicationService) ListMine(ctx context.Context, actor user.Actor) ([]application.Application, error) {
	items, err := s.repo.ListByStudent(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i] = items[i].StudentView()
	}
	return items, nil
}

func (s *ApplicationService) List(ctx context.Context, actor user.Actor, filter application.ListFilter) ([]application.Application, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, common.NewValidationError("invalid status filter", map[string]string{"status": "unknown status"})
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.List(ctx, filter)
}

func applicationFeeDescription(p program.Program) string {
	return "Application fee: " + p.Name
}
