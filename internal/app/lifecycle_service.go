package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/application"
	"uniadmit/internal/domain/document"
	"uniadmit/internal/domain/history"
	"uniadmit/internal/domain/notification"
	"uniadmit/internal/domain/payment"
	"uniadmit/internal/domain/program"
	"uniadmit/internal/domain/user"
	"uniadmit/internal/lifecycle"
	"uniadmit/internal/metrics"
	"uniadmit/internal/storage"
)

const (
	warnNotification = "notification could not be queued"
	warnHistory      = "status history could not be recorded"
)

// Result is the outcome of a lifecycle operation. Warnings lists side effects
// that failed after the change was committed.
type Result struct {
	Application application.Application `json:"application"`
	Documents   []document.Request      `json:"documents,omitempty"`
	Document    *document.Request       `json:"document,omitempty"`
	Transaction *payment.Transaction    `json:"transaction,omitempty"`
	Refund      *payment.Refund         `json:"refund,omitempty"`
	FileURL     string                  `json:"file_url,omitempty"`
	Warnings    []string                `json:"warnings,omitempty"`
}

type ApplicationDetails struct {
	Application application.Application `json:"application"`
	Documents   []document.Request      `json:"documents"`
	Payments    []payment.Transaction   `json:"payments"`
	Refunds     []payment.Refund        `json:"refunds,omitempty"`
}

type LifecycleService struct {
	apps     application.Repository
	docs     document.Repository
	payments payment.Repository
	programs program.Repository
	history  history.Repository
	files    storage.FileStore
	notifier notification.Dispatcher
	manager  *lifecycle.Manager
	metrics  *metrics.Collector
	logger   *slog.Logger
	now      func() time.Time
}

func NewLifecycleService(apps application.Repository, docs document.Repository, payments payment.Repository, programs program.Repository, historyRepo history.Repository,
	files storage.FileStore, notifier notification.Dispatcher, collector *metrics.Collector, logger *slog.Logger) *LifecycleService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LifecycleService{
		apps:     apps,
		docs:     docs,
		payments: payments,
		programs: programs,
		history:  historyRepo,
		files:    files,
		notifier: notifier,
		manager:  lifecycle.NewManager(),
		metrics:  collector,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *LifecycleService) GetApplication(ctx context.Context, actor user.Actor, id common.UUID) (*ApplicationDetails, error) {
	app, err := s.apps.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeApplication(actor, *app); err != nil {
		return nil, err
	}
	docs, err := s.docs.ListByApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	payments, err := s.payments.ListByApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	details := &ApplicationDetails{Application: *app, Documents: docs, Payments: payments}
	if !actor.IsAdmin() {
		details.Application = app.StudentView()
	}
	return details, nil
}

func (s *LifecycleService) ListDocuments(ctx context.Context, actor user.Actor, applicationID common.UUID) ([]document.Request, error) {
	if _, err := s.ownedApplication(ctx, actor, applicationID); err != nil {
		return nil, err
	}
	return s.docs.ListByApplication(ctx, applicationID)
}

func (s *LifecycleService) ListPayments(ctx context.Context, actor user.Actor, applicationID common.UUID) ([]payment.Transaction, error) {
	if _, err := s.ownedApplication(ctx, actor, applicationID); err != nil {
		return nil, err
	}
	return s.payments.ListByApplication(ctx, applicationID)
}

func (s *LifecycleService) History(ctx context.Context, actor user.Actor, applicationID common.UUID) ([]history.StatusChange, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if _, err := s.apps.GetByID(ctx, applicationID); err != nil {
		return nil, err
	}
	return s.history.ListByApplication(ctx, applicationID)
}

func (s *LifecycleService) UpdateApplicationStatus(ctx context.Context, actor user.Actor, id common.UUID, status application.Status) (*Result, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	status = application.Status(strings.ToLower(strings.TrimSpace(string(status))))
	return s.apply(ctx, actor, id, lifecycle.OverrideStatus(status), nil)
}

func (s *LifecycleService) RequestPayment(ctx context.Context, actor user.Actor, id common.UUID, amount float64, currency, description string) (*Result, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.apply(ctx, actor, id, lifecycle.RequestPayment(amount, currency, description), nil)
}

func (s *LifecycleService) RequestDocuments(ctx context.Context, actor user.Actor, id common.UUID, names []string, instructions string) (*Result, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.apply(ctx, actor, id, lifecycle.RequestDocuments(names, instructions), nil)
}

// Submit moves a draft forward. A program that charges an application fee gets
// its pending fee transaction in the same step.
func (s *LifecycleService) Submit(ctx context.Context, actor user.Actor, id common.UUID) (*Result, error) {
	app, err := s.apps.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ownedBy(actor)(*app); err != nil {
		return nil, err
	}
	prog, err := s.programs.GetByID(ctx, app.ProgramID)
	if err != nil {
		return nil, err
	}
	ev := lifecycle.Submit()
	if prog.RequiresUpfrontPayment() {
		ev = lifecycle.SubmitWithFee(prog.ApplicationFee, prog.Currency, applicationFeeDescription(*prog))
	}
	return s.apply(ctx, actor, id, ev, ownedBy(actor))
}

func (s *LifecycleService) Withdraw(ctx context.Context, actor user.Actor, id common.UUID) (*Result, error) {
	return s.apply(ctx, actor, id, lifecycle.Withdraw(), ownedBy(actor))
}

func (s *LifecycleService) UploadDocument(ctx context.Context, actor user.Actor, requestID common.UUID, file storage.File) (*Result, error) {
	doc, err := s.docs.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && doc.StudentID != actor.ID {
		return nil, common.NewError(common.CodeForbidden, "document request belongs to another student", nil)
	}
	return s.applyWithFile(ctx, actor, doc.ApplicationID, storage.KindDocument, file, func(url string) lifecycle.Event {
		return lifecycle.UploadDocument(requestID, url)
	})
}

func (s *LifecycleService) UploadPaymentReceipt(ctx context.Context, actor user.Actor, transactionID common.UUID, file storage.File) (*Result, error) {
	tx, err := s.ownedTransaction(ctx, actor, transactionID)
	if err != nil {
		return nil, err
	}
	return s.applyWithFile(ctx, actor, tx.ApplicationID, storage.KindReceipt, file, func(url string) lifecycle.Event {
		return lifecycle.UploadReceipt(transactionID, url)
	})
}

// CompleteCardPayment records a card payment already captured by the payment
// provider.
func (s *LifecycleService) CompleteCardPayment(ctx context.Context, actor user.Actor, transactionID common.UUID) (*Result, error) {
	tx, err := s.ownedTransaction(ctx, actor, transactionID)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, actor, tx.ApplicationID, lifecycle.CompleteCardPayment(transactionID), ownedBy(actor))
}

func (s *LifecycleService) ResetPaymentToPending(ctx context.Context, actor user.Actor, transactionID common.UUID) (*Result, error) {
	tx, err := s.ownedTransaction(ctx, actor, transactionID)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, actor, tx.ApplicationID, lifecycle.ResetPayment(transactionID), ownedBy(actor))
}

func (s *LifecycleService) VerifyPayment(ctx context.Context, actor user.Actor, transactionID common.UUID) (*Result, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	tx, err := s.payments.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, actor, tx.ApplicationID, lifecycle.VerifyPayment(transactionID), nil)
}

func (s *LifecycleService) RejectPayment(ctx context.Context, actor user.Actor, transactionID common.UUID, reason string) (*Result, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	tx, err := s.payments.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, actor, tx.ApplicationID, lifecycle.RejectPayment(transactionID, reason), nil)
}

func (s *LifecycleService) ApproveDocument(ctx context.Context, actor user.Actor, requestID common.UUID) (*Result, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	doc, err := s.docs.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, actor, doc.ApplicationID, lifecycle.ApproveDocument(requestID), nil)
}

func (s *LifecycleService) RejectDocument(ctx context.Context, actor user.Actor, requestID common.UUID, reason string) (*Result, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	doc, err := s.docs.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, actor, doc.ApplicationID, lifecycle.RejectDocument(requestID, reason), nil)
}

func (s *LifecycleService) UploadConditionalLetter(ctx context.Context, actor user.Actor, id common.UUID, file storage.File) (*Result, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if _, err := s.apps.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.applyWithFile(ctx, actor, id, storage.KindLetter, file, lifecycle.UploadAcceptanceLetter)
}

func (s *LifecycleService) RequestRefund(ctx context.Context, actor user.Actor, id common.UUID, reason string) (*Result, error) {
	return s.apply(ctx, actor, id, lifecycle.RequestRefund(reason), ownedBy(actor))
}

func (s *LifecycleService) ResolveRefund(ctx context.Context, actor user.Actor, refundID common.UUID, status payment.RefundStatus) (*Result, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if status != payment.RefundApproved && status != payment.RefundDenied {
		return nil, common.NewValidationError("invalid refund resolution", map[string]string{"status": "status must be approved or denied"})
	}
	refund, err := s.payments.GetRefund(ctx, refundID)
	if err != nil {
		return nil, err
	}
	var result *Result
	err = s.apps.Atomic(ctx, refund.ApplicationID, func(ctx context.Context, tx application.Tx) error {
		agg, err := tx.Load(ctx)
		if err != nil {
			return err
		}
		for _, current := range agg.Refunds {
			if current.ID != refundID {
				continue
			}
			if current.Status != payment.RefundPending {
				return common.NewError(common.CodeConflict, "refund request is already resolved", nil)
			}
			resolvedAt := s.now()
			current.Status = status
			current.ResolvedAt = &resolvedAt
			if err := tx.UpdateRefund(ctx, current); err != nil {
				return err
			}
			result = &Result{Application: agg.Application, Refund: &current}
			return nil
		}
		return common.NewError(common.CodeNotFound, "refund request not found", nil)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *LifecycleService) UpdateAdminNotes(ctx context.Context, actor user.Actor, id common.UUID, notes string) (*Result, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	var result *Result
	err := s.apps.Atomic(ctx, id, func(ctx context.Context, tx application.Tx) error {
		agg, err := tx.Load(ctx)
		if err != nil {
			return err
		}
		app := agg.Application
		app.AdminNotes = strings.TrimSpace(notes)
		app.UpdatedAt = s.now()
		if err := tx.UpdateApplication(ctx, app); err != nil {
			return err
		}
		result = &Result{Application: app}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyWithFile stores file before the ledger transaction and removes it again
// if the transaction does not commit.
func (s *LifecycleService) applyWithFile(ctx context.Context, actor user.Actor, applicationID common.UUID, kind storage.Kind, file storage.File,
	event func(url string) lifecycle.Event) (*Result, error) {
	if err := storage.Validate(kind, file.Name, file.Size); err != nil {
		return nil, err
	}
	var authorize func(application.Application) error
	if !actor.IsAdmin() {
		authorize = ownedBy(actor)
	}
	url, err := s.files.Save(ctx, kind, applicationID, file)
	if err != nil {
		return nil, err
	}
	result, err := s.apply(ctx, actor, applicationID, event(url), authorize)
	if err != nil {
		if deleteErr := s.files.Delete(context.WithoutCancel(ctx), url); deleteErr != nil {
			s.logger.Error("failed to remove orphaned upload", slog.String("url", url), slog.Any("error", deleteErr))
		}
		return nil, err
	}
	result.FileURL = url
	return result, nil
}

func (s *LifecycleService) apply(ctx context.Context, actor user.Actor, applicationID common.UUID, ev lifecycle.Event,
	authorize func(application.Application) error) (*Result, error) {
	var out *lifecycle.Outcome
	err := s.apps.Atomic(ctx, applicationID, func(ctx context.Context, tx application.Tx) error {
		agg, err := tx.Load(ctx)
		if err != nil {
			return err
		}
		if authorize != nil {
			if err := authorize(agg.Application); err != nil {
				return err
			}
		}
		out, err = s.manager.Apply(*agg, ev)
		if err != nil {
			return err
		}
		return persistOutcome(ctx, tx, out)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Inc(metrics.LifecycleEvents)
	s.logger.Info("lifecycle event applied",
		slog.String("application_id", applicationID.String()),
		slog.String("event", string(ev.Kind)),
		slog.String("status", string(out.Application.Status)),
	)

	result := &Result{
		Application: out.Application,
		Documents:   out.CreatedDocuments,
		Document:    out.UpdatedDocument,
		Transaction: out.CreatedTransaction,
		Refund:      out.CreatedRefund,
	}
	if result.Transaction == nil && len(out.UpdatedTransactions) > 0 {
		updated := out.UpdatedTransactions[len(out.UpdatedTransactions)-1]
		result.Transaction = &updated
	}
	if !actor.IsAdmin() {
		result.Application = out.Application.StudentView()
	}
	result.Warnings = s.sideEffects(ctx, actor, out)
	return result, nil
}

// persistOutcome writes supersessions before inserts so the one-active-transaction
// index holds at every statement.
func persistOutcome(ctx context.Context, tx application.Tx, out *lifecycle.Outcome) error {
	if len(out.CreatedDocuments) > 0 {
		if err := tx.InsertDocumentRequests(ctx, out.CreatedDocuments); err != nil {
			return err
		}
	}
	if out.UpdatedDocument != nil {
		if err := tx.UpdateDocumentRequest(ctx, *out.UpdatedDocument); err != nil {
			return err
		}
	}
	for _, updated := range out.UpdatedTransactions {
		if err := tx.UpdatePaymentTransaction(ctx, updated); err != nil {
			return err
		}
	}
	if out.CreatedTransaction != nil {
		if err := tx.InsertPaymentTransaction(ctx, *out.CreatedTransaction); err != nil {
			return err
		}
	}
	if out.CreatedRefund != nil {
		if err := tx.InsertRefund(ctx, *out.CreatedRefund); err != nil {
			return err
		}
	}
	return tx.UpdateApplication(ctx, out.Application)
}

// sideEffects records history and queues the notification. Failures never undo
// the committed change.
func (s *LifecycleService) sideEffects(ctx context.Context, actor user.Actor, out *lifecycle.Outcome) []string {
	var warnings []string
	ctx = context.WithoutCancel(ctx)
	app := out.Application
	if out.StatusChanged && s.history != nil {
		change := history.StatusChange{
			ApplicationID: app.ID,
			From:          string(out.PreviousStatus),
			To:            string(app.Status),
			Event:         string(out.Event),
			ActorID:       actor.ID,
			ActorRole:     actor.Role,
			At:            app.UpdatedAt,
		}
		if err := s.history.Append(ctx, change); err != nil {
			s.warn(warnHistory, app.ID, err)
			warnings = append(warnings, warnHistory)
		}
	}
	if out.Notify != "" {
		if err := s.dispatch(ctx, out.Notify, app, out.Payload); err != nil {
			s.warn(warnNotification, app.ID, err)
			warnings = append(warnings, warnNotification)
		}
	}
	return warnings
}

func (s *LifecycleService) dispatch(ctx context.Context, kind notification.Kind, app application.Application, payload map[string]string) error {
	if s.notifier == nil {
		return common.NewError(common.CodeInternal, "notifier is not configured", nil)
	}
	err := s.notifier.Dispatch(ctx, notification.Notification{
		ID:            common.NewUUID(),
		Kind:          kind,
		ApplicationID: app.ID,
		RecipientID:   app.StudentID,
		Payload:       payload,
		CreatedAt:     s.now(),
	})
	if err == nil {
		s.metrics.Inc(metrics.NotificationsQueued)
	}
	return err
}

func (s *LifecycleService) warn(msg string, applicationID common.UUID, err error) {
	s.metrics.Inc(metrics.SideEffectWarnings)
	s.logger.Warn(msg, slog.String("application_id", applicationID.String()), slog.Any("error", err))
}

func (s *LifecycleService) ownedApplication(ctx context.Context, actor user.Actor, id common.UUID) (*application.Application, error) {
	app, err := s.apps.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeApplication(actor, *app); err != nil {
		return nil, err
	}
	return app, nil
}

func (s *LifecycleService) ownedTransaction(ctx context.Context, actor user.Actor, id common.UUID) (*payment.Transaction, error) {
	tx, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && tx.StudentID != actor.ID {
		return nil, common.NewError(common.CodeForbidden, "payment transaction belongs to another student", nil)
	}
	return tx, nil
}

func ownedBy(actor user.Actor) func(application.Application) error {
	return func(app application.Application) error {
		return authorizeApplication(actor, app)
	}
}

func authorizeApplication(actor user.Actor, app application.Application) error {
	if actor.IsAdmin() || app.StudentID == actor.ID {
		return nil
	}
	return common.NewError(common.CodeForbidden, "application belongs to another student", nil)
}

func requireAdmin(actor user.Actor) error {
	if !actor.IsAdmin() {
		return common.NewError(common.CodeForbidden, "admin role required", nil)
	}
	return nil
}
