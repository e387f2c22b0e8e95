package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/application"
	"uniadmit/internal/domain/document"
	"uniadmit/internal/domain/notification"
	"uniadmit/internal/domain/payment"
	"uniadmit/internal/domain/program"
	"uniadmit/internal/domain/user"
	"uniadmit/internal/metrics"
	"uniadmit/internal/repository/memory"
	"uniadmit/internal/storage"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []notification.Notification
	err  error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, n notification.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, n)
	return nil
}

func (d *fakeDispatcher) kinds() []notification.Kind {
	d.mu.Lock()
	defer d.mu.Unlock()
	var kinds []notification.Kind
	for _, n := range d.sent {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

type fakeFileStore struct {
	mu      sync.Mutex
	saved   []string
	deleted []string
}

func (f *fakeFileStore) Save(ctx context.Context, kind storage.Kind, owner common.UUID, file storage.File) (string, error) {
	if err := storage.Validate(kind, file.Name, file.Size); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	url := "https://files.test/" + string(kind) + "/" + owner.String() + "/" + file.Name
	f.saved = append(f.saved, url)
	return url, nil
}

func (f *fakeFileStore) Delete(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, url)
	return nil
}

type lifecycleFixture struct {
	store     *memory.Store
	service   *LifecycleService
	notifier  *fakeDispatcher
	files     *fakeFileStore
	collector *metrics.Collector
	admin     user.Actor
	student   user.Actor
	app       *application.Application
}

func newLifecycleFixture(t *testing.T, status application.Status) *lifecycleFixture {
	t.Helper()
	store := memory.NewStore()
	f := &lifecycleFixture{
		store:     store,
		notifier:  &fakeDispatcher{},
		files:     &fakeFileStore{},
		collector: metrics.NewCollector("test"),
		admin:     user.Actor{ID: common.NewUUID(), Role: user.RoleAdmin},
		student:   user.Actor{ID: common.NewUUID(), Role: user.RoleStudent},
	}
	f.service = NewLifecycleService(store.Applications(), store.Documents(), store.Payments(), store.Programs(), store.History(), f.files, f.notifier, f.collector, nil)
	prog := createProgram(t, store, 0, program.StatusPublished)
	app, err := store.Applications().Create(context.Background(), application.Application{
		StudentID:         f.student.ID,
		ProgramID:         prog.ID,
		Status:            status,
		DocumentsComplete: true,
	})
	require.NoError(t, err)
	f.app = app
	return f
}

func pdf(name string, size int) storage.File {
	return storage.File{Name: name, Size: int64(size), Body: bytes.NewReader(make([]byte, size))}
}

func TestLifecycleService_PaymentScenario(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t, application.StatusDraft)

	res, err := f.service.RequestPayment(ctx, f.admin, f.app.ID, 100, "usd", "App fee")
	require.NoError(t, err)
	assert.Equal(t, application.StatusPendingPayment, res.Application.Status)
	require.NotNil(t, res.Transaction)
	txID := res.Transaction.ID

	res, err = f.service.UploadPaymentReceipt(ctx, f.student, txID, pdf("receipt.pdf", 1024))
	require.NoError(t, err)
	assert.Equal(t, application.StatusPaymentVerification, res.Application.Status)
	assert.NotEmpty(t, res.FileURL)

	res, err = f.service.VerifyPayment(ctx, f.admin, txID)
	require.NoError(t, err)
	assert.Equal(t, application.StatusSubmitted, res.Application.Status)
	assert.Equal(t, payment.StatusCompleted, res.Application.PaymentStatus)

	_, err = f.service.VerifyPayment(ctx, f.admin, txID)
	assert.True(t, common.Is(err, common.CodeConflict))

	stored, err := f.store.Applications().GetByID(ctx, f.app.ID)
	require.NoError(t, err)
	assert.Equal(t, application.StatusSubmitted, stored.Status)
	assert.Equal(t, []notification.Kind{notification.KindPaymentRequested, notification.KindStatusChanged}, f.notifier.kinds())

	trail, err := f.service.History(ctx, f.admin, f.app.ID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, "payment_verification", trail[2].From)
	assert.Equal(t, "submitted", trail[2].To)
}

func TestLifecycleService_DocumentsWithOutstandingPayment(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t, application.StatusDraft)

	res, err := f.service.RequestDocuments(ctx, f.admin, f.app.ID, []string{"Passport", "Transcript"}, "")
	require.NoError(t, err)
	require.Len(t, res.Documents, 2)
	docs := res.Documents
	_, err = f.service.RequestPayment(ctx, f.admin, f.app.ID, 50, "EUR", "")
	require.NoError(t, err)

	for _, doc := range docs {
		_, err = f.service.UploadDocument(ctx, f.student, doc.ID, pdf(strings.ToLower(doc.DocumentName)+".pdf", 10))
		require.NoError(t, err)
		res, err = f.service.ApproveDocument(ctx, f.admin, doc.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, application.StatusPendingPayment, res.Application.Status)
	assert.True(t, res.Application.DocumentsComplete)
}

func TestLifecycleService_StudentCannotTouchOthersLedger(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t, application.StatusDraft)
	res, err := f.service.RequestPayment(ctx, f.admin, f.app.ID, 100, "USD", "")
	require.NoError(t, err)
	docs, err := f.service.RequestDocuments(ctx, f.admin, f.app.ID, []string{"Passport"}, "")
	require.NoError(t, err)

	other := user.Actor{ID: common.NewUUID(), Role: user.RoleStudent}
	_, err = f.service.UploadPaymentReceipt(ctx, other, res.Transaction.ID, pdf("receipt.pdf", 10))
	assert.True(t, common.Is(err, common.CodeForbidden))
	_, err = f.service.UploadDocument(ctx, other, docs.Documents[0].ID, pdf("passport.pdf", 10))
	assert.True(t, common.Is(err, common.CodeForbidden))
	_, err = f.service.CompleteCardPayment(ctx, other, res.Transaction.ID)
	assert.True(t, common.Is(err, common.CodeForbidden))
	_, err = f.service.GetApplication(ctx, other, f.app.ID)
	assert.True(t, common.Is(err, common.CodeForbidden))
	_, err = f.service.VerifyPayment(ctx, f.student, res.Transaction.ID)
	assert.True(t, common.Is(err, common.CodeForbidden))
	assert.Empty(t, f.files.saved)
}

func TestLifecycleService_InvalidUploadsRejectedBeforeStorage(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t, application.StatusDraft)
	docs, err := f.service.RequestDocuments(ctx, f.admin, f.app.ID, []string{"Passport"}, "")
	require.NoError(t, err)
	docID := docs.Documents[0].ID

	_, err = f.service.UploadDocument(ctx, f.student, docID, storage.File{Name: "big.pdf", Size: 11 * storage.MiB, Body: bytes.NewReader(nil)})
	assert.True(t, common.Is(err, common.CodePayloadTooLarge))
	_, err = f.service.UploadDocument(ctx, f.student, docID, pdf("virus.exe", 10))
	assert.True(t, common.Is(err, common.CodeValidation))
	assert.Empty(t, f.files.saved)

	stored, err := f.store.Documents().GetByID(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusPending, stored.Status)
}

func TestLifecycleService_FailedLedgerWriteRemovesFile(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t, application.StatusDraft)
	docs, err := f.service.RequestDocuments(ctx, f.admin, f.app.ID, []string{"Passport"}, "")
	require.NoError(t, err)

	f.store.FailNextCommit(errors.New("disk full"))
	_, err = f.service.UploadDocument(ctx, f.student, docs.Documents[0].ID, pdf("passport.pdf", 10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.Len(t, f.files.saved, 1)
	assert.Equal(t, f.files.saved, f.files.deleted)

	stored, err := f.store.Applications().GetByID(ctx, f.app.ID)
	require.NoError(t, err)
	assert.Equal(t, application.StatusPendingDocuments, stored.Status)
}

func TestLifecycleService_NotificationFailureIsAWarning(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t, application.StatusDraft)
	f.notifier.err = errors.New("queue down")

	res, err := f.service.RequestPayment(ctx, f.admin, f.app.ID, 100, "USD", "")
	require.NoError(t, err)
	assert.Equal(t, []string{warnNotification}, res.Warnings)
	assert.Equal(t, uint64(1), f.collector.Value(metrics.SideEffectWarnings))

	stored, err := f.store.Applications().GetByID(ctx, f.app.ID)
	require.NoError(t, err)
	assert.Equal(t, application.StatusPendingPayment, stored.Status)
}

func TestLifecycleService_SupersedeKeepsOneActiveTransaction(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t, application.StatusDraft)
	_, err := f.service.RequestPayment(ctx, f.admin, f.app.ID, 100, "USD", "")
	require.NoError(t, err)
	_, err = f.service.RequestPayment(ctx, f.admin, f.app.ID, 120, "USD", "")
	require.NoError(t, err)

	txs, err := f.service.ListPayments(ctx, f.student, f.app.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	active := 0
	for _, tx := range txs {
		if !tx.Superseded() && tx.Status != payment.StatusCompleted {
			active++
			assert.Equal(t, 120.0, tx.Amount)
		}
	}
	assert.Equal(t, 1, active)
}

func TestLifecycleService_Refunds(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t, application.StatusUnderReview)

	_, err := f.service.RequestRefund(ctx, f.student, f.app.ID, "changed plans")
	assert.True(t, common.Is(err, common.CodeConflict))

	_, err = f.service.UpdateApplicationStatus(ctx, f.admin, f.app.ID, "REJECTED")
	require.NoError(t, err)
	res, err := f.service.RequestRefund(ctx, f.student, f.app.ID, "changed plans")
	require.NoError(t, err)
	require.NotNil(t, res.Refund)

	_, err = f.service.RequestRefund(ctx, f.student, f.app.ID, "again")
	assert.True(t, common.Is(err, common.CodeConflict))

	resolved, err := f.service.ResolveRefund(ctx, f.admin, res.Refund.ID, payment.RefundApproved)
	require.NoError(t, err)
	assert.Equal(t, payment.RefundApproved, resolved.Refund.Status)
	assert.NotNil(t, resolved.Refund.ResolvedAt)

	_, err = f.service.ResolveRefund(ctx, f.admin, res.Refund.ID, payment.RefundDenied)
	assert.True(t, common.Is(err, common.CodeConflict))
}

func TestLifecycleService_AdminNotesHiddenFromStudent(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t, application.StatusSubmitted)

	_, err := f.service.UpdateAdminNotes(ctx, f.admin, f.app.ID, "strong candidate")
	require.NoError(t, err)

	details, err := f.service.GetApplication(ctx, f.student, f.app.ID)
	require.NoError(t, err)
	assert.Empty(t, details.Application.AdminNotes)

	details, err = f.service.GetApplication(ctx, f.admin, f.app.ID)
	require.NoError(t, err)
	assert.Equal(t, "strong candidate", details.Application.AdminNotes)
}

func TestLifecycleService_AcceptanceLetter(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t, application.StatusUnderReview)

	res, err := f.service.UploadConditionalLetter(ctx, f.admin, f.app.ID, pdf("offer.pdf", 100))
	require.NoError(t, err)
	assert.Equal(t, application.StatusAccepted, res.Application.Status)
	assert.Equal(t, res.FileURL, res.Application.AcceptanceLetterURL)
	assert.Equal(t, []notification.Kind{notification.KindAcceptanceLetter}, f.notifier.kinds())
}

func TestLifecycleService_AdminReviewsKeepWithdrawnApplication(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t, application.StatusDraft)

	pay, err := f.service.RequestPayment(ctx, f.admin, f.app.ID, 100, "USD", "")
	require.NoError(t, err)
	txID := pay.Transaction.ID
	docs, err := f.service.RequestDocuments(ctx, f.admin, f.app.ID, []string{"Passport"}, "")
	require.NoError(t, err)
	docID := docs.Documents[0].ID
	_, err = f.service.UploadPaymentReceipt(ctx, f.student, txID, pdf("receipt.pdf", 10))
	require.NoError(t, err)
	_, err = f.service.UploadDocument(ctx, f.student, docID, pdf("passport.pdf", 10))
	require.NoError(t, err)
	res, err := f.service.Withdraw(ctx, f.student, f.app.ID)
	require.NoError(t, err)
	assert.Equal(t, application.StatusWithdrawn, res.Application.Status)
	sent := len(f.notifier.kinds())

	res, err = f.service.RejectPayment(ctx, f.admin, txID, "unreadable")
	require.NoError(t, err)
	assert.Equal(t, application.StatusWithdrawn, res.Application.Status)
	assert.Equal(t, payment.StatusRejected, res.Transaction.Status)
	res, err = f.service.RejectDocument(ctx, f.admin, docID, "expired")
	require.NoError(t, err)
	assert.Equal(t, application.StatusWithdrawn, res.Application.Status)
	assert.Len(t, f.notifier.kinds(), sent)

	_, err = f.service.UploadPaymentReceipt(ctx, f.student, txID, pdf("receipt2.pdf", 10))
	assert.True(t, common.Is(err, common.CodeConflict))
	_, err = f.service.UploadDocument(ctx, f.student, docID, pdf("passport2.pdf", 10))
	assert.True(t, common.Is(err, common.CodeConflict))
	_, err = f.service.RequestPayment(ctx, f.admin, f.app.ID, 20, "USD", "")
	assert.True(t, common.Is(err, common.CodeConflict))
	_, err = f.service.RequestDocuments(ctx, f.admin, f.app.ID, []string{"Transcript"}, "")
	assert.True(t, common.Is(err, common.CodeConflict))
	_, err = f.service.UploadConditionalLetter(ctx, f.admin, f.app.ID, pdf("letter.pdf", 10))
	assert.True(t, common.Is(err, common.CodeConflict))

	stored, err := f.store.Applications().GetByID(ctx, f.app.ID)
	require.NoError(t, err)
	assert.Equal(t, application.StatusWithdrawn, stored.Status)
	assert.Len(t, f.files.deleted, 3)
}
