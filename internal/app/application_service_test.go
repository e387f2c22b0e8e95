package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/application"
	"uniadmit/internal/domain/notification"
	"uniadmit/internal/domain/payment"
	"uniadmit/internal/domain/program"
	"uniadmit/internal/domain/user"
	"uniadmit/internal/metrics"
	"uniadmit/internal/ratelimit"
	"uniadmit/internal/repository/memory"
)

func createProgram(t *testing.T, store *memory.Store, fee float64, status program.Status) *program.Program {
	t.Helper()
	created, err := NewProgramService(store.Programs()).Create(context.Background(), program.Program{
		University:     "Delft",
		Name:           "Computer Science " + common.NewUUID().String()[:8],
		Degree:         "MSc",
		Currency:       "eur",
		ApplicationFee: fee,
		Status:         status,
	})
	require.NoError(t, err)
	return created
}

func TestApplicationService_ApplyWithFee(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	prog := createProgram(t, store, 75, program.StatusPublished)
	service := NewApplicationService(store.Applications(), store.Programs(), nil)
	student := user.Actor{ID: common.NewUUID(), Role: user.RoleStudent}

	app, err := service.Apply(ctx, student, prog.ID, "  motivated  ", true)
	require.NoError(t, err)
	assert.Equal(t, application.StatusPendingPayment, app.Status)
	assert.Equal(t, "motivated", app.PersonalStatement)
	assert.Equal(t, "EUR", app.PaymentCurrency)

	txs, err := store.Payments().ListByApplication(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, payment.StatusPending, txs[0].Status)
	assert.Equal(t, 75.0, txs[0].Amount)

	_, err = service.Apply(ctx, student, prog.ID, "", true)
	assert.True(t, common.Is(err, common.CodeConflict))
}

func TestLifecycleService_DraftSubmittedLaterPaysFee(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	prog := createProgram(t, store, 75, program.StatusPublished)
	applications := NewApplicationService(store.Applications(), store.Programs(), nil)
	notifier := &fakeDispatcher{}
	lifecycle := NewLifecycleService(store.Applications(), store.Documents(), store.Payments(), store.Programs(), store.History(),
		&fakeFileStore{}, notifier, nil, nil)
	student := user.Actor{ID: common.NewUUID(), Role: user.RoleStudent}

	draft, err := applications.Apply(ctx, student, prog.ID, "", false)
	require.NoError(t, err)
	assert.Equal(t, application.StatusDraft, draft.Status)

	res, err := lifecycle.Submit(ctx, student, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, application.StatusPendingPayment, res.Application.Status)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, 75.0, res.Transaction.Amount)
	assert.Equal(t, "EUR", res.Transaction.Currency)

	txs, err := store.Payments().ListByApplication(ctx, draft.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, payment.StatusPending, txs[0].Status)
	assert.Equal(t, []notification.Kind{notification.KindPaymentRequested}, notifier.kinds())

	other := user.Actor{ID: common.NewUUID(), Role: user.RoleStudent}
	_, err = lifecycle.Submit(ctx, other, draft.ID)
	assert.True(t, common.Is(err, common.CodeForbidden))
}

func TestLifecycleService_DraftWithoutFeeSubmits(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	prog := createProgram(t, store, 0, program.StatusPublished)
	applications := NewApplicationService(store.Applications(), store.Programs(), nil)
	lifecycle := NewLifecycleService(store.Applications(), store.Documents(), store.Payments(), store.Programs(), store.History(),
		&fakeFileStore{}, &fakeDispatcher{}, nil, nil)
	student := user.Actor{ID: common.NewUUID(), Role: user.RoleStudent}

	draft, err := applications.Apply(ctx, student, prog.ID, "", false)
	require.NoError(t, err)
	res, err := lifecycle.Submit(ctx, student, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, application.StatusSubmitted, res.Application.Status)
	assert.Nil(t, res.Transaction)
}

func TestApplicationService_ApplyWithoutFee(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	prog := createProgram(t, store, 0, program.StatusPublished)
	service := NewApplicationService(store.Applications(), store.Programs(), nil)
	student := user.Actor{ID: common.NewUUID(), Role: user.RoleStudent}

	app, err := service.Apply(ctx, student, prog.ID, "", true)
	require.NoError(t, err)
	assert.Equal(t, application.StatusSubmitted, app.Status)
	assert.NotNil(t, app.SubmittedAt)

	draftProg := createProgram(t, store, 0, program.StatusPublished)
	draft, err := service.Apply(ctx, student, draftProg.ID, "", false)
	require.NoError(t, err)
	assert.Equal(t, application.StatusDraft, draft.Status)

	mine, err := service.ListMine(ctx, student)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func TestApplicationService_ApplyRejectsUnpublishedProgram(t *testing.T) {
	store := memory.NewStore()
	prog := createProgram(t, store, 0, program.StatusDraft)
	service := NewApplicationService(store.Applications(), store.Programs(), nil)

	_, err := service.Apply(context.Background(), user.Actor{ID: common.NewUUID(), Role: user.RoleStudent}, prog.ID, "", true)
	assert.True(t, common.Is(err, common.CodeValidation))

	_, err = service.Apply(context.Background(), user.Actor{ID: common.NewUUID(), Role: user.RoleAdmin}, prog.ID, "", true)
	assert.True(t, common.Is(err, common.CodeForbidden))
}

func TestApplicationService_AdminListFiltersByStatus(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	service := NewApplicationService(store.Applications(), store.Programs(), nil)
	admin := user.Actor{ID: common.NewUUID(), Role: user.RoleAdmin}
	for i, status := range []application.Status{application.StatusSubmitted, application.StatusDraft, application.StatusSubmitted} {
		_, err := store.Applications().Create(ctx, application.Application{StudentID: common.NewUUID(), ProgramID: common.NewUUID(), Status: status})
		require.NoError(t, err, "application %d", i)
	}

	items, err := service.List(ctx, admin, application.ListFilter{Status: application.StatusSubmitted})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, err = service.List(ctx, admin, application.ListFilter{Status: "bogus"})
	assert.True(t, common.Is(err, common.CodeValidation))
	_, err = service.List(ctx, user.Actor{ID: common.NewUUID(), Role: user.RoleStudent}, application.ListFilter{})
	assert.True(t, common.Is(err, common.CodeForbidden))
}

func TestProgramService_Validation(t *testing.T) {
	service := NewProgramService(memory.NewStore().Programs())
	_, err := service.Create(context.Background(), program.Program{ApplicationFee: 10, Currency: "euro"})
	require.Error(t, err)
	var appErr *common.Error
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Fields, "university")
	assert.Contains(t, appErr.Fields, "currency")

	_, err = service.Create(context.Background(), program.Program{University: "Delft", Name: "Physics", Degree: "BSc", ApplicationFee: 0.001, Currency: "EUR"})
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Fields, "application_fee")
}

func TestProgramService_GetHidesDrafts(t *testing.T) {
	store := memory.NewStore()
	draft := createProgram(t, store, 0, program.StatusDraft)
	published := createProgram(t, store, 0, program.StatusPublished)
	service := NewProgramService(store.Programs())

	_, err := service.Get(context.Background(), draft.ID)
	assert.True(t, common.Is(err, common.CodeNotFound))

	items, err := service.ListPublished(context.Background(), program.ListFilter{University: "delft"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, published.ID, items[0].ID)
}

func TestMessageService_SendNotifiesStudentAndRateLimits(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	student := user.Actor{ID: common.NewUUID(), Role: user.RoleStudent}
	admin := user.Actor{ID: common.NewUUID(), Role: user.RoleAdmin}
	app, err := store.Applications().Create(ctx, application.Application{StudentID: student.ID, ProgramID: common.NewUUID(), Status: application.StatusSubmitted})
	require.NoError(t, err)

	dispatcher := &fakeDispatcher{}
	collector := metrics.NewCollector("test")
	rule := ratelimit.Rule{Prefix: "msg", Limit: 1, Window: time.Minute}
	service := NewMessageService(store.Messages(), store.Applications(), dispatcher, ratelimit.NewMemoryLimiter(), rule, collector, nil)

	_, warnings, err := service.Send(ctx, admin, app.ID, "Please upload your passport")
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, []notification.Kind{notification.KindMessageReceived}, dispatcher.kinds())
	assert.Equal(t, student.ID, dispatcher.sent[0].RecipientID)

	_, _, err = service.Send(ctx, admin, app.ID, "again")
	assert.True(t, common.Is(err, common.CodeRateLimited))
	assert.Equal(t, uint64(1), collector.Value(metrics.RateLimitedOperations))

	_, _, err = service.Send(ctx, student, app.ID, "Uploaded")
	require.NoError(t, err)
	assert.Len(t, dispatcher.kinds(), 1)

	stranger := user.Actor{ID: common.NewUUID(), Role: user.RoleStudent}
	_, _, err = service.Send(ctx, stranger, app.ID, "hi")
	assert.True(t, common.Is(err, common.CodeForbidden))

	items, err := service.List(ctx, student, app.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}
