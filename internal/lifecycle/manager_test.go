package lifecycle

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/application"
	"uniadmit/internal/domain/document"
	"uniadmit/internal/domain/notification"
	"uniadmit/internal/domain/payment"
)

func newTestManager() *Manager {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	seq := 0
	return &Manager{
		clock: func() time.Time {
			now = now.Add(time.Second)
			return now
		},
		newID: func() common.UUID {
			seq++
			return common.UUID(fmt.Sprintf("00000000-0000-0000-0000-%012d", seq))
		},
	}
}

func draftAggregate() application.Aggregate {
	return application.Aggregate{Application: application.Application{
		ID:        "app-1",
		StudentID: "student-1",
		ProgramID: "program-1",
		Status:    application.StatusDraft,
	}}
}

// step applies ev and folds the outcome back into agg the way a repository would.
func step(t *testing.T, m *Manager, agg application.Aggregate, ev Event) (application.Aggregate, *Outcome) {
	t.Helper()
	out, err := m.Apply(agg, ev)
	require.NoError(t, err)
	return fold(agg, out), out
}

func fold(agg application.Aggregate, out *Outcome) application.Aggregate {
	next := application.Aggregate{
		Application: out.Application,
		Documents:   append([]document.Request(nil), agg.Documents...),
		Payments:    append([]payment.Transaction(nil), agg.Payments...),
		Refunds:     append([]payment.Refund(nil), agg.Refunds...),
	}
	next.Documents = append(next.Documents, out.CreatedDocuments...)
	if out.UpdatedDocument != nil {
		next.Documents[findDocument(next.Documents, string(out.UpdatedDocument.ID))] = *out.UpdatedDocument
	}
	for _, tx := range out.UpdatedTransactions {
		next.Payments[findTransaction(next.Payments, string(tx.ID))] = tx
	}
	if out.CreatedTransaction != nil {
		next.Payments = append(next.Payments, *out.CreatedTransaction)
	}
	if out.CreatedRefund != nil {
		next.Refunds = append(next.Refunds, *out.CreatedRefund)
	}
	return next
}

func TestApply_PaymentReceiptVerifiedReachesSubmitted(t *testing.T) {
	m := newTestManager()
	agg := draftAggregate()

	agg, out := step(t, m, agg, Submit())
	assert.Equal(t, application.StatusSubmitted, agg.Application.Status)
	assert.NotNil(t, agg.Application.SubmittedAt)
	assert.Empty(t, out.Notify)

	agg, out = step(t, m, agg, RequestPayment(150, "eur", "Application fee"))
	assert.Equal(t, application.StatusPendingPayment, agg.Application.Status)
	assert.Equal(t, notification.KindPaymentRequested, out.Notify)
	require.NotNil(t, out.CreatedTransaction)
	txID := out.CreatedTransaction.ID
	assert.Equal(t, "EUR", out.CreatedTransaction.Currency)
	assert.Equal(t, payment.StatusPending, agg.Application.PaymentStatus)
	assert.Equal(t, "150.00", out.Payload["amount"])

	agg, out = step(t, m, agg, UploadReceipt(txID, "/uploads/receipts/r.pdf"))
	assert.Equal(t, application.StatusPaymentVerification, agg.Application.Status)
	assert.Equal(t, payment.StatusPendingVerification, agg.Payments[0].Status)
	assert.Equal(t, payment.MethodBankTransfer, agg.Payments[0].PaymentMethod)
	assert.Empty(t, out.Notify)

	agg, out = step(t, m, agg, VerifyPayment(txID))
	assert.Equal(t, application.StatusSubmitted, agg.Application.Status)
	assert.Equal(t, payment.StatusCompleted, agg.Application.PaymentStatus)
	assert.NotNil(t, agg.Payments[0].PaidAt)
	assert.Equal(t, notification.KindStatusChanged, out.Notify)
	assert.Equal(t, "submitted", out.Payload["status"])
	assert.Equal(t, "payment_verification", out.Payload["previous_status"])
}

func TestApply_VerifyTwiceIsConflict(t *testing.T) {
	m := newTestManager()
	agg, _ := step(t, m, draftAggregate(), Submit())
	agg, out := step(t, m, agg, RequestPayment(50, "USD", ""))
	txID := out.CreatedTransaction.ID
	agg, _ = step(t, m, agg, UploadReceipt(txID, "/r.png"))
	agg, _ = step(t, m, agg, VerifyPayment(txID))

	_, err := m.Apply(agg, VerifyPayment(txID))
	require.Error(t, err)
	assert.True(t, common.Is(err, common.CodeConflict))
	assert.Equal(t, application.StatusSubmitted, agg.Application.Status)
}

func TestApply_DocumentApprovalWaitsForRemainingDocuments(t *testing.T) {
	m := newTestManager()
	agg, _ := step(t, m, draftAggregate(), Submit())

	agg, out := step(t, m, agg, RequestDocuments([]string{"Transcript", "Passport", " transcript ", ""}, "Certified copies"))
	require.Len(t, out.CreatedDocuments, 2)
	assert.Equal(t, application.StatusPendingDocuments, agg.Application.Status)
	assert.False(t, agg.Application.DocumentsComplete)
	assert.Equal(t, notification.KindDocumentRequested, out.Notify)
	assert.Equal(t, "Transcript, Passport", out.Payload["documents"])
	transcript, passport := out.CreatedDocuments[0].ID, out.CreatedDocuments[1].ID

	agg, _ = step(t, m, agg, UploadDocument(transcript, "/t.pdf"))
	assert.Equal(t, application.StatusDocumentVerification, agg.Application.Status)

	agg, out = step(t, m, agg, ApproveDocument(transcript))
	assert.Equal(t, application.StatusPendingDocuments, agg.Application.Status)
	assert.False(t, agg.Application.DocumentsComplete)
	assert.Equal(t, notification.KindStatusChanged, out.Notify)

	agg, _ = step(t, m, agg, UploadDocument(passport, "/p.pdf"))
	agg, _ = step(t, m, agg, ApproveDocument(passport))
	assert.Equal(t, application.StatusSubmitted, agg.Application.Status)
	assert.True(t, agg.Application.DocumentsComplete)
}

func TestApply_DocumentApprovalKeepsPendingPayment(t *testing.T) {
	m := newTestManager()
	agg, _ := step(t, m, draftAggregate(), Submit())
	agg, out := step(t, m, agg, RequestDocuments([]string{"Transcript"}, ""))
	docID := out.CreatedDocuments[0].ID
	agg, _ = step(t, m, agg, RequestPayment(20, "GBP", ""))
	agg, _ = step(t, m, agg, UploadDocument(docID, "/t.pdf"))
	assert.Equal(t, application.StatusDocumentVerification, agg.Application.Status)

	agg, _ = step(t, m, agg, ApproveDocument(docID))
	assert.Equal(t, application.StatusPendingPayment, agg.Application.Status)
	assert.True(t, agg.Application.DocumentsComplete)
}

func TestApply_RejectDocumentAlwaysReturnsToPendingDocuments(t *testing.T) {
	m := newTestManager()
	agg, _ := step(t, m, draftAggregate(), Submit())
	agg, out := step(t, m, agg, RequestDocuments([]string{"Transcript"}, ""))
	docID := out.CreatedDocuments[0].ID
	agg, _ = step(t, m, agg, UploadDocument(docID, "/t.pdf"))

	agg, out = step(t, m, agg, RejectDocument(docID, "  blurry scan "))
	assert.Equal(t, application.StatusPendingDocuments, agg.Application.Status)
	assert.Equal(t, document.StatusRejected, agg.Documents[0].Status)
	assert.Equal(t, "blurry scan", agg.Documents[0].RejectionReason)
	assert.Equal(t, notification.KindStatusChanged, out.Notify)
	assert.Equal(t, "blurry scan", out.Payload["reason"])

	agg, _ = step(t, m, agg, UploadDocument(docID, "/t2.pdf"))
	assert.Equal(t, document.StatusSubmitted, agg.Documents[0].Status)
	assert.Empty(t, agg.Documents[0].RejectionReason)
}

func TestApply_RejectPaymentAllowsReupload(t *testing.T) {
	m := newTestManager()
	agg, _ := step(t, m, draftAggregate(), Submit())
	agg, out := step(t, m, agg, RequestPayment(80, "EUR", ""))
	txID := out.CreatedTransaction.ID
	agg, _ = step(t, m, agg, UploadReceipt(txID, "/r1.pdf"))

	agg, out = step(t, m, agg, RejectPayment(txID, "amount mismatch"))
	assert.Equal(t, application.StatusPendingPayment, agg.Application.Status)
	assert.Equal(t, payment.StatusRejected, agg.Application.PaymentStatus)
	assert.Equal(t, notification.KindStatusChanged, out.Notify)
	assert.Equal(t, "amount mismatch", out.Payload["reason"])

	agg, _ = step(t, m, agg, UploadReceipt(txID, "/r2.pdf"))
	assert.Equal(t, application.StatusPaymentVerification, agg.Application.Status)
	assert.Empty(t, agg.Payments[0].RejectionReason)
}

func TestApply_NewPaymentRequestSupersedesActive(t *testing.T) {
	m := newTestManager()
	agg, _ := step(t, m, draftAggregate(), Submit())
	agg, out := step(t, m, agg, RequestPayment(80, "EUR", ""))
	first := out.CreatedTransaction.ID
	agg, out = step(t, m, agg, RequestPayment(95, "EUR", "corrected fee"))
	second := out.CreatedTransaction.ID

	require.Len(t, out.UpdatedTransactions, 1)
	assert.Equal(t, first, out.UpdatedTransactions[0].ID)
	assert.True(t, agg.Payments[0].Superseded())
	assert.Equal(t, second, ActiveTransaction(agg.Payments).ID)
	assert.Equal(t, 95.0, agg.Application.PaymentAmount)

	_, err := m.Apply(agg, UploadReceipt(first, "/r.pdf"))
	assert.True(t, common.Is(err, common.CodeConflict))
}

func TestApply_CardPaymentSettlesWithoutVerification(t *testing.T) {
	m := newTestManager()
	agg, _ := step(t, m, draftAggregate(), Submit())
	agg, out := step(t, m, agg, RequestPayment(30, "USD", ""))
	txID := out.CreatedTransaction.ID

	agg, _ = step(t, m, agg, CompleteCardPayment(txID))
	assert.Equal(t, application.StatusSubmitted, agg.Application.Status)
	assert.Equal(t, payment.MethodCard, agg.Payments[0].PaymentMethod)
	assert.Equal(t, payment.StatusCompleted, agg.Payments[0].Status)
}

func TestApply_ResetPaymentReturnsToPending(t *testing.T) {
	m := newTestManager()
	agg, _ := step(t, m, draftAggregate(), Submit())
	agg, out := step(t, m, agg, RequestPayment(30, "USD", ""))
	txID := out.CreatedTransaction.ID
	agg, _ = step(t, m, agg, UploadReceipt(txID, "/r.pdf"))

	agg, _ = step(t, m, agg, ResetPayment(txID))
	assert.Equal(t, application.StatusPendingPayment, agg.Application.Status)
	assert.Equal(t, payment.StatusPending, agg.Payments[0].Status)
	assert.Empty(t, agg.Payments[0].ReceiptURL)

	agg, _ = step(t, m, agg, CompleteCardPayment(txID))
	_, err := m.Apply(agg, ResetPayment(txID))
	assert.True(t, common.Is(err, common.CodeConflict))
}

func TestApply_StudentUploadsDoNotReopenDecidedApplication(t *testing.T) {
	m := newTestManager()
	agg, _ := step(t, m, draftAggregate(), Submit())
	agg, out := step(t, m, agg, RequestDocuments([]string{"Transcript"}, ""))
	docID := out.CreatedDocuments[0].ID
	agg, _ = step(t, m, agg, OverrideStatus(application.StatusUnderReview))

	agg, out = step(t, m, agg, UploadDocument(docID, "/t.pdf"))
	assert.Equal(t, application.StatusUnderReview, agg.Application.Status)
	assert.False(t, out.StatusChanged)
	assert.Equal(t, document.StatusSubmitted, agg.Documents[0].Status)
}

func TestApply_AcceptanceLetter(t *testing.T) {
	m := newTestManager()
	agg, _ := step(t, m, draftAggregate(), Submit())

	agg, out := step(t, m, agg, UploadAcceptanceLetter("/letters/a.pdf"))
	assert.Equal(t, application.StatusAccepted, agg.Application.Status)
	assert.Equal(t, "/letters/a.pdf", agg.Application.AcceptanceLetterURL)
	assert.Equal(t, notification.KindAcceptanceLetter, out.Notify)
}

func TestApply_OverrideStatus(t *testing.T) {
	m := newTestManager()
	agg, _ := step(t, m, draftAggregate(), Submit())

	_, err := m.Apply(agg, OverrideStatus("archived"))
	assert.True(t, common.Is(err, common.CodeValidation))

	_, out := step(t, m, agg, OverrideStatus(application.StatusSubmitted))
	assert.False(t, out.StatusChanged)
	assert.Empty(t, out.Notify)

	_, out = step(t, m, agg, OverrideStatus(application.StatusRejected))
	assert.True(t, out.StatusChanged)
	assert.Equal(t, notification.KindStatusChanged, out.Notify)
}

func TestApply_RefundOnlyForRejectedAndOnce(t *testing.T) {
	m := newTestManager()
	agg, _ := step(t, m, draftAggregate(), Submit())

	_, err := m.Apply(agg, RequestRefund("changed plans"))
	assert.True(t, common.Is(err, common.CodeConflict))

	agg, _ = step(t, m, agg, OverrideStatus(application.StatusRejected))
	agg, out := step(t, m, agg, RequestRefund("changed plans"))
	require.NotNil(t, out.CreatedRefund)
	assert.Equal(t, payment.RefundPending, out.CreatedRefund.Status)
	assert.Equal(t, application.StatusRejected, agg.Application.Status)
	assert.Empty(t, out.Notify)

	_, err = m.Apply(agg, RequestRefund("again"))
	assert.True(t, common.Is(err, common.CodeConflict))
}

func TestApply_SubmitAndWithdrawGuards(t *testing.T) {
	m := newTestManager()
	agg, _ := step(t, m, draftAggregate(), Submit())

	_, err := m.Apply(agg, Submit())
	assert.True(t, common.Is(err, common.CodeConflict))

	agg, _ = step(t, m, agg, Withdraw())
	assert.Equal(t, application.StatusWithdrawn, agg.Application.Status)

	_, err = m.Apply(agg, Withdraw())
	assert.True(t, common.Is(err, common.CodeConflict))
	_, err = m.Apply(agg, UploadReceipt("missing", "/r.pdf"))
	assert.True(t, common.Is(err, common.CodeConflict))
}

func TestApply_ValidationErrors(t *testing.T) {
	m := newTestManager()
	agg, _ := step(t, m, draftAggregate(), Submit())

	_, err := m.Apply(agg, RequestPayment(0, "euro", ""))
	require.Error(t, err)
	var appErr *common.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeValidation, appErr.Code)
	assert.Contains(t, appErr.Fields, "amount")
	assert.Contains(t, appErr.Fields, "currency")

	_, err = m.Apply(agg, RequestDocuments([]string{" ", ""}, ""))
	assert.True(t, common.Is(err, common.CodeValidation))

	_, err = m.Apply(agg, ApproveDocument("missing"))
	assert.True(t, common.Is(err, common.CodeNotFound))
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	m := newTestManager()
	agg, _ := step(t, m, draftAggregate(), Submit())
	agg, out := step(t, m, agg, RequestDocuments([]string{"Transcript"}, ""))
	docID := out.CreatedDocuments[0].ID

	_, err := m.Apply(agg, UploadDocument(docID, "/t.pdf"))
	require.NoError(t, err)
	assert.Equal(t, document.StatusPending, agg.Documents[0].Status)
	assert.Equal(t, application.StatusPendingDocuments, agg.Application.Status)
}

func TestSettle(t *testing.T) {
	pendingDoc := document.Request{ID: "d1", Status: document.StatusPending}
	approvedDoc := document.Request{ID: "d2", Status: document.StatusApproved}
	awaiting := payment.Transaction{ID: "t1", Status: payment.StatusPendingVerification}
	paid := payment.Transaction{ID: "t2", Status: payment.StatusCompleted}

	cases := []struct {
		name     string
		docs     []document.Request
		payments []payment.Transaction
		want     application.Status
	}{
		{"empty ledgers", nil, nil, application.StatusSubmitted},
		{"outstanding document", []document.Request{pendingDoc}, nil, application.StatusPendingDocuments},
		{"payment before documents", []document.Request{pendingDoc}, []payment.Transaction{awaiting}, application.StatusPaymentVerification},
		{"paid and approved", []document.Request{approvedDoc}, []payment.Transaction{paid}, application.StatusSubmitted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Settle(tc.docs, tc.payments))
		})
	}
}

func TestApply_PaymentRequestedOnDraft(t *testing.T) {
	m := newTestManager()

	agg, out := step(t, m, draftAggregate(), RequestPayment(100, "USD", "App fee"))
	assert.Equal(t, application.StatusPendingPayment, agg.Application.Status)
	require.Len(t, agg.Payments, 1)
	txID := out.CreatedTransaction.ID

	agg, _ = step(t, m, agg, UploadReceipt(txID, "/r.pdf"))
	assert.Equal(t, payment.StatusPendingVerification, agg.Payments[0].Status)
	assert.Equal(t, application.StatusPaymentVerification, agg.Application.Status)

	agg, _ = step(t, m, agg, VerifyPayment(txID))
	assert.Equal(t, payment.StatusCompleted, agg.Payments[0].Status)
	assert.Equal(t, application.StatusSubmitted, agg.Application.Status)
	assert.True(t, agg.Application.DocumentsComplete)
}

func TestApply_SubmitWithFeeCreatesPendingTransaction(t *testing.T) {
	m := newTestManager()

	agg, out := step(t, m, draftAggregate(), SubmitWithFee(75, "eur", "Application fee: Physics"))
	assert.Equal(t, application.StatusPendingPayment, agg.Application.Status)
	assert.NotNil(t, agg.Application.SubmittedAt)
	require.NotNil(t, out.CreatedTransaction)
	require.Len(t, agg.Payments, 1)
	assert.Equal(t, payment.StatusPending, agg.Payments[0].Status)
	assert.Equal(t, 75.0, agg.Payments[0].Amount)
	assert.Equal(t, "EUR", agg.Application.PaymentCurrency)
	assert.Equal(t, notification.KindPaymentRequested, out.Notify)
	assert.Equal(t, "75.00", out.Payload["amount"])

	_, err := m.Apply(agg, SubmitWithFee(75, "EUR", ""))
	assert.True(t, common.Is(err, common.CodeConflict))
}

func TestApply_SubmitWithFeeKeepsExistingRequest(t *testing.T) {
	m := newTestManager()
	agg := draftAggregate()
	agg.Payments = []payment.Transaction{{ID: "t1", ApplicationID: "app-1", Amount: 40, Currency: "USD", Status: payment.StatusPendingVerification}}

	agg, out := step(t, m, agg, SubmitWithFee(75, "EUR", ""))
	assert.Nil(t, out.CreatedTransaction)
	require.Len(t, agg.Payments, 1)
	assert.Equal(t, application.StatusPaymentVerification, agg.Application.Status)
}

func TestApply_SubmitWithInvalidFee(t *testing.T) {
	m := newTestManager()
	_, err := m.Apply(draftAggregate(), SubmitWithFee(0.001, "EUR", ""))
	assert.True(t, common.Is(err, common.CodeValidation))
}

func TestApply_AdminReviewsDoNotReopenWithdrawnApplication(t *testing.T) {
	m := newTestManager()
	agg, _ := step(t, m, draftAggregate(), Submit())
	agg, out := step(t, m, agg, RequestPayment(100, "USD", ""))
	txID := out.CreatedTransaction.ID
	agg, out = step(t, m, agg, RequestDocuments([]string{"Passport"}, ""))
	docID := out.CreatedDocuments[0].ID
	agg, _ = step(t, m, agg, UploadReceipt(txID, "/r.pdf"))
	agg, _ = step(t, m, agg, UploadDocument(docID, "/p.pdf"))
	agg, _ = step(t, m, agg, Withdraw())

	agg, out = step(t, m, agg, RejectPayment(txID, "blurry"))
	assert.Equal(t, application.StatusWithdrawn, agg.Application.Status)
	assert.Equal(t, payment.StatusRejected, agg.Payments[0].Status)
	assert.False(t, out.StatusChanged)
	assert.Empty(t, out.Notify)

	agg, out = step(t, m, agg, RejectDocument(docID, "expired"))
	assert.Equal(t, application.StatusWithdrawn, agg.Application.Status)
	assert.Equal(t, document.StatusRejected, agg.Documents[0].Status)
	assert.Empty(t, out.Notify)

	for _, ev := range []Event{
		RequestPayment(20, "USD", ""),
		RequestDocuments([]string{"Transcript"}, ""),
		UploadAcceptanceLetter("/letter.pdf"),
		UploadReceipt(txID, "/r2.pdf"),
	} {
		_, err := m.Apply(agg, ev)
		assert.True(t, common.Is(err, common.CodeConflict), ev.Kind)
	}
}

func TestApply_PaymentAmountPrecision(t *testing.T) {
	m := newTestManager()
	agg, _ := step(t, m, draftAggregate(), Submit())

	for _, amount := range []float64{0.001, 0.004, 10.005, 1e12} {
		_, err := m.Apply(agg, RequestPayment(amount, "USD", ""))
		var appErr *common.Error
		require.ErrorAs(t, err, &appErr, "amount %v", amount)
		assert.Contains(t, appErr.Fields, "amount")
	}

	_, out := step(t, m, agg, RequestPayment(19.99, "USD", ""))
	assert.Equal(t, 19.99, out.CreatedTransaction.Amount)
}
