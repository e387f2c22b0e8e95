package lifecycle

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/application"
	"uniadmit/internal/domain/document"
	"uniadmit/internal/domain/notification"
	"uniadmit/internal/domain/payment"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Outcome is everything a caller must persist and announce after an event.
type Outcome struct {
	Event               EventKind
	Application         application.Application
	PreviousStatus      application.Status
	StatusChanged       bool
	Notify              notification.Kind
	Payload             map[string]string
	CreatedDocuments    []document.Request
	UpdatedDocument     *document.Request
	CreatedTransaction  *payment.Transaction
	UpdatedTransactions []payment.Transaction
	CreatedRefund       *payment.Refund
}

// Manager decides lifecycle transitions. It performs no I/O; callers load an
// Aggregate inside a transaction, call Apply and write the Outcome back.
type Manager struct {
	clock func() time.Time
	newID func() common.UUID
}

func NewManager() *Manager {
	return &Manager{
		clock: func() time.Time { return time.Now().UTC() },
		newID: common.NewUUID,
	}
}

func (m *Manager) Apply(agg application.Aggregate, ev Event) (*Outcome, error) {
	now := m.clock()
	state := &transition{
		now:      now,
		newID:    m.newID,
		app:      agg.Application,
		docs:     append([]document.Request(nil), agg.Documents...),
		payments: append([]payment.Transaction(nil), agg.Payments...),
		refunds:  agg.Refunds,
		out: &Outcome{
			Event:          ev.Kind,
			PreviousStatus: agg.Application.Status,
			Payload:        map[string]string{},
		},
	}

	var err error
	switch ev.Kind {
	case EventSubmitted:
		err = state.submit(ev)
	case EventWithdrawn:
		err = state.withdraw()
	case EventPaymentRequested:
		err = state.requestPayment(ev)
	case EventDocumentsRequested:
		err = state.requestDocuments(ev)
	case EventReceiptUploaded:
		err = state.uploadReceipt(ev)
	case EventCardPaymentCompleted:
		err = state.completeCardPayment(ev)
	case EventPaymentVerified:
		err = state.verifyPayment(ev)
	case EventPaymentRejected:
		err = state.rejectPayment(ev)
	case EventPaymentReset:
		err = state.resetPayment(ev)
	case EventDocumentUploaded:
		err = state.uploadDocument(ev)
	case EventDocumentApproved:
		err = state.approveDocument(ev)
	case EventDocumentRejected:
		err = state.rejectDocument(ev)
	case EventAcceptanceLetterUploaded:
		err = state.uploadAcceptanceLetter(ev)
	case EventStatusOverridden:
		err = state.overrideStatus(ev)
	case EventRefundRequested:
		err = state.requestRefund(ev)
	default:
		err = common.NewError(common.CodeValidation, fmt.Sprintf("unknown lifecycle event %q", ev.Kind), nil)
	}
	if err != nil {
		return nil, err
	}
	return state.finish(), nil
}

type transition struct {
	now      time.Time
	newID    func() common.UUID
	app      application.Application
	docs     []document.Request
	payments []payment.Transaction
	refunds  []payment.Refund
	out      *Outcome
}

func (t *transition) finish() *Outcome {
	t.app.DocumentsComplete = DocumentsComplete(t.docs)
	if current := CurrentTransaction(t.payments); current != nil {
		t.app.PaymentStatus = current.Status
		t.app.PaymentAmount = current.Amount
		t.app.PaymentCurrency = current.Currency
	}
	t.app.UpdatedAt = t.now
	t.out.Application = t.app
	t.out.StatusChanged = t.app.Status != t.out.PreviousStatus
	if t.out.StatusChanged {
		t.out.Payload["status"] = string(t.app.Status)
		t.out.Payload["previous_status"] = string(t.out.PreviousStatus)
	}
	return t.out
}

// settle moves the application to the ledger-derived status unless an admin has
// already decided it.
func (t *transition) settle() {
	if t.app.Status.Decided() {
		return
	}
	t.app.Status = Settle(t.docs, t.payments)
	if t.app.Status == application.StatusSubmitted && t.app.SubmittedAt == nil {
		submittedAt := t.now
		t.app.SubmittedAt = &submittedAt
	}
}

// moveTo applies a ledger-driven status that must not override an admin decision.
func (t *transition) moveTo(status application.Status) {
	if t.app.Status.Decided() {
		return
	}
	t.app.Status = status
}

func (t *transition) notifyOnChange() {
	if t.app.Status != t.out.PreviousStatus {
		t.out.Notify = notification.KindStatusChanged
	}
}

func (t *transition) requireNotWithdrawn() error {
	if t.app.Status == application.StatusWithdrawn {
		return common.NewError(common.CodeConflict, "application is withdrawn", nil)
	}
	return nil
}

func (t *transition) submit(ev Event) error {
	if t.app.Status != application.StatusDraft {
		return common.NewError(common.CodeConflict, "only draft applications can be submitted", nil)
	}
	if ev.Amount != 0 && CurrentTransaction(t.payments) == nil {
		fee, err := t.newTransaction(ev)
		if err != nil {
			return err
		}
		t.payments = append(t.payments, fee)
		t.out.CreatedTransaction = &fee
		t.out.Notify = notification.KindPaymentRequested
		t.paymentPayload(fee)
	}
	t.app.Status = Settle(t.docs, t.payments)
	submittedAt := t.now
	t.app.SubmittedAt = &submittedAt
	return nil
}

func (t *transition) withdraw() error {
	switch t.app.Status {
	case application.StatusWithdrawn:
		return common.NewError(common.CodeConflict, "application is already withdrawn", nil)
	case application.StatusRejected:
		return common.NewError(common.CodeConflict, "rejected applications cannot be withdrawn", nil)
	}
	t.app.Status = application.StatusWithdrawn
	return nil
}

// newTransaction validates the amount and currency of ev and builds a pending
// transaction from them.
func (t *transition) newTransaction(ev Event) (payment.Transaction, error) {
	currency := strings.ToUpper(strings.TrimSpace(ev.Currency))
	fields := map[string]string{}
	if err := payment.CheckAmount(ev.Amount); err != nil {
		fields["amount"] = err.Error()
	}
	if !currencyPattern.MatchString(currency) {
		fields["currency"] = "currency must be a 3-letter ISO code"
	}
	if len(fields) > 0 {
		return payment.Transaction{}, common.NewValidationError("invalid payment request", fields)
	}
	return payment.Transaction{
		ID:            t.newID(),
		ApplicationID: t.app.ID,
		StudentID:     t.app.StudentID,
		Amount:        math.Round(ev.Amount*100) / 100,
		Currency:      currency,
		Description:   strings.TrimSpace(ev.Description),
		Status:        payment.StatusPending,
		CreatedAt:     t.now,
		UpdatedAt:     t.now,
	}, nil
}

func (t *transition) paymentPayload(tx payment.Transaction) {
	t.out.Payload["transaction_id"] = tx.ID.String()
	t.out.Payload["amount"] = strconv.FormatFloat(tx.Amount, 'f', 2, 64)
	t.out.Payload["currency"] = tx.Currency
	t.out.Payload["description"] = tx.Description
}

func (t *transition) requestPayment(ev Event) error {
	if err := t.requireNotWithdrawn(); err != nil {
		return err
	}
	created, err := t.newTransaction(ev)
	if err != nil {
		return err
	}
	if active := ActiveTransaction(t.payments); active != nil {
		supersededAt := t.now
		active.SupersededAt = &supersededAt
		active.UpdatedAt = t.now
		t.out.UpdatedTransactions = append(t.out.UpdatedTransactions, *active)
	}
	t.payments = append(t.payments, created)
	t.out.CreatedTransaction = &created
	t.app.Status = application.StatusPendingPayment
	t.out.Notify = notification.KindPaymentRequested
	t.paymentPayload(created)
	return nil
}

func (t *transition) requestDocuments(ev Event) error {
	if err := t.requireNotWithdrawn(); err != nil {
		return err
	}
	seen := map[string]bool{}
	var names []string
	for _, name := range ev.DocumentNames {
		trimmed := strings.TrimSpace(name)
		key := strings.ToLower(trimmed)
		if trimmed == "" || seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, trimmed)
	}
	if len(names) == 0 {
		return common.NewValidationError("invalid document request", map[string]string{"document_names": "at least one document name is required"})
	}
	instructions := strings.TrimSpace(ev.Instructions)
	for _, name := range names {
		created := document.Request{
			ID:            t.newID(),
			ApplicationID: t.app.ID,
			StudentID:     t.app.StudentID,
			DocumentName:  name,
			Description:   instructions,
			Status:        document.StatusPending,
			CreatedAt:     t.now,
		}
		t.docs = append(t.docs, created)
		t.out.CreatedDocuments = append(t.out.CreatedDocuments, created)
	}
	t.app.Status = application.StatusPendingDocuments
	t.out.Notify = notification.KindDocumentRequested
	t.out.Payload["documents"] = strings.Join(names, ", ")
	if instructions != "" {
		t.out.Payload["instructions"] = instructions
	}
	return nil
}

func (t *transition) transaction(id common.UUID) (*payment.Transaction, error) {
	idx := findTransaction(t.payments, string(id))
	if idx < 0 {
		return nil, common.NewError(common.CodeNotFound, "payment transaction not found", nil)
	}
	return &t.payments[idx], nil
}

// activeTransaction resolves id and requires it to be the application's active
// transaction.
func (t *transition) activeTransaction(id common.UUID) (*payment.Transaction, error) {
	tx, err := t.transaction(id)
	if err != nil {
		return nil, err
	}
	active := ActiveTransaction(t.payments)
	if active == nil || active.ID != tx.ID {
		return nil, common.NewError(common.CodeConflict, "payment transaction is not active", nil)
	}
	return tx, nil
}

func (t *transition) uploadReceipt(ev Event) error {
	if err := t.requireNotWithdrawn(); err != nil {
		return err
	}
	if strings.TrimSpace(ev.FileURL) == "" {
		return common.NewValidationError("invalid receipt", map[string]string{"file": "file is required"})
	}
	tx, err := t.activeTransaction(ev.TransactionID)
	if err != nil {
		return err
	}
	tx.ReceiptURL = ev.FileURL
	tx.PaymentMethod = payment.MethodBankTransfer
	tx.RejectionReason = ""
	tx.Status = payment.StatusPendingVerification
	tx.UpdatedAt = t.now
	t.out.UpdatedTransactions = append(t.out.UpdatedTransactions, *tx)
	t.moveTo(application.StatusPaymentVerification)
	return nil
}

func (t *transition) completeCardPayment(ev Event) error {
	if err := t.requireNotWithdrawn(); err != nil {
		return err
	}
	tx, err := t.activeTransaction(ev.TransactionID)
	if err != nil {
		return err
	}
	if tx.Status == payment.StatusPendingVerification {
		return common.NewError(common.CodeConflict, "payment receipt is awaiting verification", nil)
	}
	paidAt := t.now
	tx.Status = payment.StatusCompleted
	tx.PaymentMethod = payment.MethodCard
	tx.RejectionReason = ""
	tx.PaidAt = &paidAt
	tx.UpdatedAt = t.now
	t.out.UpdatedTransactions = append(t.out.UpdatedTransactions, *tx)
	t.settle()
	t.notifyOnChange()
	return nil
}

func (t *transition) verifyPayment(ev Event) error {
	tx, err := t.transaction(ev.TransactionID)
	if err != nil {
		return err
	}
	if tx.Status != payment.StatusPendingVerification || tx.Superseded() {
		return common.NewError(common.CodeConflict, fmt.Sprintf("payment is not awaiting verification (status %s)", tx.Status), nil)
	}
	paidAt := t.now
	tx.Status = payment.StatusCompleted
	tx.PaidAt = &paidAt
	tx.UpdatedAt = t.now
	t.out.UpdatedTransactions = append(t.out.UpdatedTransactions, *tx)
	t.settle()
	t.notifyOnChange()
	return nil
}

func (t *transition) rejectPayment(ev Event) error {
	tx, err := t.transaction(ev.TransactionID)
	if err != nil {
		return err
	}
	if tx.Status != payment.StatusPendingVerification || tx.Superseded() {
		return common.NewError(common.CodeConflict, fmt.Sprintf("payment is not awaiting verification (status %s)", tx.Status), nil)
	}
	tx.Status = payment.StatusRejected
	tx.RejectionReason = strings.TrimSpace(ev.Reason)
	tx.UpdatedAt = t.now
	t.out.UpdatedTransactions = append(t.out.UpdatedTransactions, *tx)
	if t.app.Status == application.StatusWithdrawn {
		return nil
	}
	t.app.Status = application.StatusPendingPayment
	t.out.Notify = notification.KindStatusChanged
	t.out.Payload["transaction_id"] = tx.ID.String()
	t.out.Payload["action"] = "reupload_receipt"
	if tx.RejectionReason != "" {
		t.out.Payload["reason"] = tx.RejectionReason
	}
	return nil
}

func (t *transition) resetPayment(ev Event) error {
	tx, err := t.activeTransaction(ev.TransactionID)
	if err != nil {
		return err
	}
	tx.Status = payment.StatusPending
	tx.ReceiptURL = ""
	tx.PaymentMethod = ""
	tx.RejectionReason = ""
	tx.UpdatedAt = t.now
	t.out.UpdatedTransactions = append(t.out.UpdatedTransactions, *tx)
	t.settle()
	return nil
}

func (t *transition) document(id common.UUID) (*document.Request, error) {
	idx := findDocument(t.docs, string(id))
	if idx < 0 {
		return nil, common.NewError(common.CodeNotFound, "document request not found", nil)
	}
	return &t.docs[idx], nil
}

func (t *transition) uploadDocument(ev Event) error {
	if err := t.requireNotWithdrawn(); err != nil {
		return err
	}
	if strings.TrimSpace(ev.FileURL) == "" {
		return common.NewValidationError("invalid document", map[string]string{"file": "file is required"})
	}
	doc, err := t.document(ev.DocumentID)
	if err != nil {
		return err
	}
	if !doc.Outstanding() {
		return common.NewError(common.CodeConflict, fmt.Sprintf("document cannot be uploaded in status %s", doc.Status), nil)
	}
	uploadedAt := t.now
	doc.Status = document.StatusSubmitted
	doc.UploadedFileURL = ev.FileURL
	doc.UploadedAt = &uploadedAt
	doc.RejectionReason = ""
	updated := *doc
	t.out.UpdatedDocument = &updated
	t.moveTo(application.StatusDocumentVerification)
	return nil
}

func (t *transition) approveDocument(ev Event) error {
	doc, err := t.document(ev.DocumentID)
	if err != nil {
		return err
	}
	if doc.Status != document.StatusSubmitted {
		return common.NewError(common.CodeConflict, fmt.Sprintf("document is not awaiting review (status %s)", doc.Status), nil)
	}
	reviewedAt := t.now
	doc.Status = document.StatusApproved
	doc.ReviewedAt = &reviewedAt
	updated := *doc
	t.out.UpdatedDocument = &updated
	t.settle()
	t.notifyOnChange()
	return nil
}

func (t *transition) rejectDocument(ev Event) error {
	doc, err := t.document(ev.DocumentID)
	if err != nil {
		return err
	}
	if doc.Status != document.StatusSubmitted {
		return common.NewError(common.CodeConflict, fmt.Sprintf("document is not awaiting review (status %s)", doc.Status), nil)
	}
	reviewedAt := t.now
	doc.Status = document.StatusRejected
	doc.RejectionReason = strings.TrimSpace(ev.Reason)
	doc.ReviewedAt = &reviewedAt
	updated := *doc
	t.out.UpdatedDocument = &updated
	if t.app.Status == application.StatusWithdrawn {
		return nil
	}
	t.app.Status = application.StatusPendingDocuments
	t.out.Notify = notification.KindStatusChanged
	t.out.Payload["document_id"] = doc.ID.String()
	t.out.Payload["document_name"] = doc.DocumentName
	t.out.Payload["action"] = "reupload_document"
	if doc.RejectionReason != "" {
		t.out.Payload["reason"] = doc.RejectionReason
	}
	return nil
}

func (t *transition) uploadAcceptanceLetter(ev Event) error {
	if err := t.requireNotWithdrawn(); err != nil {
		return err
	}
	if strings.TrimSpace(ev.FileURL) == "" {
		return common.NewValidationError("invalid letter", map[string]string{"file": "file is required"})
	}
	t.app.AcceptanceLetterURL = ev.FileURL
	t.app.Status = application.StatusAccepted
	t.out.Notify = notification.KindAcceptanceLetter
	t.out.Payload["letter_url"] = ev.FileURL
	return nil
}

func (t *transition) overrideStatus(ev Event) error {
	if !ev.Status.Valid() {
		return common.NewValidationError("invalid status", map[string]string{"status": fmt.Sprintf("unknown status %q", ev.Status)})
	}
	t.app.Status = ev.Status
	if ev.Status == application.StatusSubmitted && t.app.SubmittedAt == nil {
		submittedAt := t.now
		t.app.SubmittedAt = &submittedAt
	}
	t.notifyOnChange()
	return nil
}

func (t *transition) requestRefund(ev Event) error {
	if t.app.Status != application.StatusRejected {
		return common.NewError(common.CodeConflict, "refunds can only be requested for rejected applications", nil)
	}
	if len(t.refunds) > 0 {
		return common.NewError(common.CodeConflict, "a refund has already been requested", nil)
	}
	created := payment.Refund{
		ID:            t.newID(),
		ApplicationID: t.app.ID,
		StudentID:     t.app.StudentID,
		Reason:        strings.TrimSpace(ev.Reason),
		Status:        payment.RefundPending,
		CreatedAt:     t.now,
	}
	t.out.CreatedRefund = &created
	return nil
}
