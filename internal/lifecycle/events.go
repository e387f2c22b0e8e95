package lifecycle

import (
	"uniadmit/internal/common"
	"uniadmit/internal/domain/application"
)

type EventKind string

const (
	EventSubmitted                EventKind = "submitted"
	EventWithdrawn                EventKind = "withdrawn"
	EventPaymentRequested         EventKind = "payment_requested"
	EventDocumentsRequested       EventKind = "documents_requested"
	EventReceiptUploaded          EventKind = "receipt_uploaded"
	EventCardPaymentCompleted     EventKind = "card_payment_completed"
	EventPaymentVerified          EventKind = "payment_verified"
	EventPaymentRejected          EventKind = "payment_rejected"
	EventPaymentReset             EventKind = "payment_reset"
	EventDocumentUploaded         EventKind = "document_uploaded"
	EventDocumentApproved         EventKind = "document_approved"
	EventDocumentRejected         EventKind = "document_rejected"
	EventAcceptanceLetterUploaded EventKind = "acceptance_letter_uploaded"
	EventStatusOverridden         EventKind = "status_overridden"
	EventRefundRequested          EventKind = "refund_requested"
)

// Event is one lifecycle input. Only the fields relevant to Kind are read; use the
// constructors below.
type Event struct {
	Kind          EventKind
	DocumentID    common.UUID
	TransactionID common.UUID
	DocumentNames []string
	Instructions  string
	Amount        float64
	Currency      string
	Description   string
	FileURL       string
	Reason        string
	Status        application.Status
}

func Submit() Event {
	return Event{Kind: EventSubmitted}
}

// SubmitWithFee submits a draft whose program charges an application fee up
// front. The fee becomes a pending transaction unless the application already
// carries a payment request.
func SubmitWithFee(amount float64, currency, description string) Event {
	return Event{Kind: EventSubmitted, Amount: amount, Currency: currency, Description: description}
}

func Withdraw() Event {
	return Event{Kind: EventWithdrawn}
}

func RequestPayment(amount float64, currency, description string) Event {
	return Event{Kind: EventPaymentRequested, Amount: amount, Currency: currency, Description: description}
}

func RequestDocuments(names []string, instructions string) Event {
	return Event{Kind: EventDocumentsRequested, DocumentNames: names, Instructions: instructions}
}

func UploadReceipt(transactionID common.UUID, fileURL string) Event {
	return Event{Kind: EventReceiptUploaded, TransactionID: transactionID, FileURL: fileURL}
}

func CompleteCardPayment(transactionID common.UUID) Event {
	return Event{Kind: EventCardPaymentCompleted, TransactionID: transactionID}
}

func VerifyPayment(transactionID common.UUID) Event {
	return Event{Kind: EventPaymentVerified, TransactionID: transactionID}
}

func RejectPayment(transactionID common.UUID, reason string) Event {
	return Event{Kind: EventPaymentRejected, TransactionID: transactionID, Reason: reason}
}

func ResetPayment(transactionID common.UUID) Event {
	return Event{Kind: EventPaymentReset, TransactionID: transactionID}
}

func UploadDocument(documentID common.UUID, fileURL string) Event {
	return Event{Kind: EventDocumentUploaded, DocumentID: documentID, FileURL: fileURL}
}

func ApproveDocument(documentID common.UUID) Event {
	return Event{Kind: EventDocumentApproved, DocumentID: documentID}
}

func RejectDocument(documentID common.UUID, reason string) Event {
	return Event{Kind: EventDocumentRejected, DocumentID: documentID, Reason: reason}
}

func UploadAcceptanceLetter(fileURL string) Event {
	return Event{Kind: EventAcceptanceLetterUploaded, FileURL: fileURL}
}

func OverrideStatus(status application.Status) Event {
	return Event{Kind: EventStatusOverridden, Status: status}
}

func RequestRefund(reason string) Event {
	return Event{Kind: EventRefundRequested, Reason: reason}
}
