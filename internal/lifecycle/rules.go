package lifecycle

import (
	"uniadmit/internal/domain/application"
	"uniadmit/internal/domain/document"
	"uniadmit/internal/domain/payment"
)

// OutstandingDocuments counts requests the student still owes (pending or rejected).
func OutstandingDocuments(docs []document.Request) int {
	count := 0
	for _, doc := range docs {
		if doc.Outstanding() {
			count++
		}
	}
	return count
}

func DocumentsComplete(docs []document.Request) bool {
	return OutstandingDocuments(docs) == 0
}

// CurrentTransaction is the latest non-superseded transaction, completed or not.
func CurrentTransaction(payments []payment.Transaction) *payment.Transaction {
	var current *payment.Transaction
	for i := range payments {
		tx := &payments[i]
		if tx.Superseded() {
			continue
		}
		if current == nil || !tx.CreatedAt.Before(current.CreatedAt) {
			current = tx
		}
	}
	return current
}

// ActiveTransaction is the current transaction while it still gates the
// application, i.e. anything but completed.
func ActiveTransaction(payments []payment.Transaction) *payment.Transaction {
	current := CurrentTransaction(payments)
	if current == nil || current.Status == payment.StatusCompleted {
		return nil
	}
	return current
}

// Settle derives the status of an application from its ledgers. Payment is
// evaluated before documents.
func Settle(docs []document.Request, payments []payment.Transaction) application.Status {
	if active := ActiveTransaction(payments); active != nil {
		switch active.Status {
		case payment.StatusPending, payment.StatusRejected:
			return application.StatusPendingPayment
		case payment.StatusPendingVerification:
			return application.StatusPaymentVerification
		}
	}
	if OutstandingDocuments(docs) > 0 {
		return application.StatusPendingDocuments
	}
	return application.StatusSubmitted
}

func findDocument(docs []document.Request, id string) int {
	for i := range docs {
		if string(docs[i].ID) == id {
			return i
		}
	}
	return -1
}

func findTransaction(payments []payment.Transaction, id string) int {
	for i := range payments {
		if string(payments[i].ID) == id {
			return i
		}
	}
	return -1
}
