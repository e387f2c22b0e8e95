package handlers

import (
	"net/http"

	"uniadmit/internal/app"
	"uniadmit/internal/common"
	"uniadmit/internal/domain/application"
	"uniadmit/internal/domain/payment"
	"uniadmit/internal/domain/user"
	"uniadmit/internal/http/response"
	"uniadmit/internal/storage"
)

// LifecycleHandler exposes the application lifecycle and its document and
// payment ledgers.
type LifecycleHandler struct {
	lifecycle *app.LifecycleService
}

func NewLifecycleHandler(lifecycle *app.LifecycleService) *LifecycleHandler {
	return &LifecycleHandler{lifecycle: lifecycle}
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

type notesRequest struct {
	Notes string `json:"notes" validate:"max=10000"`
}

type paymentRequest struct {
	Amount      float64 `json:"amount" validate:"gt=0"`
	Currency    string  `json:"currency" validate:"required,len=3"`
	Description string  `json:"description" validate:"max=500"`
}

type documentsRequest struct {
	DocumentNames []string `json:"document_names" validate:"required,min=1,dive,required,max=200"`
	Instructions  string   `json:"instructions" validate:"max=2000"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=2000"`
}

type refundResolutionRequest struct {
	Status string `json:"status" validate:"required,oneof=approved denied"`
}

type action func(r *http.Request, actor user.Actor, id common.UUID) (*app.Result, error)

// run resolves the caller and the {id} path variable, then writes the result
// with any side-effect warnings.
func (h *LifecycleHandler) run(w http.ResponseWriter, r *http.Request, status int, fn action) {
	actor, err := actorFrom(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	result, err := fn(r, actor, id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.WithWarnings(w, status, result, result.Warnings)
}

// upload runs fn with the multipart "file" part of the request.
func (h *LifecycleHandler) upload(w http.ResponseWriter, r *http.Request, kind storage.Kind,
	fn func(r *http.Request, actor user.Actor, id common.UUID, file storage.File) (*app.Result, error)) {
	h.run(w, r, http.StatusCreated, func(r *http.Request, actor user.Actor, id common.UUID) (*app.Result, error) {
		file, cleanup, err := readUpload(w, r, kind)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		return fn(r, actor, id, file)
	})
}

func (h *LifecycleHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	details, err := h.lifecycle.GetApplication(r.Context(), actor, id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, details)
}

func (h *LifecycleHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	items, err := h.lifecycle.ListDocuments(r.Context(), actor, id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, items)
}

func (h *LifecycleHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	items, err := h.lifecycle.ListPayments(r.Context(), actor, id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, items)
}

func (h *LifecycleHandler) History(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	items, err := h.lifecycle.History(r.Context(), actor, id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, items)
}

func (h *LifecycleHandler) Submit(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, func(r *http.Request, actor user.Actor, id common.UUID) (*app.Result, error) {
		return h.lifecycle.Submit(r.Context(), actor, id)
	})
}

func (h *LifecycleHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, func(r *http.Request, actor user.Actor, id common.UUID) (*app.Result, error) {
		return h.lifecycle.Withdraw(r.Context(), actor, id)
	})
}

func (h *LifecycleHandler) RequestRefund(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusCreated, func(r *http.Request, actor user.Actor, id common.UUID) (*app.Result, error) {
		var req reasonRequest
		if err := decodeOptionalJSON(w, r, &req); err != nil {
			return nil, err
		}
		return h.lifecycle.RequestRefund(r.Context(), actor, id, req.Reason)
	})
}

func (h *LifecycleHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, storage.KindDocument, func(r *http.Request, actor user.Actor, id common.UUID, file storage.File) (*app.Result, error) {
		return h.lifecycle.UploadDocument(r.Context(), actor, id, file)
	})
}

func (h *LifecycleHandler) UploadReceipt(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, storage.KindReceipt, func(r *http.Request, actor user.Actor, id common.UUID, file storage.File) (*app.Result, error) {
		return h.lifecycle.UploadPaymentReceipt(r.Context(), actor, id, file)
	})
}

func (h *LifecycleHandler) CompleteCardPayment(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, func(r *http.Request, actor user.Actor, id common.UUID) (*app.Result, error) {
		return h.lifecycle.CompleteCardPayment(r.Context(), actor, id)
	})
}

func (h *LifecycleHandler) ResetPayment(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, func(r *http.Request, actor user.Actor, id common.UUID) (*app.Result, error) {
		return h.lifecycle.ResetPaymentToPending(r.Context(), actor, id)
	})
}

func (h *LifecycleHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, func(r *http.Request, actor user.Actor, id common.UUID) (*app.Result, error) {
		var req statusRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return nil, err
		}
		return h.lifecycle.UpdateApplicationStatus(r.Context(), actor, id, application.Status(req.Status))
	})
}

func (h *LifecycleHandler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, func(r *http.Request, actor user.Actor, id common.UUID) (*app.Result, error) {
		var req notesRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return nil, err
		}
		return h.lifecycle.UpdateAdminNotes(r.Context(), actor, id, req.Notes)
	})
}

func (h *LifecycleHandler) RequestPayment(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusCreated, func(r *http.Request, actor user.Actor, id common.UUID) (*app.Result, error) {
		var req paymentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return nil, err
		}
		return h.lifecycle.RequestPayment(r.Context(), actor, id, req.Amount, req.Currency, req.Description)
	})
}

func (h *LifecycleHandler) RequestDocuments(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusCreated, func(r *http.Request, actor user.Actor, id common.UUID) (*app.Result, error) {
		var req documentsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return nil, err
		}
		return h.lifecycle.RequestDocuments(r.Context(), actor, id, req.DocumentNames, req.Instructions)
	})
}

func (h *LifecycleHandler) UploadLetter(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, storage.KindLetter, func(r *http.Request, actor user.Actor, id common.UUID, file storage.File) (*app.Result, error) {
		return h.lifecycle.UploadConditionalLetter(r.Context(), actor, id, file)
	})
}

func (h *LifecycleHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, func(r *http.Request, actor user.Actor, id common.UUID) (*app.Result, error) {
		return h.lifecycle.VerifyPayment(r.Context(), actor, id)
	})
}

func (h *LifecycleHandler) RejectPayment(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, func(r *http.Request, actor user.Actor, id common.UUID) (*app.Result, error) {
		var req reasonRequest
		if err := decodeOptionalJSON(w, r, &req); err != nil {
			return nil, err
		}
		return h.lifecycle.RejectPayment(r.Context(), actor, id, req.Reason)
	})
}

func (h *LifecycleHandler) ApproveDocument(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, func(r *http.Request, actor user.Actor, id common.UUID) (*app.Result, error) {
		return h.lifecycle.ApproveDocument(r.Context(), actor, id)
	})
}

func (h *LifecycleHandler) RejectDocument(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, func(r *http.Request, actor user.Actor, id common.UUID) (*app.Result, error) {
		var req reasonRequest
		if err := decodeOptionalJSON(w, r, &req); err != nil {
			return nil, err
		}
		return h.lifecycle.RejectDocument(r.Context(), actor, id, req.Reason)
	})
}

func (h *LifecycleHandler) ResolveRefund(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, func(r *http.Request, actor user.Actor, id common.UUID) (*app.Result, error) {
		var req refundResolutionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return nil, err
		}
		return h.lifecycle.ResolveRefund(r.Context(), actor, id, payment.RefundStatus(req.Status))
	})
}
