package handlers

import (
	"net/http"

	"uniadmit/internal/app"
	"uniadmit/internal/http/response"
)

type MessageHandler struct {
	messages *app.MessageService
}

func NewMessageHandler(messages *app.MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

type messageRequest struct {
	Body string `json:"body" validate:"required"`
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	applicationID, err := pathID(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, err)
		return
	}
	created, warnings, err := h.messages.Send(r.Context(), actor, applicationID, req.Body)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.WithWarnings(w, http.StatusCreated, created, warnings)
}

func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	applicationID, err := pathID(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		response.Error(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		response.Error(w, err)
		return
	}
	items, err := h.messages.List(r.Context(), actor, applicationID, limit, offset)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, items)
}
