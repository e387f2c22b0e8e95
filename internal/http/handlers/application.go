package handlers

import (
	"net/http"

	"uniadmit/internal/app"
	"uniadmit/internal/common"
	"uniadmit/internal/domain/application"
	"uniadmit/internal/http/response"
)

type ApplicationHandler struct {
	applications *app.ApplicationService
}

func NewApplicationHandler(applications *app.ApplicationService) *ApplicationHandler {
	return &ApplicationHandler{applications: applications}
}

type applyRequest struct {
	ProgramID         string `json:"program_id" validate:"required,uuid"`
	PersonalStatement string `json:"personal_statement" validate:"max=10000"`
	Draft             bool   `json:"draft"`
}

func (h *ApplicationHandler) Apply(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	var req applyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, err)
		return
	}
	programID, err := common.ParseUUID(req.ProgramID)
	if err != nil {
		response.Error(w, common.NewValidationError("invalid program id", map[string]string{"program_id": "must be a valid uuid"}))
		return
	}
	created, err := h.applications.Apply(r.Context(), actor, programID, req.PersonalStatement, !req.Draft)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, created)
}

func (h *ApplicationHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	items, err := h.applications.ListMine(r.Context(), actor)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, items)
}

func (h *ApplicationHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
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
	filter := application.ListFilter{
		Status: application.Status(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	}
	if raw := r.URL.Query().Get("program_id"); raw != "" {
		programID, err := common.ParseUUID(raw)
		if err != nil {
			response.Error(w, common.NewValidationError("invalid program id", map[string]string{"program_id": "must be a valid uuid"}))
			return
		}
		filter.ProgramID = programID
	}
	items, err := h.applications.List(r.Context(), actor, filter)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, items)
}
