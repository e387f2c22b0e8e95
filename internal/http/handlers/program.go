package handlers

import (
	"net/http"

	"uniadmit/internal/app"
	"uniadmit/internal/domain/program"
	"uniadmit/internal/http/response"
)

type ProgramHandler struct {
	programs *app.ProgramService
}

func NewProgramHandler(programs *app.ProgramService) *ProgramHandler {
	return &ProgramHandler{programs: programs}
}

type programRequest struct {
	University     string  `json:"university" validate:"required,max=200"`
	Name           string  `json:"name" validate:"required,max=200"`
	Degree         string  `json:"degree" validate:"required,max=50"`
	Language       string  `json:"language" validate:"max=50"`
	Duration       string  `json:"duration" validate:"max=50"`
	TuitionFee     float64 `json:"tuition_fee" validate:"gte=0"`
	ApplicationFee float64 `json:"application_fee" validate:"gte=0"`
	Currency       string  `json:"currency"`
	Description    string  `json:"description" validate:"max=5000"`
	Status         string  `json:"status" validate:"omitempty,oneof=draft published closed"`
}

func (req programRequest) toProgram() program.Program {
	return program.Program{
		University:     req.University,
		Name:           req.Name,
		Degree:         req.Degree,
		Language:       req.Language,
		Duration:       req.Duration,
		TuitionFee:     req.TuitionFee,
		ApplicationFee: req.ApplicationFee,
		Currency:       req.Currency,
		Description:    req.Description,
		Status:         program.Status(req.Status),
	}
}

func (h *ProgramHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req programRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, err)
		return
	}
	created, err := h.programs.Create(r.Context(), req.toProgram())
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, created)
}

func (h *ProgramHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	var req programRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, err)
		return
	}
	p := req.toProgram()
	p.ID = id
	updated, err := h.programs.Update(r.Context(), p)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, updated)
}

func (h *ProgramHandler) ListPublished(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		response.Error(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		response.Error(w, err)
		return
	}
	query := r.URL.Query()
	items, err := h.programs.ListPublished(r.Context(), program.ListFilter{
		University: query.Get("university"),
		Degree:     query.Get("degree"),
		Language:   query.Get("language"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, items)
}

func (h *ProgramHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	item, err := h.programs.Get(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, item)
}
