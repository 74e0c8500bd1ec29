package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/kanban-board-api/internal/model"
	"github.com/BuzzLyutic/kanban-board-api/internal/service"
	"github.com/BuzzLyutic/kanban-board-api/pkg/respond"
)

type TaskHandler struct {
	tasks  *service.TaskService
	moves  *service.MoveService
	logger *zap.Logger
}

func NewTaskHandler(tasks *service.TaskService, moves *service.MoveService, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		tasks:  tasks,
		moves:  moves,
		logger: logger,
	}
}

type moveBody struct {
	ColumnID          int64  `json:"column_id"`
	Position          *int   `json:"position"`
	IdempotencyToken  string `json:"idempotency_token"`
	ClientTimestampMs *int64 `json:"client_timestamp_ms"`
}

// Move handles POST /api/tasks/{id}/move.
func (h *TaskHandler) Move(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	var body moveBody
	if err := respond.Decode(r, &body); err != nil {
		respond.Error(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if body.Position == nil {
		respond.Error(w, r, http.StatusBadRequest, "position is required")
		return
	}

	token := body.IdempotencyToken
	if token == "" {
		token = r.Header.Get("Idempotency-Key")
	}

	res, err := h.moves.Move(r.Context(), actor, model.MoveRequest{
		TaskID:             id,
		ColumnID:           body.ColumnID,
		Position:           *body.Position,
		IdempotencyToken:   token,
		ClientObservedAtMs: body.ClientTimestampMs,
	})
	if err != nil {
		handleErrors(h.logger, w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, res)
}

type createBody struct {
	ColumnID  int64          `json:"column_id"`
	Title     string         `json:"title"`
	Priority  model.Priority `json:"priority"`
	Locked    bool           `json:"locked"`
	CanMoveTo []int64        `json:"can_move_to"`
}

// Create handles POST /api/boards/{id}/tasks.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	boardID, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	if r.ContentLength == 0 {
		respond.Error(w, r, http.StatusBadRequest, "empty request body")
		return
	}
	var body createBody
	if err := respond.Decode(r, &body); err != nil {
		h.logger.Debug("failed to decode json", zap.Error(err))
		respond.Error(w, r, http.StatusBadRequest, err.Error())
		return
	}

	idempKey := r.Header.Get("Idempotency-Key")
	task, err := h.tasks.Create(r.Context(), actor, model.NewTask{
		BoardID:   boardID,
		ColumnID:  body.ColumnID,
		Title:     body.Title,
		Priority:  body.Priority,
		Locked:    body.Locked,
		CanMoveTo: body.CanMoveTo,
	}, idempKey)
	if err != nil {
		handleErrors(h.logger, w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/tasks/%d", task.ID))
	respond.JSON(w, r, http.StatusCreated, task)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	task, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		handleErrors(h.logger, w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, task)
}

func (h *TaskHandler) Audit(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	entries, err := h.tasks.AuditLog(r.Context(), id)
	if err != nil {
		handleErrors(h.logger, w, r, err)
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	respond.JSON(w, r, http.StatusOK, entries)
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.tasks.Delete(r.Context(), actor, id); err != nil {
		handleErrors(h.logger, w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		respond.Error(w, r, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}
