package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BuzzLyutic/kanban-board-api/internal/repo"
	"github.com/BuzzLyutic/kanban-board-api/internal/service"
	"github.com/BuzzLyutic/kanban-board-api/pkg/respond"
)

type BoardHandler struct {
	boards *service.BoardService
	logger *zap.Logger
}

func NewBoardHandler(boards *service.BoardService, logger *zap.Logger) *BoardHandler {
	return &BoardHandler{boards: boards, logger: logger}
}

type createBoardBody struct {
	Name    string            `json:"name"`
	Columns []repo.ColumnSpec `json:"columns"`
}

func (h *BoardHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	var body createBoardBody
	if err := respond.Decode(r, &body); err != nil {
		respond.Error(w, r, http.StatusBadRequest, err.Error())
		return
	}

	state, err := h.boards.Create(r.Context(), actor, body.Name, body.Columns)
	if err != nil {
		handleErrors(h.logger, w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusCreated, state)
}

// Get handles GET /api/boards/{id}.
func (h *BoardHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	state, err := h.boards.Snapshot(r.Context(), id)
	if err != nil {
		handleErrors(h.logger, w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, state)
}

// Constraints handles GET /api/boards/{id}/constraints/{taskID}.
func (h *BoardHandler) Constraints(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	boardID, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	taskID, ok := idParam(w, r, "taskID")
	if !ok {
		return
	}

	res, err := h.boards.Constraints(r.Context(), actor, boardID, taskID)
	if err != nil {
		handleErrors(h.logger, w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, res)
}

func (h *BoardHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	n, err := h.boards.Reindex(r.Context(), actor, id)
	if err != nil {
		handleErrors(h.logger, w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, map[string]int{"reindexed": n})
}

func (h *BoardHandler) Archive(w http.ResponseWriter, r *http.Request) {
	h.setArchived(w, r, true)
}

func (h *BoardHandler) Restore(w http.ResponseWriter, r *http.Request) {
	h.setArchived(w, r, false)
}

func (h *BoardHandler) setArchived(w http.ResponseWriter, r *http.Request, archived bool) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	b, err := h.boards.SetArchived(r.Context(), actor, id, archived)
	if err != nil {
		handleErrors(h.logger, w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, b)
}
