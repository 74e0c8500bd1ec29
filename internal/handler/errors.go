package handler

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/BuzzLyutic/kanban-board-api/internal/auth"
	"github.com/BuzzLyutic/kanban-board-api/internal/model"
	"github.com/BuzzLyutic/kanban-board-api/internal/repo"
	"github.com/BuzzLyutic/kanban-board-api/pkg/respond"
)

// ConflictResponse is the 409 body. It carries the canonical state so the
// client can re-render without another request.
type ConflictResponse struct {
	Conflict         bool          `json:"conflict"`
	Message          string        `json:"message"`
	CurrentState     ConflictState `json:"current_state"`
	TimeDifferenceMs int64         `json:"time_difference_ms"`
}

type ConflictState struct {
	Task  model.Task       `json:"task"`
	Board model.BoardState `json:"board"`
}

func handleErrors(logger *zap.Logger, w http.ResponseWriter, r *http.Request, err error) {
	var (
		conflict   *model.ConflictError
		policy     *model.PolicyError
		validation *model.ValidationError
	)
	switch {
	case errors.As(err, &conflict):
		respond.JSON(w, r, http.StatusConflict, ConflictResponse{
			Conflict:         true,
			Message:          "task was modified by another user",
			CurrentState:     ConflictState{Task: conflict.Task, Board: conflict.Board},
			TimeDifferenceMs: conflict.TimeDifferenceMs,
		})
	case errors.As(err, &policy):
		respond.Rejection(w, r, http.StatusUnprocessableEntity, "move not allowed", policy.Reason)
	case errors.As(err, &validation):
		respond.Error(w, r, http.StatusBadRequest, validation.Reason)
	case errors.Is(err, repo.ErrorNotFound):
		respond.Error(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, repo.ErrorConflict):
		// Lost a race on the position constraint; safe to retry.
		respond.Error(w, r, http.StatusConflict, "conflict")
	default:
		logger.Error("internal error", zap.Error(err), zap.String("path", r.URL.Path))
		respond.Error(w, r, http.StatusInternalServerError, "internal error")
	}
}

func actorOr401(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		respond.Error(w, r, http.StatusUnauthorized, "unauthorized")
	}
	return actor, ok
}
