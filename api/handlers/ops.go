package handlers

import (
	"context"
	"net/http"

	"github.com/openpredict/predex/store"
)

// DeadLetterSource lists parked jobs for operator inspection.
type DeadLetterSource interface {
	ListDeadLetters(ctx context.Context, limit int) ([]*store.DeadLetter, error)
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	deadLetters DeadLetterSource
}

// NewOpsHandler creates an ops handler.
func NewOpsHandler(deadLetters DeadLetterSource) *OpsHandler {
	return &OpsHandler{deadLetters: deadLetters}
}

// HandleDeadLetters handles GET /v1/deadletters.
func (h *OpsHandler) HandleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMsg(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	letters, err := h.deadLetters.ListDeadLetters(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"deadLetters": letters})
}
