package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// AgentService is the scheduler surface the handler needs.
type AgentService interface {
	Schedule(ctx context.Context, agentID, marketID string, delay time.Duration) error
	ScheduleOnce(ctx context.Context, agentID, marketID string, delay time.Duration) error
	Unschedule(ctx context.Context, agentID, marketID string) error
	Pending(ctx context.Context) (int64, error)
}

// AgentHandler handles /v1/agents.
type AgentHandler struct {
	agents AgentService
}

// NewAgentHandler creates an agent handler.
func NewAgentHandler(agents AgentService) *AgentHandler {
	return &AgentHandler{agents: agents}
}

type scheduleRequest struct {
	MarketID string `json:"marketId"`
	// DelayMs defers the evaluation; zero runs it on the next poll.
	DelayMs int64 `json:"delayMs,omitempty"`
	// Once books a one-shot evaluation instead of replacing the agent's
	// standing schedule for the market.
	Once bool `json:"once,omitempty"`
}

// HandleAgents handles /v1/agents/pending and /v1/agents/{id}/schedule.
func (h *AgentHandler) HandleAgents(w http.ResponseWriter, r *http.Request) {
	agentID, endpoint := splitPath(r, "/v1/agents/")

	if agentID == "pending" && endpoint == "" {
		h.pending(w, r)
		return
	}
	if agentID == "" {
		WriteErrorMsg(w, http.StatusBadRequest, "VALIDATION", "agent id is required")
		return
	}

	switch endpoint {
	case "schedule":
		h.handleSchedule(w, r, agentID)
	default:
		WriteErrorMsg(w, http.StatusNotFound, "NOT_FOUND", "endpoint not found")
	}
}

func (h *AgentHandler) handleSchedule(w http.ResponseWriter, r *http.Request, agentID string) {
	switch r.Method {
	case http.MethodPost:
		h.schedule(w, r, agentID)
	case http.MethodDelete:
		h.unschedule(w, r, agentID)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		WriteErrorMsg(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

func (h *AgentHandler) schedule(w http.ResponseWriter, r *http.Request, agentID string) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorMsg(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body")
		return
	}
	if req.MarketID == "" {
		WriteErrorMsg(w, http.StatusBadRequest, "VALIDATION", "marketId is required")
		return
	}
	delay := time.Duration(req.DelayMs) * time.Millisecond

	var err error
	if req.Once {
		err = h.agents.ScheduleOnce(r.Context(), agentID, req.MarketID, delay)
	} else {
		err = h.agents.Schedule(r.Context(), agentID, req.MarketID, delay)
	}
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"agentId":  agentID,
		"marketId": req.MarketID,
		"runAt":    time.Now().Add(delay).UTC(),
		"once":     req.Once,
	})
}

func (h *AgentHandler) unschedule(w http.ResponseWriter, r *http.Request, agentID string) {
	marketID := r.URL.Query().Get("market")
	if marketID == "" {
		WriteErrorMsg(w, http.StatusBadRequest, "VALIDATION", "market query parameter is required")
		return
	}
	if err := h.agents.Unschedule(r.Context(), agentID, marketID); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"agentId":  agentID,
		"marketId": marketID,
		"removed":  true,
	})
}

func (h *AgentHandler) pending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMsg(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	n, err := h.agents.Pending(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"pending": n})
}
