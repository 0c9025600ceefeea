package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"sessiond/internal/manager"
	"sessiond/pkg/types"
)

// decodeJSON enforces the content type and body limit shared by JSON
// endpoints. It writes the error response itself and reports success.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func sessionDTO(s manager.SessionInfo) types.Session {
	return types.Session{
		ID:             s.ID,
		ModelID:        s.ModelID,
		Provider:       s.Provider,
		Variant:        s.Variant,
		State:          string(s.State),
		ContextSize:    s.ContextSize,
		Threads:        s.Threads,
		Template:       s.Template,
		EstimatedBytes: s.EstimatedBytes,
		CreatedUnix:    s.CreatedAt.Unix(),
		LastUsedUnix:   s.LastAccessedAt.Unix(),
		QueueLen:       s.QueueLen,
		Inflight:       s.Inflight,
	}
}

func memoryDTO(st manager.MemoryStats) types.MemoryResponse {
	return types.MemoryResponse{ActiveSessions: st.ActiveSessions, TotalBytes: st.TotalBytes, BudgetBytes: st.BudgetBytes}
}

func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	var req types.CreateSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeJSONError(w, http.StatusBadRequest, "model is required")
		return
	}
	rl := beginRequestLog(r, "session", func(z *zerolog.Event) { z.Str("model", req.Model) })
	ctx, cancel := handlerContext(serverBaseCtx, r)
	defer cancel()
	id, err := h.svc.StartSession(ctx, req.Model, manager.SessionConfig{
		ContextSize: req.ContextSize,
		Threads:     req.Threads,
		Template:    req.Template,
	})
	if err != nil {
		rl.end("session", writeError(w, err), err)
		return
	}
	info, err := h.svc.Session(id)
	if err != nil {
		rl.end("session", writeError(w, err), err)
		return
	}
	writeJSON(w, http.StatusCreated, types.CreateSessionResponse{SessionID: id, Session: sessionDTO(info)})
	rl.end("session", http.StatusCreated, nil)
}

func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	infos := h.svc.Sessions()
	out := types.SessionsResponse{Sessions: make([]types.Session, 0, len(infos))}
	for _, s := range infos {
		out.Sessions = append(out.Sessions, sessionDTO(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.Session(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionDTO(info))
}

func (h *handlers) closeSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), closeTimeout)
	defer cancel()
	if err := h.svc.CloseSession(ctx, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cancel(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listModels(w http.ResponseWriter, r *http.Request) {
	models := h.svc.ListModels()
	if models == nil {
		models = []types.Model{}
	}
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: models})
}

func (h *handlers) capabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Capabilities())
}

func (h *handlers) memory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, memoryDTO(h.svc.MemoryStats()))
}

func (h *handlers) setBudget(w http.ResponseWriter, r *http.Request) {
	var req types.MemoryBudgetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.BudgetMB < 0 {
		writeJSONError(w, http.StatusBadRequest, "budget_mb must be >= 0")
		return
	}
	evicted := h.svc.SetMemoryBudget(req.BudgetMB << 20)
	if evicted == nil {
		evicted = []string{}
	}
	zlog.Info().Int64("budget_mb", req.BudgetMB).Strs("evicted", evicted).Msg("event=memory_budget_changed")
	writeJSON(w, http.StatusOK, types.MemoryBudgetResponse{MemoryResponse: memoryDTO(h.svc.MemoryStats()), Evicted: evicted})
}
