package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"offline-sync-service/internal/store"
)

func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	res, err := h.syncManager.Push(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Pull pulls one table; query-string parameters narrow the configured filter.
func (h *Handler) Pull(w http.ResponseWriter, r *http.Request) {
	res, err := h.syncManager.PullTable(r.Context(), chi.URLParam(r, "table"), predicate(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	res, err := h.syncManager.SyncAll(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.syncManager.GetStatus(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.syncManager.Store().Pending(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	if pending == nil {
		pending = []store.PendingMutation{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (h *Handler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.syncManager.Store().ListConflicts(r.Context(),
		boolParam(r, "resolved"), intParam(r, "limit", 50), intParam(r, "offset", 0))
	if err != nil {
		respondErr(w, err)
		return
	}
	if conflicts == nil {
		conflicts = []*store.Conflict{}
	}
	writeJSON(w, http.StatusOK, conflicts)
}

// ResolveConflict lets an operator close a conflict by hand, e.g. after
// re-entering the lost edit.
func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	strategy := r.URL.Query().Get("strategy")
	if strategy == "" {
		strategy = "manual"
	}
	if err := h.syncManager.Store().ResolveConflict(r.Context(), chi.URLParam(r, "id"), strategy); err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved", "strategy": strategy})
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.syncManager.Store().GetSyncHistory(r.Context(), intParam(r, "limit", 20), intParam(r, "offset", 0))
	if err != nil {
		respondErr(w, err)
		return
	}
	if history == nil {
		history = []*store.SyncHistory{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) StartRealtime(w http.ResponseWriter, r *http.Request) {
	if err := h.syncManager.Start(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (h *Handler) StopRealtime(w http.ResponseWriter, r *http.Request) {
	h.syncManager.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}
