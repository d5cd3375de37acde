package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/store"
	"offline-sync-service/internal/sync"
)

type writeResponse struct {
	Record store.Record     `json:"record"`
	Push   *sync.PushResult `json:"push,omitempty"`
}

func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	st := h.syncManager.Store()
	out := make([]store.TableSchema, 0)
	for _, name := range st.Tables() {
		s, err := st.Schema(name)
		if err != nil {
			respondErr(w, err)
			return
		}
		out = append(out, s)
	}
	writeJSON(w, http.StatusOK, out)
}

// ReadRecords lists rows matching the query string, e.g.
// ?deleted=false&sUSR_ID=u1. With refresh=true the table is pulled first;
// a failed refresh still serves the local rows.
func (h *Handler) ReadRecords(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	pred := predicate(r, "refresh")

	if boolParam(r, "refresh") && h.syncManager.Offline() {
		res, err := h.syncManager.PullTable(r.Context(), table, pred)
		switch {
		case errors.Is(err, sync.ErrSyncInProgress):
			logger.Log.Info("Refresh skipped, sync in progress", zap.String("table", table))
		case err != nil:
			respondErr(w, err)
			return
		case res.Err != nil:
			logger.Log.Warn("Refresh failed, serving local rows", zap.String("table", table), zap.Error(res.Err))
		}
	}

	rows, err := h.syncManager.Read(r.Context(), table, pred)
	if err != nil {
		respondErr(w, err)
		return
	}
	if rows == nil {
		rows = []store.Record{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	row, err := h.syncManager.Get(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (h *Handler) InsertRecord(w http.ResponseWriter, r *http.Request) {
	rec, ok := decodeRecord(w, r)
	if !ok {
		return
	}
	h.write(w, r, rec, store.Insert, http.StatusCreated)
}

func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	rec, ok := decodeRecord(w, r)
	if !ok {
		return
	}
	if !h.bindID(w, r, rec) {
		return
	}
	h.write(w, r, rec, store.Update, http.StatusOK)
}

// DeleteRecord soft-deletes the row; it stays readable with deleted=true.
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	rec := store.Record{}
	if !h.bindID(w, r, rec) {
		return
	}
	h.write(w, r, rec, store.Delete, http.StatusOK)
}

func (h *Handler) bindID(w http.ResponseWriter, r *http.Request, rec store.Record) bool {
	schema, err := h.syncManager.Store().Schema(chi.URLParam(r, "table"))
	if err != nil {
		respondErr(w, err)
		return false
	}
	rec[schema.PrimaryKey] = chi.URLParam(r, "id")
	return true
}

// write applies one change. With push=true an offline write is pushed right
// away and the push outcome is returned alongside the row.
func (h *Handler) write(w http.ResponseWriter, r *http.Request, rec store.Record, op store.Operation, status int) {
	row, err := h.syncManager.Write(r.Context(), chi.URLParam(r, "table"), rec, op)
	if err != nil {
		respondErr(w, err)
		return
	}

	resp := writeResponse{Record: row}
	if boolParam(r, "push") && h.syncManager.Offline() {
		res, err := h.syncManager.Push(r.Context())
		if err != nil && !errors.Is(err, sync.ErrSyncInProgress) {
			respondErr(w, err)
			return
		}
		if err == nil {
			resp.Push = &res
		}
	}
	writeJSON(w, status, resp)
}

func decodeRecord(w http.ResponseWriter, r *http.Request) (store.Record, bool) {
	var rec store.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return nil, false
	}
	if rec == nil {
		rec = store.Record{}
	}
	return rec, true
}
