package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/remote"
	"offline-sync-service/internal/store"
	"offline-sync-service/internal/sync"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warn("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrTableNotFound),
		errors.Is(err, store.ErrRecordNotFound),
		errors.Is(err, store.ErrConflictNotFound),
		errors.Is(err, remote.ErrUnknownTable):
		return http.StatusNotFound
	case errors.Is(err, store.ErrSchema),
		errors.Is(err, store.ErrInvalidRecord),
		errors.Is(err, store.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrRecordExists),
		errors.Is(err, remote.ErrConflict),
		errors.Is(err, sync.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, remote.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, remote.ErrRemoteUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, sync.ErrNotInitialized):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Log.Error("Request failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func intParam(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func boolParam(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

// predicate turns query-string parameters into column constraints. The
// listed control parameters are skipped.
func predicate(r *http.Request, control ...string) store.Predicate {
	skip := make(map[string]bool, len(control))
	for _, c := range control {
		skip[c] = true
	}
	pred := store.Predicate{}
	for k, vs := range r.URL.Query() {
		if skip[k] || len(vs) == 0 {
			continue
		}
		pred[k] = vs[0]
	}
	return pred
}
