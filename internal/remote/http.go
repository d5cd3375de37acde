package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"offline-sync-service/internal/config"
	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/store"
)

// HTTPBackend talks to a mobile backend's table endpoints:
// /tables/{name} for queries and inserts, /tables/{name}/{id} for updates and deletes.
type HTTPBackend struct {
	baseURL    string
	apiVersion string
	authToken  string
	client     *http.Client
}

func NewHTTPBackend(cfg config.RemoteConfig) *HTTPBackend {
	timeout := cfg.GetTimeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPBackend{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion: cfg.APIVersion,
		authToken:  cfg.AuthToken,
		client:     &http.Client{Timeout: timeout},
	}
}

func (b *HTTPBackend) Table(name string) (Table, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrUnknownTable)
	}
	return &httpTable{backend: b, name: name}, nil
}

type httpTable struct {
	backend *HTTPBackend
	name    string
}

// odataFilter renders an equality conjunction, e.g. (deleted eq false) and (sUSR_ID eq 'u1').
func odataFilter(filter store.Predicate) string {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		var lit string
		switch v := filter[k].(type) {
		case bool:
			lit = fmt.Sprintf("%t", v)
		case string:
			lit = "'" + strings.ReplaceAll(v, "'", "''") + "'"
		default:
			lit = "'" + strings.ReplaceAll(fmt.Sprint(v), "'", "''") + "'"
		}
		parts = append(parts, fmt.Sprintf("(%s eq %s)", k, lit))
	}
	return strings.Join(parts, " and ")
}

func (t *httpTable) Query(ctx context.Context, filter store.Predicate) ([]store.Record, error) {
	q := url.Values{}
	if f := odataFilter(filter); f != "" {
		q.Set("$filter", f)
	}
	// Tombstones must reach the local mirror.
	q.Set("__includeDeleted", "true")

	resp, err := t.do(ctx, http.MethodGet, "/tables/"+url.PathEscape(t.name)+"?"+q.Encode(), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, t.statusError(resp, "")
	}

	var records []store.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, unavailable(fmt.Errorf("decode %s query: %w", t.name, err))
	}
	return records, nil
}

func (t *httpTable) Apply(ctx context.Context, m store.PendingMutation) (store.Record, error) {
	version, _ := m.Record[store.VersionColumn].(string)
	body := m.Record.Clone()
	delete(body, store.VersionColumn)

	itemPath := "/tables/" + url.PathEscape(t.name) + "/" + url.PathEscape(m.RecordID)

	var resp *http.Response
	var err error
	switch m.Operation {
	case store.Insert:
		resp, err = t.do(ctx, http.MethodPost, "/tables/"+url.PathEscape(t.name), body, "")
	case store.Update:
		resp, err = t.do(ctx, http.MethodPatch, itemPath, body, version)
	case store.Delete:
		resp, err = t.do(ctx, http.MethodDelete, itemPath, nil, version)
	default:
		return nil, &RejectedError{Table: t.name, RecordID: m.RecordID, Message: "unknown operation " + string(m.Operation)}
	}
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		// No row came back, so there is no new version to adopt. The local
		// one is dropped rather than reported as current.
		rec := m.Record.Clone()
		delete(rec, store.VersionColumn)
		if m.Operation == store.Delete {
			rec[store.DeletedColumn] = true
		}
		return rec, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var rec store.Record
		if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
			return nil, unavailable(fmt.Errorf("decode %s response: %w", t.name, err))
		}
		return rec, nil
	default:
		return nil, t.statusError(resp, m.RecordID)
	}
}

func (t *httpTable) statusError(resp *http.Response, id string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusPreconditionFailed:
		var server store.Record
		if err := json.Unmarshal(raw, &server); err != nil {
			server = nil
		}
		return &ConflictError{Table: t.name, RecordID: id, Server: server}
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout:
		return unavailable(fmt.Errorf("%s: status %d", t.name, resp.StatusCode))
	default:
		return &RejectedError{Table: t.name, RecordID: id, Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
}

func (t *httpTable) do(ctx context.Context, method, path string, body store.Record, ifMatch string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.backend.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.backend.apiVersion != "" {
		req.Header.Set("ZUMO-API-VERSION", t.backend.apiVersion)
	}
	if t.backend.authToken != "" {
		req.Header.Set("X-ZUMO-AUTH", t.backend.authToken)
	}
	if ifMatch != "" {
		req.Header.Set("If-Match", `"`+ifMatch+`"`)
	}

	resp, err := t.backend.client.Do(req)
	if err != nil {
		logger.Log.Warn("Remote request failed",
			zap.String("method", method),
			zap.String("table", t.name),
			zap.Error(err),
		)
		return nil, unavailable(err)
	}
	return resp, nil
}

var _ Backend = (*HTTPBackend)(nil)
