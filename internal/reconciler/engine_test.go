package reconciler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/edvin/revive/internal/adguard"
)

// fakeEngine is an in-memory stand-in for the engine control API.
type fakeEngine struct {
	t *testing.T

	mu      sync.Mutex
	clients []adguard.Document
	access  adguard.Document
	writes  int
	calls   int
	// failures holds status codes returned, in order, before normal
	// handling resumes.
	failures []int
	delay    time.Duration
}

func newFakeEngine(t *testing.T) (*fakeEngine, *httptest.Server) {
	e := &fakeEngine{
		t: t,
		access: adguard.Document{
			"allowed_clients":    json.RawMessage(`[]`),
			"disallowed_clients": json.RawMessage(`[]`),
			"blocked_hosts":      json.RawMessage(`["version.bind"]`),
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(e.serve))
	t.Cleanup(srv.Close)
	return e, srv
}

func (e *fakeEngine) client(srvURL string) *adguard.Client {
	return adguard.NewClient(adguard.Options{
		BaseURL:  srvURL,
		Username: "admin",
		Password: "secret",
		Timeout:  time.Second,
		Logger:   zerolog.Nop(),
	})
}

func (e *fakeEngine) serve(w http.ResponseWriter, r *http.Request) {
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-r.Context().Done():
			return
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++

	if len(e.failures) > 0 {
		status := e.failures[0]
		e.failures = e.failures[1:]
		http.Error(w, http.StatusText(status), status)
		return
	}

	switch r.Method + " " + r.URL.Path {
	case "GET /control/clients":
		writeJSON(e.t, w, map[string]any{"clients": e.clients, "auto_clients": []any{}})
	case "POST /control/clients/add":
		var doc adguard.Document
		require.NoError(e.t, json.NewDecoder(r.Body).Decode(&doc))
		e.clients = append(e.clients, doc)
		e.writes++
	case "POST /control/clients/update":
		var payload struct {
			Name string           `json:"name"`
			Data adguard.Document `json:"data"`
		}
		require.NoError(e.t, json.NewDecoder(r.Body).Decode(&payload))
		for i, c := range e.clients {
			if c.String(adguard.FieldName) == payload.Name {
				e.clients[i] = payload.Data
				e.writes++
				return
			}
		}
		http.Error(w, "client not found", http.StatusBadRequest)
	case "GET /control/access/list":
		writeJSON(e.t, w, e.access)
	case "POST /control/access/set":
		var doc adguard.Document
		require.NoError(e.t, json.NewDecoder(r.Body).Decode(&doc))
		e.access = doc
		e.writes++
	default:
		http.NotFound(w, r)
	}
}

func (e *fakeEngine) addClient(raw string) {
	var doc adguard.Document
	require.NoError(e.t, json.Unmarshal([]byte(raw), &doc))
	e.mu.Lock()
	e.clients = append(e.clients, doc)
	e.mu.Unlock()
}

func (e *fakeEngine) snapshot() ([]adguard.Document, adguard.Document, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]adguard.Document, len(e.clients))
	for i, c := range e.clients {
		out[i] = c.Clone()
	}
	return out, e.access.Clone(), e.writes
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}
