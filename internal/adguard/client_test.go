package adguard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/revive/internal/model"
)

func newTestClient(url string) *Client {
	return NewClient(Options{
		BaseURL:  url,
		Username: "admin",
		Password: "test-pass",
		Timeout:  2 * time.Second,
		Logger:   zerolog.Nop(),
	})
}

// ---------- ListClients ----------

func TestClient_ListClients_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/control/clients", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok, "expected basic auth")
		assert.Equal(t, "admin", user)
		assert.Equal(t, "test-pass", pass)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"clients":[{"name":"tablet","ids":["aa:bb:cc:dd:ee:01"],"blocked_services":["tiktok"],"upstreams":["1.1.1.1"]}],"auto_clients":[{"ip":"192.168.4.20"}]}`))
	}))
	defer srv.Close()

	list, err := newTestClient(srv.URL).ListClients(context.Background())
	require.NoError(t, err)
	require.Len(t, list.Clients, 1)
	assert.Equal(t, "tablet", list.Clients[0].String(FieldName))
	assert.Equal(t, []string{"tiktok"}, list.Clients[0].Strings(FieldBlockedServices))
	assert.Contains(t, list.Clients[0], "upstreams", "unknown fields are kept")
	assert.Len(t, list.AutoClients, 1)
}

func TestClient_ListClients_AuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("unauthorized"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ListClients(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.FailureEngineAuth, KindOf(err))
	assert.Contains(t, err.Error(), "status 401")
}

func TestClient_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		kind   model.FailureKind
	}{
		{http.StatusServiceUnavailable, model.FailureEngineUnreachable},
		{http.StatusInternalServerError, model.FailureEngineUnreachable},
		{http.StatusTooManyRequests, model.FailureEngineUnreachable},
		{http.StatusForbidden, model.FailureEngineAuth},
		{http.StatusBadRequest, model.FailureEngineRejected},
		{http.StatusUnprocessableEntity, model.FailureEngineRejected},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte("nope"))
			}))
			defer srv.Close()

			err := newTestClient(srv.URL).AddClient(context.Background(), Document{})
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).ListClients(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.FailureEngineUnreachable, KindOf(err))
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestClient(srv.URL).Stats(ctx)
	require.Error(t, err)
	assert.Equal(t, model.FailureConvergenceTimeout, KindOf(err))
}

// ---------- Writes ----------

func TestClient_UpdateClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/control/clients/update", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload struct {
			Name string         `json:"name"`
			Data map[string]any `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "tablet", payload.Name)
		assert.Equal(t, true, payload.Data["safesearch_enabled"])
		assert.Equal(t, []any{"1.1.1.1"}, payload.Data["upstreams"])

		w.Write([]byte("OK"))
	}))
	defer srv.Close()

	doc := Document{"name": json.RawMessage(`"tablet"`), "upstreams": json.RawMessage(`["1.1.1.1"]`)}
	require.NoError(t, doc.Set(FieldSafeSearchEnabled, true))

	err := newTestClient(srv.URL).UpdateClient(context.Background(), "tablet", doc)
	require.NoError(t, err)
}

func TestClient_AccessList(t *testing.T) {
	var stored []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/control/access/list":
			w.Write([]byte(`{"allowed_clients":[],"disallowed_clients":["10.0.0.9"],"blocked_hosts":["version.bind"]}`))
		case "/control/access/set":
			var err error
			stored, err = readAll(r)
			require.NoError(t, err)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	doc, err := c.AccessList(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.9"}, doc.Strings(FieldDisallowedClients))

	require.NoError(t, doc.Set(FieldDisallowedClients, []string{"10.0.0.9", "192.168.4.10"}))
	require.NoError(t, c.SetAccessList(context.Background(), doc))
	assert.JSONEq(t, `{"allowed_clients":[],"disallowed_clients":["10.0.0.9","192.168.4.10"],"blocked_hosts":["version.bind"]}`, string(stored))
}

// ---------- Stats ----------

func TestClient_Stats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/control/stats", r.URL.Path)
		w.Write([]byte(`{"num_dns_queries":1200,"num_blocked_filtering":75,"avg_processing_time":0.0042,"top_queried_domains":[]}`))
	}))
	defer srv.Close()

	stats, err := newTestClient(srv.URL).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1200), stats.NumDNSQueries)
	assert.Equal(t, int64(75), stats.NumBlockedFiltering)
	assert.InDelta(t, 0.0042, stats.AvgProcessingTime, 1e-9)
}

func TestClient_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>login</html>`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Stats(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.FailureEngineRejected, KindOf(err))
}

// ---------- Ping ----------

func TestClient_Ping(t *testing.T) {
	var status atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/control/status", r.URL.Path)
		if code := status.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		w.Write([]byte(`{"running":true,"version":"v0.107.0"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	require.NoError(t, c.Ping(context.Background()))

	status.Store(http.StatusForbidden)
	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.FailureEngineAuth, KindOf(err))
}
