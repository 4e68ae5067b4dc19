package backup

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/revive/internal/model"
)

type staticPolicies map[string]model.PolicyRecord

func (p staticPolicies) All() map[string]model.PolicyRecord { return p }

type staticDevices []model.Device

func (d staticDevices) List() []model.Device { return d }

type captured struct {
	mu     sync.Mutex
	method string
	path   string
	auth   string
	body   []byte
}

func newS3Server(t *testing.T, status int) (*httptest.Server, *captured) {
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		c.mu.Lock()
		c.method = r.Method
		c.path = r.URL.Path
		c.auth = r.Header.Get("Authorization")
		c.body = body
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func newTestExporter(url string) *Exporter {
	client := NewS3Client(url, "", "backup-key", "backup-secret")
	e := NewExporter(client, "household-backups", "home", time.Hour,
		staticPolicies{"aa:bb:cc:dd:ee:01": {BlockSocialMedia: true}},
		staticDevices{{MAC: "aa:bb:cc:dd:ee:01", Address: "192.168.4.10", DisplayName: "tablet"}},
		zerolog.Nop(),
	)
	e.now = func() time.Time { return time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC) }
	return e
}

func TestExport_UploadsSnapshot(t *testing.T) {
	srv, got := newS3Server(t, http.StatusOK)
	e := newTestExporter(srv.URL)

	require.NoError(t, e.Export(context.Background()))

	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Equal(t, http.MethodPut, got.method)
	assert.Equal(t, "/household-backups/revive/snapshot-latest.json", got.path)
	assert.True(t, strings.HasPrefix(got.auth, "AWS4-HMAC-SHA256 Credential=backup-key/"))

	var doc Document
	require.NoError(t, json.Unmarshal(got.body, &doc))
	assert.Equal(t, "home", doc.Household)
	assert.Equal(t, 1, doc.Version)
	assert.True(t, doc.Policies["aa:bb:cc:dd:ee:01"].BlockSocialMedia)
	assert.Equal(t, "tablet", doc.Devices["aa:bb:cc:dd:ee:01"].DisplayName)
}

func TestExport_ServerError(t *testing.T) {
	srv, _ := newS3Server(t, http.StatusForbidden)
	e := newTestExporter(srv.URL)

	err := e.Export(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "household-backups")
}

func TestRun_ExportsOnShutdown(t *testing.T) {
	srv, got := newS3Server(t, http.StatusOK)
	e := newTestExporter(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Run(ctx))

	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Equal(t, http.MethodPut, got.method)
}
