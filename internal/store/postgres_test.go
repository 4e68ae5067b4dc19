package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/revive/internal/model"
)

// ---------- Load ----------

func TestPostgresRepository_Load(t *testing.T) {
	db := &mockDB{}
	repo := NewPostgresRepository(db)
	ctx := context.Background()

	policyRows := newMockRows(
		docRow("aa:bb:cc:dd:ee:01", `{"block_social_media":true,"bedtime":{"start":"21:30","end":"07:00"},"unknown":1}`),
	)
	deviceRows := newMockRows(
		docRow("aa:bb:cc:dd:ee:01", `{"address":"192.168.4.10","display_name":"Tablet"}`),
	)
	db.On("Query", ctx, mock.MatchedBy(func(q string) bool { return q == `SELECT mac, doc FROM policies ORDER BY mac` }), mock.Anything).Return(policyRows, nil)
	db.On("Query", ctx, mock.MatchedBy(func(q string) bool { return q == `SELECT mac, doc FROM devices ORDER BY mac` }), mock.Anything).Return(deviceRows, nil)

	snap, err := repo.Load(ctx)
	require.NoError(t, err)

	rec := snap.Policies["aa:bb:cc:dd:ee:01"]
	assert.True(t, rec.BlockSocialMedia)
	require.NotNil(t, rec.Bedtime)
	assert.Equal(t, "21:30", rec.Bedtime.Start.String())

	dev := snap.Devices["aa:bb:cc:dd:ee:01"]
	assert.Equal(t, "aa:bb:cc:dd:ee:01", dev.MAC)
	assert.Equal(t, "Tablet", dev.DisplayName)
	db.AssertExpectations(t)
}

func TestPostgresRepository_Load_CorruptDoc(t *testing.T) {
	db := &mockDB{}
	repo := NewPostgresRepository(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows(docRow("aa:bb:cc:dd:ee:01", `{"bedtime":{"start":"25:99"}}`)), nil).Once()

	_, err := repo.Load(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestPostgresRepository_Load_QueryError(t *testing.T) {
	db := &mockDB{}
	repo := NewPostgresRepository(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(nil, errors.New("connection refused"))

	_, err := repo.Load(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list policies")
	assert.False(t, errors.Is(err, ErrCorrupt))
}

// ---------- SavePolicy ----------

func TestPostgresRepository_SavePolicy(t *testing.T) {
	db := &mockDB{}
	repo := NewPostgresRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 2 && args[0] == "aa:bb:cc:dd:ee:01" && args[1] == `{"block_social_media":false,"safe_search":true,"bedtime_active_override":false,"updated_at":"0001-01-01T00:00:00Z"}`
	})).Return(pgconn.CommandTag{}, nil)

	err := repo.SavePolicy(ctx, "aa:bb:cc:dd:ee:01", model.PolicyRecord{SafeSearch: true})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestPostgresRepository_SavePolicy_Error(t *testing.T) {
	db := &mockDB{}
	repo := NewPostgresRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, errors.New("db error"))

	err := repo.SavePolicy(ctx, "aa:bb:cc:dd:ee:01", model.PolicyRecord{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert policy aa:bb:cc:dd:ee:01")
}

// ---------- Devices ----------

func TestPostgresRepository_SaveDeviceAndDeletePolicy(t *testing.T) {
	db := &mockDB{}
	repo := NewPostgresRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	require.NoError(t, repo.SaveDevice(ctx, model.Device{MAC: "aa:bb:cc:dd:ee:01", DisplayName: "TV"}))
	require.NoError(t, repo.DeletePolicy(ctx, "aa:bb:cc:dd:ee:01"))
	db.AssertNumberOfCalls(t, "Exec", 2)
}
