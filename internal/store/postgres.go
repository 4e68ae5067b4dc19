package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/revive/internal/model"
)

// DB is the subset of pgxpool.Pool used by the Postgres backend.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores each record as a JSONB document so that fields
// added by newer versions survive a downgrade untouched.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Load(ctx context.Context) (*Snapshot, error) {
	snap := newSnapshot()

	rows, err := r.db.Query(ctx, `SELECT mac, doc FROM policies ORDER BY mac`)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	for rows.Next() {
		var (
			mac string
			doc []byte
		)
		if err := rows.Scan(&mac, &doc); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		var rec model.PolicyRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: policy %s: %v", ErrCorrupt, mac, err)
		}
		snap.Policies[mac] = rec
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policies: %w", err)
	}

	rows, err = r.db.Query(ctx, `SELECT mac, doc FROM devices ORDER BY mac`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			mac string
			doc []byte
		)
		if err := rows.Scan(&mac, &doc); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		var d model.Device
		if err := json.Unmarshal(doc, &d); err != nil {
			return nil, fmt.Errorf("%w: device %s: %v", ErrCorrupt, mac, err)
		}
		d.MAC = mac
		snap.Devices[mac] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}

	return snap, nil
}

func (r *PostgresRepository) SavePolicy(ctx context.Context, mac string, rec model.PolicyRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode policy %s: %w", mac, err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO policies (mac, doc, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (mac) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		mac, string(doc),
	)
	if err != nil {
		return fmt.Errorf("upsert policy %s: %w", mac, err)
	}
	return nil
}

func (r *PostgresRepository) DeletePolicy(ctx context.Context, mac string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM policies WHERE mac = $1`, mac); err != nil {
		return fmt.Errorf("delete policy %s: %w", mac, err)
	}
	return nil
}

func (r *PostgresRepository) SaveDevice(ctx context.Context, d model.Device) error {
	doc, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode device %s: %w", d.MAC, err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO devices (mac, doc, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (mac) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		d.MAC, string(doc),
	)
	if err != nil {
		return fmt.Errorf("upsert device %s: %w", d.MAC, err)
	}
	return nil
}
