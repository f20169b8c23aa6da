package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger stores activities in an "activities" table
type PostgresLedger struct {
	pool *pgxpool.Pool
}

var _ Ledger = (*PostgresLedger)(nil)

// NewPostgres connects and ensures the table exists
func NewPostgres(ctx context.Context, dsn string) (*PostgresLedger, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	l := &PostgresLedger{pool: pool}
	if err := l.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

func (l *PostgresLedger) Close() {
	if l.pool != nil {
		l.pool.Close()
	}
}

func (l *PostgresLedger) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`create table if not exists activities (
			id text primary key,
			owner_id text not null,
			ts timestamptz not null default now(),
			type text not null,
			title text not null default '',
			body text not null default '',
			meta jsonb not null default '{}'::jsonb
		)`,
		`create index if not exists idx_activities_owner_ts on activities(owner_id, ts desc)`,
	}
	for _, s := range stmts {
		if _, err := l.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("ensureSchema: %w", err)
		}
	}
	return nil
}

func (l *PostgresLedger) Append(ctx context.Context, a Activity) (Activity, error) {
	a = prepare(a)
	meta, err := json.Marshal(a.Meta)
	if err != nil {
		return Activity{}, fmt.Errorf("marshal meta: %w", err)
	}
	_, err = l.pool.Exec(ctx,
		`insert into activities(id, owner_id, ts, type, title, body, meta) values($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, a.OwnerID, a.Timestamp, a.Type, a.Title, a.Body, meta,
	)
	if err != nil {
		return Activity{}, fmt.Errorf("insert activity: %w", err)
	}
	return a, nil
}

func (l *PostgresLedger) ListByOwner(ctx context.Context, ownerID string, limit int) ([]Activity, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx,
		`select id, owner_id, ts, type, title, body, meta
		 from activities where owner_id=$1 order by ts desc limit $2`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var (
			a    Activity
			meta []byte
		)
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Timestamp, &a.Type, &a.Title, &a.Body, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &a.Meta); err != nil {
				return nil, fmt.Errorf("decode meta for %s: %w", a.ID, err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
