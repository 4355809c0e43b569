package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/voyagen/iptvwatch/internal/models"
)

// defaultMaxConns leaves room for one dedicated connection per check worker
// plus request traffic. An explicit pool_max_conns in the DSN wins.
const defaultMaxConns = 32

// Postgres implements Store using PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgres creates a Postgres store from a DSN. Caller must call Close when done.
func NewPostgres(ctx context.Context, dsn string, opts ...Option) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.ParseConfig: %w", err)
	}
	if !strings.Contains(dsn, "pool_max_conns") {
		cfg.MaxConns = defaultMaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	o := buildOptions(opts)
	return &Postgres{pool: pool, now: o.now}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func scanPgEntry(row pgx.Row) (models.Entry, error) {
	var e models.Entry
	err := row.Scan(&e.ID, &e.Name, &e.Group, &e.Icon, &e.URL, &e.UserAgent, &e.Active, &e.CheckTime, &e.LastOnline)
	return e, err
}

func (p *Postgres) queryEntries(ctx context.Context, query string, args ...any) ([]models.Entry, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Entry
	for rows.Next() {
		e, err := scanPgEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Upsert applies the whole batch in one transaction. xmax is zero only on
// freshly inserted tuples, which yields the inserted count.
func (p *Postgres) Upsert(ctx context.Context, entries []models.Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("Upsert begin: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for i := range entries {
		e := &entries[i]
		var isNew bool
		err := tx.QueryRow(ctx,
			`INSERT INTO playlist (name, group_name, icon, url, user_agent)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (url) DO UPDATE SET
			   name = EXCLUDED.name, group_name = EXCLUDED.group_name,
			   icon = EXCLUDED.icon, user_agent = EXCLUDED.user_agent
			 RETURNING (xmax = 0)`,
			e.Name, e.Group, e.Icon, e.URL, e.UserAgent,
		).Scan(&isNew)
		if err != nil {
			return 0, fmt.Errorf("Upsert %s: %w", e.URL, err)
		}
		if isNew {
			inserted++
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("Upsert commit: %w", err)
	}
	return inserted, nil
}

func (p *Postgres) SelectStale(ctx context.Context, limit int, staleAfter time.Duration) ([]models.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	entries, err := p.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM playlist
		 WHERE checktime IS NULL OR checktime < $1
		 ORDER BY checktime NULLS FIRST, id
		 LIMIT $2`,
		p.now().Add(-staleAfter), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("SelectStale: %w", err)
	}
	return entries, nil
}

// pgExecer is satisfied by both *pgxpool.Pool and *pgxpool.Conn.
type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (p *Postgres) RecordCheckResult(ctx context.Context, id int64, alive bool, at time.Time) error {
	return recordPgResult(ctx, p.pool, id, alive, at)
}

func recordPgResult(ctx context.Context, db pgExecer, id int64, alive bool, at time.Time) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if alive {
		tag, err = db.Exec(ctx,
			`UPDATE playlist SET active = true, checktime = $1, lastonline = GREATEST(lastonline, $1)
			 WHERE id = $2`, at, id)
	} else {
		tag, err = db.Exec(ctx, `UPDATE playlist SET active = false, checktime = $1 WHERE id = $2`, at, id)
	}
	if err != nil {
		return fmt.Errorf("RecordCheckResult: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("RecordCheckResult %d: %w", id, ErrNotFound)
	}
	return nil
}

type pgResultWriter struct {
	conn *pgxpool.Conn
}

func (p *Postgres) ResultWriter(ctx context.Context) (ResultWriter, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("ResultWriter: %w", err)
	}
	return &pgResultWriter{conn: conn}, nil
}

func (w *pgResultWriter) RecordCheckResult(ctx context.Context, id int64, alive bool, at time.Time) error {
	return recordPgResult(ctx, w.conn, id, alive, at)
}

func (w *pgResultWriter) Close() error {
	w.conn.Release()
	return nil
}

func (p *Postgres) SelectActive(ctx context.Context) ([]models.Entry, error) {
	entries, err := p.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM playlist WHERE active = true ORDER BY group_name, name, id`)
	if err != nil {
		return nil, fmt.Errorf("SelectActive: %w", err)
	}
	return entries, nil
}

func (p *Postgres) PruneDead(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM playlist
		 WHERE active = false AND checktime IS NOT NULL
		   AND (lastonline IS NULL OR lastonline < $1)`,
		p.now().Add(-retention),
	)
	if err != nil {
		return 0, fmt.Errorf("PruneDead: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) GetEntryByID(ctx context.Context, id int64) (*models.Entry, error) {
	e, err := scanPgEntry(p.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM playlist WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetEntryByID: %w", err)
	}
	return &e, nil
}

func (p *Postgres) ListEntries(ctx context.Context, filter EntryFilter) ([]models.Entry, int, error) {
	f := filter.normalized()
	var (
		where []string
		args  []any
	)
	switch f.Status {
	case models.StatusActive:
		where = append(where, "active = true")
	case models.StatusDead:
		where = append(where, "active = false")
	case models.StatusUnchecked:
		where = append(where, "active IS NULL")
	}
	if f.Group != "" {
		args = append(args, f.Group)
		where = append(where, fmt.Sprintf("group_name = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where = append(where, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM playlist`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEntries count: %w", err)
	}
	n := len(args)
	entries, err := p.queryEntries(ctx,
		fmt.Sprintf(`SELECT %s FROM playlist%s ORDER BY group_name, name, id LIMIT $%d OFFSET $%d`,
			entryColumns, clause, n+1, n+2),
		append(args, f.Limit, f.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEntries: %w", err)
	}
	return entries, total, nil
}

func (p *Postgres) GroupStats(ctx context.Context) ([]models.GroupStats, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT group_name,
		        count(*),
		        count(*) FILTER (WHERE active),
		        count(*) FILTER (WHERE NOT active),
		        count(*) FILTER (WHERE active IS NULL),
		        max(checktime)
		 FROM playlist GROUP BY group_name ORDER BY group_name`)
	if err != nil {
		return nil, fmt.Errorf("GroupStats: %w", err)
	}
	defer rows.Close()
	var out []models.GroupStats
	for rows.Next() {
		var g models.GroupStats
		if err := rows.Scan(&g.Name, &g.Total, &g.Active, &g.Dead, &g.Unchecked, &g.LastChecked); err != nil {
			return nil, fmt.Errorf("GroupStats scan: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
