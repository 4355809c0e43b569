package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"

	"github.com/voyagen/iptvwatch/internal/models"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	// sqliteTimeLayout sorts lexically in time order.
	sqliteTimeLayout = "2006-01-02 15:04:05"
)

const entryColumns = `id, name, group_name, icon, url, user_agent, active, checktime, lastonline`

func init() {
	// SQLite lower() folds ASCII only.
	sqlite.MustRegisterDeterministicScalarFunction("ulower", 1, unicodeLower)
}

func unicodeLower(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return v, nil
	}
}

// SQLite implements Store on a single database file in WAL mode.
type SQLite struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

func sqliteDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
}

// NewSQLite opens the catalog file at path. The schema must already exist
// (see RunSQLiteMigrations). Caller must call Close when done.
func NewSQLite(ctx context.Context, path string, opts ...Option) (*SQLite, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	o := buildOptions(opts)
	return &SQLite{db: db, path: path, now: o.now}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy reruns op with exponential backoff while SQLite reports the
// database as locked by another writer.
func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(sqliteTimeLayout, ns.String, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parse time %q: %w", ns.String, err)
	}
	return &t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (models.Entry, error) {
	var (
		e                     models.Entry
		icon, ua              sql.NullString
		active                sql.NullBool
		checktime, lastonline sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Name, &e.Group, &icon, &e.URL, &ua, &active, &checktime, &lastonline); err != nil {
		return e, err
	}
	if icon.Valid {
		e.Icon = &icon.String
	}
	if ua.Valid {
		e.UserAgent = &ua.String
	}
	if active.Valid {
		e.Active = &active.Bool
	}
	var err error
	if e.CheckTime, err = parseSQLiteTime(checktime); err != nil {
		return e, err
	}
	if e.LastOnline, err = parseSQLiteTime(lastonline); err != nil {
		return e, err
	}
	return e, nil
}

func (s *SQLite) queryEntries(ctx context.Context, query string, args ...any) ([]models.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Entry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Upsert applies the whole batch in one transaction.
func (s *SQLite) Upsert(ctx context.Context, entries []models.Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	var inserted int
	err := retryOnBusy(ctx, func() error {
		inserted = 0
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		for i := range entries {
			ok, err := upsertSQLiteEntry(ctx, tx, &entries[i])
			if err != nil {
				return err
			}
			if ok {
				inserted++
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("Upsert: %w", err)
	}
	return inserted, nil
}

func upsertSQLiteEntry(ctx context.Context, tx *sql.Tx, e *models.Entry) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE playlist SET name = ?, group_name = ?, icon = ?, user_agent = ? WHERE url = ?`,
		e.Name, e.Group, e.Icon, e.UserAgent, e.URL,
	)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, err
	} else if n > 0 {
		return false, nil
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO playlist (name, group_name, icon, url, user_agent) VALUES (?, ?, ?, ?, ?)`,
		e.Name, e.Group, e.Icon, e.URL, e.UserAgent,
	)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLite) SelectStale(ctx context.Context, limit int, staleAfter time.Duration) ([]models.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	cutoff := formatSQLiteTime(s.now().Add(-staleAfter))
	entries, err := s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM playlist
		 WHERE checktime IS NULL OR checktime < ?
		 ORDER BY checktime IS NOT NULL, checktime, id
		 LIMIT ?`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("SelectStale: %w", err)
	}
	return entries, nil
}

func (s *SQLite) RecordCheckResult(ctx context.Context, id int64, alive bool, at time.Time) error {
	return recordSQLiteResult(ctx, s.db, id, alive, at)
}

func recordSQLiteResult(ctx context.Context, db execer, id int64, alive bool, at time.Time) error {
	ts := formatSQLiteTime(at)
	var (
		query string
		args  []any
	)
	if alive {
		query = `UPDATE playlist SET active = 1, checktime = ?,
		         lastonline = CASE WHEN lastonline IS NULL OR lastonline < ? THEN ? ELSE lastonline END
		         WHERE id = ?`
		args = []any{ts, ts, ts, id}
	} else {
		query = `UPDATE playlist SET active = 0, checktime = ? WHERE id = ?`
		args = []any{ts, id}
	}
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("RecordCheckResult: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("RecordCheckResult %d: %w", id, ErrNotFound)
	}
	return nil
}

// sqliteResultWriter holds one pooled connection for the life of a worker.
type sqliteResultWriter struct {
	conn *sql.Conn
}

func (s *SQLite) ResultWriter(ctx context.Context) (ResultWriter, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("ResultWriter: %w", err)
	}
	return &sqliteResultWriter{conn: conn}, nil
}

func (w *sqliteResultWriter) RecordCheckResult(ctx context.Context, id int64, alive bool, at time.Time) error {
	return recordSQLiteResult(ctx, w.conn, id, alive, at)
}

func (w *sqliteResultWriter) Close() error {
	return w.conn.Close()
}

func (s *SQLite) SelectActive(ctx context.Context) ([]models.Entry, error) {
	entries, err := s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM playlist WHERE active = 1 ORDER BY group_name, name, id`)
	if err != nil {
		return nil, fmt.Errorf("SelectActive: %w", err)
	}
	return entries, nil
}

func (s *SQLite) PruneDead(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := formatSQLiteTime(s.now().Add(-retention))
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx,
			`DELETE FROM playlist
			 WHERE active = 0 AND checktime IS NOT NULL
			   AND (lastonline IS NULL OR lastonline < ?)`,
			cutoff,
		)
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("PruneDead: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("PruneDead: %w", err)
	}
	return n, nil
}

func (s *SQLite) GetEntryByID(ctx context.Context, id int64) (*models.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM playlist WHERE id = ?`, id)
	e, err := scanSQLiteEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetEntryByID: %w", err)
	}
	return &e, nil
}

func (s *SQLite) ListEntries(ctx context.Context, filter EntryFilter) ([]models.Entry, int, error) {
	f := filter.normalized()
	var (
		where []string
		args  []any
	)
	switch f.Status {
	case models.StatusActive:
		where = append(where, "active = 1")
	case models.StatusDead:
		where = append(where, "active = 0")
	case models.StatusUnchecked:
		where = append(where, "active IS NULL")
	}
	if f.Group != "" {
		where = append(where, "group_name = ?")
		args = append(args, f.Group)
	}
	if f.Search != "" {
		where = append(where, "ulower(name) LIKE ?")
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM playlist`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEntries count: %w", err)
	}
	entries, err := s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM playlist`+clause+` ORDER BY group_name, name, id LIMIT ? OFFSET ?`,
		append(args, f.Limit, f.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEntries: %w", err)
	}
	return entries, total, nil
}

func (s *SQLite) GroupStats(ctx context.Context) ([]models.GroupStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_name,
		        count(*),
		        coalesce(sum(active = 1), 0),
		        coalesce(sum(active = 0), 0),
		        coalesce(sum(active IS NULL), 0),
		        max(checktime)
		 FROM playlist GROUP BY group_name ORDER BY group_name`)
	if err != nil {
		return nil, fmt.Errorf("GroupStats: %w", err)
	}
	defer rows.Close()
	var out []models.GroupStats
	for rows.Next() {
		var (
			g    models.GroupStats
			last sql.NullString
		)
		if err := rows.Scan(&g.Name, &g.Total, &g.Active, &g.Dead, &g.Unchecked, &last); err != nil {
			return nil, fmt.Errorf("GroupStats scan: %w", err)
		}
		if g.LastChecked, err = parseSQLiteTime(last); err != nil {
			return nil, fmt.Errorf("GroupStats: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
