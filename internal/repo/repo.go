package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"todoline/internal/events"
	"todoline/internal/kv"
)

// Repo is the SQLite key/value backend behind the persistence adapter, plus
// read access to the event journal.
type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = kv.ErrNotFound

func (r Repo) now() string {
	if r.Now != nil {
		return r.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func (r Repo) Put(ctx context.Context, key string, value []byte) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO kv(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, key, string(value), r.now())
	return err
}

func (r Repo) Get(ctx context.Context, key string) ([]byte, error) {
	var v string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(v), nil
}

// Delete removes key. A missing key is not an error.
func (r Repo) Delete(ctx context.Context, key string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM kv WHERE key=?`, key)
	return err
}

// ScanPrefix returns the values of every key starting with prefix, ordered by key.
func (r Repo) ScanPrefix(ctx context.Context, prefix string) ([][]byte, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT value FROM kv WHERE substr(key,1,?)=? ORDER BY key`, utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res [][]byte
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		res = append(res, []byte(v))
	}
	return res, rows.Err()
}

func (r Repo) CountKeys(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv`).Scan(&n)
	return n, err
}

// EventFilter narrows LatestEvents. Zero values match everything.
type EventFilter struct {
	Type       string
	EntityKind string
	EntityID   string
}

func (r Repo) LatestEvents(ctx context.Context, limit int, f EventFilter) ([]events.Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []events.Entry
	for rows.Next() {
		var e events.Entry
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
