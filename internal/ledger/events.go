package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oursynth/capsule/internal/canonical"
)

// Kind names a capsule lifecycle event.
type Kind string

const (
	KindPacked       Kind = "packed"
	KindUnpacked     Kind = "unpacked"
	KindVerifyFailed Kind = "verify_failed"
	KindDeployed     Kind = "deployed"
	KindDeployFailed Kind = "deploy_failed"
)

// Kinds lists every valid event kind in lifecycle order.
var Kinds = []Kind{KindPacked, KindUnpacked, KindVerifyFailed, KindDeployed, KindDeployFailed}

// Valid reports whether k is a known event kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Event is one ledger row. Seq, ID and RecordedAt are assigned by Append.
type Event struct {
	Seq        int64          `json:"seq"`
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	CapsuleID  string         `json:"capsuleId,omitempty"`
	Hash       string         `json:"hash,omitempty"`
	Path       string         `json:"path,omitempty"`
	Env        string         `json:"env,omitempty"`
	Detail     map[string]any `json:"detail"`
	RecordedAt time.Time      `json:"recordedAt"`
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	CapsuleID string
	Kind      Kind
	Hash      string
	// Limit keeps only the most recent N matching events. Results are
	// still returned in ascending seq order.
	Limit int
}

// Append records ev and returns it with Seq, ID and RecordedAt filled in.
// A caller-provided ID is kept; duplicates are rejected by the database.
func (l *Ledger) Append(ctx context.Context, ev Event) (Event, error) {
	if !ev.Kind.Valid() {
		return Event{}, fmt.Errorf("append event: unknown kind %q", ev.Kind)
	}
	if ev.ID == "" {
		ev.ID = l.ids.Generate()
	}
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = l.clock()
	}
	ev.RecordedAt = ev.RecordedAt.UTC()
	if ev.Detail == nil {
		ev.Detail = map[string]any{}
	}

	detail, err := canonical.Marshal(ev.Detail)
	if err != nil {
		return Event{}, fmt.Errorf("marshal detail: %w", err)
	}

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO events (id, kind, capsule_id, hash, path, env, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, string(ev.Kind), ev.CapsuleID, ev.Hash, ev.Path, ev.Env, string(detail),
		ev.RecordedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Event{}, fmt.Errorf("insert event %s: %w", ev.ID, err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return Event{}, fmt.Errorf("event seq: %w", err)
	}
	ev.Seq = seq
	return ev, nil
}

// List returns events matching f.
// Results are ordered deterministically: ORDER BY seq ASC, id COLLATE BINARY ASC.
//
// Returns an empty slice (not nil) if nothing matches.
func (l *Ledger) List(ctx context.Context, f Filter) ([]Event, error) {
	var (
		where []string
		args  []any
	)
	if f.CapsuleID != "" {
		where = append(where, "capsule_id = ?")
		args = append(args, f.CapsuleID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Hash != "" {
		where = append(where, "hash = ?")
		args = append(args, f.Hash)
	}

	query := `SELECT seq, id, kind, capsule_id, hash, path, env, detail, recorded_at FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Limit > 0 {
		query = `SELECT * FROM (` + query + ` ORDER BY seq DESC LIMIT ?)`
		args = append(args, f.Limit)
	}
	query += " ORDER BY seq ASC, id COLLATE BINARY ASC"

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	// Return empty slice instead of nil
	if events == nil {
		events = []Event{}
	}
	return events, nil
}

// Get returns a single event by id, or sql.ErrNoRows wrapped if absent.
func (l *Ledger) Get(ctx context.Context, id string) (Event, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT seq, id, kind, capsule_id, hash, path, env, detail, recorded_at
		FROM events WHERE id = ?
	`, id)
	ev, err := scanEvent(row)
	if err != nil {
		return Event{}, fmt.Errorf("get event %s: %w", id, err)
	}
	return ev, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (Event, error) {
	var (
		ev         Event
		kind       string
		detail     string
		recordedAt string
	)
	if err := s.Scan(&ev.Seq, &ev.ID, &kind, &ev.CapsuleID, &ev.Hash, &ev.Path, &ev.Env, &detail, &recordedAt); err != nil {
		if err == sql.ErrNoRows {
			return Event{}, err
		}
		return Event{}, fmt.Errorf("scan event: %w", err)
	}
	ev.Kind = Kind(kind)

	if err := json.Unmarshal([]byte(detail), &ev.Detail); err != nil {
		return Event{}, fmt.Errorf("unmarshal detail for %s: %w", ev.ID, err)
	}
	if ev.Detail == nil {
		ev.Detail = map[string]any{}
	}

	t, err := time.Parse(time.RFC3339Nano, recordedAt)
	if err != nil {
		return Event{}, fmt.Errorf("parse recorded_at for %s: %w", ev.ID, err)
	}
	ev.RecordedAt = t
	return ev, nil
}
