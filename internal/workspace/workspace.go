// Package workspace persists one event's labeled stream sets, metrics and
// provenance in a SQLite file.
//
// A workspace holds the raw label "unprocessed" plus at most one processed
// label. ActiveLabel is the single place that invariant is checked.
package workspace

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gmbatch/internal/event"
	"gmbatch/internal/stream"

	_ "modernc.org/sqlite"
)

// RawLabel is the reserved label of unprocessed stream sets.
const RawLabel = "unprocessed"

// FileName is the workspace file inside an event directory.
const FileName = "workspace.db"

// PathFor returns OUTDIR/<id>/workspace.db.
func PathFor(outdir, eventID string) string {
	return filepath.Join(outdir, eventID, FileName)
}

// Workspace is an open handle. Close must be called exactly once.
type Workspace struct {
	path string

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

func nowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

// Open opens an existing workspace.
func Open(path string) (*Workspace, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	return openDB(path)
}

// Create opens the workspace at path, creating the file and its directory if
// needed.
func Create(path string) (*Workspace, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}
	return openDB(path)
}

func openDB(path string) (*Workspace, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	w := &Workspace{path: path, db: db}
	if err := w.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Workspace) migrate() error {
	var tableCount int
	err := w.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableCount == 0 {
		if _, err := w.db.Exec(schemaV1); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := w.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	}
	var v int
	if err := w.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v != schemaVersion {
		return fmt.Errorf("workspace %s: unknown schema version %d", w.path, v)
	}
	return nil
}

// Path returns the workspace file path.
func (w *Workspace) Path() string { return w.path }

// conn returns the database handle or ErrClosed.
func (w *Workspace) conn() (*sql.DB, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}
	return w.db, nil
}

// Close releases the handle. A second call returns ErrClosed.
func (w *Workspace) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	return w.db.Close()
}

// SetEvent stores the event row, replacing any previous one.
func (w *Workspace) SetEvent(ev event.Event) error {
	db, err := w.conn()
	if err != nil {
		return err
	}
	return setEvent(context.Background(), db, ev)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func setEvent(ctx context.Context, x execer, ev event.Event) error {
	if !ev.Resolved() {
		return fmt.Errorf("event %s has no origin information", ev.ID)
	}
	if _, err := x.ExecContext(ctx, "DELETE FROM event"); err != nil {
		return fmt.Errorf("clear event: %w", err)
	}
	_, err := x.ExecContext(ctx,
		"INSERT INTO event(id, time, latitude, longitude, depth, magnitude) VALUES(?,?,?,?,?,?)",
		ev.ID, ev.Time.UTC().Format(time.RFC3339Nano), ev.Latitude, ev.Longitude, ev.Depth, ev.Magnitude)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Event returns the stored event. It fails with ErrNotFound if the
// workspace has no event row.
func (w *Workspace) Event() (event.Event, error) {
	db, err := w.conn()
	if err != nil {
		return event.Event{}, err
	}
	var (
		ev event.Event
		ts string
	)
	err = db.QueryRow("SELECT id, time, latitude, longitude, depth, magnitude FROM event LIMIT 1").
		Scan(&ev.ID, &ts, &ev.Latitude, &ev.Longitude, &ev.Depth, &ev.Magnitude)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Event{}, fmt.Errorf("%w: no event stored in %s", ErrNotFound, w.path)
	}
	if err != nil {
		return event.Event{}, fmt.Errorf("read event: %w", err)
	}
	if ev.Time, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return event.Event{}, fmt.Errorf("parse event time: %w", err)
	}
	return ev, nil
}

// Labels returns every label present, sorted.
func (w *Workspace) Labels() ([]string, error) {
	db, err := w.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query("SELECT label FROM labels ORDER BY label")
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ProcessedLabels returns the labels other than RawLabel.
func (w *Workspace) ProcessedLabels() ([]string, error) {
	labels, err := w.Labels()
	if err != nil {
		return nil, err
	}
	out := labels[:0]
	for _, l := range labels {
		if l != RawLabel {
			out = append(out, l)
		}
	}
	return out, nil
}

// HasLabel reports whether label exists.
func (w *Workspace) HasLabel(label string) (bool, error) {
	labels, err := w.Labels()
	if err != nil {
		return false, err
	}
	for _, l := range labels {
		if l == label {
			return true, nil
		}
	}
	return false, nil
}

// ActiveLabel returns the single processed label, "" when only raw data is
// present, or an *AmbiguousLabelsError when more than one processed label
// exists.
func (w *Workspace) ActiveLabel() (string, error) {
	labels, err := w.ProcessedLabels()
	if err != nil {
		return "", err
	}
	switch len(labels) {
	case 0:
		return "", nil
	case 1:
		return labels[0], nil
	default:
		return "", &AmbiguousLabelsError{Path: w.path, Labels: append([]string(nil), labels...)}
	}
}

// LabelInfo summarizes one stored label.
type LabelInfo struct {
	Label     string
	CreatedAt string
	Traces    int
	Passed    int
	Streams   int
}

// LabelInfos summarizes every label.
func (w *Workspace) LabelInfos() ([]LabelInfo, error) {
	db, err := w.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(`
		SELECT l.label, l.created_at,
		       COUNT(t.seq), COALESCE(SUM(t.passed), 0), COUNT(DISTINCT t.stream_id)
		FROM labels l LEFT JOIN traces t ON t.label = l.label
		GROUP BY l.label ORDER BY l.label`)
	if err != nil {
		return nil, fmt.Errorf("label summary: %w", err)
	}
	defer rows.Close()
	var out []LabelInfo
	for rows.Next() {
		var li LabelInfo
		if err := rows.Scan(&li.Label, &li.CreatedAt, &li.Traces, &li.Passed, &li.Streams); err != nil {
			return nil, err
		}
		out = append(out, li)
	}
	return out, rows.Err()
}

// AddStreams stores coll under label, replacing any stream set and metrics
// previously stored under the same label. The event row is refreshed when ev
// is resolved.
func (w *Workspace) AddStreams(ev event.Event, coll *stream.Collection, label string) error {
	if label == "" {
		return errors.New("label is required")
	}
	db, err := w.conn()
	if err != nil {
		return err
	}
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if ev.Resolved() {
		if err := setEvent(ctx, tx, ev); err != nil {
			return err
		}
	}
	for _, q := range []string{
		"DELETE FROM traces WHERE label = ?",
		"DELETE FROM stations WHERE label = ?",
		"DELETE FROM metrics WHERE label = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, label); err != nil {
			return fmt.Errorf("clear label %s: %w", label, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO labels(label, created_at) VALUES(?, ?) ON CONFLICT(label) DO UPDATE SET created_at = excluded.created_at",
		label, nowUTC()); err != nil {
		return fmt.Errorf("insert label: %w", err)
	}
	seq := 0
	if coll != nil {
		for _, st := range coll.Streams {
			for i := range st.Traces {
				tr := &st.Traces[i]
				payload, err := json.Marshal(tr)
				if err != nil {
					return fmt.Errorf("encode trace %s: %w", tr.ID(), err)
				}
				passed := 0
				if tr.Passed() {
					passed = 1
				}
				if _, err := tx.ExecContext(ctx,
					"INSERT INTO traces(label, seq, stream_id, trace_id, passed, payload) VALUES(?,?,?,?,?,?)",
					label, seq, st.ID(), tr.ID(), passed, payload); err != nil {
					return fmt.Errorf("insert trace %s: %w", tr.ID(), err)
				}
				seq++
			}
		}
	}
	return tx.Commit()
}

// Streams loads the stream set stored under label. A missing label yields an
// empty collection. eventID, when set, must match the stored event.
func (w *Workspace) Streams(eventID, label string) (*stream.Collection, error) {
	db, err := w.conn()
	if err != nil {
		return nil, err
	}
	if err := w.checkEvent(eventID); err != nil {
		return nil, err
	}
	rows, err := db.Query("SELECT payload FROM traces WHERE label = ? ORDER BY seq", label)
	if err != nil {
		return nil, fmt.Errorf("load traces: %w", err)
	}
	defer rows.Close()
	var traces []stream.Trace
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var tr stream.Trace
		if err := json.Unmarshal(payload, &tr); err != nil {
			return nil, fmt.Errorf("decode trace: %w", err)
		}
		traces = append(traces, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stream.NewCollection(traces, stream.Options{KeepNonFree: true}), nil
}

func (w *Workspace) checkEvent(eventID string) error {
	if eventID == "" {
		return nil
	}
	ev, err := w.Event()
	if IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if ev.ID != eventID {
		return fmt.Errorf("workspace %s holds event %s, not %s", w.path, ev.ID, eventID)
	}
	return nil
}

// ProvenanceRecord is one provenance attribute of one trace.
type ProvenanceRecord struct {
	StreamID string
	TraceID  string
	Channel  string
	stream.ProvenanceRow
}

// Provenance returns the processing history of every trace under label.
func (w *Workspace) Provenance(eventID, label string) ([]ProvenanceRecord, error) {
	coll, err := w.Streams(eventID, label)
	if err != nil {
		return nil, err
	}
	var out []ProvenanceRecord
	for _, st := range coll.Streams {
		for i := range st.Traces {
			tr := &st.Traces[i]
			for _, row := range tr.ProvenanceRows() {
				out = append(out, ProvenanceRecord{StreamID: st.ID(), TraceID: tr.ID(), Channel: tr.Channel, ProvenanceRow: row})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TraceID < out[j].TraceID })
	return out, nil
}
