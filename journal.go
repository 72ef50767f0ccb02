package roomkit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"
)

const journalQueueSize = 1024

const journalSchema = `
CREATE TABLE IF NOT EXISTS crossings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	at TEXT NOT NULL,
	kind TEXT NOT NULL,
	op TEXT NOT NULL,
	target INTEGER NOT NULL,
	args INTEGER NOT NULL,
	thrown INTEGER NOT NULL,
	error TEXT NOT NULL,
	duration_us INTEGER NOT NULL
)`

// Crossing is one journal row.
type Crossing struct {
	At       time.Time
	Kind     string // "call", "fire" or "release"
	Op       string
	Target   HandleID
	Args     int
	Thrown   bool
	Error    string
	Duration time.Duration
}

type crossing struct {
	Kind     string
	Op       string
	Target   HandleID
	Args     int
	Thrown   bool
	Err      error
	Duration time.Duration
}

type journalItem struct {
	c     Crossing
	flush chan struct{}
}

// Journal records crossings into a SQLite database from a background
// writer, so recording never blocks the bridge loop. Entries that do not
// fit the queue are dropped and counted.
type Journal struct {
	db      *sql.DB
	queue   chan journalItem
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// OpenJournal opens (or creates) the journal at path. ":memory:" keeps it
// in memory.
func OpenJournal(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	j := &Journal{db: db, queue: make(chan journalItem, journalQueueSize)}
	j.wg.Add(1)
	go j.writer()
	return j, nil
}

func (j *Journal) record(c crossing) {
	if j == nil {
		return
	}
	row := Crossing{
		At:       time.Now().UTC(),
		Kind:     c.Kind,
		Op:       c.Op,
		Target:   c.Target,
		Args:     c.Args,
		Thrown:   c.Thrown,
		Duration: c.Duration,
	}
	if c.Err != nil {
		row.Error = c.Err.Error()
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.dropped.Add(1)
		return
	}
	select {
	case j.queue <- journalItem{c: row}:
	default:
		j.dropped.Add(1)
	}
}

func (j *Journal) writer() {
	defer j.wg.Done()
	for item := range j.queue {
		if item.flush != nil {
			close(item.flush)
			continue
		}
		c := item.c
		if _, err := j.db.Exec(
			`INSERT INTO crossings (at, kind, op, target, args, thrown, error, duration_us) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.At.Format(time.RFC3339Nano), c.Kind, c.Op, int64(c.Target), c.Args, c.Thrown, c.Error, c.Duration.Microseconds(),
		); err != nil {
			Logger().Warn("journal write failed: " + err.Error())
		}
	}
}

// Flush waits until every entry recorded so far is written.
func (j *Journal) Flush(ctx context.Context) error {
	done := make(chan struct{})
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return nil
	}
	select {
	case j.queue <- journalItem{flush: done}:
		j.mu.RUnlock()
	case <-ctx.Done():
		j.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns the number of entries lost to a full queue.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// Recent returns up to limit crossings, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Crossing, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT at, kind, op, target, args, thrown, error, duration_us FROM crossings ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var out []Crossing
	for rows.Next() {
		var (
			c      Crossing
			at     string
			target int64
			us     int64
		)
		if err := rows.Scan(&at, &c.Kind, &c.Op, &target, &c.Args, &c.Thrown, &c.Error, &us); err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}
		c.At, _ = time.Parse(time.RFC3339Nano, at)
		c.Target = HandleID(target)
		c.Duration = time.Duration(us) * time.Microsecond
		out = append(out, c)
	}
	return out, rows.Err()
}

// Count returns the number of crossings of kind ("" for all).
func (j *Journal) Count(ctx context.Context, kind string) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM crossings WHERE ? = '' OR kind = ?`, kind, kind).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting journal rows: %w", err)
	}
	return n, nil
}

// Close stops the writer and closes the database. Entries recorded after
// Close are dropped.
func (j *Journal) Close() error {
	var err error
	j.once.Do(func() {
		j.mu.Lock()
		j.closed = true
		close(j.queue)
		j.mu.Unlock()
		j.wg.Wait()
		err = j.db.Close()
	})
	return err
}
