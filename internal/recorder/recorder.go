// Package recorder appends every delivered sample to a SQLite session log.
// Writes happen on a background goroutine behind a bounded queue, so the
// frame loop never waits on the disk.
package recorder

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/gazestream/internal/monitoring"
	"github.com/banshee-data/gazestream/internal/stream"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	defaultQueueSize = 1024
	maxBatch         = 256
)

// Config is the input to Open.
type Config struct {
	Path      string
	QueueSize int

	// Transport and Descriptors are stored with the session row.
	Transport   string
	Descriptors []stream.Descriptor

	Now func() time.Time
}

type record struct {
	stream string
	sample stream.Sample
}

// Stats is a copy of the recorder counters.
type Stats struct {
	Session string `json:"session"`
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Errors  uint64 `json:"errors"`
}

// Recorder is a session log. Record is safe for concurrent use.
type Recorder struct {
	db      *sql.DB
	path    string
	session string
	now     func() time.Time

	queue     chan record
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	written atomic.Uint64
	dropped atomic.Uint64
	errs    atomic.Uint64
}

// Open creates or migrates the database at cfg.Path and starts a new
// session.
func Open(cfg Config) (*Recorder, error) {
	if cfg.Path == "" {
		return nil, errors.New("recorder path is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open recorder database: %w", err)
	}
	// A single connection keeps the writer and the admin pages from
	// contending for the SQLite lock.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	r := &Recorder{
		db:      db,
		path:    cfg.Path,
		session: uuid.NewString(),
		now:     cfg.Now,
		queue:   make(chan record, cfg.QueueSize),
		done:    make(chan struct{}),
	}

	descs, err := json.Marshal(cfg.Descriptors)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("encode descriptors: %w", err)
	}
	if _, err := db.Exec(
		`INSERT INTO sessions (session_id, started_unix, transport, descriptors) VALUES (?, ?, ?, ?)`,
		r.session, unixSeconds(r.now()), cfg.Transport, string(descs),
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("start session: %w", err)
	}

	r.wg.Add(1)
	go r.run()
	monitoring.Logf("[Recorder] session %s recording to %s", r.session, cfg.Path)
	return r, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// m is not closed: that would close db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Session returns the session id.
func (r *Recorder) Session() string { return r.session }

// DB returns the underlying database handle.
func (r *Recorder) DB() *sql.DB { return r.db }

// Record queues a delivered sample. It never blocks: a full queue drops
// the record and counts it.
func (r *Recorder) Record(streamName string, s stream.Sample) {
	select {
	case <-r.done:
		r.dropped.Add(1)
		return
	default:
	}
	values := append([]float64(nil), s.Values...)
	select {
	case r.queue <- record{stream: streamName, sample: stream.Sample{Values: values, Timestamp: s.Timestamp}}:
	default:
		r.dropped.Add(1)
	}
}

// Stats returns the recorder counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Session: r.session,
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
		Errors:  r.errs.Load(),
	}
}

// Close flushes queued records, ends the session and closes the database.
func (r *Recorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		if _, e := r.db.Exec(`UPDATE sessions SET ended_unix = ? WHERE session_id = ?`,
			unixSeconds(r.now()), r.session); e != nil {
			err = fmt.Errorf("end session: %w", e)
		}
		st := r.Stats()
		monitoring.Logf("[Recorder] session %s closed: %d written, %d dropped, %d errors",
			r.session, st.Written, st.Dropped, st.Errors)
		err = errors.Join(err, r.db.Close())
	})
	return err
}

func (r *Recorder) run() {
	defer r.wg.Done()
	batch := make([]record, 0, maxBatch)
	for {
		select {
		case rec := <-r.queue:
			batch = r.fill(append(batch[:0], rec))
			r.write(batch)
		case <-r.done:
			// Drain what was queued before Close.
			for {
				batch = r.fill(batch[:0])
				if len(batch) == 0 {
					return
				}
				r.write(batch)
			}
		}
	}
}

// fill appends queued records to batch without waiting.
func (r *Recorder) fill(batch []record) []record {
	for len(batch) < maxBatch {
		select {
		case rec := <-r.queue:
			batch = append(batch, rec)
		default:
			return batch
		}
	}
	return batch
}

func (r *Recorder) write(batch []record) {
	tx, err := r.db.Begin()
	if err != nil {
		r.fail(len(batch), err)
		return
	}
	stmt, err := tx.Prepare(`INSERT INTO samples (session_id, stream, ts, sentinel, values_json) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		r.fail(len(batch), err)
		return
	}
	defer stmt.Close()

	for _, rec := range batch {
		values, sentinel := encodeValues(rec.sample.Values)
		if _, err := stmt.Exec(r.session, rec.stream, rec.sample.Timestamp, sentinel, values); err != nil {
			tx.Rollback()
			r.fail(len(batch), err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		r.fail(len(batch), err)
		return
	}
	r.written.Add(uint64(len(batch)))
}

func (r *Recorder) fail(n int, err error) {
	if r.errs.Add(uint64(n)) == uint64(n) {
		monitoring.Logf("[Recorder] write failed: %v", err)
	}
}

// encodeValues renders values as a JSON array with NaN as null, and reports
// whether every value was NaN.
func encodeValues(vs []float64) (string, bool) {
	out := make([]*float64, len(vs))
	sentinel := len(vs) > 0
	for i := range vs {
		if math.IsNaN(vs[i]) {
			continue
		}
		sentinel = false
		v := vs[i]
		out[i] = &v
	}
	b, _ := json.Marshal(out)
	return string(b), sentinel
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Row is one recorded sample.
type Row struct {
	Stream    string
	Timestamp float64
	Sentinel  bool
	Values    []float64
}

// Samples returns the current session's samples of one stream in timestamp
// order. null values decode back to NaN.
func (r *Recorder) Samples(streamName string) ([]Row, error) {
	rows, err := r.db.Query(
		`SELECT stream, ts, sentinel, values_json FROM samples WHERE session_id = ? AND stream = ? ORDER BY ts, id`,
		r.session, streamName)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			row  Row
			raw  string
			sent int
		)
		if err := rows.Scan(&row.Stream, &row.Timestamp, &sent, &raw); err != nil {
			return nil, err
		}
		var vs []*float64
		if err := json.Unmarshal([]byte(raw), &vs); err != nil {
			return nil, fmt.Errorf("decode values: %w", err)
		}
		row.Sentinel = sent != 0
		row.Values = make([]float64, len(vs))
		for i, v := range vs {
			if v == nil {
				row.Values[i] = math.NaN()
			} else {
				row.Values[i] = *v
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
