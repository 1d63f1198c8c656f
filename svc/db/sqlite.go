package db

import (
	"context"
	"database/sql"
	"sharebin/pkg/domain"
	"sharebin/svc/cache"
	"sharebin/svc/util"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 100
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
	sweepBatchSize      = 100
	maxSweepBatches     = 10000
)

// SQLite stores entries in a single file. Timestamps are unix nanoseconds;
// a NULL expires_at means the entry never expires.
type SQLite struct {
	db            *sql.DB
	lru           *cache.LRU
	ids           IDSource
	now           Clock
	memory        bool
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func NewSQLite(path string, ids IDSource, lru *cache.LRU, now Clock) (*SQLite, error) {
	return NewSQLiteWithConfig(path, ids, lru, now, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, ids IDSource, lru *cache.LRU, now Clock, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	memory := path == ":memory:"
	if memory {
		// every connection to :memory: is a separate database
		maxOpenConns, maxIdleConns = 1, 1
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	if !memory {
		db.SetConnMaxIdleTime(10 * time.Minute)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping db")
	}
	if now == nil {
		now = time.Now
	}
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	s := &SQLite{
		db:           db,
		lru:          lru,
		ids:          ids,
		now:          now,
		memory:       memory,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

// sqliteDSN applies per-connection pragmas through the driver so that every
// pooled connection gets them, and makes transactions take the write lock up front.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL&_txlock=immediate"
}
func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}
func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		util.Warn().Int32("failures", failures).Msg("database circuit breaker opened")
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}
func (s *SQLite) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL CHECK (kind IN ('text', 'file')),
		text_content TEXT,
		data BLOB,
		filename TEXT,
		media_type TEXT,
		created_at INTEGER NOT NULL,
		expires_at INTEGER,
		views INTEGER NOT NULL DEFAULT 0,
		CHECK (expires_at IS NULL OR expires_at > created_at)
	);
	CREATE INDEX IF NOT EXISTS idx_entries_expires_at ON entries(expires_at) WHERE expires_at IS NOT NULL;
	`
	_, err := s.db.Exec(query)
	return err
}
func isIDCollision(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
}
func (s *SQLite) Insert(ctx context.Context, e *domain.Entry) (string, error) {
	if err := validateEntry(e); err != nil {
		return "", err
	}
	if err := s.checkCircuit(); err != nil {
		return "", err
	}
	stored := e.Clone()
	var text interface{}
	var data interface{}
	if stored.Content.Kind == domain.KindText {
		text = stored.Content.Text
	} else {
		if stored.Content.Data == nil {
			stored.Content.Data = []byte{}
		}
		data = stored.Content.Data
	}
	q := `
	INSERT INTO entries (id, kind, text_content, data, filename, media_type, created_at, expires_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	return insertWithFreshID(ctx, s.ids, func(id string) error {
		queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
		_, err := s.db.ExecContext(queryCtx, q,
			id, string(stored.Content.Kind), text, data, stored.Content.Filename, stored.Content.MediaType,
			stored.CreatedAt.UnixNano(), unixNano(stored.ExpiresAt),
		)
		if isIDCollision(err) {
			return ErrIDTaken
		}
		s.recordError(err)
		if err != nil {
			return errors.Wrap(err, "db insert")
		}
		if s.lru != nil {
			s.lru.Set(id, stored.CreatedAt, stored.Content)
		}
		return nil
	})
}

// Resolve counts the view and decides liveness in one UPDATE, so a concurrent
// sweep either runs entirely before it or entirely after it.
func (s *SQLite) Resolve(ctx context.Context, id string) (*domain.Entry, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	now := s.now()
	tx, err := s.db.BeginTx(queryCtx, nil)
	if err != nil {
		s.recordError(err)
		return nil, errors.Wrap(err, "begin resolve")
	}
	defer tx.Rollback()
	var (
		e         domain.Entry
		kind      string
		filename  sql.NullString
		mediaType sql.NullString
		created   int64
		expires   sql.NullInt64
	)
	q := `
	UPDATE entries SET views = views + 1
	WHERE id = ? AND (expires_at IS NULL OR expires_at > ?)
	RETURNING kind, filename, media_type, created_at, expires_at, views
	`
	err = tx.QueryRowContext(queryCtx, q, id, now.UnixNano()).Scan(
		&kind, &filename, &mediaType, &created, &expires, &e.Views,
	)
	if errors.Is(err, sql.ErrNoRows) {
		tx.Rollback()
		s.purgeIfExpired(ctx, id, now)
		return nil, domain.ErrNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db resolve")
	}
	e.ID = id
	e.CreatedAt = time.Unix(0, created).UTC()
	if expires.Valid {
		t := time.Unix(0, expires.Int64).UTC()
		e.ExpiresAt = &t
	}
	e.Content = domain.Content{
		Kind:      domain.Kind(kind),
		Filename:  filename.String,
		MediaType: mediaType.String,
	}
	if c, ok := s.cached(id, e.CreatedAt); ok {
		e.Content.Text = c.Text
		e.Content.Data = c.Data
	} else {
		var text sql.NullString
		var data []byte
		err = tx.QueryRowContext(queryCtx, `SELECT text_content, data FROM entries WHERE id = ?`, id).Scan(&text, &data)
		s.recordError(err)
		if err != nil {
			return nil, errors.Wrap(err, "db load content")
		}
		e.Content.Text = text.String
		if e.Content.Kind == domain.KindFile {
			if data == nil {
				data = []byte{}
			}
			e.Content.Data = data
		}
		if s.lru != nil {
			s.lru.Set(id, e.CreatedAt, domain.Content{
				Kind: e.Content.Kind, Text: e.Content.Text, Data: copyBytes(e.Content.Data),
				Filename: e.Content.Filename, MediaType: e.Content.MediaType,
			})
		}
	}
	if err := tx.Commit(); err != nil {
		s.recordError(err)
		return nil, errors.Wrap(err, "commit resolve")
	}
	return &e, nil
}
func (s *SQLite) cached(id string, createdAt time.Time) (domain.Content, bool) {
	if s.lru == nil {
		return domain.Content{}, false
	}
	c, ok := s.lru.Get(id, createdAt)
	if !ok {
		return c, false
	}
	if c.Data != nil {
		c.Data = copyBytes(c.Data)
	}
	return c, true
}

// purgeIfExpired removes id if it is present but expired. Failures are left
// for the next sweep.
func (s *SQLite) purgeIfExpired(ctx context.Context, id string, now time.Time) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(queryCtx,
		`DELETE FROM entries WHERE id = ? AND expires_at IS NOT NULL AND expires_at <= ?`, id, now.UnixNano())
	if err != nil {
		util.Debug().Err(err).Msg("lazy purge failed")
		return
	}
	if n, _ := res.RowsAffected(); n > 0 && s.lru != nil {
		s.lru.Delete(id)
	}
}
func (s *SQLite) SweepExpired(ctx context.Context) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	now := s.now().UnixNano()
	totalDeleted := 0
	for i := 0; i < maxSweepBatches; i++ {
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		default:
		}
		deleted, err := s.sweepBatch(ctx, now)
		totalDeleted += deleted
		if err != nil {
			return totalDeleted, err
		}
		if deleted < sweepBatchSize {
			return totalDeleted, nil
		}
	}
	return totalDeleted, errors.New("sweep hit iteration limit, more records may exist")
}
func (s *SQLite) sweepBatch(ctx context.Context, now int64) (int, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(queryCtx, `
		DELETE FROM entries
		WHERE id IN (
			SELECT id FROM entries
			WHERE expires_at IS NOT NULL AND expires_at <= ?
			LIMIT ?
		)
		RETURNING id
	`, now, sweepBatchSize)
	s.recordError(err)
	if err != nil {
		return 0, errors.Wrap(err, "sweep batch failed")
	}
	defer rows.Close()
	deleted := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return deleted, errors.Wrap(err, "scan swept id")
		}
		if s.lru != nil {
			s.lru.Delete(id)
		}
		deleted++
	}
	return deleted, errors.Wrap(rows.Err(), "sweep batch rows")
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Count returns the number of stored rows, expired-but-unswept ones included.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n)
	return n, errors.Wrap(err, "count entries")
}
func (s *SQLite) Close() error {
	return s.db.Close()
}
