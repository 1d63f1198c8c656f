package db

import (
	"context"
	"path/filepath"
	"sharebin/pkg/domain"
	"sharebin/svc/cache"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func openSQLite(t *testing.T, path string, ids IDSource, clock *fakeClock, withCache bool) *SQLite {
	t.Helper()
	var lru *cache.LRU
	if withCache {
		var err error
		if lru, err = cache.NewLRU(64); err != nil {
			t.Fatal(err)
		}
	}
	s, err := NewSQLite(path, ids, lru, clock.Now)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	return s
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T, ids IDSource, clock *fakeClock) entryStore {
		s := openSQLite(t, filepath.Join(t.TempDir(), "entries.db"), ids, clock, true)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteStoreWithoutCache(t *testing.T) {
	runStoreContract(t, func(t *testing.T, ids IDSource, clock *fakeClock) entryStore {
		s := openSQLite(t, filepath.Join(t.TempDir(), "entries.db"), ids, clock, false)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteInMemory(t *testing.T) {
	clock := newFakeClock()
	s := openSQLite(t, ":memory:", realIDs(t), clock, false)
	defer s.Close()
	ctx := context.Background()
	id, err := s.Insert(ctx, textEntry(clock, "in memory", time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	e, err := s.Resolve(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if e.Content.Text != "in memory" {
		t.Errorf("text = %q", e.Content.Text)
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	clock := newFakeClock()
	path := filepath.Join(t.TempDir(), "entries.db")
	ctx := context.Background()

	s := openSQLite(t, path, realIDs(t), clock, true)
	id, err := s.Insert(ctx, textEntry(clock, "durable", domain.Never))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Resolve(ctx, id); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s = openSQLite(t, path, realIDs(t), clock, true)
	defer s.Close()
	e, err := s.Resolve(ctx, id)
	if err != nil {
		t.Fatalf("Resolve after reopen failed: %v", err)
	}
	if e.Content.Text != "durable" || e.Views != 2 {
		t.Errorf("got text %q views %d, want durable 2", e.Content.Text, e.Views)
	}
}

func TestSQLiteLazyPurge(t *testing.T) {
	clock := newFakeClock()
	s := openSQLite(t, filepath.Join(t.TempDir(), "entries.db"), realIDs(t), clock, true)
	defer s.Close()
	ctx := context.Background()
	id, err := s.Insert(ctx, textEntry(clock, "short", time.Second))
	if err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)
	if _, err := s.Resolve(ctx, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal(err)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("Count = %d after lazy purge, want 0", n)
	}
}

func TestSQLiteSweepManyBatches(t *testing.T) {
	clock := newFakeClock()
	s := openSQLite(t, filepath.Join(t.TempDir(), "entries.db"), realIDs(t), clock, true)
	defer s.Close()
	ctx := context.Background()
	const total = sweepBatchSize*2 + 17
	for i := 0; i < total; i++ {
		if _, err := s.Insert(ctx, textEntry(clock, "bulk", time.Second)); err != nil {
			t.Fatal(err)
		}
	}
	keep, err := s.Insert(ctx, textEntry(clock, "keep", time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Second)
	n, err := s.SweepExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != total {
		t.Errorf("SweepExpired = %d, want %d", n, total)
	}
	if c, _ := s.Count(ctx); c != 1 {
		t.Errorf("Count = %d, want 1", c)
	}
	if _, err := s.Resolve(ctx, keep); err != nil {
		t.Errorf("live entry lost: %v", err)
	}
}

func TestSQLiteCheckpoint(t *testing.T) {
	clock := newFakeClock()
	s := openSQLite(t, filepath.Join(t.TempDir(), "entries.db"), realIDs(t), clock, false)
	defer s.Close()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := s.Insert(ctx, textEntry(clock, "wal", time.Hour)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Checkpoint(ctx); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestSQLiteWALMaintenanceStops(t *testing.T) {
	clock := newFakeClock()
	s := openSQLite(t, filepath.Join(t.TempDir(), "entries.db"), realIDs(t), clock, false)
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunWALMaintenance(ctx, 10*time.Millisecond) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunWALMaintenance returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunWALMaintenance did not stop")
	}
}

func TestSQLiteDSN(t *testing.T) {
	if got := sqliteDSN("a.db"); got != "a.db?_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL&_txlock=immediate" {
		t.Errorf("sqliteDSN = %q", got)
	}
	if got := sqliteDSN("file:a.db?cache=private"); got != "file:a.db?cache=private&_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL&_txlock=immediate" {
		t.Errorf("sqliteDSN = %q", got)
	}
}
