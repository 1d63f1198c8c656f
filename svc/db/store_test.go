package db

import (
	"bytes"
	"context"
	"sharebin/pkg/domain"
	"sharebin/svc/util"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
)

type entryStore interface {
	Insert(ctx context.Context, e *domain.Entry) (string, error)
	Resolve(ctx context.Context, id string) (*domain.Entry, error)
	SweepExpired(ctx context.Context) (int, error)
	Close() error
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now().UTC().Truncate(time.Millisecond)}
}
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type seqIDs struct {
	mu    sync.Mutex
	ids   []string
	calls int
	err   error
}

func (s *seqIDs) Generate() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	id := s.ids[0]
	if len(s.ids) > 1 {
		s.ids = s.ids[1:]
	}
	return id, nil
}

type storeFactory func(t *testing.T, ids IDSource, clock *fakeClock) entryStore

func realIDs(t *testing.T) IDSource {
	g, err := util.NewIDGen(util.DefaultIDLength)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func textEntry(clock *fakeClock, text string, ttl time.Duration) *domain.Entry {
	now := clock.Now()
	return &domain.Entry{
		Content:   domain.Content{Kind: domain.KindText, Text: text},
		CreatedAt: now,
		ExpiresAt: domain.ExpiryFrom(now, ttl),
	}
}

func runStoreContract(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("TextRoundTripAndViews", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, realIDs(t), clock)
		id, err := s.Insert(ctx, textEntry(clock, "hello", domain.Never))
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		for want := int64(1); want <= 2; want++ {
			e, err := s.Resolve(ctx, id)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if e.Content.Kind != domain.KindText || e.Content.Text != "hello" {
				t.Errorf("got %+v, want text hello", e.Content)
			}
			if e.Views != want {
				t.Errorf("views = %d, want %d", e.Views, want)
			}
			if e.ExpiresAt != nil {
				t.Errorf("expiresAt = %v, want nil", e.ExpiresAt)
			}
			if e.ID != id {
				t.Errorf("id = %q, want %q", e.ID, id)
			}
		}
	})

	t.Run("FileRoundTrip", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, realIDs(t), clock)
		data := []byte{0x00, 0xff, 0x10, '\n', 0x00, 0x80}
		now := clock.Now()
		id, err := s.Insert(ctx, &domain.Entry{
			Content: domain.Content{
				Kind: domain.KindFile, Data: data, Filename: "raw.bin", MediaType: "application/x-raw",
			},
			CreatedAt: now,
			ExpiresAt: domain.ExpiryFrom(now, time.Hour),
		})
		if err != nil {
			t.Fatal(err)
		}
		e, err := s.Resolve(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(e.Content.Data, data) {
			t.Errorf("data = %v, want %v", e.Content.Data, data)
		}
		if e.Content.Filename != "raw.bin" || e.Content.MediaType != "application/x-raw" {
			t.Errorf("metadata = %q %q", e.Content.Filename, e.Content.MediaType)
		}
		if e.ExpiresAt == nil || !e.ExpiresAt.Equal(now.Add(time.Hour)) {
			t.Errorf("expiresAt = %v, want %v", e.ExpiresAt, now.Add(time.Hour))
		}
		if !e.CreatedAt.Equal(now) {
			t.Errorf("createdAt = %v, want %v", e.CreatedAt, now)
		}
	})

	t.Run("EmptyFile", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, realIDs(t), clock)
		id, err := s.Insert(ctx, &domain.Entry{
			Content:   domain.Content{Kind: domain.KindFile, Data: []byte{}, Filename: "empty", MediaType: "text/plain"},
			CreatedAt: clock.Now(),
		})
		if err != nil {
			t.Fatal(err)
		}
		e, err := s.Resolve(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if e.Content.Data == nil || len(e.Content.Data) != 0 {
			t.Errorf("data = %v, want empty non-nil", e.Content.Data)
		}
	})

	t.Run("UnknownID", func(t *testing.T) {
		s := newStore(t, realIDs(t), newFakeClock())
		_, err := s.Resolve(ctx, "neverissued")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("ExpiredWithoutSweep", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, realIDs(t), clock)
		id, err := s.Insert(ctx, textEntry(clock, "temp", time.Second))
		if err != nil {
			t.Fatal(err)
		}
		clock.Advance(2 * time.Second)
		if _, err := s.Resolve(ctx, id); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
		if _, err := s.Resolve(ctx, id); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("second resolve err = %v, want ErrNotFound", err)
		}
	})

	t.Run("ExpiryBoundary", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, realIDs(t), clock)
		id, err := s.Insert(ctx, textEntry(clock, "edge", time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Hour)
		if _, err := s.Resolve(ctx, id); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("entry resolved at its expiry instant: %v", err)
		}
	})

	t.Run("NeverExpires", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, realIDs(t), clock)
		id, err := s.Insert(ctx, textEntry(clock, "forever", domain.Never))
		if err != nil {
			t.Fatal(err)
		}
		clock.Advance(100 * 365 * 24 * time.Hour)
		if n, err := s.SweepExpired(ctx); err != nil || n != 0 {
			t.Fatalf("SweepExpired = %d, %v", n, err)
		}
		if _, err := s.Resolve(ctx, id); err != nil {
			t.Fatalf("Resolve failed far in the future: %v", err)
		}
	})

	t.Run("ConcurrentResolve", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, realIDs(t), clock)
		id, err := s.Insert(ctx, textEntry(clock, "popular", time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		const n = 50
		views := make(chan int64, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				e, err := s.Resolve(ctx, id)
				if err != nil {
					t.Errorf("Resolve failed: %v", err)
					return
				}
				views <- e.Views
			}()
		}
		wg.Wait()
		close(views)
		seen := make(map[int64]bool, n)
		for v := range views {
			if seen[v] {
				t.Errorf("view count %d observed twice", v)
			}
			seen[v] = true
		}
		if len(seen) != n {
			t.Fatalf("observed %d distinct counts, want %d", len(seen), n)
		}
		for v := int64(1); v <= n; v++ {
			if !seen[v] {
				t.Errorf("view count %d never observed", v)
			}
		}
		e, err := s.Resolve(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if e.Views != n+1 {
			t.Errorf("final views = %d, want %d", e.Views, n+1)
		}
	})

	t.Run("SweepOnlyExpired", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, realIDs(t), clock)
		longID, _ := s.Insert(ctx, textEntry(clock, "long", time.Hour))
		shortID, _ := s.Insert(ctx, textEntry(clock, "short", time.Second))
		foreverID, _ := s.Insert(ctx, textEntry(clock, "forever", domain.Never))
		if n, err := s.SweepExpired(ctx); err != nil || n != 0 {
			t.Fatalf("initial SweepExpired = %d, %v", n, err)
		}
		clock.Advance(2 * time.Second)
		if n, err := s.SweepExpired(ctx); err != nil || n != 1 {
			t.Fatalf("SweepExpired = %d, %v, want 1", n, err)
		}
		for i := 0; i < 3; i++ {
			if n, err := s.SweepExpired(ctx); err != nil || n != 0 {
				t.Fatalf("repeat SweepExpired = %d, %v, want 0", n, err)
			}
		}
		if _, err := s.Resolve(ctx, shortID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("swept entry resolved: %v", err)
		}
		for _, id := range []string{longID, foreverID} {
			e, err := s.Resolve(ctx, id)
			if err != nil {
				t.Errorf("live entry %s not resolvable: %v", id, err)
				continue
			}
			if e.Views != 1 {
				t.Errorf("sweep touched views of %s: %d", id, e.Views)
			}
		}
	})

	t.Run("SweepRacesResolve", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, realIDs(t), clock)
		ids := make([]string, 20)
		for i := range ids {
			id, err := s.Insert(ctx, textEntry(clock, "racy", time.Second))
			if err != nil {
				t.Fatal(err)
			}
			ids[i] = id
		}
		clock.Advance(2 * time.Second)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.SweepExpired(ctx); err != nil {
				t.Errorf("SweepExpired failed: %v", err)
			}
		}()
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if _, err := s.Resolve(ctx, id); !errors.Is(err, domain.ErrNotFound) {
					t.Errorf("expired entry %s resolved during sweep: %v", id, err)
				}
			}(id)
		}
		wg.Wait()
	})

	t.Run("UniqueIDs", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, realIDs(t), clock)
		seen := make(map[string]bool)
		for i := 0; i < 200; i++ {
			id, err := s.Insert(ctx, textEntry(clock, "x", time.Hour))
			if err != nil {
				t.Fatal(err)
			}
			if seen[id] {
				t.Fatalf("duplicate id %q", id)
			}
			seen[id] = true
		}
	})

	t.Run("CollisionRetry", func(t *testing.T) {
		clock := newFakeClock()
		ids := &seqIDs{ids: []string{"AAAAAAAAAA", "AAAAAAAAAA", "BBBBBBBBBB"}}
		s := newStore(t, ids, clock)
		first, err := s.Insert(ctx, textEntry(clock, "one", time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		second, err := s.Insert(ctx, textEntry(clock, "two", time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if first != "AAAAAAAAAA" || second != "BBBBBBBBBB" {
			t.Fatalf("ids = %q, %q", first, second)
		}
		e, err := s.Resolve(ctx, first)
		if err != nil || e.Content.Text != "one" {
			t.Fatalf("first entry overwritten: %+v, %v", e, err)
		}
	})

	t.Run("CollisionExhaustion", func(t *testing.T) {
		clock := newFakeClock()
		ids := &seqIDs{ids: []string{"CCCCCCCCCC"}}
		s := newStore(t, ids, clock)
		if _, err := s.Insert(ctx, textEntry(clock, "one", time.Hour)); err != nil {
			t.Fatal(err)
		}
		_, err := s.Insert(ctx, textEntry(clock, "two", time.Hour))
		if !errors.Is(err, domain.ErrIDGenerationFailed) {
			t.Fatalf("err = %v, want ErrIDGenerationFailed", err)
		}
	})

	t.Run("EntropyFailureNotRetried", func(t *testing.T) {
		clock := newFakeClock()
		ids := &seqIDs{err: errors.New("entropy exhausted")}
		s := newStore(t, ids, clock)
		_, err := s.Insert(ctx, textEntry(clock, "x", time.Hour))
		if err == nil || errors.Is(err, domain.ErrIDGenerationFailed) {
			t.Fatalf("err = %v, want wrapped entropy error", err)
		}
		if ids.calls != 1 {
			t.Errorf("generator called %d times, want 1", ids.calls)
		}
	})

	t.Run("RejectsBadExpiry", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, realIDs(t), clock)
		e := textEntry(clock, "x", domain.Never)
		past := e.CreatedAt
		e.ExpiresAt = &past
		if _, err := s.Insert(ctx, e); !errors.Is(err, domain.ErrInvalidExpiration) {
			t.Fatalf("err = %v, want ErrInvalidExpiration", err)
		}
		if _, err := s.Insert(ctx, &domain.Entry{CreatedAt: clock.Now()}); !errors.Is(err, domain.ErrInvalidSubmission) {
			t.Fatalf("err = %v, want ErrInvalidSubmission for missing kind", err)
		}
	})
}
