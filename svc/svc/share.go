package svc

import (
	"context"
	"sharebin/cfg"
	"sharebin/metrics"
	"sharebin/pkg/domain"
	"sharebin/svc/codec"
	"sharebin/svc/util"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var ErrShuttingDown = errors.New("service shutting down")

// Store is the entry store contract shared by every backend in svc/db.
type Store interface {
	Insert(ctx context.Context, e *domain.Entry) (string, error)
	Resolve(ctx context.Context, id string) (*domain.Entry, error)
	SweepExpired(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

type Share struct {
	store    Store
	ids      *util.IDGen
	cfg      *cfg.Cfg
	now      func() time.Time
	mu       sync.RWMutex // orders opWg.Add against Shutdown
	shutdown bool
	opWg     sync.WaitGroup
}

func NewShare(store Store, ids *util.IDGen, c *cfg.Cfg) *Share {
	if store == nil || ids == nil || c == nil {
		panic("share service: nil dependency (store, ids, or cfg)")
	}
	return &Share{store: store, ids: ids, cfg: c, now: time.Now}
}

// Presets lists the expirations a submission may ask for.
func (s *Share) Presets() []time.Duration {
	return append([]time.Duration(nil), s.cfg.ExpirationPresets...)
}
func (s *Share) DefaultExpiration() time.Duration {
	return s.cfg.DefaultExpiration
}
func (s *Share) Submit(ctx context.Context, sub domain.Submission, expiration string) (*domain.Receipt, error) {
	if !s.begin() {
		return nil, ErrShuttingDown
	}
	defer s.opWg.Done()
	d, err := domain.ParseExpiration(expiration, s.cfg.ExpirationPresets, s.cfg.DefaultExpiration)
	if err != nil {
		return nil, err
	}
	content, err := codec.Normalize(sub)
	if err != nil {
		return nil, err
	}
	size := codec.Size(content)
	limit := s.cfg.MaxFileSize
	if content.Kind == domain.KindText {
		limit = s.cfg.MaxTextSize
	}
	if size > limit {
		return nil, domain.ErrPayloadTooLarge
	}
	now := s.now().UTC()
	entry := &domain.Entry{
		Content:   content,
		CreatedAt: now,
		ExpiresAt: domain.ExpiryFrom(now, d),
	}
	id, err := s.store.Insert(ctx, entry)
	if err != nil {
		return nil, errors.Wrap(err, "store entry")
	}
	metrics.EntriesSubmitted.WithLabelValues(string(content.Kind)).Inc()
	metrics.SubmittedBytes.Observe(float64(size))
	util.Debug().
		Str("request_id", util.GetRequestID(ctx)).
		Str("id", id).
		Str("kind", string(content.Kind)).
		Int64("size", size).
		Str("expiration", domain.FormatExpiration(d)).
		Msg("entry submitted")
	return &domain.Receipt{
		ID:        id,
		Kind:      content.Kind,
		CreatedAt: now,
		ExpiresAt: entry.ExpiresAt,
	}, nil
}

// Resolve counts a view of id and returns its content.
func (s *Share) Resolve(ctx context.Context, id string) (*domain.Resolution, error) {
	if !s.begin() {
		return nil, ErrShuttingDown
	}
	defer s.opWg.Done()
	if !s.ids.Plausible(id) {
		metrics.ResolveNotFound.Inc()
		return nil, domain.ErrNotFound
	}
	e, err := s.store.Resolve(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.ResolveNotFound.Inc()
			return nil, domain.ErrNotFound
		}
		return nil, errors.Wrap(err, "resolve entry")
	}
	metrics.EntriesResolved.WithLabelValues(string(e.Content.Kind)).Inc()
	return codec.Reconstruct(e), nil
}
func (s *Share) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// begin registers an in-flight operation unless shutdown has started.
func (s *Share) begin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.shutdown {
		return false
	}
	s.opWg.Add(1)
	return true
}

// Shutdown rejects new operations and waits for in-flight ones.
func (s *Share) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	s.opWg.Wait()
	util.Debug().Msg("share service shutdown complete")
}
