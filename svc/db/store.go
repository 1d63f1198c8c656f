package db

import (
	"context"
	"sharebin/pkg/domain"
	"time"

	"github.com/pkg/errors"
)

// ErrIDTaken is returned by a backend when the candidate id already exists.
var ErrIDTaken = errors.New("id already in use")

var ErrClosed = errors.New("store closed")

const maxIDAttempts = 5

type Clock func() time.Time

type IDSource interface {
	Generate() (string, error)
}

func validateEntry(e *domain.Entry) error {
	if e == nil || !e.Content.Kind.Valid() {
		return domain.ErrInvalidSubmission
	}
	if e.ExpiresAt != nil && !e.ExpiresAt.After(e.CreatedAt) {
		return errors.Wrap(domain.ErrInvalidExpiration, "expiry must be after creation")
	}
	return nil
}

// insertWithFreshID mints ids until try stores one without colliding.
func insertWithFreshID(ctx context.Context, ids IDSource, try func(id string) error) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		id, err := ids.Generate()
		if err != nil {
			return "", errors.Wrap(err, "gen id")
		}
		err = try(id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrIDTaken) {
			return "", err
		}
	}
	return "", domain.ErrIDGenerationFailed
}

func unixNano(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
