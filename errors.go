package replaybuf

import (
	"errors"
	"fmt"

	"github.com/hupe1980/replaybuf/chunkstore"
	"github.com/hupe1980/replaybuf/extension"
	"github.com/hupe1980/replaybuf/ratelimiter"
	"github.com/hupe1980/replaybuf/selector"
	"github.com/hupe1980/replaybuf/table"
)

var (
	// ErrNotFound is returned for unknown tables, items or chunks.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is returned for malformed requests.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrFailedPrecondition is returned when a request is well-formed but
	// the store's current state cannot serve it.
	ErrFailedPrecondition = errors.New("failed precondition")
	// ErrResourceExhausted is returned when a full table cannot evict.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrCancelled is returned when a blocked operation is aborted by its
	// context or by server shutdown.
	ErrCancelled = errors.New("operation cancelled")
	// ErrStreamClosed is returned for operations on a closed insert stream.
	ErrStreamClosed = errors.New("insert stream closed")
)

// translateError maps subsystem errors onto the package sentinels. The
// original error remains reachable via errors.Unwrap.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrFailedPrecondition),
		errors.Is(err, ErrResourceExhausted),
		errors.Is(err, ErrCancelled):
		return err

	case errors.Is(err, table.ErrNotFound),
		errors.Is(err, chunkstore.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)

	case errors.Is(err, table.ErrInvalidArgument),
		errors.Is(err, chunkstore.ErrChunkConflict),
		errors.Is(err, selector.ErrDuplicateKey),
		errors.Is(err, selector.ErrKeyNotFound):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)

	case errors.Is(err, table.ErrResourceExhausted):
		return fmt.Errorf("%w: %w", ErrResourceExhausted, err)

	case errors.Is(err, ratelimiter.ErrCancelled):
		return fmt.Errorf("%w: %w", ErrCancelled, err)

	case errors.Is(err, selector.ErrZeroWeightSum),
		errors.Is(err, selector.ErrEmpty),
		errors.Is(err, extension.ErrAlreadyRegistered),
		errors.Is(err, ratelimiter.ErrAlreadyRegistered):
		return fmt.Errorf("%w: %w", ErrFailedPrecondition, err)
	}

	return err
}
