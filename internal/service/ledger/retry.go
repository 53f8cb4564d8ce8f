package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/walletapi/internal/apperrors"
	"github.com/nkiryanov/walletapi/internal/metrics"
	"github.com/nkiryanov/walletapi/internal/repository"
)

// Errors after which the whole transaction may be safely run again
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}

	switch pgErr.Code {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
		return true
	default:
		return false
	}
}

func (s *Service) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 0 // bounded by retries count

	return backoff.WithContext(backoff.WithMaxRetries(b, s.cfg.TxRetries), ctx)
}

// inTx runs fn in a storage transaction bounded by TxTimeout
// Transient failures are retried, fn has to be safe to run again from the beginning
// fn gets context of the current attempt and must use it for every query
func (s *Service) inTx(ctx context.Context, fn func(context.Context, repository.Storage) error) error {
	attempt := 0

	operation := func() error {
		if attempt > 0 {
			metrics.StorageTxRetries.Inc()
		}
		attempt++

		txCtx, cancel := context.WithTimeout(ctx, s.cfg.TxTimeout)
		defer cancel()

		err := s.storage.InTx(txCtx, func(st repository.Storage) error {
			return fn(txCtx, st)
		})

		switch {
		case err == nil:
			return nil
		case isTransient(err):
			s.logger.Warn("Transient storage error, transaction will be retried", "attempt", attempt, "error", err)
			return err
		case ctx.Err() == nil && errors.Is(txCtx.Err(), context.DeadlineExceeded):
			return backoff.Permanent(fmt.Errorf("%w: timeout after %s: %w", apperrors.ErrStorageTx, s.cfg.TxTimeout, err))
		default:
			return backoff.Permanent(err)
		}
	}

	err := backoff.Retry(operation, s.newBackOff(ctx))
	if err != nil && isTransient(err) {
		return fmt.Errorf("%w: retries exhausted: %w", apperrors.ErrStorageTx, err)
	}

	return err
}
