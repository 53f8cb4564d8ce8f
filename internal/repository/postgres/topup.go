package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/walletapi/internal/apperrors"
	"github.com/nkiryanov/walletapi/internal/models"
	"github.com/nkiryanov/walletapi/internal/repository"
)

const providerRefIndex = "topup_attempts_provider_ref_key"

type TopupRepo struct {
	DB DBTX
}

const createTopup = `-- name: CreateTopup
INSERT INTO topup_attempts (id, user_id, provider, amount, currency, status, provider_ref, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
RETURNING id, user_id, provider, amount, currency, status, provider_ref, failure_code, failure_message, completed_at, created_at, updated_at
`

func (r *TopupRepo) Create(ctx context.Context, t models.TopupAttempt) (models.TopupAttempt, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	rows, _ := r.DB.Query(ctx, createTopup, t.ID, t.UserID, t.Provider, t.Amount, t.Currency, t.Status, t.ProviderRef, t.CreatedAt)
	created, err := pgx.CollectOneRow(rows, rowToTopup)

	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return created, nil
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == providerRefIndex:
		return created, apperrors.ErrProviderRefConflict
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation:
		return created, fmt.Errorf("topup %s already exists: %w", t.ID, apperrors.ErrConflict)
	default:
		return created, fmt.Errorf("db error: %w", err)
	}
}

const getTopup = `-- name: GetTopup
SELECT id, user_id, provider, amount, currency, status, provider_ref, failure_code, failure_message, completed_at, created_at, updated_at
FROM topup_attempts
WHERE id = $1`

func (r *TopupRepo) Get(ctx context.Context, id string, forUpdate bool) (models.TopupAttempt, error) {
	rows, _ := r.DB.Query(ctx, getTopup+lockClause(forUpdate), id)
	return collectTopup(rows)
}

const getTopupByProviderRef = `-- name: GetTopupByProviderRef
SELECT id, user_id, provider, amount, currency, status, provider_ref, failure_code, failure_message, completed_at, created_at, updated_at
FROM topup_attempts
WHERE provider_ref = $1
`

func (r *TopupRepo) GetByProviderRef(ctx context.Context, providerRef string) (models.TopupAttempt, error) {
	rows, _ := r.DB.Query(ctx, getTopupByProviderRef, providerRef)
	return collectTopup(rows)
}

const markTopupSucceeded = `-- name: MarkTopupSucceeded only if it pending
UPDATE topup_attempts
SET status = 'succeeded', provider_ref = $2, completed_at = $3, updated_at = $3
WHERE id = $1 AND status = 'pending'
RETURNING id, user_id, provider, amount, currency, status, provider_ref, failure_code, failure_message, completed_at, created_at, updated_at
`

func (r *TopupRepo) MarkSucceeded(ctx context.Context, id string, providerRef string, completedAt time.Time) (models.TopupAttempt, error) {
	rows, _ := r.DB.Query(ctx, markTopupSucceeded, id, providerRef, completedAt)
	t, err := pgx.CollectOneRow(rows, rowToTopup)

	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, pgx.ErrNoRows):
		return r.notPending(ctx, id)
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation:
		return t, apperrors.ErrProviderRefConflict
	default:
		return t, fmt.Errorf("db error: %w", err)
	}
}

const markTopupFailed = `-- name: MarkTopupFailed only if it pending
UPDATE topup_attempts
SET status = 'failed', failure_code = $2, failure_message = $3, completed_at = $4, updated_at = $4
WHERE id = $1 AND status = 'pending'
RETURNING id, user_id, provider, amount, currency, status, provider_ref, failure_code, failure_message, completed_at, created_at, updated_at
`

func (r *TopupRepo) MarkFailed(ctx context.Context, id string, code string, message string, completedAt time.Time) (models.TopupAttempt, error) {
	rows, _ := r.DB.Query(ctx, markTopupFailed, id, code, message, completedAt)
	t, err := pgx.CollectOneRow(rows, rowToTopup)

	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, pgx.ErrNoRows):
		return r.notPending(ctx, id)
	default:
		return t, fmt.Errorf("db error: %w", err)
	}
}

// Update matched nothing: attempt either absent or already finalized
func (r *TopupRepo) notPending(ctx context.Context, id string) (models.TopupAttempt, error) {
	t, err := r.Get(ctx, id, false)
	if err != nil {
		return t, err
	}
	return t, apperrors.ErrTopupFinalized
}

const listPendingTopups = `-- name: ListPendingTopups
SELECT id, user_id, provider, amount, currency, status, provider_ref, failure_code, failure_message, completed_at, created_at, updated_at
FROM topup_attempts
WHERE status = 'pending' AND created_at < $1
ORDER BY created_at ASC
LIMIT $2
`

func (r *TopupRepo) ListPending(ctx context.Context, opts repository.ListTopupsOpts) ([]models.TopupAttempt, error) {
	createdBefore := opts.CreatedBefore
	if createdBefore.IsZero() {
		createdBefore = time.Now()
	}

	var limit *int
	if opts.Limit > 0 {
		limit = &opts.Limit
	}

	rows, _ := r.DB.Query(ctx, listPendingTopups, createdBefore, limit)
	topups, err := pgx.CollectRows(rows, rowToTopup)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return topups, nil
}

func collectTopup(rows pgx.Rows) (models.TopupAttempt, error) {
	t, err := pgx.CollectOneRow(rows, rowToTopup)

	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, pgx.ErrNoRows):
		return t, apperrors.ErrTopupNotFound
	default:
		return t, fmt.Errorf("db error: %w", err)
	}
}

func rowToTopup(row pgx.CollectableRow) (models.TopupAttempt, error) {
	var t models.TopupAttempt
	err := row.Scan(
		&t.ID, &t.UserID, &t.Provider, &t.Amount, &t.Currency, &t.Status,
		&t.ProviderRef, &t.FailureCode, &t.FailureMessage, &t.CompletedAt,
		&t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}
