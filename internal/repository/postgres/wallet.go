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
)

type WalletRepo struct {
	DB DBTX
}

const ensureWallet = `-- name: EnsureWallet
INSERT INTO wallets (user_id, balance, currency, created_at, updated_at)
VALUES ($1, 0, $2, $3, $3)
ON CONFLICT (user_id) DO NOTHING
`

func (r *WalletRepo) EnsureExists(ctx context.Context, userID string) error {
	_, err := r.DB.Exec(ctx, ensureWallet, userID, models.DefaultCurrency, time.Now())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const getWallet = `-- name: GetWallet
SELECT user_id, balance, gems, currency, created_at, updated_at
FROM wallets
WHERE user_id = $1`

func (r *WalletRepo) Get(ctx context.Context, userID string, forUpdate bool) (models.Wallet, error) {
	rows, _ := r.DB.Query(ctx, getWallet+lockClause(forUpdate), userID)
	w, err := pgx.CollectOneRow(rows, rowToWallet)

	switch {
	case err == nil:
		return w, nil
	case errors.Is(err, pgx.ErrNoRows):
		return w, apperrors.ErrWalletNotFound
	default:
		return w, fmt.Errorf("db error: %w", err)
	}
}

const setBalance = `-- name: SetBalance
UPDATE wallets
SET balance = $2, updated_at = $3
WHERE user_id = $1
RETURNING user_id, balance, gems, currency, created_at, updated_at
`

func (r *WalletRepo) SetBalance(ctx context.Context, userID string, balance int64) (models.Wallet, error) {
	rows, _ := r.DB.Query(ctx, setBalance, userID, balance, time.Now())
	return collectUpdated(rows, apperrors.ErrBalanceInsufficient)
}

const setGems = `-- name: SetGems
UPDATE wallets
SET gems = $2, updated_at = $3
WHERE user_id = $1
RETURNING user_id, balance, gems, currency, created_at, updated_at
`

func (r *WalletRepo) SetGems(ctx context.Context, userID string, gems int64) (models.Wallet, error) {
	rows, _ := r.DB.Query(ctx, setGems, userID, gems, time.Now())
	return collectUpdated(rows, apperrors.ErrNotEnoughGems)
}

// Check violation means the counter went negative and is reported as checkErr
func collectUpdated(rows pgx.Rows, checkErr error) (models.Wallet, error) {
	w, err := pgx.CollectOneRow(rows, rowToWallet)

	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return w, nil
	case errors.Is(err, pgx.ErrNoRows):
		return w, apperrors.ErrWalletNotFound
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation:
		return w, checkErr
	default:
		return w, fmt.Errorf("db error: %w", err)
	}
}

func rowToWallet(row pgx.CollectableRow) (models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.UserID, &w.Balance, &w.Gems, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}
