package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/walletapi/internal/apperrors"
	"github.com/nkiryanov/walletapi/internal/models"
)

const refTopupIndex = "wallet_transactions_ref_topup_id_key"

type TransactionRepo struct {
	DB DBTX
}

const createTransaction = `-- name: CreateTransaction
INSERT INTO wallet_transactions (id, user_id, type, source, amount, running_balance, ref_topup_id, description, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id, user_id, type, source, amount, running_balance, ref_topup_id, description, created_at
`

func (r *TransactionRepo) Create(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, createTransaction, t.ID, t.UserID, t.Type, t.Source, t.Amount, t.RunningBalance, t.RefTopupID, t.Description, t.CreatedAt)
	created, err := pgx.CollectOneRow(rows, rowToTransaction)

	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return created, nil
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == refTopupIndex:
		return created, fmt.Errorf("topup %s already credited: %w", *t.RefTopupID, apperrors.ErrTopupFinalized)
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation:
		return created, apperrors.ErrWalletNotFound
	default:
		return created, fmt.Errorf("db error: %w", err)
	}
}

const listTransactions = `-- name: ListTransactions newest first
SELECT id, user_id, type, source, amount, running_balance, ref_topup_id, description, created_at
FROM wallet_transactions
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`

func (r *TransactionRepo) List(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, listTransactions, userID, limit)
	transactions, err := pgx.CollectRows(rows, rowToTransaction)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return transactions, nil
}

func rowToTransaction(row pgx.CollectableRow) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.Type, &t.Source, &t.Amount, &t.RunningBalance, &t.RefTopupID, &t.Description, &t.CreatedAt)
	return t, err
}
