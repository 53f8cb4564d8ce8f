package repository

import (
	"context"
	"time"

	"github.com/nkiryanov/walletapi/internal/models"
)

type Storage interface {
	Wallet() WalletRepo
	Topup() TopupRepo
	Transaction() TransactionRepo

	// Run fn inside a database transaction
	// Commit if fn returns nil, rollback otherwise. Nested calls use savepoints
	InTx(ctx context.Context, fn func(Storage) error) error
}

// Wallet repository interface
type WalletRepo interface {
	// Create a zero balance wallet if user has none. Idempotent
	EnsureExists(ctx context.Context, userID string) error

	// Get wallet by user id
	// If forUpdate is set the row stays locked until transaction ends
	// If wallet not found must return apperrors.ErrWalletNotFound
	Get(ctx context.Context, userID string, forUpdate bool) (models.Wallet, error)

	// Overwrite wallet balance
	// Negative balance must fail with apperrors.ErrBalanceInsufficient
	SetBalance(ctx context.Context, userID string, balance int64) (models.Wallet, error)

	// Overwrite wallet gems counter
	// Negative counter must fail with apperrors.ErrNotEnoughGems
	SetGems(ctx context.Context, userID string, gems int64) (models.Wallet, error)
}

type ListTopupsOpts struct {
	CreatedBefore time.Time
	Limit         int
}

// TopupAttempt repository interface
type TopupRepo interface {
	Create(ctx context.Context, t models.TopupAttempt) (models.TopupAttempt, error)

	// Get attempt by id, optionally locking the row
	// If attempt not found must return apperrors.ErrTopupNotFound
	Get(ctx context.Context, id string, forUpdate bool) (models.TopupAttempt, error)

	// Get attempt bound to provider reference
	// If there is none must return apperrors.ErrTopupNotFound
	GetByProviderRef(ctx context.Context, providerRef string) (models.TopupAttempt, error)

	// Move pending attempt to succeeded
	// If providerRef is bound to another attempt must return apperrors.ErrProviderRefConflict
	// If attempt is not pending must return apperrors.ErrTopupFinalized
	MarkSucceeded(ctx context.Context, id string, providerRef string, completedAt time.Time) (models.TopupAttempt, error)

	// Move pending attempt to failed
	// If attempt is not pending must return apperrors.ErrTopupFinalized
	MarkFailed(ctx context.Context, id string, code string, message string, completedAt time.Time) (models.TopupAttempt, error)

	// Pending attempts, oldest first
	ListPending(ctx context.Context, opts ListTopupsOpts) ([]models.TopupAttempt, error)
}

// Ledger repository interface. Entries are append only
type TransactionRepo interface {
	// If the topup already backs an entry must return apperrors.ErrTopupFinalized
	Create(ctx context.Context, t models.Transaction) (models.Transaction, error)

	// Newest entries first
	List(ctx context.Context, userID string, limit int) ([]models.Transaction, error)
}
