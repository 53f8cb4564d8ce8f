package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/nkiryanov/walletapi/internal/apperrors"
	"github.com/nkiryanov/walletapi/internal/events"
	"github.com/nkiryanov/walletapi/internal/logger"
	"github.com/nkiryanov/walletapi/internal/metrics"
	"github.com/nkiryanov/walletapi/internal/models"
	"github.com/nkiryanov/walletapi/internal/repository"
)

const (
	DefaultMinTopupAmount int64 = 100
	DefaultMaxTopupAmount int64 = 10_000_000
	DefaultTxTimeout            = 5 * time.Second
	DefaultTxRetries     uint64 = 3

	// Page size and upper bound for transactions listing
	MaxTransactionsLimit = 50
)

type Config struct {
	// Smallest amount (minor units) accepted for a topup
	MinTopupAmount int64

	// Largest amount (minor units) accepted for a topup
	MaxTopupAmount int64

	// Deadline for a single storage transaction attempt
	TxTimeout time.Duration

	// How many times transaction is retried after serialization failure or deadlock
	TxRetries uint64
}

type eventPublisher interface {
	Publish(ctx context.Context, e events.Event) error
}

// Service owns every write to wallets, topup attempts and wallet transactions
type Service struct {
	cfg       Config
	storage   repository.Storage
	publisher eventPublisher
	logger    logger.Logger
	ids       *idGenerator
}

func NewService(cfg Config, storage repository.Storage, publisher eventPublisher, l logger.Logger) *Service {
	if cfg.MinTopupAmount <= 0 {
		cfg.MinTopupAmount = DefaultMinTopupAmount
	}
	if cfg.MaxTopupAmount <= 0 {
		cfg.MaxTopupAmount = DefaultMaxTopupAmount
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = DefaultTxTimeout
	}
	if cfg.TxRetries == 0 {
		cfg.TxRetries = DefaultTxRetries
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		cfg:       cfg,
		storage:   storage,
		publisher: publisher,
		logger:    l,
		ids:       newIDGenerator(),
	}
}

// RequestTopup validates the request and stores a pending attempt. Wallet is not touched
func (s *Service) RequestTopup(ctx context.Context, userID string, amount int64, provider string) (models.TopupAttempt, error) {
	switch {
	case userID == "":
		return models.TopupAttempt{}, apperrors.ErrInvalidUser
	case amount < s.cfg.MinTopupAmount:
		return models.TopupAttempt{}, fmt.Errorf("%w: minimum is %d", apperrors.ErrInvalidAmount, s.cfg.MinTopupAmount)
	case amount > s.cfg.MaxTopupAmount:
		return models.TopupAttempt{}, fmt.Errorf("%w: maximum is %d", apperrors.ErrInvalidAmount, s.cfg.MaxTopupAmount)
	case !models.IsSupportedProvider(provider):
		return models.TopupAttempt{}, fmt.Errorf("%w: %q", apperrors.ErrUnsupportedProvider, provider)
	}

	t, err := s.storage.Topup().Create(ctx, models.TopupAttempt{
		ID:        s.ids.topupID(),
		UserID:    userID,
		Provider:  provider,
		Amount:    amount,
		Currency:  models.DefaultCurrency,
		Status:    models.TopupStatusPending,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return t, fmt.Errorf("can't create topup. Err: %w", err)
	}

	metrics.TopupsRequested.WithLabelValues(provider).Inc()
	s.logger.Info("Topup requested", "topup_id", t.ID, "user_id", userID, "provider", provider, "amount", amount)

	return t, nil
}

// CreditIfNotCredited applies topup to the wallet exactly once
//
// Already succeeded attempt is returned unchanged, so the call is safe to repeat.
// Balance, ledger entry and attempt status are committed together or not at all.
func (s *Service) CreditIfNotCredited(ctx context.Context, topupID string, providerRef string) (models.TopupAttempt, error) {
	if providerRef == "" {
		return models.TopupAttempt{}, apperrors.ErrInvalidProviderRef
	}

	var (
		topup models.TopupAttempt
		entry models.Transaction
		fresh bool
	)

	err := s.inTx(ctx, func(ctx context.Context, st repository.Storage) error {
		fresh = false

		// Attempt row is locked first and wallet second, every writer keeps this order
		t, err := st.Topup().Get(ctx, topupID, true)
		if err != nil {
			return err
		}

		if t.IsFinal() {
			if t.Status == models.TopupStatusSucceeded {
				topup = t
				return nil
			}
			return fmt.Errorf("topup %s is %s: %w", t.ID, t.Status, apperrors.ErrTopupFinalized)
		}

		owner, err := st.Topup().GetByProviderRef(ctx, providerRef)
		switch {
		case err == nil && owner.ID != t.ID:
			return fmt.Errorf("provider ref %q belongs to %s: %w", providerRef, owner.ID, apperrors.ErrProviderRefConflict)
		case err != nil && !errors.Is(err, apperrors.ErrTopupNotFound):
			return err
		}

		if err := st.Wallet().EnsureExists(ctx, t.UserID); err != nil {
			return err
		}
		w, err := st.Wallet().Get(ctx, t.UserID, true)
		if err != nil {
			return err
		}

		if err := checkCredit(w, t.Amount); err != nil {
			return err
		}

		w, err = st.Wallet().SetBalance(ctx, t.UserID, w.Balance+t.Amount)
		if err != nil {
			return err
		}

		now := time.Now()
		entry, err = st.Transaction().Create(ctx, models.Transaction{
			ID:             s.ids.transactionID(now),
			UserID:         t.UserID,
			Type:           models.TransactionTypeCredit,
			Source:         models.TransactionSourceTopup,
			Amount:         t.Amount,
			RunningBalance: w.Balance,
			RefTopupID:     &t.ID,
			Description:    t.Provider + " topup",
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}

		topup, err = st.Topup().MarkSucceeded(ctx, t.ID, providerRef, now)
		if err != nil {
			return err
		}

		fresh = true
		return nil
	})
	if err != nil {
		return models.TopupAttempt{}, fmt.Errorf("can't credit topup %s. Err: %w", topupID, err)
	}

	if !fresh {
		metrics.CreditReplays.Inc()
		s.logger.Debug("Topup already credited", "topup_id", topup.ID)
		return topup, nil
	}

	metrics.TopupsCredited.WithLabelValues(topup.Provider).Inc()
	metrics.LedgerAmount.WithLabelValues(entry.Type, entry.Source).Add(float64(entry.Amount))
	s.logger.Info("Topup credited", "topup_id", topup.ID, "user_id", topup.UserID, "amount", topup.Amount, "balance", entry.RunningBalance)

	s.publish(ctx, events.Event{
		EventType:     events.TypeTopupCredited,
		UserID:        topup.UserID,
		TopupID:       topup.ID,
		TransactionID: entry.ID,
		Status:        topup.Status,
		Amount:        entry.Amount,
		BalanceAfter:  entry.RunningBalance,
		Currency:      topup.Currency,
	})

	return topup, nil
}

// FailTopup finalizes pending attempt as failed. Wallet is not touched
// Already failed attempt is returned unchanged, succeeded one can't be failed
func (s *Service) FailTopup(ctx context.Context, topupID string, code string, message string) (models.TopupAttempt, error) {
	var (
		topup models.TopupAttempt
		fresh bool
	)

	err := s.inTx(ctx, func(ctx context.Context, st repository.Storage) error {
		fresh = false

		t, err := st.Topup().Get(ctx, topupID, true)
		if err != nil {
			return err
		}

		if t.IsFinal() {
			if t.Status == models.TopupStatusFailed {
				topup = t
				return nil
			}
			return fmt.Errorf("topup %s is %s: %w", t.ID, t.Status, apperrors.ErrTopupFinalized)
		}

		topup, err = st.Topup().MarkFailed(ctx, t.ID, code, message, time.Now())
		if err != nil {
			return err
		}

		fresh = true
		return nil
	})
	if err != nil {
		return models.TopupAttempt{}, fmt.Errorf("can't fail topup %s. Err: %w", topupID, err)
	}

	if !fresh {
		return topup, nil
	}

	metrics.TopupsFailed.WithLabelValues(code).Inc()
	s.logger.Info("Topup failed", "topup_id", topup.ID, "user_id", topup.UserID, "code", code)

	s.publish(ctx, events.Event{
		EventType:   events.TypeTopupFailed,
		UserID:      topup.UserID,
		TopupID:     topup.ID,
		Status:      topup.Status,
		Amount:      topup.Amount,
		Currency:    topup.Currency,
		FailureCode: code,
	})

	return topup, nil
}

// GetTopup returns attempt owned by user. Attempts of other users are reported as not found
func (s *Service) GetTopup(ctx context.Context, userID string, topupID string) (models.TopupAttempt, error) {
	t, err := s.storage.Topup().Get(ctx, topupID, false)
	if err != nil {
		return t, err
	}
	if t.UserID != userID {
		return models.TopupAttempt{}, apperrors.ErrTopupNotFound
	}
	return t, nil
}

func (s *Service) ListPendingTopups(ctx context.Context, createdBefore time.Time, limit int) ([]models.TopupAttempt, error) {
	return s.storage.Topup().ListPending(ctx, repository.ListTopupsOpts{
		CreatedBefore: createdBefore,
		Limit:         limit,
	})
}

// Debit takes amount from the wallet and appends DEBIT entry
// Fails with apperrors.ErrBalanceInsufficient if balance does not cover the amount
func (s *Service) Debit(ctx context.Context, userID string, amount int64, source string, description string) (models.Transaction, error) {
	switch {
	case userID == "":
		return models.Transaction{}, apperrors.ErrInvalidUser
	case amount <= 0:
		return models.Transaction{}, fmt.Errorf("%w: must be positive", apperrors.ErrInvalidAmount)
	case !slices.Contains(models.DebitSources, source):
		return models.Transaction{}, fmt.Errorf("%w: %q", apperrors.ErrInvalidSource, source)
	}

	var entry models.Transaction

	err := s.inTx(ctx, func(ctx context.Context, st repository.Storage) error {
		if err := st.Wallet().EnsureExists(ctx, userID); err != nil {
			return err
		}
		w, err := st.Wallet().Get(ctx, userID, true)
		if err != nil {
			return err
		}
		if w.Balance < amount {
			return apperrors.ErrBalanceInsufficient
		}

		w, err = st.Wallet().SetBalance(ctx, userID, w.Balance-amount)
		if err != nil {
			return err
		}

		now := time.Now()
		entry, err = st.Transaction().Create(ctx, models.Transaction{
			ID:             s.ids.transactionID(now),
			UserID:         userID,
			Type:           models.TransactionTypeDebit,
			Source:         source,
			Amount:         amount,
			RunningBalance: w.Balance,
			Description:    description,
			CreatedAt:      now,
		})
		return err
	})
	if err != nil {
		return models.Transaction{}, fmt.Errorf("can't debit wallet. Err: %w", err)
	}

	metrics.LedgerAmount.WithLabelValues(entry.Type, entry.Source).Add(float64(entry.Amount))
	s.logger.Info("Wallet debited", "user_id", userID, "amount", amount, "source", source, "balance", entry.RunningBalance)

	s.publish(ctx, events.Event{
		EventType:     events.TypeWalletDebited,
		UserID:        userID,
		TransactionID: entry.ID,
		Amount:        entry.Amount,
		BalanceAfter:  entry.RunningBalance,
		Currency:      models.DefaultCurrency,
	})

	return entry, nil
}

// AwardGems adds gems to user wallet. Balance is not touched
func (s *Service) AwardGems(ctx context.Context, userID string, gems int64) (models.Wallet, error) {
	switch {
	case userID == "":
		return models.Wallet{}, apperrors.ErrInvalidUser
	case gems <= 0:
		return models.Wallet{}, fmt.Errorf("%w: gems must be positive", apperrors.ErrInvalidAmount)
	}

	var w models.Wallet

	err := s.inTx(ctx, func(ctx context.Context, st repository.Storage) error {
		if err := st.Wallet().EnsureExists(ctx, userID); err != nil {
			return err
		}
		cur, err := st.Wallet().Get(ctx, userID, true)
		if err != nil {
			return err
		}
		if cur.Gems > math.MaxInt64-gems {
			return fmt.Errorf("gems counter: %w", apperrors.ErrBalanceLimit)
		}

		w, err = st.Wallet().SetGems(ctx, userID, cur.Gems+gems)
		return err
	})
	if err != nil {
		return models.Wallet{}, fmt.Errorf("can't award gems. Err: %w", err)
	}

	s.logger.Info("Gems awarded", "user_id", userID, "gems", gems, "total", w.Gems)
	return w, nil
}

// GemConversion is the outcome of ConvertGems
type GemConversion struct {
	Wallet      models.Wallet
	GemsUsed    int64
	Transaction models.Transaction
}

// ConvertGems turns whole batches of gems into balance and appends ADJUSTMENT credit entry
// Remainder smaller than a batch stays on the wallet
func (s *Service) ConvertGems(ctx context.Context, userID string) (GemConversion, error) {
	if userID == "" {
		return GemConversion{}, apperrors.ErrInvalidUser
	}

	var conv GemConversion

	err := s.inTx(ctx, func(ctx context.Context, st repository.Storage) error {
		conv = GemConversion{}

		if err := st.Wallet().EnsureExists(ctx, userID); err != nil {
			return err
		}
		w, err := st.Wallet().Get(ctx, userID, true)
		if err != nil {
			return err
		}

		used, value := models.ConvertibleGems(w.Gems)
		if used == 0 {
			return fmt.Errorf("%w: at least %d gems are required, have %d", apperrors.ErrNotEnoughGems, models.GemBatchSize, w.Gems)
		}
		if err := checkCredit(w, value); err != nil {
			return err
		}

		if _, err = st.Wallet().SetGems(ctx, userID, w.Gems-used); err != nil {
			return err
		}
		w, err = st.Wallet().SetBalance(ctx, userID, w.Balance+value)
		if err != nil {
			return err
		}

		now := time.Now()
		entry, err := st.Transaction().Create(ctx, models.Transaction{
			ID:             s.ids.transactionID(now),
			UserID:         userID,
			Type:           models.TransactionTypeCredit,
			Source:         models.TransactionSourceAdjustment,
			Amount:         value,
			RunningBalance: w.Balance,
			Description:    fmt.Sprintf("converted %d gems", used),
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}

		conv = GemConversion{Wallet: w, GemsUsed: used, Transaction: entry}
		return nil
	})
	if err != nil {
		return GemConversion{}, fmt.Errorf("can't convert gems. Err: %w", err)
	}

	entry := conv.Transaction
	metrics.LedgerAmount.WithLabelValues(entry.Type, entry.Source).Add(float64(entry.Amount))
	s.logger.Info("Gems converted", "user_id", userID, "gems_used", conv.GemsUsed, "amount", entry.Amount, "balance", entry.RunningBalance)

	s.publish(ctx, events.Event{
		EventType:     events.TypeWalletCredited,
		UserID:        userID,
		TransactionID: entry.ID,
		Amount:        entry.Amount,
		BalanceAfter:  entry.RunningBalance,
		Currency:      conv.Wallet.Currency,
	})

	return conv, nil
}

// checkCredit rejects credit that would overflow int64 balance
func checkCredit(w models.Wallet, amount int64) error {
	if w.Balance > math.MaxInt64-amount {
		return fmt.Errorf("balance %d can't take %d more: %w", w.Balance, amount, apperrors.ErrBalanceLimit)
	}
	return nil
}

// GetBalance returns user wallet, creating an empty one on first access
func (s *Service) GetBalance(ctx context.Context, userID string) (models.Wallet, error) {
	if userID == "" {
		return models.Wallet{}, apperrors.ErrInvalidUser
	}

	if err := s.storage.Wallet().EnsureExists(ctx, userID); err != nil {
		return models.Wallet{}, fmt.Errorf("can't create wallet. Err: %w", err)
	}

	return s.storage.Wallet().Get(ctx, userID, false)
}

// ListTransactions returns newest entries first
// Non-positive limit means default page, larger than MaxTransactionsLimit is cut down
func (s *Service) ListTransactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	if userID == "" {
		return nil, apperrors.ErrInvalidUser
	}
	if limit <= 0 || limit > MaxTransactionsLimit {
		limit = MaxTransactionsLimit
	}

	return s.storage.Transaction().List(ctx, userID, limit)
}

// Events are published after commit; failure is logged and never rolls back the ledger
func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("Failed to publish ledger event", "event_type", e.EventType, "user_id", e.UserID, "error", err)
	}
}
