package ledger

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/nkiryanov/walletapi/internal/apperrors"
	"github.com/nkiryanov/walletapi/internal/models"
	"github.com/nkiryanov/walletapi/internal/repository"
)

type memState struct {
	wallets map[string]models.Wallet
	topups  map[string]models.TopupAttempt
	entries []models.Transaction
}

func (st *memState) clone() *memState {
	return &memState{
		wallets: maps.Clone(st.wallets),
		topups:  maps.Clone(st.topups),
		entries: slices.Clone(st.entries),
	}
}

// memStorage keeps everything in maps and follows storage contract of postgres implementation
// Transaction works on a copy of the state that replaces committed state only when fn and beforeCommit succeed
type memStorage struct {
	mu    *sync.Mutex
	state *memState

	// Set on storage handed to transaction body
	inTx bool

	attempts int

	// Called after successful fn with number of attempt (from 1) and committed state
	// Non nil error rolls the attempt back and is returned from InTx
	beforeCommit func(ctx context.Context, attempt int, committed *memState) error
}

func newMemStorage() *memStorage {
	return &memStorage{
		mu: &sync.Mutex{},
		state: &memState{
			wallets: map[string]models.Wallet{},
			topups:  map[string]models.TopupAttempt{},
		},
	}
}

func (s *memStorage) Wallet() repository.WalletRepo { return memWallets{s} }
func (s *memStorage) Topup() repository.TopupRepo { return memTopups{s} }
func (s *memStorage) Transaction() repository.TransactionRepo { return memEntries{s} }

func (s *memStorage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	s.attempts++
	attempt := s.attempts
	staged := &memStorage{mu: &sync.Mutex{}, state: s.state.clone(), inTx: true}
	s.mu.Unlock()

	if err := fn(staged); err != nil {
		return err
	}

	if s.beforeCommit != nil {
		if err := s.beforeCommit(ctx, attempt, s.state); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = staged.state
	return nil
}

// Attempts returns how many transactions were started
func (s *memStorage) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *memStorage) Committed() *memState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

type memWallets struct{ s *memStorage }

func (r memWallets) EnsureExists(_ context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.state.wallets[userID]; !ok {
		now := time.Now()
		r.s.state.wallets[userID] = models.Wallet{UserID: userID, Currency: models.DefaultCurrency, CreatedAt: now, UpdatedAt: now}
	}
	return nil
}

func (r memWallets) Get(ctx context.Context, userID string, _ bool) (models.Wallet, error) {
	if err := ctx.Err(); err != nil {
		return models.Wallet{}, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.state.wallets[userID]
	if !ok {
		return w, apperrors.ErrWalletNotFound
	}
	return w, nil
}

// Same as CHECK (balance >= 0) on wallets table
func (r memWallets) SetBalance(_ context.Context, userID string, balance int64) (models.Wallet, error) {
	return r.update(userID, balance < 0, apperrors.ErrBalanceInsufficient, func(w *models.Wallet) { w.Balance = balance })
}

func (r memWallets) SetGems(_ context.Context, userID string, gems int64) (models.Wallet, error) {
	return r.update(userID, gems < 0, apperrors.ErrNotEnoughGems, func(w *models.Wallet) { w.Gems = gems })
}

func (r memWallets) update(userID string, violates bool, checkErr error, set func(*models.Wallet)) (models.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.state.wallets[userID]
	switch {
	case !ok:
		return models.Wallet{}, apperrors.ErrWalletNotFound
	case violates:
		return models.Wallet{}, checkErr
	}

	set(&w)
	w.UpdatedAt = time.Now()
	r.s.state.wallets[userID] = w
	return w, nil
}

type memTopups struct{ s *memStorage }

func (r memTopups) Create(_ context.Context, t models.TopupAttempt) (models.TopupAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.state.topups[t.ID]; ok {
		return models.TopupAttempt{}, apperrors.ErrConflict
	}
	t.UpdatedAt = t.CreatedAt
	r.s.state.topups[t.ID] = t
	return t, nil
}

func (r memTopups) Get(ctx context.Context, id string, _ bool) (models.TopupAttempt, error) {
	if err := ctx.Err(); err != nil {
		return models.TopupAttempt{}, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.state.topups[id]
	if !ok {
		return t, apperrors.ErrTopupNotFound
	}
	return t, nil
}

func (r memTopups) GetByProviderRef(_ context.Context, providerRef string) (models.TopupAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, t := range r.s.state.topups {
		if t.ProviderRef != nil && *t.ProviderRef == providerRef {
			return t, nil
		}
	}
	return models.TopupAttempt{}, apperrors.ErrTopupNotFound
}

func (r memTopups) MarkSucceeded(_ context.Context, id string, providerRef string, completedAt time.Time) (models.TopupAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, other := range r.s.state.topups {
		if other.ID != id && other.ProviderRef != nil && *other.ProviderRef == providerRef {
			return models.TopupAttempt{}, apperrors.ErrProviderRefConflict
		}
	}
	return r.finalize(id, func(t *models.TopupAttempt) {
		t.Status = models.TopupStatusSucceeded
		t.ProviderRef = &providerRef
		t.CompletedAt = &completedAt
	})
}

func (r memTopups) MarkFailed(_ context.Context, id string, code string, message string, completedAt time.Time) (models.TopupAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.finalize(id, func(t *models.TopupAttempt) {
		t.Status = models.TopupStatusFailed
		t.FailureCode = &code
		t.FailureMessage = &message
		t.CompletedAt = &completedAt
	})
}

// Caller holds the lock
func (r memTopups) finalize(id string, set func(*models.TopupAttempt)) (models.TopupAttempt, error) {
	t, ok := r.s.state.topups[id]
	switch {
	case !ok:
		return t, apperrors.ErrTopupNotFound
	case t.IsFinal():
		return t, apperrors.ErrTopupFinalized
	}

	set(&t)
	t.UpdatedAt = time.Now()
	r.s.state.topups[id] = t
	return t, nil
}

func (r memTopups) ListPending(_ context.Context, opts repository.ListTopupsOpts) ([]models.TopupAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var pending []models.TopupAttempt
	for _, t := range r.s.state.topups {
		if !t.IsFinal() && t.CreatedAt.Before(opts.CreatedBefore) {
			pending = append(pending, t)
		}
	}
	slices.SortFunc(pending, func(a, b models.TopupAttempt) int { return a.CreatedAt.Compare(b.CreatedAt) })

	if opts.Limit > 0 && len(pending) > opts.Limit {
		pending = pending[:opts.Limit]
	}
	return pending, nil
}

type memEntries struct{ s *memStorage }

func (r memEntries) Create(_ context.Context, t models.Transaction) (models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if t.RefTopupID != nil {
		for _, e := range r.s.state.entries {
			if e.RefTopupID != nil && *e.RefTopupID == *t.RefTopupID {
				return models.Transaction{}, apperrors.ErrTopupFinalized
			}
		}
	}
	r.s.state.entries = append(r.s.state.entries, t)
	return t, nil
}

func (r memEntries) List(_ context.Context, userID string, limit int) ([]models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var res []models.Transaction
	for _, e := range r.s.state.entries {
		if e.UserID == userID {
			res = append(res, e)
		}
	}
	slices.SortFunc(res, func(a, b models.Transaction) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})

	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}
