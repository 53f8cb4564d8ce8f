package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/walletapi/internal/logger"
	"github.com/nkiryanov/walletapi/internal/models"
	"github.com/nkiryanov/walletapi/internal/service/provider"
)

type clientFunc func(ctx context.Context, topupID string) (provider.Payment, error)

func (f clientFunc) GetPayment(ctx context.Context, topupID string) (provider.Payment, error) {
	return f(ctx, topupID)
}

type call struct {
	method  string
	topupID string
	arg     string
}

type fakeLedger struct {
	mu      sync.Mutex
	pending []models.TopupAttempt
	calls   []call

	createdBefore time.Time
	limit         int
}

func (l *fakeLedger) ListPendingTopups(_ context.Context, createdBefore time.Time, limit int) ([]models.TopupAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.createdBefore, l.limit = createdBefore, limit
	return l.pending, nil
}

func (l *fakeLedger) CreditIfNotCredited(_ context.Context, topupID string, providerRef string) (models.TopupAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call{"credit", topupID, providerRef})
	return models.TopupAttempt{ID: topupID, Status: models.TopupStatusSucceeded}, nil
}

func (l *fakeLedger) FailTopup(_ context.Context, topupID string, code string, _ string) (models.TopupAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call{"fail", topupID, code})
	return models.TopupAttempt{ID: topupID, Status: models.TopupStatusFailed}, nil
}

func (l *fakeLedger) Calls() []call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]call(nil), l.calls...)
}

func TestConsumer_reconcile(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	fresh := models.TopupAttempt{ID: "top_1", CreatedAt: now.Add(-time.Minute)}

	newConsumer := func(ledger *fakeLedger, client clientFunc) *Consumer {
		return &Consumer{
			countWorkers: 1,
			expireAfter:  30 * time.Minute,
			client:       client,
			ledger:       ledger,
			logger:       logger.NewNoOpLogger(),
			now:          func() time.Time { return now },
		}
	}

	tests := []struct {
		name    string
		topup   models.TopupAttempt
		payment provider.Payment
		err     error
		want    []call
	}{
		{
			name:    "succeeded payment credited",
			topup:   fresh,
			payment: provider.Payment{TopupID: "top_1", Status: provider.PaymentSucceeded, ProviderRef: "BKASH_REF_1"},
			want:    []call{{"credit", "top_1", "BKASH_REF_1"}},
		},
		{
			name:    "failed payment with code",
			topup:   fresh,
			payment: provider.Payment{TopupID: "top_1", Status: provider.PaymentFailed, FailureCode: "insufficient_funds"},
			want:    []call{{"fail", "top_1", "insufficient_funds"}},
		},
		{
			name:    "failed payment without code",
			topup:   fresh,
			payment: provider.Payment{TopupID: "top_1", Status: provider.PaymentFailed},
			want:    []call{{"fail", "top_1", "declined"}},
		},
		{
			name:    "pending payment skipped",
			topup:   fresh,
			payment: provider.Payment{TopupID: "top_1", Status: provider.PaymentPending},
		},
		{
			name:  "no content skipped",
			topup: fresh,
			err:   provider.NewError(provider.CodeNoContent, 0, errors.New("no content")),
		},
		{
			name:  "unexpected error skipped",
			topup: fresh,
			err:   errors.New("connection refused"),
		},
		{
			name:  "expired topup failed without asking provider",
			topup: models.TopupAttempt{ID: "top_1", CreatedAt: now.Add(-time.Hour)},
			err:   errors.New("provider must not be called"),
			want:  []call{{"fail", "top_1", FailureCodeExpired}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &fakeLedger{}
			c := newConsumer(ledger, func(context.Context, string) (provider.Payment, error) {
				return tt.payment, tt.err
			})

			c.reconcile(t.Context(), tt.topup)

			require.Equal(t, tt.want, ledger.Calls())
		})
	}

	t.Run("rate limit pauses workers", func(t *testing.T) {
		ledger := &fakeLedger{}
		c := newConsumer(ledger, func(context.Context, string) (provider.Payment, error) {
			return provider.Payment{}, provider.NewError(provider.CodeRetryAfter, 30, errors.New("throttled"))
		})

		c.reconcile(t.Context(), fresh)

		require.Equal(t, now.Add(30*time.Second).UnixNano(), c.waitUntil.Load())
		require.Empty(t, ledger.Calls())
	})
}

func TestConsumer_Consume(t *testing.T) {
	ledger := &fakeLedger{}
	c := &Consumer{
		countWorkers: 3,
		expireAfter:  time.Hour,
		client: clientFunc(func(_ context.Context, topupID string) (provider.Payment, error) {
			return provider.Payment{TopupID: topupID, Status: provider.PaymentSucceeded, ProviderRef: "REF_" + topupID}, nil
		}),
		ledger: ledger,
		logger: logger.NewNoOpLogger(),
		now:    time.Now,
	}

	in := make(chan models.TopupAttempt)
	stopped := c.Consume(t.Context(), in)

	for _, id := range []string{"top_1", "top_2", "top_3", "top_4"} {
		in <- models.TopupAttempt{ID: id, CreatedAt: time.Now()}
	}
	close(in)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer has to stop when input is closed")
	}

	require.ElementsMatch(t, []call{
		{"credit", "top_1", "REF_top_1"},
		{"credit", "top_2", "REF_top_2"},
		{"credit", "top_3", "REF_top_3"},
		{"credit", "top_4", "REF_top_4"},
	}, ledger.Calls())
}

func TestProducer_produce(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := &fakeLedger{pending: []models.TopupAttempt{{ID: "top_1"}, {ID: "top_2"}}}
	p := &Producer{
		schedule:  DefaultSchedule,
		grace:     30 * time.Second,
		batchSize: 10,
		ledger:    ledger,
		logger:    logger.NewNoOpLogger(),
		now:       func() time.Time { return now },
	}

	out := make(chan models.TopupAttempt, 2)
	p.produce(t.Context(), out)
	close(out)

	var got []string
	for topup := range out {
		got = append(got, topup.ID)
	}

	require.Equal(t, []string{"top_1", "top_2"}, got)
	require.Equal(t, now.Add(-30*time.Second), ledger.createdBefore, "fresh topups have to be left for webhook")
	require.Equal(t, 10, ledger.limit)

	t.Run("stops on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		blocked := make(chan models.TopupAttempt)
		p.produce(ctx, blocked) // must return, nobody reads
	})
}

func TestReconciler_Run(t *testing.T) {
	t.Run("stops on context cancel", func(t *testing.T) {
		r := New(Config{}, clientFunc(func(context.Context, string) (provider.Payment, error) {
			return provider.Payment{}, nil
		}), &fakeLedger{}, logger.NewNoOpLogger())

		ctx, cancel := context.WithCancel(t.Context())
		stopped, err := r.Run(ctx)
		require.NoError(t, err)

		cancel()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			t.Fatal("reconciler has to stop on context cancel")
		}
	})

	t.Run("invalid schedule", func(t *testing.T) {
		r := New(Config{Schedule: "every now and then"}, nil, &fakeLedger{}, logger.NewNoOpLogger())

		_, err := r.Run(t.Context())

		require.Error(t, err)
	})
}
