package postgres

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/walletapi/internal/apperrors"
	"github.com/nkiryanov/walletapi/internal/models"
	"github.com/nkiryanov/walletapi/internal/repository"
	"github.com/nkiryanov/walletapi/internal/testutil"
)

func pendingTopup(id string, userID string, amount int64) models.TopupAttempt {
	return models.TopupAttempt{
		ID:       id,
		UserID:   userID,
		Provider: models.ProviderBkash,
		Amount:   amount,
		Currency: models.DefaultCurrency,
		Status:   models.TopupStatusPending,
	}
}

func TestTopup(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	inTx := func(t *testing.T, outerTx DBTX, fn func(pgx.Tx, repository.Storage)) {
		testutil.InTx(outerTx, t, func(innerTx pgx.Tx) {
			storage := NewStorage(innerTx)
			fn(innerTx, storage)
		})
	}

	t.Run("Create", func(t *testing.T) {
		t.Run("create ok", func(t *testing.T) {
			inTx(t, pg.Pool, func(_ pgx.Tx, storage repository.Storage) {
				created, err := storage.Topup().Create(t.Context(), pendingTopup("top_1", "u1", 500))

				require.NoError(t, err)
				require.Equal(t, "top_1", created.ID)
				require.Equal(t, "u1", created.UserID)
				require.Equal(t, models.ProviderBkash, created.Provider)
				require.EqualValues(t, 500, created.Amount)
				require.Equal(t, models.TopupStatusPending, created.Status)
				require.Nil(t, created.ProviderRef)
				require.Nil(t, created.CompletedAt)
				require.False(t, created.CreatedAt.IsZero())
			})
		})

		t.Run("create duplicate id", func(t *testing.T) {
			inTx(t, pg.Pool, func(_ pgx.Tx, storage repository.Storage) {
				_, err := storage.Topup().Create(t.Context(), pendingTopup("top_1", "u1", 500))
				require.NoError(t, err)

				_, err = storage.Topup().Create(t.Context(), pendingTopup("top_1", "u1", 500))

				require.ErrorIs(t, err, apperrors.ErrConflict)
			})
		})

		t.Run("create with taken provider ref", func(t *testing.T) {
			inTx(t, pg.Pool, func(_ pgx.Tx, storage repository.Storage) {
				ref := "BKASH_REF_1"
				first := pendingTopup("top_1", "u1", 500)
				first.ProviderRef = &ref
				_, err := storage.Topup().Create(t.Context(), first)
				require.NoError(t, err)

				second := pendingTopup("top_2", "u1", 500)
				second.ProviderRef = &ref
				_, err = storage.Topup().Create(t.Context(), second)

				require.ErrorIs(t, err, apperrors.ErrProviderRefConflict)
			})
		})
	})

	t.Run("Get", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			_, err := storage.Topup().Create(t.Context(), pendingTopup("top_1", "u1", 500))
			require.NoError(t, err)

			t.Run("get existing", func(t *testing.T) {
				inTx(t, tx, func(_ pgx.Tx, storage repository.Storage) {
					got, err := storage.Topup().Get(t.Context(), "top_1", true)

					require.NoError(t, err)
					require.Equal(t, "top_1", got.ID)
				})
			})

			t.Run("get nonexistent", func(t *testing.T) {
				inTx(t, tx, func(_ pgx.Tx, storage repository.Storage) {
					_, err := storage.Topup().Get(t.Context(), "top_unknown", false)

					require.ErrorIs(t, err, apperrors.ErrTopupNotFound, "should return well known error")
				})
			})
		})
	})

	t.Run("MarkSucceeded", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			_, err := storage.Topup().Create(t.Context(), pendingTopup("top_1", "u1", 500))
			require.NoError(t, err)
			_, err = storage.Topup().Create(t.Context(), pendingTopup("top_2", "u1", 300))
			require.NoError(t, err)
			completedAt := testutil.MustParseTime(t, "2025-03-01 10:00:00Z")

			t.Run("mark ok", func(t *testing.T) {
				inTx(t, tx, func(_ pgx.Tx, storage repository.Storage) {
					got, err := storage.Topup().MarkSucceeded(t.Context(), "top_1", "BKASH_REF_1", completedAt)

					require.NoError(t, err)
					require.Equal(t, models.TopupStatusSucceeded, got.Status)
					require.NotNil(t, got.ProviderRef)
					require.Equal(t, "BKASH_REF_1", *got.ProviderRef)
					require.NotNil(t, got.CompletedAt)
					require.True(t, completedAt.Equal(*got.CompletedAt))

					byRef, err := storage.Topup().GetByProviderRef(t.Context(), "BKASH_REF_1")
					require.NoError(t, err)
					require.Equal(t, "top_1", byRef.ID)
				})
			})

			t.Run("mark twice", func(t *testing.T) {
				inTx(t, tx, func(_ pgx.Tx, storage repository.Storage) {
					_, err := storage.Topup().MarkSucceeded(t.Context(), "top_1", "BKASH_REF_1", completedAt)
					require.NoError(t, err)

					got, err := storage.Topup().MarkSucceeded(t.Context(), "top_1", "BKASH_REF_2", completedAt)

					require.ErrorIs(t, err, apperrors.ErrTopupFinalized)
					require.Equal(t, "BKASH_REF_1", *got.ProviderRef, "finalized attempt must be kept as is")
				})
			})

			t.Run("provider ref of another attempt", func(t *testing.T) {
				inTx(t, tx, func(_ pgx.Tx, storage repository.Storage) {
					_, err := storage.Topup().MarkSucceeded(t.Context(), "top_1", "BKASH_REF_1", completedAt)
					require.NoError(t, err)

					_, err = storage.Topup().MarkSucceeded(t.Context(), "top_2", "BKASH_REF_1", completedAt)

					require.ErrorIs(t, err, apperrors.ErrProviderRefConflict)
				})
			})

			t.Run("nonexistent", func(t *testing.T) {
				inTx(t, tx, func(_ pgx.Tx, storage repository.Storage) {
					_, err := storage.Topup().MarkSucceeded(t.Context(), "top_unknown", "BKASH_REF_1", completedAt)

					require.ErrorIs(t, err, apperrors.ErrTopupNotFound)
				})
			})
		})
	})

	t.Run("MarkFailed", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			_, err := storage.Topup().Create(t.Context(), pendingTopup("top_1", "u1", 500))
			require.NoError(t, err)

			t.Run("mark ok", func(t *testing.T) {
				inTx(t, tx, func(_ pgx.Tx, storage repository.Storage) {
					got, err := storage.Topup().MarkFailed(t.Context(), "top_1", "expired", "not confirmed in time", time.Now())

					require.NoError(t, err)
					require.Equal(t, models.TopupStatusFailed, got.Status)
					require.Equal(t, "expired", *got.FailureCode)
					require.Equal(t, "not confirmed in time", *got.FailureMessage)
					require.Nil(t, got.ProviderRef)
				})
			})

			t.Run("mark succeeded attempt", func(t *testing.T) {
				inTx(t, tx, func(_ pgx.Tx, storage repository.Storage) {
					_, err := storage.Topup().MarkSucceeded(t.Context(), "top_1", "BKASH_REF_1", time.Now())
					require.NoError(t, err)

					_, err = storage.Topup().MarkFailed(t.Context(), "top_1", "declined", "", time.Now())

					require.ErrorIs(t, err, apperrors.ErrTopupFinalized)
				})
			})
		})
	})

	t.Run("ListPending", func(t *testing.T) {
		inTx(t, pg.Pool, func(_ pgx.Tx, storage repository.Storage) {
			old := pendingTopup("top_old", "u1", 100)
			old.CreatedAt = time.Now().Add(-2 * time.Hour)
			older := pendingTopup("top_older", "u2", 100)
			older.CreatedAt = time.Now().Add(-3 * time.Hour)
			fresh := pendingTopup("top_fresh", "u1", 100)
			done := pendingTopup("top_done", "u1", 100)
			done.CreatedAt = time.Now().Add(-4 * time.Hour)

			for _, topup := range []models.TopupAttempt{old, older, fresh, done} {
				_, err := storage.Topup().Create(t.Context(), topup)
				require.NoError(t, err)
			}
			_, err := storage.Topup().MarkSucceeded(t.Context(), "top_done", "REF_DONE", time.Now())
			require.NoError(t, err)

			pending, err := storage.Topup().ListPending(t.Context(), repository.ListTopupsOpts{
				CreatedBefore: time.Now().Add(-time.Hour),
			})
			require.NoError(t, err)
			require.Len(t, pending, 2, "only stale pending attempts expected")
			require.Equal(t, "top_older", pending[0].ID, "oldest first")
			require.Equal(t, "top_old", pending[1].ID)

			limited, err := storage.Topup().ListPending(t.Context(), repository.ListTopupsOpts{
				CreatedBefore: time.Now().Add(time.Minute),
				Limit:         1,
			})
			require.NoError(t, err)
			require.Len(t, limited, 1)
			require.Equal(t, "top_older", limited[0].ID)
		})
	})
}
