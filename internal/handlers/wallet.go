package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nkiryanov/walletapi/internal/apperrors"
	"github.com/nkiryanov/walletapi/internal/handlers/render"
	"github.com/nkiryanov/walletapi/internal/handlers/userctx"
	"github.com/nkiryanov/walletapi/internal/logger"
	"github.com/nkiryanov/walletapi/internal/models"
)

type transactionResponse struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Source         string    `json:"source"`
	Amount         int64     `json:"amount"`
	AmountDisplay  string    `json:"amount_display"`
	RunningBalance int64     `json:"running_balance"`
	RefTopupID     *string   `json:"ref_topup_id,omitempty"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func newTransactionResponse(t models.Transaction) transactionResponse {
	return transactionResponse{
		ID:             t.ID,
		Type:           t.Type,
		Source:         t.Source,
		Amount:         t.Amount,
		AmountDisplay:  models.FormatMinor(t.Amount),
		RunningBalance: t.RunningBalance,
		RefTopupID:     t.RefTopupID,
		Description:    t.Description,
		CreatedAt:      t.CreatedAt,
	}
}

func handleBalance(ledger ledgerService, l logger.Logger) http.Handler {
	type response struct {
		Balance        int64     `json:"balance"`
		BalanceDisplay string    `json:"balance_display"`
		Gems           int64     `json:"gems"`
		Currency       string    `json:"currency"`
		UpdatedAt      time.Time `json:"updated_at"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.Error(w, render.CodeInternal, "Internal server error", http.StatusInternalServerError)
			return
		}

		wallet, err := ledger.GetBalance(r.Context(), userID)
		if err != nil {
			serviceError(w, l, "Failed to get balance", err, "user_id", userID)
			return
		}

		render.JSON(w, response{
			Balance:        wallet.Balance,
			BalanceDisplay: models.FormatMinor(wallet.Balance),
			Gems:           wallet.Gems,
			Currency:       wallet.Currency,
			UpdatedAt:      wallet.UpdatedAt,
		})
	})
}

func handleListTransactions(ledger ledgerService, l logger.Logger) http.Handler {
	type response struct {
		Data []transactionResponse `json:"data"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.Error(w, render.CodeInternal, "Internal server error", http.StatusInternalServerError)
			return
		}

		// Absent limit means default one
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				render.ServiceError(w, apperrors.ErrInvalidLimit)
				return
			}
			limit = n
		}

		txs, err := ledger.ListTransactions(r.Context(), userID, limit)
		if err != nil {
			serviceError(w, l, "Failed to list transactions", err, "user_id", userID)
			return
		}

		data := make([]transactionResponse, 0, len(txs))
		for _, t := range txs {
			data = append(data, newTransactionResponse(t))
		}
		render.JSON(w, response{Data: data})
	})
}

func handleDebit(ledger ledgerService, l logger.Logger) http.Handler {
	type request struct {
		Amount      int64  `json:"amount" validate:"gt=0"`
		Source      string `json:"source" validate:"required"`
		Description string `json:"description" validate:"max=255"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.Error(w, render.CodeInternal, "Internal server error", http.StatusInternalServerError)
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		tx, err := ledger.Debit(r.Context(), userID, req.Amount, req.Source, req.Description)
		if err != nil {
			serviceError(w, l, "Failed to debit wallet", err, "user_id", userID)
			return
		}

		render.JSONWithStatus(w, newTransactionResponse(tx), http.StatusCreated)
	})
}

// Converts whole batches of gems, remainder is left on the wallet
func handleConvertGems(ledger ledgerService, l logger.Logger) http.Handler {
	type response struct {
		Balance        int64               `json:"balance"`
		BalanceDisplay string              `json:"balance_display"`
		Gems           int64               `json:"gems"`
		GemsUsed       int64               `json:"gems_used"`
		Converted      int64               `json:"converted_amount"`
		Transaction    transactionResponse `json:"transaction"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.Error(w, render.CodeInternal, "Internal server error", http.StatusInternalServerError)
			return
		}

		conv, err := ledger.ConvertGems(r.Context(), userID)
		if err != nil {
			serviceError(w, l, "Failed to convert gems", err, "user_id", userID)
			return
		}

		render.JSON(w, response{
			Balance:        conv.Wallet.Balance,
			BalanceDisplay: models.FormatMinor(conv.Wallet.Balance),
			Gems:           conv.Wallet.Gems,
			GemsUsed:       conv.GemsUsed,
			Converted:      conv.Transaction.Amount,
			Transaction:    newTransactionResponse(conv.Transaction),
		})
	})
}
