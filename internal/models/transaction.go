package models

import (
	"time"
)

const (
	TransactionTypeCredit = "CREDIT"
	TransactionTypeDebit  = "DEBIT"
)

const (
	TransactionSourceTopup            = "TOPUP"
	TransactionSourcePurchase         = "PURCHASE"
	TransactionSourceRefund           = "REFUND"
	TransactionSourceAdjustment       = "ADJUSTMENT"
	TransactionSourcePurchaseReversal = "PURCHASE_REVERSAL"
)

// Sources a wallet may be debited from by a caller
var DebitSources = []string{TransactionSourcePurchase, TransactionSourceAdjustment}

// Ledger entry. Never updated once written
type Transaction struct {
	ID             string
	UserID         string
	Type           string
	Source         string
	Amount         int64
	RunningBalance int64
	RefTopupID     *string
	Description    string
	CreatedAt      time.Time
}

// Signed returns amount with the sign the entry applies to the balance
func (t Transaction) Signed() int64 {
	if t.Type == TransactionTypeDebit {
		return -t.Amount
	}
	return t.Amount
}
