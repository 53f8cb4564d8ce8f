package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "BDT"

// Balances are stored in minor units (poisha), 100 minor units per taka
const minorUnitsExp = -2

// Gems are converted in whole batches, each batch credits GemBatchValue minor units
const (
	GemBatchSize  int64 = 50
	GemBatchValue int64 = 100
)

type Wallet struct {
	UserID    string
	Balance   int64
	Gems      int64
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FormatMinor renders amount of minor units as major units with two decimal places ("1234" -> "12.34")
func FormatMinor(amount int64) string {
	return decimal.New(amount, minorUnitsExp).StringFixed(2)
}

// ConvertibleGems returns gems usable for conversion and the balance they are worth
func ConvertibleGems(gems int64) (used int64, value int64) {
	batches := gems / GemBatchSize
	return batches * GemBatchSize, batches * GemBatchValue
}
