package models

import (
	"slices"
	"time"
)

const (
	ProviderBkash = "BKASH"
	ProviderNagad = "NAGAD"
	ProviderCard  = "CARD"
)

var Providers = []string{ProviderBkash, ProviderNagad, ProviderCard}

func IsSupportedProvider(p string) bool {
	return slices.Contains(Providers, p)
}

const (
	TopupStatusPending   = "pending"
	TopupStatusSucceeded = "succeeded"
	TopupStatusFailed    = "failed"
)

type TopupAttempt struct {
	ID             string
	UserID         string
	Provider       string
	Amount         int64
	Currency       string
	Status         string
	ProviderRef    *string
	FailureCode    *string
	FailureMessage *string
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (t TopupAttempt) IsFinal() bool {
	return t.Status != TopupStatusPending
}
