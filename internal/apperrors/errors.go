package apperrors

import (
	"errors"
	"fmt"
)

// Error categories
// Handlers map them to response codes, so every specific error below wraps exactly one of them
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrStorageTx  = errors.New("storage transaction failed")
)

var (
	ErrInvalidUser         = fmt.Errorf("%w: user id is required", ErrValidation)
	ErrInvalidAmount       = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrUnsupportedProvider = fmt.Errorf("%w: unsupported provider", ErrValidation)
	ErrInvalidSource       = fmt.Errorf("%w: unsupported transaction source", ErrValidation)
	ErrInvalidProviderRef  = fmt.Errorf("%w: provider reference is required", ErrValidation)
	ErrInvalidLimit        = fmt.Errorf("%w: invalid limit", ErrValidation)
	ErrNotEnoughGems       = fmt.Errorf("%w: not enough gems to convert", ErrValidation)

	ErrTopupNotFound  = fmt.Errorf("%w: topup attempt not found", ErrNotFound)
	ErrWalletNotFound = fmt.Errorf("%w: wallet not found", ErrNotFound)

	ErrProviderRefConflict = fmt.Errorf("%w: provider reference already used by another topup", ErrConflict)
	ErrTopupFinalized      = fmt.Errorf("%w: topup attempt already finalized", ErrConflict)
	ErrBalanceLimit        = fmt.Errorf("%w: wallet balance limit exceeded", ErrConflict)

	ErrBalanceInsufficient = errors.New("insufficient balance")
)
