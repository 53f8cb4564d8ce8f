package provider

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nkiryanov/walletapi/internal/models"
)

// Mock confirms every topup immediately with a generated provider reference
type Mock struct {
	now  func() time.Time
	last atomic.Int64
}

func NewMock() *Mock {
	return &Mock{now: time.Now}
}

// Confirm returns reference like "BKASH_MOCK_TRX_1718000000000000000"
// Stamps strictly increase, so two confirmations never share a reference
func (m *Mock) Confirm(_ context.Context, t models.TopupAttempt) (string, error) {
	stamp := m.now().UnixNano()
	for {
		last := m.last.Load()
		if stamp <= last {
			stamp = last + 1
		}
		if m.last.CompareAndSwap(last, stamp) {
			break
		}
	}

	return fmt.Sprintf("%s_MOCK_TRX_%d", t.Provider, stamp), nil
}
