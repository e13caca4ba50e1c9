package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEntryValuesOrder(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.FixedZone("x", -3600))
	e := Entry{
		SessionID:      "cs_1",
		StoreID:        "s1",
		OrderID:        "o1",
		UserID:         "u1",
		AccountID:      "acct_1",
		Currency:       "usd",
		Subtotal:       5350,
		ShippingBase:   1000,
		ShippingCharge: 1350,
		ShippingMargin: 350,
		PlatformFee:    380,
		ApplicationFee: 730,
		CreatedAt:      at,
	}

	got := e.values()

	assert.Len(t, got, 13)
	assert.Equal(t, "cs_1", got[0])
	assert.Equal(t, int64(5350), got[6])
	assert.Equal(t, int64(730), got[11])
	assert.Equal(t, at.UTC(), got[12])
}
