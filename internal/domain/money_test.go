package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToMinor(t *testing.T) {
	tests := []struct {
		name     string
		amount   float64
		currency string
		want     int64
	}{
		{
			name:     "KRW stays whole",
			amount:   71000,
			currency: "KRW",
			want:     71000,
		},
		{
			name:     "KRW rounds fractional input",
			amount:   71000.6,
			currency: "KRW",
			want:     71001,
		},
		{
			name:     "JPY stays whole",
			amount:   2980,
			currency: "JPY",
			want:     2980,
		},
		{
			name:     "VND stays whole",
			amount:   85400,
			currency: "VND",
			want:     85400,
		},
		{
			name:     "USD scales by 1e4",
			amount:   189.23,
			currency: "USD",
			want:     1892300,
		},
		{
			name:     "HKD scales by 1e4",
			amount:   0.255,
			currency: "HKD",
			want:     2550,
		},
		{
			name:     "CNY rounds at the fourth decimal",
			amount:   12.34567,
			currency: "CNY",
			want:     123457,
		},
		{
			name:     "negative USD amount",
			amount:   -1.5,
			currency: "USD",
			want:     -15000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToMinor(tt.amount, tt.currency))
		})
	}
}

func TestFromMinorRoundTrip(t *testing.T) {
	assert.Equal(t, 71000.0, FromMinor(ToMinor(71000, "KRW"), "KRW"))
	assert.Equal(t, 189.23, FromMinor(ToMinor(189.23, "USD"), "USD"))
	assert.Equal(t, 0.255, FromMinor(ToMinor(0.255, "HKD"), "HKD"))
}

func TestToKRW(t *testing.T) {
	// 100 USD at 1,350.5 KRW/USD.
	assert.Equal(t, int64(135050), ToKRW(100, 1350.5))
	// Rounds to whole won.
	assert.Equal(t, int64(1351), ToKRW(1, 1350.5))
}
