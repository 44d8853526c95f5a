package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		want    int64
		wantErr bool
	}{
		{name: "whole", amount: "100", want: 10000},
		{name: "two decimals", amount: "100.00", want: 10000},
		{name: "cents", amount: "40.25", want: 4025},
		{name: "single cent", amount: "0.01", want: 1},
		{name: "sub cent rejected", amount: "0.005", wantErr: true},
		{name: "zero rejected", amount: "0", wantErr: true},
		{name: "negative rejected", amount: "-1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := decimal.NewFromString(tt.amount)
			require.NoError(t, err)

			got, err := CurrencyUSD.MinorUnits(d)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAmountRoundTrip(t *testing.T) {
	for _, cents := range []int64{1, 99, 10000, 123456789} {
		d := CurrencyEUR.Amount(cents)
		back, err := CurrencyEUR.MinorUnits(d)
		require.NoError(t, err)
		assert.Equal(t, cents, back)
	}
}

func TestStatusRefundable(t *testing.T) {
	assert.True(t, StatusCaptured.Refundable())
	assert.True(t, StatusPartiallyRefunded.Refundable())

	for _, s := range []Status{StatusPending, StatusProcessing, StatusAuthorized, StatusFailed, StatusRefunded} {
		assert.False(t, s.Refundable(), "status %s", s)
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusRefunded.Terminal())
	assert.False(t, StatusPartiallyRefunded.Terminal())
	assert.False(t, StatusCaptured.Terminal())
}

func TestParseMethodAndCurrency(t *testing.T) {
	m, err := ParseMethod("credit_card")
	require.NoError(t, err)
	assert.Equal(t, MethodCreditCard, m)

	_, err = ParseMethod("wire")
	assert.Error(t, err)

	c, err := ParseCurrency("GBP")
	require.NoError(t, err)
	assert.Equal(t, CurrencyGBP, c)

	_, err = ParseCurrency("JPY")
	assert.Error(t, err)
}

func TestDomainRejected(t *testing.T) {
	assert.True(t, DomainRejected(ErrNotFound))
	assert.True(t, DomainRejected(ErrOverRefund))
	assert.False(t, DomainRejected(&GatewayError{Code: "card_declined", Message: "declined"}))
	assert.False(t, DomainRejected(assert.AnError))
}
