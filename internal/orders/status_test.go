package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPendingPayment, StatusPaid, true},
		{StatusPaid, StatusProduction, true},
		{StatusProduction, StatusShipping, true},
		{StatusShipping, StatusCompleted, true},
		{StatusPendingPayment, StatusCompleted, true},
		{StatusPaid, StatusPendingPayment, false},
		{StatusShipping, StatusPaid, false},
		{StatusPaid, StatusPaid, false},
		{StatusPendingPayment, StatusCancelled, true},
		{StatusShipping, StatusCancelled, true},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusPaid, false},
		{StatusCancelled, StatusCancelled, false},
		{Status("weird"), StatusPaid, false},
		{StatusPaid, Status("weird"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusShipping.Terminal())
	assert.Equal(t, -1, StatusCancelled.Rank())
	assert.True(t, StatusCancelled.Valid())
}

func TestWithPrimaryPayment(t *testing.T) {
	o := &Order{}
	assert.Nil(t, o.PrimaryPayment())

	got := o.WithPrimaryPayment(Payment{Status: PaymentPending})
	assert.Len(t, got, 1)

	o.Payments = []Payment{{Status: PaymentPending}, {Status: PaymentFailed}}
	got = o.WithPrimaryPayment(Payment{Status: PaymentPaid})
	assert.Len(t, got, 2)
	assert.Equal(t, PaymentPaid, got[0].Status)
	assert.Equal(t, PaymentFailed, got[1].Status)
	assert.Equal(t, PaymentPending, o.Payments[0].Status, "original untouched")
}
