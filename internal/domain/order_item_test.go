package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineTotal(t *testing.T) {
	tests := []struct {
		name string
		item OrderItem
		want int64
	}{
		{"three units", OrderItem{UnitPrice: 1999, Quantity: 3}, 5997},
		{"single unit", OrderItem{UnitPrice: 500, Quantity: 1}, 500},
		{"zero quantity", OrderItem{UnitPrice: 1999, Quantity: 0}, 0},
		{"free item", OrderItem{UnitPrice: 0, Quantity: 5}, 0},
		{"large order stays in int64", OrderItem{UnitPrice: 99999999, Quantity: 1000}, 99999999000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.item.LineTotal())
		})
	}
}

func TestIsValidStatus(t *testing.T) {
	for _, s := range ValidStatuses() {
		assert.True(t, IsValidStatus(s), "status %q", s)
	}
	assert.False(t, IsValidStatus("unknown"))
	assert.False(t, IsValidStatus(""))
	assert.False(t, IsValidStatus("PENDING"), "status match is case-sensitive")
}

func TestCanTransitionTo_Table(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		ok   bool
	}{
		{"pending confirms", OrderStatusPending, OrderStatusConfirmed, true},
		{"pending cancels", OrderStatusPending, OrderStatusCanceled, true},
		{"pending cannot skip to delivered", OrderStatusPending, OrderStatusDelivered, false},
		{"confirmed starts processing", OrderStatusConfirmed, OrderStatusProcessing, true},
		{"processing still cancelable", OrderStatusProcessing, OrderStatusCanceled, true},
		{"shipped no longer cancelable", OrderStatusShipped, OrderStatusCanceled, false},
		{"shipped delivers", OrderStatusShipped, OrderStatusDelivered, true},
		{"delivered refunds", OrderStatusDelivered, OrderStatusRefunded, true},
		{"delivered cannot reship", OrderStatusDelivered, OrderStatusShipped, false},
		{"canceled is terminal", OrderStatusCanceled, OrderStatusPending, false},
		{"refunded is terminal", OrderStatusRefunded, OrderStatusDelivered, false},
		{"no self transition", OrderStatusPending, OrderStatusPending, false},
		{"unknown current status", "nonexistent", OrderStatusConfirmed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := &Order{Status: tt.from}
			assert.Equal(t, tt.ok, order.CanTransitionTo(tt.to))
		})
	}
}

func TestAllowedTransitions_CoversEveryStatus(t *testing.T) {
	transitions := AllowedTransitions()
	for _, s := range ValidStatuses() {
		_, ok := transitions[s]
		assert.True(t, ok, "status %q missing from transition table", s)
	}
}
