package fulfillment

import (
	"testing"

	platformdomain "github.com/smallbiznis/printforge/internal/platform/domain"
	providerdomain "github.com/smallbiznis/printforge/internal/provider/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectShippingMethod_NameMatchWins(t *testing.T) {
	methods := []providerdomain.ShippingMethod{
		{ID: 1, Name: "Economy", PriceCents: 399},
		{ID: 2, Name: "Standard", PriceCents: 499},
		{ID: 3, Name: "Express", PriceCents: 1299},
	}
	selected := []platformdomain.ShippingLine{{Title: "Express", Price: "12.99"}}

	method, ok := selectShippingMethod(methods, selected)
	require.True(t, ok)
	assert.Equal(t, int64(3), method.ID)
}

func TestSelectShippingMethod_PriceProximityBreaksTies(t *testing.T) {
	methods := []providerdomain.ShippingMethod{
		{ID: 1, Name: "Standard", PriceCents: 999},
		{ID: 2, Name: "Standard", PriceCents: 520},
		{ID: 3, Name: "standard", PriceCents: 480},
	}
	selected := []platformdomain.ShippingLine{{Title: "Standard", Price: "4.99"}}

	method, ok := selectShippingMethod(methods, selected)
	require.True(t, ok)
	assert.Equal(t, int64(3), method.ID, "closest price among name matches")
}

func TestSelectShippingMethod_FallsBackToCheapest(t *testing.T) {
	methods := []providerdomain.ShippingMethod{
		{ID: 1, Name: "Economy", PriceCents: 399},
		{ID: 2, Name: "Express", PriceCents: 1299},
	}
	selected := []platformdomain.ShippingLine{{Title: "Carrier Pigeon", Price: "2.00"}}

	method, ok := selectShippingMethod(methods, selected)
	require.True(t, ok)
	assert.Equal(t, int64(1), method.ID)
}

func TestSelectShippingMethod_NoSelectionPicksCheapest(t *testing.T) {
	methods := []providerdomain.ShippingMethod{
		{ID: 1, Name: "Express", PriceCents: 1299},
		{ID: 2, Name: "Economy", PriceCents: 399},
	}
	method, ok := selectShippingMethod(methods, nil)
	require.True(t, ok)
	assert.Equal(t, int64(2), method.ID)
}

func TestSelectShippingMethod_NoMethods(t *testing.T) {
	_, ok := selectShippingMethod(nil, nil)
	assert.False(t, ok)
}

func TestParsePriceCents(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"24.99", 2499},
		{"4.9", 490},
		{"4", 400},
		{"0.05", 5},
		{"12.345", 1234},
		{"", 0},
		{"free", 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, parsePriceCents(tc.in), tc.in)
	}
}
