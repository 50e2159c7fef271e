package fulfillment

import (
	"strconv"
	"strings"

	platformdomain "github.com/smallbiznis/printforge/internal/platform/domain"
	providerdomain "github.com/smallbiznis/printforge/internal/provider/domain"
)

// selectShippingMethod picks the provider quote closest to what the
// buyer chose at checkout. Name matches win, tie-broken by price
// proximity; with no name match the cheapest quote is used.
func selectShippingMethod(methods []providerdomain.ShippingMethod, selected []platformdomain.ShippingLine) (providerdomain.ShippingMethod, bool) {
	if len(methods) == 0 {
		return providerdomain.ShippingMethod{}, false
	}
	if len(selected) == 0 {
		return cheapestMethod(methods), true
	}

	chosen := selected[0]
	wantName := normalizeMethodName(chosen.Title)
	wantPrice := parsePriceCents(chosen.Price)

	var best providerdomain.ShippingMethod
	bestDelta := int64(-1)
	for _, m := range methods {
		if normalizeMethodName(m.Name) != wantName {
			continue
		}
		delta := m.PriceCents - wantPrice
		if delta < 0 {
			delta = -delta
		}
		if bestDelta < 0 || delta < bestDelta {
			best = m
			bestDelta = delta
		}
	}
	if bestDelta >= 0 {
		return best, true
	}
	return cheapestMethod(methods), true
}

func cheapestMethod(methods []providerdomain.ShippingMethod) providerdomain.ShippingMethod {
	best := methods[0]
	for _, m := range methods[1:] {
		if m.PriceCents < best.PriceCents {
			best = m
		}
	}
	return best
}

func normalizeMethodName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// parsePriceCents converts a decimal money string ("24.99") to cents
// without going through floating point. Bad input parses to 0.
func parsePriceCents(price string) int64 {
	price = strings.TrimSpace(price)
	if price == "" {
		return 0
	}
	whole, frac, _ := strings.Cut(price, ".")
	dollars, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0
	}
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return dollars * 100
	}
	return dollars*100 + cents
}
