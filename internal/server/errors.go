package server

import (
	"errors"

	orderlinedomain "github.com/smallbiznis/printforge/internal/orderline/domain"
	platformdomain "github.com/smallbiznis/printforge/internal/platform/domain"
	"github.com/smallbiznis/printforge/internal/reconciler"
	shopdomain "github.com/smallbiznis/printforge/internal/shop/domain"
)

// classifyErrorForLog labels request errors for the access log.
func classifyErrorForLog(err error) (string, string) {
	switch {
	case err == nil:
		return "", ""
	case errors.Is(err, platformdomain.ErrInvalidSignature):
		return "auth", "invalid_signature"
	case errors.Is(err, platformdomain.ErrMalformedPayload):
		return "validation", "malformed_payload"
	case errors.Is(err, reconciler.ErrBadEvent):
		return "validation", "malformed_event"
	case errors.Is(err, shopdomain.ErrShopNotFound):
		return "not_found", "shop_not_found"
	case errors.Is(err, orderlinedomain.ErrNotFound):
		return "not_found", "order_line_not_found"
	default:
		return "internal", "internal_error"
	}
}
