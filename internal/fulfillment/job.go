package fulfillment

import (
	"github.com/bwmarrin/snowflake"
	platformdomain "github.com/smallbiznis/printforge/internal/platform/domain"
)

// Job is one unit of fulfillment work: a single personalized order
// line, carrying the order snapshot from the webhook so the happy path
// never re-fetches the order.
type Job struct {
	ShopID            snowflake.ID
	ShopDomain        string
	ProcessingID      snowflake.ID
	OrderID           string
	OrderLineID       string
	PersonalizationID string
	IdempotencyKey    string
	OrderFeeKey       string

	Line            platformdomain.LineItem
	ShippingAddress *platformdomain.Address
	ShippingLines   []platformdomain.ShippingLine
	Currency        string
}
