package domain

import (
	"context"
	"errors"
	"fmt"

	shopdomain "github.com/smallbiznis/printforge/internal/shop/domain"
)

// Error is a classified print-provider API failure.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Retryable  bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// ErrNotConnected means the shop has no provider integration
// configured; nothing short of reconnecting fixes it.
var ErrNotConnected = errors.New("provider_not_connected")

// Variant is one sellable configuration of a provider product.
type Variant struct {
	ID           int64         `json:"id"`
	Title        string        `json:"title"`
	IsEnabled    bool          `json:"is_enabled"`
	Placeholders []Placeholder `json:"placeholders,omitempty"`
}

// Placeholder is a printable area on a variant, in pixels.
type Placeholder struct {
	Position string `json:"position"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Product groups the variants of one provider catalog product.
type Product struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Variants []Variant `json:"variants"`
}

// Address is the provider's shipping destination shape.
type Address struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Country   string `json:"country"`
	Region    string `json:"region,omitempty"`
	Address1  string `json:"address1"`
	Address2  string `json:"address2,omitempty"`
	City      string `json:"city"`
	Zip       string `json:"zip"`
}

// QuoteLineItem is one line in a shipping quote request.
type QuoteLineItem struct {
	ProductID string `json:"product_id"`
	VariantID int64  `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// ShippingQuoteRequest asks the provider to price delivery options.
type ShippingQuoteRequest struct {
	AddressTo Address         `json:"address_to"`
	LineItems []QuoteLineItem `json:"line_items"`
}

// ShippingMethod is one priced delivery option. Price is in cents.
type ShippingMethod struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price"`
	Currency   string `json:"currency,omitempty"`
}

// Transform places the artwork inside a print area. X and Y are the
// relative center position, Scale is relative to the print-area width,
// Angle in degrees.
type Transform struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale float64 `json:"scale"`
	Angle float64 `json:"angle"`
}

// PrintArea binds an uploaded image to a placeholder position.
type PrintArea struct {
	Position  string    `json:"position"`
	ImageURL  string    `json:"src"`
	Transform Transform `json:"transform"`
}

// OrderLineItem is one manufacturable line in a provider order.
type OrderLineItem struct {
	ProductID  string      `json:"product_id"`
	VariantID  int64       `json:"variant_id"`
	Quantity   int         `json:"quantity"`
	PrintAreas []PrintArea `json:"print_areas"`
}

// CreateOrderRequest submits a new order. ExternalID carries the
// platform order/line reference so callbacks can be traced back.
type CreateOrderRequest struct {
	ExternalID     string          `json:"external_id"`
	Label          string          `json:"label,omitempty"`
	LineItems      []OrderLineItem `json:"line_items"`
	AddressTo      Address         `json:"address_to"`
	ShippingMethod int64           `json:"shipping_method"`
	IdempotencyKey string          `json:"-"`
}

// Order is the provider's view of a submitted order.
type Order struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number,omitempty"`
	Status      string `json:"status"`
	ExternalID  string `json:"external_id,omitempty"`
}

// Webhook is a registered provider callback subscription.
type Webhook struct {
	ID    string `json:"id"`
	Topic string `json:"topic"`
	URL   string `json:"url"`
}

// Client talks to the print provider's API on behalf of one shop.
// Transport implementations live outside this core.
type Client interface {
	GetProduct(ctx context.Context, shop *shopdomain.Shop, productID string) (*Product, error)
	GetVariantPlaceholders(ctx context.Context, shop *shopdomain.Shop, productID string, variantID int64) ([]Placeholder, error)
	ShippingQuote(ctx context.Context, shop *shopdomain.Shop, req ShippingQuoteRequest) ([]ShippingMethod, error)
	CreateOrder(ctx context.Context, shop *shopdomain.Shop, req CreateOrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, shop *shopdomain.Shop, orderID string) error
	GetOrder(ctx context.Context, shop *shopdomain.Shop, orderID string) (*Order, error)
	ListWebhooks(ctx context.Context, shop *shopdomain.Shop) ([]Webhook, error)
	CreateWebhook(ctx context.Context, shop *shopdomain.Shop, topic, url string) (*Webhook, error)
}
