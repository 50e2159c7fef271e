package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// ResolvedAsset is the final print-ready design for one order line.
type ResolvedAsset struct {
	StorageKey string
	Bucket     string
	Checksum   string
	DesignURL  string
	SignedURL  string
	JobID      string
	TemplateID string
	ProductID  string

	// Pixel dimensions and fit intent of the rendered design, when the
	// rendering pipeline recorded them.
	Width  int
	Height int
	// Fit is "cover", "contain", or "" when the template never
	// recorded an intent.
	Fit string
}

// ResolveError classifies an asset resolution failure. Retryable
// failures go back through step retry; terminal ones end the line.
type ResolveError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *ResolveError) Error() string {
	if e == nil {
		return "asset resolution failed"
	}
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

// Guidance maps stored error codes to the merchant-facing recovery
// hint shown on the admin surface.
var Guidance = map[string]string{
	"asset_not_found":                      "The personalized design could not be found. Ask the customer to re-run personalization, then retry fulfillment.",
	"asset_render_failed":                  "Rendering the final design failed. Retry fulfillment; if it keeps failing, check the product template.",
	"asset_storage_unavailable":            "Design storage is temporarily unavailable. Fulfillment retries automatically.",
	"shipping_address_incomplete":          "The order is missing shipping address fields. Update the address on the order, then retry fulfillment.",
	"protected_customer_data_not_approved": "The app is not approved for protected customer data. Request the approval in the partner dashboard.",
	"provider_not_connected":               "No print provider is connected for this shop. Connect the provider in settings.",
	"provider_variant_not_mapped":          "The purchased variant has no matching print-provider variant. Re-publish the product to refresh the mapping.",
	"provider_order_rejected":              "The print provider rejected the order. Check the order details in the provider dashboard.",
	"provider_rate_limited":                "The print provider is rate limiting requests. Fulfillment retries automatically.",
}

// GuidanceFor returns the recovery hint for a stored error code, empty
// when the code has none.
func GuidanceFor(code string) string {
	return Guidance[code]
}

// Resolver produces the final asset for a personalized order line.
// Implementations wrap the rendering and storage pipeline.
type Resolver interface {
	Resolve(ctx context.Context, shopID snowflake.ID, orderLineID, personalizationID string) (*ResolvedAsset, error)
}
