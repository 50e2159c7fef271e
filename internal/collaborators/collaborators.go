// Package collaborators carries the default wiring for external
// services whose transports live outside this core. Each default fails
// fast with a terminal error; deployments swap in real clients with
// fx.Replace.
package collaborators

import (
	"context"

	"github.com/bwmarrin/snowflake"
	assetsdomain "github.com/smallbiznis/printforge/internal/assets/domain"
	platformdomain "github.com/smallbiznis/printforge/internal/platform/domain"
	providerdomain "github.com/smallbiznis/printforge/internal/provider/domain"
	shopdomain "github.com/smallbiznis/printforge/internal/shop/domain"
	"go.uber.org/fx"
)

type unconfiguredAssets struct{}

func NewUnconfiguredAssets() assetsdomain.Resolver { return unconfiguredAssets{} }

func (unconfiguredAssets) Resolve(ctx context.Context, shopID snowflake.ID, orderLineID, personalizationID string) (*assetsdomain.ResolvedAsset, error) {
	return nil, &assetsdomain.ResolveError{
		Code:    "asset_resolver_not_configured",
		Message: "no asset resolution service is wired in",
	}
}

type unconfiguredOrdersAPI struct{}

func NewUnconfiguredOrdersAPI() platformdomain.OrdersAPI { return unconfiguredOrdersAPI{} }

func (unconfiguredOrdersAPI) GetOrder(ctx context.Context, shop *shopdomain.Shop, orderID string) (*platformdomain.Order, error) {
	return nil, platformdomain.ErrOrderNotFound
}

type unconfiguredBillingAPI struct{}

func NewUnconfiguredBillingAPI() platformdomain.BillingAPI { return unconfiguredBillingAPI{} }

func (unconfiguredBillingAPI) CreateUsageRecord(ctx context.Context, shop *shopdomain.Shop, req platformdomain.CreateUsageRecordRequest) (*platformdomain.UsageRecord, error) {
	return nil, &platformdomain.UsageRecordError{Messages: []string{"billing API is not configured"}}
}

type unconfiguredProvider struct{}

func NewUnconfiguredProvider() providerdomain.Client { return unconfiguredProvider{} }

func (unconfiguredProvider) GetProduct(ctx context.Context, shop *shopdomain.Shop, productID string) (*providerdomain.Product, error) {
	return nil, providerdomain.ErrNotConnected
}

func (unconfiguredProvider) GetVariantPlaceholders(ctx context.Context, shop *shopdomain.Shop, productID string, variantID int64) ([]providerdomain.Placeholder, error) {
	return nil, providerdomain.ErrNotConnected
}

func (unconfiguredProvider) ShippingQuote(ctx context.Context, shop *shopdomain.Shop, req providerdomain.ShippingQuoteRequest) ([]providerdomain.ShippingMethod, error) {
	return nil, providerdomain.ErrNotConnected
}

func (unconfiguredProvider) CreateOrder(ctx context.Context, shop *shopdomain.Shop, req providerdomain.CreateOrderRequest) (*providerdomain.Order, error) {
	return nil, providerdomain.ErrNotConnected
}

func (unconfiguredProvider) CancelOrder(ctx context.Context, shop *shopdomain.Shop, orderID string) error {
	return providerdomain.ErrNotConnected
}

func (unconfiguredProvider) GetOrder(ctx context.Context, shop *shopdomain.Shop, orderID string) (*providerdomain.Order, error) {
	return nil, providerdomain.ErrNotConnected
}

func (unconfiguredProvider) ListWebhooks(ctx context.Context, shop *shopdomain.Shop) ([]providerdomain.Webhook, error) {
	return nil, providerdomain.ErrNotConnected
}

func (unconfiguredProvider) CreateWebhook(ctx context.Context, shop *shopdomain.Shop, topic, url string) (*providerdomain.Webhook, error) {
	return nil, providerdomain.ErrNotConnected
}

var Module = fx.Module("collaborators",
	fx.Provide(
		NewUnconfiguredAssets,
		NewUnconfiguredOrdersAPI,
		NewUnconfiguredBillingAPI,
		NewUnconfiguredProvider,
	),
)
