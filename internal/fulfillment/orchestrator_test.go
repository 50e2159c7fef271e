package fulfillment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	assetsdomain "github.com/smallbiznis/printforge/internal/assets/domain"
	billingdomain "github.com/smallbiznis/printforge/internal/billing/domain"
	"github.com/smallbiznis/printforge/internal/clock"
	"github.com/smallbiznis/printforge/internal/config"
	orderlinedomain "github.com/smallbiznis/printforge/internal/orderline/domain"
	orderlinerepo "github.com/smallbiznis/printforge/internal/orderline/repository"
	platformdomain "github.com/smallbiznis/printforge/internal/platform/domain"
	providerdomain "github.com/smallbiznis/printforge/internal/provider/domain"
	"github.com/smallbiznis/printforge/internal/provider/variantmap"
	shopdomain "github.com/smallbiznis/printforge/internal/shop/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// -- Stubs --

type shopsStub struct{ shop *shopdomain.Shop }

func (s *shopsStub) GetByID(ctx context.Context, id snowflake.ID) (*shopdomain.Shop, error) {
	return s.shop, nil
}

func (s *shopsStub) GetByDomain(ctx context.Context, domain string) (*shopdomain.Shop, error) {
	return s.shop, nil
}

type billingStub struct {
	calls int
	err   error
}

func (b *billingStub) ChargeOrderFee(ctx context.Context, shop *shopdomain.Shop, sourceID, idempotencyKey string) (*billingdomain.BillableEvent, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return &billingdomain.BillableEvent{Status: billingdomain.EventConfirmed}, nil
}

func (b *billingStub) ChargeUsage(ctx context.Context, shop *shopdomain.Shop, eventType billingdomain.EventType, costMills int64, sourceID, idempotencyKey string) (*billingdomain.BillableEvent, error) {
	return &billingdomain.BillableEvent{Status: billingdomain.EventConfirmed}, nil
}

type assetsStub struct {
	calls int
	asset *assetsdomain.ResolvedAsset
	err   error
}

func (a *assetsStub) Resolve(ctx context.Context, shopID snowflake.ID, orderLineID, personalizationID string) (*assetsdomain.ResolvedAsset, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return a.asset, nil
}

type ordersAPIStub struct {
	order *platformdomain.Order
	err   error
}

func (o *ordersAPIStub) GetOrder(ctx context.Context, shop *shopdomain.Shop, orderID string) (*platformdomain.Order, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.order, nil
}

type providerStub struct {
	providerdomain.Client

	product      *providerdomain.Product
	placeholders []providerdomain.Placeholder
	methods      []providerdomain.ShippingMethod

	createErr error
	created   []providerdomain.CreateOrderRequest
	canceled  []string
}

func (p *providerStub) GetProduct(ctx context.Context, shop *shopdomain.Shop, productID string) (*providerdomain.Product, error) {
	return p.product, nil
}

func (p *providerStub) GetVariantPlaceholders(ctx context.Context, shop *shopdomain.Shop, productID string, variantID int64) ([]providerdomain.Placeholder, error) {
	return p.placeholders, nil
}

func (p *providerStub) ShippingQuote(ctx context.Context, shop *shopdomain.Shop, req providerdomain.ShippingQuoteRequest) ([]providerdomain.ShippingMethod, error) {
	return p.methods, nil
}

func (p *providerStub) CreateOrder(ctx context.Context, shop *shopdomain.Shop, req providerdomain.CreateOrderRequest) (*providerdomain.Order, error) {
	p.created = append(p.created, req)
	if p.createErr != nil {
		return nil, p.createErr
	}
	return &providerdomain.Order{ID: "pfy-1", OrderNumber: "1001", Status: "pending", ExternalID: req.ExternalID}, nil
}

func (p *providerStub) CancelOrder(ctx context.Context, shop *shopdomain.Shop, orderID string) error {
	p.canceled = append(p.canceled, orderID)
	return nil
}

func (p *providerStub) GetOrder(ctx context.Context, shop *shopdomain.Shop, orderID string) (*providerdomain.Order, error) {
	return nil, providerdomain.ErrNotConnected
}

// -- Fixture --

type fixture struct {
	orchestrator *Orchestrator
	repo         orderlinedomain.Repository
	db           *gorm.DB
	shop         *shopdomain.Shop
	billing      *billingStub
	assets       *assetsStub
	ordersAPI    *ordersAPIStub
	provider     *providerStub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&orderlinedomain.Processing{}, &variantmap.Mapping{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))

	repo := orderlinerepo.NewRepository(orderlinerepo.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
	})

	shop := &shopdomain.Shop{
		ID:               snowflake.ID(100),
		Domain:           "example.myshop.test",
		PlanStatus:       shopdomain.PlanStandard,
		ProviderShopID:   "pfy-shop-1",
		ProviderAPIToken: "token",
	}
	billing := &billingStub{}
	assets := &assetsStub{asset: &assetsdomain.ResolvedAsset{
		StorageKey: "designs/final/pers-1.png",
		Bucket:     "printforge-assets",
		Checksum:   "abc123",
		SignedURL:  "https://assets.test/pers-1.png?sig=x",
		ProductID:  "prod-1",
		Width:      2400,
		Height:     3000,
		Fit:        "cover",
	}}
	ordersAPI := &ordersAPIStub{err: platformdomain.ErrOrderNotFound}
	provider := &providerStub{
		product: &providerdomain.Product{
			ID: "prod-1",
			Variants: []providerdomain.Variant{
				{ID: 201, Title: "Blue / L", IsEnabled: true},
				{ID: 202, Title: "Red / M", IsEnabled: true},
			},
		},
		placeholders: []providerdomain.Placeholder{
			{Position: "back", Width: 3000, Height: 3000},
			{Position: "front", Width: 2400, Height: 3000},
		},
		methods: []providerdomain.ShippingMethod{
			{ID: 1, Name: "Standard", PriceCents: 499},
			{ID: 2, Name: "Express", PriceCents: 1299},
		},
	}

	variants := variantmap.NewResolver(variantmap.Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fake,
		Client: provider,
	})

	orchestrator := NewOrchestrator(Params{
		Config: config.Config{
			StepMaxAttempts:     2,
			ExternalCallTimeout: 5 * time.Second,
		},
		Log:       zap.NewNop(),
		Clock:     fake,
		Shops:     &shopsStub{shop: shop},
		Lines:     repo,
		Billing:   billing,
		Assets:    assets,
		OrdersAPI: ordersAPI,
		Provider:  provider,
		Variants:  variants,
	})
	return &fixture{
		orchestrator: orchestrator,
		repo:         repo,
		db:           db,
		shop:         shop,
		billing:      billing,
		assets:       assets,
		ordersAPI:    ordersAPI,
		provider:     provider,
	}
}

func (f *fixture) newJob(t *testing.T) Job {
	t.Helper()
	job := Job{
		ShopID:            f.shop.ID,
		ShopDomain:        f.shop.Domain,
		OrderID:           "5001",
		OrderLineID:       "9001",
		PersonalizationID: "pers-1",
		IdempotencyKey:    orderlinedomain.FulfillmentKey(f.shop.ID, "9001"),
		OrderFeeKey:       orderlinedomain.OrderFeeKey(f.shop.ID, "9001"),
		Line: platformdomain.LineItem{
			ID:           9001,
			VariantID:    111,
			VariantTitle: "Blue / L",
			Quantity:     1,
			Price:        "24.99",
		},
		ShippingAddress: &platformdomain.Address{
			Address1:    "1 Main St",
			City:        "Springfield",
			CountryCode: "US",
			Zip:         "12345",
		},
		ShippingLines: []platformdomain.ShippingLine{{Title: "Standard", Price: "4.99"}},
		Currency:      "USD",
	}
	row, _, err := f.repo.CreateOrReturn(context.Background(), &orderlinedomain.Processing{
		ShopID:            job.ShopID,
		OrderID:           job.OrderID,
		OrderLineID:       job.OrderLineID,
		PersonalizationID: job.PersonalizationID,
		IdempotencyKey:    job.IdempotencyKey,
	})
	require.NoError(t, err)
	job.ProcessingID = row.ID
	return job
}

func (f *fixture) row(t *testing.T, job Job) *orderlinedomain.Processing {
	t.Helper()
	row, err := f.repo.FindByIdempotencyKey(context.Background(), job.ShopID, job.IdempotencyKey)
	require.NoError(t, err)
	return row
}

// -- Tests --

func TestProcess_HappyPath(t *testing.T) {
	f := newFixture(t)
	job := f.newJob(t)

	require.NoError(t, f.orchestrator.Process(context.Background(), job))

	row := f.row(t, job)
	assert.Equal(t, orderlinedomain.StatusSucceeded, row.Status)
	assert.Equal(t, orderlinedomain.SubmitSucceeded, row.SubmitStatus)
	assert.Equal(t, "pfy-1", row.ProviderOrderID)
	assert.Equal(t, "1001", row.ProviderOrderNumber)
	assert.Equal(t, "designs/final/pers-1.png", row.StorageKey)
	assert.NotNil(t, row.PersistedAt)
	assert.False(t, row.TransformDefaulted, "cover fit carries an explicit placement")

	assert.Equal(t, 1, f.billing.calls)
	require.Len(t, f.provider.created, 1)
	created := f.provider.created[0]
	assert.Equal(t, "5001-9001", created.ExternalID)
	require.Len(t, created.LineItems, 1)
	assert.Equal(t, int64(201), created.LineItems[0].VariantID)
	require.Len(t, created.LineItems[0].PrintAreas, 1)
	assert.Equal(t, "front", created.LineItems[0].PrintAreas[0].Position)
	assert.Equal(t, int64(1), created.ShippingMethod)
}

func TestProcess_DefaultedTransformFlagged(t *testing.T) {
	f := newFixture(t)
	job := f.newJob(t)
	f.assets.asset.Fit = ""

	require.NoError(t, f.orchestrator.Process(context.Background(), job))

	row := f.row(t, job)
	assert.Equal(t, orderlinedomain.StatusSucceeded, row.Status)
	assert.True(t, row.TransformDefaulted, "assumed placement is recorded for review")
	require.Len(t, f.provider.created, 1)
}

func TestProcess_MissingAddressNoFallback(t *testing.T) {
	f := newFixture(t)
	job := f.newJob(t)
	job.ShippingAddress = nil
	f.ordersAPI.err = nil
	f.ordersAPI.order = &platformdomain.Order{ID: 5001}

	require.NoError(t, f.orchestrator.Process(context.Background(), job))

	row := f.row(t, job)
	assert.Equal(t, orderlinedomain.StatusFailed, row.Status)
	assert.Equal(t, orderlinedomain.SubmitFailed, row.SubmitStatus)
	assert.Equal(t, "shipping_address_incomplete", row.ErrorCode)
	assert.Empty(t, f.provider.created, "no submission when the address never resolves")
}

func TestProcess_ProtectedCustomerDataTerminates(t *testing.T) {
	f := newFixture(t)
	job := f.newJob(t)
	job.ShippingAddress = nil
	f.ordersAPI.err = platformdomain.ErrProtectedCustomerData

	require.NoError(t, f.orchestrator.Process(context.Background(), job))

	row := f.row(t, job)
	assert.Equal(t, orderlinedomain.StatusFailed, row.Status)
	assert.Equal(t, "protected_customer_data_not_approved", row.ErrorCode)
	assert.Empty(t, f.provider.created)
}

func TestProcess_CachedSubmissionShortCircuits(t *testing.T) {
	f := newFixture(t)
	job := f.newJob(t)

	row := f.row(t, job)
	require.NoError(t, f.repo.Update(context.Background(), row.ID, map[string]any{
		"submit_status":          string(orderlinedomain.SubmitSucceeded),
		"submit_idempotency_key": orderlinedomain.SubmitKey(job.ShopID, job.OrderLineID),
		"provider_order_id":      "pfy-cached",
	}))

	require.NoError(t, f.orchestrator.Process(context.Background(), job))

	updated := f.row(t, job)
	assert.Equal(t, orderlinedomain.StatusSucceeded, updated.Status)
	assert.Equal(t, "pfy-cached", updated.ProviderOrderID)
	assert.Empty(t, f.provider.created, "cached success must not resubmit")
	assert.Equal(t, 0, f.assets.calls, "no asset work after the submit check hits")
	assert.Equal(t, 1, f.billing.calls, "billing still reconciles on every run")
}

func TestProcess_TerminalAssetFailure(t *testing.T) {
	f := newFixture(t)
	job := f.newJob(t)
	f.assets.err = &assetsdomain.ResolveError{
		Code:    "asset_not_found",
		Message: "no render for pers-1",
	}

	require.NoError(t, f.orchestrator.Process(context.Background(), job))

	row := f.row(t, job)
	assert.Equal(t, orderlinedomain.StatusFailed, row.Status)
	assert.Equal(t, "asset_not_found", row.ErrorCode)
	assert.Equal(t, 1, f.assets.calls, "terminal errors must not retry")
	assert.Empty(t, f.provider.created)
}

func TestProcess_RetryableProviderErrorExhaustsAttempts(t *testing.T) {
	f := newFixture(t)
	job := f.newJob(t)
	f.provider.createErr = &providerdomain.Error{
		StatusCode: 429,
		Code:       "provider_rate_limited",
		Message:    "slow down",
		Retryable:  true,
	}

	require.NoError(t, f.orchestrator.Process(context.Background(), job))

	row := f.row(t, job)
	assert.Equal(t, orderlinedomain.StatusFailed, row.Status)
	assert.Equal(t, orderlinedomain.SubmitFailed, row.SubmitStatus)
	assert.Equal(t, "provider_rate_limited", row.ErrorCode)
	assert.Len(t, f.provider.created, 2, "bounded attempts, then terminal")
}

func TestProcess_ProviderNotConnected(t *testing.T) {
	f := newFixture(t)
	job := f.newJob(t)
	f.shop.ProviderAPIToken = ""

	require.NoError(t, f.orchestrator.Process(context.Background(), job))

	row := f.row(t, job)
	assert.Equal(t, orderlinedomain.StatusFailed, row.Status)
	assert.Equal(t, "provider_not_connected", row.ErrorCode)
	assert.Empty(t, f.provider.created)
}
