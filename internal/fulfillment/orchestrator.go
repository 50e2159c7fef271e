package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	assetsdomain "github.com/smallbiznis/printforge/internal/assets/domain"
	billingdomain "github.com/smallbiznis/printforge/internal/billing/domain"
	"github.com/smallbiznis/printforge/internal/clock"
	"github.com/smallbiznis/printforge/internal/config"
	obsmetrics "github.com/smallbiznis/printforge/internal/observability/metrics"
	orderlinedomain "github.com/smallbiznis/printforge/internal/orderline/domain"
	platformdomain "github.com/smallbiznis/printforge/internal/platform/domain"
	providerdomain "github.com/smallbiznis/printforge/internal/provider/domain"
	"github.com/smallbiznis/printforge/internal/provider/variantmap"
	shopdomain "github.com/smallbiznis/printforge/internal/shop/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config     config.Config
	Log        *zap.Logger
	Clock      clock.Clock
	Shops      shopdomain.Service
	Lines      orderlinedomain.Repository
	Billing    billingdomain.Service
	Assets     assetsdomain.Resolver
	OrdersAPI  platformdomain.OrdersAPI
	Provider   providerdomain.Client
	Variants   *variantmap.Resolver
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Orchestrator runs the per-line fulfillment workflow. Every external
// effect carries its own idempotency key, so duplicate runs for the
// same line converge on the first writer's result.
type Orchestrator struct {
	cfg        config.Config
	log        *zap.Logger
	clock      clock.Clock
	shops      shopdomain.Service
	lines      orderlinedomain.Repository
	billing    billingdomain.Service
	assets     assetsdomain.Resolver
	ordersAPI  platformdomain.OrdersAPI
	provider   providerdomain.Client
	variants   *variantmap.Resolver
	obsMetrics *obsmetrics.Metrics
}

func NewOrchestrator(p Params) *Orchestrator {
	return &Orchestrator{
		cfg:        p.Config,
		log:        p.Log.Named("fulfillment.orchestrator"),
		clock:      p.Clock,
		shops:      p.Shops,
		lines:      p.Lines,
		billing:    p.Billing,
		assets:     p.Assets,
		ordersAPI:  p.OrdersAPI,
		provider:   p.Provider,
		variants:   p.Variants,
		obsMetrics: p.ObsMetrics,
	}
}

// runState accumulates step outputs across the workflow so later steps
// read earlier results explicitly instead of through shared closures.
type runState struct {
	job  Job
	shop *shopdomain.Shop
	row  *orderlinedomain.Processing

	address          *platformdomain.Address
	asset            *assetsdomain.ResolvedAsset
	providerVariant  int64
	printArea        providerdomain.Placeholder
	shippingMethod   providerdomain.ShippingMethod
	cachedSubmission bool
}

type workflowStep struct {
	name string
	run  func(ctx context.Context, state *runState) error
	// skip lets a step opt out once a prior step proved there is
	// nothing left to do.
	skip func(state *runState) bool
}

// Process drives one order line from pending to a terminal state.
// Terminal business failures are recorded on the row and returned as
// nil; only infrastructure errors propagate to the caller.
func (o *Orchestrator) Process(ctx context.Context, job Job) error {
	log := o.log.With(
		zap.Int64("shop_id", int64(job.ShopID)),
		zap.String("order_id", job.OrderID),
		zap.String("order_line_id", job.OrderLineID),
	)

	shop, err := o.shops.GetByID(ctx, job.ShopID)
	if err != nil {
		return fmt.Errorf("load shop: %w", err)
	}
	row, err := o.lines.FindByIdempotencyKey(ctx, job.ShopID, job.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("load processing row: %w", err)
	}
	if row.Status == orderlinedomain.StatusSucceeded {
		log.Debug("line already succeeded, skipping")
		return nil
	}
	if err := o.lines.MarkProcessing(ctx, row.ID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	state := &runState{job: job, shop: shop, row: row}
	afterSubmitCheck := func(s *runState) bool { return s.cachedSubmission }
	steps := []workflowStep{
		{name: "billing", run: o.stepBilling},
		{name: "shipping_address", run: o.stepShippingAddress},
		{name: "submit_check", run: o.stepSubmitCheck},
		{name: "asset_resolution", run: o.stepAssetResolution, skip: afterSubmitCheck},
		{name: "variant_resolution", run: o.stepVariantResolution, skip: afterSubmitCheck},
		{name: "shipping_method", run: o.stepShippingMethod, skip: afterSubmitCheck},
		{name: "provider_submission", run: o.stepProviderSubmission, skip: afterSubmitCheck},
	}

	for _, step := range steps {
		if step.skip != nil && step.skip(state) {
			continue
		}
		if stepErr := o.runStep(ctx, step, state); stepErr != nil {
			log.Warn("fulfillment step failed",
				zap.String("step", step.name),
				zap.String("error_code", stepErr.code),
				zap.String("error_message", stepErr.message),
			)
			return o.failLine(ctx, state, stepErr)
		}
	}

	if err := o.lines.Update(ctx, state.row.ID, map[string]any{
		"status":        string(orderlinedomain.StatusSucceeded),
		"error_code":    "",
		"error_message": "",
	}); err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	if o.obsMetrics != nil {
		o.obsMetrics.RecordLineProcessed(ctx, "succeeded")
	}
	log.Info("order line fulfilled")
	return nil
}

// runStep executes one step with bounded exponential backoff. Only
// retryable errors re-enter the loop; terminal errors short-circuit.
func (o *Orchestrator) runStep(ctx context.Context, step workflowStep, state *runState) *stepError {
	attempts := o.cfg.StepMaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	operation := func() error {
		stepCtx, cancel := context.WithTimeout(ctx, o.cfg.ExternalCallTimeout)
		defer cancel()
		if err := step.run(stepCtx, state); err != nil {
			classified := classify(err)
			if !classified.retryable {
				return backoff.Permanent(classified)
			}
			return classified
		}
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(attempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return classify(err)
	}
	return nil
}

func (o *Orchestrator) stepBilling(ctx context.Context, state *runState) error {
	_, err := o.billing.ChargeOrderFee(ctx, state.shop, state.job.OrderID, state.job.OrderFeeKey)
	if err != nil {
		if errors.Is(err, billingdomain.ErrChargeFailed) {
			return retryableStep("order_fee_charge_failed", err.Error())
		}
		return terminalStep("order_fee_charge_failed", err.Error())
	}
	return nil
}

// stepShippingAddress prefers the address from the webhook payload and
// falls back to the platform admin API.
func (o *Orchestrator) stepShippingAddress(ctx context.Context, state *runState) error {
	if state.job.ShippingAddress.Complete() {
		state.address = state.job.ShippingAddress
		return nil
	}

	order, err := o.ordersAPI.GetOrder(ctx, state.shop, state.job.OrderID)
	if err != nil {
		switch {
		case errors.Is(err, platformdomain.ErrProtectedCustomerData):
			return terminalStep("protected_customer_data_not_approved",
				"platform denied access to protected customer data")
		case errors.Is(err, platformdomain.ErrOrderNotFound):
			return terminalStep("shipping_address_incomplete",
				"order not found on platform and payload has no usable address")
		default:
			return retryableStep("platform_api_error", err.Error())
		}
	}
	if !order.ShippingAddress.Complete() {
		return terminalStep("shipping_address_incomplete",
			"order has no complete shipping address")
	}
	state.address = order.ShippingAddress
	return nil
}

// stepSubmitCheck returns the cached provider order when a prior run
// already submitted this line, so retries never create a second order.
func (o *Orchestrator) stepSubmitCheck(ctx context.Context, state *runState) error {
	row, err := o.lines.FindByIdempotencyKey(ctx, state.job.ShopID, state.job.IdempotencyKey)
	if err != nil {
		return retryableStep("internal_error", err.Error())
	}
	state.row = row

	if row.SubmitStatus == orderlinedomain.SubmitSucceeded && row.ProviderOrderID != "" {
		state.cachedSubmission = true
		o.log.Info("provider submission already recorded, reusing",
			zap.Int64("shop_id", int64(state.job.ShopID)),
			zap.String("order_line_id", state.job.OrderLineID),
			zap.String("provider_order_id", row.ProviderOrderID),
		)
		return nil
	}
	if row.SubmitIdempotencyKey == "" {
		submitKey := orderlinedomain.SubmitKey(state.job.ShopID, state.job.OrderLineID)
		if err := o.lines.Update(ctx, row.ID, map[string]any{
			"submit_idempotency_key": submitKey,
		}); err != nil {
			return retryableStep("internal_error", err.Error())
		}
		row.SubmitIdempotencyKey = submitKey
	}
	return nil
}

func (o *Orchestrator) stepAssetResolution(ctx context.Context, state *runState) error {
	asset, err := o.assets.Resolve(ctx, state.job.ShopID, state.job.OrderLineID, state.job.PersonalizationID)
	if err != nil {
		var resolveErr *assetsdomain.ResolveError
		if errors.As(err, &resolveErr) {
			return &stepError{
				code:      resolveErr.Code,
				message:   resolveErr.Message,
				retryable: resolveErr.Retryable,
			}
		}
		return retryableStep("asset_resolution_failed", err.Error())
	}
	state.asset = asset

	persistedAt := o.clock.Now().UTC()
	return o.lines.Update(ctx, state.row.ID, map[string]any{
		"storage_key":  asset.StorageKey,
		"bucket":       asset.Bucket,
		"checksum":     asset.Checksum,
		"persisted_at": &persistedAt,
	})
}

func (o *Orchestrator) stepVariantResolution(ctx context.Context, state *runState) error {
	if !state.shop.ProviderConnected() {
		return terminalStep("provider_not_connected",
			"shop has no print provider integration")
	}
	variantID, err := o.variants.ResolveVariant(ctx, state.shop,
		state.asset.ProductID, state.job.Line.VariantID, state.job.Line.VariantTitle)
	if err != nil {
		return providerStep(err, "provider_variant_not_mapped")
	}
	state.providerVariant = variantID

	area, err := o.variants.ResolvePrintArea(ctx, state.shop, state.asset.ProductID, variantID)
	if err != nil {
		return providerStep(err, "provider_variant_not_mapped")
	}
	state.printArea = area
	return nil
}

func (o *Orchestrator) stepShippingMethod(ctx context.Context, state *runState) error {
	quantity := state.job.Line.Quantity
	if quantity < 1 {
		quantity = 1
	}
	methods, err := o.provider.ShippingQuote(ctx, state.shop, providerdomain.ShippingQuoteRequest{
		AddressTo: toProviderAddress(state.address),
		LineItems: []providerdomain.QuoteLineItem{{
			ProductID: state.asset.ProductID,
			VariantID: state.providerVariant,
			Quantity:  quantity,
		}},
	})
	if err != nil {
		return providerStep(err, "shipping_quote_failed")
	}
	method, ok := selectShippingMethod(methods, state.job.ShippingLines)
	if !ok {
		return terminalStep("shipping_method_unavailable",
			"provider returned no shipping methods for this destination")
	}
	state.shippingMethod = method
	return nil
}

func (o *Orchestrator) stepProviderSubmission(ctx context.Context, state *runState) error {
	transform, defaulted := printTransform(state.asset, state.printArea)
	if defaulted {
		o.log.Warn("print transform defaulted to center full-scale",
			zap.Int64("shop_id", int64(state.job.ShopID)),
			zap.String("order_line_id", state.job.OrderLineID),
			zap.String("template_id", state.asset.TemplateID),
		)
	}
	imageURL := state.asset.SignedURL
	if imageURL == "" {
		imageURL = state.asset.DesignURL
	}

	pending := map[string]any{
		"submit_status": string(orderlinedomain.SubmitPending),
	}
	if defaulted {
		pending["transform_defaulted"] = true
	}
	if err := o.lines.Update(ctx, state.row.ID, pending); err != nil {
		return retryableStep("internal_error", err.Error())
	}

	quantity := state.job.Line.Quantity
	if quantity < 1 {
		quantity = 1
	}
	order, err := o.provider.CreateOrder(ctx, state.shop, providerdomain.CreateOrderRequest{
		ExternalID: state.job.OrderID + "-" + state.job.OrderLineID,
		Label:      state.job.OrderID,
		LineItems: []providerdomain.OrderLineItem{{
			ProductID: state.asset.ProductID,
			VariantID: state.providerVariant,
			Quantity:  quantity,
			PrintAreas: []providerdomain.PrintArea{{
				Position:  state.printArea.Position,
				ImageURL:  imageURL,
				Transform: transform,
			}},
		}},
		AddressTo:      toProviderAddress(state.address),
		ShippingMethod: state.shippingMethod.ID,
		IdempotencyKey: state.row.SubmitIdempotencyKey,
	})
	if err != nil {
		step := providerStep(err, "provider_order_rejected")
		_ = o.lines.Update(ctx, state.row.ID, map[string]any{
			"submit_status": string(orderlinedomain.SubmitFailed),
			"error_code":    step.code,
			"error_message": step.message,
		})
		if o.obsMetrics != nil {
			o.obsMetrics.RecordProviderSubmission(ctx, "failed")
		}
		return step
	}

	now := o.clock.Now().UTC()
	if err := o.lines.Update(ctx, state.row.ID, map[string]any{
		"submit_status":         string(orderlinedomain.SubmitSucceeded),
		"provider_order_id":     order.ID,
		"provider_order_number": order.OrderNumber,
		"provider_order_status": order.Status,
		"last_event":            "order_submitted",
		"last_event_at":         &now,
	}); err != nil {
		return retryableStep("internal_error", err.Error())
	}
	if o.obsMetrics != nil {
		o.obsMetrics.RecordProviderSubmission(ctx, "succeeded")
	}
	return nil
}

// failLine records a terminal failure on the row. The error is consumed
// here: retrying a business failure without new input is pointless.
func (o *Orchestrator) failLine(ctx context.Context, state *runState, step *stepError) error {
	fields := map[string]any{
		"status":        string(orderlinedomain.StatusFailed),
		"error_code":    step.code,
		"error_message": step.message,
	}
	if state.row.SubmitStatus != orderlinedomain.SubmitSucceeded {
		fields["submit_status"] = string(orderlinedomain.SubmitFailed)
	}
	if err := o.lines.Update(ctx, state.row.ID, fields); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if o.obsMetrics != nil {
		o.obsMetrics.RecordLineProcessed(ctx, "failed")
	}
	if guidance := assetsdomain.GuidanceFor(step.code); guidance != "" {
		o.log.Info("recovery guidance",
			zap.String("error_code", step.code),
			zap.String("guidance", guidance),
		)
	}
	return nil
}

// providerStep folds a provider API failure into a stepError, keeping
// the provider's own code and retryable classification when present.
func providerStep(err error, fallbackCode string) *stepError {
	var provErr *providerdomain.Error
	if errors.As(err, &provErr) {
		code := provErr.Code
		if code == "" {
			code = fallbackCode
		}
		return &stepError{code: code, message: provErr.Message, retryable: provErr.Retryable}
	}
	if errors.Is(err, providerdomain.ErrNotConnected) {
		return terminalStep("provider_not_connected", err.Error())
	}
	return retryableStep(fallbackCode, err.Error())
}

func toProviderAddress(a *platformdomain.Address) providerdomain.Address {
	if a == nil {
		return providerdomain.Address{}
	}
	first, last := a.FirstName, a.LastName
	if first == "" && last == "" && a.Name != "" {
		first = a.Name
	}
	region := a.ProvinceCode
	if region == "" {
		region = a.Province
	}
	return providerdomain.Address{
		FirstName: first,
		LastName:  last,
		Email:     a.Email,
		Phone:     a.Phone,
		Country:   a.CountryCode,
		Region:    region,
		Address1:  a.Address1,
		Address2:  a.Address2,
		City:      a.City,
		Zip:       a.Zip,
	}
}
