package ingest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/smallbiznis/printforge/internal/fulfillment"
	obsmetrics "github.com/smallbiznis/printforge/internal/observability/metrics"
	orderlinedomain "github.com/smallbiznis/printforge/internal/orderline/domain"
	platformdomain "github.com/smallbiznis/printforge/internal/platform/domain"
	shopdomain "github.com/smallbiznis/printforge/internal/shop/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// PersonalizationProperty marks a line item as personalized. Lines
// without it are not ours to fulfill.
const PersonalizationProperty = "_personalization_id"

// Result summarizes one webhook delivery for the HTTP response.
type Result struct {
	Processed      bool   `json:"processed"`
	Duplicate      bool   `json:"duplicate,omitempty"`
	OrderID        int64  `json:"order_id,omitempty"`
	LinesProcessed int    `json:"lines_processed"`
	LinesSucceeded int    `json:"lines_succeeded"`
	LinesDuplicate int    `json:"lines_duplicate"`
	LinesFailed    int    `json:"lines_failed"`
	Reason         string `json:"reason,omitempty"`
}

// Dispatcher hands jobs to the background workers.
type Dispatcher interface {
	Enqueue(ctx context.Context, job fulfillment.Job) error
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Shops      shopdomain.Service
	Lines      orderlinedomain.Repository
	Verifier   platformdomain.WebhookVerifier
	Dispatcher Dispatcher
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service validates, deduplicates, and fans out "order paid" webhooks.
type Service struct {
	log        *zap.Logger
	shops      shopdomain.Service
	lines      orderlinedomain.Repository
	verifier   platformdomain.WebhookVerifier
	dispatcher Dispatcher
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		log:        p.Log.Named("ingest.service"),
		shops:      p.Shops,
		lines:      p.Lines,
		verifier:   p.Verifier,
		dispatcher: p.Dispatcher,
		obsMetrics: p.ObsMetrics,
	}
}

// Ingest handles one webhook delivery end to end. The returned Result
// is safe to serialize straight into the HTTP response; a non-nil
// error means the request itself was unauthenticated or the shop is
// unknown.
func (s *Service) Ingest(ctx context.Context, shopDomain, webhookID string, payload []byte, headers http.Header) (*Result, error) {
	if err := s.verifier.Verify(shopDomain, payload, headers); err != nil {
		s.recordIngest(ctx, "rejected")
		return nil, err
	}
	shop, err := s.shops.GetByDomain(ctx, shopDomain)
	if err != nil {
		s.recordIngest(ctx, "rejected")
		return nil, err
	}

	order, err := platformdomain.NormalizeOrderPayload(payload)
	if err != nil {
		// Schema failures are unrecoverable; a 200 with processed=false
		// stops the platform from redelivering a payload that can
		// never parse.
		s.log.Warn("malformed order payload",
			zap.String("shop_domain", shopDomain),
			zap.String("webhook_id", webhookID),
		)
		s.recordIngest(ctx, "malformed")
		return &Result{Processed: false, Reason: "malformed_payload"}, nil
	}

	log := s.log.With(
		zap.Int64("shop_id", int64(shop.ID)),
		zap.Int64("order_id", order.ID),
		zap.String("webhook_id", webhookID),
	)

	if webhookID != "" {
		duplicate, err := s.networkCheck(ctx, shop, order, webhookID)
		if err != nil {
			return nil, err
		}
		if duplicate {
			log.Info("duplicate webhook delivery, short-circuiting")
			s.recordIngest(ctx, "duplicate")
			return &Result{Processed: true, Duplicate: true, OrderID: order.ID}, nil
		}
	}

	result := &Result{Processed: true, OrderID: order.ID}
	for _, line := range order.LineItems {
		personalizationID := line.Property(PersonalizationProperty)
		if personalizationID == "" {
			continue
		}
		result.LinesProcessed++

		// One line's failure must not block its siblings.
		outcome := s.processLine(ctx, shop, order, line, personalizationID)
		switch outcome {
		case lineEnqueued:
			result.LinesSucceeded++
		case lineDuplicate:
			result.LinesDuplicate++
		default:
			result.LinesFailed++
		}
	}

	log.Info("webhook ingested",
		zap.Int("lines_processed", result.LinesProcessed),
		zap.Int("lines_succeeded", result.LinesSucceeded),
		zap.Int("lines_duplicate", result.LinesDuplicate),
		zap.Int("lines_failed", result.LinesFailed),
	)
	s.recordIngest(ctx, "processed")
	return result, nil
}

// networkCheck claims a synthetic processing row keyed on the webhook
// id. Losing the claim means this exact delivery was already handled.
func (s *Service) networkCheck(ctx context.Context, shop *shopdomain.Shop, order *platformdomain.Order, webhookID string) (duplicate bool, err error) {
	_, created, err := s.lines.CreateOrReturn(ctx, &orderlinedomain.Processing{
		ShopID:         shop.ID,
		OrderID:        strconv.FormatInt(order.ID, 10),
		IdempotencyKey: orderlinedomain.NetworkCheckKey(shop.ID, webhookID),
		Status:         orderlinedomain.StatusSucceeded,
	})
	if err != nil {
		return false, fmt.Errorf("network dedup check: %w", err)
	}
	return !created, nil
}

type lineOutcome int

const (
	lineEnqueued lineOutcome = iota
	lineDuplicate
	lineFailed
)

func (s *Service) processLine(ctx context.Context, shop *shopdomain.Shop, order *platformdomain.Order, line platformdomain.LineItem, personalizationID string) lineOutcome {
	orderID := strconv.FormatInt(order.ID, 10)
	orderLineID := strconv.FormatInt(line.ID, 10)
	idempotencyKey := orderlinedomain.FulfillmentKey(shop.ID, orderLineID)

	row, created, err := s.lines.CreateOrReturn(ctx, &orderlinedomain.Processing{
		ShopID:            shop.ID,
		OrderID:           orderID,
		OrderLineID:       orderLineID,
		PersonalizationID: personalizationID,
		IdempotencyKey:    idempotencyKey,
		Status:            orderlinedomain.StatusPending,
	})
	if err != nil {
		s.log.Error("processing row create failed",
			zap.Int64("shop_id", int64(shop.ID)),
			zap.String("order_line_id", orderLineID),
			zap.Error(err),
		)
		return lineFailed
	}
	if !created {
		return lineDuplicate
	}

	job := fulfillment.Job{
		ShopID:            shop.ID,
		ShopDomain:        shop.Domain,
		ProcessingID:      row.ID,
		OrderID:           orderID,
		OrderLineID:       orderLineID,
		PersonalizationID: personalizationID,
		IdempotencyKey:    idempotencyKey,
		OrderFeeKey:       orderlinedomain.OrderFeeKey(shop.ID, orderLineID),
		Line:              line,
		ShippingAddress:   order.ShippingAddress,
		ShippingLines:     order.ShippingLines,
		Currency:          order.Currency,
	}
	if err := s.dispatcher.Enqueue(ctx, job); err != nil {
		s.log.Error("job enqueue failed",
			zap.Int64("shop_id", int64(shop.ID)),
			zap.String("order_line_id", orderLineID),
			zap.Error(err),
		)
		_ = s.lines.Update(ctx, row.ID, map[string]any{
			"status":        string(orderlinedomain.StatusFailed),
			"error_code":    "enqueue_failed",
			"error_message": err.Error(),
		})
		return lineFailed
	}
	return lineEnqueued
}

func (s *Service) recordIngest(ctx context.Context, outcome string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordWebhookIngested(ctx, outcome)
	}
}
