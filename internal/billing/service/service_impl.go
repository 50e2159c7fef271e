package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/printforge/internal/billing/domain"
	"github.com/smallbiznis/printforge/internal/clock"
	"github.com/smallbiznis/printforge/internal/config"
	ledgerdomain "github.com/smallbiznis/printforge/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/printforge/internal/observability/metrics"
	platformdomain "github.com/smallbiznis/printforge/internal/platform/domain"
	shopdomain "github.com/smallbiznis/printforge/internal/shop/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Config     config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Ledger     ledgerdomain.Service
	BillingAPI platformdomain.BillingAPI
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	cfg        config.Config
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	ledger     ledgerdomain.Service
	billingAPI platformdomain.BillingAPI
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) billingdomain.Service {
	return &Service{
		cfg:        p.Config,
		db:         p.DB,
		log:        p.Log.Named("billing.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		ledger:     p.Ledger,
		billingAPI: p.BillingAPI,
		obsMetrics: p.ObsMetrics,
	}
}

// ChargeOrderFee applies the per-order fee by plan status. Only the
// `standard` plan is charged externally; pending plans, early-access
// shops, and unrecognized plan values get a waived audit event so an
// ambiguous plan never produces a surprise charge.
func (s *Service) ChargeOrderFee(ctx context.Context, shop *shopdomain.Shop, sourceID, idempotencyKey string) (*billingdomain.BillableEvent, error) {
	if shop == nil || shop.ID == 0 {
		return nil, billingdomain.ErrInvalidShop
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return nil, billingdomain.ErrInvalidIdempotencyKey
	}

	event, err := s.createOrReturn(ctx, &billingdomain.BillableEvent{
		ID:             s.genID.Generate(),
		ShopID:         shop.ID,
		EventType:      billingdomain.EventOrderFee,
		Status:         billingdomain.EventPending,
		AmountMills:    s.cfg.OrderFeeMills,
		Currency:       "USD",
		SourceID:       sourceID,
		Description:    "Personalized order fee",
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	if event.Status == billingdomain.EventConfirmed || event.Status == billingdomain.EventWaived {
		return event, nil
	}

	if shop.PlanStatus != shopdomain.PlanStandard {
		if !knownPlanStatus(shop.PlanStatus) {
			s.log.Warn("unknown plan status, waiving order fee",
				zap.Int64("shop_id", int64(shop.ID)),
				zap.String("plan_status", string(shop.PlanStatus)),
			)
		}
		return s.transition(ctx, event, billingdomain.EventWaived, "")
	}

	if shop.BillingLineItemID == "" {
		_, _ = s.transition(ctx, event, billingdomain.EventFailed, "no active subscription line item")
		return nil, fmt.Errorf("%w: shop %d has no subscription line item", billingdomain.ErrChargeFailed, shop.ID)
	}

	_, err = s.billingAPI.CreateUsageRecord(ctx, shop, platformdomain.CreateUsageRecordRequest{
		LineItemID:     shop.BillingLineItemID,
		AmountMills:    event.AmountMills,
		Currency:       event.Currency,
		Description:    event.Description,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		_, _ = s.transition(ctx, event, billingdomain.EventFailed, err.Error())
		return nil, fmt.Errorf("%w: %v", billingdomain.ErrChargeFailed, err)
	}
	return s.transition(ctx, event, billingdomain.EventConfirmed, "")
}

// ChargeUsage books a metered personalization charge on the ledger,
// consuming gift balance first. The event stays pending until the
// ledger write lands, so a crash mid-charge is retried under the same
// key and the split entries dedupe themselves.
func (s *Service) ChargeUsage(ctx context.Context, shop *shopdomain.Shop, eventType billingdomain.EventType, costMills int64, sourceID, idempotencyKey string) (*billingdomain.BillableEvent, error) {
	if shop == nil || shop.ID == 0 {
		return nil, billingdomain.ErrInvalidShop
	}
	if costMills <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return nil, billingdomain.ErrInvalidIdempotencyKey
	}

	event, err := s.createOrReturn(ctx, &billingdomain.BillableEvent{
		ID:             s.genID.Generate(),
		ShopID:         shop.ID,
		EventType:      eventType,
		Status:         billingdomain.EventPending,
		AmountMills:    costMills,
		Currency:       "USD",
		SourceID:       sourceID,
		Description:    string(eventType) + " usage",
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	if event.Status == billingdomain.EventConfirmed || event.Status == billingdomain.EventWaived {
		return event, nil
	}

	split, err := s.ledger.Charge(ctx, shop.ID, costMills, idempotencyKey)
	if err != nil {
		_, _ = s.transition(ctx, event, billingdomain.EventFailed, err.Error())
		return nil, fmt.Errorf("%w: %v", billingdomain.ErrChargeFailed, err)
	}

	s.log.Debug("usage charge split",
		zap.Int64("shop_id", int64(shop.ID)),
		zap.Int64("gift_applied_mills", split.GiftAppliedMills),
		zap.Int64("paid_usage_mills", split.PaidUsageMills),
	)
	return s.transition(ctx, event, billingdomain.EventConfirmed, "")
}

// createOrReturn inserts the event unless one already exists for the
// shop and key, then re-fetches so callers always see the winning row.
func (s *Service) createOrReturn(ctx context.Context, event *billingdomain.BillableEvent) (*billingdomain.BillableEvent, error) {
	now := s.clock.Now().UTC()
	result := s.db.WithContext(ctx).Exec(
		`INSERT INTO billable_events (
			id, shop_id, event_type, status, amount_mills, currency,
			source_id, description, idempotency_key, error_message, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?)
		ON CONFLICT (shop_id, idempotency_key) DO NOTHING`,
		event.ID,
		event.ShopID,
		string(event.EventType),
		string(event.Status),
		event.AmountMills,
		event.Currency,
		event.SourceID,
		event.Description,
		event.IdempotencyKey,
		now,
		now,
	)
	if result.Error != nil {
		return nil, result.Error
	}

	var stored billingdomain.BillableEvent
	if err := s.db.WithContext(ctx).
		Where("shop_id = ? AND idempotency_key = ?", event.ShopID, event.IdempotencyKey).
		First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *Service) transition(ctx context.Context, event *billingdomain.BillableEvent, status billingdomain.EventStatus, errorMessage string) (*billingdomain.BillableEvent, error) {
	err := s.db.WithContext(ctx).Model(&billingdomain.BillableEvent{}).
		Where("id = ?", event.ID).
		Updates(map[string]any{
			"status":        string(status),
			"error_message": errorMessage,
			"updated_at":    s.clock.Now().UTC(),
		}).Error
	if err != nil {
		return nil, err
	}
	event.Status = status
	event.ErrorMessage = errorMessage
	if s.obsMetrics != nil {
		s.obsMetrics.RecordBillableEvent(ctx, string(event.EventType), string(status))
	}
	return event, nil
}

func knownPlanStatus(status shopdomain.PlanStatus) bool {
	switch status {
	case shopdomain.PlanStandard,
		shopdomain.PlanEarlyAccess,
		shopdomain.PlanStandardPending,
		shopdomain.PlanEarlyAccessPending,
		shopdomain.PlanNone:
		return true
	}
	return false
}
