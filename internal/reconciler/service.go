package reconciler

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/printforge/internal/clock"
	obsmetrics "github.com/smallbiznis/printforge/internal/observability/metrics"
	orderlinedomain "github.com/smallbiznis/printforge/internal/orderline/domain"
	providerdomain "github.com/smallbiznis/printforge/internal/provider/domain"
	shopdomain "github.com/smallbiznis/printforge/internal/shop/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Topics in the provider's callback vocabulary.
const (
	TopicOrderCreated      = "order:created"
	TopicOrderUpdated      = "order:updated"
	TopicShipmentCreated   = "order:shipment:created"
	TopicShipmentDelivered = "order:shipment:delivered"
)

// Action reports what the reconciler did with an event.
type Action string

const (
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
	ActionCancel  Action = "cancel"
	ActionWarn    Action = "warn"
)

// Outcome summarizes one processed callback.
type Outcome struct {
	Action  Action `json:"action"`
	Matched bool   `json:"matched"`
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	Lines      orderlinedomain.Repository
	Provider   providerdomain.Client
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service applies provider callbacks to order-line processing rows.
type Service struct {
	log        *zap.Logger
	clock      clock.Clock
	lines      orderlinedomain.Repository
	provider   providerdomain.Client
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		log:        p.Log.Named("reconciler.service"),
		clock:      p.Clock,
		lines:      p.Lines,
		provider:   p.Provider,
		obsMetrics: p.ObsMetrics,
	}
}

// ProcessEvent resolves the target row by provider order id, falling
// back to the external-id marker, and applies a monotonic status
// update. Unknown orders never error; the provider should not retry
// them.
func (s *Service) ProcessEvent(ctx context.Context, shop *shopdomain.Shop, topic string, event *Event) (*Outcome, error) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordProviderCallback(ctx, topic)
	}
	log := s.log.With(
		zap.String("topic", topic),
		zap.String("provider_order_id", event.OrderID),
		zap.String("external_id", event.ExternalID),
	)

	row, err := s.resolveRow(ctx, event)
	if err != nil && !errors.Is(err, orderlinedomain.ErrNotFound) {
		return nil, err
	}
	if row == nil {
		return s.handleUnmanaged(ctx, shop, topic, event, log)
	}
	return s.applyUpdate(ctx, row, topic, event, log)
}

func (s *Service) resolveRow(ctx context.Context, event *Event) (*orderlinedomain.Processing, error) {
	if event.OrderID != "" {
		row, err := s.lines.FindByProviderOrderID(ctx, event.OrderID)
		if err == nil {
			return row, nil
		}
		if !errors.Is(err, orderlinedomain.ErrNotFound) {
			return nil, err
		}
	}
	if orderID, orderLineID, ok := ParseExternalID(event.ExternalID); ok {
		return s.lines.FindByOrderLine(ctx, orderID, orderLineID)
	}
	return nil, orderlinedomain.ErrNotFound
}

// handleUnmanaged classifies callbacks for orders with no local row.
// The provider's own catalog can auto-import personalized products and
// create orders the workflow never submitted; those are canceled
// before they reach production.
func (s *Service) handleUnmanaged(ctx context.Context, shop *shopdomain.Shop, topic string, event *Event, log *zap.Logger) (*Outcome, error) {
	if topic != TopicOrderCreated {
		log.Info("callback for unknown order, ignoring")
		return &Outcome{Action: ActionSkipped}, nil
	}

	if !hasPersonalizedLine(event.LineItems) {
		return &Outcome{Action: ActionSkipped}, nil
	}
	if _, _, hasMarker := ParseExternalID(event.ExternalID); hasMarker {
		// Submitted by us, yet no local record resolves. Never expected.
		log.Warn("personalized order carries our marker but no local record")
		return &Outcome{Action: ActionWarn}, nil
	}
	if inProduction(event.Status) {
		log.Warn("unmanaged personalized order already in production, cannot cancel")
		return &Outcome{Action: ActionWarn}, nil
	}

	if err := s.provider.CancelOrder(ctx, shop, event.OrderID); err != nil {
		log.Error("cancel of unmanaged personalized order failed", zap.Error(err))
		return nil, err
	}
	log.Info("canceled unmanaged personalized order")
	return &Outcome{Action: ActionCancel}, nil
}

func (s *Service) applyUpdate(ctx context.Context, row *orderlinedomain.Processing, topic string, event *Event, log *zap.Logger) (*Outcome, error) {
	now := s.clock.Now().UTC()
	fields := map[string]any{
		"last_event":    topic,
		"last_event_at": &now,
	}
	if len(event.Raw) > 0 {
		fields["last_event_payload"] = datatypes.JSON(event.Raw)
	}
	if event.Status != "" {
		fields["provider_order_status"] = event.Status
	}
	if event.OrderNumber.String() != "" {
		fields["provider_order_number"] = event.OrderNumber.String()
	}
	if row.ProviderOrderID == "" && event.OrderID != "" {
		fields["provider_order_id"] = event.OrderID
	}

	if mapped, known := mapProviderStatus(event.Status); !known && event.Status != "" {
		log.Warn("unknown provider status, keeping current state",
			zap.String("provider_status", event.Status))
	} else if known && statusRank(mapped) >= statusRank(row.Status) {
		fields["status"] = string(mapped)
	}

	if len(event.Shipments) > 0 {
		shipment := event.Shipments[0]
		if shipment.Number != "" {
			fields["tracking_number"] = shipment.Number
		}
		if shipment.URL != "" {
			fields["tracking_url"] = shipment.URL
		}
		if shipment.Carrier != "" {
			fields["tracking_carrier"] = shipment.Carrier
		}
	}
	switch topic {
	case TopicShipmentCreated:
		fields["shipped_at"] = &now
	case TopicShipmentDelivered:
		if len(event.Shipments) > 0 && event.Shipments[0].DeliveredAt != nil {
			fields["delivered_at"] = event.Shipments[0].DeliveredAt
		} else {
			fields["delivered_at"] = &now
		}
	}

	if err := s.lines.Update(ctx, row.ID, fields); err != nil {
		return nil, err
	}
	log.Info("order line reconciled", zap.String("provider_status", event.Status))
	return &Outcome{Action: ActionUpdated, Matched: true}, nil
}

// mapProviderStatus folds the provider status vocabulary into the
// internal lifecycle. Unknown strings report known=false and leave the
// stored status untouched.
func mapProviderStatus(status string) (orderlinedomain.Status, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "pending", "on-hold", "sending-to-production", "in-production":
		return orderlinedomain.StatusPending, true
	case "fulfilled", "partially-fulfilled":
		return orderlinedomain.StatusSucceeded, true
	case "canceled", "has-issues", "unfulfillable":
		return orderlinedomain.StatusFailed, true
	}
	return "", false
}

// statusRank orders the lifecycle so reconciliation never downgrades a
// terminal state back to pending.
func statusRank(status orderlinedomain.Status) int {
	switch status {
	case orderlinedomain.StatusSucceeded, orderlinedomain.StatusFailed:
		return 2
	case orderlinedomain.StatusProcessing:
		return 1
	default:
		return 0
	}
}

func inProduction(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "sending-to-production", "in-production", "fulfilled", "partially-fulfilled":
		return true
	}
	return false
}

func hasPersonalizedLine(lines []EventLineItem) bool {
	for _, line := range lines {
		if line.Metadata["personalization_id"] != "" {
			return true
		}
		if strings.HasPrefix(strings.ToLower(line.SKU), "pf-") {
			return true
		}
	}
	return false
}

var Module = fx.Module("reconciler",
	fx.Provide(NewService),
)
