package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	shopdomain "github.com/smallbiznis/printforge/internal/shop/domain"
)

// EventType classifies what a billable event charges for.
type EventType string

const (
	EventGeneration   EventType = "generation"
	EventRegeneration EventType = "regeneration"
	EventRemoveBG     EventType = "remove_bg"
	EventOrderFee     EventType = "order_fee"
)

// EventStatus is the billing lifecycle of one event.
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventConfirmed EventStatus = "confirmed"
	EventFailed    EventStatus = "failed"
	EventWaived    EventStatus = "waived"
)

// BillableEvent is the audit record for one monetary decision. A
// confirmed event is immutable; a failed event may be retried under the
// same idempotency key so the monetary line never duplicates.
type BillableEvent struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	ShopID         snowflake.ID `gorm:"not null;index;uniqueIndex:ux_billable_shop_idem,priority:1"`
	EventType      EventType    `gorm:"type:text;not null"`
	Status         EventStatus  `gorm:"type:text;not null"`
	AmountMills    int64        `gorm:"not null"`
	Currency       string       `gorm:"type:text;not null;default:'USD'"`
	SourceID       string       `gorm:"type:text"`
	Description    string       `gorm:"type:text"`
	IdempotencyKey string       `gorm:"type:text;not null;uniqueIndex:ux_billable_shop_idem,priority:2"`
	ErrorMessage   string       `gorm:"type:text"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillableEvent) TableName() string { return "billable_events" }

var (
	ErrInvalidShop           = errors.New("invalid_shop")
	ErrInvalidIdempotencyKey = errors.New("invalid_idempotency_key")
	// ErrChargeFailed wraps an external charge rejection; the caller may
	// retry under the same idempotency key.
	ErrChargeFailed = errors.New("usage_charge_failed")
)

type Service interface {
	// ChargeOrderFee applies the per-order fee according to the shop's
	// plan status. Idempotent on (shopID, idempotencyKey): re-running
	// returns the recorded event without a second external charge.
	ChargeOrderFee(ctx context.Context, shop *shopdomain.Shop, sourceID, idempotencyKey string) (*BillableEvent, error)
	// ChargeUsage books a metered charge for a personalization action,
	// consuming gift credit first and recording the remainder as paid
	// usage on the ledger.
	ChargeUsage(ctx context.Context, shop *shopdomain.Shop, eventType EventType, costMills int64, sourceID, idempotencyKey string) (*BillableEvent, error)
}
