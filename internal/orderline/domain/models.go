package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the fulfillment lifecycle of one order line.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// SubmitStatus tracks the provider submission independently of the
// overall line status.
type SubmitStatus string

const (
	SubmitNone      SubmitStatus = "none"
	SubmitPending   SubmitStatus = "pending"
	SubmitSucceeded SubmitStatus = "succeeded"
	SubmitFailed    SubmitStatus = "failed"
)

// Processing is the per-line workflow record. One row per
// (shop, order line), guarded by a unique idempotency key; later
// duplicate webhook deliveries never overwrite the first writer.
type Processing struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	ShopID            snowflake.ID `gorm:"not null;index;uniqueIndex:ux_order_line_processing_shop_idem,priority:1"`
	OrderID           string       `gorm:"type:text"`
	OrderLineID       string       `gorm:"type:text"`
	PersonalizationID string       `gorm:"type:text"`
	IdempotencyKey    string       `gorm:"type:text;not null;uniqueIndex:ux_order_line_processing_shop_idem,priority:2"`
	Status            Status       `gorm:"type:text;not null;default:'pending'"`

	StorageKey   string `gorm:"type:text"`
	Bucket       string `gorm:"type:text"`
	Checksum     string `gorm:"type:text"`
	PersistedAt  *time.Time
	ErrorCode    string `gorm:"type:text"`
	ErrorMessage string `gorm:"type:text"`

	SubmitStatus         SubmitStatus `gorm:"type:text;not null;default:'none'"`
	SubmitIdempotencyKey string       `gorm:"type:text"`
	TransformDefaulted   bool         `gorm:"not null;default:false"`
	ProviderOrderID      string       `gorm:"type:text;index"`
	ProviderOrderNumber  string       `gorm:"type:text"`
	ProviderOrderStatus  string       `gorm:"type:text"`
	LastEvent            string       `gorm:"type:text"`
	LastEventAt          *time.Time
	LastEventPayload     datatypes.JSON

	TrackingNumber  string `gorm:"type:text"`
	TrackingURL     string `gorm:"type:text"`
	TrackingCarrier string `gorm:"type:text"`
	ShippedAt       *time.Time
	DeliveredAt     *time.Time

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Processing) TableName() string { return "order_line_processing" }

var ErrNotFound = errors.New("order_line_processing_not_found")

// FulfillmentKey is the workflow idempotency key for one order line.
func FulfillmentKey(shopID snowflake.ID, orderLineID string) string {
	return fmt.Sprintf("%d:%s:fulfillment", shopID, orderLineID)
}

// OrderFeeKey is the billing idempotency key for one order line.
func OrderFeeKey(shopID snowflake.ID, orderLineID string) string {
	return fmt.Sprintf("%d:%s:order_fee", shopID, orderLineID)
}

// NetworkCheckKey is the transport-level dedup key for one webhook
// delivery. It lives in the same table as fulfillment keys so one
// unique constraint guards both.
func NetworkCheckKey(shopID snowflake.ID, webhookID string) string {
	return fmt.Sprintf("%d:%s:network_check", shopID, webhookID)
}

// SubmitKey is the provider-submission idempotency key for one order
// line.
func SubmitKey(shopID snowflake.ID, orderLineID string) string {
	return fmt.Sprintf("%d:%s:submit", shopID, orderLineID)
}

// Repository persists and queries processing rows. Creation is
// first-writer-wins; all mutation goes through targeted updates.
type Repository interface {
	// CreateOrReturn inserts the row unless one already exists for the
	// idempotency key. Reports created=false with the stored row when a
	// prior writer won.
	CreateOrReturn(ctx context.Context, row *Processing) (stored *Processing, created bool, err error)
	FindByIdempotencyKey(ctx context.Context, shopID snowflake.ID, idempotencyKey string) (*Processing, error)
	FindByProviderOrderID(ctx context.Context, providerOrderID string) (*Processing, error)
	FindByOrderLine(ctx context.Context, orderID, orderLineID string) (*Processing, error)
	// MarkProcessing flips pending rows to processing. Not a strict
	// guard: duplicate workflow starts are safe because every external
	// effect carries its own idempotency key.
	MarkProcessing(ctx context.Context, id snowflake.ID) error
	Update(ctx context.Context, id snowflake.ID, fields map[string]any) error
}
