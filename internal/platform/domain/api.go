package domain

import (
	"context"
	"errors"
	"net/http"
	"strings"

	shopdomain "github.com/smallbiznis/printforge/internal/shop/domain"
)

var (
	ErrInvalidSignature = errors.New("invalid_webhook_signature")
	// ErrProtectedCustomerData means the app is missing the platform API
	// scope for customer PII; retrying can never succeed.
	ErrProtectedCustomerData = errors.New("protected_customer_data_not_approved")
	ErrOrderNotFound         = errors.New("platform_order_not_found")
)

// WebhookVerifier checks the authenticity of an inbound platform webhook.
type WebhookVerifier interface {
	Verify(shopDomain string, payload []byte, headers http.Header) error
}

// OrdersAPI reads order data from the platform admin API. Transport
// implementations live outside this core.
type OrdersAPI interface {
	GetOrder(ctx context.Context, shop *shopdomain.Shop, orderID string) (*Order, error)
}

// CreateUsageRecordRequest books a metered charge against the shop's
// platform subscription.
type CreateUsageRecordRequest struct {
	LineItemID     string
	AmountMills    int64
	Currency       string
	Description    string
	IdempotencyKey string
}

// UsageRecord is the platform's confirmation of a booked charge.
type UsageRecord struct {
	ID          string
	AmountMills int64
	Currency    string
}

// UsageRecordError carries the platform's typed user errors for a
// rejected usage-record charge.
type UsageRecordError struct {
	Messages []string
}

func (e *UsageRecordError) Error() string {
	if e == nil || len(e.Messages) == 0 {
		return "usage record rejected"
	}
	return "usage record rejected: " + strings.Join(e.Messages, "; ")
}

// BillingAPI talks to the platform's usage-billing endpoints.
type BillingAPI interface {
	CreateUsageRecord(ctx context.Context, shop *shopdomain.Shop, req CreateUsageRecordRequest) (*UsageRecord, error)
}
