package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// EntryType classifies a ledger posting.
type EntryType string

const (
	EntryGiftGrant EntryType = "gift_grant"
	EntryGiftSpend EntryType = "gift_spend"
	EntryPaidUsage EntryType = "paid_usage"
)

// UsageLedgerEntry is one immutable monetary posting. Amounts are in
// mills (1 cent = 10 mills): grants positive, spends negative.
type UsageLedgerEntry struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	ShopID         snowflake.ID `gorm:"not null;index;uniqueIndex:ux_ledger_shop_idem,priority:1"`
	EntryType      EntryType    `gorm:"type:text;not null"`
	AmountMills    int64        `gorm:"not null"`
	IdempotencyKey string       `gorm:"type:text;not null;uniqueIndex:ux_ledger_shop_idem,priority:2"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageLedgerEntry) TableName() string { return "usage_ledger_entries" }

// ChargeResult reports how a charge was split between gift credit and
// paid usage.
type ChargeResult struct {
	GiftAppliedMills int64
	PaidUsageMills   int64
}

var (
	ErrInvalidShop           = errors.New("invalid_shop")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidIdempotencyKey = errors.New("invalid_idempotency_key")
)

type Service interface {
	// Grant credits the shop's gift balance.
	Grant(ctx context.Context, shopID snowflake.ID, amountMills int64, idempotencyKey string) error
	// Charge debits costMills, consuming gift balance first and booking
	// the remainder as paid usage. Safe to retry with the same key.
	Charge(ctx context.Context, shopID snowflake.ID, costMills int64, idempotencyKey string) (ChargeResult, error)
	GiftBalance(ctx context.Context, shopID snowflake.ID) (int64, error)
	PaidUsageMonthToDate(ctx context.Context, shopID snowflake.ID) (int64, error)
}
