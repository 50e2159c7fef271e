package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// PlanStatus is the merchant's subscription standing on the platform.
type PlanStatus string

const (
	PlanStandard           PlanStatus = "standard"
	PlanEarlyAccess        PlanStatus = "early_access"
	PlanStandardPending    PlanStatus = "standard_pending"
	PlanEarlyAccessPending PlanStatus = "early_access_pending"
	PlanNone               PlanStatus = "none"
)

// Shop holds per-merchant configuration consumed read-only by the
// fulfillment core. Provider credentials are written by the connect flow,
// which lives outside this service.
type Shop struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	Domain            string       `gorm:"type:text;not null;uniqueIndex:ux_shops_domain"`
	PlanStatus        PlanStatus   `gorm:"type:text;not null;default:'none'"`
	ProviderShopID    string       `gorm:"type:text;not null;default:''"`
	ProviderAPIToken  string       `gorm:"type:text;not null;default:''"`
	BillingLineItemID string       `gorm:"type:text;not null;default:''"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Shop) TableName() string { return "shops" }

// ProviderConnected reports whether the shop has a usable print-provider
// integration.
func (s *Shop) ProviderConnected() bool {
	return s != nil && s.ProviderShopID != "" && s.ProviderAPIToken != ""
}

var (
	ErrShopNotFound  = errors.New("shop_not_found")
	ErrInvalidDomain = errors.New("invalid_shop_domain")
)

type Service interface {
	GetByID(ctx context.Context, id snowflake.ID) (*Shop, error)
	GetByDomain(ctx context.Context, domain string) (*Shop, error)
}
