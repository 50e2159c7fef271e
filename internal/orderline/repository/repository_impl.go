package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/printforge/internal/clock"
	orderlinedomain "github.com/smallbiznis/printforge/internal/orderline/domain"
	"github.com/smallbiznis/printforge/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Repository struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewRepository(p Params) orderlinedomain.Repository {
	return &Repository{
		db:    p.DB,
		log:   p.Log.Named("orderline.repository"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (r *Repository) CreateOrReturn(ctx context.Context, row *orderlinedomain.Processing) (*orderlinedomain.Processing, bool, error) {
	if row.ShopID == 0 || strings.TrimSpace(row.IdempotencyKey) == "" {
		return nil, false, orderlinedomain.ErrNotFound
	}
	if row.ID == 0 {
		row.ID = r.genID.Generate()
	}
	if row.Status == "" {
		row.Status = orderlinedomain.StatusPending
	}
	if row.SubmitStatus == "" {
		row.SubmitStatus = orderlinedomain.SubmitNone
	}
	now := r.clock.Now().UTC()
	row.CreatedAt = now
	row.UpdatedAt = now

	err := r.db.WithContext(ctx).Create(row).Error
	if err == nil {
		return row, true, nil
	}
	if !db.IsDuplicateKeyErr(err) {
		return nil, false, err
	}

	stored, ferr := r.FindByIdempotencyKey(ctx, row.ShopID, row.IdempotencyKey)
	if ferr != nil {
		return nil, false, ferr
	}
	return stored, false, nil
}

func (r *Repository) FindByIdempotencyKey(ctx context.Context, shopID snowflake.ID, idempotencyKey string) (*orderlinedomain.Processing, error) {
	var row orderlinedomain.Processing
	err := r.db.WithContext(ctx).
		Where("shop_id = ? AND idempotency_key = ?", shopID, idempotencyKey).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, orderlinedomain.ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (r *Repository) FindByProviderOrderID(ctx context.Context, providerOrderID string) (*orderlinedomain.Processing, error) {
	providerOrderID = strings.TrimSpace(providerOrderID)
	if providerOrderID == "" {
		return nil, orderlinedomain.ErrNotFound
	}
	var row orderlinedomain.Processing
	err := r.db.WithContext(ctx).
		Where("provider_order_id = ?", providerOrderID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, orderlinedomain.ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (r *Repository) FindByOrderLine(ctx context.Context, orderID, orderLineID string) (*orderlinedomain.Processing, error) {
	var row orderlinedomain.Processing
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND order_line_id = ?", orderID, orderLineID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, orderlinedomain.ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (r *Repository) MarkProcessing(ctx context.Context, id snowflake.ID) error {
	return r.db.WithContext(ctx).Model(&orderlinedomain.Processing{}).
		Where("id = ? AND status = ?", id, orderlinedomain.StatusPending).
		Updates(map[string]any{
			"status":     string(orderlinedomain.StatusProcessing),
			"updated_at": r.clock.Now().UTC(),
		}).Error
}

func (r *Repository) Update(ctx context.Context, id snowflake.ID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	fields["updated_at"] = r.clock.Now().UTC()
	return r.db.WithContext(ctx).Model(&orderlinedomain.Processing{}).
		Where("id = ?", id).
		Updates(fields).Error
}
