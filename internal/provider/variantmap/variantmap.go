package variantmap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/printforge/internal/cache"
	"github.com/smallbiznis/printforge/internal/clock"
	providerdomain "github.com/smallbiznis/printforge/internal/provider/domain"
	shopdomain "github.com/smallbiznis/printforge/internal/shop/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const cacheTTL = 10 * time.Minute

// Mapping caches which provider variant a platform variant maps to,
// keyed per shop and provider product.
type Mapping struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	ShopID            snowflake.ID `gorm:"not null;uniqueIndex:ux_variant_mappings_key,priority:1"`
	ProviderProductID string       `gorm:"type:text;not null;uniqueIndex:ux_variant_mappings_key,priority:2"`
	PlatformVariantID int64        `gorm:"not null;uniqueIndex:ux_variant_mappings_key,priority:3"`
	ProviderVariantID int64        `gorm:"not null"`
	Title             string       `gorm:"type:text"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Mapping) TableName() string { return "provider_variant_mappings" }

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Client providerdomain.Client
}

// Resolver maps platform variants onto provider variants and resolves
// print-area placeholders. Lookups hit an in-process cache, then the
// mapping table, then the provider catalog.
type Resolver struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	client       providerdomain.Client
	variants     cache.Cache[string, int64]
	placeholders cache.Cache[string, []providerdomain.Placeholder]
}

func NewResolver(p Params) *Resolver {
	return &Resolver{
		db:           p.DB,
		log:          p.Log.Named("provider.variantmap"),
		genID:        p.GenID,
		clock:        p.Clock,
		client:       p.Client,
		variants:     cache.NewTTLCache[string, int64](),
		placeholders: cache.NewTTLCache[string, []providerdomain.Placeholder](),
	}
}

// ResolveVariant returns the provider variant id for a purchased
// platform variant. On a mapping miss it fetches the provider product
// and matches variants by title, then persists the match.
func (r *Resolver) ResolveVariant(ctx context.Context, shop *shopdomain.Shop, providerProductID string, platformVariantID int64, variantTitle string) (int64, error) {
	cacheKey := fmt.Sprintf("%d:%s:%d", shop.ID, providerProductID, platformVariantID)
	if id, ok := r.variants.Get(cacheKey); ok {
		return id, nil
	}

	var mapping Mapping
	err := r.db.WithContext(ctx).
		Where("shop_id = ? AND provider_product_id = ? AND platform_variant_id = ?",
			shop.ID, providerProductID, platformVariantID).
		First(&mapping).Error
	if err == nil {
		r.variants.Set(cacheKey, mapping.ProviderVariantID, cacheTTL)
		return mapping.ProviderVariantID, nil
	}
	if err != gorm.ErrRecordNotFound {
		return 0, err
	}

	product, err := r.client.GetProduct(ctx, shop, providerProductID)
	if err != nil {
		return 0, err
	}
	matched, ok := matchByTitle(product.Variants, variantTitle)
	if !ok {
		return 0, &providerdomain.Error{
			Code:    "provider_variant_not_mapped",
			Message: fmt.Sprintf("no provider variant matches %q on product %s", variantTitle, providerProductID),
		}
	}

	insert := r.db.WithContext(ctx).Exec(
		`INSERT INTO provider_variant_mappings (
			id, shop_id, provider_product_id, platform_variant_id, provider_variant_id, title, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (shop_id, provider_product_id, platform_variant_id) DO NOTHING`,
		r.genID.Generate(),
		shop.ID,
		providerProductID,
		platformVariantID,
		matched.ID,
		matched.Title,
		r.clock.Now().UTC(),
	)
	if insert.Error != nil {
		return 0, insert.Error
	}

	r.variants.Set(cacheKey, matched.ID, cacheTTL)
	return matched.ID, nil
}

// ResolvePrintArea returns the placeholder to print on, preferring the
// front placement and falling back to the first one the variant has.
func (r *Resolver) ResolvePrintArea(ctx context.Context, shop *shopdomain.Shop, providerProductID string, providerVariantID int64) (providerdomain.Placeholder, error) {
	cacheKey := fmt.Sprintf("%d:%s:%d", shop.ID, providerProductID, providerVariantID)
	placeholders, ok := r.placeholders.Get(cacheKey)
	if !ok {
		var err error
		placeholders, err = r.client.GetVariantPlaceholders(ctx, shop, providerProductID, providerVariantID)
		if err != nil {
			return providerdomain.Placeholder{}, err
		}
		r.placeholders.Set(cacheKey, placeholders, cacheTTL)
	}

	if len(placeholders) == 0 {
		return providerdomain.Placeholder{}, &providerdomain.Error{
			Code:    "provider_variant_not_mapped",
			Message: fmt.Sprintf("variant %d on product %s has no printable area", providerVariantID, providerProductID),
		}
	}
	for _, p := range placeholders {
		if strings.EqualFold(p.Position, "front") {
			return p, nil
		}
	}
	return placeholders[0], nil
}

// matchByTitle prefers an exact title match, then falls back to a
// normalized comparison that ignores option separators.
func matchByTitle(variants []providerdomain.Variant, title string) (providerdomain.Variant, bool) {
	title = strings.TrimSpace(title)
	for _, v := range variants {
		if strings.EqualFold(strings.TrimSpace(v.Title), title) {
			return v, true
		}
	}
	want := normalizeTitle(title)
	if want == "" {
		return providerdomain.Variant{}, false
	}
	for _, v := range variants {
		if normalizeTitle(v.Title) == want {
			return v, true
		}
	}
	return providerdomain.Variant{}, false
}

func normalizeTitle(title string) string {
	title = strings.ToLower(strings.TrimSpace(title))
	for _, sep := range []string{" / ", "/", " - ", ", "} {
		title = strings.ReplaceAll(title, sep, " ")
	}
	return strings.Join(strings.Fields(title), " ")
}
