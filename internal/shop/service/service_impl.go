package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/printforge/internal/cache"
	shopdomain "github.com/smallbiznis/printforge/internal/shop/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shopCacheTTL = 45 * time.Second

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	cache cache.Cache[string, *shopdomain.Shop]
}

func NewService(p Params) shopdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("shop.service"),
		cache: cache.NewTTLCache[string, *shopdomain.Shop](),
	}
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*shopdomain.Shop, error) {
	if id == 0 {
		return nil, shopdomain.ErrShopNotFound
	}
	if cached, ok := s.cache.Get("id:" + id.String()); ok {
		return cached, nil
	}

	var shop shopdomain.Shop
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&shop).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shopdomain.ErrShopNotFound
		}
		return nil, err
	}
	s.store(&shop)
	return &shop, nil
}

func (s *Service) GetByDomain(ctx context.Context, domain string) (*shopdomain.Shop, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return nil, shopdomain.ErrInvalidDomain
	}
	if cached, ok := s.cache.Get("domain:" + domain); ok {
		return cached, nil
	}

	var shop shopdomain.Shop
	err := s.db.WithContext(ctx).Where("domain = ?", domain).First(&shop).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shopdomain.ErrShopNotFound
		}
		return nil, err
	}
	s.store(&shop)
	return &shop, nil
}

func (s *Service) store(shop *shopdomain.Shop) {
	if shop == nil || shop.ID == 0 {
		return
	}
	s.cache.Set("id:"+shop.ID.String(), shop, shopCacheTTL)
	s.cache.Set("domain:"+strings.ToLower(shop.Domain), shop, shopCacheTTL)
}
