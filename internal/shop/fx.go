package shop

import (
	"github.com/smallbiznis/printforge/internal/shop/service"
	"go.uber.org/fx"
)

var Module = fx.Module("shop",
	fx.Provide(service.NewService),
)
