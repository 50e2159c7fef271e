package orderline

import (
	"github.com/smallbiznis/printforge/internal/orderline/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("orderline",
	fx.Provide(repository.NewRepository),
)
