package provider

import (
	"github.com/smallbiznis/printforge/internal/provider/variantmap"
	"go.uber.org/fx"
)

var Module = fx.Module("provider",
	fx.Provide(variantmap.NewResolver),
)
