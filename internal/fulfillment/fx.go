package fulfillment

import "go.uber.org/fx"

var Module = fx.Module("fulfillment",
	fx.Provide(NewOrchestrator),
)
