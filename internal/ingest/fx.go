package ingest

import (
	"github.com/smallbiznis/printforge/internal/worker"
	"go.uber.org/fx"
)

var Module = fx.Module("ingest",
	fx.Provide(
		func(pool *worker.Pool) Dispatcher { return pool },
		NewService,
	),
)
