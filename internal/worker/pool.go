package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/printforge/internal/config"
	"github.com/smallbiznis/printforge/internal/fulfillment"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrQueueFull means the job buffer is saturated; the caller reports
// the line as failed and the next webhook delivery retries it.
var ErrQueueFull = errors.New("fulfillment_queue_full")

type Params struct {
	fx.In

	Config       config.Config
	Log          *zap.Logger
	Orchestrator *fulfillment.Orchestrator
	Locker       *Locker
}

// Pool runs fulfillment jobs on background workers. Concurrency is
// bounded per shop so one busy merchant cannot exhaust another's
// platform API rate limits.
type Pool struct {
	cfg          config.Config
	log          *zap.Logger
	orchestrator *fulfillment.Orchestrator
	locker       *Locker

	jobs chan fulfillment.Job
	wg   sync.WaitGroup

	mu        sync.Mutex
	shopSlots map[snowflake.ID]chan struct{}

	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewPool(p Params) *Pool {
	queueSize := p.Config.QueueSize
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		cfg:          p.Config,
		log:          p.Log.Named("worker.pool"),
		orchestrator: p.Orchestrator,
		locker:       p.Locker,
		jobs:         make(chan fulfillment.Job, queueSize),
		shopSlots:    make(map[snowflake.ID]chan struct{}),
	}
}

// Enqueue hands a job to the pool without blocking the webhook
// response.
func (p *Pool) Enqueue(ctx context.Context, job fulfillment.Job) error {
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (p *Pool) Start(ctx context.Context) error {
	p.baseCtx, p.cancel = context.WithCancel(context.Background())
	workers := p.cfg.WorkerCount
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	p.log.Info("fulfillment workers started",
		zap.Int("workers", workers),
		zap.Int("queue_size", cap(p.jobs)),
		zap.Int("shop_concurrency", p.cfg.ShopConcurrency),
	)
	return nil
}

func (p *Pool) Stop(ctx context.Context) error {
	p.cancel()
	close(p.jobs)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) run() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.process(job)
	}
}

func (p *Pool) process(job fulfillment.Job) {
	select {
	case <-p.baseCtx.Done():
		return
	default:
	}

	slot := p.slotFor(job.ShopID)
	select {
	case slot <- struct{}{}:
	case <-p.baseCtx.Done():
		return
	}
	defer func() { <-slot }()

	if !p.locker.Acquire(p.baseCtx, job.IdempotencyKey) {
		p.log.Debug("line locked by another worker, skipping",
			zap.String("idempotency_key", job.IdempotencyKey))
		return
	}
	defer p.locker.Release(p.baseCtx, job.IdempotencyKey)

	if err := p.orchestrator.Process(p.baseCtx, job); err != nil {
		p.log.Error("fulfillment job failed",
			zap.Int64("shop_id", int64(job.ShopID)),
			zap.String("order_id", job.OrderID),
			zap.String("order_line_id", job.OrderLineID),
			zap.Error(err),
		)
	}
}

func (p *Pool) slotFor(shopID snowflake.ID) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, ok := p.shopSlots[shopID]
	if !ok {
		size := p.cfg.ShopConcurrency
		if size < 1 {
			size = 1
		}
		slot = make(chan struct{}, size)
		p.shopSlots[shopID] = slot
	}
	return slot
}

var Module = fx.Module("worker",
	fx.Provide(NewLocker),
	fx.Provide(NewPool),
	fx.Invoke(func(lc fx.Lifecycle, pool *Pool) {
		lc.Append(fx.Hook{
			OnStart: pool.Start,
			OnStop:  pool.Stop,
		})
	}),
)
