// Package pipeline schedules one full collection pass: seed accounts,
// enumerate their IAM entities, run each ARN through the enrichment chain,
// and persist the results. Per-item failures are isolated so one bad item
// never halts the batch.
//
// Data flows strictly forward through three acknowledged queues:
//
//	accounts → ARNs → records → sink
//
// with a side channel from every stage into the failure sink. Completion is
// detected by draining the queues in flow order; only then are the workers
// cancelled, so no stage is stopped while it could still feed a later one.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"

	"arnscan/internal/enrich"
	"arnscan/internal/enumerate"
	"arnscan/internal/inventory"
	"arnscan/internal/sink"
	"arnscan/pkg/workqueue"
)

// Config carries the per-run scheduler settings, read once at construction.
type Config struct {
	// NumWorkers is the pool size for each stage.
	NumWorkers int

	// InventoryFilter restricts ListAccounts when seeding from the full
	// inventory.
	InventoryFilter string

	// ServiceRequirement, when set, keeps only accounts with this service
	// enabled in the inventory.
	ServiceRequirement string
}

// Runner owns the queues and worker pools for one collection pass. A Runner
// is not safe for concurrent Run calls, but may be reused sequentially.
type Runner struct {
	cfg       Config
	directory inventory.Directory
	enum      enumerate.Enumerator
	chain     *enrich.Chain
	sink      sink.Sink

	accountQueue *workqueue.Queue[string]
	arnQueue     *workqueue.Queue[string]
	recordQueue  *workqueue.Queue[enrich.Record]
	failures     *FailureSink
	reported     []FailureEvent
	wg           sync.WaitGroup
}

// NewRunner wires the scheduler to its collaborators. The enrichment chain
// must hold at least the steps the caller wants applied, in order.
func NewRunner(cfg Config, directory inventory.Directory, enum enumerate.Enumerator, chain *enrich.Chain, s sink.Sink) *Runner {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	return &Runner{
		cfg:       cfg,
		directory: directory,
		enum:      enum,
		chain:     chain,
		sink:      s,
	}
}

// Run executes one pass. Seeding behavior:
//
//   - arns given: they go straight onto the ARN queue and no enumeration
//     workers are started;
//   - accounts given: literal 12-digit ids are queued directly, the rest are
//     resolved against the inventory by name or alias;
//   - neither given: every account in the (filtered) inventory is queued.
//
// A seeding failure aborts the run before any workers start. Failures after
// that are isolated per item, reported at the end, and never returned. Run
// returns once every queue has drained and all workers have exited.
func (r *Runner) Run(ctx context.Context, accounts, arns []string) error {
	r.accountQueue = workqueue.New[string]()
	r.arnQueue = workqueue.New[string]()
	r.recordQueue = workqueue.New[enrich.Record]()
	r.failures = NewFailureSink()
	r.reported = nil

	if err := r.seed(ctx, accounts, arns); err != nil {
		return fmt.Errorf("%s: %w", StageSeeding, err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if r.accountQueue.Len() > 0 {
		for i := 0; i < r.cfg.NumWorkers; i++ {
			r.wg.Add(1)
			go r.enumerationWorker(workerCtx, i)
		}
	}
	for i := 0; i < r.cfg.NumWorkers; i++ {
		r.wg.Add(1)
		go r.enrichmentWorker(workerCtx, i)
	}
	for i := 0; i < r.cfg.NumWorkers; i++ {
		r.wg.Add(1)
		go r.persistenceWorker(workerCtx, i)
	}

	// Drain in flow order. Each queue must fully settle, including the
	// puts its workers make downstream before acking, before the next is
	// awaited, so cancellation can never race with in-progress work.
	for _, drain := range []func(context.Context) error{
		r.accountQueue.AwaitDrained,
		r.arnQueue.AwaitDrained,
		r.recordQueue.AwaitDrained,
	} {
		if err := drain(ctx); err != nil {
			cancel()
			r.wg.Wait()
			return err
		}
	}

	cancel()

	r.reported = r.failures.Drain()
	for _, f := range r.reported {
		log.Printf("failure in %s stage for %v: %v", f.Stage, f.Item, f.Err)
	}

	r.wg.Wait()
	return nil
}

// Failures returns the failure events reported by the most recent Run.
// Failures are diagnostic, never fatal: a run with failures still ends
// normally.
func (r *Runner) Failures() []FailureEvent {
	return r.reported
}
