package pipeline

import (
	"context"
	"fmt"
	"log"

	"arnscan/internal/enrich"
)

// enumerationWorker consumes accounts and emits one ARN per discovered
// entity. All four enumeration calls for an account complete (or fail)
// before the account is acked; on failure the account goes to the failure
// sink and ARNs already emitted for it stay queued; there is no rollback.
func (r *Runner) enumerationWorker(ctx context.Context, id int) {
	defer r.wg.Done()
	for {
		account, err := r.accountQueue.Get(ctx)
		if err != nil {
			return
		}
		log.Printf("enumeration-worker-%d: listing entities in account %s", id, account)
		if err := r.enumerateAccount(ctx, account); err != nil {
			r.failures.Record(StageEnumeration, account, err)
		}
		r.accountQueue.Ack()
	}
}

func (r *Runner) enumerateAccount(ctx context.Context, account string) error {
	lists := []struct {
		kind string
		fn   func(context.Context, string) ([]string, error)
	}{
		{"roles", r.enum.ListRoles},
		{"users", r.enum.ListUsers},
		{"managed policies", r.enum.ListManagedPolicies},
		{"groups", r.enum.ListGroups},
	}
	for _, l := range lists {
		arns, err := l.fn(ctx, account)
		if err != nil {
			return fmt.Errorf("list %s: %w", l.kind, err)
		}
		for _, arn := range arns {
			r.arnQueue.Put(arn)
		}
	}
	return nil
}

// enrichmentWorker consumes ARNs and runs the enrichment chain. Successful
// records are queued for persistence before the ARN is acked, so the ARN
// queue cannot drain while a record it produced is still unqueued.
func (r *Runner) enrichmentWorker(ctx context.Context, id int) {
	defer r.wg.Done()
	for {
		arn, err := r.arnQueue.Get(ctx)
		if err != nil {
			return
		}
		rec, err := r.chain.Run(ctx, arn)
		if err != nil {
			log.Printf("enrichment-worker-%d: %v", id, err)
			r.failures.Record(StageEnrichment, arn, err)
		} else {
			r.recordQueue.Put(rec)
		}
		r.arnQueue.Ack()
	}
}

// persistenceWorker consumes completed records and writes each as a
// single-entry update keyed by ARN. Failed records go to the failure sink
// whole; persistence is not retried within a run.
func (r *Runner) persistenceWorker(ctx context.Context, id int) {
	defer r.wg.Done()
	for {
		rec, err := r.recordQueue.Get(ctx)
		if err != nil {
			return
		}
		arn := rec.ARN()
		if err := r.sink.Write(ctx, map[string]enrich.Record{arn: rec}); err != nil {
			log.Printf("persistence-worker-%d: store %s: %v", id, arn, err)
			r.failures.Record(StagePersistence, rec, err)
		}
		r.recordQueue.Ack()
	}
}
