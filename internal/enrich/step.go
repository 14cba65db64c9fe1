// Package enrich runs an ordered chain of enrichment steps over one ARN at a
// time, accumulating the results into a single Record. Unlike fan-out
// pipelines, steps here are strictly sequential: each step sees everything
// written by the steps before it and may overwrite those fields.
package enrich

import (
	"context"
	"fmt"
)

// FieldARN is the record field every record carries from chain entry to
// persistence. It names the entity the record describes.
const FieldARN = "arn"

// Record is the accumulated enrichment result for one ARN. A record is owned
// by exactly one worker at a time and is never shared across goroutines.
type Record map[string]any

// NewRecord returns a record seeded with the ARN field.
func NewRecord(arn string) Record {
	return Record{FieldARN: arn}
}

// ARN returns the record's ARN field, or an empty string if it was dropped.
func (r Record) ARN() string {
	arn, _ := r[FieldARN].(string)
	return arn
}

// Step is a single enrichment operation. Apply receives the record produced
// by the previous step and returns the record for the next one; it may mutate
// and return the same map. A step must not retain the record after returning.
type Step interface {
	Name() string
	Apply(ctx context.Context, arn string, rec Record) (Record, error)
}

// StepFunc adapts a function to the Step interface, for inline steps and
// test doubles.
type StepFunc struct {
	name string
	fn   func(ctx context.Context, arn string, rec Record) (Record, error)
}

// Func wraps fn as a named Step.
func Func(name string, fn func(ctx context.Context, arn string, rec Record) (Record, error)) StepFunc {
	return StepFunc{name: name, fn: fn}
}

func (s StepFunc) Name() string { return s.name }

func (s StepFunc) Apply(ctx context.Context, arn string, rec Record) (Record, error) {
	return s.fn(ctx, arn, rec)
}

// Fields returns a step that stamps fixed fields onto every record, such as
// a run id or collection timestamp.
func Fields(name string, fields map[string]any) StepFunc {
	return Func(name, func(_ context.Context, _ string, rec Record) (Record, error) {
		for k, v := range fields {
			rec[k] = v
		}
		return rec, nil
	})
}

// Chain applies steps in registration order.
type Chain struct {
	steps []Step
}

// NewChain constructs a Chain. Order matters: each step receives the record
// produced by the previous one.
func NewChain(steps ...Step) *Chain {
	return &Chain{steps: steps}
}

// Len returns the number of registered steps.
func (c *Chain) Len() int { return len(c.steps) }

// Run builds a fresh record for the ARN and threads it through every step.
// The first failing step aborts the rest of the chain; the returned error
// names the step and wraps its cause.
func (c *Chain) Run(ctx context.Context, arn string) (Record, error) {
	rec := NewRecord(arn)
	for _, step := range c.steps {
		out, err := step.Apply(ctx, arn, rec)
		if err != nil {
			return nil, fmt.Errorf("enrich step %s failed for %s: %w", step.Name(), arn, err)
		}
		rec = out
	}
	return rec, nil
}
