// Package sink persists completed enrichment records. The pipeline writes
// through the Sink interface; Postgres and Kafka implementations are
// provided and selected by the binary.
package sink

import (
	"context"

	"arnscan/internal/enrich"
)

// Sink stores records keyed by ARN. Write receives a single-entry mapping
// per completed record; implementations must be safe for concurrent calls.
type Sink interface {
	Write(ctx context.Context, data map[string]enrich.Record) error
}
