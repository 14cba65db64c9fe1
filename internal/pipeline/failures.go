package pipeline

import "sync"

// Stage names used in failure events and logs.
const (
	StageSeeding     = "seeding"
	StageEnumeration = "enumeration"
	StageEnrichment  = "enrichment"
	StagePersistence = "persistence"
)

// FailureEvent records one isolated, non-fatal failure: the stage it
// happened in, the item being processed, and the cause. For persistence
// failures the item is the full record, which is expensive to recompute and
// worth keeping for diagnosis.
type FailureEvent struct {
	Stage string
	Item  any
	Err   error
}

// FailureSink accumulates failures from every stage. It is the one shared
// structure with concurrent writers across all worker pools, so access is
// mutex-guarded.
type FailureSink struct {
	mu     sync.Mutex
	events []FailureEvent
}

// NewFailureSink returns an empty sink.
func NewFailureSink() *FailureSink {
	return &FailureSink{}
}

// Record appends a failure event. Safe for concurrent use.
func (s *FailureSink) Record(stage string, item any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, FailureEvent{Stage: stage, Item: item, Err: err})
}

// Drain returns all accumulated events and resets the sink.
func (s *FailureSink) Drain() []FailureEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events
	s.events = nil
	return events
}
