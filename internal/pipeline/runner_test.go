package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"arnscan/internal/enrich"
	"arnscan/internal/inventory"
	"arnscan/internal/models"
)

// fakeDirectory serves a fixed account listing.
type fakeDirectory struct {
	accounts  []models.Account
	listErr   error
	listCalls int
}

func (d *fakeDirectory) ListAccounts(_ context.Context, filter string) ([]models.Account, error) {
	d.listCalls++
	if d.listErr != nil {
		return nil, d.listErr
	}
	if filter == "" {
		return d.accounts, nil
	}
	var kept []models.Account
	for _, a := range d.accounts {
		if a.Environment == filter {
			kept = append(kept, a)
		}
	}
	return kept, nil
}

func (d *fakeDirectory) FilterServiceEnabled(_ context.Context, service string, accounts []models.Account) ([]models.Account, error) {
	var enabled []models.Account
	for _, a := range accounts {
		if a.HasServiceEnabled(service) {
			enabled = append(enabled, a)
		}
	}
	return enabled, nil
}

// accountEntities is the canned enumeration result for one account.
type accountEntities struct {
	roles, users, policies, groups []string
}

// fakeEnumerator serves canned ARNs and counts enumeration attempts. errOn
// makes one of the four calls fail for an account (calls before it still
// succeed, mimicking partial enumeration).
type fakeEnumerator struct {
	mu       sync.Mutex
	entities map[string]accountEntities
	errOn    map[string]string // account id -> failing call: roles|users|policies|groups
	attempts map[string]int    // ListRoles calls per account
}

func newFakeEnumerator(entities map[string]accountEntities) *fakeEnumerator {
	return &fakeEnumerator{
		entities: entities,
		errOn:    make(map[string]string),
		attempts: make(map[string]int),
	}
}

func (e *fakeEnumerator) list(account, kind string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if kind == "roles" {
		e.attempts[account]++
	}
	if e.errOn[account] == kind {
		return nil, fmt.Errorf("simulated %s failure for %s", kind, account)
	}
	ent := e.entities[account]
	switch kind {
	case "roles":
		return ent.roles, nil
	case "users":
		return ent.users, nil
	case "policies":
		return ent.policies, nil
	default:
		return ent.groups, nil
	}
}

func (e *fakeEnumerator) ListRoles(_ context.Context, account string) ([]string, error) {
	return e.list(account, "roles")
}

func (e *fakeEnumerator) ListUsers(_ context.Context, account string) ([]string, error) {
	return e.list(account, "users")
}

func (e *fakeEnumerator) ListManagedPolicies(_ context.Context, account string) ([]string, error) {
	return e.list(account, "policies")
}

func (e *fakeEnumerator) ListGroups(_ context.Context, account string) ([]string, error) {
	return e.list(account, "groups")
}

func (e *fakeEnumerator) attemptCount(account string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts[account]
}

// memSink stores records in memory, optionally delaying or failing writes.
type memSink struct {
	mu       sync.Mutex
	stored   map[string]enrich.Record
	failARNs map[string]bool
	delay    time.Duration
	writes   int
}

func newMemSink() *memSink {
	return &memSink{stored: make(map[string]enrich.Record), failARNs: make(map[string]bool)}
}

func (s *memSink) Write(_ context.Context, data map[string]enrich.Record) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	for arn, rec := range data {
		if s.failARNs[arn] {
			return fmt.Errorf("simulated storage failure for %s", arn)
		}
		s.stored[arn] = rec
	}
	return nil
}

func (s *memSink) snapshot() map[string]enrich.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]enrich.Record, len(s.stored))
	for k, v := range s.stored {
		out[k] = v
	}
	return out
}

func (s *memSink) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func addField(key string, val any) enrich.Step {
	return enrich.Func("add-"+key, func(_ context.Context, _ string, rec enrich.Record) (enrich.Record, error) {
		rec[key] = val
		return rec, nil
	})
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRun_DirectARNsSkipEnumeration(t *testing.T) {
	dir := &fakeDirectory{}
	enum := newFakeEnumerator(nil)
	s := newMemSink()
	chain := enrich.NewChain(addField("x", 1), addField("y", 2))
	r := NewRunner(Config{NumWorkers: 2}, dir, enum, chain, s)

	if err := r.Run(testCtx(t), nil, []string{"arn:aws:iam::111111111111:role/alpha"}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	want := enrich.Record{"arn": "arn:aws:iam::111111111111:role/alpha", "x": 1, "y": 2}
	got := s.snapshot()
	if !reflect.DeepEqual(got["arn:aws:iam::111111111111:role/alpha"], want) {
		t.Errorf("stored record = %v; want %v", got, want)
	}
	if dir.listCalls != 0 {
		t.Errorf("inventory was consulted %d times; want 0", dir.listCalls)
	}
	if n := enum.attemptCount("111111111111"); n != 0 {
		t.Errorf("enumeration ran %d times; want 0", n)
	}
	if len(r.Failures()) != 0 {
		t.Errorf("unexpected failures: %v", r.Failures())
	}
}

func TestRun_EnumeratesEachAccountExactlyOnce(t *testing.T) {
	entities := map[string]accountEntities{
		"111111111111": {roles: []string{"arn:r1"}, users: []string{"arn:u1"}},
		"222222222222": {policies: []string{"arn:p1"}, groups: []string{"arn:g1", "arn:g2"}},
		"333333333333": {},
	}
	enum := newFakeEnumerator(entities)
	s := newMemSink()
	r := NewRunner(Config{NumWorkers: 3}, &fakeDirectory{}, enum, enrich.NewChain(), s)

	accounts := []string{"111111111111", "222222222222", "333333333333"}
	if err := r.Run(testCtx(t), accounts, nil); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	for _, acct := range accounts {
		if n := enum.attemptCount(acct); n != 1 {
			t.Errorf("account %s enumerated %d times; want exactly 1", acct, n)
		}
	}
	if got := len(s.snapshot()); got != 5 {
		t.Errorf("stored %d records; want 5", got)
	}
}

func TestRun_ChainFailureIsolatesARN(t *testing.T) {
	entities := map[string]accountEntities{
		"111111111111": {roles: []string{"r1"}},
	}
	enum := newFakeEnumerator(entities)
	s := newMemSink()
	failFirst := enrich.Func("boom", func(_ context.Context, arn string, rec enrich.Record) (enrich.Record, error) {
		return nil, errors.New("enrichment exploded")
	})
	r := NewRunner(Config{NumWorkers: 1}, &fakeDirectory{}, enum, enrich.NewChain(failFirst), s)

	if err := r.Run(testCtx(t), []string{"111111111111"}, nil); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if got := len(s.snapshot()); got != 0 {
		t.Errorf("sink received %d records; want 0", got)
	}
	failures := r.Failures()
	if len(failures) != 1 {
		t.Fatalf("recorded %d failures; want 1: %v", len(failures), failures)
	}
	if failures[0].Stage != StageEnrichment || failures[0].Item != "r1" {
		t.Errorf("unexpected failure event: %+v", failures[0])
	}
}

func TestRun_EnumerationFailureKeepsPartialARNs(t *testing.T) {
	entities := map[string]accountEntities{
		"111111111111": {roles: []string{"arn:r1"}}, // fails at users, after roles emitted
		"222222222222": {roles: []string{"arn:r2"}},
	}
	enum := newFakeEnumerator(entities)
	enum.errOn["111111111111"] = "users"
	s := newMemSink()
	r := NewRunner(Config{NumWorkers: 2}, &fakeDirectory{}, enum, enrich.NewChain(), s)

	if err := r.Run(testCtx(t), []string{"111111111111", "222222222222"}, nil); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	stored := s.snapshot()
	// Partial enumeration results flow through normally, no rollback.
	if _, ok := stored["arn:r1"]; !ok {
		t.Error("partial ARN from the failed account was dropped")
	}
	if _, ok := stored["arn:r2"]; !ok {
		t.Error("healthy account's ARN was not stored")
	}

	failures := r.Failures()
	if len(failures) != 1 {
		t.Fatalf("recorded %d failures; want 1: %v", len(failures), failures)
	}
	if failures[0].Stage != StageEnumeration || failures[0].Item != "111111111111" {
		t.Errorf("unexpected failure event: %+v", failures[0])
	}
}

func TestRun_PersistenceFailureKeepsRecordForDiagnosis(t *testing.T) {
	enum := newFakeEnumerator(map[string]accountEntities{
		"111111111111": {roles: []string{"arn:good", "arn:bad"}},
	})
	s := newMemSink()
	s.failARNs["arn:bad"] = true
	r := NewRunner(Config{NumWorkers: 1}, &fakeDirectory{}, enum, enrich.NewChain(addField("k", "v")), s)

	if err := r.Run(testCtx(t), []string{"111111111111"}, nil); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if _, ok := s.snapshot()["arn:good"]; !ok {
		t.Error("unaffected record was not stored")
	}
	failures := r.Failures()
	if len(failures) != 1 {
		t.Fatalf("recorded %d failures; want 1: %v", len(failures), failures)
	}
	rec, ok := failures[0].Item.(enrich.Record)
	if !ok {
		t.Fatalf("persistence failure item is %T; want the full record", failures[0].Item)
	}
	if rec.ARN() != "arn:bad" || rec["k"] != "v" {
		t.Errorf("failure record lost its fields: %v", rec)
	}
}

func TestRun_AliasMatchQueuesAccountOnce(t *testing.T) {
	dir := &fakeDirectory{accounts: []models.Account{
		{
			ID:            "222222222222",
			Name:          "prod",
			SchemaVersion: "2",
			Aliases:       []string{"prod", "prod"}, // two aliases match the same token
		},
	}}
	enum := newFakeEnumerator(map[string]accountEntities{
		"222222222222": {roles: []string{"arn:r1"}},
	})
	s := newMemSink()
	r := NewRunner(Config{NumWorkers: 2}, dir, enum, enrich.NewChain(), s)

	if err := r.Run(testCtx(t), []string{"prod"}, nil); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if n := enum.attemptCount("222222222222"); n != 1 {
		t.Errorf("account enumerated %d times; want exactly 1", n)
	}
}

func TestRun_SeedsAllAccountsWithServiceRequirement(t *testing.T) {
	dir := &fakeDirectory{accounts: []models.Account{
		{ID: "111111111111", Services: []models.Service{{Name: "scanner", Enabled: true}}},
		{ID: "222222222222", Services: []models.Service{{Name: "scanner", Enabled: false}}},
		{ID: "333333333333"},
	}}
	enum := newFakeEnumerator(map[string]accountEntities{})
	s := newMemSink()
	cfg := Config{NumWorkers: 2, ServiceRequirement: "scanner"}
	r := NewRunner(cfg, dir, enum, enrich.NewChain(), s)

	if err := r.Run(testCtx(t), nil, nil); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if n := enum.attemptCount("111111111111"); n != 1 {
		t.Errorf("enabled account enumerated %d times; want 1", n)
	}
	for _, skipped := range []string{"222222222222", "333333333333"} {
		if n := enum.attemptCount(skipped); n != 0 {
			t.Errorf("account %s without the service enumerated %d times; want 0", skipped, n)
		}
	}
}

func TestRun_SeedingFailureIsFatal(t *testing.T) {
	cause := fmt.Errorf("%w: credentials rejected", inventory.ErrUnavailable)
	dir := &fakeDirectory{listErr: cause}
	enum := newFakeEnumerator(nil)
	s := newMemSink()
	r := NewRunner(Config{NumWorkers: 2}, dir, enum, enrich.NewChain(), s)

	err := r.Run(testCtx(t), []string{"prod"}, nil)
	if !errors.Is(err, inventory.ErrUnavailable) {
		t.Fatalf("Run error = %v; want wrapped inventory.ErrUnavailable", err)
	}
	if s.writeCount() != 0 {
		t.Error("sink was written to despite a fatal seeding error")
	}
}

func TestRun_WaitsForDelayedLastWrite(t *testing.T) {
	enum := newFakeEnumerator(map[string]accountEntities{
		"111111111111": {roles: []string{"arn:r1", "arn:r2", "arn:r3"}},
	})
	s := newMemSink()
	s.delay = 100 * time.Millisecond
	r := NewRunner(Config{NumWorkers: 1}, &fakeDirectory{}, enum, enrich.NewChain(), s)

	if err := r.Run(testCtx(t), []string{"111111111111"}, nil); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	// Every write must have landed before Run returned, delay or not.
	if got := len(s.snapshot()); got != 3 {
		t.Errorf("Run returned with %d of 3 records stored", got)
	}
}

func TestRun_NoSideEffectsAfterReturn(t *testing.T) {
	enum := newFakeEnumerator(map[string]accountEntities{
		"111111111111": {roles: []string{"arn:r1"}, users: []string{"arn:u1"}},
	})
	s := newMemSink()
	r := NewRunner(Config{NumWorkers: 4}, &fakeDirectory{}, enum, enrich.NewChain(), s)

	if err := r.Run(testCtx(t), []string{"111111111111"}, nil); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	writesAtReturn := s.writeCount()
	failuresAtReturn := len(r.Failures())
	time.Sleep(50 * time.Millisecond)

	if s.writeCount() != writesAtReturn {
		t.Error("a worker wrote to the sink after Run returned")
	}
	if len(r.Failures()) != failuresAtReturn {
		t.Error("a worker recorded a failure after Run returned")
	}
}

func TestRun_Idempotent(t *testing.T) {
	entities := map[string]accountEntities{
		"111111111111": {roles: []string{"arn:r1"}, groups: []string{"arn:g1"}},
	}
	chain := enrich.NewChain(addField("x", 1))

	runOnce := func() map[string]enrich.Record {
		s := newMemSink()
		r := NewRunner(Config{NumWorkers: 2}, &fakeDirectory{}, newFakeEnumerator(entities), chain, s)
		if err := r.Run(testCtx(t), []string{"111111111111"}, nil); err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
		return s.snapshot()
	}

	first := runOnce()
	second := runOnce()
	if !reflect.DeepEqual(first, second) {
		t.Errorf("two identical runs stored different records:\n%v\n%v", first, second)
	}
}

func TestRun_RunnerReusableSequentially(t *testing.T) {
	entities := map[string]accountEntities{
		"111111111111": {roles: []string{"arn:r1"}},
	}
	enum := newFakeEnumerator(entities)
	s := newMemSink()
	r := NewRunner(Config{NumWorkers: 2}, &fakeDirectory{}, enum, enrich.NewChain(), s)

	for i := 0; i < 2; i++ {
		if err := r.Run(testCtx(t), []string{"111111111111"}, nil); err != nil {
			t.Fatalf("run %d returned error: %v", i+1, err)
		}
	}
	if n := enum.attemptCount("111111111111"); n != 2 {
		t.Errorf("two runs enumerated %d times; want 2", n)
	}
}
