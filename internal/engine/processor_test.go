package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"dataherd/internal/types"
)

type fakeStorage struct {
	mu       sync.Mutex
	updates  []string
	removed  []string
	flagged  []string
	failLots map[string]bool
}

func (f *fakeStorage) fail(lotID string) error {
	if f.failLots[lotID] {
		return fmt.Errorf("lot %s is locked", lotID)
	}
	return nil
}

func (f *fakeStorage) UpdateField(ctx context.Context, batchID, lotID, field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(lotID); err != nil {
		return err
	}
	f.updates = append(f.updates, fmt.Sprintf("%s.%s=%s", lotID, field, value))
	return nil
}

func (f *fakeStorage) MarkRemoved(ctx context.Context, batchID, lotID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(lotID); err != nil {
		return err
	}
	f.removed = append(f.removed, lotID)
	return nil
}

func (f *fakeStorage) FlagRecord(ctx context.Context, batchID, lotID, field, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(lotID); err != nil {
		return err
	}
	f.flagged = append(f.flagged, lotID+"."+field)
	return nil
}

type fakeLedger struct {
	snapshots  int
	snapLots   []string
	changes    []types.ChangeEntry
	operations []types.OperationLog
}

func (f *fakeLedger) Snapshot(batchID, operationID string, lotIDs []string) (string, error) {
	f.snapshots++
	f.snapLots = lotIDs
	return "snap-" + operationID, nil
}

func (f *fakeLedger) RecordChanges(operationID string, entries []types.ChangeEntry) error {
	f.changes = append(f.changes, entries...)
	return nil
}

func (f *fakeLedger) LogOperation(log types.OperationLog) error {
	f.operations = append(f.operations, log)
	return nil
}

type fakeUsage struct {
	calls map[string][]bool
}

func (f *fakeUsage) RecordUsage(ruleID string, success bool) error {
	if f.calls == nil {
		f.calls = make(map[string][]bool)
	}
	f.calls[ruleID] = append(f.calls[ruleID], success)
	return nil
}

func testBatch() []types.Record {
	return []types.Record{
		record("L001", map[string]string{"weight": "450", "breed": "angus"}),
		record("L002", map[string]string{"weight": "800", "breed": "HEREFORD"}),
		record("L003", map[string]string{"weight": "1200", "breed": ""}),
	}
}

func weightFloor() types.Rule {
	return types.Rule{
		ID:         "rule-weight-floor",
		Name:       "Entry weight floor",
		Type:       types.RuleValidation,
		Field:      "weight",
		Condition:  types.Condition{Operator: types.OpLessThan, Threshold: 500},
		Action:     types.ActionFlag,
		Confidence: 0.9,
		IsActive:   true,
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func breedStandardizer() types.Rule {
	return types.Rule{
		ID:         "rule-breed-std",
		Name:       "Standardize breed",
		Type:       types.RuleStandardization,
		Field:      "breed",
		Condition:  types.Condition{Operator: types.OpMatchesPattern, Pattern: ".+"},
		Action:     types.ActionStandardize,
		Confidence: 0.8,
		IsActive:   true,
		CreatedAt:  time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestPreviewProposesChanges(t *testing.T) {
	p := NewProcessor(NewEvaluator())
	cs, err := p.Preview(context.Background(), "B1", testBatch(), []types.Rule{weightFloor(), breedStandardizer()})
	if err != nil {
		t.Fatal(err)
	}

	// L001: weight flag + breed angus→Angus; L002: HEREFORD→Hereford.
	if len(cs.Entries) != 3 {
		t.Fatalf("entries = %d, want 3: %+v", len(cs.Entries), cs.Entries)
	}
	if cs.Counts.Flagged != 1 || cs.Counts.Changed != 2 {
		t.Errorf("counts = %+v", cs.Counts)
	}
	if cs.Records != 3 {
		t.Errorf("records = %d, want 3", cs.Records)
	}
	for _, e := range cs.Entries {
		if e.Status != types.ChangeProposed {
			t.Errorf("entry %s status = %s, want proposed", e.ID, e.Status)
		}
	}
}

func TestPreviewIsDeterministic(t *testing.T) {
	rules := []types.Rule{weightFloor(), breedStandardizer()}
	p := NewProcessor(NewEvaluator())

	first, err := p.Preview(context.Background(), "B1", testBatch(), rules)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Preview(context.Background(), "B1", testBatch(), rules)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("previews differ (-first +second):\n%s", diff)
	}
}

func TestPreviewParallelMatchesSerial(t *testing.T) {
	var records []types.Record
	for i := 0; i < 50; i++ {
		records = append(records, record(fmt.Sprintf("L%03d", i), map[string]string{
			"weight": fmt.Sprintf("%d", 300+i*30),
			"breed":  "angus",
		}))
	}
	rules := []types.Rule{weightFloor(), breedStandardizer()}

	serial, err := NewProcessor(NewEvaluator()).Preview(context.Background(), "B1", records, rules)
	if err != nil {
		t.Fatal(err)
	}
	parallel, err := NewProcessor(NewEvaluator(), WithWorkers(4)).Preview(context.Background(), "B1", records, rules)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(serial, parallel); diff != "" {
		t.Errorf("parallel preview diverges from serial (-serial +parallel):\n%s", diff)
	}
}

func TestPreviewWithoutRulesWarns(t *testing.T) {
	p := NewProcessor(NewEvaluator())
	cs, err := p.Preview(context.Background(), "B1", testBatch(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(cs.Entries) != 0 {
		t.Errorf("entries = %d, want 0", len(cs.Entries))
	}
	if len(cs.Warnings) != 1 || cs.Warnings[0] != WarningNoRules {
		t.Errorf("warnings = %v", cs.Warnings)
	}
}

func TestPreviewDoesNotMutateInput(t *testing.T) {
	records := testBatch()
	p := NewProcessor(NewEvaluator())
	if _, err := p.Preview(context.Background(), "B1", records, []types.Rule{breedStandardizer()}); err != nil {
		t.Fatal(err)
	}
	if records[0].Fields["breed"] != "angus" {
		t.Errorf("preview mutated input: breed = %q", records[0].Fields["breed"])
	}
}

func TestPreviewRemoveShortCircuits(t *testing.T) {
	remove := types.Rule{
		ID:         "rule-missing-breed",
		Type:       types.RuleCleaning,
		Field:      "breed",
		Condition:  types.Condition{Operator: types.OpMissing},
		Action:     types.ActionRemove,
		Confidence: 0.7,
		IsActive:   true,
		Priority:   1,
		CreatedAt:  time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC),
	}
	flag := weightFloor()
	flag.Priority = 2

	records := []types.Record{
		record("L001", map[string]string{"weight": "450"}), // breed missing AND weight low
	}
	p := NewProcessor(NewEvaluator())
	cs, err := p.Preview(context.Background(), "B1", records, []types.Rule{flag, remove})
	if err != nil {
		t.Fatal(err)
	}
	if len(cs.Entries) != 1 || cs.Entries[0].Action != types.ActionRemove {
		t.Fatalf("entries = %+v, want single remove", cs.Entries)
	}
}

func TestPreviewDuplicateDetection(t *testing.T) {
	dup := types.Rule{
		ID:         "rule-dup",
		Type:       types.RuleCleaning,
		Field:      "lot_id",
		Condition:  types.Condition{Operator: types.OpDuplicate},
		Action:     types.ActionRemove,
		Confidence: 0.9,
		IsActive:   true,
	}
	records := []types.Record{
		record("L001", map[string]string{"weight": "500"}),
		record("L002", map[string]string{"weight": "600"}),
		record("L001", map[string]string{"weight": "510"}),
	}
	p := NewProcessor(NewEvaluator())
	cs, err := p.Preview(context.Background(), "B1", records, []types.Rule{dup})
	if err != nil {
		t.Fatal(err)
	}
	if len(cs.Entries) != 1 {
		t.Fatalf("entries = %+v, want 1 (first occurrence kept)", cs.Entries)
	}
	if cs.Entries[0].LotID != "L001" || cs.Entries[0].Action != types.ActionRemove {
		t.Errorf("entry = %+v", cs.Entries[0])
	}
}

func TestTieBreakPriorityWins(t *testing.T) {
	low := breedStandardizer()
	low.ID = "rule-low-priority"
	low.Priority = 2
	high := breedStandardizer()
	high.ID = "rule-high-priority"
	high.Priority = 1
	high.Action = types.ActionCorrect
	high.CreatedAt = low.CreatedAt.Add(-time.Hour) // older but prioritized

	records := []types.Record{record("L001", map[string]string{"breed": "angus"})}
	p := NewProcessor(NewEvaluator())
	cs, err := p.Preview(context.Background(), "B1", records, []types.Rule{low, high})
	if err != nil {
		t.Fatal(err)
	}
	if len(cs.Entries) != 1 {
		t.Fatalf("entries = %+v, want exactly one mutation per field", cs.Entries)
	}
	if cs.Entries[0].RuleID != "rule-high-priority" {
		t.Errorf("winner = %s, want rule-high-priority", cs.Entries[0].RuleID)
	}
}

func TestTieBreakNewestWins(t *testing.T) {
	older := breedStandardizer()
	older.ID = "rule-older"
	newer := breedStandardizer()
	newer.ID = "rule-newer"
	newer.CreatedAt = older.CreatedAt.Add(time.Hour)

	records := []types.Record{record("L001", map[string]string{"breed": "angus"})}
	p := NewProcessor(NewEvaluator(), WithTieBreak(TieBreakNewest))
	cs, err := p.Preview(context.Background(), "B1", records, []types.Rule{older, newer})
	if err != nil {
		t.Fatal(err)
	}
	if len(cs.Entries) != 1 || cs.Entries[0].RuleID != "rule-newer" {
		t.Errorf("entries = %+v, want rule-newer to win", cs.Entries)
	}
}

func TestApplyCommitsThroughLedger(t *testing.T) {
	storage := &fakeStorage{}
	ledger := &fakeLedger{}
	usage := &fakeUsage{}
	p := NewProcessor(NewEvaluator(),
		WithStorage(storage), WithLedger(ledger), WithUsageRecorder(usage))

	records := testBatch()
	cs, err := p.Preview(context.Background(), "B1", records, []types.Rule{weightFloor(), breedStandardizer()})
	if err != nil {
		t.Fatal(err)
	}

	result, err := p.Apply(context.Background(), cs, records, ApplyOptions{ClientContext: "Elanco"})
	if err != nil {
		t.Fatal(err)
	}

	if ledger.snapshots != 1 {
		t.Fatalf("snapshots = %d, want 1", ledger.snapshots)
	}
	if len(ledger.snapLots) != 2 {
		t.Errorf("snapshot lots = %d, want 2 affected lots", len(ledger.snapLots))
	}
	if result.SnapshotID == "" || result.OperationID == "" {
		t.Errorf("result missing ids: %+v", result)
	}
	if len(result.Applied) != 3 || len(result.Failed) != 0 {
		t.Errorf("applied = %d failed = %d", len(result.Applied), len(result.Failed))
	}
	if len(storage.flagged) != 1 || len(storage.updates) != 2 {
		t.Errorf("storage calls: flagged=%v updates=%v", storage.flagged, storage.updates)
	}
	if len(ledger.changes) != 3 {
		t.Errorf("ledger change entries = %d", len(ledger.changes))
	}
	if len(ledger.operations) != 1 || ledger.operations[0].Kind != types.OpApply {
		t.Fatalf("operations = %+v", ledger.operations)
	}
	if ledger.operations[0].ClientContext != "Elanco" {
		t.Errorf("client = %q", ledger.operations[0].ClientContext)
	}
	for _, ruleID := range []string{"rule-weight-floor", "rule-breed-std"} {
		calls := usage.calls[ruleID]
		if len(calls) != 1 || !calls[0] {
			t.Errorf("usage for %s = %v, want one success", ruleID, calls)
		}
	}
}

func TestApplyPartialFailure(t *testing.T) {
	storage := &fakeStorage{failLots: map[string]bool{"L002": true}}
	ledger := &fakeLedger{}
	usage := &fakeUsage{}
	p := NewProcessor(NewEvaluator(),
		WithStorage(storage), WithLedger(ledger), WithUsageRecorder(usage))

	records := testBatch()
	cs, err := p.Preview(context.Background(), "B1", records, []types.Rule{breedStandardizer()})
	if err != nil {
		t.Fatal(err)
	}
	if len(cs.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(cs.Entries))
	}

	result, err := p.Apply(context.Background(), cs, records, ApplyOptions{})
	var applyErr *types.ApplyError
	if !errors.As(err, &applyErr) {
		t.Fatalf("err = %v, want *types.ApplyError", err)
	}
	if len(result.Applied) != 1 || len(result.Failed) != 1 {
		t.Fatalf("applied = %d failed = %d", len(result.Applied), len(result.Failed))
	}
	if result.Applied[0].LotID != "L001" {
		t.Errorf("applied lot = %s, want the prior entry retained", result.Applied[0].LotID)
	}
	if applyErr.Failed[0].Entry.LotID != "L002" || applyErr.Failed[0].Cause == "" {
		t.Errorf("failed itemization = %+v", applyErr.Failed)
	}
	if len(ledger.operations) != 1 || ledger.operations[0].FailedCount != 1 {
		t.Errorf("operation log = %+v", ledger.operations)
	}
	// The rule saw a failure, so usage records failure.
	if calls := usage.calls["rule-breed-std"]; len(calls) != 1 || calls[0] {
		t.Errorf("usage = %v, want one failure", calls)
	}
}

func TestApplyCancelledKeepsPrefix(t *testing.T) {
	storage := &fakeStorage{}
	ledger := &fakeLedger{}
	p := NewProcessor(NewEvaluator(), WithStorage(storage), WithLedger(ledger))

	records := testBatch()
	cs, err := p.Preview(context.Background(), "B1", records, []types.Rule{breedStandardizer()})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := p.Apply(ctx, cs, records, ApplyOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Cancelled {
		t.Error("expected Cancelled")
	}
	if len(result.Applied) != 0 {
		t.Errorf("applied = %d, want 0 with pre-cancelled context", len(result.Applied))
	}
	// The operation is still logged for the audit trail.
	if len(ledger.operations) != 1 {
		t.Errorf("operations = %d, want 1", len(ledger.operations))
	}
}

func TestApplyDirect(t *testing.T) {
	storage := &fakeStorage{}
	ledger := &fakeLedger{}
	p := NewProcessor(NewEvaluator(), WithStorage(storage), WithLedger(ledger))

	res, err := p.ApplyDirect(context.Background(), "B1", testBatch(),
		[]types.Rule{breedStandardizer()}, ApplyOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.OperationID == "" || len(res.Applied) != 2 {
		t.Errorf("result = %+v", res)
	}
	if ledger.snapshots != 1 {
		t.Errorf("snapshots = %d, want 1", ledger.snapshots)
	}

	// Nothing to propose: no snapshot, no operation log.
	before := len(ledger.operations)
	res, err = p.ApplyDirect(context.Background(), "B2", testBatch(), nil, ApplyOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.OperationID != "" || len(ledger.operations) != before || ledger.snapshots != 1 {
		t.Errorf("empty preview wrote state: %+v", res)
	}
}

func TestApplyRejectsEmptyChangeSet(t *testing.T) {
	p := NewProcessor(NewEvaluator(), WithStorage(&fakeStorage{}), WithLedger(&fakeLedger{}))
	if _, err := p.Apply(context.Background(), types.ChangeSet{BatchID: "B1"}, nil, ApplyOptions{}); err == nil {
		t.Fatal("expected error for empty change-set")
	}
}
