package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dataherd/internal/logging"
	"dataherd/internal/types"
)

// BatchStorage is the record mutation surface Apply writes through. The
// SQLite store implements it; tests substitute an in-memory fake.
type BatchStorage interface {
	UpdateField(ctx context.Context, batchID, lotID, field, value string) error
	MarkRemoved(ctx context.Context, batchID, lotID string) error
	FlagRecord(ctx context.Context, batchID, lotID, field, reason string) error
}

// Ledger receives the before-image snapshot, the change entries, and the
// operation log for every apply. Snapshot reads the named records from
// storage itself so the captured before-image is the authoritative row
// state, not the processor's in-memory view.
type Ledger interface {
	Snapshot(batchID, operationID string, lotIDs []string) (string, error)
	RecordChanges(operationID string, entries []types.ChangeEntry) error
	LogOperation(log types.OperationLog) error
}

// UsageRecorder feeds apply outcomes back into rule usage statistics.
type UsageRecorder interface {
	RecordUsage(ruleID string, success bool) error
}

// Processor runs rules over record batches. Preview is pure; Apply is the
// only path with side effects.
type Processor struct {
	eval     *Evaluator
	storage  BatchStorage
	ledger   Ledger
	usage    UsageRecorder
	workers  int
	tieBreak TieBreak
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithStorage sets the mutation target for Apply.
func WithStorage(s BatchStorage) ProcessorOption {
	return func(p *Processor) { p.storage = s }
}

// WithLedger sets the change ledger Apply writes through.
func WithLedger(l Ledger) ProcessorOption {
	return func(p *Processor) { p.ledger = l }
}

// WithUsageRecorder enables rule usage feedback on apply.
func WithUsageRecorder(u UsageRecorder) ProcessorOption {
	return func(p *Processor) { p.usage = u }
}

// WithWorkers sets the preview parallelism. Results are written into
// per-index slots, so any worker count produces output identical to the
// serial path.
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithTieBreak sets the policy for rules competing over one field.
func WithTieBreak(policy TieBreak) ProcessorOption {
	return func(p *Processor) { p.tieBreak = policy }
}

// NewProcessor creates a Processor around an Evaluator.
func NewProcessor(eval *Evaluator, opts ...ProcessorOption) *Processor {
	p := &Processor{
		eval:     eval,
		workers:  1,
		tieBreak: TieBreakPriority,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WarningNoRules marks a preview that had no executable rules, so callers
// can tell a clean batch from a preview that never ran.
const WarningNoRules = "no executable rules; no changes proposed"

// Preview evaluates rules over records and returns the proposed change-set
// without touching storage. Entries follow input record order; timestamps
// and entry ids are assigned deterministically so two previews over equal
// inputs compare equal.
func (p *Processor) Preview(ctx context.Context, batchID string, records []types.Record, rules []types.Rule) (types.ChangeSet, error) {
	timer := logging.StartTimer(logging.CategoryEngine, "Preview")
	defer timer.Stop()

	cs := types.ChangeSet{BatchID: batchID, Records: len(records)}

	active := make([]types.Rule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		cs.Warnings = append(cs.Warnings, WarningNoRules)
		logging.Engine("preview %s: no executable rules over %d records", batchID, len(records))
		return cs, nil
	}

	ordered := orderRules(active, p.tieBreak)
	for _, r := range ordered {
		cs.RuleIDs = append(cs.RuleIDs, r.ID)
	}

	p.eval.PrimeBatch(records)
	duplicates := markDuplicates(ordered, records)

	entrySlots := make([][]types.ChangeEntry, len(records))
	diagSlots := make([][]string, len(records))

	if p.workers > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.workers)
		for i := range records {
			i := i
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				entrySlots[i], diagSlots[i] = p.evaluateRecord(ordered, records[i], i, batchID, duplicates)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return types.ChangeSet{}, fmt.Errorf("preview cancelled: %w", err)
		}
	} else {
		for i := range records {
			if err := ctx.Err(); err != nil {
				return types.ChangeSet{}, fmt.Errorf("preview cancelled: %w", err)
			}
			entrySlots[i], diagSlots[i] = p.evaluateRecord(ordered, records[i], i, batchID, duplicates)
		}
	}

	seq := 0
	for i := range records {
		for _, entry := range entrySlots[i] {
			entry.ID = fmt.Sprintf("%s-%05d", batchID, seq)
			seq++
			cs.Entries = append(cs.Entries, entry)
			cs.Counts.Add(entry.Action)
		}
		cs.Warnings = append(cs.Warnings, diagSlots[i]...)
	}

	logging.Engine("preview %s: %d records, %d rules, %d proposed changes",
		batchID, len(records), len(ordered), len(cs.Entries))
	return cs, nil
}

// evaluateRecord runs the ordered rules over one record. A remove match
// short-circuits further rules, and at most one mutation per field survives
// the tie-break.
func (p *Processor) evaluateRecord(ordered []types.Rule, record types.Record, index int, batchID string, duplicates map[string]map[int]bool) ([]types.ChangeEntry, []string) {
	var entries []types.ChangeEntry
	var diags []string
	mutated := make(map[string]bool)

	for _, rule := range ordered {
		var outcome types.Outcome
		if rule.Condition.Operator == types.OpDuplicate {
			if duplicates[rule.ID][index] {
				outcome = types.Match(nil)
			} else {
				outcome = types.NoMatch("")
			}
		} else {
			outcome = p.eval.Evaluate(rule, record)
		}

		if outcome.Diagnostic != "" {
			diags = append(diags, outcome.Diagnostic)
		}
		if !outcome.Matched {
			continue
		}
		if rule.Mutates() {
			if outcome.Mutation == nil || mutated[rule.Field] {
				continue
			}
			mutated[rule.Field] = true
		}

		entry := types.ChangeEntry{
			BatchID: batchID,
			LotID:   record.LotID,
			Field:   rule.Field,
			Action:  rule.Action,
			RuleID:  rule.ID,
			Status:  types.ChangeProposed,
		}
		if outcome.Mutation != nil {
			entry.OriginalValue = outcome.Mutation.Original
			entry.NewValue = outcome.Mutation.Suggested
			entry.Confidence = outcome.Mutation.Confidence
			entry.Reason = outcome.Mutation.Reason
		} else {
			value, _ := record.Get(rule.Field)
			entry.OriginalValue = value
			entry.Confidence = rule.Confidence
			entry.Reason = rule.Condition.Describe(rule.Field)
		}
		entries = append(entries, entry)

		if rule.Action == types.ActionRemove {
			break
		}
	}
	return entries, diags
}

// markDuplicates resolves duplicate conditions over the whole batch: for
// each duplicate rule, the first occurrence of a value is kept and every
// later occurrence is marked.
func markDuplicates(ordered []types.Rule, records []types.Record) map[string]map[int]bool {
	marks := make(map[string]map[int]bool)
	for _, rule := range ordered {
		if rule.Condition.Operator != types.OpDuplicate {
			continue
		}
		seen := make(map[string]bool)
		hits := make(map[int]bool)
		for i, rec := range records {
			value, ok := rec.Get(rule.Field)
			if !ok || value == "" {
				continue
			}
			if seen[value] {
				hits[i] = true
			}
			seen[value] = true
		}
		marks[rule.ID] = hits
	}
	return marks
}

// ApplyOptions carries per-apply settings.
type ApplyOptions struct {
	ClientContext string
}

// Apply commits a previewed change-set: snapshot first, then per-entry
// mutation, then the change entries, usage counters, and the operation log.
// Failures are itemized and do not undo prior entries; the returned
// ApplyError carries the full itemization. Cancellation between entries
// keeps the applied prefix.
func (p *Processor) Apply(ctx context.Context, changes types.ChangeSet, records []types.Record, opts ApplyOptions) (types.ApplyResult, error) {
	timer := logging.StartTimer(logging.CategoryEngine, "Apply")
	defer timer.Stop()

	if p.storage == nil || p.ledger == nil {
		return types.ApplyResult{}, fmt.Errorf("apply requires storage and ledger")
	}
	if changes.BatchID == "" || len(changes.Entries) == 0 {
		return types.ApplyResult{}, fmt.Errorf("nothing to apply for batch %q", changes.BatchID)
	}

	operationID := uuid.NewString()
	result := types.ApplyResult{
		OperationID: operationID,
		BatchID:     changes.BatchID,
	}

	snapshotID, err := p.ledger.Snapshot(changes.BatchID, operationID, affectedLots(changes, records))
	if err != nil {
		return types.ApplyResult{}, fmt.Errorf("snapshot before apply: %w", err)
	}
	result.SnapshotID = snapshotID

	now := time.Now().UTC()
	persisted := make([]types.ChangeEntry, 0, len(changes.Entries))
	ruleFailures := make(map[string]bool)

	for _, entry := range changes.Entries {
		if ctx.Err() != nil {
			result.Cancelled = true
			logging.Engine("apply %s cancelled after %d entries", operationID, len(result.Applied))
			break
		}

		entry.CreatedAt = now
		if err := p.applyEntry(ctx, changes.BatchID, entry); err != nil {
			entry.Status = types.ChangeFailed
			result.Failed = append(result.Failed, types.FailedChange{Entry: entry, Cause: err.Error()})
			ruleFailures[entry.RuleID] = true
			persisted = append(persisted, entry)
			logging.Engine("apply %s: entry %s failed: %v", operationID, entry.ID, err)
			continue
		}
		entry.Status = types.ChangeApplied
		result.Applied = append(result.Applied, entry)
		result.Counts.Add(entry.Action)
		persisted = append(persisted, entry)
	}

	if err := p.ledger.RecordChanges(operationID, persisted); err != nil {
		return result, fmt.Errorf("record change entries: %w", err)
	}

	if p.usage != nil {
		for _, ruleID := range uniqueRuleIDs(persisted) {
			if err := p.usage.RecordUsage(ruleID, !ruleFailures[ruleID]); err != nil {
				logging.EngineDebug("usage update for rule %s failed: %v", ruleID, err)
			}
		}
	}

	log := types.OperationLog{
		OperationID:   operationID,
		BatchID:       changes.BatchID,
		Kind:          types.OpApply,
		RuleIDs:       changes.RuleIDs,
		Counts:        result.Counts,
		FailedCount:   len(result.Failed),
		ClientContext: opts.ClientContext,
		CreatedAt:     now,
	}
	if err := p.ledger.LogOperation(log); err != nil {
		return result, fmt.Errorf("log operation: %w", err)
	}

	logging.Engine("apply %s: %d applied, %d failed, cancelled=%v",
		operationID, len(result.Applied), len(result.Failed), result.Cancelled)

	if len(result.Failed) > 0 {
		return result, &types.ApplyError{
			OperationID: operationID,
			BatchID:     changes.BatchID,
			Failed:      result.Failed,
		}
	}
	return result, nil
}

// ApplyDirect previews and immediately applies in one call, bypassing the
// separate review step. A preview with nothing to propose returns an empty
// result without writing a snapshot or an operation log entry.
func (p *Processor) ApplyDirect(ctx context.Context, batchID string, records []types.Record, rules []types.Rule, opts ApplyOptions) (types.ApplyResult, error) {
	cs, err := p.Preview(ctx, batchID, records, rules)
	if err != nil {
		return types.ApplyResult{}, err
	}
	if len(cs.Entries) == 0 {
		return types.ApplyResult{BatchID: batchID}, nil
	}
	return p.Apply(ctx, cs, records, opts)
}

func (p *Processor) applyEntry(ctx context.Context, batchID string, entry types.ChangeEntry) error {
	switch entry.Action {
	case types.ActionFlag:
		return p.storage.FlagRecord(ctx, batchID, entry.LotID, entry.Field, entry.Reason)
	case types.ActionRemove:
		return p.storage.MarkRemoved(ctx, batchID, entry.LotID)
	case types.ActionStandardize, types.ActionCorrect, types.ActionEstimate:
		return p.storage.UpdateField(ctx, batchID, entry.LotID, entry.Field, entry.NewValue)
	}
	return fmt.Errorf("unknown action %q", entry.Action)
}

// affectedLots selects the lot ids touched by the change-set, preserving
// input record order.
func affectedLots(changes types.ChangeSet, records []types.Record) []string {
	touched := make(map[string]bool, len(changes.Entries))
	for _, e := range changes.Entries {
		touched[e.LotID] = true
	}
	lots := make([]string, 0, len(touched))
	for _, rec := range records {
		if touched[rec.LotID] {
			lots = append(lots, rec.LotID)
		}
	}
	return lots
}

func uniqueRuleIDs(entries []types.ChangeEntry) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, e := range entries {
		if e.RuleID == "" || seen[e.RuleID] {
			continue
		}
		seen[e.RuleID] = true
		ids = append(ids, e.RuleID)
	}
	return ids
}
