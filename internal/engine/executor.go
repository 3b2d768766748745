package engine

import (
	"context"
	"dqaudit/internal/audit"
	"dqaudit/internal/dataset"
	"dqaudit/internal/rules"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrBatchAborted means the batch was canceled before it could be appended.
// No records of an aborted batch are ever written.
var ErrBatchAborted = errors.New("batch aborted")

// Executor evaluates a rule set against one snapshot.
type Executor struct {
	// Concurrency bounds how many rules evaluate at once. Values < 1 mean 1.
	// Snapshots implementing dataset.Serial always run with 1.
	Concurrency int
	// RuleTimeout bounds a single rule. 0 means no per-rule limit.
	RuleTimeout time.Duration
	// Verbose keeps full driver messages in rule errors.
	Verbose bool
	// NewID returns batch ids. Defaults to random UUIDs.
	NewID func() string
}

type ruleOutcome struct {
	failed int64
	err    error
	took   time.Duration
}

// RunBatch evaluates every rule against snap and stamps all results with ts
// and one batch id. A rule that fails becomes a RuleError in the batch; only a
// failure to read the dataset cardinality or a canceled ctx fails the batch.
//
// Results are returned in rule order regardless of Concurrency.
func (e *Executor) RunBatch(ctx context.Context, snap dataset.Snapshot, selected []rules.Rule, ts time.Time) (audit.Batch, error) {
	if snap == nil {
		return audit.Batch{}, errors.New("snapshot is nil")
	}
	if len(selected) == 0 {
		return audit.Batch{}, fmt.Errorf("%w: no rules selected", rules.ErrInvalidRuleSet)
	}
	seen := make(map[string]struct{}, len(selected))
	for _, r := range selected {
		if r == nil {
			return audit.Batch{}, fmt.Errorf("%w: rule is nil", rules.ErrInvalidRuleSet)
		}
		if _, dup := seen[r.Name()]; dup {
			return audit.Batch{}, fmt.Errorf("%w: rule %s selected twice", rules.ErrInvalidRuleSet, r.Name())
		}
		seen[r.Name()] = struct{}{}
	}
	if err := ctx.Err(); err != nil {
		return audit.Batch{}, fmt.Errorf("%w: %w", ErrBatchAborted, err)
	}

	total, err := snap.TotalRows(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return audit.Batch{}, fmt.Errorf("%w: %w", ErrBatchAborted, ctx.Err())
		}
		return audit.Batch{}, fmt.Errorf("count %s: %w", snap.Table(), err)
	}

	// A per-rule timeout must not run while a rule waits for a serialized
	// snapshot, so such snapshots are evaluated one rule at a time.
	workers := max(e.Concurrency, 1)
	if s, ok := snap.(dataset.Serial); ok && s.Serialized() && workers > 1 {
		slog.Debug("snapshot serializes queries, evaluating rules one at a time", "concurrency", workers)
		workers = 1
	}

	outcomes := make([]ruleOutcome, len(selected))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, r := range selected {
		g.Go(func() error {
			if ctx.Err() != nil {
				outcomes[i] = ruleOutcome{err: ctx.Err()}
				return nil
			}
			outcomes[i] = e.evaluate(ctx, r, snap)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return audit.Batch{}, fmt.Errorf("%w: %w", ErrBatchAborted, err)
	}

	b := audit.Batch{
		ID:        e.newID(),
		Timestamp: ts.UTC(),
		TotalRows: total,
	}
	for i, r := range selected {
		o := outcomes[i]
		if o.err != nil {
			re := classifyRuleError(r.Name(), o.err, e.Verbose)
			slog.Warn("rule failed", "rule", r.Name(), "kind", re.Kind, "error", re.Message)
			b.Errors = append(b.Errors, re)
			continue
		}
		slog.Debug("rule evaluated", "rule", r.Name(), "failed_rows", o.failed, "duration", o.took)
		rec := audit.Record{
			BatchID:        b.ID,
			CheckName:      r.Name(),
			FailedRows:     o.failed,
			TotalRows:      total,
			CheckTimestamp: b.Timestamp,
		}
		if total > 0 {
			rec.PctFailed = float64(o.failed) / float64(total)
		}
		b.Records = append(b.Records, rec)
	}
	return b, nil
}

func (e *Executor) evaluate(ctx context.Context, r rules.Rule, snap dataset.Snapshot) (out ruleOutcome) {
	start := time.Now()
	defer func() {
		if v := recover(); v != nil {
			out = ruleOutcome{err: &panicError{value: v}}
		}
		out.took = time.Since(start)
	}()

	if e.RuleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.RuleTimeout)
		defer cancel()
	}

	n, err := r.Evaluate(ctx, snap)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
			err = fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		return ruleOutcome{err: err}
	}
	if n < 0 {
		return ruleOutcome{err: fmt.Errorf("rule returned negative count %d", n)}
	}
	return ruleOutcome{failed: n}
}

func (e *Executor) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}
