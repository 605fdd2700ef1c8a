package referral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Propagator walks the upline chain for one referral event and applies the
// counter deltas: +1 direct and +1 team on the immediate referrer, +1 team
// on every further ancestor. Each node is its own atomic store operation,
// applied root-ward one at a time, so a crash leaves a consistent prefix of
// the chain and never a half-updated node.
type Propagator struct {
	store    Store
	log      *slog.Logger
	attempts int
	backoff  time.Duration
}

func NewPropagator(store Store, logger *slog.Logger, attempts int, backoff time.Duration) *Propagator {
	if logger == nil {
		logger = slog.Default()
	}
	if attempts <= 0 {
		attempts = 4
	}
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	return &Propagator{store: store, log: logger, attempts: attempts, backoff: backoff}
}

// Propagate returns every ancestor whose counters this event changes, from
// the immediate referrer up to the root. Steps already committed by an
// earlier run of the same event are skipped, so re-driving an event after a
// crash resumes instead of double-counting.
func (p *Propagator) Propagate(ctx context.Context, newUserID, referrerID string) ([]string, error) {
	ancestors, err := p.store.GetAncestorChain(ctx, referrerID)
	if err != nil {
		if errors.Is(err, ErrCycleDetected) {
			p.log.Error("referral graph integrity violation", "user_id", referrerID, "err", err)
		}
		return nil, fmt.Errorf("ancestor chain for %s: %w", referrerID, err)
	}

	chain := make([]string, 0, len(ancestors)+1)
	chain = append(chain, referrerID)
	chain = append(chain, ancestors...)

	for i, nodeID := range chain {
		var directDelta int64
		if i == 0 {
			directDelta = 1
		}
		err := p.applyStep(ctx, newUserID, i, nodeID, directDelta)
		if errors.Is(err, ErrEventAlreadyApplied) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("apply chain step %d (%s): %w", i, nodeID, err)
		}
	}
	return chain, nil
}

// applyStep retries transient conflicts with bounded exponential backoff.
// Validation and integrity errors surface immediately.
func (p *Propagator) applyStep(ctx context.Context, newUserID string, step int, nodeID string, directDelta int64) error {
	backoff := p.backoff
	var err error
	for attempt := 0; attempt < p.attempts; attempt++ {
		err = p.store.ApplyChainStep(ctx, newUserID, step, nodeID, directDelta, 1)
		if err == nil || !errors.Is(err, ErrTxConflict) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
