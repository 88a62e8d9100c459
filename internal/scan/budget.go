package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/menulens/api/internal/config"
)

// Phase names a pipeline stage. Phases only move forward; stages with
// nothing to do are skipped.
type Phase string

const (
	PhaseExtracting Phase = "extracting"
	PhaseReusing    Phase = "reusing"
	PhaseEnriching  Phase = "enriching"
	PhaseImproving  Phase = "improving"
	PhaseFinalizing Phase = "finalizing"
)

// validPhaseTransitions lists the allowed successors per phase.
var validPhaseTransitions = map[Phase][]Phase{
	PhaseExtracting: {PhaseReusing, PhaseEnriching, PhaseFinalizing},
	PhaseReusing:    {PhaseEnriching, PhaseImproving, PhaseFinalizing},
	PhaseEnriching:  {PhaseImproving, PhaseFinalizing},
	PhaseImproving:  {PhaseFinalizing},
	PhaseFinalizing: {},
}

// Budget enforces a scan's time envelope: a soft target for the first
// visible result, a hard cap on the whole scan, and a minimum spacing
// between menu_data emissions so clients are not flooded.
type Budget struct {
	cfg   config.BudgetConfig
	start time.Time
	now   func() time.Time

	mu        sync.Mutex
	phase     Phase
	firstEmit time.Time
	lastEmit  time.Time
}

func NewBudget(cfg config.BudgetConfig) *Budget {
	b := &Budget{cfg: cfg, phase: PhaseExtracting, now: time.Now}
	b.start = b.now()
	return b
}

// Phase returns the current phase.
func (b *Budget) Phase() Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

// Advance moves to the next phase.
func (b *Budget) Advance(next Phase) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, allowed := range validPhaseTransitions[b.phase] {
		if next == allowed {
			b.phase = next
			return nil
		}
	}
	return fmt.Errorf("invalid phase transition: %s -> %s", b.phase, next)
}

// Elapsed returns time since the scan started.
func (b *Budget) Elapsed() time.Duration {
	return b.now().Sub(b.start)
}

// ElapsedMS returns the elapsed time in milliseconds for summaries.
func (b *Budget) ElapsedMS() int64 {
	return b.Elapsed().Milliseconds()
}

// Remaining returns time left before the hard cap, never negative.
func (b *Budget) Remaining() time.Duration {
	if r := b.cfg.HardCap - b.Elapsed(); r > 0 {
		return r
	}
	return 0
}

// Exceeded reports whether the hard cap has passed.
func (b *Budget) Exceeded() bool {
	return b.Remaining() <= 0
}

// ModelCallContext derives a deadline for one model call: the smallest of
// the per-call limit, the remaining hard budget, and, while the user has
// seen nothing yet, the remaining soft budget.
func (b *Budget) ModelCallContext(ctx context.Context, perCall time.Duration) (context.Context, context.CancelFunc) {
	d := perCall
	if r := b.Remaining(); r < d {
		d = r
	}
	if !b.FirstEmitted() {
		if soft := b.cfg.FirstResultTarget - b.Elapsed(); soft > 0 && soft < d {
			d = soft
		}
	}
	return context.WithTimeout(ctx, d)
}

// ShouldEmit reports whether a menu_data frame may go out now. The first
// and the final emission bypass the spacing rule.
func (b *Budget) ShouldEmit(final bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if final || b.firstEmit.IsZero() {
		return true
	}
	return b.now().Sub(b.lastEmit) >= b.cfg.MenuDataInterval
}

// MarkEmitted records that a menu_data frame went out.
func (b *Budget) MarkEmitted() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.firstEmit.IsZero() {
		b.firstEmit = now
	}
	b.lastEmit = now
}

// FirstEmitted reports whether any menu_data frame has gone out.
func (b *Budget) FirstEmitted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.firstEmit.IsZero()
}
