package rlm

import "time"

// Budget defaults, per spec §4.1.
const (
	DefaultMaxSteps           = 32
	DefaultMaxSubCalls        = 32
	DefaultMaxDepth           = 4
	DefaultMaxPromptReadChars = 200_000
	DefaultMaxTimeMs          = 30_000
)

// BudgetSnapshot is an immutable copy of a Budget's counters, attached to
// BudgetExceededError and surfaced in trace events.
type BudgetSnapshot struct {
	MaxSteps           int
	MaxSubCalls         int
	MaxDepth            int
	MaxPromptReadChars  int
	MaxTimeMs           int
	StepsUsed           int
	SubCallsUsed        int
	Depth               int
	PromptReadCharsUsed int
}

// Budget tracks the step/subcall/depth/char/time ceilings for one
// environment. Counters are monotone non-decreasing; no operation ever
// decreases them. A child environment's budget inherits MaxDepth and
// StartedAt from its parent.
type Budget struct {
	MaxSteps           int
	MaxSubCalls        int
	MaxDepth           int
	MaxPromptReadChars int
	MaxTimeMs          int

	StepsUsed           int
	SubCallsUsed        int
	Depth               int
	PromptReadCharsUsed int

	StartedAt time.Time
}

// NewBudget returns a root budget with the spec's defaults, any of which
// may be overridden via ApplyOverrides before use.
func NewBudget() *Budget {
	return &Budget{
		MaxSteps:           DefaultMaxSteps,
		MaxSubCalls:        DefaultMaxSubCalls,
		MaxDepth:           DefaultMaxDepth,
		MaxPromptReadChars: DefaultMaxPromptReadChars,
		MaxTimeMs:          DefaultMaxTimeMs,
		StartedAt:          time.Now(),
	}
}

// BudgetOverrides carries caller-supplied limit overrides; zero fields are
// left at the default/inherited value.
type BudgetOverrides struct {
	MaxSteps           *int
	MaxSubCalls        *int
	MaxDepth           *int
	MaxPromptReadChars *int
	MaxTimeMs          *int
}

// ApplyOverrides mutates b in place per o, leaving fields alone where o's
// corresponding pointer is nil. Used by the planned executor to layer
// profile -> plan -> caller budget overrides onto a freshly built root
// Budget before the Root Loop starts.
func (b *Budget) ApplyOverrides(o *BudgetOverrides) {
	b.applyOverrides(o)
}

func (b *Budget) applyOverrides(o *BudgetOverrides) {
	if o == nil {
		return
	}
	if o.MaxSteps != nil {
		b.MaxSteps = *o.MaxSteps
	}
	if o.MaxSubCalls != nil {
		b.MaxSubCalls = *o.MaxSubCalls
	}
	if o.MaxDepth != nil {
		b.MaxDepth = *o.MaxDepth
	}
	if o.MaxPromptReadChars != nil {
		b.MaxPromptReadChars = *o.MaxPromptReadChars
	}
	if o.MaxTimeMs != nil {
		b.MaxTimeMs = *o.MaxTimeMs
	}
}

// Derive builds a child budget: MaxDepth and StartedAt are inherited, all
// other limits fall back to the parent's unless overridden, and every
// counter starts fresh.
func (b *Budget) Derive(o *BudgetOverrides) *Budget {
	child := &Budget{
		MaxSteps:           b.MaxSteps,
		MaxSubCalls:        b.MaxSubCalls,
		MaxDepth:            b.MaxDepth,
		MaxPromptReadChars: b.MaxPromptReadChars,
		MaxTimeMs:          b.MaxTimeMs,
		Depth:              b.Depth + 1,
		StartedAt:          b.StartedAt,
	}
	child.applyOverrides(o)
	return child
}

func (b *Budget) elapsedMs() int {
	return int(time.Since(b.StartedAt) / time.Millisecond)
}

func (b *Budget) checkTime() error {
	if b.elapsedMs() > b.MaxTimeMs {
		return newBudgetExceeded(BudgetMaxTimeMs, b)
	}
	return nil
}

// ConsumeStep increments StepsUsed, failing if it would exceed MaxSteps.
func (b *Budget) ConsumeStep() error {
	if err := b.checkTime(); err != nil {
		return err
	}
	if b.StepsUsed+1 > b.MaxSteps {
		return newBudgetExceeded(BudgetMaxSteps, b)
	}
	b.StepsUsed++
	return nil
}

// ConsumeSubCall increments SubCallsUsed, failing if it would exceed
// MaxSubCalls.
func (b *Budget) ConsumeSubCall() error {
	if err := b.checkTime(); err != nil {
		return err
	}
	if b.SubCallsUsed+1 > b.MaxSubCalls {
		return newBudgetExceeded(BudgetMaxSubCalls, b)
	}
	b.SubCallsUsed++
	return nil
}

// EnsureNextDepth fails if spawning one more level of recursion would
// exceed MaxDepth. It does not mutate Depth — the child environment's own
// budget carries the incremented depth.
func (b *Budget) EnsureNextDepth() error {
	if b.Depth+1 > b.MaxDepth {
		return newBudgetExceeded(BudgetMaxDepth, b)
	}
	return nil
}

// ConsumePromptChars accounts n characters of prompt read against
// MaxPromptReadChars. n<=0 is a no-op.
func (b *Budget) ConsumePromptChars(n int) error {
	if n <= 0 {
		return nil
	}
	if err := b.checkTime(); err != nil {
		return err
	}
	if b.PromptReadCharsUsed+n > b.MaxPromptReadChars {
		return newBudgetExceeded(BudgetMaxPromptReadChars, b)
	}
	b.PromptReadCharsUsed += n
	return nil
}

// CheckTime exposes the time-budget check for callers outside the
// counter-consuming operations (e.g. the Root Loop's per-turn check).
func (b *Budget) CheckTime() error { return b.checkTime() }

// Snapshot returns an immutable copy of the current counters.
func (b *Budget) Snapshot() BudgetSnapshot {
	return BudgetSnapshot{
		MaxSteps:            b.MaxSteps,
		MaxSubCalls:         b.MaxSubCalls,
		MaxDepth:            b.MaxDepth,
		MaxPromptReadChars:  b.MaxPromptReadChars,
		MaxTimeMs:           b.MaxTimeMs,
		StepsUsed:           b.StepsUsed,
		SubCallsUsed:        b.SubCallsUsed,
		Depth:               b.Depth,
		PromptReadCharsUsed: b.PromptReadCharsUsed,
	}
}
