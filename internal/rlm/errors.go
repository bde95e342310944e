package rlm

import "fmt"

// BudgetKind identifies which counter in a Budget was breached.
type BudgetKind string

const (
	BudgetMaxSteps           BudgetKind = "maxSteps"
	BudgetMaxSubCalls        BudgetKind = "maxSubCalls"
	BudgetMaxDepth           BudgetKind = "maxDepth"
	BudgetMaxPromptReadChars BudgetKind = "maxPromptReadChars"
	BudgetMaxTimeMs          BudgetKind = "maxTimeMs"
)

// BudgetExceededError is fatal for the environment that raised it; it
// propagates to the caller rather than being recovered locally.
type BudgetExceededError struct {
	Kind     BudgetKind
	Snapshot BudgetSnapshot
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: %s", e.Kind)
}

func newBudgetExceeded(kind BudgetKind, b *Budget) *BudgetExceededError {
	return &BudgetExceededError{Kind: kind, Snapshot: b.Snapshot()}
}

// DSLError is the recoverable error family surfaced to the LM as an
// rlm_error turn: bad action shape, unknown op, or an execution-time
// failure such as a missing scratch key or csv column.
type DSLError struct {
	Reason string
}

func (e *DSLError) Error() string { return e.Reason }

func dslErrorf(format string, args ...any) *DSLError {
	return &DSLError{Reason: fmt.Sprintf(format, args...)}
}
