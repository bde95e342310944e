package rlm

import "strings"

// Environment is the per-root or per-child runtime state described in
// spec §3. Sub-environments inherit Cache, and Budget.MaxDepth/StartedAt
// via Budget.Derive; Scratch is never shared across environments.
type Environment struct {
	Prompt   string
	PromptID string
	DocStore DocumentStore

	Scratch map[string]any

	Cache  *SubCallCache
	Budget *Budget
	Trace  *Trace

	Final *string

	// SymbolMap backs the optional call_symbol action (spec §4.4).
	SymbolMap map[string]SymbolFunc
}

// SymbolFunc is an external symbol invoked by call_symbol, per spec §6's
// "External Symbols" contract.
type SymbolFunc func(call SymbolCall) (any, error)

// SymbolCall is the payload passed to a SymbolFunc.
type SymbolCall struct {
	Symbol  string
	Prompt  string
	PromptID string
	Depth   int
	Scratch map[string]any
	Args    map[string]any
	Input   any
}

// NewEnvironment constructs a root environment. docStore may be nil, in
// which case a MemoryStore containing only this prompt is created.
func NewEnvironment(prompt string, docStore DocumentStore, budget *Budget) *Environment {
	promptID := FingerprintPrompt(prompt)
	if docStore == nil {
		docStore = NewSingleDocStore(promptID, prompt)
	}
	if budget == nil {
		budget = NewBudget()
	}
	return &Environment{
		Prompt:   prompt,
		PromptID: promptID,
		DocStore: docStore,
		Scratch:  make(map[string]any),
		Cache:    NewSubCallCache(),
		Budget:   budget,
		Trace:    NewTrace(),
	}
}

// deriveChild builds a sub-environment for a sub-RLM call: it inherits
// Cache and SymbolMap by reference, and derives a fresh Budget via
// Budget.Derive (MaxDepth/StartedAt inherited, counters reset, Depth+1).
// DocStore defaults to a MemoryStore scoped to the child's own prompt.
func (e *Environment) deriveChild(prompt string, overrides *BudgetOverrides) *Environment {
	promptID := FingerprintPrompt(prompt)
	return &Environment{
		Prompt:    prompt,
		PromptID:  promptID,
		DocStore:  NewSingleDocStore(promptID, prompt),
		Scratch:   make(map[string]any),
		Cache:     e.Cache,
		Budget:    e.Budget.Derive(overrides),
		Trace:     NewTrace(),
		SymbolMap: e.SymbolMap,
	}
}

// SetFinal sets env.Final if it is not already set; per spec §3, Final is
// immutable for the remainder of an environment's life once set.
func (e *Environment) SetFinal(v string) {
	if e.Final != nil {
		return
	}
	e.Final = &v
}

// ScratchGet resolves a dotted path against Scratch, accepting an optional
// leading "scratch." prefix.
func (e *Environment) ScratchGet(path string) (any, bool) {
	path = strings.TrimPrefix(path, "scratch.")
	parts := strings.Split(path, ".")
	var cur any = e.Scratch
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// ScratchSet assigns a value into Scratch by dotted path (implicit
// "scratch." prefix), creating intermediate maps as needed. path=="final"
// writes env.Final directly instead, per spec §4.4's set action.
func (e *Environment) ScratchSet(path string, value any) {
	path = strings.TrimPrefix(path, "scratch.")
	if path == "final" {
		e.SetFinal(stringifyValue(value))
		return
	}
	parts := strings.Split(path, ".")
	m := e.Scratch
	for i, p := range parts {
		if i == len(parts)-1 {
			m[p] = value
			return
		}
		next, ok := m[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[p] = next
		}
		m = next
	}
}

// scratchKeys returns the top-level Scratch keys, used for trace previews.
func (e *Environment) scratchKeys() []string {
	keys := make([]string, 0, len(e.Scratch))
	for k := range e.Scratch {
		keys = append(keys, k)
	}
	return keys
}
