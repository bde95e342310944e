package rlm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rlmrun/rlm/internal/observability"
	"github.com/rlmrun/rlm/internal/rlm/provider"
)

// DefaultMaxConsecutiveErrorsForEarlyStop is spec §4.6's default threshold
// for triggering heuristic fallback after repeated recoverable errors.
const DefaultMaxConsecutiveErrorsForEarlyStop = 2

// hintKeyOrder is the order in which the early-stop step consults the
// privileged scratch hint keys answer/total/picked/joined/result. The order
// is fixed; it is the same for every task.
var hintKeyOrder = []string{"answer", "total", "picked", "joined", "result"}

// RootLoopOptions configures one RootLoop instance; the same instance runs
// both the root call and every recursively spawned child.
type RootLoopOptions struct {
	EnableEarlyStopHeuristic          bool
	EnableHeuristicPostprocess        bool
	MaxConsecutiveErrorsForEarlyStop  int
	RequirePromptReadBeforeFinalize   bool
	SystemPrompt                      string
	Logger                            zerolog.Logger
	// Tracer is optional; when set, each root step and sub-call gets an
	// OTel span. Purely additive — it never gates control flow.
	Tracer *observability.Tracer
}

func (o *RootLoopOptions) threshold() int {
	if o.MaxConsecutiveErrorsForEarlyStop > 0 {
		return o.MaxConsecutiveErrorsForEarlyStop
	}
	return DefaultMaxConsecutiveErrorsForEarlyStop
}

// RootLoop is spec §4.6: the controller over the LM<->environment turn
// cycle, grounded on the teacher's Engine.runLoop (internal/agent/engine.go)
// with tool dispatch replaced by action coercion/interpretation.
type RootLoop struct {
	Provider    provider.LMProvider
	Options     RootLoopOptions
	Interpreter *ActionInterpreter
	dispatcher  *SubRLMDispatcher
}

// NewRootLoop wires a RootLoop to its provider, building the interpreter
// and sub-RLM dispatcher such that sub_map actions recurse back into this
// same loop.
func NewRootLoop(prov provider.LMProvider, opts RootLoopOptions) *RootLoop {
	rl := &RootLoop{Provider: prov, Options: opts}
	rl.dispatcher = &SubRLMDispatcher{RunChild: rl.Run, Tracer: opts.Tracer}
	rl.Interpreter = NewActionInterpreter(rl.dispatcher)
	rl.Interpreter.RequirePromptReadBeforeFinalize = opts.RequirePromptReadBeforeFinalize
	return rl
}

// Run executes the turn cycle in env to completion and returns env.Final.
// Run is itself the ChildRunner a SubRLMDispatcher invokes, so the same
// RootLoop recurses arbitrarily deep (subject to Budget.MaxDepth).
func (rl *RootLoop) Run(ctx context.Context, env *Environment, task string) (string, error) {
	log := observability.LoggerWithTrace(ctx, rl.Options.Logger, env.PromptID, env.Budget.Depth)
	sessionID := uuid.NewString()

	messages := rl.initialMessages(env, task)
	consecutiveErrors := 0

	for {
		if err := env.Budget.ConsumeStep(); err != nil {
			return "", err
		}

		var endSpan func(error)
		if rl.Options.Tracer != nil {
			ctx, endSpan = rl.Options.Tracer.Start(ctx, "rlm.root_step", env.PromptID, env.Budget.Depth, map[string]any{
				"step": env.Budget.StepsUsed,
			})
		}

		result, err := rl.Provider.Complete(ctx, messages, &provider.CompleteOptions{ResponseFormat: actionResponseFormat()})
		if err != nil {
			if endSpan != nil {
				endSpan(err)
			}
			return "", fmt.Errorf("rlm: provider completion failed: %w", err)
		}
		if endSpan != nil {
			endSpan(nil)
		}
		messages = append(messages, provider.Message{Role: provider.RoleAssistant, Content: result.Text})

		tokensUsed := 0
		if result.Usage != nil {
			tokensUsed = result.Usage.TotalTokens
		}
		env.Trace.append(TraceEvent{
			Kind:          TraceRootStep,
			Step:          env.Budget.StepsUsed,
			StdoutPreview: preview(result.Text),
			TokensUsed:    tokensUsed,
		})
		log.Debug().Str("session", sessionID).Int("depth", env.Budget.Depth).Int("step", env.Budget.StepsUsed).Msg("rlm_step")

		raw, perr := extractFirstJSONObject(result.Text)
		if perr != nil {
			consecutiveErrors++
			messages = append(messages, rl.errorTurn(env, perr.Error()))
			if rl.maybeHeuristicFallback(env, task, consecutiveErrors) {
				break
			}
			continue
		}

		action, cerr := CoerceAction(raw)
		if cerr != nil {
			consecutiveErrors++
			messages = append(messages, rl.errorTurn(env, cerr.Error()))
			if rl.maybeHeuristicFallback(env, task, consecutiveErrors) {
				break
			}
			continue
		}

		stdout, eerr := rl.Interpreter.Exec(ctx, env, action)
		if eerr != nil {
			var budgetErr *BudgetExceededError
			if errors.As(eerr, &budgetErr) {
				return "", eerr
			}
			consecutiveErrors++
			messages = append(messages, rl.errorTurn(env, eerr.Error()))
			if rl.maybeHeuristicFallback(env, task, consecutiveErrors) {
				break
			}
			continue
		}

		consecutiveErrors = 0
		messages = append(messages, rl.stdoutTurn(env, stdout))

		if rl.Options.EnableEarlyStopHeuristic && env.Final == nil {
			rl.tryScratchHintEarlyStop(env)
		}
		if env.Final != nil {
			break
		}
	}

	return *env.Final, nil
}

// initialMessages builds the system prompt plus the rlm_init user turn.
// The document body is never placed in the chat, per spec §4.6.
func (rl *RootLoop) initialMessages(env *Environment, task string) []provider.Message {
	sys := rl.Options.SystemPrompt
	if sys == "" {
		sys = defaultSystemPrompt
	}
	init := map[string]any{
		"kind":  "rlm_init",
		"depth": env.Budget.Depth,
		"prompt": map[string]any{
			"promptId": env.PromptID,
			"length":   len(env.Prompt),
		},
		"budget": env.Budget.Snapshot(),
		"hints":  hintKeyOrder,
	}
	if task != "" {
		init["task"] = task
	}
	b, _ := json.Marshal(init)
	return []provider.Message{
		{Role: provider.RoleSystem, Content: sys},
		{Role: provider.RoleUser, Content: string(b)},
	}
}

func (rl *RootLoop) errorTurn(env *Environment, reason string) provider.Message {
	payload := map[string]any{
		"kind":       "rlm_error",
		"depth":      env.Budget.Depth,
		"error":      reason,
		"budgetUsed": env.Budget.Snapshot(),
		"required":   map[string]any{"hints": hintKeyOrder},
	}
	b, _ := json.Marshal(payload)
	return provider.Message{Role: provider.RoleUser, Content: string(b)}
}

func (rl *RootLoop) stdoutTurn(env *Environment, stdout string) provider.Message {
	payload := map[string]any{
		"kind":       "rlm_stdout",
		"depth":      env.Budget.Depth,
		"stdout":     preview(stdout),
		"budgetUsed": env.Budget.Snapshot(),
	}
	b, _ := json.Marshal(payload)
	return provider.Message{Role: provider.RoleUser, Content: string(b)}
}

// tryScratchHintEarlyStop implements spec §4.6 step 7: consult the
// privileged scratch hint keys in order and adopt the first non-empty
// string as final.
func (rl *RootLoop) tryScratchHintEarlyStop(env *Environment) {
	if rl.Options.RequirePromptReadBeforeFinalize && env.Budget.PromptReadCharsUsed == 0 {
		return
	}
	for _, key := range hintKeyOrder {
		v, ok := env.Scratch[key]
		if !ok {
			continue
		}
		s := stringifyValue(v)
		if s != "" {
			env.SetFinal(s)
			return
		}
	}
}

// maybeHeuristicFallback triggers task-pattern heuristic post-processing
// once consecutiveErrors crosses the configured threshold, per spec §4.6
// step 5 and the "Heuristic post-processing" design note. It returns true
// if the loop should exit (a final value was adopted).
func (rl *RootLoop) maybeHeuristicFallback(env *Environment, task string, consecutiveErrors int) bool {
	if !rl.Options.EnableHeuristicPostprocess {
		return false
	}
	if consecutiveErrors < rl.Options.threshold() {
		return false
	}
	applyHeuristicPostprocess(env, task)
	return env.Final != nil
}

var (
	tokenTaskRe   = regexp.MustCompile(`(?i)token|値`)
	tokenValueRe  = regexp.MustCompile(`TOKEN=([^\s]+)`)
	sumTaskRe     = regexp.MustCompile(`(?i)合計|sum`)
	oneWordTaskRe = regexp.MustCompile(`(?i)単語.*一つ|one word`)
)

// applyHeuristicPostprocess re-derives an answer from the raw prompt per
// the fixed task-pattern table in spec §4.6's design notes. It never reads
// from LM output, only from env.Prompt, and overrides env.Final when a
// pattern matches.
func applyHeuristicPostprocess(env *Environment, task string) {
	switch {
	case tokenTaskRe.MatchString(task):
		if m := tokenValueRe.FindStringSubmatch(env.Prompt); m != nil {
			env.Final = nil
			env.SetFinal(m[1])
		}
	case sumTaskRe.MatchString(task):
		lines := strings.Split(env.Prompt, "\n")
		if len(lines) == 0 {
			return
		}
		headers := strings.Split(lines[0], ",")
		table := &CSVTable{Headers: headers}
		idx, err := table.resolveColumn(1.0)
		if err != nil {
			idx = 0
		}
		var sum float64
		for _, line := range lines[1:] {
			cells := strings.Split(line, ",")
			if n, ok := asFiniteNumber(strings.TrimSpace(cellAt(cells, idx))); ok {
				sum += n
			}
		}
		env.Final = nil
		env.SetFinal(strconv.FormatFloat(sum, 'f', -1, 64))
	case oneWordTaskRe.MatchString(task):
		words := splitWords(env.Prompt)
		if len(words) > 1 {
			env.Final = nil
			env.SetFinal(words[1])
		}
	}
}

const defaultSystemPrompt = `You are the controller of a Recursive Language Model runtime.
Each turn you must emit exactly one JSON action object and nothing else.
Available actions: prompt_meta, doc_parse, doc_select_section, doc_table_sum,
doc_select_rows, doc_project_columns, slice_prompt, find, chunk_newlines,
chunk_tokens, sum_csv_column, pick_word, sub_map, reduce_join, set, finalize,
call_symbol. The document body is never shown to you directly; use doc_parse,
slice_prompt, or find to inspect it through the interpreter. When you have
the answer, call finalize.`
