package rlm

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlmrun/rlm/internal/rlm/provider"
)

func newTestRootLoop(responses ...string) (*RootLoop, *provider.Scripted) {
	scripted := provider.NewScripted(responses...)
	rl := NewRootLoop(scripted, RootLoopOptions{Logger: zerolog.Nop()})
	return rl, scripted
}

// Scenario 1: secret-safe prompt.
func TestRootLoop_Scenario1_SecretSafePrompt(t *testing.T) {
	secret := "SECRET-LONG-PROMPT-1234567890"
	rl, _ := newTestRootLoop(
		`{"op":"set","path":"answer","value":"ok"}`,
		`{"op":"finalize","from":"answer"}`,
	)
	env := NewEnvironment(secret, nil, NewBudget())

	final, err := rl.Run(context.Background(), env, "echo ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", final)
}

// Scenario 2: CSV sum via doc IR.
func TestRootLoop_Scenario2_CSVSumViaDocIR(t *testing.T) {
	prompt := "name,score\nalice,3\nbob,5"
	rl, _ := newTestRootLoop(
		`{"op":"doc_parse","format":"csv","out":"doc"}`,
		`{"op":"doc_table_sum","in":"doc","column":"score","out":"answer"}`,
		`{"op":"finalize","from":"answer"}`,
	)
	env := NewEnvironment(prompt, nil, NewBudget())

	final, err := rl.Run(context.Background(), env, "sum scores")
	require.NoError(t, err)
	assert.Equal(t, "8", final)
	assert.Equal(t, len(prompt), env.Budget.PromptReadCharsUsed)
}

// Scenario 3: CSV filter+project+join.
func TestRootLoop_Scenario3_CSVFilterProjectJoin(t *testing.T) {
	prompt := "name,score,team\nalice,3,a\nbob,5,b\nalice,7,c"
	rl, _ := newTestRootLoop(
		`{"op":"doc_parse","format":"csv","out":"doc"}`,
		`{"op":"doc_select_rows","in":"doc","column":"name","comparator":"eq","value":"alice","out":"filtered"}`,
		`{"op":"doc_project_columns","in":"filtered","columns":["score"],"out":"proj"}`,
		`{"op":"reduce_join","in":"proj","sep":"|","out":"joined"}`,
		`{"op":"finalize","from":"joined"}`,
	)
	env := NewEnvironment(prompt, nil, NewBudget())

	final, err := rl.Run(context.Background(), env, "filter and join")
	require.NoError(t, err)
	assert.Equal(t, "3|7", final)
}

// Scenario 4: sub-call caching.
func TestRootLoop_Scenario4_SubCallCaching(t *testing.T) {
	prompt := "dup\ndup"
	rl, scripted := newTestRootLoop(
		`{"op":"chunk_newlines","maxLines":1,"out":"lines"}`,
		`{"op":"sub_map","in":"lines","queryTemplate":"sum: {{item}}","out":"mapped","concurrency":1}`,
		`{"op":"set","path":"answer","value":"sub"}`,
		`{"op":"finalize","from":"answer"}`,
		`{"op":"reduce_join","in":"mapped","sep":"|","out":"joined"}`,
		`{"op":"finalize","from":"joined"}`,
	)
	env := NewEnvironment(prompt, nil, NewBudget())

	final, err := rl.Run(context.Background(), env, "map and join")
	require.NoError(t, err)
	assert.Equal(t, "sub|sub", final)
	assert.Equal(t, 6, scripted.Calls(), "4 root turns (chunk/sub_map/reduce/finalize) plus 2 child turns (set/finalize) for the one non-cached sub-call")

	var subCallEvents []TraceEvent
	for _, ev := range env.Trace.Events() {
		if ev.Kind == TraceSubCall {
			subCallEvents = append(subCallEvents, ev)
		}
	}
	require.Len(t, subCallEvents, 2)
	cachedCount := 0
	for _, ev := range subCallEvents {
		if ev.Cached {
			cachedCount++
		}
	}
	assert.GreaterOrEqual(t, cachedCount, 1)
}

// Scenario 5: error recovery.
func TestRootLoop_Scenario5_ErrorRecovery(t *testing.T) {
	rl, scripted := newTestRootLoop(
		`{"op":"slice_promptt","start":0,"end":5}`,
		`{"op":"set","path":"answer","value":"ok"}`,
		`{"op":"finalize","from":"answer"}`,
	)
	env := NewEnvironment("hello world", nil, NewBudget())

	final, err := rl.Run(context.Background(), env, "recover from a typo")
	require.NoError(t, err)
	assert.Equal(t, "ok", final)
	assert.Equal(t, 3, scripted.Calls())
}

// recordingProvider wraps a Scripted provider and keeps every message the
// Root Loop sends to it.
type recordingProvider struct {
	inner *provider.Scripted
	seen  []provider.Message
}

func (r *recordingProvider) Complete(ctx context.Context, messages []provider.Message, opts *provider.CompleteOptions) (*provider.CompletionResult, error) {
	r.seen = append(r.seen, messages...)
	return r.inner.Complete(ctx, messages, opts)
}

func TestRootLoop_PrivacyProperty_PromptBodyNeverInMessages(t *testing.T) {
	secret := "SECRET-LONG-PROMPT-1234567890"
	rec := &recordingProvider{inner: provider.NewScripted(
		`{"op":"set","path":"answer","value":"ok"}`,
		`{"op":"finalize","from":"answer"}`,
	)}
	rl := NewRootLoop(rec, RootLoopOptions{Logger: zerolog.Nop()})
	env := NewEnvironment(secret, nil, NewBudget())

	_, err := rl.Run(context.Background(), env, "echo ok")
	require.NoError(t, err)

	require.NotEmpty(t, rec.seen)
	for _, m := range rec.seen {
		assert.False(t, strings.Contains(m.Content, secret))
	}
	for _, ev := range env.Trace.Events() {
		assert.False(t, strings.Contains(ev.StdoutPreview, secret))
	}
}

func TestBudget_StepsUsedNeverExceedsMaxSteps(t *testing.T) {
	rl, _ := newTestRootLoop(
		`{"op":"slice_promptt"}`,
		`{"op":"slice_promptt"}`,
		`{"op":"slice_promptt"}`,
	)
	env := NewEnvironment("hello", nil, NewBudget())
	env.Budget.MaxSteps = 2

	_, err := rl.Run(context.Background(), env, "loop forever on errors")
	require.Error(t, err)
	var budgetErr *BudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	assert.Equal(t, BudgetMaxSteps, budgetErr.Kind)
	assert.LessOrEqual(t, env.Budget.StepsUsed, env.Budget.MaxSteps)
}

// spec.md's rlm_init wire shape is {kind, depth, prompt:{promptId,length},
// budget, task?, hints}; hints is mandatory, unlike the optional task.
func TestInitialMessages_CarriesHints(t *testing.T) {
	rl, _ := newTestRootLoop()
	env := NewEnvironment("hello world", nil, NewBudget())

	messages := rl.initialMessages(env, "summarize")
	require.Len(t, messages, 2)

	var init map[string]any
	require.NoError(t, json.Unmarshal([]byte(messages[1].Content), &init))
	assert.Equal(t, "rlm_init", init["kind"])
	hints, ok := init["hints"].([]any)
	require.True(t, ok, "hints must be present and an array")
	assert.ElementsMatch(t, []any{"answer", "total", "picked", "joined", "result"}, hints)
}

// spec.md's rlm_error wire shape is {kind, depth, error, budgetUsed,
// required:{…hints…}}.
func TestErrorTurn_CarriesRequiredHints(t *testing.T) {
	rl, _ := newTestRootLoop()
	env := NewEnvironment("hello world", nil, NewBudget())

	msg := rl.errorTurn(env, "unknown_op")

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.Content), &payload))
	assert.Equal(t, "rlm_error", payload["kind"])
	required, ok := payload["required"].(map[string]any)
	require.True(t, ok, "required must be present and an object")
	hints, ok := required["hints"].([]any)
	require.True(t, ok, "required.hints must be present and an array")
	assert.ElementsMatch(t, []any{"answer", "total", "picked", "joined", "result"}, hints)
}
