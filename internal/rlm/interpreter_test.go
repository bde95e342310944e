package rlm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEnv(prompt string) (*Environment, *ActionInterpreter) {
	env := NewEnvironment(prompt, nil, NewBudget())
	dispatcher := &SubRLMDispatcher{RunChild: func(ctx context.Context, env *Environment, task string) (string, error) {
		return "child:" + task, nil
	}}
	return env, NewActionInterpreter(dispatcher)
}

func TestInterpreter_DocParseAndTableSum(t *testing.T) {
	env, ai := newTestEnv("name,amount\nwidget,10\ngadget,20\n")
	ctx := context.Background()

	_, err := ai.Exec(ctx, env, &Action{Op: "doc_parse", Out: "doc"})
	require.NoError(t, err)

	_, err = ai.Exec(ctx, env, &Action{Op: "doc_table_sum", In: "doc", Column: "amount", Out: "total"})
	require.NoError(t, err)

	v, ok := env.ScratchGet("total")
	require.True(t, ok)
	assert.Equal(t, "30", v)
}

func TestInterpreter_SelectRowsProjectAndReduceJoin(t *testing.T) {
	env, ai := newTestEnv("name,amount\nwidget,10\ngadget,25\nsprocket,5\n")
	ctx := context.Background()

	_, err := ai.Exec(ctx, env, &Action{Op: "doc_parse", Out: "doc"})
	require.NoError(t, err)

	_, err = ai.Exec(ctx, env, &Action{Op: "doc_select_rows", In: "doc", Column: "amount", Comparator: "gte", Value: float64(10), Out: "big"})
	require.NoError(t, err)

	_, err = ai.Exec(ctx, env, &Action{Op: "doc_project_columns", In: "big", Columns: []any{"name"}, Separator: ",", Out: "names"})
	require.NoError(t, err)

	_, err = ai.Exec(ctx, env, &Action{Op: "reduce_join", In: "names", Sep: ";", Out: "joined"})
	require.NoError(t, err)

	v, ok := env.ScratchGet("joined")
	require.True(t, ok)
	assert.Equal(t, "widget;gadget", v)
}

func TestInterpreter_FinalizeRequiresPriorPromptRead(t *testing.T) {
	env, ai := newTestEnv("hello world")
	ctx := context.Background()

	_, err := ai.Exec(ctx, env, &Action{Op: "set", Path: "answer", Value: "42"})
	require.NoError(t, err)

	_, err = ai.Exec(ctx, env, &Action{Op: "finalize", From: "scratch.answer"})
	require.Error(t, err)
	assert.Nil(t, env.Final)

	_, err = ai.Exec(ctx, env, &Action{Op: "prompt_meta"})
	require.NoError(t, err)
	_, err = ai.Exec(ctx, env, &Action{Op: "slice_prompt", Start: 0, End: 5, Out: "slice"})
	require.NoError(t, err)

	_, err = ai.Exec(ctx, env, &Action{Op: "finalize", From: "scratch.answer"})
	require.NoError(t, err)
	require.NotNil(t, env.Final)
	assert.Equal(t, "42", *env.Final)
}

func TestInterpreter_FinalizeIsImmutableOnceSet(t *testing.T) {
	env, ai := newTestEnv("hello world")
	ctx := context.Background()
	_, _ = ai.Exec(ctx, env, &Action{Op: "slice_prompt", Start: 0, End: 5, Out: "slice"})

	one := "1"
	_, err := ai.Exec(ctx, env, &Action{Op: "finalize", FinalizeInline: &one})
	require.NoError(t, err)

	two := "2"
	_, err = ai.Exec(ctx, env, &Action{Op: "finalize", FinalizeInline: &two})
	require.NoError(t, err)
	assert.Equal(t, "1", *env.Final)
}

func TestInterpreter_SubMapPreservesOrderUnderConcurrency(t *testing.T) {
	env := NewEnvironment("irrelevant", nil, NewBudget())
	dispatcher := &SubRLMDispatcher{RunChild: func(ctx context.Context, childEnv *Environment, task string) (string, error) {
		return "echo:" + task, nil
	}}
	ai := NewActionInterpreter(dispatcher)
	ctx := context.Background()

	env.Scratch["items"] = []any{"a", "b", "c", "d", "e"}
	_, err := ai.Exec(ctx, env, &Action{
		Op:            "sub_map",
		In:            "items",
		QueryTemplate: "process {{item}}",
		Concurrency:   3,
		Out:           "results",
	})
	require.NoError(t, err)

	v, ok := env.ScratchGet("results")
	require.True(t, ok)
	results := v.([]any)
	require.Len(t, results, 5)
	assert.Equal(t, "echo:process a", results[0])
	assert.Equal(t, "echo:process e", results[4])
}

func TestInterpreter_CallSymbolRequiresRegisteredSymbol(t *testing.T) {
	env, ai := newTestEnv("hello")
	ctx := context.Background()

	_, err := ai.Exec(ctx, env, &Action{Op: "call_symbol", Symbol: "missing"})
	require.Error(t, err)

	env.SymbolMap = map[string]SymbolFunc{
		"upper": func(call SymbolCall) (any, error) { return "UPPER", nil },
	}
	_, err = ai.Exec(ctx, env, &Action{Op: "call_symbol", Symbol: "upper", Out: "result"})
	require.NoError(t, err)
	v, ok := env.ScratchGet("result")
	require.True(t, ok)
	assert.Equal(t, "UPPER", v)
}
