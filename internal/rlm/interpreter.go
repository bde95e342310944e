package rlm

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ActionInterpreter is spec §4.4's single entry point: it executes one
// coerced Action against an Environment and returns a short JSON summary
// string. Every handler either mutates the environment and returns, or
// returns an error: a *DSLError describing why it could not, a
// *BudgetExceededError on a budget breach, or (for sub_map) the error a
// sub-call returned.
type ActionInterpreter struct {
	Dispatcher *SubRLMDispatcher
	// RequirePromptReadBeforeFinalize gates `finalize` per spec §4.4.
	RequirePromptReadBeforeFinalize bool
}

// NewActionInterpreter wires an interpreter to its dispatcher.
func NewActionInterpreter(dispatcher *SubRLMDispatcher) *ActionInterpreter {
	return &ActionInterpreter{Dispatcher: dispatcher, RequirePromptReadBeforeFinalize: true}
}

// Exec implements spec §4.4's exec(action, step) -> stdout contract and
// emits the repl_exec trace event.
func (ai *ActionInterpreter) Exec(ctx context.Context, env *Environment, a *Action) (string, error) {
	stdout, err := ai.dispatch(ctx, env, a)
	env.Trace.append(TraceEvent{
		Kind:        TraceReplExec,
		Action:      a.Op,
		StdoutPreview: preview(stdout),
		ScratchKeys: env.scratchKeys(),
	})
	return stdout, err
}

func (ai *ActionInterpreter) dispatch(ctx context.Context, env *Environment, a *Action) (string, error) {
	switch a.Op {
	case "prompt_meta":
		return ai.promptMeta(env)
	case "doc_parse":
		return ai.docParse(ctx, env, a)
	case "doc_select_section":
		return ai.docSelectSection(env, a)
	case "doc_table_sum":
		return ai.docTableSum(env, a)
	case "doc_select_rows":
		return ai.docSelectRows(env, a)
	case "doc_project_columns":
		return ai.docProjectColumns(env, a)
	case "slice_prompt":
		return ai.slicePrompt(ctx, env, a)
	case "find":
		return ai.find(ctx, env, a)
	case "chunk_newlines":
		return ai.chunkNewlines(env, a)
	case "chunk_tokens":
		return ai.chunkTokens(env, a)
	case "sum_csv_column":
		return ai.sumCSVColumn(env, a)
	case "pick_word":
		return ai.pickWord(env, a)
	case "sub_map":
		return ai.subMap(ctx, env, a)
	case "reduce_join":
		return ai.reduceJoin(env, a)
	case "set":
		return ai.set(env, a)
	case "finalize":
		return ai.finalize(env, a)
	case "call_symbol":
		return ai.callSymbol(env, a)
	default:
		return "", dslErrorf("unknown op: %s", a.Op)
	}
}

func (ai *ActionInterpreter) promptMeta(env *Environment) (string, error) {
	return fmt.Sprintf(`{"promptId":%q,"length":%d}`, env.PromptID, len(env.Prompt)), nil
}

func (ai *ActionInterpreter) readFullPrompt(ctx context.Context, env *Environment) (string, error) {
	body, err := env.DocStore.ReadAll(ctx, env.PromptID)
	if err != nil {
		return "", dslErrorf("document read failed: %v", err)
	}
	if err := env.Budget.ConsumePromptChars(len(body)); err != nil {
		return "", err
	}
	return body, nil
}

func (ai *ActionInterpreter) docParse(ctx context.Context, env *Environment, a *Action) (string, error) {
	body, err := ai.readFullPrompt(ctx, env)
	if err != nil {
		return "", err
	}
	format := DocFormat(a.Format)
	if format == "" {
		format = FormatAuto
	}
	doc, err := ParseStructuredDocument(body, ParseOptions{Format: format, Delimiter: a.Delimiter})
	if err != nil {
		return "", err
	}
	env.ScratchSet(a.Out, doc)
	return doc.summaryString(), nil
}

func scratchDoc(env *Environment, key string) (*StructuredDocument, error) {
	v, ok := env.ScratchGet(key)
	if !ok {
		return nil, dslErrorf("scratch key not found: %s", key)
	}
	doc, ok := v.(*StructuredDocument)
	if !ok {
		return nil, dslErrorf("scratch key %s is not a parsed document", key)
	}
	return doc, nil
}

func (ai *ActionInterpreter) docSelectSection(env *Environment, a *Action) (string, error) {
	doc, err := scratchDoc(env, a.In)
	if err != nil {
		return "", err
	}
	body, err := doc.SelectSection(a.Title)
	if err != nil {
		return "", err
	}
	env.ScratchSet(a.Out, body)
	return fmt.Sprintf(`{"chars":%d}`, len(body)), nil
}

func (ai *ActionInterpreter) docTableSum(env *Environment, a *Action) (string, error) {
	doc, err := scratchDoc(env, a.In)
	if err != nil {
		return "", err
	}
	if doc.Format != FormatCSV {
		return "", dslErrorf("doc_table_sum requires a csv document")
	}
	sum, err := doc.CSV.SumColumn(a.Column)
	if err != nil {
		return "", err
	}
	result := strconv.FormatFloat(sum, 'f', -1, 64)
	env.ScratchSet(a.Out, result)
	return fmt.Sprintf(`{"sum":%s}`, result), nil
}

func (ai *ActionInterpreter) docSelectRows(env *Environment, a *Action) (string, error) {
	doc, err := scratchDoc(env, a.In)
	if err != nil {
		return "", err
	}
	if doc.Format != FormatCSV {
		return "", dslErrorf("doc_select_rows requires a csv document")
	}
	value := a.Value
	cmp := RowComparator(a.Comparator)
	filtered, err := doc.CSV.SelectRows(a.Column, cmp, value)
	if err != nil {
		return "", err
	}
	out := &StructuredDocument{
		Format:    FormatCSV,
		LineCount: len(filtered.Rows) + 1,
		RawLength: 0,
		CSV:       filtered,
	}
	env.ScratchSet(a.Out, out)
	return fmt.Sprintf(`{"rows":%d}`, len(filtered.Rows)), nil
}

func (ai *ActionInterpreter) docProjectColumns(env *Environment, a *Action) (string, error) {
	doc, err := scratchDoc(env, a.In)
	if err != nil {
		return "", err
	}
	if doc.Format != FormatCSV {
		return "", dslErrorf("doc_project_columns requires a csv document")
	}
	projected, err := doc.CSV.ProjectColumns(a.Columns)
	if err != nil {
		return "", err
	}
	separator := a.Separator
	if separator == "" {
		separator = ","
	}
	lines := projected.JoinedLines(separator, a.IncludeHeader)
	out := make([]any, len(lines))
	for i, l := range lines {
		out[i] = l
	}
	env.ScratchSet(a.Out, out)
	return fmt.Sprintf(`{"rows":%d}`, len(projected.Rows)), nil
}

func (ai *ActionInterpreter) slicePrompt(ctx context.Context, env *Environment, a *Action) (string, error) {
	start := a.Start
	if start < 0 {
		start = 0
	}
	end := a.End
	if end < start {
		end = start
	}
	if end > start {
		if err := env.Budget.ConsumePromptChars(end - start); err != nil {
			return "", err
		}
	}
	body, err := env.DocStore.ReadSlice(ctx, env.PromptID, start, end)
	if err != nil {
		return "", dslErrorf("document read failed: %v", err)
	}
	env.ScratchSet(a.Out, body)
	return fmt.Sprintf(`{"chars":%d}`, len(body)), nil
}

func (ai *ActionInterpreter) find(ctx context.Context, env *Environment, a *Action) (string, error) {
	body, err := ai.readFullPrompt(ctx, env)
	if err != nil {
		return "", err
	}
	if a.Needle == "" {
		return "", dslErrorf("find requires a non-empty needle")
	}
	from := a.Start
	if from < 0 {
		from = 0
	}
	step := len(a.Needle)
	if step < 1 {
		step = 1
	}
	var hits []int
	idx := from
	for {
		pos := strings.Index(body[idx:], a.Needle)
		if pos < 0 {
			break
		}
		absolute := idx + pos
		hits = append(hits, absolute)
		idx = absolute + step
		if idx > len(body) {
			break
		}
	}
	env.ScratchSet(a.Out, toAnySlice(hits))
	return fmt.Sprintf(`{"hits":%d}`, len(hits)), nil
}

func (ai *ActionInterpreter) chunkNewlines(env *Environment, a *Action) (string, error) {
	v, ok := env.ScratchGet(a.In)
	var body string
	if ok {
		body, _ = v.(string)
	} else {
		body = env.Prompt
	}
	maxLines := a.MaxLines
	if maxLines < 1 {
		maxLines = 1
	}
	lines := strings.Split(body, "\n")
	var chunks []string
	for i := 0; i < len(lines); i += maxLines {
		end := clampInt(i+maxLines, 0, len(lines))
		chunks = append(chunks, strings.Join(lines[i:end], "\n"))
	}
	env.ScratchSet(a.Out, toAnySlice(chunks))
	return fmt.Sprintf(`{"chunks":%d}`, len(chunks)), nil
}

func (ai *ActionInterpreter) chunkTokens(env *Environment, a *Action) (string, error) {
	v, ok := env.ScratchGet(a.In)
	var body string
	if ok {
		body, _ = v.(string)
	} else {
		body = env.Prompt
	}
	maxTokens := a.MaxTokens
	if maxTokens < 1 {
		maxTokens = 1
	}
	overlap := a.Overlap
	if overlap < 0 || overlap >= maxTokens {
		overlap = 0
	}
	tokens := strings.Fields(body)
	step := maxTokens - overlap
	var chunks []string
	for i := 0; i < len(tokens); i += step {
		end := clampInt(i+maxTokens, 0, len(tokens))
		chunks = append(chunks, strings.Join(tokens[i:end], " "))
		if end >= len(tokens) {
			break
		}
	}
	env.ScratchSet(a.Out, toAnySlice(chunks))
	return fmt.Sprintf(`{"chunks":%d}`, len(chunks)), nil
}

func (ai *ActionInterpreter) sumCSVColumn(env *Environment, a *Action) (string, error) {
	delimiter := a.Delimiter
	if delimiter == "" {
		delimiter = ","
	}
	lines := strings.Split(env.Prompt, "\n")
	idx, err := adHocColumnIndex(lines, delimiter, a.Column)
	if err != nil {
		return "", err
	}
	var sum float64
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := strings.Split(line, delimiter)
		cell := strings.TrimSpace(cellAt(cells, idx))
		if n, ok := asFiniteNumber(cell); ok {
			sum += n
		}
	}
	result := strconv.FormatFloat(sum, 'f', -1, 64)
	env.ScratchSet(a.Out, result)
	return fmt.Sprintf(`{"sum":%s}`, result), nil
}

// adHocColumnIndex resolves a.Column against the first line's cells
// without building a StructuredDocument, per sum_csv_column's "ad-hoc"
// contract.
func adHocColumnIndex(lines []string, delimiter string, col any) (int, error) {
	if len(lines) == 0 {
		return 0, dslErrorf("csv column not found: %v", col)
	}
	headers := strings.Split(lines[0], delimiter)
	t := &CSVTable{Headers: headers}
	return t.resolveColumn(col)
}

func (ai *ActionInterpreter) pickWord(env *Environment, a *Action) (string, error) {
	words := splitWords(env.Prompt)
	if len(words) == 0 {
		env.ScratchSet(a.Out, "")
		return `{"word":""}`, nil
	}
	idx := clampInt(a.Index, 0, len(words)-1)
	word := words[idx]
	env.ScratchSet(a.Out, word)
	return fmt.Sprintf(`{"word":%q}`, word), nil
}

func (ai *ActionInterpreter) subMap(ctx context.Context, env *Environment, a *Action) (string, error) {
	v, ok := env.ScratchGet(a.In)
	if !ok {
		return "", dslErrorf("scratch key not found: %s", a.In)
	}
	items, ok := v.([]any)
	if !ok {
		return "", dslErrorf("sub_map requires an array input at %s", a.In)
	}
	limit := len(items)
	if a.Limit > 0 && a.Limit < limit {
		limit = a.Limit
	}
	items = items[:limit]

	concurrency := a.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]string, len(items))
	errs := make([]error, len(items))
	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup

	for i, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			errs[i] = err
			continue
		}
		wg.Add(1)
		go func(i int, item any) {
			defer wg.Done()
			defer sem.Release(1)
			itemStr := stringifyValue(item)
			query := strings.ReplaceAll(a.QueryTemplate, "{{item}}", itemStr)
			final, err := ai.Dispatcher.Dispatch(ctx, env, SubCallRequest{Query: query, SubPrompt: itemStr})
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = final
		}(i, item)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return "", err
		}
	}

	out := make([]any, len(results))
	for i, r := range results {
		out[i] = r
	}
	env.ScratchSet(a.Out, out)
	return fmt.Sprintf(`{"mapped":%d}`, len(out)), nil
}

func (ai *ActionInterpreter) reduceJoin(env *Environment, a *Action) (string, error) {
	v, ok := env.ScratchGet(a.In)
	if !ok {
		return "", dslErrorf("scratch key not found: %s", a.In)
	}
	items, ok := v.([]any)
	if !ok {
		return "", dslErrorf("reduce_join requires an array input at %s", a.In)
	}
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = stringifyValue(item)
	}
	sep := a.Sep
	joined := strings.Join(parts, sep)
	env.ScratchSet(a.Out, joined)
	return fmt.Sprintf(`{"chars":%d}`, len(joined)), nil
}

func (ai *ActionInterpreter) set(env *Environment, a *Action) (string, error) {
	if a.Path == "" {
		return "", dslErrorf("set requires a path")
	}
	env.ScratchSet(a.Path, a.Value)
	return `{"ok":true}`, nil
}

func (ai *ActionInterpreter) finalize(env *Environment, a *Action) (string, error) {
	if ai.RequirePromptReadBeforeFinalize && env.Budget.PromptReadCharsUsed == 0 {
		return "", dslErrorf("finalize requires a prior prompt read")
	}
	if a.FinalizeInline != nil {
		env.SetFinal(*a.FinalizeInline)
		return `{"final":true}`, nil
	}
	if a.From == "" {
		return "", dslErrorf("finalize requires from")
	}
	v, ok := env.ScratchGet(a.From)
	if !ok {
		return "", dslErrorf("scratch key not found: %s", a.From)
	}
	env.SetFinal(stringifyValue(v))
	return `{"final":true}`, nil
}

func (ai *ActionInterpreter) callSymbol(env *Environment, a *Action) (string, error) {
	if a.Symbol == "" {
		return "", dslErrorf("call_symbol requires a symbol")
	}
	fn, ok := env.SymbolMap[a.Symbol]
	if !ok {
		return "", dslErrorf("unknown symbol: %s", a.Symbol)
	}
	result, err := fn(SymbolCall{
		Symbol:   a.Symbol,
		Prompt:   env.Prompt,
		PromptID: env.PromptID,
		Depth:    env.Budget.Depth,
		Scratch:  env.Scratch,
		Args:     a.Args,
		Input:    a.Input,
	})
	if err != nil {
		return "", dslErrorf("call_symbol %s failed: %v", a.Symbol, err)
	}
	env.ScratchSet(a.Out, result)
	return fmt.Sprintf(`{"symbol":%q}`, a.Symbol), nil
}
