package rlm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStructuredDocument_DetectsMarkdownByHeading(t *testing.T) {
	prompt := "# Title\nintro text\n\n## Section A\nbody a\n\n## Section B\nbody b\n"
	doc, err := ParseStructuredDocument(prompt, ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, FormatMarkdown, doc.Format)
	require.Len(t, doc.Markdown, 3)
	assert.Equal(t, "Title", doc.Markdown[0].Title)
	assert.Equal(t, 1, doc.Markdown[0].Level)
}

func TestParseStructuredDocument_SectionEndsAtEqualOrLowerDepthHeading(t *testing.T) {
	prompt := "# Top\n## A\nbody a1\nbody a2\n### A1\nnested\n## B\nbody b\n"
	doc, err := ParseStructuredDocument(prompt, ParseOptions{})
	require.NoError(t, err)

	var secA *MarkdownSection
	for i := range doc.Markdown {
		if doc.Markdown[i].Title == "A" {
			secA = &doc.Markdown[i]
		}
	}
	require.NotNil(t, secA)
	assert.Contains(t, secA.Body, "body a1")
	assert.Contains(t, secA.Body, "nested")
	assert.NotContains(t, secA.Body, "body b")
}

func TestParseStructuredDocument_SelectSectionCaseInsensitiveFallback(t *testing.T) {
	doc, err := ParseStructuredDocument("# Main\n## Summary\ntext here\n", ParseOptions{})
	require.NoError(t, err)
	body, err := doc.SelectSection("summary")
	require.NoError(t, err)
	assert.Equal(t, "text here", body)

	_, err = doc.SelectSection("missing")
	require.Error(t, err)
}

func TestParseStructuredDocument_DetectsCSVWithHeaderRow(t *testing.T) {
	prompt := "name,amount\nwidget,10\ngadget,20\n"
	doc, err := ParseStructuredDocument(prompt, ParseOptions{})
	require.NoError(t, err)
	require.Equal(t, FormatCSV, doc.Format)
	assert.Equal(t, []string{"name", "amount"}, doc.CSV.Headers)
	assert.Len(t, doc.CSV.Rows, 2)
}

func TestParseStructuredDocument_CSVWithoutHeaderSynthesizesColumns(t *testing.T) {
	prompt := "1,2\n3,4\n5,6\n"
	doc, err := ParseStructuredDocument(prompt, ParseOptions{})
	require.NoError(t, err)
	require.Equal(t, FormatCSV, doc.Format)
	assert.Equal(t, []string{"col0", "col1"}, doc.CSV.Headers)
	assert.Len(t, doc.CSV.Rows, 3)
}

func TestCSVTable_SumColumnSkipsNonNumeric(t *testing.T) {
	doc, err := ParseStructuredDocument("name,amount\nwidget,10\ngadget,n/a\nsprocket,5\n", ParseOptions{})
	require.NoError(t, err)
	sum, err := doc.CSV.SumColumn("amount")
	require.NoError(t, err)
	assert.Equal(t, float64(15), sum)
}

func TestCSVTable_SelectRowsAndProjectColumns(t *testing.T) {
	doc, err := ParseStructuredDocument("name,amount\nwidget,10\ngadget,25\nsprocket,5\n", ParseOptions{})
	require.NoError(t, err)

	filtered, err := doc.CSV.SelectRows("amount", CmpGte, float64(10))
	require.NoError(t, err)
	assert.Len(t, filtered.Rows, 2)

	projected, err := filtered.ProjectColumns([]any{"name"})
	require.NoError(t, err)
	lines := projected.JoinedLines(",", false)
	assert.Equal(t, []string{"widget", "gadget"}, lines)
}

func TestDetectFormat_PlainTextFallback(t *testing.T) {
	doc, err := ParseStructuredDocument("just some\nplain prose\nwith no structure", ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, FormatText, doc.Format)
}
