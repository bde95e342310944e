package rlm

import (
	"fmt"
	"regexp"
	"strings"
)

// DocFormat is the StructuredDocument tag.
type DocFormat string

const (
	FormatAuto     DocFormat = "auto"
	FormatText     DocFormat = "text"
	FormatMarkdown DocFormat = "markdown"
	FormatCSV      DocFormat = "csv"
)

// MarkdownSection is one heading-delimited region of a markdown document.
type MarkdownSection struct {
	Title     string
	Level     int
	StartLine int
	EndLine   int
	Body      string
}

// CSVTable is the parsed tabular form of a csv document.
type CSVTable struct {
	Delimiter string
	Headers   []string
	Rows      [][]string
}

// StructuredDocument is the in-memory IR produced by doc_parse: a tagged
// variant over text/markdown/csv (spec §3, §4.3).
type StructuredDocument struct {
	Format    DocFormat
	LineCount int
	RawLength int

	Markdown []MarkdownSection // set iff Format == FormatMarkdown
	CSV      *CSVTable         // set iff Format == FormatCSV
}

// ParseOptions configures ParseStructuredDocument.
type ParseOptions struct {
	Format    DocFormat
	Delimiter string
}

var mdHeadingRe = regexp.MustCompile(`^#{1,6}\s+.+`)

// detectFormat implements spec §4.3's auto-detection: any markdown heading
// line wins; else a uniform-cell-count multi-line split on delimiter wins;
// else text.
func detectFormat(prompt, delimiter string) DocFormat {
	lines := strings.Split(prompt, "\n")
	for _, l := range lines {
		if mdHeadingRe.MatchString(l) {
			return FormatMarkdown
		}
	}
	nonEmpty := make([]string, 0, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			nonEmpty = append(nonEmpty, l)
		}
	}
	if len(nonEmpty) >= 2 {
		width := -1
		uniform := true
		for _, l := range nonEmpty {
			cells := strings.Split(l, delimiter)
			if width == -1 {
				width = len(cells)
			} else if len(cells) != width {
				uniform = false
				break
			}
		}
		if uniform && width >= 2 {
			return FormatCSV
		}
	}
	return FormatText
}

// ParseStructuredDocument implements spec §4.3.
func ParseStructuredDocument(prompt string, opts ParseOptions) (*StructuredDocument, error) {
	delimiter := opts.Delimiter
	if delimiter == "" {
		delimiter = ","
	}
	format := opts.Format
	if format == "" || format == FormatAuto {
		format = detectFormat(prompt, delimiter)
	}

	doc := &StructuredDocument{
		Format:    format,
		LineCount: len(strings.Split(prompt, "\n")),
		RawLength: len(prompt),
	}

	switch format {
	case FormatMarkdown:
		doc.Markdown = parseMarkdownSections(prompt)
	case FormatCSV:
		table, err := parseCSVTable(prompt, delimiter)
		if err != nil {
			return nil, err
		}
		doc.CSV = table
	case FormatText:
		// no structured payload beyond LineCount/RawLength.
	default:
		return nil, dslErrorf("unsupported format: %s", format)
	}
	return doc, nil
}

// SelectSection implements doc_select_section: exact-title match first,
// then case-insensitive.
func (d *StructuredDocument) SelectSection(title string) (string, error) {
	if d.Format != FormatMarkdown {
		return "", dslErrorf("doc_select_section requires a markdown document")
	}
	for _, s := range d.Markdown {
		if s.Title == title {
			return s.Body, nil
		}
	}
	lower := strings.ToLower(title)
	for _, s := range d.Markdown {
		if strings.ToLower(s.Title) == lower {
			return s.Body, nil
		}
	}
	return "", dslErrorf("markdown section not found: %s", title)
}

// summaryString renders the short doc_parse summary per spec §4.4.
func (d *StructuredDocument) summaryString() string {
	switch d.Format {
	case FormatMarkdown:
		return fmt.Sprintf(`{"format":"markdown","lines":%d,"sections":%d}`, d.LineCount, len(d.Markdown))
	case FormatCSV:
		return fmt.Sprintf(`{"format":"csv","lines":%d,"rows":%d,"columns":%d}`, d.LineCount, len(d.CSV.Rows), len(d.CSV.Headers))
	default:
		return fmt.Sprintf(`{"format":"text","lines":%d}`, d.LineCount)
	}
}
