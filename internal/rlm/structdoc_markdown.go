package rlm

import "strings"

// parseMarkdownSections groups heading lines per spec §3: a section's body
// runs up to the next heading of equal-or-lower depth (i.e. level <= the
// section's own level), with leading/trailing blank lines trimmed.
func parseMarkdownSections(prompt string) []MarkdownSection {
	lines := strings.Split(prompt, "\n")

	type heading struct {
		line  int
		level int
		title string
	}
	var headings []heading
	for i, l := range lines {
		if !mdHeadingRe.MatchString(l) {
			continue
		}
		trimmed := strings.TrimLeft(l, "#")
		level := len(l) - len(trimmed)
		title := strings.TrimSpace(trimmed)
		headings = append(headings, heading{line: i, level: level, title: title})
	}

	sections := make([]MarkdownSection, 0, len(headings))
	for i, h := range headings {
		end := len(lines) - 1
		for j := i + 1; j < len(headings); j++ {
			if headings[j].level <= h.level {
				end = headings[j].line - 1
				break
			}
		}
		start := h.line + 1
		bodyLines := trimBlankEdges(lines[start : end+1])
		sections = append(sections, MarkdownSection{
			Title:     h.title,
			Level:     h.level,
			StartLine: h.line,
			EndLine:   end,
			Body:      strings.Join(bodyLines, "\n"),
		})
	}
	return sections
}

func trimBlankEdges(lines []string) []string {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[start:end]
}
