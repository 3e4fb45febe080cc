// Package feedback implements the feedback-gate text parsing shared by
// the server-facing client (severe/soft prefix classification, marked
// substring segmentation) and the orchestrator (the leading
// [FEEDBACK]...[/FEEDBACK] block extractor).
package feedback

import (
	"strings"
)

// SpanKind distinguishes plain narration from the corrected portion of a
// CORRECTED: line.
type SpanKind int

const (
	Plain SpanKind = iota
	Corrected
)

// Span is one segment of a parsed CORRECTED: line.
type Span struct {
	Kind SpanKind
	Text string
}

// Severity classifies a feedback line by its prefix.
type Severity int

const (
	Unprefixed Severity = iota
	Soft
	Severe
)

// Line is one classified line of feedback text, in original order.
type Line struct {
	Severity Severity
	Text     string
}

var severePrefixes = []string{"RED:", "ORANGE:"}
var softPrefixes = []string{"BLUE:", "YELLOW:", "GREEN:"}

// ParseLines classifies each line of text by severity.
// The CORRECTED: line (the last one, case-insensitive) must be extracted
// separately via ExtractCorrected before calling ParseLines on the
// remainder, since it is not itself severity-classified.
func ParseLines(text string) []Line {
	rawLines := strings.Split(text, "\n")
	lines := make([]Line, 0, len(rawLines))
	for _, raw := range rawLines {
		if raw == "" {
			continue
		}
		sev := classify(raw)
		lines = append(lines, Line{Severity: sev, Text: raw})
	}
	return lines
}

func classify(line string) Severity {
	for _, p := range severePrefixes {
		if strings.HasPrefix(line, p) {
			return Severe
		}
	}
	for _, p := range softPrefixes {
		if strings.HasPrefix(line, p) {
			return Soft
		}
	}
	if isAllCapsWordPrefix(line) {
		return Soft
	}
	return Unprefixed
}

// isAllCapsWordPrefix reports whether line starts with an all-caps word
// immediately followed by ':' (e.g. "NOTE:"). Any such prefix not in
// the severe set renders as a soft note.
func isAllCapsWordPrefix(line string) bool {
	colon := strings.IndexByte(line, ':')
	if colon <= 0 {
		return false
	}
	word := line[:colon]
	for _, r := range word {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// ExtractCorrected finds the last line (case-insensitive) prefixed
// "CORRECTED:" and returns its body and the text with that line removed.
// If no such line exists, ok is false and text is returned unchanged.
func ExtractCorrected(text string) (body string, rest string, ok bool) {
	lines := strings.Split(text, "\n")
	lastIdx := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.ToUpper(line), "CORRECTED:") {
			lastIdx = i
		}
	}
	if lastIdx < 0 {
		return "", text, false
	}
	body = strings.TrimSpace(lines[lastIdx][len("CORRECTED:"):])
	remaining := append(append([]string{}, lines[:lastIdx]...), lines[lastIdx+1:]...)
	return body, strings.Join(remaining, "\n"), true
}

// SegmentCorrected splits a CORRECTED: line's body into plain/corrected
// spans delimited by "<<...>>". No "<<" at all yields one Corrected span
// covering the whole string. An unmatched "<<" (no closing ">>") treats
// everything from "<<" onward as Corrected. A stray ">>" with no prior
// "<<" is kept as literal text, not treated as a delimiter. Empty input
// yields an empty slice.
func SegmentCorrected(body string) []Span {
	if body == "" {
		return nil
	}
	if !strings.Contains(body, "<<") {
		return []Span{{Kind: Corrected, Text: body}}
	}

	var spans []Span
	rest := body
	for {
		start := strings.Index(rest, "<<")
		if start < 0 {
			if rest != "" {
				spans = append(spans, Span{Kind: Plain, Text: rest})
			}
			break
		}
		if start > 0 {
			spans = append(spans, Span{Kind: Plain, Text: rest[:start]})
		}
		after := rest[start+2:]
		end := strings.Index(after, ">>")
		if end < 0 {
			// Unmatched "<<": the remainder is treated as corrected.
			spans = append(spans, Span{Kind: Corrected, Text: after})
			break
		}
		spans = append(spans, Span{Kind: Corrected, Text: after[:end]})
		rest = after[end+2:]
		if rest == "" {
			break
		}
	}
	return spans
}

// FeedbackBlock is the result of extracting a leading
// [FEEDBACK]...[/FEEDBACK] block from an LLM response.
type FeedbackBlock struct {
	Body string // present only when well-formed and non-empty
	Rest string // the response with the feedback block removed
}

const (
	feedbackOpen  = "[FEEDBACK]"
	feedbackClose = "[/FEEDBACK]"
)

// ExtractFeedbackBlock looks for a leading [FEEDBACK]...[/FEEDBACK]
// block in text. A well-formed, non-empty block returns a FeedbackBlock
// with Body and Rest set, and true. A missing opening tag, a missing
// closing tag, or an empty body all return false, with only Rest set
// (to the original or stripped text).
func ExtractFeedbackBlock(text string) (block FeedbackBlock, ok bool) {
	trimmed := strings.TrimLeft(text, " \t\n\r")
	if !strings.HasPrefix(trimmed, feedbackOpen) {
		return FeedbackBlock{Rest: text}, false
	}

	after := trimmed[len(feedbackOpen):]
	closeIdx := strings.Index(after, feedbackClose)
	if closeIdx < 0 {
		// No closing tag: malformed, treat as no feedback at all.
		return FeedbackBlock{Rest: text}, false
	}

	body := strings.TrimSpace(after[:closeIdx])
	rest := strings.TrimLeft(after[closeIdx+len(feedbackClose):], " \t\n\r")

	if body == "" {
		return FeedbackBlock{Rest: rest}, false
	}

	return FeedbackBlock{Body: body, Rest: rest}, true
}
