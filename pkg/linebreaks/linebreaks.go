// Package linebreaks converts plain text into HTML paragraph and line-break
// markup while keeping literal <pre>...</pre> blocks exactly as written.
package linebreaks

import (
	"regexp"
	"strings"
)

const (
	lineFeed           = "\n"
	lineBreakMarker    = "<br>"
	paragraphOpen      = "<p>"
	paragraphClose     = "</p>"
	paragraphSeparator = "\n\n"
)

var (
	newlineVariantsPattern  = regexp.MustCompile("\r\n|\r")
	blankLineSeparatorRegex = regexp.MustCompile("\n{2,}")
	preformattedBlockRegex  = regexp.MustCompile(`(?s)<pre>.*?</pre>`)
)

// NormalizeNewlines replaces every CRLF and every lone CR with LF.
func NormalizeNewlines(text string) string {
	return newlineVariantsPattern.ReplaceAllLiteralString(text, lineFeed)
}

// ToHTMLParagraphs splits text on blank lines, wraps every segment in <p>
// and turns the remaining single newlines into <br>. Segments are joined
// with a blank line. Empty input yields a single empty paragraph.
func ToHTMLParagraphs(text string) string {
	normalizedText := NormalizeNewlines(text)
	paragraphs := blankLineSeparatorRegex.Split(normalizedText, -1)
	convertedParagraphs := make([]string, 0, len(paragraphs))
	for _, paragraph := range paragraphs {
		var builder strings.Builder
		builder.WriteString(paragraphOpen)
		builder.WriteString(strings.ReplaceAll(paragraph, lineFeed, lineBreakMarker))
		builder.WriteString(paragraphClose)
		convertedParagraphs = append(convertedParagraphs, builder.String())
	}
	return strings.Join(convertedParagraphs, paragraphSeparator)
}

// IgnoringPre behaves like ToHTMLParagraphs but restores the original text of
// every <pre>...</pre> block after conversion, so preformatted content keeps
// its raw line endings. Matching is case-sensitive and non-greedy; unclosed or
// nested tags are converted like ordinary text.
func IgnoringPre(text string) string {
	preservedBlocks := preformattedBlockRegex.FindAllString(text, -1)
	convertedText := ToHTMLParagraphs(text)
	if len(preservedBlocks) == 0 {
		return convertedText
	}
	return replaceInOrder(preformattedBlockRegex, convertedText, preservedBlocks)
}

// replaceInOrder substitutes the Nth match of pattern with the Nth queued
// replacement. Matches left over once the queue is empty stay untouched.
func replaceInOrder(pattern *regexp.Regexp, text string, replacements []string) string {
	pendingReplacements := replacements
	var builder strings.Builder
	previousEnd := 0
	for _, location := range pattern.FindAllStringIndex(text, -1) {
		if len(pendingReplacements) == 0 {
			break
		}
		builder.WriteString(text[previousEnd:location[0]])
		builder.WriteString(pendingReplacements[0])
		pendingReplacements = pendingReplacements[1:]
		previousEnd = location[1]
	}
	builder.WriteString(text[previousEnd:])
	return builder.String()
}
