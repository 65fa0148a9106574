package docpipe

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// stripPolicy removes any markup that survived extraction. Résumés exported
// from web builders sometimes embed raw HTML in text objects; it must not
// reach prompts or the browser.
var stripPolicy = bluemonday.StrictPolicy()

var (
	spaceRunRe = regexp.MustCompile(`[ \t\f\v\x{00A0}]+`)
	blankRunRe = regexp.MustCompile(`\n{3,}`)

	// markupRe matches the HTML tags and comment openers that page builders
	// leak into text. Anything else between angle brackets is content, such
	// as "<jane.doe@example.com>" or "<Go>".
	markupRe = regexp.MustCompile(`(?i)</?(?:a|abbr|b|body|br|div|em|embed|font|form|h[1-6]|head|hr|html|i|iframe|img|input|li|link|meta|object|ol|p|pre|script|small|span|strong|style|sub|sup|svg|table|tbody|td|th|thead|title|tr|u|ul)\b[^<>]*>|<!--`)
)

// escapeStrayBrackets entity-encodes every "<" that does not open known
// markup, so the sanitizer keeps it as text.
func escapeStrayBrackets(text string) string {
	if !strings.Contains(text, "<") {
		return text
	}
	var sb strings.Builder
	sb.Grow(len(text))
	last := 0
	for _, m := range markupRe.FindAllStringIndex(text, -1) {
		sb.WriteString(strings.ReplaceAll(text[last:m[0]], "<", "&lt;"))
		sb.WriteString(text[m[0]:m[1]])
		last = m[1]
	}
	sb.WriteString(strings.ReplaceAll(text[last:], "<", "&lt;"))
	return sb.String()
}

// sanitizeText strips markup, normalises whitespace and keeps paragraph
// breaks (at most one blank line in a row).
func sanitizeText(text string) string {
	if text == "" {
		return ""
	}
	text = html.UnescapeString(stripPolicy.Sanitize(escapeStrayBrackets(text)))
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = spaceRunRe.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	text = strings.Join(lines, "\n")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
