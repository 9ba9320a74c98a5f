// Package feedback parses and cleans the text returned by the grading model.
//
// The model is asked to end its answer with a line such as "FINAL MARK: 7,5/10"
// and to start the student-facing part with "FEEDBACK START:". Those labels are
// the only contract between the prompt and this package; ContractVersion is bumped
// whenever the accepted labels change.
package feedback

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/pavelanni/essaygrader/internal/model"
)

// ContractVersion identifies the set of output labels understood by ExtractMark and StripLeak.
const ContractVersion = 2

const number = `\**\s*(\d{1,2}(?:[.,]\d{1,2})?)\s*\**\s*/\s*\**\s*10\b`

// markPatterns are tried in order; the first pattern with a match wins.
var markPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bFINAL\s+MARK\s*\**\s*:\s*` + number),
	regexp.MustCompile(`(?i)\bFINAL\s+GRADE\s*\**\s*:\s*` + number),
	regexp.MustCompile(`(?i)\bNOTA\s+FINAL\s*\**\s*:\s*` + number),
	regexp.MustCompile(`(?i)\b(?:MARK|GRADE|SCORE)\s*\**\s*:\s*` + number),
}

// standaloneMark matches a line that holds nothing but a final mark label and
// its value, with optional markdown decoration. Quoted or inline examples such
// as `e.g. "FINAL MARK: 7,5/10"` do not match.
var standaloneMark = regexp.MustCompile(`(?im)^[ \t>#*_-]*(?:FINAL\s+MARK|FINAL\s+GRADE|NOTA\s+FINAL)\s*\**\s*:\s*` + number + `[ \t*_.]*$`)

// DelimiterMarkers separate private reasoning from the public answer. They are
// removed together with everything before them.
var DelimiterMarkers = []string{"FEEDBACK START:"}

// HeadingMarkers open the public answer. Text before them is removed; the
// heading itself is kept.
var HeadingMarkers = []string{"Overall Impression:"}

// ExtractMark finds the mark token in model output. Within the winning pattern
// the last occurrence is used, since the mark closes the feedback.
func ExtractMark(text string) model.Mark {
	for _, re := range markPatterns {
		matches := re.FindAllStringSubmatch(text, -1)
		for i := len(matches) - 1; i >= 0; i-- {
			value := matches[i][1]
			if !withinScale(value) {
				continue
			}
			return model.Mark{Value: value + "/10", Found: true}
		}
	}
	return model.Mark{}
}

// Result is model output split into what the student sees and the mark.
type Result struct {
	Text string
	Mark model.Mark
}

// Parse strips leaked private text and extracts the mark from what remains.
// The stripped prefix is consulted only for a mark standing alone on its own
// line, so an echoed instruction example is never taken as the grade.
func Parse(raw string, extraHeadings ...string) Result {
	public := StripLeak(raw, extraHeadings...)
	mark := ExtractMark(public)
	if mark.Found {
		return Result{Text: public, Mark: mark}
	}
	private := raw
	if public != "" {
		if i := strings.LastIndex(raw, public); i >= 0 {
			private = raw[:i]
		}
	}
	if m := standaloneMark.FindAllStringSubmatch(private, -1); len(m) > 0 {
		for i := len(m) - 1; i >= 0; i-- {
			if withinScale(m[i][1]) {
				mark = model.Mark{Value: m[i][1] + "/10", Found: true}
				break
			}
		}
	}
	return Result{Text: public, Mark: mark}
}

func withinScale(value string) bool {
	f, err := strconv.ParseFloat(strings.Replace(value, ",", ".", 1), 64)
	if err != nil {
		return false
	}
	return f >= 0 && f <= 10
}

// StripLeak removes any echoed internal workspace that precedes the public
// feedback. Extra markers are treated as headings. If no marker is present the
// text is only trimmed; this is best effort, not a guarantee.
func StripLeak(text string, extraHeadings ...string) string {
	text = strings.TrimSpace(text)

	for _, m := range DelimiterMarkers {
		if i := strings.LastIndex(text, m); i >= 0 {
			text = strings.TrimSpace(text[i+len(m):])
		}
	}

	cut := -1
	headings := append(append([]string{}, HeadingMarkers...), extraHeadings...)
	for _, m := range headings {
		if m = strings.TrimSpace(m); m == "" {
			continue
		}
		if i := strings.Index(text, m); i >= 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut > 0 {
		text = strings.TrimSpace(text[cut:])
	}
	return text
}

// RenderHTML converts markdown feedback into HTML. Raw HTML in the input is
// not passed through.
func RenderHTML(text string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
