package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var templateFS embed.FS

var tagRegex = regexp.MustCompile(`(?i)</?\s*(?:student-answer|original-draft|system-instructions)\b[^>]*>`)

// MaxEssayRunes is the longest essay passed to the model.
const MaxEssayRunes = 10000

const (
	noEssay        = "[No essay provided]"
	truncatedLabel = "\n\n[Essay truncated due to length]"
)

var (
	loadOnce     sync.Once
	loadErr      error
	draftTmpl    *template.Template
	revisionTmpl *template.Template
)

// DraftData holds template data for the first-draft grading prompt.
type DraftData struct {
	Rules          string
	Task           string
	RequiredPoints []string
	OutputFormat   string
	WordCount      int
	Essay          string
}

// RevisionData holds template data for the revision comparison prompt.
type RevisionData struct {
	Rules            string
	Task             string
	PreviousFeedback string
	Draft            string
	Revision         string
	Changes          []string
	WordCount        int
}

func load() error {
	loadOnce.Do(func() {
		funcs := template.FuncMap{"inc": func(i int) int { return i + 1 }}
		draftTmpl, loadErr = template.New("draft.txt").Funcs(funcs).ParseFS(templateFS, "templates/draft.txt")
		if loadErr != nil {
			loadErr = fmt.Errorf("parse draft template: %w", loadErr)
			return
		}
		revisionTmpl, loadErr = template.New("revision.txt").Funcs(funcs).ParseFS(templateFS, "templates/revision.txt")
		if loadErr != nil {
			loadErr = fmt.Errorf("parse revision template: %w", loadErr)
		}
	})
	return loadErr
}

// WordCount returns the number of whitespace-delimited tokens in text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// BuildDraftPrompt assembles the grading request for a first draft.
func BuildDraftPrompt(data DraftData) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	if strings.TrimSpace(data.Rules) == "" {
		return "", errors.New("draft prompt: rubric rules are empty")
	}
	data.Essay = sanitizeEssay(data.Essay)

	var buf bytes.Buffer
	if err := draftTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render draft prompt: %w", err)
	}
	return buf.String(), nil
}

// BuildRevisionPrompt assembles the comparison request for a revised essay.
// The prompt tells the model not to assign a new mark.
func BuildRevisionPrompt(data RevisionData) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	if strings.TrimSpace(data.PreviousFeedback) == "" {
		return "", errors.New("revision prompt: previous feedback is empty")
	}
	data.Draft = sanitizeEssay(data.Draft)
	data.Revision = sanitizeEssay(data.Revision)

	var buf bytes.Buffer
	if err := revisionTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render revision prompt: %w", err)
	}
	return buf.String(), nil
}

func sanitizeEssay(essay string) string {
	essay = tagRegex.ReplaceAllString(essay, "")
	essay = strings.TrimSpace(essay)

	if essay == "" {
		return noEssay
	}

	if utf8.RuneCountInString(essay) > MaxEssayRunes {
		runes := []rune(essay)
		essay = string(runes[:MaxEssayRunes]) + truncatedLabel
	}

	return essay
}
