// Package diff summarises how a revised essay differs from its draft.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	ChangeAdded    = "added"
	ChangeRemoved  = "removed"
	ChangeReplaced = "replaced"
)

// Change is one contiguous run of edited words.
type Change struct {
	Kind   string `json:"kind"`
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
}

func (c Change) String() string {
	switch c.Kind {
	case ChangeAdded:
		return fmt.Sprintf("added %q", c.After)
	case ChangeRemoved:
		return fmt.Sprintf("removed %q", c.Before)
	default:
		return fmt.Sprintf("replaced %q with %q", c.Before, c.After)
	}
}

// Summary is the word-level comparison of a draft and its revision.
type Summary struct {
	Changes      []Change `json:"changes"`
	WordsAdded   int      `json:"words_added"`
	WordsRemoved int      `json:"words_removed"`
	Truncated    bool     `json:"truncated"`
}

// MaxChanges caps the number of changes kept in a Summary.
const MaxChanges = 40

// Unchanged reports whether two texts contain the same words in the same order.
func Unchanged(before, after string) bool {
	return strings.Join(strings.Fields(before), " ") == strings.Join(strings.Fields(after), " ")
}

// Words compares before and after word by word. Whitespace and line breaks
// are not changes.
func Words(before, after string) Summary {
	dmp := diffmatchpatch.New()
	// One word per line lets the line-mode diff work on words.
	b := wordLines(before)
	a := wordLines(after)
	bChars, aChars, lines := dmp.DiffLinesToChars(b, a)
	diffs := dmp.DiffMain(bChars, aChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var s Summary
	var pending Change
	flush := func() {
		if pending.Before == "" && pending.After == "" {
			return
		}
		switch {
		case pending.Before == "":
			pending.Kind = ChangeAdded
		case pending.After == "":
			pending.Kind = ChangeRemoved
		default:
			pending.Kind = ChangeReplaced
		}
		if len(s.Changes) < MaxChanges {
			s.Changes = append(s.Changes, pending)
		} else {
			s.Truncated = true
		}
		pending = Change{}
	}

	for _, d := range diffs {
		words := strings.Fields(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
		case diffmatchpatch.DiffDelete:
			s.WordsRemoved += len(words)
			pending.Before = join(pending.Before, words)
		case diffmatchpatch.DiffInsert:
			s.WordsAdded += len(words)
			pending.After = join(pending.After, words)
		}
	}
	flush()
	return s
}

// Lines renders the changes as short human-readable lines.
func (s Summary) Lines() []string {
	out := make([]string, 0, len(s.Changes)+1)
	for _, c := range s.Changes {
		out = append(out, c.String())
	}
	if s.Truncated {
		out = append(out, "(more changes not listed)")
	}
	return out
}

func wordLines(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return strings.Join(fields, "\n") + "\n"
}

func join(prefix string, words []string) string {
	if len(words) == 0 {
		return prefix
	}
	if prefix == "" {
		return strings.Join(words, " ")
	}
	return prefix + " " + strings.Join(words, " ")
}
