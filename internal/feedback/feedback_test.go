package feedback

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/essaygrader/internal/model"
)

func TestExtractMark(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"comma decimal", "Good work.\nFINAL MARK: 7,5/10", "7,5/10"},
		{"dot decimal", "FINAL MARK: 8.25/10", "8.25/10"},
		{"integer", "FINAL MARK: 6/10\n", "6/10"},
		{"ten", "FINAL MARK: 10/10", "10/10"},
		{"spaces around slash", "FINAL MARK: 7,5 / 10", "7,5/10"},
		{"markdown bold label", "**FINAL MARK:** 6,0/10", "6,0/10"},
		{"markdown bold number", "FINAL MARK: **9/10**", "9/10"},
		{"lower case", "final mark: 5/10", "5/10"},
		{"final grade label", "FINAL GRADE: 4,5/10", "4,5/10"},
		{"spanish label", "Nota final: 3/10", "3/10"},
		{"bare label", "Mark: 7/10", "7/10"},
		{"last occurrence wins", "FINAL MARK: 2/10 (draft)\n...\nFINAL MARK: 6/10", "6/10"},
		{"final label preferred over bare", "Mark: 1/10 for spelling\nFINAL MARK: 8/10", "8/10"},
		{"out of scale ignored", "FINAL MARK: 15/10", model.MarkNotFound},
		{"over hundred ignored", "FINAL MARK: 7/100", model.MarkNotFound},
		{"missing", "Nice essay, keep going.", model.MarkNotFound},
		{"empty", "", model.MarkNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractMark(tt.text)
			assert.Equal(t, tt.want, got.String())
			assert.Equal(t, tt.want != model.MarkNotFound, got.Found)
		})
	}
}

func TestStripLeak(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		extra []string
		want  string
	}{
		{
			name: "no marker passes through",
			text: "  Nice work.\nFINAL MARK: 6/10  ",
			want: "Nice work.\nFINAL MARK: 6/10",
		},
		{
			name: "delimiter removed with preceding text",
			text: "Step 1: count words = 120\nFEEDBACK START:\nGreat structure.",
			want: "Great structure.",
		},
		{
			name: "last delimiter wins",
			text: "plan FEEDBACK START: scratch FEEDBACK START: Public part",
			want: "Public part",
		},
		{
			name: "heading kept",
			text: "Internal: deduct 1 for tense\nOverall Impression: clear argument.",
			want: "Overall Impression: clear argument.",
		},
		{
			name: "delimiter then heading",
			text: "notes\nFEEDBACK START:\nintro line\nOverall Impression: good.",
			want: "Overall Impression: good.",
		},
		{
			name:  "extra heading earliest wins",
			text:  "scratch\nStrengths: vocabulary\nOverall Impression: good",
			extra: []string{"Strengths:"},
			want:  "Strengths: vocabulary\nOverall Impression: good",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripLeak(tt.text, tt.extra...))
		})
	}
}

func TestStripLeakIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"plain text",
		"a FEEDBACK START: b FEEDBACK START: c Overall Impression: d",
		"Overall Impression: x\nOverall Impression: y",
		"  \nreasoning\nFEEDBACK START:\n\nOverall Impression: fine\nFINAL MARK: 6/10\n",
		"Overall Impression: first FEEDBACK START: second",
	}
	for _, in := range inputs {
		once := StripLeak(in, "Strengths:")
		twice := StripLeak(once, "Strengths:")
		assert.Equal(t, once, twice, "input %q", in)
	}
}

func TestStripLeakTrimsHeadings(t *testing.T) {
	in := "scratch\n Strengths: vocabulary\nOverall Impression: good"
	once := StripLeak(in, " Strengths: ")
	assert.Equal(t, "Strengths: vocabulary\nOverall Impression: good", once)
	assert.Equal(t, once, StripLeak(once, " Strengths: "))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantText string
		wantMark string
	}{
		{
			name:     "mark in public part",
			raw:      "count: 150 words\nFEEDBACK START:\nOverall Impression: good.\nFINAL MARK: 6,0/10",
			wantText: "Overall Impression: good.\nFINAL MARK: 6,0/10",
			wantMark: "6,0/10",
		},
		{
			name:     "echoed example in private part is ignored",
			raw:      "Private: the last line must be \"FINAL MARK: X/10\", e.g. \"FINAL MARK: 7,5/10\".\nFEEDBACK START:\nOverall Impression: good, but no mark line.",
			wantText: "Overall Impression: good, but no mark line.",
			wantMark: model.MarkNotFound,
		},
		{
			name:     "quoted example alone on a line is ignored",
			raw:      "\"FINAL MARK: 7,5/10\"\nFEEDBACK START:\nOverall Impression: fine.",
			wantText: "Overall Impression: fine.",
			wantMark: model.MarkNotFound,
		},
		{
			name:     "public mark beats private one",
			raw:      "FINAL MARK: 9/10\nFEEDBACK START:\nOverall Impression: ok.\nFINAL MARK: 5/10",
			wantText: "Overall Impression: ok.\nFINAL MARK: 5/10",
			wantMark: "5/10",
		},
		{
			name:     "stray mark line before the delimiter is recovered",
			raw:      "deductions: -1 tense\n**FINAL MARK: 8,5/10**\nFEEDBACK START:\nOverall Impression: clear.",
			wantText: "Overall Impression: clear.",
			wantMark: "8,5/10",
		},
		{
			name:     "no marker and no mark",
			raw:      "Nice essay.",
			wantText: "Nice essay.",
			wantMark: model.MarkNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.raw)
			assert.Equal(t, tt.wantText, got.Text)
			assert.Equal(t, tt.wantMark, got.Mark.String())
		})
	}
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML("**Overall Impression:** good\n\n- point one\n- point two")
	require.NoError(t, err)
	assert.Contains(t, html, "<strong>Overall Impression:</strong>")
	assert.Contains(t, html, "<li>point one</li>")

	html, err = RenderHTML("<script>alert(1)</script>")
	require.NoError(t, err)
	assert.False(t, strings.Contains(html, "<script>"), "raw HTML must not pass through: %s", html)
}
