package rubric

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	l, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "embedded", l.Source)
	assert.NotEmpty(t, l.Hash)
	assert.NotEmpty(t, l.Rubric.Task)
	assert.Len(t, l.Rubric.RequiredPoints, 5)
	assert.Contains(t, l.Rubric.OutputFormat, "FINAL MARK:")
	assert.Contains(t, l.Rubric.OutputFormat, "FEEDBACK START:")
	assert.Equal(t, 4, l.Rubric.MaxStudents)
	assert.True(t, l.Rubric.HasGroup("1A"))
	assert.False(t, l.Rubric.HasGroup("9Z"))
}

func writeRubric(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rubric.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeRubric(t, `
label = "  Letter  "
task = "Write a letter."
rules = "Mark out of 10."
required_points = ["greeting", "  ", "sign-off"]
leak_markers = [" Strengths: ", "", "\tNotes:"]
`)
	l, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, l.Source)
	assert.Equal(t, "Letter", l.Rubric.Label)
	assert.Equal(t, []string{"greeting", "sign-off"}, l.Rubric.RequiredPoints)
	assert.Equal(t, []string{"Strengths:", "Notes:"}, l.Rubric.LeakMarkers)
	assert.Equal(t, MaxStudentsLimit, l.Rubric.MaxStudents, "max_students defaults to the form limit")
	assert.True(t, l.Rubric.HasGroup("anything"), "no group list allows any group")
}

func TestLoadEmptyPathUsesDefault(t *testing.T) {
	l, err := Load("")
	require.NoError(t, err)
	d, err := Default()
	require.NoError(t, err)
	assert.Equal(t, d.Hash, l.Hash)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"missing task", `label = "x"
rules = "r"`, "task is required"},
		{"too many students", `label = "x"
task = "t"
rules = "r"
max_students = 6`, "max_students must be between 1 and 4"},
		{"duplicate group", `label = "x"
task = "t"
rules = "r"
groups = ["1A", "1A"]`, `duplicate group "1A"`},
		{"unknown field", `label = "x"
task = "t"
rules = "r"
colour = "blue"`, "parse rubric"},
		{"bad toml", `label = = "x"`, "parse rubric"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeRubric(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
