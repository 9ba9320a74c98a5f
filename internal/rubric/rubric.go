// Package rubric loads the static grading configuration from TOML.
package rubric

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/pavelanni/essaygrader/internal/model"
)

// MaxStudentsLimit is the largest number of name fields the form offers.
const MaxStudentsLimit = 4

//go:embed default.toml
var defaultRubric []byte

// Loaded is a validated rubric together with the hash of its source bytes.
type Loaded struct {
	Rubric model.Rubric
	Hash   string
	Source string
}

// Default returns the embedded rubric.
func Default() (Loaded, error) {
	return parse(defaultRubric, "embedded")
}

// Load reads a rubric file. An empty path selects the embedded rubric.
func Load(path string) (Loaded, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, fmt.Errorf("read rubric %s: %w", path, err)
	}
	return parse(data, path)
}

func parse(data []byte, source string) (Loaded, error) {
	var r model.Rubric
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		return Loaded{}, fmt.Errorf("parse rubric %s: %w", source, err)
	}
	normalize(&r)
	if err := Validate(r); err != nil {
		return Loaded{}, fmt.Errorf("rubric %s: %w", source, err)
	}
	sum := sha256.Sum256(data)
	return Loaded{Rubric: r, Hash: hex.EncodeToString(sum[:]), Source: source}, nil
}

func normalize(r *model.Rubric) {
	r.Label = strings.TrimSpace(r.Label)
	r.Task = strings.TrimSpace(r.Task)
	r.Rules = strings.TrimSpace(r.Rules)
	r.OutputFormat = strings.TrimSpace(r.OutputFormat)
	if r.MaxStudents == 0 {
		r.MaxStudents = MaxStudentsLimit
	}
	points := r.RequiredPoints[:0]
	for _, p := range r.RequiredPoints {
		if p = strings.TrimSpace(p); p != "" {
			points = append(points, p)
		}
	}
	r.RequiredPoints = points

	markers := r.LeakMarkers[:0]
	for _, m := range r.LeakMarkers {
		if m = strings.TrimSpace(m); m != "" {
			markers = append(markers, m)
		}
	}
	r.LeakMarkers = markers
}

// Validate checks that a rubric has everything the prompts need.
func Validate(r model.Rubric) error {
	var errs []error
	if r.Label == "" {
		errs = append(errs, errors.New("label is required"))
	}
	if r.Task == "" {
		errs = append(errs, errors.New("task is required"))
	}
	if r.Rules == "" {
		errs = append(errs, errors.New("rules are required"))
	}
	if r.MaxStudents < 1 || r.MaxStudents > MaxStudentsLimit {
		errs = append(errs, fmt.Errorf("max_students must be between 1 and %d, got %d", MaxStudentsLimit, r.MaxStudents))
	}
	seen := make(map[string]bool, len(r.Groups))
	for _, g := range r.Groups {
		if strings.TrimSpace(g) == "" {
			errs = append(errs, errors.New("groups must not contain blank entries"))
			continue
		}
		if seen[g] {
			errs = append(errs, fmt.Errorf("duplicate group %q", g))
		}
		seen[g] = true
	}
	return errors.Join(errs...)
}
