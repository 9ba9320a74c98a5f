package diff

import "testing"

func TestUnchanged(t *testing.T) {
	tests := []struct {
		name          string
		before, after string
		want          bool
	}{
		{"identical", "I like dogs.", "I like dogs.", true},
		{"whitespace only", "I like\n\ndogs. ", "  I  like dogs.", true},
		{"word changed", "I like dogs.", "I love dogs.", false},
		{"punctuation changed", "I like dogs.", "I like dogs!", false},
		{"both empty", "", "   ", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Unchanged(tt.before, tt.after); got != tt.want {
				t.Errorf("Unchanged() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWords(t *testing.T) {
	s := Words("I has a dog and a cat.", "I have a dog and a cat. They are friendly.")

	if s.WordsRemoved != 1 {
		t.Errorf("WordsRemoved = %d, want 1", s.WordsRemoved)
	}
	if s.WordsAdded != 4 {
		t.Errorf("WordsAdded = %d, want 4", s.WordsAdded)
	}

	var replaced, added bool
	for _, c := range s.Changes {
		if c.Kind == ChangeReplaced && c.Before == "has" && c.After == "have" {
			replaced = true
		}
		if c.Kind == ChangeAdded && c.After == "They are friendly." {
			added = true
		}
	}
	if !replaced {
		t.Errorf("expected has->have replacement, got %+v", s.Changes)
	}
	if !added {
		t.Errorf("expected trailing sentence addition, got %+v", s.Changes)
	}
}

func TestWordsNoChanges(t *testing.T) {
	s := Words("same text\nhere", "same   text here")
	if len(s.Changes) != 0 || s.WordsAdded != 0 || s.WordsRemoved != 0 {
		t.Errorf("expected no changes, got %+v", s)
	}
	if len(s.Lines()) != 0 {
		t.Errorf("expected no lines, got %v", s.Lines())
	}
}

func TestWordsTruncated(t *testing.T) {
	var before, after string
	for i := 0; i < MaxChanges+10; i++ {
		before += "keep drop "
		after += "keep "
	}
	s := Words(before, after)
	if len(s.Changes) != MaxChanges {
		t.Fatalf("expected %d changes, got %d", MaxChanges, len(s.Changes))
	}
	if !s.Truncated {
		t.Error("expected truncated summary")
	}
	lines := s.Lines()
	if lines[len(lines)-1] != "(more changes not listed)" {
		t.Errorf("last line = %q", lines[len(lines)-1])
	}
}

func TestChangeString(t *testing.T) {
	tests := []struct {
		c    Change
		want string
	}{
		{Change{Kind: ChangeAdded, After: "new"}, `added "new"`},
		{Change{Kind: ChangeRemoved, Before: "old"}, `removed "old"`},
		{Change{Kind: ChangeReplaced, Before: "a", After: "b"}, `replaced "a" with "b"`},
	}
	for _, tt := range tests {
		if got := tt.c.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
