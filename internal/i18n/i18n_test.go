package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "AppTitle")
	if got != "Essay Feedback" {
		t.Errorf("T(AppTitle) = %q, want 'Essay Feedback'", got)
	}

	got = T(ctx, "SubmitDraft")
	if got != "Submit First Draft for Grade" {
		t.Errorf("T(SubmitDraft) = %q", got)
	}
}

func TestTranslateSpanish(t *testing.T) {
	ctx := initLang(t, "es")

	got := T(ctx, "Mark")
	if got != "Nota" {
		t.Errorf("T(Mark) = %q, want 'Nota'", got)
	}

	got = T(ctx, "NewSubmission")
	if got != "Nueva entrega" {
		t.Errorf("T(NewSubmission) = %q, want 'Nueva entrega'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "WordsN", 1); got != "1 word" {
		t.Errorf("Tp(WordsN, 1) = %q, want '1 word'", got)
	}
	if got := Tp(ctx, "WordsN", 90); got != "90 words" {
		t.Errorf("Tp(WordsN, 90) = %q, want '90 words'", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "StudentN", map[string]any{"N": 2})
	if got != "Student 2" {
		t.Errorf("Td(StudentN, N=2) = %q, want 'Student 2'", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestLocalesHaveSameKeys(t *testing.T) {
	initLang(t, "en")
	en := WithLocalizer(context.Background(), NewLocalizer("en"))
	es := WithLocalizer(context.Background(), NewLocalizer("es"))
	for _, id := range []string{"AppTitle", "Busy", "ErrRevisionUnchanged", "ErrTooManyStudents", "LoginError"} {
		if T(en, id) == T(es, id) {
			t.Errorf("%s is not translated in es", id)
		}
	}
}

func TestMiddlewareNegotiates(t *testing.T) {
	if err := Init(Auto); err != nil {
		t.Fatalf("Init: %v", err)
	}
	var title, lang string
	h := Middleware(Auto)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		title = T(r.Context(), "Mark")
		lang = Lang(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "es-ES,es;q=0.9,en;q=0.8")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if title != "Nota" || lang != "es" {
		t.Errorf("got %q/%q, want Nota/es", title, lang)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "de-DE")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if title != "Mark" || lang != "en" {
		t.Errorf("got %q/%q, want Mark/en", title, lang)
	}
}
