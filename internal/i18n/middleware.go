package i18n

import "net/http"

// Auto selects the language from each request's Accept-Language header.
const Auto = "auto"

// Middleware injects a localizer into every request context. With lang set
// to Auto the language is negotiated per request; otherwise it is fixed.
func Middleware(lang string) func(http.Handler) http.Handler {
	fixed := NewLocalizer(lang)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loc, chosen := fixed, lang
			if lang == Auto {
				chosen = Negotiate(r.Header.Get("Accept-Language"))
				loc = NewLocalizer(chosen)
			}
			ctx := WithLang(WithLocalizer(r.Context(), loc), chosen)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
