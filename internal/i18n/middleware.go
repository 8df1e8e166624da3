package i18n

import (
	"net/http"

	"golang.org/x/text/language"
)

// Middleware puts a localizer in every request context and reports the
// chosen language in Content-Language. The lang query parameter wins over
// Accept-Language, which wins over defaultLang. Languages without
// messages are skipped.
func Middleware(defaultLang string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lang := Negotiate(defaultLang, r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"))
			w.Header().Set("Content-Language", lang)
			next.ServeHTTP(w, r.WithContext(WithLocalizer(r.Context(), NewLocalizer(lang))))
		})
	}
}

// Negotiate picks the first of prefs that matches a loaded language. Each
// entry may be a tag or an Accept-Language header value.
func Negotiate(defaultLang string, prefs ...string) string {
	supported := Languages()
	if len(supported) == 0 {
		return defaultLang
	}
	matcher := language.NewMatcher(supported)
	for _, p := range prefs {
		if p == "" {
			continue
		}
		tags, _, err := language.ParseAcceptLanguage(p)
		if err != nil || len(tags) == 0 {
			continue
		}
		_, idx, conf := matcher.Match(tags...)
		if conf != language.No {
			return supported[idx].String()
		}
	}
	return defaultLang
}
