package i18n

import (
	"net/http"

	"golang.org/x/text/language"
)

// Middleware injects a localizer into every request context. The browser's
// Accept-Language header picks among the loaded locales; defaultLang wins
// when nothing matches.
func Middleware(defaultLang string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lang := defaultLang
			if accept := r.Header.Get("Accept-Language"); accept != "" && matcher != nil {
				tag, _ := language.MatchStrings(matcher, accept)
				base, _ := tag.Base()
				lang = base.String()
			}
			ctx := WithLocalizer(r.Context(), NewLocalizer(lang, defaultLang))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
