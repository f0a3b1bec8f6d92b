package handler

import (
	"net/http"
	"strings"

	"github.com/samber/lo"
)

// OriginChecker builds the websocket origin policy from the CORS origin list.
// An empty list or "*" allows any origin; requests without Origin (non-browser
// clients) are always allowed.
func OriginChecker(allowed []string) func(r *http.Request) bool {
	allowed = lo.FilterMap(allowed, func(o string, _ int) (string, bool) {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		return o, o != ""
	})
	if len(allowed) == 0 || lo.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		return lo.ContainsBy(allowed, func(o string) bool { return strings.EqualFold(o, origin) })
	}
}
