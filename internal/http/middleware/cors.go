package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

const (
	corsAllowedHeaders = "Authorization, Content-Type, X-Request-Id"
	corsAllowedMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
)

// originPolicy matches request origins against the configured list. Entries
// are exact origins, "*", or subdomain patterns like "https://*.clinic.com".
type originPolicy struct {
	any      bool
	exact    map[string]struct{}
	suffixes []originSuffix
}

type originSuffix struct {
	scheme string
	suffix string
}

func newOriginPolicy(entries []string) originPolicy {
	p := originPolicy{exact: map[string]struct{}{}}
	for _, entry := range entries {
		entry = strings.TrimRight(strings.TrimSpace(entry), "/")
		switch {
		case entry == "":
		case entry == "*":
			p.any = true
		case strings.Contains(entry, "://*."):
			scheme, host, _ := strings.Cut(entry, "://*.")
			p.suffixes = append(p.suffixes, originSuffix{scheme: scheme, suffix: "." + strings.ToLower(host)})
		default:
			p.exact[strings.ToLower(entry)] = struct{}{}
		}
	}
	return p
}

func (p originPolicy) allows(origin string) bool {
	if p.any {
		return true
	}
	if _, ok := p.exact[strings.ToLower(origin)]; ok {
		return true
	}
	if len(p.suffixes) == 0 {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, s := range p.suffixes {
		if u.Scheme == s.scheme && strings.HasSuffix(host, s.suffix) {
			return true
		}
	}
	return false
}

// CORS lets the booking widget call the public endpoints from allowlisted
// origins, including subdomain patterns for clinics embedding it on their sites.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := newOriginPolicy(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			w.Header().Add("Vary", "Origin")
			if origin != "" && policy.allows(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Headers", corsAllowedHeaders)
				w.Header().Set("Access-Control-Allow-Methods", corsAllowedMethods)
				w.Header().Set("Access-Control-Expose-Headers", "X-Request-Id")
				w.Header().Set("Access-Control-Max-Age", "600")
			}

			if r.Method == http.MethodOptions && origin != "" && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
