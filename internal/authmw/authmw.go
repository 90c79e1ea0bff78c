// Package authmw guards the case API with static bearer tokens.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/linnemanlabs/go-core/log"
)

const scheme = "Bearer "

// BearerToken returns middleware that accepts a request when its
// Authorization header carries any of the given tokens. Empty tokens are
// ignored; with none left the middleware passes every request through, so
// deployments without an API token keep working. Passing more than one
// token allows rotation without downtime.
func BearerToken(tokens ...string) func(http.Handler) http.Handler {
	var accepted [][]byte
	for _, t := range tokens {
		if t != "" {
			accepted = append(accepted, []byte(t))
		}
	}

	return func(next http.Handler) http.Handler {
		if len(accepted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, scheme) {
				reject(w, r, "missing or malformed authorization header")
				return
			}

			if !matchAny([]byte(auth[len(scheme):]), accepted) {
				reject(w, r, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// matchAny compares against every token so timing does not reveal which
// one, if any, matched.
func matchAny(got []byte, accepted [][]byte) bool {
	ok := 0
	for _, want := range accepted {
		ok |= subtle.ConstantTimeCompare(got, want)
	}
	return ok == 1
}

func reject(w http.ResponseWriter, r *http.Request, reason string) {
	log.FromContext(r.Context()).Warn(r.Context(), "unauthorized api request", "reason", reason, "path", r.URL.Path)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="wardwatch"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + reason + `"}`))
}
