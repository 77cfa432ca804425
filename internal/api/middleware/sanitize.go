package middleware

import (
	"net/http"
	"strings"

	"github.com/checkvibe/threatwatch/internal/util"
)

var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"cookie":              {},
	"set-cookie":          {},
	"proxy-authorization": {},
	"x-api-key":           {},
	"x-signature":         {},
	"x-forwarded-for":     {},
	"x-real-ip":           {},
}

// SanitizeHeaders returns a copy of h that is safe to log. Credentials,
// signatures and client addresses are redacted; other values are stripped of
// control characters and truncated.
func SanitizeHeaders(h http.Header) map[string][]string {
	if h == nil {
		return nil
	}
	out := make(map[string][]string, len(h))
	for k, vals := range h {
		if _, ok := sensitiveHeaders[strings.ToLower(k)]; ok {
			out[k] = []string{"<redacted>"}
			continue
		}
		clean := make([]string, 0, len(vals))
		for _, v := range vals {
			clean = append(clean, util.Truncate(util.SanitizeForLog(v), 200))
		}
		out[k] = clean
	}
	return out
}

// SanitizePath prepares a request path for logging by removing control
// characters and truncating long values. It does not include query
// parameters, so snippet tokens passed in a query never reach the logs.
func SanitizePath(p string) string {
	if i := strings.Index(p, "?"); i != -1 {
		p = p[:i]
	}
	return util.Truncate(util.SanitizeForLog(p), 200)
}
