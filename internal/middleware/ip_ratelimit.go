package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/omnidesk/console-server/internal/errors"
	"github.com/omnidesk/console-server/internal/httputil"
)

// IPRateLimitMiddleware throttles by client address before authentication,
// which bounds token guessing.
type IPRateLimitMiddleware struct {
	limiter Limiter
	limit   int
	window  time.Duration
	prefix  string
}

func NewIPRateLimitMiddleware(limiter Limiter, limit int, window time.Duration, prefix string) *IPRateLimitMiddleware {
	return &IPRateLimitMiddleware{
		limiter: limiter,
		limit:   limit,
		window:  window,
		prefix:  prefix,
	}
}

func (m *IPRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := fmt.Sprintf("ip:%s:%s", m.prefix, clientIP(r))
		res := m.limiter.CheckLimit(r.Context(), key, m.limit, m.window)

		if !res.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter(res.ResetAt)))
			httputil.WriteError(w, apperrors.New(apperrors.ErrCodeRateLimitExceeded,
				"Too many requests. Please try again later."))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
