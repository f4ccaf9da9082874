package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/omnidesk/console-server/internal/audit"
	"github.com/omnidesk/console-server/internal/config"
	apperrors "github.com/omnidesk/console-server/internal/errors"
	"github.com/omnidesk/console-server/internal/httputil"
	"github.com/omnidesk/console-server/internal/service"
)

const rateLimitWindow = time.Minute

type Limiter interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) service.LimitResult
}

// RateLimitMiddleware applies each tenant's per-minute request budget. It
// must run after AuthMiddleware.
type RateLimitMiddleware struct {
	limiter Limiter
}

func NewRateLimitMiddleware(limiter Limiter) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := GetTenant(r.Context())
		if tenant == nil {
			next.ServeHTTP(w, r)
			return
		}

		limit := tenant.RateLimitPerMin
		if limit <= 0 {
			limit = config.DefaultRateLimitPerMin
		}

		res := m.limiter.CheckLimit(r.Context(), service.TenantKey(tenant.ID), limit, rateLimitWindow)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

		if !res.Allowed {
			log.Warn().Str("tenantId", tenant.ID).Msg("rate limit exceeded")
			audit.LogFromRequest(r, audit.Event{
				Type:     audit.EventRateLimitExceed,
				TenantID: tenant.ID,
				Details:  map[string]interface{}{"limit": limit},
			})
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter(res.ResetAt)))
			httputil.WriteError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func retryAfter(resetAt time.Time) int {
	return max(1, int(time.Until(resetAt).Seconds())+1)
}
