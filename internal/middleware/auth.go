package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/omnidesk/console-server/internal/audit"
	apperrors "github.com/omnidesk/console-server/internal/errors"
	"github.com/omnidesk/console-server/internal/httputil"
	"github.com/omnidesk/console-server/internal/model"
	"github.com/omnidesk/console-server/internal/util"
)

type contextKey string

const TenantContextKey contextKey = "tenant"

func GetTenant(ctx context.Context) *model.Tenant {
	if tenant, ok := ctx.Value(TenantContextKey).(*model.Tenant); ok {
		return tenant
	}
	return nil
}

func WithTenant(ctx context.Context, tenant *model.Tenant) context.Context {
	return context.WithValue(ctx, TenantContextKey, tenant)
}

type TenantFinder interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Tenant, error)
}

// AuthMiddleware resolves the bearer token to a tenant. Lookups are cached by
// token hash for a short TTL; unknown tokens are never cached.
type AuthMiddleware struct {
	tenants TenantFinder
	cache   *expirable.LRU[string, *model.Tenant]
}

func NewAuthMiddleware(tenants TenantFinder, cacheSize int, cacheTTL time.Duration) *AuthMiddleware {
	return &AuthMiddleware{
		tenants: tenants,
		cache:   expirable.NewLRU[string, *model.Tenant](cacheSize, nil, cacheTTL),
	}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			m.reject(w, r, apperrors.Unauthorized("Missing authentication token"), "missing_token")
			return
		}

		tenant, err := m.lookup(r.Context(), util.HashToken(token))
		if err != nil {
			appErr := apperrors.Internal("Authentication failed").WithCause(err)
			log.Error().Err(appErr).Msg("auth middleware: database error")
			httputil.WriteError(w, appErr)
			return
		}

		if tenant == nil {
			log.Warn().Str("token", util.MaskToken(token)).Msg("auth middleware: invalid token attempt")
			m.reject(w, r, apperrors.InvalidToken("Invalid token"), "invalid_token")
			return
		}

		if tenant.DisabledAt != nil {
			m.reject(w, r, apperrors.TenantDisabled(), "tenant_disabled")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenant)))
	})
}

// Forget drops a cached token so the next request hits the database.
func (m *AuthMiddleware) Forget(tokenHash string) {
	m.cache.Remove(tokenHash)
}

func (m *AuthMiddleware) lookup(ctx context.Context, tokenHash string) (*model.Tenant, error) {
	if tenant, ok := m.cache.Get(tokenHash); ok {
		return tenant, nil
	}

	tenant, err := m.tenants.FindByTokenHash(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if tenant != nil {
		m.cache.Add(tokenHash, tenant)
	}
	return tenant, nil
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, err *apperrors.AppError, reason string) {
	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventAuthFailure,
		Details: map[string]interface{}{"reason": reason, "path": r.URL.Path},
	})
	httputil.WriteError(w, err)
}

// extractToken reads the bearer header, falling back to the token query
// parameter for EventSource clients that cannot set headers.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}

	return r.URL.Query().Get("token")
}
