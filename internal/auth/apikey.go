package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/knoguchi/ragquery/internal/pipeline"
	"github.com/knoguchi/ragquery/internal/tenant"
)

// APIKeyHeader is the HTTP header carrying a tenant-scoped API key for
// service-to-service calls.
const APIKeyHeader = "X-API-Key"

type contextKey string

const callerContextKey contextKey = "caller"

// Authenticator resolves a pipeline.CallerContext from an inbound HTTP
// request, either via a bearer JWT or a tenant API key, and is the sole
// entry point into CallerContext construction (C1).
type Authenticator struct {
	jwtManager  *JWTManager
	tenants     *tenant.Service
	adminAPIKey string
}

// NewAuthenticator builds an Authenticator.
func NewAuthenticator(jwtManager *JWTManager, tenants *tenant.Service, adminAPIKey string) *Authenticator {
	return &Authenticator{jwtManager: jwtManager, tenants: tenants, adminAPIKey: adminAPIKey}
}

// Middleware authenticates every request and stores the resolved
// CallerContext, returning 401 on missing/invalid credentials. Admin-only
// routes are left to the handler to check via IsAdmin.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := a.resolve(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), callerContextKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) resolve(r *http.Request) (pipeline.CallerContext, error) {
	if bearer := r.Header.Get("Authorization"); bearer != "" {
		token := strings.TrimPrefix(bearer, "Bearer ")
		token = strings.TrimSpace(token)
		claims, err := a.jwtManager.ValidateToken(token)
		if err != nil {
			return pipeline.CallerContext{}, ErrInvalidToken
		}
		return pipeline.CallerContext{
			TenantID:  claims.TenantID,
			UserID:    claims.Subject,
			GroupIDs:  claims.GroupIDs,
			Languages: claims.Languages,
		}, nil
	}

	apiKey := strings.TrimSpace(r.Header.Get(APIKeyHeader))
	if apiKey == "" {
		return pipeline.CallerContext{}, ErrMissingCredentials
	}
	if a.adminAPIKey != "" && apiKey == a.adminAPIKey {
		return pipeline.CallerContext{TenantID: "*", UserID: "admin"}, nil
	}
	t, err := a.tenants.GetByAPIKey(r.Context(), apiKey)
	if err != nil {
		return pipeline.CallerContext{}, ErrInvalidToken
	}
	return pipeline.CallerContext{TenantID: t.ID.String(), UserID: "service"}, nil
}

// FromContext extracts the CallerContext stored by Middleware.
func FromContext(ctx context.Context) (pipeline.CallerContext, bool) {
	c, ok := ctx.Value(callerContextKey).(pipeline.CallerContext)
	return c, ok
}

// IsAdmin reports whether the caller authenticated with the admin API key.
func IsAdmin(c pipeline.CallerContext) bool {
	return c.TenantID == "*" && c.UserID == "admin"
}
