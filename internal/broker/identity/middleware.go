package identity

import (
	"context"
	"net/http"
	"strings"

	"github.com/brokkr-io/brokkr/internal/broker/store/model"
	"go.uber.org/zap"
)

type contextKey string

const authContextKey contextKey = "brokkr.auth"

// AuthContext is attached to every authenticated request.
type AuthContext struct {
	Kind        model.PrincipalKind
	PrincipalID string
	Name        string
	ClusterName string
}

// PrincipalLookup resolves a PAK hash to the principal that owns it. The
// postgres store satisfies this across its admin/agent/generator rows.
type PrincipalLookup interface {
	LookupByPAKHash(ctx context.Context, hash string) (*model.Principal, error)
}

// Middleware extracts the bearer PAK from each request, hashes it, and
// attaches an AuthContext on success.
type Middleware struct {
	lookup PrincipalLookup
	logger *zap.Logger
}

// NewMiddleware creates an auth middleware backed by lookup.
func NewMiddleware(lookup PrincipalLookup, logger *zap.Logger) *Middleware {
	return &Middleware{lookup: lookup, logger: logger}
}

// Wrap authenticates the request and attaches an AuthContext, or responds
// Unauthenticated without calling next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pak, ok := bearerToken(r)
		if !ok {
			writeUnauthenticated(w)
			return
		}

		hash := HashPAK(pak)
		principal, err := m.lookup.LookupByPAKHash(r.Context(), hash)
		if err != nil || principal == nil {
			if err != nil {
				m.logger.Debug("pak lookup failed", zap.Error(err))
			}
			writeUnauthenticated(w)
			return
		}
		if principal.Kind == model.PrincipalAgent && principal.Lifecycle != model.AgentActive {
			// INACTIVE agents are invisible to targeting and may not
			// authenticate at all (spec invariant #6).
			writeUnauthenticated(w)
			return
		}

		ac := &AuthContext{
			Kind:        principal.Kind,
			PrincipalID: principal.ID,
			Name:        principal.Name,
			ClusterName: principal.ClusterName,
		}
		ctx := context.WithValue(r.Context(), authContextKey, ac)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole wraps a handler so it 403s unless the authenticated
// principal's kind satisfies role.
func RequireRole(role Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac := FromContext(r.Context())
		if ac == nil {
			writeUnauthenticated(w)
			return
		}
		if !role.AllowsKind(ac.Kind) {
			writeErr(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	}
}

// FromContext returns the AuthContext attached by Middleware, or nil.
func FromContext(ctx context.Context) *AuthContext {
	ac, _ := ctx.Value(authContextKey).(*AuthContext)
	return ac
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func writeUnauthenticated(w http.ResponseWriter) {
	writeErr(w, http.StatusUnauthorized, "unauthenticated")
}

func writeErr(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"code":"` + code + `","message":"` + code + `"}`))
}
