package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brokkr-io/brokkr/internal/broker/store/model"
	"go.uber.org/zap"
)

type stubLookup struct {
	byHash map[string]*model.Principal
}

func (s *stubLookup) LookupByPAKHash(ctx context.Context, hash string) (*model.Principal, error) {
	return s.byHash[hash], nil
}

func TestMiddlewareAttachesAuthContext(t *testing.T) {
	plaintext, hash, err := GeneratePAK(model.PrincipalAgent)
	if err != nil {
		t.Fatalf("generate pak: %v", err)
	}

	lookup := &stubLookup{byHash: map[string]*model.Principal{
		hash: {ID: "agent-1", Kind: model.PrincipalAgent, Name: "a1", Lifecycle: model.AgentActive},
	}}
	mw := NewMiddleware(lookup, zap.NewNop())

	var got *AuthContext
	h := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents/agent-1/target-state", nil)
	req.Header.Set("Authorization", "Bearer "+plaintext)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got == nil || got.PrincipalID != "agent-1" {
		t.Fatalf("expected auth context for agent-1, got %+v", got)
	}
}

func TestMiddlewareRejectsMissingBearer(t *testing.T) {
	mw := NewMiddleware(&stubLookup{byHash: map[string]*model.Principal{}}, zap.NewNop())
	h := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestMiddlewareRejectsInactiveAgent(t *testing.T) {
	plaintext, hash, _ := GeneratePAK(model.PrincipalAgent)
	lookup := &stubLookup{byHash: map[string]*model.Principal{
		hash: {ID: "agent-2", Kind: model.PrincipalAgent, Lifecycle: model.AgentInactive},
	}}
	mw := NewMiddleware(lookup, zap.NewNop())
	h := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run for inactive agent")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents/agent-2/target-state", nil)
	req.Header.Set("Authorization", "Bearer "+plaintext)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for inactive agent, got %d", w.Code)
	}
}

func TestRequireRoleForbidsWrongKind(t *testing.T) {
	ctx := context.WithValue(context.Background(), authContextKey, &AuthContext{Kind: model.PrincipalAgent, PrincipalID: "a1"})
	h := RequireRole(RoleAdmin, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	h(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestHashPAKDeterministic(t *testing.T) {
	if HashPAK("bak_agt_abc") != HashPAK("bak_agt_abc") {
		t.Fatal("expected deterministic hash")
	}
	if HashPAK("bak_agt_abc") == HashPAK("bak_agt_abd") {
		t.Fatal("expected distinct hashes for distinct plaintexts")
	}
}
