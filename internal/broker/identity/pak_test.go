package identity

import (
	"testing"

	"github.com/brokkr-io/brokkr/internal/broker/store/model"
)

func TestGeneratePAKPrefixesByRole(t *testing.T) {
	cases := []struct {
		kind   model.PrincipalKind
		prefix string
	}{
		{model.PrincipalAdmin, "bak_adm_"},
		{model.PrincipalGenerator, "bak_gen_"},
		{model.PrincipalAgent, "bak_agt_"},
	}

	for _, c := range cases {
		plaintext, hash, err := GeneratePAK(c.kind)
		if err != nil {
			t.Fatalf("generate pak for %s: %v", c.kind, err)
		}
		if len(plaintext) <= len(c.prefix) || plaintext[:len(c.prefix)] != c.prefix {
			t.Fatalf("expected prefix %q, got %q", c.prefix, plaintext)
		}
		if hash != HashPAK(plaintext) {
			t.Fatalf("hash mismatch for generated PAK")
		}
	}
}

func TestGeneratePAKUnknownKind(t *testing.T) {
	if _, _, err := GeneratePAK(model.PrincipalKind("bogus")); err == nil {
		t.Fatal("expected error for unknown principal kind")
	}
}

func TestHashPAKDeterministicAndDistinctAcrossPrefixes(t *testing.T) {
	suffix := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	h1 := HashPAK("bak_adm_" + suffix)
	h2 := HashPAK("bak_agt_" + suffix)
	if h1 == h2 {
		t.Fatal("expected distinct hashes for identical suffix under different role prefixes")
	}
	if HashPAK("bak_adm_"+suffix) != h1 {
		t.Fatal("expected HashPAK to be deterministic")
	}
}

func TestPrefixTruncatesSafely(t *testing.T) {
	full := "bak_adm_deadbeef"
	if got := Prefix(full); got != full[:12] {
		t.Fatalf("expected 12-char prefix %q, got %q", full[:12], got)
	}
	short := "bak_x"
	if got := Prefix(short); got != short {
		t.Fatalf("expected short plaintext returned unchanged, got %q", got)
	}
}

func TestRoleAllowsKind(t *testing.T) {
	cases := []struct {
		role Role
		kind model.PrincipalKind
		want bool
	}{
		{RoleAny, model.PrincipalAgent, true},
		{RoleAdmin, model.PrincipalAdmin, true},
		{RoleAdmin, model.PrincipalAgent, false},
		{RoleGenerator, model.PrincipalGenerator, true},
		{RoleGenerator, model.PrincipalAdmin, true},
		{RoleGenerator, model.PrincipalAgent, false},
		{RoleAgent, model.PrincipalAgent, true},
		{RoleAgent, model.PrincipalGenerator, false},
	}
	for _, c := range cases {
		if got := c.role.AllowsKind(c.kind); got != c.want {
			t.Fatalf("%s.AllowsKind(%s) = %v, want %v", c.role, c.kind, got, c.want)
		}
	}
}
