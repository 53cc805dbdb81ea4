// Package identity implements PAK (Prefixed API Key) issuance, hashing,
// and the authentication middleware that attaches an AuthContext to every
// request.
package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/brokkr-io/brokkr/internal/broker/store/model"
)

// rolePrefix distinguishes a PAK's owning principal kind at a glance, the
// same way the teacher's "lgk_" prefix flagged a Legator key.
var rolePrefix = map[model.PrincipalKind]string{
	model.PrincipalAdmin:     "bak_adm_",
	model.PrincipalGenerator: "bak_gen_",
	model.PrincipalAgent:     "bak_agt_",
}

// GeneratePAK returns a new plaintext PAK for the given principal kind and
// its canonical hash. The plaintext is returned to the caller exactly once;
// only the hash is ever persisted (spec §4.1, invariant #2).
func GeneratePAK(kind model.PrincipalKind) (plaintext string, hash string, err error) {
	prefix, ok := rolePrefix[kind]
	if !ok {
		return "", "", fmt.Errorf("identity: unknown principal kind %q", kind)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("identity: generate random key material: %w", err)
	}

	plaintext = prefix + hex.EncodeToString(buf)
	return plaintext, HashPAK(plaintext), nil
}

// HashPAK computes the canonical hash used for PAK lookup.
//
// Invariant #2 requires an O(log n) hash-indexed lookup, which rules out a
// per-call-salted scheme like bcrypt (there is no way to index a bcrypt
// hash without iterating every row to compare). SHA-256 over the canonical
// encoding — which includes the role prefix, so identical suffixes under
// different prefixes never collide — gives a deterministic, indexable
// lookup key instead.
func HashPAK(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Prefix returns the first characters of a plaintext PAK, safe to log or
// display for diagnostics without reconstructing the secret.
func Prefix(plaintext string) string {
	const n = 12
	if len(plaintext) <= n {
		return plaintext
	}
	return plaintext[:n]
}
