package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// Prefijos para cada clase de credencial que emitimos. El plaintext solo
// existe en la respuesta que lo emite; en DB siempre se guarda el SHA-256.
const (
	PrefixAgentSecret  = "rc_sec_"
	PrefixClaim        = "rc_claim_"
	PrefixExchangeCode = "rc_xchg_"
	PrefixAccessToken  = "rc_at_"
	PrefixRefreshToken = "rc_rt_"
	PrefixApproval     = "rc_appr_"
)

// GenerateOpaque genera un token opaco aleatorio (base64url sin padding) con
// el prefijo dado.
func GenerateOpaque(prefix string, nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// SHA256Base64URL devuelve sha256(input) en base64url sin padding (para guardar en DB).
func SHA256Base64URL(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// SHA256Hex devuelve sha256(input) en hexadecimal.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum)
}

// HashEqual compara dos hashes en tiempo constante.
func HashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
