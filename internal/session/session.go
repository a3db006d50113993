// Package session emite y valida los JWT de sesión del principal humano
// (dashboard de aprobaciones). Las credenciales de agentes NUNCA son JWT:
// son tokens opacos hasheados en reposo.
package session

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

type Issuer struct {
	Iss  string
	TTL  time.Duration
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// New crea un Issuer EdDSA. Con seed vacío genera una clave efímera (dev);
// con seed, la clave es determinística para sobrevivir reinicios.
func New(iss string, ttl time.Duration, seed string) (*Issuer, error) {
	var priv ed25519.PrivateKey
	if seed == "" {
		var err error
		_, priv, err = ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
	} else {
		sum := sha256.Sum256([]byte(seed))
		priv = ed25519.NewKeyFromSeed(sum[:])
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{Iss: iss, TTL: ttl, priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// Issue firma un token de sesión para el user dado.
func (i *Issuer) Issue(userID string) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(i.TTL)
	claims := jwtv5.MapClaims{
		"iss": i.Iss,
		"sub": userID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["typ"] = "JWT"
	signed, err := tk.SignedString(i.priv)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse valida firma, issuer y expiración, y devuelve el user id (sub).
func (i *Issuer) Parse(raw string) (string, error) {
	tk, err := jwtv5.Parse(raw, func(t *jwtv5.Token) (any, error) {
		if _, ok := t.Method.(*jwtv5.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.pub, nil
	}, jwtv5.WithIssuer(i.Iss), jwtv5.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	claims, ok := tk.Claims.(jwtv5.MapClaims)
	if !ok || !tk.Valid {
		return "", errors.New("invalid session token")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("session token without subject")
	}
	return sub, nil
}
