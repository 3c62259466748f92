// Package authtoken issues and verifies the persona-bearing JWTs MCP
// clients present when opening a session.
package authtoken

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// PersonaClaims are the JWT claims an MCP client presents when opening a
// session. Subject is the caller identity; Persona is the agent persona
// the caller is requesting to act as.
type PersonaClaims struct {
	jwt.RegisteredClaims
	Persona string `json:"persona,omitempty"`
}

// ParseECKeyFromEnv parses a P-256 private key from an environment variable
// value. Accepts PEM or base64-encoded DER.
func ParseECKeyFromEnv(envValue string) (*ecdsa.PrivateKey, error) {
	if envValue == "" {
		return nil, fmt.Errorf("SHELLDONE_JWT_KEY is required — generate one with GenerateECKey")
	}
	return parseECKey(envValue)
}

// GenerateECKey creates a new P-256 private key and returns it along with
// its base64-DER encoding (suitable for storing in a config secret).
func GenerateECKey() (*ecdsa.PrivateKey, string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("generate ec key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, "", fmt.Errorf("marshal ec key: %w", err)
	}
	return key, base64.StdEncoding.EncodeToString(der), nil
}

func parseECKey(data string) (*ecdsa.PrivateKey, error) {
	if block, _ := pem.Decode([]byte(data)); block != nil {
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse pem ec key: %w", err)
		}
		return key, nil
	}
	der, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode base64 ec key: %w", err)
	}
	key, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse der ec key: %w", err)
	}
	return key, nil
}

// Issue creates an ES256-signed JWT binding subject to persona, valid for
// ttl.
func Issue(key *ecdsa.PrivateKey, subject, persona string, ttl time.Duration) (string, time.Time, error) {
	exp := time.Now().Add(ttl)
	claims := PersonaClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Persona: persona,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign jwt: %w", err)
	}
	return signed, exp, nil
}

// sealInfo is the HKDF info parameter binding derived keys to this package's
// at-rest wrapping use, distinct from any other HKDF consumer sharing the
// same passphrase.
const sealInfo = "shelldone-jwt-key-wrap"

// SealPrivateKey encrypts key's DER encoding with AES-256-GCM under a key
// derived from passphrase via HKDF-SHA256, so the signing key can be kept
// on disk as a settings-file secret instead of only as an env var. Returns
// base64(salt || nonce || ciphertext+tag).
func SealPrivateKey(key *ecdsa.PrivateKey, passphrase string) (string, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("marshal ec key: %w", err)
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	gcm, err := deriveGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, der, nil)
	return base64.StdEncoding.EncodeToString(append(salt, sealed...)), nil
}

// OpenPrivateKey reverses SealPrivateKey, recovering the original key.
func OpenPrivateKey(sealedB64, passphrase string) (*ecdsa.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(sealedB64)
	if err != nil {
		return nil, fmt.Errorf("decode sealed key: %w", err)
	}
	if len(raw) < 32 {
		return nil, fmt.Errorf("sealed key too short")
	}
	salt, rest := raw[:32], raw[32:]

	gcm, err := deriveGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	if len(rest) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed key missing nonce")
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	der, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed key: %w", err)
	}
	key, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse unwrapped key: %w", err)
	}
	return key, nil
}

func deriveGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	kdf := hkdf.New(sha256.New, []byte(passphrase), salt, []byte(sealInfo))
	aesKey := make([]byte, 32)
	if _, err := io.ReadFull(kdf, aesKey); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	return cipher.NewGCM(block)
}

// Verify checks an ES256 JWT's signature and expiry and returns its claims.
func Verify(pubKey *ecdsa.PublicKey, tokenString string) (*PersonaClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &PersonaClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return pubKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse jwt: %w", err)
	}
	claims, ok := token.Claims.(*PersonaClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid jwt claims")
	}
	return claims, nil
}
