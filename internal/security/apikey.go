// Package security generates and verifies tenant API keys and the admin
// secret. API keys are shown to the caller once at provisioning; only a
// deterministic sha256 hash is stored so the directory can look keys up by
// index. The admin secret uses bcrypt since it is verified, never queried.
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const (
	apiKeyPrefix  = "aelus_"
	apiKeyLength  = 32
	apiKeyCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateAPIKey returns a new random key of the form aelus_<32 chars>.
func GenerateAPIKey() (string, error) {
	out := make([]byte, apiKeyLength)
	max := big.NewInt(int64(len(apiKeyCharset)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate api key: %w", err)
		}
		out[i] = apiKeyCharset[n.Int64()]
	}
	return apiKeyPrefix + string(out), nil
}

// HashAPIKey returns the hex sha256 of the key, safe to persist and index.
func HashAPIKey(apiKey string) string {
	h := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(h[:])
}

// VerifyAPIKey reports whether apiKey matches the stored hash.
func VerifyAPIKey(apiKey, hash string) bool {
	computed := HashAPIKey(apiKey)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// HashAdminSecret bcrypt-hashes the admin API secret for storage in config.
func HashAdminSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash admin secret: %w", err)
	}
	return string(hash), nil
}

// VerifyAdminSecret reports whether secret matches the configured bcrypt hash.
func VerifyAdminSecret(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
