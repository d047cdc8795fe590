package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const keyPrefixTag = "rk_"

var ErrMalformedKey = errors.New("malformed api key")

// NewAPIKey returns a fresh "prefix.secret" key, its lookup prefix and the bcrypt hash of the
// secret. Only the prefix and hash are meant to be stored.
func NewAPIKey() (plaintext, prefix, hash string, err error) {
	id := make([]byte, 6)
	if _, err = rand.Read(id); err != nil {
		return "", "", "", err
	}
	secret := make([]byte, 24)
	if _, err = rand.Read(secret); err != nil {
		return "", "", "", err
	}
	prefix = keyPrefixTag + hex.EncodeToString(id)
	encoded := base64.RawURLEncoding.EncodeToString(secret)

	hashed, err := bcrypt.GenerateFromPassword([]byte(encoded), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", err
	}
	return prefix + "." + encoded, prefix, string(hashed), nil
}

// SplitAPIKey separates the lookup prefix from the secret.
func SplitAPIKey(raw string) (prefix, secret string, err error) {
	prefix, secret, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok || !strings.HasPrefix(prefix, keyPrefixTag) || secret == "" {
		return "", "", ErrMalformedKey
	}
	return prefix, secret, nil
}

func VerifySecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
