package util

import (
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

//go:embed version.txt
var embeddedVersion string

// TokenBytes is the entropy of a raw magic link token. The transport form is
// the lowercase hex encoding, so tokens are 64 characters on the wire.
const TokenBytes = 32

// GenerateToken returns a new raw bearer token as a lowercase hex string.
// The raw value must never be persisted; callers hash it with HashToken.
func GenerateToken() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashToken computes the salted one-way hash stored in place of the raw token.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}
	return string(hash), nil
}

// CompareTokenHash reports whether the presented raw token matches the stored
// hash. bcrypt's comparison is constant-time.
func CompareTokenHash(hash string, token string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

func GetVersion() string {
	return strings.TrimSpace(embeddedVersion)
}

func GetNameAndVersion() string {
	return fmt.Sprintf("%s/%s", Name, GetVersion())
}

func NormalizeInput(text string) string {
	normalized := strings.Replace(text, "\n", " ", -1)
	normalized = html.EscapeString(normalized)
	return normalized
}

func DateTimeFormat() string {
	return "2006-01-02 15:04:05 CEST"
}

func PrettyPrint(i interface{}) string {
	s, _ := json.MarshalIndent(i, "", " ")
	return string(s)
}
