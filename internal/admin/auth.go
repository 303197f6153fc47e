package admin

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the cost used by HashToken.
const DefaultBcryptCost = 10

// ErrNoManagementToken is returned when neither a token nor a token hash is configured.
var ErrNoManagementToken = errors.New("management token not configured")

// TokenAuth checks management bearer tokens against a plaintext token or a bcrypt hash.
type TokenAuth struct {
	token string
	hash  []byte
}

// NewTokenAuth builds a TokenAuth. When both are set the hash wins.
func NewTokenAuth(token, hash string) (*TokenAuth, error) {
	if hash != "" {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("invalid management token hash: %w", err)
		}
		return &TokenAuth{hash: []byte(hash)}, nil
	}
	if token == "" {
		return nil, ErrNoManagementToken
	}
	return &TokenAuth{token: token}, nil
}

// Verify reports whether presented matches the configured secret.
func (a *TokenAuth) Verify(presented string) bool {
	if a == nil || presented == "" {
		return false
	}
	if a.hash != nil {
		return bcrypt.CompareHashAndPassword(a.hash, bcryptInput(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(a.token)) == 1
}

// HashToken returns a bcrypt hash suitable for MANAGEMENT_TOKEN_HASH.
func HashToken(token string, cost int) (string, error) {
	if token == "" {
		return "", errors.New("token cannot be empty")
	}
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	hash, err := bcrypt.GenerateFromPassword(bcryptInput(token), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}
	return string(hash), nil
}

// bcrypt only reads 72 bytes; longer tokens are pre-hashed.
func bcryptInput(token string) []byte {
	input := []byte(token)
	if len(input) > 72 {
		sum := sha256.Sum256(input)
		input = sum[:]
	}
	return input
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
