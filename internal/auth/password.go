package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrMissingPasswordHash indicates that no admin password hash is configured.
	ErrMissingPasswordHash = errors.New("password verifier: hash required")
	// ErrInvalidPasswordHash indicates that the configured hash is not a bcrypt hash.
	ErrInvalidPasswordHash = errors.New("password verifier: invalid bcrypt hash")

	digestPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// Authorizer decides whether a proof permits an admin action.
type Authorizer interface {
	IsAuthorized(ctx context.Context, proof string) bool
}

// ClientDigest returns the lowercase hex SHA-256 of password, the form clients send instead of
// the plain password.
func ClientDigest(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// HashForStorage returns the bcrypt hash to configure for password.
func HashForStorage(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(ClientDigest(password)), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// PasswordVerifier compares client digests against the stored bcrypt hash.
type PasswordVerifier struct {
	hash []byte
}

// NewPasswordVerifier validates the stored hash.
func NewPasswordVerifier(storedHash string) (*PasswordVerifier, error) {
	trimmed := strings.TrimSpace(storedHash)
	if trimmed == "" {
		return nil, ErrMissingPasswordHash
	}
	if _, err := bcrypt.Cost([]byte(trimmed)); err != nil {
		return nil, ErrInvalidPasswordHash
	}
	return &PasswordVerifier{hash: []byte(trimmed)}, nil
}

// Verify reports whether digest matches the stored hash.
func (v *PasswordVerifier) Verify(digest string) bool {
	if v == nil {
		return false
	}
	normalized := strings.ToLower(strings.TrimSpace(digest))
	if !digestPattern.MatchString(normalized) {
		return false
	}
	return bcrypt.CompareHashAndPassword(v.hash, []byte(normalized)) == nil
}

// IsAuthorized accepts the client digest of the admin password.
func (v *PasswordVerifier) IsAuthorized(_ context.Context, proof string) bool {
	return v.Verify(proof)
}

type anyOf []Authorizer

// AnyOf accepts a proof when any of the authorizers accepts it. Nil entries are skipped.
func AnyOf(authorizers ...Authorizer) Authorizer {
	kept := make(anyOf, 0, len(authorizers))
	for _, authorizer := range authorizers {
		if authorizer != nil {
			kept = append(kept, authorizer)
		}
	}
	return kept
}

func (a anyOf) IsAuthorized(ctx context.Context, proof string) bool {
	for _, authorizer := range a {
		if authorizer.IsAuthorized(ctx, proof) {
			return true
		}
	}
	return false
}
