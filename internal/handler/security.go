package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"

	"github.com/xenking/comanda/internal/domain/auth"
)

var _ auth.Authenticator = (*SecurityHandler)(nil)

// SecurityHandler authenticates API requests via HMAC-SHA256 hashed API keys
// and resolves the identity bound to the key.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// HashAPIKey returns the hex HMAC-SHA256 of key under pepper, as stored in
// api_keys.key_hash.
func HashAPIKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate hashes the presented key, looks it up and performs a
// constant-time comparison against the stored hash.
func (s *SecurityHandler) Authenticate(ctx context.Context, credential string) (auth.Identity, error) {
	if credential == "" {
		return auth.Identity{}, auth.ErrUnauthenticated
	}
	hexHash := HashAPIKey(s.pepper, credential)

	info, err := s.apikeys.FindByHash(ctx, hexHash)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			return auth.Identity{}, auth.ErrUnauthenticated
		}
		return auth.Identity{}, errors.Wrap(err, "find api key")
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return auth.Identity{}, auth.ErrUnauthenticated
	}
	computed, _ := hex.DecodeString(hexHash)
	if subtle.ConstantTimeCompare(computed, stored) != 1 {
		return auth.Identity{}, auth.ErrUnauthenticated
	}

	id := info.Identity()
	if !id.Role.Valid() {
		return auth.Identity{}, errors.Wrapf(auth.ErrUnauthorized, "unknown role %q", id.Role)
	}
	if id.Role == auth.RoleStaff && id.BranchID == "" {
		return auth.Identity{}, errors.Wrap(auth.ErrUnauthorized, "staff key without branch")
	}
	return id, nil
}
