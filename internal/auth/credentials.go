package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is the caller identity plus the bearer it authenticates with.
type Credential struct {
	UserID string
	Token  string
}

// CredentialSource provides the current bearer credential. Token issuance and
// expiry checks belong to the auth collaborator; callers only consume the result.
type CredentialSource interface {
	Credential(ctx context.Context) (Credential, error)
}

// ContextCredentials reads the credential that RequireAccessToken attached to ctx.
type ContextCredentials struct{}

func (ContextCredentials) Credential(ctx context.Context) (Credential, error) {
	tok, err := Bearer(ctx)
	if err != nil {
		return Credential{}, err
	}
	uid, _ := UserID(ctx)
	return Credential{UserID: uid, Token: tok}, nil
}

// StaticCredentials always returns the same credential. Empty tokens count as absent.
type StaticCredentials Credential

func (s StaticCredentials) Credential(context.Context) (Credential, error) {
	if strings.TrimSpace(s.Token) == "" {
		return Credential{}, ErrNoCredential
	}
	return Credential(s), nil
}

// TokenExpiry reports the exp claim of a JWT without verifying its signature.
// Signaling tokens are signed by the voice provider; the console only needs
// the expiry for display and never trusts other claims from it.
func TokenExpiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
