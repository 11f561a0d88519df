// Package auth validates bearer tokens for multitenant deployments.
//
// When enabled, every management-plane request must carry an
// "Authorization: Bearer <jwt>" header. The token is verified against a
// shared HMAC secret and a fixed issuer, and yields an Identity used for
// ownership checks. Data-plane requests are never gated here: possession of
// the per-operation key is the only data-plane credential.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for missing, malformed, expired, or otherwise
// unverifiable bearer tokens.
var ErrInvalidToken = errors.New("invalid bearer token")

// Identity is the caller established from a verified token.
type Identity struct {
	// AuthzID is the subject claim, recorded as the index owner.
	AuthzID string
	// ProjectUUID scopes which indexes the caller may list and manage.
	ProjectUUID string
}

type claims struct {
	ProjectUUID string `json:"project_uuid"`
	jwt.RegisteredClaims
}

// Authorizer verifies bearer tokens and extracts the caller identity.
type Authorizer struct {
	secret []byte
	issuer string
}

// NewAuthorizer creates an Authorizer verifying HS256 tokens signed with
// secret and issued by issuer.
func NewAuthorizer(secret []byte, issuer string) *Authorizer {
	return &Authorizer{secret: secret, issuer: issuer}
}

// Authenticate verifies the Authorization header value and returns the
// caller identity. The header must be of the form "Bearer <jwt>".
func (a *Authorizer) Authenticate(header string) (*Identity, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, ErrInvalidToken
	}

	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", token.Method.Alg())
		}
		return a.secret, nil
	}, jwt.WithIssuer(a.issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	if c.Subject == "" || c.ProjectUUID == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{AuthzID: c.Subject, ProjectUUID: c.ProjectUUID}, nil
}
