// Package auth issues and verifies the bearer credentials of the public
// surface, and runs the login strategies that produce them: password
// accounts, one-time SMS codes, and third-party OAuth identities.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mededge/pulse/fault"
)

// Config configures token issuance.
type Config struct {
	Secret    string        `long:"secret" env:"SECRET" default:"dev-secret-change-me" description:"HMAC secret signing access tokens"`
	Algorithm string        `long:"algorithm" env:"ALGORITHM" default:"HS256" description:"Signing algorithm (HS256, HS384 or HS512)"`
	AccessTTL time.Duration `long:"access-ttl" env:"ACCESS_TTL" default:"24h" description:"Lifetime of issued access tokens"`
}

// Identity is the verified caller identity a token carries.
type Identity struct {
	UserID   int64
	Username string
	Scope    string
}

// tokenData nests the private claims under "data", matching the token
// layout clients already hold.
type tokenData struct {
	Sub      string `json:"sub"`
	Username string `json:"username,omitempty"`
	Scope    string `json:"scope,omitempty"`
}

type tokenClaims struct {
	Data tokenData `json:"data"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies access tokens.
type Tokens struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
}

// NewTokens builds a signer from configuration. Only HMAC algorithms
// are accepted.
func NewTokens(cfg Config) (*Tokens, error) {
	var method = jwt.GetSigningMethod(cfg.Algorithm)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("token secret must not be empty")
	}
	return &Tokens{secret: []byte(cfg.Secret), method: method, ttl: cfg.AccessTTL}, nil
}

// Issue signs a fresh token for the identity.
func (t *Tokens) Issue(id Identity) (string, error) {
	var now = time.Now()
	var claims = tokenClaims{
		Data: tokenData{
			Sub:      strconv.FormatInt(id.UserID, 10),
			Username: id.Username,
			Scope:    id.Scope,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	var signed, err = jwt.NewWithClaims(t.method, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning the identity it
// carries. Failures are Unauthorized faults with caller-safe messages.
func (t *Tokens) Verify(tokenString string) (Identity, error) {
	var claims tokenClaims
	var _, err = jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != t.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method %q", token.Method.Alg())
		}
		return t.secret, nil
	})
	if errors.Is(err, jwt.ErrTokenExpired) {
		return Identity{}, fault.Unauthorized("token expired")
	} else if err != nil {
		return Identity{}, fault.Unauthorized("invalid token")
	}

	userID, err := strconv.ParseInt(claims.Data.Sub, 10, 64)
	if err != nil {
		return Identity{}, fault.Unauthorized("invalid token subject")
	}
	return Identity{UserID: userID, Username: claims.Data.Username, Scope: claims.Data.Scope}, nil
}

// Refresh re-issues a still-valid token with a renewed expiry.
func (t *Tokens) Refresh(tokenString string) (string, error) {
	var id, err = t.Verify(tokenString)
	if err != nil {
		return "", err
	}
	return t.Issue(id)
}
