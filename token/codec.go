// Package token signs and verifies the impersonation credential carried by
// the transport cookie.
//
// Tokens are compact JWTs signed with HMAC-SHA256. They are only a
// pre-filter carrying the session lookup key: trust is always re-derived
// from the session store.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/flockhq/flock/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinKeyLength is the minimum signing key length in bytes.
const MinKeyLength = 32

// DefaultIssuer is the iss claim used when none is configured.
const DefaultIssuer = "flock-impersonation"

// Codec errors.
var (
	ErrKeyTooShort  = fmt.Errorf("signing key must be at least %d bytes", MinKeyLength)
	ErrTokenExpired = errors.New("impersonation token expired")
)

// Claims is the signed payload of an impersonation token.
type Claims struct {
	SessionID      uuid.UUID  `json:"session_id"`
	AdminID        uuid.UUID  `json:"admin_id"`
	TargetUserID   uuid.UUID  `json:"target_user_id"`
	TargetChurchID *uuid.UUID `json:"target_church_id,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies tokens. It is safe for concurrent use.
type Codec struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the time source used for iat and exp checks.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) Option {
	return func(c *Codec) {
		c.issuer = issuer
	}
}

// NewCodec creates a Codec for the given key. The key is copied.
func NewCodec(key []byte, opts ...Option) (*Codec, error) {
	if len(key) < MinKeyLength {
		return nil, ErrKeyTooShort
	}

	c := &Codec{
		key:    append([]byte(nil), key...),
		issuer: DefaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Sign encodes claims with the given expiration. iat is set to the
// codec's current time.
func (c *Codec) Sign(claims Claims, expiresAt time.Time) (string, error) {
	if claims.SessionID == uuid.Nil {
		return "", errors.New("signing token: session id is required")
	}

	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   claims.TargetUserID.String(),
		IssuedAt:  jwt.NewNumericDate(c.now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}

	return signed, nil
}

// Verify checks the MAC, algorithm and claims of tokenString.
//
// Every failure matches types.ErrTokenInvalid. When the MAC is valid and the
// only problem is a passed expiration, the error also matches ErrTokenExpired
// and the decoded claims are returned with it.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(c.issuer),
		jwt.WithTimeFunc(c.now),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return c.key, nil
	})

	switch {
	case err == nil:
	case isOnlyExpired(err) && claims.SessionID != uuid.Nil:
		return claims, fmt.Errorf("%w: %w", types.ErrTokenInvalid, ErrTokenExpired)
	default:
		return nil, fmt.Errorf("%w: %w", types.ErrTokenInvalid, err)
	}

	if claims.SessionID == uuid.Nil || claims.AdminID == uuid.Nil || claims.TargetUserID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing identity claims", types.ErrTokenInvalid)
	}

	return claims, nil
}

// isOnlyExpired reports whether err is a claims error caused solely by exp.
// The jwt parser validates claims only after the signature has verified.
func isOnlyExpired(err error) bool {
	if !errors.Is(err, jwt.ErrTokenExpired) {
		return false
	}
	return !errors.Is(err, jwt.ErrTokenSignatureInvalid) &&
		!errors.Is(err, jwt.ErrTokenInvalidIssuer) &&
		!errors.Is(err, jwt.ErrTokenUsedBeforeIssued) &&
		!errors.Is(err, jwt.ErrTokenMalformed)
}
