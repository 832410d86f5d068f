package token

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/flockhq/flock/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

func newTestCodec(t *testing.T, clock *fakeClock) *Codec {
	t.Helper()
	c, err := NewCodec(testKey, WithClock(clock.Now))
	require.NoError(t, err)
	return c
}

func testClaims() Claims {
	church := uuid.New()
	return Claims{
		SessionID:      uuid.New(),
		AdminID:        uuid.New(),
		TargetUserID:   uuid.New(),
		TargetChurchID: &church,
	}
}

func TestNewCodecRejectsShortKey(t *testing.T) {
	_, err := NewCodec([]byte("short"))
	assert.ErrorIs(t, err, ErrKeyTooShort)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := newTestCodec(t, clock)
	claims := testClaims()

	tok, err := c.Sign(claims, clock.t.Add(types.ImpersonationTTL))
	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(tok, ".")))

	got, err := c.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, claims.SessionID, got.SessionID)
	assert.Equal(t, claims.AdminID, got.AdminID)
	assert.Equal(t, claims.TargetUserID, got.TargetUserID)
	require.NotNil(t, got.TargetChurchID)
	assert.Equal(t, *claims.TargetChurchID, *got.TargetChurchID)
	assert.Equal(t, clock.t.Unix(), got.IssuedAt.Unix())
	assert.Equal(t, clock.t.Add(types.ImpersonationTTL).Unix(), got.ExpiresAt.Unix())
}

func TestSignRequiresSessionID(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newTestCodec(t, clock)
	claims := testClaims()
	claims.SessionID = uuid.Nil

	_, err := c.Sign(claims, clock.t.Add(time.Hour))
	assert.Error(t, err)
}

func TestVerifyRejectsEverySignatureAlteration(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newTestCodec(t, clock)

	tok, err := c.Sign(testClaims(), clock.t.Add(time.Hour))
	require.NoError(t, err)

	sigStart := strings.LastIndex(tok, ".") + 1
	for i := sigStart; i < len(tok); i++ {
		replacement := byte('A')
		if tok[i] == 'A' {
			replacement = 'B'
		}
		tampered := tok[:i] + string(replacement) + tok[i+1:]

		got, err := c.Verify(tampered)
		assert.ErrorIs(t, err, types.ErrTokenInvalid, "position %d", i)
		assert.Nil(t, got, "position %d", i)
	}
}

func TestVerifyRejectsPayloadBitFlip(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newTestCodec(t, clock)

	tok, err := c.Sign(testClaims(), clock.t.Add(time.Hour))
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	for i := range payload {
		flipped := append([]byte(nil), payload...)
		flipped[i] ^= 0x01
		tampered := parts[0] + "." + base64.RawURLEncoding.EncodeToString(flipped) + "." + parts[2]

		_, err := c.Verify(tampered)
		assert.ErrorIs(t, err, types.ErrTokenInvalid, "byte %d", i)
	}
}

func TestVerifyRejectsOtherKey(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newTestCodec(t, clock)
	other, err := NewCodec([]byte("ffffffffffffffffffffffffffffffff"), WithClock(clock.Now))
	require.NoError(t, err)

	tok, err := other.Sign(testClaims(), clock.t.Add(time.Hour))
	require.NoError(t, err)

	_, err = c.Verify(tok)
	assert.ErrorIs(t, err, types.ErrTokenInvalid)
	assert.NotErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newTestCodec(t, clock)

	claims := testClaims()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    DefaultIssuer,
		IssuedAt:  jwt.NewNumericDate(clock.t),
		ExpiresAt: jwt.NewNumericDate(clock.t.Add(time.Hour)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = c.Verify(tok)
	assert.ErrorIs(t, err, types.ErrTokenInvalid)
}

func TestVerifyRejectsMalformed(t *testing.T) {
	c := newTestCodec(t, &fakeClock{t: time.Now()})

	for _, tok := range []string{"", "abc", "a.b.c", "..."} {
		_, err := c.Verify(tok)
		assert.ErrorIs(t, err, types.ErrTokenInvalid, "token %q", tok)
	}
}

func TestVerifyExpiredReturnsClaims(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := newTestCodec(t, clock)
	claims := testClaims()

	tok, err := c.Sign(claims, clock.t.Add(types.ImpersonationTTL))
	require.NoError(t, err)

	clock.t = clock.t.Add(types.ImpersonationTTL + time.Second)

	got, err := c.Verify(tok)
	assert.ErrorIs(t, err, types.ErrTokenInvalid)
	assert.ErrorIs(t, err, ErrTokenExpired)
	require.NotNil(t, got)
	assert.Equal(t, claims.SessionID, got.SessionID)
}

func TestVerifyExpiredWithBadSignatureReturnsNoClaims(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	other, err := NewCodec([]byte("ffffffffffffffffffffffffffffffff"), WithClock(clock.Now))
	require.NoError(t, err)
	c := newTestCodec(t, clock)

	tok, err := other.Sign(testClaims(), clock.t.Add(time.Minute))
	require.NoError(t, err)
	clock.t = clock.t.Add(time.Hour)

	got, err := c.Verify(tok)
	assert.ErrorIs(t, err, types.ErrTokenInvalid)
	assert.NotErrorIs(t, err, ErrTokenExpired)
	assert.Nil(t, got)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newTestCodec(t, clock)
	other, err := NewCodec(testKey, WithClock(clock.Now), WithIssuer("someone-else"))
	require.NoError(t, err)

	tok, err := other.Sign(testClaims(), clock.t.Add(time.Hour))
	require.NoError(t, err)

	_, err = c.Verify(tok)
	assert.ErrorIs(t, err, types.ErrTokenInvalid)
}
