package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "super-secret-jwt-token-with-at-least-32-characters"
	testUserID = "0b5d7c5e-6a51-4d7b-8f2f-3a1c2e4b9d10"
)

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return tok
}

func validClaims() supabaseClaims {
	return supabaseClaims{
		Email: "ada@example.com",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   testUserID,
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestJWTVerifierAccepts(t *testing.T) {
	v := NewJWTVerifier(testSecret, "authenticated")

	id, err := v.Verify(context.Background(), sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims()))
	require.NoError(t, err)
	assert.Equal(t, testUserID, id.UserID)
	assert.Equal(t, "ada@example.com", id.Email)
	assert.Equal(t, "authenticated", id.Role)
}

func TestJWTVerifierRejects(t *testing.T) {
	v := NewJWTVerifier(testSecret, "authenticated")

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	wrongAud := validClaims()
	wrongAud.Audience = jwt.ClaimStrings{"anon"}

	noExp := validClaims()
	noExp.ExpiresAt = nil

	badSubject := validClaims()
	badSubject.Subject = "service_role"

	cases := map[string]string{
		"expired":       sign(t, jwt.SigningMethodHS256, []byte(testSecret), expired),
		"wrong secret":  sign(t, jwt.SigningMethodHS256, []byte("another-secret"), validClaims()),
		"wrong aud":     sign(t, jwt.SigningMethodHS256, []byte(testSecret), wrongAud),
		"no expiry":     sign(t, jwt.SigningMethodHS256, []byte(testSecret), noExp),
		"bad subject":   sign(t, jwt.SigningMethodHS256, []byte(testSecret), badSubject),
		"wrong method":  sign(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims()),
		"not a jwt":     "definitely-not-a-token",
	}
	for name, token := range cases {
		_, err := v.Verify(context.Background(), token)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}
}

func TestIdentityContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), &Identity{UserID: testUserID})
	id, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, testUserID, id.UserID)
}
