package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuer_RoundTrip(t *testing.T) {
	iss := NewIssuer("secret", time.Hour)

	tok, err := iss.CreateAccessToken("acc-1", "student", "a@example.com")
	require.NoError(t, err)

	claims, err := iss.ParseValidate(tok)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", claims.Subject)
	assert.Equal(t, "student", claims.Role)
	assert.Equal(t, "a@example.com", claims.Email)
}

func TestIssuer_RejectsForeignSecret(t *testing.T) {
	tok, err := NewIssuer("one", time.Hour).CreateAccessToken("acc-1", "admin", "")
	require.NoError(t, err)

	_, err = NewIssuer("two", time.Hour).ParseValidate(tok)
	assert.Error(t, err)
}

func TestIssuer_RejectsExpired(t *testing.T) {
	iss := NewIssuer("secret", -time.Minute)
	tok, err := iss.CreateAccessToken("acc-1", "student", "")
	require.NoError(t, err)

	_, err = iss.ParseValidate(tok)
	assert.Error(t, err)
}

func TestIssuer_RejectsGarbage(t *testing.T) {
	_, err := NewIssuer("secret", time.Hour).ParseValidate("not-a-token")
	assert.Error(t, err)
}
