package auth

import (
	"strings"
	"testing"

	"calvoice/app/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(secret string) *Service {
	return &Service{
		cfg: &config.Config{
			Auth: config.Auth{JWTSecret: secret},
		},
	}
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	svc := newTestService("test-secret")

	token, err := svc.Issue("alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	svc := newTestService("test-secret")

	token, err := svc.Issue("alice")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + ".AAAA" + parts[2][4:]

	_, err = svc.Verify(tampered)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := newTestService("secret-one").Issue("alice")
	require.NoError(t, err)

	_, err = newTestService("secret-two").Verify(token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc := newTestService("test-secret")

	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		_, err := svc.Verify(token)
		assert.ErrorIs(t, err, ErrUnauthenticated, "token %q", token)
	}
}

func TestTokensAreUnique(t *testing.T) {
	svc := newTestService("test-secret")

	first, err := svc.Issue("alice")
	require.NoError(t, err)
	second, err := svc.Issue("alice")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}
