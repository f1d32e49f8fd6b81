package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	actor := Actor{ID: "user-42", Role: RoleCA}

	signed, err := NewToken("test-secret", actor, time.Hour)
	require.NoError(t, err)

	got, err := ParseToken("test-secret", signed)
	require.NoError(t, err)
	assert.Equal(t, actor, got)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	signed, err := NewToken("test-secret", Actor{ID: "user-42", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)

	_, err = ParseToken("other-secret", signed)
	assert.Error(t, err)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	signed, err := NewToken("test-secret", Actor{ID: "user-42", Role: RoleRecipient}, -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken("test-secret", signed)
	assert.Error(t, err)
}

func TestCanIssue(t *testing.T) {
	assert.True(t, Actor{Role: RoleCA}.CanIssue())
	assert.True(t, Actor{Role: RoleAdmin}.CanIssue())
	assert.False(t, Actor{Role: RoleReviewer}.CanIssue())
	assert.False(t, Actor{Role: RoleRecipient}.CanIssue())
}
