package token_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/team-kenya/harambee/internal/principal"
	"github.com/team-kenya/harambee/internal/token"
	_ "github.com/team-kenya/harambee/testing"
)

func newCodec(t *testing.T, accessTTL time.Duration) *token.Codec {
	t.Helper()
	keys, err := token.NewKeyset("primary-secret")
	require.NoError(t, err)
	return token.NewCodec(keys, accessTTL, 24*time.Hour)
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	codec := newCodec(t, 15*time.Minute)

	raw, err := codec.Issue("user-1", principal.RoleMentor, "sess-1", token.KindAccess)
	require.NoError(t, err)

	id, err := codec.Verify(raw, token.KindAccess)
	require.NoError(t, err)
	require.Equal(t, "user-1", id.Subject)
	require.Equal(t, principal.RoleMentor, id.Role)
	require.Equal(t, "sess-1", id.SessionID)
	require.True(t, id.ExpiresAt.After(time.Now()))
}

func TestVerifyRejectsWrongKind(t *testing.T) {
	codec := newCodec(t, 15*time.Minute)

	refresh, err := codec.Issue("user-1", principal.RoleStudent, "sess-1", token.KindRefresh)
	require.NoError(t, err)

	_, err = codec.Verify(refresh, token.KindAccess)
	require.ErrorIs(t, err, token.ErrMalformed)
}

func TestVerifyExpired(t *testing.T) {
	codec := newCodec(t, -time.Minute)

	raw, err := codec.Issue("user-1", principal.RoleStudent, "sess-1", token.KindAccess)
	require.NoError(t, err)

	_, err = codec.Verify(raw, token.KindAccess)
	require.ErrorIs(t, err, token.ErrExpired)
}

func TestVerifyTamperedSignature(t *testing.T) {
	codec := newCodec(t, 15*time.Minute)

	raw, err := codec.Issue("user-1", principal.RoleStudent, "sess-1", token.KindAccess)
	require.NoError(t, err)

	// Flip the first byte of the signature segment.
	tampered := []byte(raw)
	pos := strings.LastIndexByte(raw, '.') + 1
	if tampered[pos] == 'A' {
		tampered[pos] = 'B'
	} else {
		tampered[pos] = 'A'
	}

	_, err = codec.Verify(string(tampered), token.KindAccess)
	require.ErrorIs(t, err, token.ErrBadSignature)
}

func TestVerifyGarbage(t *testing.T) {
	codec := newCodec(t, 15*time.Minute)

	_, err := codec.Verify("not-a-jwt", token.KindAccess)
	require.ErrorIs(t, err, token.ErrMalformed)
}

func TestKeyRotationKeepsOldTokensValid(t *testing.T) {
	oldKeys, err := token.NewKeyset("old-secret")
	require.NoError(t, err)
	codec := token.NewCodec(oldKeys, 15*time.Minute, 24*time.Hour)

	issuedBefore, err := codec.Issue("user-1", principal.RoleAlumni, "sess-1", token.KindAccess)
	require.NoError(t, err)

	// New key signs, old key stays in the verify set.
	rotated, err := token.NewKeyset("new-secret", "old-secret")
	require.NoError(t, err)
	codec.Rotate(rotated)

	id, err := codec.Verify(issuedBefore, token.KindAccess)
	require.NoError(t, err)
	require.Equal(t, "user-1", id.Subject)

	issuedAfter, err := codec.Issue("user-2", principal.RoleStudent, "sess-2", token.KindAccess)
	require.NoError(t, err)
	_, err = codec.Verify(issuedAfter, token.KindAccess)
	require.NoError(t, err)

	// Dropping the old key invalidates its tokens.
	newOnly, err := token.NewKeyset("new-secret")
	require.NoError(t, err)
	codec.Rotate(newOnly)
	_, err = codec.Verify(issuedBefore, token.KindAccess)
	require.ErrorIs(t, err, token.ErrBadSignature)
}
