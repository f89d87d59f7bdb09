package users

import (
	"context"
	"testing"
	"time"

	"github.com/mark77234/Tomo/internal/apperr"
	"github.com/mark77234/Tomo/internal/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.OpenSQLite(t, &User{})
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
		},
	})
	require.NoError(t, err)
	return service
}

func TestInviteCodeUsesLastFourCharacters(t *testing.T) {
	require.Equal(t, "TOMO-wxyz", InviteCode("firebase-uid-wxyz"))
	require.Equal(t, "TOMO-abc", InviteCode("abc"))
}

func TestSignupAssignsInviteCode(t *testing.T) {
	service := newTestService(t)

	user, err := service.Signup(context.Background(), SignupRequest{ExternalID: "ext-1234", Username: "alice", Email: "a@x"})
	require.NoError(t, err)
	require.NotZero(t, user.ID)
	require.Equal(t, "TOMO-1234", user.InviteCode)

	resolved, err := service.Resolve(context.Background(), "ext-1234")
	require.NoError(t, err)
	require.Equal(t, user.ID, resolved.ID)
	require.Nil(t, resolved.RefreshCredential)
}

func TestSignupRejectsDuplicates(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	_, err := service.Signup(ctx, SignupRequest{ExternalID: "A", Username: "alice", Email: "a@x"})
	require.NoError(t, err)

	_, err = service.Signup(ctx, SignupRequest{ExternalID: "A", Username: "alice again", Email: "other@x"})
	require.ErrorIs(t, err, apperr.ErrDuplicate)

	_, err = service.Signup(ctx, SignupRequest{ExternalID: "B", Username: "bob", Email: "a@x"})
	require.ErrorIs(t, err, apperr.ErrConstraintViolation)

	_, err = service.Signup(ctx, SignupRequest{ExternalID: "C", Username: "", Email: "c@x"})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}

// commitBeforeSignupInsert commits a competing users row after Signup's existence checks pass.
func commitBeforeSignupInsert(t *testing.T, service *Service, externalID, email string) *bool {
	t.Helper()
	injected := false
	require.NoError(t, service.db.Callback().Create().Before("gorm:begin_transaction").Register("test:concurrent_signup", func(tx *gorm.DB) {
		if injected || tx.Statement.Table != "users" {
			return
		}
		injected = true
		require.NoError(t, tx.Session(&gorm.Session{NewDB: true}).Exec(
			"INSERT INTO users (external_id, username, email, invite_code, created_at) VALUES (?, ?, ?, ?, ?)",
			externalID, "racer", email, InviteCode(externalID), time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)).Error)
	}))
	return &injected
}

func TestSignupInsertRaceOnExternalIDReportsDuplicate(t *testing.T) {
	service := newTestService(t)
	injected := commitBeforeSignupInsert(t, service, "A", "other@x")

	_, err := service.Signup(context.Background(), SignupRequest{ExternalID: "A", Username: "alice", Email: "a@x"})
	require.True(t, *injected)
	require.ErrorIs(t, err, apperr.ErrDuplicate)
	require.Equal(t, opSignup+"."+reasonExternalTaken, apperr.CodeOf(err))
}

func TestSignupInsertRaceOnEmailReportsConstraintViolation(t *testing.T) {
	service := newTestService(t)
	injected := commitBeforeSignupInsert(t, service, "other", "a@x")

	_, err := service.Signup(context.Background(), SignupRequest{ExternalID: "A", Username: "alice", Email: "a@x"})
	require.True(t, *injected)
	require.ErrorIs(t, err, apperr.ErrConstraintViolation)
	require.Equal(t, opSignup+"."+reasonEmailTaken, apperr.CodeOf(err))

	_, err = service.Resolve(context.Background(), "A")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestResolveMissingUser(t *testing.T) {
	service := newTestService(t)

	_, err := service.Resolve(context.Background(), "nobody")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLookupByEmailAndInviteCode(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	alice, err := service.Signup(ctx, SignupRequest{ExternalID: "uid-0001", Username: "alice", Email: "a@x"})
	require.NoError(t, err)

	byEmail, err := service.Lookup(ctx, "a@x")
	require.NoError(t, err)
	require.Equal(t, alice.ID, byEmail.ID)

	byInvite, err := service.Lookup(ctx, "TOMO-0001")
	require.NoError(t, err)
	require.Equal(t, alice.ID, byInvite.ID)

	_, err = service.Lookup(ctx, "missing@x")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLookupAmbiguousBetweenEmailAndInviteCode(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	_, err := service.Signup(ctx, SignupRequest{ExternalID: "P-uid", Username: "p", Email: "TOMO-9999"})
	require.NoError(t, err)
	_, err = service.Signup(ctx, SignupRequest{ExternalID: "Q-uid-9999", Username: "q", Email: "q@x"})
	require.NoError(t, err)

	_, err = service.Lookup(ctx, "TOMO-9999")
	require.ErrorIs(t, err, apperr.ErrAmbiguousQuery)
}

func TestLookupAmbiguousWhenInviteCodeCollides(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	_, err := service.Signup(ctx, SignupRequest{ExternalID: "first-7777", Username: "one", Email: "one@x"})
	require.NoError(t, err)
	_, err = service.Signup(ctx, SignupRequest{ExternalID: "second-7777", Username: "two", Email: "two@x"})
	require.NoError(t, err)

	_, err = service.Lookup(ctx, "TOMO-7777")
	require.ErrorIs(t, err, apperr.ErrAmbiguousQuery)
}

func TestRefreshCredentialLifecycle(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	_, err := service.Signup(ctx, SignupRequest{ExternalID: "A", Username: "alice", Email: "a@x"})
	require.NoError(t, err)

	require.NoError(t, service.ClearRefreshCredential(ctx, "A"), "clearing an empty credential is a no-op")

	require.NoError(t, service.StoreRefreshCredential(ctx, "A", "refresh-1"))
	stored, err := service.Resolve(ctx, "A")
	require.NoError(t, err)
	require.NotNil(t, stored.RefreshCredential)
	require.NotEqual(t, "refresh-1", *stored.RefreshCredential)

	_, err = service.MatchRefreshCredential(ctx, "A", "refresh-1")
	require.NoError(t, err)
	_, err = service.MatchRefreshCredential(ctx, "A", "refresh-2")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	require.NoError(t, service.ClearRefreshCredential(ctx, "A"))
	_, err = service.MatchRefreshCredential(ctx, "A", "refresh-1")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestUpdateUsername(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	_, err := service.Signup(ctx, SignupRequest{ExternalID: "A", Username: "alice", Email: "a@x"})
	require.NoError(t, err)

	updated, err := service.UpdateUsername(ctx, "A", "  alicia ")
	require.NoError(t, err)
	require.Equal(t, "alicia", updated.Username)

	profile, err := service.UserInfo(ctx, "a@x")
	require.NoError(t, err)
	require.Equal(t, Profile{Username: "alicia", Email: "a@x"}, profile)
}
