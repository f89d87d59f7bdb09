package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mark77234/Tomo/internal/apperr"
	"github.com/mark77234/Tomo/internal/auth"
	"github.com/mark77234/Tomo/internal/testutil"
	"github.com/mark77234/Tomo/internal/users"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	subjects map[string]string
}

func (v stubVerifier) Verify(_ context.Context, rawToken string) (auth.IdentityClaims, error) {
	subject, ok := v.subjects[rawToken]
	if !ok {
		return auth.IdentityClaims{}, errors.New("token rejected")
	}
	return auth.IdentityClaims{Subject: subject}, nil
}

func newTestService(t *testing.T) (*Service, *users.Service) {
	t.Helper()
	db := testutil.OpenSQLite(t, &users.User{})
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	require.NoError(t, err)
	_, err = userService.Signup(context.Background(), users.SignupRequest{ExternalID: "uid-A", Username: "alice", Email: "a@x"})
	require.NoError(t, err)

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte("secret"), Clock: time.Now})
	require.NoError(t, err)

	service, err := NewService(ServiceConfig{
		Verifier:    stubVerifier{subjects: map[string]string{"id-token-A": "uid-A", "id-token-ghost": "uid-ghost"}},
		Issuer:      issuer,
		Credentials: userService,
	})
	require.NoError(t, err)
	return service, userService
}

func TestLoginIssuesPairAndStoresRefreshCredential(t *testing.T) {
	service, userService := newTestService(t)
	ctx := context.Background()

	pair, err := service.Login(ctx, "id-token-A")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	_, err = userService.MatchRefreshCredential(ctx, "uid-A", pair.RefreshToken)
	require.NoError(t, err)
}

func TestLoginRejectsUnknownIdentity(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Login(context.Background(), "forged")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = service.Login(context.Background(), "id-token-ghost")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	require.Equal(t, "sessions.login.not_signed_up", apperr.CodeOf(err))
}

func TestRefreshRotatesCredential(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	first, err := service.Login(ctx, "id-token-A")
	require.NoError(t, err)

	second, err := service.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = service.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, apperr.ErrUnauthorized, "a rotated refresh token is stale")

	_, err = service.Refresh(ctx, second.AccessToken)
	require.ErrorIs(t, err, apperr.ErrUnauthorized, "access tokens cannot refresh")
}

func TestLogoutClearsCredential(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	pair, err := service.Login(ctx, "id-token-A")
	require.NoError(t, err)

	require.NoError(t, service.Logout(ctx, "uid-A"))
	require.NoError(t, service.Logout(ctx, "uid-A"), "logout without a stored credential is a no-op")

	_, err = service.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	err = service.Logout(ctx, "uid-ghost")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}
