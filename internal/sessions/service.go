package sessions

import (
	"context"
	"errors"

	"github.com/mark77234/Tomo/internal/apperr"
	"github.com/mark77234/Tomo/internal/auth"
	"github.com/mark77234/Tomo/internal/users"
	"go.uber.org/zap"
)

const (
	opServiceNew         = "sessions.service.new"
	opLogin              = "sessions.login"
	opRefresh            = "sessions.refresh"
	opLogout             = "sessions.logout"
	reasonInvalidIDToken = "invalid_id_token"
	reasonNotSignedUp    = "not_signed_up"
	reasonInvalidRefresh = "invalid_refresh_token"
	reasonIssueFailed    = "issue_failed"
)

// IdentityVerifier validates identity-provider tokens.
type IdentityVerifier interface {
	Verify(ctx context.Context, rawToken string) (auth.IdentityClaims, error)
}

// TokenIssuer mints and validates API tokens.
type TokenIssuer interface {
	IssuePair(subject string) (auth.TokenPair, error)
	ValidateRefreshToken(token string) (auth.SessionClaims, error)
}

// CredentialStore keeps the latest refresh credential of each user.
type CredentialStore interface {
	Resolve(ctx context.Context, externalID string) (users.User, error)
	StoreRefreshCredential(ctx context.Context, externalID, credential string) error
	MatchRefreshCredential(ctx context.Context, externalID, credential string) (users.User, error)
	ClearRefreshCredential(ctx context.Context, externalID string) error
}

// ServiceConfig wires the session service.
type ServiceConfig struct {
	Verifier    IdentityVerifier
	Issuer      TokenIssuer
	Credentials CredentialStore
	Logger      *zap.Logger
}

// Service exchanges identity-provider tokens for API token pairs and rotates them.
type Service struct {
	verifier    IdentityVerifier
	issuer      TokenIssuer
	credentials CredentialStore
	logger      *zap.Logger
}

// NewService constructs the session service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Issuer == nil || cfg.Credentials == nil {
		return nil, apperr.New(apperr.KindInternal, opServiceNew, "missing_dependency", errors.New("sessions: issuer and credential store required"))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		verifier:    cfg.Verifier,
		issuer:      cfg.Issuer,
		credentials: cfg.Credentials,
		logger:      logger,
	}, nil
}

// Login verifies the identity token, requires a prior signup and issues a token pair.
func (s *Service) Login(ctx context.Context, idToken string) (auth.TokenPair, error) {
	if s.verifier == nil {
		return auth.TokenPair{}, apperr.New(apperr.KindUnauthorized, opLogin, "login_disabled", nil)
	}
	identity, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		s.logger.Warn("identity token rejected", zap.String("operation", opLogin), zap.Error(err))
		return auth.TokenPair{}, apperr.New(apperr.KindUnauthorized, opLogin, reasonInvalidIDToken, err)
	}
	if _, err := s.credentials.Resolve(ctx, identity.Subject); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return auth.TokenPair{}, apperr.New(apperr.KindUnauthorized, opLogin, reasonNotSignedUp, err)
		}
		return auth.TokenPair{}, err
	}
	return s.issue(ctx, opLogin, identity.Subject)
}

// Refresh rotates both tokens when the refresh token is the one last issued to its subject.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
	claims, err := s.issuer.ValidateRefreshToken(refreshToken)
	if err != nil {
		return auth.TokenPair{}, apperr.New(apperr.KindUnauthorized, opRefresh, reasonInvalidRefresh, err)
	}
	if _, err := s.credentials.MatchRefreshCredential(ctx, claims.Subject, refreshToken); err != nil {
		return auth.TokenPair{}, err
	}
	return s.issue(ctx, opRefresh, claims.Subject)
}

// Logout forgets the stored refresh credential; the access token simply expires.
func (s *Service) Logout(ctx context.Context, externalID string) error {
	if err := s.credentials.ClearRefreshCredential(ctx, externalID); err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			s.logger.Error("logout failed", zap.String("operation", opLogout), zap.Error(err))
		}
		return err
	}
	return nil
}

func (s *Service) issue(ctx context.Context, operation, subject string) (auth.TokenPair, error) {
	pair, err := s.issuer.IssuePair(subject)
	if err != nil {
		s.logger.Error("token issuance failed", zap.String("operation", operation), zap.Error(err))
		return auth.TokenPair{}, apperr.New(apperr.KindInternal, operation, reasonIssueFailed, err)
	}
	if err := s.credentials.StoreRefreshCredential(ctx, subject, pair.RefreshToken); err != nil {
		return auth.TokenPair{}, err
	}
	return pair, nil
}
