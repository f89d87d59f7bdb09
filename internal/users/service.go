package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark77234/Tomo/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew        = "users.service.new"
	opResolve           = "users.resolve"
	opLookup            = "users.lookup"
	opSignup            = "users.signup"
	opUserInfo          = "users.user_info"
	opUpdateUsername    = "users.update_username"
	opStoreCredential   = "users.store_refresh_credential"
	opMatchCredential   = "users.match_refresh_credential"
	opClearCredential   = "users.clear_refresh_credential"
	reasonUserNotFound  = "user_not_found"
	reasonQueryFailed   = "query_failed"
	reasonEmptyQuery    = "empty_query"
	reasonAmbiguous     = "email_and_invite_code_differ"
	reasonInviteShared  = "invite_code_shared"
	reasonExternalTaken = "external_id_registered"
	reasonEmailTaken    = "email_registered"
	reasonInvalidInput  = "invalid_input"
	reasonInsertFailed  = "insert_failed"
	reasonUpdateFailed  = "update_failed"
	reasonMismatch      = "credential_mismatch"
)

var (
	errMissingDatabase = errors.New("users: database connection required")
	noOpLogger         = zap.NewNop()
)

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service resolves external identities to users and owns the user row lifecycle short of deletion.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

// SignupRequest carries the fields supplied at registration.
type SignupRequest struct {
	ExternalID string
	Username   string
	Email      string
}

// Profile is the public view of a user returned by lookups.
type Profile struct {
	Username string
	Email    string
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.New(apperr.KindInternal, opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// Resolve returns the user registered under the external id.
func (s *Service) Resolve(ctx context.Context, externalID string) (User, error) {
	return FindByExternalID(s.db.WithContext(ctx), externalID)
}

// Lookup finds a user by email or invite code.
func (s *Service) Lookup(ctx context.Context, query string) (User, error) {
	return Lookup(s.db.WithContext(ctx), query)
}

// UserInfo returns the public profile matching an email or invite code.
func (s *Service) UserInfo(ctx context.Context, query string) (Profile, error) {
	user, err := Lookup(s.db.WithContext(ctx), query)
	if err != nil {
		return Profile{}, err
	}
	return Profile{Username: user.Username, Email: user.Email}, nil
}

// Signup registers a new user. The invite code is derived from the external id.
func (s *Service) Signup(ctx context.Context, request SignupRequest) (User, error) {
	externalID := normalize(request.ExternalID)
	email := normalize(request.Email)
	username := normalize(request.Username)
	if externalID == "" || email == "" || username == "" {
		return User{}, apperr.New(apperr.KindInvalidInput, opSignup, reasonInvalidInput,
			fmt.Errorf("external id, username and email are required"))
	}

	db := s.db.WithContext(ctx)
	if taken, err := exists(db, "external_id = ?", externalID); err != nil {
		s.logError(opSignup, reasonQueryFailed, err, zap.String("external_id", externalID))
		return User{}, apperr.FromStore(opSignup, reasonQueryFailed, err)
	} else if taken {
		return User{}, apperr.New(apperr.KindDuplicate, opSignup, reasonExternalTaken, nil)
	}
	if taken, err := exists(db, "email = ?", email); err != nil {
		s.logError(opSignup, reasonQueryFailed, err, zap.String("external_id", externalID))
		return User{}, apperr.FromStore(opSignup, reasonQueryFailed, err)
	} else if taken {
		return User{}, apperr.New(apperr.KindConstraintViolation, opSignup, reasonEmailTaken, nil)
	}

	user := User{
		ExternalID: externalID,
		Username:   username,
		Email:      email,
		InviteCode: InviteCode(externalID),
		CreatedAt:  s.now().UTC(),
	}
	if err := db.Create(&user).Error; err != nil {
		if apperr.IsUniqueViolation(err) {
			// lost a race with a concurrent signup; classify by which key now exists
			if taken, lookupErr := exists(db, "external_id = ?", externalID); lookupErr == nil && taken {
				return User{}, apperr.New(apperr.KindDuplicate, opSignup, reasonExternalTaken, err)
			}
			return User{}, apperr.New(apperr.KindConstraintViolation, opSignup, reasonEmailTaken, err)
		}
		s.logError(opSignup, reasonInsertFailed, err, zap.String("external_id", externalID))
		return User{}, apperr.FromStore(opSignup, reasonInsertFailed, err)
	}
	return user, nil
}

// UpdateUsername changes the display name of the user.
func (s *Service) UpdateUsername(ctx context.Context, externalID, username string) (User, error) {
	username = normalize(username)
	if username == "" {
		return User{}, apperr.New(apperr.KindInvalidInput, opUpdateUsername, reasonInvalidInput, fmt.Errorf("username is required"))
	}
	user, err := s.Resolve(ctx, externalID)
	if err != nil {
		return User{}, err
	}
	if err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", user.ID).Update("username", username).Error; err != nil {
		s.logError(opUpdateUsername, reasonUpdateFailed, err, zap.Int64("user_id", user.ID))
		return User{}, apperr.FromStore(opUpdateUsername, reasonUpdateFailed, err)
	}
	user.Username = username
	return user, nil
}

// StoreRefreshCredential records the latest refresh credential issued to the user.
func (s *Service) StoreRefreshCredential(ctx context.Context, externalID, credential string) error {
	user, err := s.Resolve(ctx, externalID)
	if err != nil {
		return err
	}
	digest := hashCredential(credential)
	if err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", user.ID).Update("refresh_credential", &digest).Error; err != nil {
		s.logError(opStoreCredential, reasonUpdateFailed, err, zap.Int64("user_id", user.ID))
		return apperr.FromStore(opStoreCredential, reasonUpdateFailed, err)
	}
	return nil
}

// MatchRefreshCredential returns the user only when credential is the one last stored for them.
func (s *Service) MatchRefreshCredential(ctx context.Context, externalID, credential string) (User, error) {
	user, err := s.Resolve(ctx, externalID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return User{}, apperr.New(apperr.KindUnauthorized, opMatchCredential, reasonUserNotFound, err)
		}
		return User{}, err
	}
	if user.RefreshCredential == nil || *user.RefreshCredential != hashCredential(credential) {
		return User{}, apperr.New(apperr.KindUnauthorized, opMatchCredential, reasonMismatch, nil)
	}
	return user, nil
}

// ClearRefreshCredential forgets the stored refresh credential; clearing an empty one is a no-op.
func (s *Service) ClearRefreshCredential(ctx context.Context, externalID string) error {
	user, err := s.Resolve(ctx, externalID)
	if err != nil {
		return err
	}
	if user.RefreshCredential == nil {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", user.ID).Update("refresh_credential", nil).Error; err != nil {
		s.logError(opClearCredential, reasonUpdateFailed, err, zap.Int64("user_id", user.ID))
		return apperr.FromStore(opClearCredential, reasonUpdateFailed, err)
	}
	return nil
}

// FindByExternalID resolves a user inside the supplied handle, which may be a transaction.
func FindByExternalID(db *gorm.DB, externalID string) (User, error) {
	externalID = normalize(externalID)
	if externalID == "" {
		return User{}, apperr.New(apperr.KindUnauthorized, opResolve, "missing_principal", nil)
	}
	var user User
	err := db.Where("external_id = ?", externalID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, apperr.New(apperr.KindNotFound, opResolve, reasonUserNotFound, err)
	}
	if err != nil {
		return User{}, apperr.FromStore(opResolve, reasonQueryFailed, err)
	}
	return user, nil
}

// FindByEmail resolves a user by exact email inside the supplied handle.
func FindByEmail(db *gorm.DB, email string) (User, error) {
	var user User
	err := db.Where("email = ?", normalize(email)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, apperr.New(apperr.KindNotFound, opLookup, reasonUserNotFound, err)
	}
	if err != nil {
		return User{}, apperr.FromStore(opLookup, reasonQueryFailed, err)
	}
	return user, nil
}

// Lookup matches query against emails and invite codes. A query naming one user by email and
// another by invite code, or an invite code shared by several users, is ambiguous.
func Lookup(db *gorm.DB, query string) (User, error) {
	query = normalize(query)
	if query == "" {
		return User{}, apperr.New(apperr.KindInvalidInput, opLookup, reasonEmptyQuery, nil)
	}

	var byEmail []User
	if err := db.Where("email = ?", query).Limit(1).Find(&byEmail).Error; err != nil {
		return User{}, apperr.FromStore(opLookup, reasonQueryFailed, err)
	}
	var byInvite []User
	if err := db.Where("invite_code = ?", query).Order("id ASC").Limit(2).Find(&byInvite).Error; err != nil {
		return User{}, apperr.FromStore(opLookup, reasonQueryFailed, err)
	}

	switch {
	case len(byInvite) > 1:
		return User{}, apperr.New(apperr.KindAmbiguousQuery, opLookup, reasonInviteShared, nil)
	case len(byEmail) == 1 && len(byInvite) == 1 && byEmail[0].ID != byInvite[0].ID:
		return User{}, apperr.New(apperr.KindAmbiguousQuery, opLookup, reasonAmbiguous, nil)
	case len(byEmail) == 1:
		return byEmail[0], nil
	case len(byInvite) == 1:
		return byInvite[0], nil
	default:
		return User{}, apperr.New(apperr.KindNotFound, opLookup, reasonUserNotFound, nil)
	}
}

func exists(db *gorm.DB, condition string, value string) (bool, error) {
	var count int64
	if err := db.Model(&User{}).Where(condition, value).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("users service error", attrs...)
}
