package friends

import (
	"context"
	"errors"
	"time"

	"github.com/mark77234/Tomo/internal/apperr"
	"github.com/mark77234/Tomo/internal/users"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	opServiceNew       = "friends.service.new"
	opAdd              = "friends.add"
	opRemove           = "friends.remove"
	opList             = "friends.list"
	opDetail           = "friends.detail"
	opDeleteAll        = "friends.delete_all"
	reasonSelfRequest  = "self_request"
	reasonAlready      = "already_friends"
	reasonEdgeNotFound = "edge_not_found"
	reasonQueryFailed  = "query_failed"
	reasonInsertFailed = "insert_failed"
	reasonDeleteFailed = "delete_failed"
)

var (
	errMissingDatabase = errors.New("friends: database connection required")
	noOpLogger         = zap.NewNop()
)

// ServiceConfig describes the dependencies required by the friend graph.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service maintains symmetric friend edges.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the friend graph service.
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
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// Add makes the user behind query a friend of self. Both edges are written in one transaction.
func (s *Service) Add(ctx context.Context, selfExternalID, query string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		self, err := users.FindByExternalID(tx, selfExternalID)
		if err != nil {
			return err
		}
		other, err := users.Lookup(tx, query)
		if err != nil {
			return err
		}
		if self.Email == other.Email {
			return apperr.New(apperr.KindSelfRequest, opAdd, reasonSelfRequest, nil)
		}

		var count int64
		if err := tx.Model(&FriendEdge{}).
			Where("user_id = ? AND friend_user_id = ?", self.ID, other.ID).
			Count(&count).Error; err != nil {
			s.logError(opAdd, reasonQueryFailed, err, zap.Int64("user_id", self.ID))
			return apperr.FromStore(opAdd, reasonQueryFailed, err)
		}
		if count > 0 {
			return apperr.New(apperr.KindAlreadyFriends, opAdd, reasonAlready, nil)
		}

		today := CivilDate(s.now())
		edges := []FriendEdge{
			{UserID: self.ID, FriendUserID: other.ID, CreatedOn: today},
			{UserID: other.ID, FriendUserID: self.ID, CreatedOn: today},
		}
		if err := tx.Create(&edges).Error; err != nil {
			if apperr.IsUniqueViolation(err) {
				return apperr.New(apperr.KindAlreadyFriends, opAdd, reasonAlready, err)
			}
			s.logError(opAdd, reasonInsertFailed, err, zap.Int64("user_id", self.ID), zap.Int64("friend_user_id", other.ID))
			return apperr.FromStore(opAdd, reasonInsertFailed, err)
		}
		return nil
	})
}

// Remove deletes both directions of the friendship with the user registered under friendEmail.
// Missing edges are not an error.
func (s *Service) Remove(ctx context.Context, selfExternalID, friendEmail string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		self, err := users.FindByExternalID(tx, selfExternalID)
		if err != nil {
			return err
		}
		other, err := users.FindByEmail(tx, friendEmail)
		if err != nil {
			return err
		}
		err = tx.Where("(user_id = ? AND friend_user_id = ?) OR (user_id = ? AND friend_user_id = ?)",
			self.ID, other.ID, other.ID, self.ID).
			Delete(&FriendEdge{}).Error
		if err != nil {
			s.logError(opRemove, reasonDeleteFailed, err, zap.Int64("user_id", self.ID), zap.Int64("friend_user_id", other.ID))
			return apperr.FromStore(opRemove, reasonDeleteFailed, err)
		}
		return nil
	})
}

// List returns one entry per outbound edge owned by the user.
func (s *Service) List(ctx context.Context, selfExternalID string) ([]Friend, error) {
	db := s.db.WithContext(ctx)
	self, err := users.FindByExternalID(db, selfExternalID)
	if err != nil {
		return nil, err
	}
	rows, err := friendRows(db, self.ID, 0)
	if err != nil {
		s.logError(opList, reasonQueryFailed, err, zap.Int64("user_id", self.ID))
		return nil, apperr.FromStore(opList, reasonQueryFailed, err)
	}
	return rows, nil
}

// Detail returns the edge from self to the user behind query.
func (s *Service) Detail(ctx context.Context, selfExternalID, query string) (Friend, error) {
	db := s.db.WithContext(ctx)
	self, err := users.FindByExternalID(db, selfExternalID)
	if err != nil {
		return Friend{}, err
	}
	other, err := users.Lookup(db, query)
	if err != nil {
		return Friend{}, err
	}
	rows, err := friendRows(db, self.ID, other.ID)
	if err != nil {
		s.logError(opDetail, reasonQueryFailed, err, zap.Int64("user_id", self.ID))
		return Friend{}, apperr.FromStore(opDetail, reasonQueryFailed, err)
	}
	if len(rows) == 0 {
		return Friend{}, apperr.New(apperr.KindNotFound, opDetail, reasonEdgeNotFound, nil)
	}
	return rows[0], nil
}

// DeleteAllFor removes every edge that mentions the user, in either direction.
func DeleteAllFor(tx *gorm.DB, userID int64) error {
	if err := tx.Where("user_id = ? OR friend_user_id = ?", userID, userID).Delete(&FriendEdge{}).Error; err != nil {
		return apperr.FromStore(opDeleteAll, reasonDeleteFailed, err)
	}
	return nil
}

type friendRow struct {
	Email      string
	Username   string
	Friendship int
	CreatedOn  datatypes.Date
}

// friendRows reads the outbound edges of ownerID joined with the counterpart profile.
// A non-zero friendID narrows the result to that single counterpart.
func friendRows(db *gorm.DB, ownerID, friendID int64) ([]Friend, error) {
	query := db.Table("friends AS f").
		Select("u.email AS email, u.username AS username, f.friendship AS friendship, f.created_at AS created_on").
		Joins("JOIN users AS u ON u.id = f.friend_user_id").
		Where("f.user_id = ?", ownerID)
	if friendID != 0 {
		query = query.Where("f.friend_user_id = ?", friendID)
	}

	var rows []friendRow
	if err := query.Order("f.id ASC").Scan(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]Friend, 0, len(rows))
	for _, row := range rows {
		result = append(result, Friend{
			Email:      row.Email,
			Username:   row.Username,
			Friendship: row.Friendship,
			CreatedOn:  time.Time(row.CreatedOn),
		})
	}
	return result, nil
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
	s.logger.Error("friends service error", attrs...)
}
