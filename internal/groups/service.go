package groups

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mark77234/Tomo/internal/apperr"
	"github.com/mark77234/Tomo/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew        = "groups.service.new"
	opCreate            = "groups.create"
	opSummary           = "groups.summary"
	opList              = "groups.list"
	opDetail            = "groups.detail"
	opFind              = "groups.find"
	opLeaderGroups      = "groups.leader_groups"
	opDeleteMembers     = "groups.delete_members"
	opDeleteGroups      = "groups.delete_groups"
	opLeaveGroups       = "groups.leave_non_leader"
	reasonTitleTaken    = "title_taken"
	reasonGroupNotFound = "group_not_found"
	reasonInvalidInput  = "invalid_input"
	reasonQueryFailed   = "query_failed"
	reasonInsertFailed  = "insert_failed"
	reasonDeleteFailed  = "delete_failed"
)

var (
	errMissingDatabase = errors.New("groups: database connection required")
	noOpLogger         = zap.NewNop()
)

// ServiceConfig describes the dependencies required for group membership.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service maintains groups and their rosters.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

// CreateRequest carries the founding data of a group.
type CreateRequest struct {
	LeaderExternalID string
	Title            string
	Description      string
	MemberEmails     []string
}

// NewService constructs the group membership service.
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

// Create inserts the group, its leader row and one row per distinct member email.
// Any unresolved email aborts the whole creation.
func (s *Service) Create(ctx context.Context, request CreateRequest) (Created, error) {
	title := strings.TrimSpace(request.Title)
	if title == "" {
		return Created{}, apperr.New(apperr.KindInvalidInput, opCreate, reasonInvalidInput, errors.New("title is required"))
	}

	var created Created
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Group{}).Where("title = ?", title).Count(&count).Error; err != nil {
			s.logError(opCreate, reasonQueryFailed, err, zap.String("title", title))
			return apperr.FromStore(opCreate, reasonQueryFailed, err)
		}
		if count > 0 {
			return apperr.New(apperr.KindDuplicate, opCreate, reasonTitleTaken, nil)
		}

		leader, err := users.FindByExternalID(tx, request.LeaderExternalID)
		if err != nil {
			return err
		}

		seen := map[string]struct{}{leader.Email: {}}
		members := make([]users.User, 0, len(request.MemberEmails))
		for _, email := range request.MemberEmails {
			email = strings.TrimSpace(email)
			if _, ok := seen[email]; ok {
				continue
			}
			member, err := users.FindByEmail(tx, email)
			if err != nil {
				return err
			}
			seen[email] = struct{}{}
			members = append(members, member)
		}

		group := Group{
			Title:       title,
			Description: request.Description,
			CreatedAt:   s.now().UTC(),
		}
		if err := tx.Create(&group).Error; err != nil {
			if apperr.IsUniqueViolation(err) {
				return apperr.New(apperr.KindDuplicate, opCreate, reasonTitleTaken, err)
			}
			s.logError(opCreate, reasonInsertFailed, err, zap.String("title", title))
			return apperr.FromStore(opCreate, reasonInsertFailed, err)
		}

		rows := make([]Member, 0, len(members)+1)
		rows = append(rows, Member{GroupID: group.ID, UserID: leader.ID, Leader: true})
		people := []string{leader.Email}
		for _, member := range members {
			rows = append(rows, Member{GroupID: group.ID, UserID: member.ID})
			people = append(people, member.Email)
		}
		if err := tx.Create(&rows).Error; err != nil {
			s.logError(opCreate, reasonInsertFailed, err, zap.Int64("group_id", group.ID))
			return apperr.FromStore(opCreate, reasonInsertFailed, err)
		}

		created = Created{
			ID:          group.ID,
			Title:       group.Title,
			Description: group.Description,
			People:      people,
		}
		return nil
	})
	if err != nil {
		return Created{}, err
	}
	return created, nil
}

// Summary describes the group from the viewer's perspective.
func (s *Service) Summary(ctx context.Context, groupID int64, viewerExternalID string) (Summary, error) {
	db := s.db.WithContext(ctx)
	viewer, err := users.FindByExternalID(db, viewerExternalID)
	if err != nil {
		return Summary{}, err
	}
	rows, err := summaries(db, viewer.ID, func(query *gorm.DB) *gorm.DB {
		return query.Where("g.id = ?", groupID)
	})
	if err != nil {
		s.logError(opSummary, reasonQueryFailed, err, zap.Int64("group_id", groupID))
		return Summary{}, apperr.FromStore(opSummary, reasonQueryFailed, err)
	}
	if len(rows) == 0 {
		return Summary{}, apperr.New(apperr.KindNotFound, opSummary, reasonGroupNotFound, nil)
	}
	return rows[0], nil
}

// ListForUser returns a summary for every group the user belongs to.
func (s *Service) ListForUser(ctx context.Context, externalID string) ([]Summary, error) {
	db := s.db.WithContext(ctx)
	viewer, err := users.FindByExternalID(db, externalID)
	if err != nil {
		return nil, err
	}
	rows, err := summaries(db, viewer.ID, func(query *gorm.DB) *gorm.DB {
		return query.Where("EXISTS (SELECT 1 FROM moim_members m WHERE m.group_id = g.id AND m.user_id = ?)", viewer.ID)
	})
	if err != nil {
		s.logError(opList, reasonQueryFailed, err, zap.Int64("user_id", viewer.ID))
		return nil, apperr.FromStore(opList, reasonQueryFailed, err)
	}
	return rows, nil
}

// Detail returns the group together with its full roster.
func (s *Service) Detail(ctx context.Context, groupID int64) (Detail, error) {
	db := s.db.WithContext(ctx)
	group, err := FindByID(db, groupID)
	if err != nil {
		return Detail{}, err
	}

	var roster []MemberView
	err = db.Table("moim_members AS m").
		Select("u.email AS email, m.leader AS leader").
		Joins("JOIN users AS u ON u.id = m.user_id").
		Where("m.group_id = ?", group.ID).
		Order("m.id ASC").
		Scan(&roster).Error
	if err != nil {
		s.logError(opDetail, reasonQueryFailed, err, zap.Int64("group_id", groupID))
		return Detail{}, apperr.FromStore(opDetail, reasonQueryFailed, err)
	}
	return Detail{
		ID:          group.ID,
		Title:       group.Title,
		Description: group.Description,
		Members:     roster,
		CreatedAt:   group.CreatedAt,
	}, nil
}

func summaries(db *gorm.DB, viewerID int64, scope func(*gorm.DB) *gorm.DB) ([]Summary, error) {
	query := db.Table("moims AS g").
		Select(`g.id AS id, g.title AS title, g.description AS description, g.created_at AS created_at,
			(SELECT COUNT(*) FROM moim_members c WHERE c.group_id = g.id) AS people_count,
			EXISTS (SELECT 1 FROM moim_members l WHERE l.group_id = g.id AND l.user_id = ? AND l.leader = ?) AS leader`,
			viewerID, true)

	var rows []Summary
	if err := scope(query).Order("g.id ASC").Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FindByID loads a group inside the supplied handle, which may be a transaction.
func FindByID(db *gorm.DB, groupID int64) (Group, error) {
	var group Group
	err := db.Where("id = ?", groupID).Take(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Group{}, apperr.New(apperr.KindNotFound, opFind, reasonGroupNotFound, err)
	}
	if err != nil {
		return Group{}, apperr.FromStore(opFind, reasonQueryFailed, err)
	}
	return group, nil
}

// FindByTitle loads a group by its unique title.
func FindByTitle(db *gorm.DB, title string) (Group, error) {
	var group Group
	err := db.Where("title = ?", strings.TrimSpace(title)).Take(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Group{}, apperr.New(apperr.KindNotFound, opFind, reasonGroupNotFound, err)
	}
	if err != nil {
		return Group{}, apperr.FromStore(opFind, reasonQueryFailed, err)
	}
	return group, nil
}

// IsLeader reports whether the user holds the leader row of the group.
func IsLeader(db *gorm.DB, groupID, userID int64) (bool, error) {
	var count int64
	err := db.Model(&Member{}).
		Where("group_id = ? AND user_id = ? AND leader = ?", groupID, userID, true).
		Count(&count).Error
	if err != nil {
		return false, apperr.FromStore(opFind, reasonQueryFailed, err)
	}
	return count > 0, nil
}

// LeaderGroupIDs lists the groups led by the user.
func LeaderGroupIDs(db *gorm.DB, userID int64) ([]int64, error) {
	var ids []int64
	err := db.Model(&Member{}).
		Where("user_id = ? AND leader = ?", userID, true).
		Order("group_id ASC").
		Pluck("group_id", &ids).Error
	if err != nil {
		return nil, apperr.FromStore(opLeaderGroups, reasonQueryFailed, err)
	}
	return ids, nil
}

// DeleteMembers removes every roster row of the given groups, leaders included.
func DeleteMembers(tx *gorm.DB, groupIDs []int64) error {
	if len(groupIDs) == 0 {
		return nil
	}
	if err := tx.Where("group_id IN ?", groupIDs).Delete(&Member{}).Error; err != nil {
		return apperr.FromStore(opDeleteMembers, reasonDeleteFailed, err)
	}
	return nil
}

// DeleteGroups removes the group rows. Rosters and appointments must already be gone.
func DeleteGroups(tx *gorm.DB, groupIDs []int64) error {
	if len(groupIDs) == 0 {
		return nil
	}
	if err := tx.Where("id IN ?", groupIDs).Delete(&Group{}).Error; err != nil {
		return apperr.FromStore(opDeleteGroups, reasonDeleteFailed, err)
	}
	return nil
}

// LeaveNonLeaderGroups drops the user's plain memberships; leader rows are untouched.
func LeaveNonLeaderGroups(tx *gorm.DB, userID int64) error {
	if err := tx.Where("user_id = ? AND leader = ?", userID, false).Delete(&Member{}).Error; err != nil {
		return apperr.FromStore(opLeaveGroups, reasonDeleteFailed, err)
	}
	return nil
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
	s.logger.Error("groups service error", attrs...)
}
