package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark77234/Tomo/internal/apperr"
	"github.com/mark77234/Tomo/internal/groups"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew       = "appointments.service.new"
	opCreate           = "appointments.create"
	opGetByName        = "appointments.get_by_name"
	opListOfGroup      = "appointments.list_of_group"
	opDeleteForGroups  = "appointments.delete_for_groups"
	reasonNoSuchGroup  = "no_such_group"
	reasonNotFound     = "appointment_not_found"
	reasonDuplicate    = "name_and_slot_taken"
	reasonInvalidDate  = "invalid_date"
	reasonInvalidTime  = "invalid_time"
	reasonInvalidName  = "invalid_name"
	reasonQueryFailed  = "query_failed"
	reasonInsertFailed = "insert_failed"
	reasonDeleteFailed = "delete_failed"
)

var (
	errMissingDatabase = errors.New("appointments: database connection required")
	noOpLogger         = zap.NewNop()
)

// ServiceConfig describes the dependencies required by the appointment registry.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service maintains appointments scoped to groups.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// CreateRequest carries a new appointment. Date is YYYY-MM-DD; Time is HH:MM or HH:MM:SS.
type CreateRequest struct {
	GroupTitle string
	Name       string
	Date       string
	Time       string
	Location   string
}

// NewService constructs the appointment registry.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.New(apperr.KindInternal, opServiceNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, logger: logger}, nil
}

// Create books an appointment in the group. It is rejected as a duplicate only when the group
// already holds both an appointment with this name and one at this date and time.
func (s *Service) Create(ctx context.Context, request CreateRequest) (View, error) {
	name := strings.TrimSpace(request.Name)
	if name == "" {
		return View{}, apperr.New(apperr.KindInvalidInput, opCreate, reasonInvalidName, errors.New("name is required"))
	}
	date, err := ParseDate(request.Date)
	if err != nil {
		return View{}, apperr.New(apperr.KindInvalidInput, opCreate, reasonInvalidDate, err)
	}
	slot, err := ParseTime(request.Time)
	if err != nil {
		return View{}, apperr.New(apperr.KindInvalidInput, opCreate, reasonInvalidTime, err)
	}

	var created View
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := groups.FindByTitle(tx.Clauses(clause.Locking{Strength: "UPDATE"}), request.GroupTitle)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return apperr.New(apperr.KindNotFound, opCreate, reasonNoSuchGroup, err)
			}
			return err
		}

		nameTaken, err := s.exists(tx, "group_id = ? AND name = ?", group.ID, name)
		if err != nil {
			return err
		}
		slotTaken, err := s.exists(tx, "group_id = ? AND appointment_date = ? AND appointment_time = ?", group.ID, date, slot)
		if err != nil {
			return err
		}
		if nameTaken && slotTaken {
			return apperr.New(apperr.KindDuplicate, opCreate, reasonDuplicate, nil)
		}

		appointment := Appointment{
			GroupID:  group.ID,
			Name:     name,
			Date:     date,
			Time:     slot,
			Location: strings.TrimSpace(request.Location),
		}
		if err := tx.Create(&appointment).Error; err != nil {
			s.logError(opCreate, reasonInsertFailed, err, zap.Int64("group_id", group.ID))
			return apperr.FromStore(opCreate, reasonInsertFailed, err)
		}
		created = viewOf(appointment, group.Title)
		return nil
	})
	if err != nil {
		return View{}, err
	}
	return created, nil
}

// GetByName returns the earliest appointment carrying name.
func (s *Service) GetByName(ctx context.Context, name string) (View, error) {
	var appointment Appointment
	err := s.db.WithContext(ctx).
		Preload("Group").
		Where("name = ?", strings.TrimSpace(name)).
		Order("id ASC").
		Take(&appointment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return View{}, apperr.New(apperr.KindNotFound, opGetByName, reasonNotFound, err)
	}
	if err != nil {
		s.logError(opGetByName, reasonQueryFailed, err, zap.String("name", name))
		return View{}, apperr.FromStore(opGetByName, reasonQueryFailed, err)
	}
	return viewOf(appointment, appointment.Group.Title), nil
}

// ListOfGroup returns the group's appointments ordered by date and time.
func (s *Service) ListOfGroup(ctx context.Context, groupTitle string) ([]View, error) {
	db := s.db.WithContext(ctx)
	group, err := groups.FindByTitle(db, groupTitle)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, opListOfGroup, reasonNoSuchGroup, err)
		}
		return nil, err
	}

	var rows []Appointment
	if err := db.Where("group_id = ?", group.ID).Order("appointment_date ASC, appointment_time ASC, id ASC").Find(&rows).Error; err != nil {
		s.logError(opListOfGroup, reasonQueryFailed, err, zap.Int64("group_id", group.ID))
		return nil, apperr.FromStore(opListOfGroup, reasonQueryFailed, err)
	}
	views := make([]View, 0, len(rows))
	for _, row := range rows {
		views = append(views, viewOf(row, group.Title))
	}
	return views, nil
}

// DeleteForGroups removes every appointment of the given groups.
func DeleteForGroups(tx *gorm.DB, groupIDs []int64) error {
	if len(groupIDs) == 0 {
		return nil
	}
	if err := tx.Where("group_id IN ?", groupIDs).Delete(&Appointment{}).Error; err != nil {
		return apperr.FromStore(opDeleteForGroups, reasonDeleteFailed, err)
	}
	return nil
}

// ParseDate reads a YYYY-MM-DD calendar date.
func ParseDate(value string) (datatypes.Date, error) {
	parsed, err := time.ParseInLocation(dateLayout, strings.TrimSpace(value), time.UTC)
	if err != nil {
		return datatypes.Date{}, fmt.Errorf("date %q: %w", value, err)
	}
	return datatypes.Date(parsed), nil
}

// ParseTime reads a wall-clock time as HH:MM or HH:MM:SS.
func ParseTime(value string) (datatypes.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{timeLayoutFull, timeLayout} {
		parsed, err := time.Parse(layout, value)
		if err == nil {
			return datatypes.NewTime(parsed.Hour(), parsed.Minute(), parsed.Second(), 0), nil
		}
	}
	return 0, fmt.Errorf("time %q: expected HH:MM or HH:MM:SS", value)
}

func (s *Service) exists(tx *gorm.DB, condition string, args ...interface{}) (bool, error) {
	var count int64
	if err := tx.Model(&Appointment{}).Where(condition, args...).Count(&count).Error; err != nil {
		s.logError(opCreate, reasonQueryFailed, err)
		return false, apperr.FromStore(opCreate, reasonQueryFailed, err)
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
	s.logger.Error("appointments service error", attrs...)
}
