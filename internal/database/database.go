package database

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/mark77234/Tomo/internal/appointments"
	"github.com/mark77234/Tomo/internal/config"
	"github.com/mark77234/Tomo/internal/friends"
	"github.com/mark77234/Tomo/internal/groups"
	"github.com/mark77234/Tomo/internal/users"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// Options selects and locates the backing store.
type Options struct {
	Driver string
	Path   string
	DSN    string
	Logger *zap.Logger
}

// Models lists every persisted type in dependency order.
func Models() []interface{} {
	return []interface{}{
		&users.User{},
		&friends.FriendEdge{},
		&groups.Group{},
		&groups.Member{},
		&appointments.Appointment{},
		&migrationRecord{},
	}
}

// Open connects to the configured driver and brings the schema up to date.
func Open(options Options) (*gorm.DB, error) {
	switch options.Driver {
	case config.DriverSQLite, "":
		return OpenSQLite(options.Path, options.Logger)
	case config.DriverPostgres:
		return OpenPostgres(options.DSN, options.Logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", options.Driver)
	}
}

// OpenSQLite establishes a SQLite connection with foreign keys enforced and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	db, err := gorm.Open(sqlite.Open(path+separator+sqlitePragmas), gormConfig())
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("database initialized", zap.String("driver", config.DriverSQLite), zap.String("path", path))
	}
	return db, nil
}

// OpenPostgres establishes a PostgreSQL connection and performs schema migrations.
func OpenPostgres(dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, logger); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("database initialized", zap.String("driver", config.DriverPostgres))
	}
	return db, nil
}

// Migrate creates missing tables and indexes, then applies named migrations once each.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	}
}
