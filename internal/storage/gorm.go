package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"forumclient/internal/config"
	"forumclient/internal/models"
	"forumclient/internal/observability"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// KVEntry is one persisted session key.
type KVEntry struct {
	Key       string `gorm:"primaryKey;size:191"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// TableName pins the table name regardless of naming strategy.
func (KVEntry) TableName() string { return "kv_entries" }

// gormLogger routes GORM diagnostics to slog. SQL text is never logged
// because bound values include the session token.
type gormLogger struct {
	level         logger.LogLevel
	slowThreshold time.Duration
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newlogger := *l
	newlogger.level = level
	return &newlogger
}

func (l *gormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Info {
		observability.GlobalLogger.InfoContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Warn {
		observability.GlobalLogger.WarnContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Error {
		observability.GlobalLogger.ErrorContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	_, rows := fc()

	switch {
	case err != nil && l.level >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		observability.GlobalLogger.ErrorContext(ctx, "GORM query error",
			slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
	case elapsed > l.slowThreshold && l.slowThreshold != 0 && l.level >= logger.Warn:
		observability.GlobalLogger.WarnContext(ctx, "GORM slow query",
			slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed),
		)
	}
}

// GormStorage stores keys in a SQL table through GORM.
type GormStorage struct {
	db     *gorm.DB
	driver string
	log    *observability.StorageLogger
}

// OpenGorm connects to sqlite (dsn is a file path) or postgres and migrates
// the kv_entries table.
func OpenGorm(driver, dsn string) (*GormStorage, error) {
	var dialector gorm.Dialector
	switch driver {
	case config.StorageSQLite:
		dialector = sqlite.Open(dsn)
	case config.StoragePostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported gorm driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: &gormLogger{level: logger.Warn, slowThreshold: 200 * time.Millisecond},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", driver, err)
	}
	if err := db.AutoMigrate(&KVEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate %s storage: %w", driver, err)
	}
	return NewGormStorage(db, driver), nil
}

// NewGormStorage wraps an already migrated connection.
func NewGormStorage(db *gorm.DB, driver string) *GormStorage {
	return &GormStorage{db: db, driver: driver, log: observability.NewStorageLogger(driver)}
}

func (s *GormStorage) Get(ctx context.Context, key string) (_ string, _ bool, err error) {
	span, ctx := observability.StartStorageSpan(ctx, s.driver, "get", key)
	defer func() { span.Finish(err) }()

	var entry KVEntry
	err = s.db.WithContext(ctx).Where(keyEq(key)).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		s.log.LogError(ctx, err, "get")
		return "", false, models.NewStorageError("read", err)
	}
	return entry.Value, true, nil
}

func (s *GormStorage) Set(ctx context.Context, key, value string) (err error) {
	span, ctx := observability.StartStorageSpan(ctx, s.driver, "set", key)
	defer func() { span.Finish(err) }()

	entry := KVEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		s.log.LogError(ctx, err, "set")
		return models.NewStorageError("write", err)
	}
	s.log.LogWrite(ctx, key)
	return nil
}

func (s *GormStorage) Remove(ctx context.Context, key string) (err error) {
	span, ctx := observability.StartStorageSpan(ctx, s.driver, "remove", key)
	defer func() { span.Finish(err) }()

	if err := s.db.WithContext(ctx).Where(keyEq(key)).Delete(&KVEntry{}).Error; err != nil {
		s.log.LogError(ctx, err, "remove")
		return models.NewStorageError("remove", err)
	}
	s.log.LogRemove(ctx, key)
	return nil
}

func keyEq(key string) clause.Eq {
	return clause.Eq{Column: clause.Column{Name: "key"}, Value: key}
}

func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
