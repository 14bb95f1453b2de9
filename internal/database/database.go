package database

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/launchkit/template-store/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type DB struct {
	*gorm.DB
}

func New(cfg *config.Config) (*DB, error) {
	var dialector gorm.Dialector

	switch cfg.DBDriver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DatabasePath())
	case "postgres":
		if cfg.DBDSN == "" {
			return nil, fmt.Errorf("TEMPLATE_STORE_DB_DSN is required for postgres")
		}
		dialector = postgres.Open(cfg.DBDSN)
	case "mysql":
		if cfg.DBDSN == "" {
			return nil, fmt.Errorf("TEMPLATE_STORE_DB_DSN is required for mysql")
		}
		dialector = mysql.Open(cfg.DBDSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.DBDriver)
	}

	gormLogger := logger.Default.LogMode(logger.Silent)
	if cfg.DevMode {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	// Completed sales with no access record need manual reconciliation
	// (a crash between webhook dispatch and fulfillment). Surface them.
	var orphaned int64
	db.Model(&Sale{}).
		Where("status = ?", SaleStatusCompleted).
		Where("id NOT IN (SELECT sale_id FROM customer_accesses)").
		Count(&orphaned)
	if orphaned > 0 {
		slog.Warn("Completed sales without access records", "count", orphaned)
	}

	slog.Info("Database connected", "driver", cfg.DBDriver)

	return &DB{DB: db}, nil
}

func runMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&Sale{},
		&CustomerAccess{},
		&DownloadAudit{},
		&WebhookEvent{},
		&Subscription{},
		&Provider{},
		&Setting{},
	)
}

// InsertWebhookEvent records an event ID for deduplication. It returns
// duplicate=true when the ID was already recorded, including when a
// concurrent insert won the race for the unique index.
func (db *DB) InsertWebhookEvent(eventID, eventType string) (duplicate bool, err error) {
	event := &WebhookEvent{EventID: eventID, EventType: eventType}
	if err := db.Create(event).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return true, nil
		}
		var count int64
		db.Model(&WebhookEvent{}).Where("event_id = ?", eventID).Count(&count)
		if count > 0 {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

func (db *DB) GetSetting(key string) (string, error) {
	var setting Setting
	if err := db.Where("key = ?", key).First(&setting).Error; err != nil {
		return "", err
	}
	return setting.Value, nil
}

func (db *DB) SetSetting(key, value string) error {
	return db.Save(&Setting{Key: key, Value: value}).Error
}

func (db *DB) HasSetting(key string) bool {
	var count int64
	db.Model(&Setting{}).Where("key = ?", key).Count(&count)
	return count > 0
}
