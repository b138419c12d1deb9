package audit

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/srobinson/alphab-auth-gateway/pkg/encryption"
)

// Store persists audit events to Postgres or SQLite. Record never returns
// an error because an audit write must not fail the request that produced
// the event.
type Store struct {
	db        *gorm.DB
	dbType    string // "postgres" or "sqlite"
	cipher    *encryption.Cipher
	retention time.Duration
}

// NewStore opens the audit database and migrates the schema. An empty DSN
// falls back to a local SQLite file under data/; a postgres:// or
// postgresql:// DSN selects the Postgres driver; anything else is treated
// as a SQLite path. A non-nil cipher encrypts event details at rest.
func NewStore(dsn string, cipher *encryption.Cipher, retentionDays int) (*Store, error) {
	var gormDB *gorm.DB
	var dbType string
	var err error

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	if dsn == "" {
		dataDir := "data"
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		gormDB, err = gorm.Open(sqlite.Open(filepath.Join(dataDir, "auth_gateway.db")), gormConfig)
		dbType = "sqlite"
	} else if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		gormDB, err = gorm.Open(postgres.Open(dsn), gormConfig)
		dbType = "postgres"
	} else {
		gormDB, err = gorm.Open(sqlite.Open(dsn), gormConfig)
		dbType = "sqlite"
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	if err := gormDB.AutoMigrate(&Event{}); err != nil {
		return nil, fmt.Errorf("failed to migrate audit schema: %w", err)
	}

	return &Store{
		db:        gormDB,
		dbType:    dbType,
		cipher:    cipher,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
	}, nil
}

// Record persists the event. Failures are logged and swallowed.
func (s *Store) Record(event *Event) {
	stored := *event
	if s.cipher != nil && stored.Details != "" {
		encrypted, err := s.cipher.EncryptString(stored.Details)
		if err != nil {
			log.Printf("Failed to encrypt audit details: %v", err)
			stored.Details = ""
		} else {
			stored.Details = encrypted
		}
	}
	if err := s.db.Create(&stored).Error; err != nil {
		log.Printf("Failed to record audit event: %v", err)
	}
}

// RecentEvents returns the newest events for a user, decrypting details
// when a cipher is configured.
func (s *Store) RecentEvents(userID string, limit int) ([]Event, error) {
	var events []Event
	err := s.db.Where("user_id = ?", userID).Order("timestamp DESC").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, err
	}
	if s.cipher != nil {
		for i := range events {
			if events[i].Details == "" {
				continue
			}
			if decrypted, err := s.cipher.DecryptString(events[i].Details); err == nil {
				events[i].Details = decrypted
			}
		}
	}
	return events, nil
}

// CleanupExpired deletes events older than the retention window.
func (s *Store) CleanupExpired() error {
	if s.retention <= 0 {
		return nil
	}
	result := s.db.Where("timestamp < ?", time.Now().Add(-s.retention)).Delete(&Event{})
	if result.Error != nil {
		return fmt.Errorf("failed to cleanup audit events: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		fmt.Printf("Deleted %d expired audit events\n", result.RowsAffected)
	}
	return nil
}

// Start launches the hourly retention cleanup. The loop stops when ctx is
// cancelled.
func (s *Store) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.CleanupExpired(); err != nil {
					log.Printf("Failed to cleanup audit events: %v", err)
				}
			}
		}
	}()
}

// Close closes the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
