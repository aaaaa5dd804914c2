// Package settings persists the sidecar's global-scope configuration:
// server URL, access token, active stack, active project. Backed by an
// embedded SQLite file so state survives editor restarts.
package settings

import (
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-faster/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Persisted keys. Global scope, one row per key.
const (
	KeyServerURL     = "server.url"
	KeyAccessToken   = "server.access_token"
	KeyActiveStack   = "active.stack_id"
	KeyActiveProject = "active.project_name"
)

// Setting is one key/value row.
type Setting struct {
	Key       string `gorm:"primaryKey;type:text"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (Setting) TableName() string { return "settings" }

// Store wraps the settings database.
type Store struct {
	db *gorm.DB
}

// Open opens (and migrates) the settings database at path. Use
// ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open settings db %s", path)
	}
	if err := db.AutoMigrate(&Setting{}); err != nil {
		return nil, errors.Wrap(err, "migrate settings schema")
	}
	return &Store{db: db}, nil
}

// Get returns the value for key, or "" when unset.
func (s *Store) Get(key string) (string, error) {
	var row Setting
	err := s.db.Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "get setting %s", key)
	}
	return row.Value, nil
}

// Set upserts one key.
func (s *Store) Set(key, value string) error {
	row := Setting{Key: key, Value: value, UpdatedAt: time.Now()}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return errors.Wrapf(err, "set setting %s", key)
	}
	return nil
}

// Delete removes one key. Missing keys are not an error.
func (s *Store) Delete(key string) error {
	if err := s.db.Where("key = ?", key).Delete(&Setting{}).Error; err != nil {
		return errors.Wrapf(err, "delete setting %s", key)
	}
	return nil
}

// Typed accessors for the well-known keys.

func (s *Store) ServerURL() (string, error) { return s.Get(KeyServerURL) }
func (s *Store) AccessToken() (string, error) { return s.Get(KeyAccessToken) }
func (s *Store) ActiveStack() (string, error) { return s.Get(KeyActiveStack) }
func (s *Store) ActiveProject() (string, error) { return s.Get(KeyActiveProject) }

// SetServerConfig persists the URL and token together so a reconnect
// never observes a half-updated pair.
func (s *Store) SetServerConfig(url, token string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, kv := range []Setting{
			{Key: KeyServerURL, Value: url, UpdatedAt: time.Now()},
			{Key: KeyAccessToken, Value: token, UpdatedAt: time.Now()},
		} {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			}).Create(&kv).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
