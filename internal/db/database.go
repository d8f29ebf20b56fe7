package db

import (
	"fmt"
	"time"

	"streamads/internal/config"
	"streamads/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service is the persistence boundary for G-Keys and notifications.
// Every state transition on a G-Key is a conditional write; a false return
// means the row did not match the expected state and nothing was changed.
type Service interface {
	GetDB() *gorm.DB

	GetGKey(id uint) (*model.GKey, error)
	FindGKey(userID, category string) (*model.GKey, error)
	EnsureGKey(userID, category string) (*model.GKey, error)
	SeedGKeys(userID string, categories []string) (int, error)
	ListGKeysByUser(userID string) ([]model.GKey, error)
	ListGKeysByCategory(category string) ([]model.GKey, error)
	ListGKeys(page, limit int, statusFilter, categoryFilter string) ([]model.GKey, int64, error)
	ListExpiredCooloffs(now time.Time) ([]model.GKey, error)

	AcquireGKey(userID, category, campaignID, brandID string, now time.Time) (bool, error)
	ReleaseGKey(current *model.GKey, release GKeyRelease) (bool, error)
	ExpireGKey(id uint, now time.Time) (bool, error)
	ResetGKey(id uint) (bool, error)

	CreateNotification(n *model.Notification) error
	ListNotifications(userID string, limit int) ([]model.Notification, error)
	MarkNotificationRead(userID, id string) (bool, error)
}

// GKeyRelease carries the values written when a locked key is released.
type GKeyRelease struct {
	Status                model.GKeyStatus
	CooloffEndsAt         *time.Time
	LastUsed              time.Time
	LastBrandID           string
	LastBrandCooloffHours int
}

type service struct {
	db *gorm.DB
}

// NewService opens the configured database and migrates the schema.
func NewService(cfg config.DatabaseConfig) (Service, error) {
	db, err := Init(cfg)
	if err != nil {
		return nil, err
	}
	return &service{db: db}, nil
}

// Init initializes the database connection based on the provided configuration.
func Init(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Type == "sqlite" {
		// SQLite allows a single writer; an in-memory database also lives only as long as its connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&model.GKey{}, &model.Notification{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	return db, nil
}

func (s *service) GetDB() *gorm.DB {
	return s.db
}

func (s *service) GetGKey(id uint) (*model.GKey, error) {
	var key model.GKey
	if err := s.db.First(&key, id).Error; err != nil {
		return nil, fmt.Errorf("failed to get g-key %d: %w", id, err)
	}
	return &key, nil
}

// FindGKey looks a key up by owner and category. The category must already be normalized.
func (s *service) FindGKey(userID, category string) (*model.GKey, error) {
	var key model.GKey
	err := s.db.Where("user_id = ? AND category = ?", userID, category).First(&key).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find g-key for user %s in %q: %w", userID, category, err)
	}
	return &key, nil
}

// EnsureGKey returns the key for (userID, category), creating an available one if none exists.
// Concurrent creators race on the unique index; the loser simply reads the winner's row.
func (s *service) EnsureGKey(userID, category string) (*model.GKey, error) {
	key := model.GKey{UserID: userID, Category: category, Status: model.GKeyAvailable}
	if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&key).Error; err != nil {
		return nil, fmt.Errorf("failed to create g-key for user %s in %q: %w", userID, category, err)
	}
	return s.FindGKey(userID, model.NormalizeCategory(category))
}

// SeedGKeys creates available keys for every category the user does not hold yet.
// It returns the number of keys created.
func (s *service) SeedGKeys(userID string, categories []string) (int, error) {
	created := 0
	seen := make(map[string]struct{}, len(categories))
	for _, category := range categories {
		category = model.NormalizeCategory(category)
		if category == "" {
			continue
		}
		if _, dup := seen[category]; dup {
			continue
		}
		seen[category] = struct{}{}

		key := model.GKey{UserID: userID, Category: category, Status: model.GKeyAvailable}
		result := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&key)
		if result.Error != nil {
			return created, fmt.Errorf("failed to seed g-key %q for user %s: %w", category, userID, result.Error)
		}
		created += int(result.RowsAffected)
	}
	return created, nil
}

func (s *service) ListGKeysByUser(userID string) ([]model.GKey, error) {
	var keys []model.GKey
	if err := s.db.Where("user_id = ?", userID).Order("category asc").Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list g-keys for user %s: %w", userID, err)
	}
	return keys, nil
}

func (s *service) ListGKeysByCategory(category string) ([]model.GKey, error) {
	var keys []model.GKey
	if err := s.db.Where("category = ?", category).Order("user_id asc").Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list g-keys in %q: %w", category, err)
	}
	return keys, nil
}

// ListGKeys returns one page of keys plus the total number of matching rows.
func (s *service) ListGKeys(page, limit int, statusFilter, categoryFilter string) ([]model.GKey, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}

	query := s.db.Model(&model.GKey{})
	if statusFilter != "" {
		query = query.Where("status = ?", statusFilter)
	}
	if categoryFilter != "" {
		query = query.Where("category = ?", model.NormalizeCategory(categoryFilter))
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count g-keys: %w", err)
	}

	var keys []model.GKey
	err := query.Order("id asc").Offset((page - 1) * limit).Limit(limit).Find(&keys).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list g-keys: %w", err)
	}
	return keys, total, nil
}

func (s *service) ListExpiredCooloffs(now time.Time) ([]model.GKey, error) {
	var keys []model.GKey
	err := s.db.Where("status = ? AND (cooloff_ends_at IS NULL OR cooloff_ends_at <= ?)", model.GKeyCooloff, now).
		Find(&keys).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired cooloffs: %w", err)
	}
	return keys, nil
}

// AcquireGKey locks the key for campaignID if it is available, in cooloff from
// the same brand, or in a cooloff that has already ended.
func (s *service) AcquireGKey(userID, category, campaignID, brandID string, now time.Time) (bool, error) {
	acquirable := s.db.Where("status = ?", model.GKeyAvailable).
		Or("status = ? AND last_brand_id = ?", model.GKeyCooloff, brandID).
		Or("status = ? AND (cooloff_ends_at IS NULL OR cooloff_ends_at <= ?)", model.GKeyCooloff, now)

	result := s.db.Model(&model.GKey{}).
		Where("user_id = ? AND category = ?", userID, category).
		Where(acquirable).
		Updates(map[string]interface{}{
			"status":      model.GKeyLocked,
			"locked_with": campaignID,
			"locked_at":   now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to acquire g-key for user %s in %q: %w", userID, category, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ReleaseGKey applies release to current, provided the row still holds the
// lock and brand state that current was read with.
func (s *service) ReleaseGKey(current *model.GKey, release GKeyRelease) (bool, error) {
	query := s.db.Model(&model.GKey{}).
		Where("id = ? AND status = ? AND last_brand_cooloff_hours = ?", current.ID, model.GKeyLocked, current.LastBrandCooloffHours)
	if current.LockedWith != nil {
		query = query.Where("locked_with = ?", *current.LockedWith)
	} else {
		query = query.Where("locked_with IS NULL")
	}
	if current.LastBrandID != nil {
		query = query.Where("last_brand_id = ?", *current.LastBrandID)
	} else {
		query = query.Where("last_brand_id IS NULL")
	}

	result := query.Updates(map[string]interface{}{
		"status":                   release.Status,
		"cooloff_ends_at":          release.CooloffEndsAt,
		"last_used":                release.LastUsed,
		"last_brand_id":            release.LastBrandID,
		"last_brand_cooloff_hours": release.LastBrandCooloffHours,
		"locked_with":              nil,
		"locked_at":                nil,
		"usage_count":              gorm.Expr("usage_count + 1"),
	})
	if result.Error != nil {
		return false, fmt.Errorf("failed to release g-key %d: %w", current.ID, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ExpireGKey moves a key whose cooloff has ended back to available.
// The residual cooloff_ends_at is kept.
func (s *service) ExpireGKey(id uint, now time.Time) (bool, error) {
	result := s.db.Model(&model.GKey{}).
		Where("id = ? AND status = ? AND (cooloff_ends_at IS NULL OR cooloff_ends_at <= ?)", id, model.GKeyCooloff, now).
		Update("status", model.GKeyAvailable)
	if result.Error != nil {
		return false, fmt.Errorf("failed to expire cooloff for g-key %d: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ResetGKey forces a key back to available, dropping any lock or cooloff.
func (s *service) ResetGKey(id uint) (bool, error) {
	result := s.db.Model(&model.GKey{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":          model.GKeyAvailable,
		"locked_with":     nil,
		"locked_at":       nil,
		"cooloff_ends_at": nil,
	})
	if result.Error != nil {
		return false, fmt.Errorf("failed to reset g-key %d: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *service) CreateNotification(n *model.Notification) error {
	if err := s.db.Create(n).Error; err != nil {
		return fmt.Errorf("failed to create notification for user %s: %w", n.UserID, err)
	}
	return nil
}

// ListNotifications returns the user's most recent notifications first.
func (s *service) ListNotifications(userID string, limit int) ([]model.Notification, error) {
	if limit < 1 {
		limit = 50
	}
	var notifications []model.Notification
	err := s.db.Where("user_id = ?", userID).Order("created_at desc").Limit(limit).Find(&notifications).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications for user %s: %w", userID, err)
	}
	return notifications, nil
}

func (s *service) MarkNotificationRead(userID, id string) (bool, error) {
	result := s.db.Model(&model.Notification{}).Where("id = ? AND user_id = ?", id, userID).Update("read", true)
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark notification %s read: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}
