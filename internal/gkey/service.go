package gkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"streamads/internal/db"
	"streamads/internal/events"
	"streamads/internal/logger"
	"streamads/internal/model"

	"gorm.io/gorm"
)

// Manager defines the G-Key operations used by the HTTP layer and the scheduler.
// This allows for mocking in tests.
type Manager interface {
	Get(userID, category string) (*model.GKey, error)
	ListForUser(userID string) ([]model.GKey, error)
	FindByCategory(category string) ([]model.GKey, error)
	Acquire(req AcquireRequest) (*model.GKey, error)
	Release(req ReleaseRequest) (*model.GKey, error)
	Seed(userID string, categories []string) (int, error)
	Reset(id uint) (*model.GKey, error)
	Sweep() (int, error)
}

// MaxCooloffHours is the longest cooloff a release may ask for (one year).
const MaxCooloffHours = 8760

// AcquireRequest locks a key when a streamer joins a campaign.
type AcquireRequest struct {
	UserID     string
	Category   string
	CampaignID string
	BrandID    string
}

// ReleaseRequest releases a key when a campaign completes or the streamer exits it.
// CampaignID is optional; when set, the lock must be held by that campaign.
type ReleaseRequest struct {
	UserID       string
	Category     string
	CampaignID   string
	BrandID      string
	CooloffHours int
}

// Service implements Manager on top of db.Service conditional writes.
type Service struct {
	db        db.Service
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a G-Key service. publisher may be nil.
func NewService(dbService db.Service, publisher events.Publisher, log *slog.Logger) *Service {
	return &Service{
		db:        dbService,
		publisher: publisher,
		logger:    logger.Component(log, "gkey"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the caller's key for category, creating it on first use.
func (s *Service) Get(userID, category string) (*model.GKey, error) {
	category = model.NormalizeCategory(category)
	if userID == "" || category == "" {
		return nil, invalid("user and category are required")
	}
	key, err := s.db.EnsureGKey(userID, category)
	if err != nil {
		return nil, err
	}
	s.expireIfDue(key, s.now())
	return key, nil
}

// ListForUser returns every key the user holds.
func (s *Service) ListForUser(userID string) ([]model.GKey, error) {
	if userID == "" {
		return nil, invalid("user is required")
	}
	keys, err := s.db.ListGKeysByUser(userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range keys {
		s.expireIfDue(&keys[i], now)
	}
	return keys, nil
}

// FindByCategory returns every key in category, matched case-insensitively.
func (s *Service) FindByCategory(category string) ([]model.GKey, error) {
	category = model.NormalizeCategory(category)
	if category == "" {
		return nil, invalid("category is required")
	}
	keys, err := s.db.ListGKeysByCategory(category)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range keys {
		s.expireIfDue(&keys[i], now)
	}
	return keys, nil
}

// Acquire locks the key for the campaign. A key in cooloff can be taken only
// by the brand that started the cooloff, or by anyone once it has ended.
func (s *Service) Acquire(req AcquireRequest) (*model.GKey, error) {
	category := model.NormalizeCategory(req.Category)
	if err := requireFields(map[string]string{
		"user":     req.UserID,
		"category": category,
		"campaign": req.CampaignID,
		"brand":    req.BrandID,
	}); err != nil {
		return nil, err
	}

	if _, err := s.db.EnsureGKey(req.UserID, category); err != nil {
		return nil, err
	}

	now := s.now()
	locked, err := s.db.AcquireGKey(req.UserID, category, req.CampaignID, req.BrandID, now)
	if err != nil {
		return nil, err
	}

	key, err := s.db.FindGKey(req.UserID, category)
	if err != nil {
		return nil, err
	}

	if !locked {
		if key.IsLockedBy(req.CampaignID) {
			return key, nil
		}
		if err := CheckAcquire(key, req.CampaignID, req.BrandID, now); err != nil {
			s.logger.Debug("G-Key acquire refused", "user_id", req.UserID, "category", category, "campaign_id", req.CampaignID, "reason", err)
			return nil, err
		}
		return nil, ErrConflict
	}

	s.logger.Info("G-Key locked", "user_id", req.UserID, "category", category, "campaign_id", req.CampaignID, "brand_id", req.BrandID)
	s.publish(events.GKeyEvent{
		Type:       events.GKeyLocked,
		KeyID:      key.ID,
		UserID:     key.UserID,
		Category:   key.Category,
		Status:     string(key.Status),
		CampaignID: req.CampaignID,
		BrandID:    req.BrandID,
		OccurredAt: now,
	})
	return key, nil
}

// Release ends the campaign's hold on the key and starts the brand-aware cooloff.
func (s *Service) Release(req ReleaseRequest) (*model.GKey, error) {
	category := model.NormalizeCategory(req.Category)
	if err := requireFields(map[string]string{
		"user":     req.UserID,
		"category": category,
		"brand":    req.BrandID,
	}); err != nil {
		return nil, err
	}
	if req.CooloffHours < 0 || req.CooloffHours > MaxCooloffHours {
		return nil, invalid("cooloff hours must be between 0 and %d, got %d", MaxCooloffHours, req.CooloffHours)
	}

	current, err := s.db.FindGKey(req.UserID, category)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %q for user %s", ErrKeyNotFound, category, req.UserID)
		}
		return nil, err
	}
	if current.Status != model.GKeyLocked {
		return nil, fmt.Errorf("%w: key is %s", ErrKeyNotLocked, current.Status)
	}
	if req.CampaignID != "" && !current.IsLockedBy(req.CampaignID) {
		return nil, ErrKeyNotLocked
	}

	now := s.now()
	hours := EffectiveCooloff(current, req.BrandID, req.CooloffHours)
	release := db.GKeyRelease{
		Status:                model.GKeyAvailable,
		LastUsed:              now,
		LastBrandID:           req.BrandID,
		LastBrandCooloffHours: hours,
	}
	if hours > 0 {
		endsAt := now.Add(time.Duration(hours) * time.Hour)
		release.Status = model.GKeyCooloff
		release.CooloffEndsAt = &endsAt
	}

	released, err := s.db.ReleaseGKey(current, release)
	if err != nil {
		return nil, err
	}
	if !released {
		return nil, ErrConflict
	}

	key, err := s.db.GetGKey(current.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("G-Key released", "user_id", req.UserID, "category", category, "brand_id", req.BrandID, "cooloff_hours", hours, "status", key.Status)
	s.publish(events.GKeyEvent{
		Type:          events.GKeyReleased,
		KeyID:         key.ID,
		UserID:        key.UserID,
		Category:      key.Category,
		Status:        string(key.Status),
		CampaignID:    stringValue(current.LockedWith),
		BrandID:       req.BrandID,
		CooloffHours:  hours,
		CooloffEndsAt: release.CooloffEndsAt,
		OccurredAt:    now,
	})
	return key, nil
}

// Seed backfills available keys for the user's categories.
func (s *Service) Seed(userID string, categories []string) (int, error) {
	if userID == "" {
		return 0, invalid("user is required")
	}
	created, err := s.db.SeedGKeys(userID, categories)
	if err != nil {
		return created, err
	}
	s.logger.Info("Seeded G-Keys", "user_id", userID, "created", created)
	return created, nil
}

// Reset forces a key back to available regardless of lock or cooloff.
func (s *Service) Reset(id uint) (*model.GKey, error) {
	ok, err := s.db.ResetGKey(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrKeyNotFound, id)
	}
	key, err := s.db.GetGKey(id)
	if err != nil {
		return nil, err
	}
	s.logger.Warn("G-Key reset by admin", "key_id", id, "user_id", key.UserID, "category", key.Category)
	s.publish(events.GKeyEvent{
		Type:       events.GKeyAvailable,
		KeyID:      key.ID,
		UserID:     key.UserID,
		Category:   key.Category,
		Status:     string(key.Status),
		OccurredAt: s.now(),
	})
	return key, nil
}

// Sweep moves every key whose cooloff has ended back to available.
// It returns the number of keys transitioned.
func (s *Service) Sweep() (int, error) {
	now := s.now()
	keys, err := s.db.ListExpiredCooloffs(now)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range keys {
		ok, err := s.db.ExpireGKey(keys[i].ID, now)
		if err != nil {
			s.logger.Error("Failed to expire cooloff", "key_id", keys[i].ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		count++
		keys[i].Status = model.GKeyAvailable
		s.publishAvailable(&keys[i], now)
	}
	if count > 0 {
		s.logger.Info("Cooloff sweep finished", "expired", count)
	}
	return count, nil
}

// expireIfDue performs the on-read cooloff expiry for key.
func (s *Service) expireIfDue(key *model.GKey, now time.Time) {
	if !expired(key, now) {
		return
	}
	ok, err := s.db.ExpireGKey(key.ID, now)
	if err != nil {
		s.logger.Warn("Failed to expire cooloff on read", "key_id", key.ID, "error", err)
		return
	}
	if !ok {
		// Someone else moved it first; report what is stored now.
		if fresh, err := s.db.GetGKey(key.ID); err == nil {
			*key = *fresh
		}
		return
	}
	key.Status = model.GKeyAvailable
	s.publishAvailable(key, now)
}

func (s *Service) publishAvailable(key *model.GKey, now time.Time) {
	s.publish(events.GKeyEvent{
		Type:       events.GKeyAvailable,
		KeyID:      key.ID,
		UserID:     key.UserID,
		Category:   key.Category,
		Status:     string(model.GKeyAvailable),
		BrandID:    key.LastBrand(),
		OccurredAt: now,
	})
}

func (s *Service) publish(event events.GKeyEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(context.Background(), event); err != nil {
		s.logger.Warn("Failed to publish G-Key event", "type", event.Type, "key_id", event.KeyID, "error", err)
	}
}

func requireFields(fields map[string]string) error {
	var missing []string
	for _, name := range []string{"user", "category", "campaign", "brand"} {
		if value, ok := fields[name]; ok && strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return invalid("missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
