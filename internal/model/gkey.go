package model

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// GKeyStatus is the lifecycle state of a G-Key.
type GKeyStatus string

const (
	GKeyAvailable GKeyStatus = "available"
	GKeyLocked    GKeyStatus = "locked"
	GKeyCooloff   GKeyStatus = "cooloff"
)

// GKey is a per-user, per-category exclusivity key gating campaign participation.
type GKey struct {
	gorm.Model
	UserID                string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_gkey_user_category" json:"userId"`
	Category              string     `gorm:"type:varchar(128);not null;uniqueIndex:idx_gkey_user_category;index" json:"category"`
	Status                GKeyStatus `gorm:"type:varchar(20);default:'available';not null;index" json:"status"`
	UsageCount            int64      `gorm:"default:0;not null" json:"usageCount"`
	LastUsed              *time.Time `json:"lastUsed,omitempty"`
	CooloffEndsAt         *time.Time `gorm:"index" json:"cooloffEndsAt,omitempty"`
	LockedWith            *string    `gorm:"type:varchar(64)" json:"lockedWith,omitempty"`
	LockedAt              *time.Time `json:"lockedAt,omitempty"`
	LastBrandID           *string    `gorm:"type:varchar(64)" json:"lastBrandId,omitempty"`
	LastBrandCooloffHours int        `gorm:"default:0;not null" json:"lastBrandCooloffHours"`
}

// BeforeSave keeps stored categories in their matching form.
func (k *GKey) BeforeSave(tx *gorm.DB) error {
	if k.Category != "" {
		k.Category = NormalizeCategory(k.Category)
	}
	return nil
}

// NormalizeCategory returns the form categories are stored and matched in.
func NormalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

// CooloffActive reports whether the key is still inside its cooloff window at now.
func (k *GKey) CooloffActive(now time.Time) bool {
	return k.Status == GKeyCooloff && k.CooloffEndsAt != nil && now.Before(*k.CooloffEndsAt)
}

// IsLockedBy reports whether campaignID currently holds the lock.
func (k *GKey) IsLockedBy(campaignID string) bool {
	return k.Status == GKeyLocked && k.LockedWith != nil && *k.LockedWith == campaignID
}

// LastBrand returns the last completing brand, or "" if none.
func (k *GKey) LastBrand() string {
	if k.LastBrandID == nil {
		return ""
	}
	return *k.LastBrandID
}
