package gkey

import (
	"time"

	"streamads/internal/model"
)

// EffectiveCooloff returns the cooloff hours a release by brandID should apply.
// Consecutive campaigns from the same brand keep the highest cooloff seen;
// a different brand starts over with its own value.
func EffectiveCooloff(key *model.GKey, brandID string, cooloffHours int) int {
	if key.LastBrand() == brandID && key.LastBrandCooloffHours > cooloffHours {
		return key.LastBrandCooloffHours
	}
	return cooloffHours
}

// CheckAcquire reports whether campaignID from brandID may lock key at now.
// A nil error means the key can be locked.
func CheckAcquire(key *model.GKey, campaignID, brandID string, now time.Time) error {
	switch key.Status {
	case model.GKeyAvailable:
		return nil
	case model.GKeyLocked:
		if key.IsLockedBy(campaignID) {
			return nil
		}
		return ErrKeyUnavailable
	case model.GKeyCooloff:
		if key.LastBrand() == brandID || !key.CooloffActive(now) {
			return nil
		}
		return &CooloffError{Category: key.Category, EndsAt: *key.CooloffEndsAt}
	default:
		return ErrKeyUnavailable
	}
}

// expired reports whether a cooling key should already read as available.
func expired(key *model.GKey, now time.Time) bool {
	return key.Status == model.GKeyCooloff && (key.CooloffEndsAt == nil || !now.Before(*key.CooloffEndsAt))
}
