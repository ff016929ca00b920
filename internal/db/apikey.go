package db

import (
	"time"

	"gorm.io/gorm"
)

// FindAPIKeyByHash looks up an API key by the SHA-256 hash of its
// plaintext. Returns gorm.ErrRecordNotFound when no key matches.
func FindAPIKeyByHash(db *gorm.DB, keyHash string) (*APIKey, error) {
	var key APIKey
	if err := db.Where("key_hash = ?", keyHash).First(&key).Error; err != nil {
		return nil, err
	}
	return &key, nil
}

// TouchAPIKeyLastUsed stamps the key's last_used_at. Called best-effort
// from a goroutine after successful validation; a failure here must not
// fail the request that triggered it.
func TouchAPIKeyLastUsed(db *gorm.DB, keyID string) error {
	now := time.Now().UTC()
	return db.Model(&APIKey{}).Where("id = ?", keyID).Update("last_used_at", now).Error
}

// ListAPIKeysForUser returns all keys owned by the user, newest first.
func ListAPIKeysForUser(db *gorm.DB, userID string) ([]APIKey, error) {
	var keys []APIKey
	err := db.Where("user_id = ?", userID).Order("created_at DESC").Find(&keys).Error
	return keys, err
}

// DeleteAPIKeyOwned hard-deletes a key, but only when it belongs to the
// given user. Returns gorm.ErrRecordNotFound when no owned key matches.
func DeleteAPIKeyOwned(db *gorm.DB, userID, keyID string) error {
	res := db.Where("id = ? AND user_id = ?", keyID, userID).Delete(&APIKey{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
