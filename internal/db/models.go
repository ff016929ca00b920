package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User represents an account that owns API keys and telemetry data.
// The bootstrap admin user (from env) is created as a row in this
// table on startup.
type User struct {
	ID string `gorm:"type:uuid;primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"size:255;not null"`

	// IsAdmin marks users that can manage other users. The bootstrap
	// admin will have IsAdmin=true.
	IsAdmin bool `gorm:"default:false"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// APIKey is a credential for the public REST API. The plaintext secret
// is returned exactly once at creation time; only its SHA-256 hash is
// stored here.
type APIKey struct {
	ID string `gorm:"type:uuid;primaryKey"`

	CreatedAt time.Time

	UserID string `gorm:"index;not null"`

	// Name is a user-friendly identifier for this key (e.g. "laptop-hooks").
	Name string `gorm:"size:128;not null"`

	// KeyHash is the hex-encoded SHA-256 of the plaintext key.
	KeyHash string `gorm:"uniqueIndex;size:64;not null"`

	// KeyPrefix is the first characters of the plaintext key, kept so the
	// owner can recognise the key in listings.
	KeyPrefix string `gorm:"size:16;not null"`

	// Scopes holds the permission names granted to this key.
	Scopes datatypes.JSONSlice[string]

	// RateLimitTier selects the fixed-window limit applied to this key
	// (standard, premium, ingestion).
	RateLimitTier string `gorm:"size:16;not null;default:standard"`

	LastUsedAt *time.Time
	ExpiresAt  *time.Time

	User User `gorm:"foreignKey:UserID"`
}

func (k *APIKey) BeforeCreate(*gorm.DB) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	return nil
}

// Event is one immutable telemetry fact. Rows are append-only; nothing
// in this service mutates or deletes them.
type Event struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time

	UserID    string `gorm:"index:idx_events_user_session,priority:1;not null"`
	SessionID string `gorm:"index:idx_events_user_session,priority:2;size:128;not null"`

	EventType string    `gorm:"size:32;index;not null"`
	Timestamp time.Time `gorm:"index;not null"`

	// Seq is the client-assigned per-session sequence number. Uniqueness
	// of (session_id, seq) is not enforced; duplicate delivery is counted
	// again downstream.
	Seq int64 `gorm:"not null"`

	ToolName   *string `gorm:"size:128"`
	DurationMs *int64

	// Data holds the arbitrary structured payload submitted with the event.
	Data datatypes.JSONMap `gorm:"type:json"`
}

// Session is the derived, mutable rollup for one (user, session_id).
// It is merged, never replaced, as more batches arrive.
type Session struct {
	ID string `gorm:"type:uuid;primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	UserID    string `gorm:"uniqueIndex:idx_sessions_user_session,priority:1;not null"`
	SessionID string `gorm:"uniqueIndex:idx_sessions_user_session,priority:2;size:128;not null"`

	StartedAt  time.Time `gorm:"index;not null"`
	EndedAt    *time.Time
	DurationMs *int64

	EventCount int64 `gorm:"not null"`
	ToolCount  int64 `gorm:"not null"`

	StopReason       *string `gorm:"size:64"`
	GitBranch        *string `gorm:"size:255"`
	WorkingDirectory *string `gorm:"size:512"`
}

func (s *Session) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// DailyAggregate is the per (user, calendar date) rollup. It is fully
// rebuilt from the event log for each affected date, not patched.
type DailyAggregate struct {
	ID uint `gorm:"primaryKey"`

	UpdatedAt time.Time

	UserID string `gorm:"uniqueIndex:idx_daily_user_date,priority:1;not null"`

	// Date is the UTC calendar date in YYYY-MM-DD form.
	Date string `gorm:"uniqueIndex:idx_daily_user_date,priority:2;size:10;not null"`

	Sessions int64 `gorm:"not null"`
	Events   int64 `gorm:"not null"`
	ToolUses int64 `gorm:"not null"`

	// HourlyDistribution always holds exactly 24 non-negative buckets.
	HourlyDistribution datatypes.JSONSlice[int64]

	// StopReasons maps stop-reason string to occurrence count.
	StopReasons datatypes.JSONMap `gorm:"type:json"`
}
