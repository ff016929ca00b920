package db

import (
	"time"

	"gorm.io/gorm"
)

// InsertEvents appends a batch of event rows in one transaction. The
// batch is all-or-nothing: a failure leaves no partial insert behind.
func InsertEvents(db *gorm.DB, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	return db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&events).Error
	})
}

// EventFilters narrows an event query. Zero values mean "no filter".
type EventFilters struct {
	SessionID string
	EventType string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// QueryEvents returns the user's events newest first, with the total
// count matching the filters (ignoring limit/offset).
func QueryEvents(db *gorm.DB, userID string, f EventFilters) ([]Event, int64, error) {
	q := db.Model(&Event{}).Where("user_id = ?", userID)
	if f.SessionID != "" {
		q = q.Where("session_id = ?", f.SessionID)
	}
	if f.EventType != "" {
		q = q.Where("event_type = ?", f.EventType)
	}
	if f.From != nil {
		q = q.Where("timestamp >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("timestamp <= ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	var events []Event
	err := q.Order("timestamp DESC").Limit(limit).Offset(f.Offset).Find(&events).Error
	return events, total, err
}

// SessionEvents returns one session's events in sequence order.
func SessionEvents(db *gorm.DB, userID, sessionID string, limit, offset int) ([]Event, int64, error) {
	q := db.Model(&Event{}).Where("user_id = ? AND session_id = ?", userID, sessionID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 100
	}

	var events []Event
	err := q.Order("seq ASC").Limit(limit).Offset(offset).Find(&events).Error
	return events, total, err
}
