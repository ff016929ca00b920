package db

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionDelta is the batch-local contribution to one session rollup:
// earliest/latest timestamp, counts, and any metadata found in the
// batch. It is computed in full before any write (see ingest package).
type SessionDelta struct {
	StartedAt time.Time
	EndedAt   time.Time

	EventCount int64
	ToolCount  int64

	StopReason       string
	GitBranch        string
	WorkingDirectory string
}

// MergeSessionRollup applies a delta to the stored rollup for
// (user, session_id), inserting the row if it does not exist yet.
//
// The read-modify-write runs inside a transaction holding a row lock on
// PostgreSQL, so concurrent batches touching the same session cannot
// lose updates. Two concurrent first-batches can still race on the
// insert; the unique index turns the loser into a conflict, which is
// retried once as a plain merge.
func MergeSessionRollup(db *gorm.DB, userID, sessionID string, d SessionDelta) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = db.Transaction(func(tx *gorm.DB) error {
			q := tx.Where("user_id = ? AND session_id = ?", userID, sessionID)
			if tx.Dialector.Name() == "postgres" {
				q = q.Clauses(clause.Locking{Strength: "UPDATE"})
			}

			var s Session
			findErr := q.First(&s).Error
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				return tx.Create(sessionFromDelta(userID, sessionID, d)).Error
			}
			if findErr != nil {
				return findErr
			}

			applySessionDelta(&s, d)
			return tx.Save(&s).Error
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
	}
	return err
}

func sessionFromDelta(userID, sessionID string, d SessionDelta) *Session {
	s := &Session{
		UserID:     userID,
		SessionID:  sessionID,
		StartedAt:  d.StartedAt,
		EventCount: d.EventCount,
		ToolCount:  d.ToolCount,
	}
	ended := d.EndedAt
	s.EndedAt = &ended
	s.DurationMs = durationBetween(d.StartedAt, d.EndedAt)
	setSessionMetadata(s, d)
	return s
}

func applySessionDelta(s *Session, d SessionDelta) {
	if d.StartedAt.Before(s.StartedAt) {
		s.StartedAt = d.StartedAt
	}
	if s.EndedAt == nil || d.EndedAt.After(*s.EndedAt) {
		ended := d.EndedAt
		s.EndedAt = &ended
	}
	s.EventCount += d.EventCount
	s.ToolCount += d.ToolCount
	s.DurationMs = durationBetween(s.StartedAt, *s.EndedAt)
	setSessionMetadata(s, d)
}

// setSessionMetadata fills branch and working directory when first seen
// and lets the latest stop reason win.
func setSessionMetadata(s *Session, d SessionDelta) {
	if d.GitBranch != "" && (s.GitBranch == nil || *s.GitBranch == "") {
		branch := d.GitBranch
		s.GitBranch = &branch
	}
	if d.WorkingDirectory != "" && (s.WorkingDirectory == nil || *s.WorkingDirectory == "") {
		wd := d.WorkingDirectory
		s.WorkingDirectory = &wd
	}
	if d.StopReason != "" {
		reason := d.StopReason
		s.StopReason = &reason
	}
}

// durationBetween returns the span in ms, or nil when not positive
// (a single-event session has start == end).
func durationBetween(start, end time.Time) *int64 {
	ms := end.Sub(start).Milliseconds()
	if ms <= 0 {
		return nil
	}
	return &ms
}

// SessionFilters narrows a session listing by start time.
type SessionFilters struct {
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// ListSessions returns the user's session rollups newest first plus the
// total count matching the filters.
func ListSessions(db *gorm.DB, userID string, f SessionFilters) ([]Session, int64, error) {
	q := db.Model(&Session{}).Where("user_id = ?", userID)
	if f.From != nil {
		q = q.Where("started_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("started_at <= ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	var sessions []Session
	err := q.Order("started_at DESC").Limit(limit).Offset(f.Offset).Find(&sessions).Error
	return sessions, total, err
}

// GetSession returns one rollup by its client session id.
func GetSession(db *gorm.DB, userID, sessionID string) (*Session, error) {
	var s Session
	if err := db.Where("user_id = ? AND session_id = ?", userID, sessionID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}
