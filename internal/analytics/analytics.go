// Package analytics persists a minimal playback-session history
// (videoId/label, start/end, segments served, last error), following
// the teacher's gorm-backed history manager idiom but scoped to what
// the segment supervisor itself observes rather than user-facing
// watch history.
package analytics

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"
)

// SessionRecord is one TranscoderSession's lifecycle, from Start to
// its terminal state.
type SessionRecord struct {
	ID             uint `gorm:"primarykey"`
	CreatedAt      time.Time
	UpdatedAt      time.Time

	VideoID        string `gorm:"index"`
	Label          string `gorm:"index"`
	StartedAt      time.Time
	EndedAt        *time.Time
	SegmentsServed int
	ErrorMessage   string
}

// Store records session lifecycle events to a gorm-backed database.
type Store struct {
	logger hclog.Logger
	db     *gorm.DB
}

// NewStore wraps an already-opened *gorm.DB.
func NewStore(db *gorm.DB, logger hclog.Logger) *Store {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Store{logger: logger.Named("analytics"), db: db}
}

// Migrate ensures the session_records table exists.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&SessionRecord{})
}

// RecordStart inserts a new SessionRecord for a just-started session,
// returning its ID for a later RecordEnd call.
func (s *Store) RecordStart(videoID, label string) (uint, error) {
	rec := SessionRecord{
		VideoID:   videoID,
		Label:     label,
		StartedAt: time.Now(),
	}
	if err := s.db.Create(&rec).Error; err != nil {
		return 0, fmt.Errorf("analytics: recording session start: %w", err)
	}
	s.logger.Debug("recorded session start", "video_id", videoID, "label", label, "id", rec.ID)
	return rec.ID, nil
}

// RecordEnd updates a SessionRecord with its terminal state.
func (s *Store) RecordEnd(id uint, segmentsServed int, errMessage string) error {
	now := time.Now()
	err := s.db.Model(&SessionRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
		"ended_at":        now,
		"segments_served": segmentsServed,
		"error_message":   errMessage,
	}).Error
	if err != nil {
		return fmt.Errorf("analytics: recording session end: %w", err)
	}
	return nil
}

// RecentForVideo returns the most recent session records for videoID,
// newest first, bounded by limit.
func (s *Store) RecentForVideo(videoID string, limit int) ([]SessionRecord, error) {
	var recs []SessionRecord
	err := s.db.Where("video_id = ?", videoID).Order("started_at desc").Limit(limit).Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("analytics: querying recent sessions: %w", err)
	}
	return recs, nil
}
