package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventRecord is one persisted ledger event.
type EventRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence    uint64    `gorm:"uniqueIndex"`
	Type        string    `gorm:"size:64;index"`
	SurveyID    string    `gorm:"size:256;index"`
	Participant string    `gorm:"size:64;index"`
	Attributes  string    `gorm:"type:text"`
	CreatedAt   time.Time
}

// SurveySummary is the indexer's running view of a survey, derived from its
// events.
type SurveySummary struct {
	SurveyID         string `gorm:"primaryKey;size:256"`
	Creator          string `gorm:"size:64;index"`
	Kind             string `gorm:"size:16"`
	Status           string `gorm:"size:16;index"`
	ParticipantLimit uint64
	Rewarded         uint64
	Refund           string `gorm:"size:80"`
	Collection       string `gorm:"size:64"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AutoMigrate creates or updates the indexer tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{}, &SurveySummary{})
}
