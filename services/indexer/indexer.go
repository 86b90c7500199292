package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"surveyledger/core/events"
	"surveyledger/core/types"
	"surveyledger/native/survey"
)

// ErrNotFound is returned when no summary exists for a survey id.
var ErrNotFound = errors.New("indexer: not found")

// Open connects to the indexer database. driver is "sqlite" or "postgres".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return db, nil
}

type typedEvent interface {
	Event() *types.Event
}

// Indexer persists ledger events and maintains survey summaries. It
// implements events.Emitter so it can subscribe to the ledger log.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time

	mu  sync.Mutex
	seq uint64
}

// New wraps db. The sequence counter resumes after the highest stored record.
func New(db *gorm.DB, log *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, fmt.Errorf("indexer: database required")
	}
	if log == nil {
		log = slog.Default()
	}
	var last EventRecord
	err := db.Order("sequence desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("indexer: load sequence: %w", err)
	}
	return &Indexer{
		db:     db,
		logger: log.With(slog.String("component", "indexer")),
		nowFn:  time.Now,
		seq:    last.Sequence,
	}, nil
}

// SetNowFunc overrides the clock used for record timestamps.
func (ix *Indexer) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	ix.nowFn = now
}

// Emit implements events.Emitter. Storage failures are logged; they never
// reach the ledger.
func (ix *Indexer) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	var typed *types.Event
	if p, ok := evt.(typedEvent); ok {
		typed = p.Event()
	}
	if typed == nil {
		typed = &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
	}
	if err := ix.Record(context.Background(), typed); err != nil {
		ix.logger.Error("indexer.record_failed", slog.String("type", typed.Type), slog.String("error", err.Error()))
	}
}

// Record stores evt and folds it into the survey summary in one
// transaction.
func (ix *Indexer) Record(ctx context.Context, evt *types.Event) error {
	if evt == nil {
		return nil
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	now := ix.nowFn().UTC()
	record := EventRecord{
		ID:          uuid.New(),
		Sequence:    ix.seq + 1,
		Type:        evt.Type,
		SurveyID:    evt.Attributes["surveyId"],
		Participant: evt.Attributes["participant"],
		Attributes:  string(attrs),
		CreatedAt:   now,
	}
	err = ix.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		return applySummary(tx, evt, now)
	})
	if err != nil {
		return err
	}
	ix.seq = record.Sequence
	return nil
}

func applySummary(tx *gorm.DB, evt *types.Event, now time.Time) error {
	id := evt.Attributes["surveyId"]
	if id == "" {
		return nil
	}
	switch evt.Type {
	case survey.EventTypeSurveyCreated:
		limit, _ := strconv.ParseUint(evt.Attributes["limit"], 10, 64)
		summary := SurveySummary{
			SurveyID:         id,
			Creator:          evt.Attributes["creator"],
			Kind:             evt.Attributes["kind"],
			Status:           survey.StatusActive.String(),
			ParticipantLimit: limit,
			Collection:       evt.Attributes["collection"],
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if limit == 0 {
			summary.Status = survey.StatusExhausted.String()
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&summary).Error
	case survey.EventTypeRewardPaid:
		rewarded, _ := strconv.ParseUint(evt.Attributes["rewarded"], 10, 64)
		return tx.Model(&SurveySummary{}).Where("survey_id = ?", id).
			Updates(map[string]interface{}{"rewarded": rewarded, "updated_at": now}).Error
	case survey.EventTypeSurveyFinished:
		return tx.Model(&SurveySummary{}).Where("survey_id = ?", id).
			Updates(map[string]interface{}{"status": survey.StatusExhausted.String(), "updated_at": now}).Error
	case survey.EventTypeSurveyCanceled:
		return tx.Model(&SurveySummary{}).Where("survey_id = ?", id).
			Updates(map[string]interface{}{
				"status":     survey.StatusCanceled.String(),
				"refund":     evt.Attributes["refund"],
				"updated_at": now,
			}).Error
	}
	return nil
}

// EventsBySurvey returns the events of a survey in sequence order.
func (ix *Indexer) EventsBySurvey(ctx context.Context, surveyID string, limit int) ([]EventRecord, error) {
	var out []EventRecord
	q := ix.db.WithContext(ctx).Where("survey_id = ?", surveyID).Order("sequence asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// EventsByParticipant returns reward events for participant (hex, no 0x).
func (ix *Indexer) EventsByParticipant(ctx context.Context, participant string) ([]EventRecord, error) {
	var out []EventRecord
	err := ix.db.WithContext(ctx).
		Where("participant = ?", strings.TrimPrefix(strings.ToLower(participant), "0x")).
		Order("sequence asc").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Summary returns the folded view of a survey.
func (ix *Indexer) Summary(ctx context.Context, surveyID string) (*SurveySummary, error) {
	var summary SurveySummary
	err := ix.db.WithContext(ctx).Where("survey_id = ?", surveyID).First(&summary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// Decode returns the stored attribute map of r.
func (r EventRecord) Decode() (map[string]string, error) {
	attrs := map[string]string{}
	if r.Attributes == "" {
		return attrs, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}
