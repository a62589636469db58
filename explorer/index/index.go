package index

import (
	"context"
	"encoding/json"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/omomo-finance/omomo-protocol-sub001/core/events"
	"github.com/omomo-finance/omomo-protocol-sub001/core/types"
)

// StoredEvent is one persisted protocol event, queryable by type.
type StoredEvent struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Type       string `gorm:"index"`
	Attributes string
	CreatedAt  time.Time
}

// renderable is satisfied by every typed protocol event.
type renderable interface {
	Event() *types.Event
}

// Sink persists emitted protocol events for off-chain observers.
type Sink struct {
	db *gorm.DB
}

// Open creates the sink against a sqlite DSN and migrates the schema. Use
// "file::memory:?cache=shared" for tests.
func Open(dsn string) (*Sink, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&StoredEvent{}); err != nil {
		return nil, err
	}
	return &Sink{db: db}, nil
}

// Record persists one event. Events without a renderer are stored with their
// type and empty attributes.
func (s *Sink) Record(evt events.Event) error {
	if evt == nil {
		return nil
	}
	stored := StoredEvent{Type: evt.EventType()}
	if r, ok := evt.(renderable); ok {
		if rendered := r.Event(); rendered != nil {
			raw, err := json.Marshal(rendered.Attributes)
			if err != nil {
				return err
			}
			stored.Type = rendered.Type
			stored.Attributes = string(raw)
		}
	}
	return s.db.Create(&stored).Error
}

// Run consumes the bus subscription until the context is cancelled or the
// channel closes. Persistence failures are returned; the caller decides
// whether a lagging index is fatal.
func (s *Sink) Run(ctx context.Context, ch <-chan events.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if err := s.Record(evt); err != nil {
				return err
			}
		}
	}
}

// Recent returns the newest events, most recent first.
func (s *Sink) Recent(limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []StoredEvent
	err := s.db.Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}

// ByType returns the newest events of one type, most recent first.
func (s *Sink) ByType(eventType string, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []StoredEvent
	err := s.db.Where("type = ?", eventType).Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}
