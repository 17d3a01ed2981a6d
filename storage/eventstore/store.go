// Package eventstore journals committed ledger events in a SQL database so
// operators can page through them after the in-process emitters have moved on.
package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"zkledger/core/events"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultListLimit = 100
	maxListLimit     = 1000
)

// Record is the persisted form of one event.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Seq        uint64    `gorm:"uniqueIndex;not null"`
	BatchID    uuid.UUID `gorm:"type:uuid;index"`
	Type       string    `gorm:"index;not null"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
}

func (Record) TableName() string { return "ledger_events" }

// Entry is a decoded journal row.
type Entry struct {
	Seq        uint64            `json:"seq"`
	ID         string            `json:"id"`
	BatchID    string            `json:"batchId"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Query pages through the journal in sequence order.
type Query struct {
	Type     string `json:"type,omitempty"`
	AfterSeq uint64 `json:"afterSeq,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// Store appends event batches and serves ordered reads.
type Store struct {
	db *gorm.DB

	mu      sync.Mutex
	lastSeq uint64
}

// Open connects to the configured database and migrates the journal table.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("eventstore: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("eventstore: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an open gorm handle.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("eventstore: database required")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("eventstore: migrate: %w", err)
	}
	var last uint64
	if err := db.Model(&Record{}).Select("COALESCE(MAX(seq), 0)").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("eventstore: load sequence: %w", err)
	}
	return &Store{db: db, lastSeq: last}, nil
}

// Append persists evts as one batch. Either every event is stored or none.
func (s *Store) Append(ctx context.Context, evts []events.Event) error {
	if len(evts) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := uuid.New()
	records := make([]Record, 0, len(evts))
	seq := s.lastSeq
	for _, evt := range evts {
		if evt == nil {
			continue
		}
		payload := evt.Event()
		attrs, err := json.Marshal(payload.Attributes)
		if err != nil {
			return fmt.Errorf("eventstore: encode %s: %w", payload.Type, err)
		}
		seq++
		records = append(records, Record{
			ID:         uuid.New(),
			Seq:        seq,
			BatchID:    batch,
			Type:       payload.Type,
			Attributes: string(attrs),
		})
	}
	if len(records) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&records).Error
	})
	if err != nil {
		return fmt.Errorf("eventstore: append: %w", err)
	}
	s.lastSeq = seq
	return nil
}

// List returns up to q.Limit entries after q.AfterSeq, optionally filtered by
// event type.
func (s *Store) List(ctx context.Context, q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	tx := s.db.WithContext(ctx).Model(&Record{}).Where("seq > ?", q.AfterSeq)
	if typ := strings.TrimSpace(q.Type); typ != "" {
		tx = tx.Where("type = ?", typ)
	}
	var records []Record
	if err := tx.Order("seq ASC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("eventstore: list: %w", err)
	}
	out := make([]Entry, 0, len(records))
	for _, rec := range records {
		entry := Entry{
			Seq:       rec.Seq,
			ID:        rec.ID.String(),
			BatchID:   rec.BatchID.String(),
			Type:      rec.Type,
			CreatedAt: rec.CreatedAt,
		}
		if rec.Attributes != "" {
			if err := json.Unmarshal([]byte(rec.Attributes), &entry.Attributes); err != nil {
				return nil, fmt.Errorf("eventstore: decode seq %d: %w", rec.Seq, err)
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// LastSeq reports the sequence number of the newest stored event.
func (s *Store) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
