// Package audit keeps a durable log of the commands sent to the release
// service and of worker failures.
package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallnest/releasedash/bus"
	"github.com/smallnest/releasedash/errors"
	"github.com/smallnest/releasedash/internal/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Record is one audited event.
type Record struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EventID    string    `gorm:"size:64;uniqueIndex" json:"eventId"`
	Type       string    `gorm:"size:64;index" json:"type"`
	Kind       string    `gorm:"size:64" json:"kind,omitempty"`
	MessageID  string    `gorm:"size:64" json:"messageId,omitempty"`
	Seq        uint64    `json:"seq,omitempty"`
	DurationMs int64     `json:"durationMs,omitempty"`
	Payload    string    `json:"payload,omitempty"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `gorm:"index" json:"occurredAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName pins the table name.
func (Record) TableName() string {
	return "audit_records"
}

// Store persists records in a SQLite database.
type Store struct {
	db *gorm.DB
}

// Open opens or creates the database at path. ":memory:" keeps it in memory.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeAuditFailed, "create audit directory")
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeAuditFailed, "open audit database %s", path)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise see its own empty database.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeAuditFailed, "migrate audit database")
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Recordable reports whether ev belongs in the audit log.
func Recordable(ev *bus.Event) bool {
	if ev == nil {
		return false
	}
	switch ev.Type {
	case bus.EventCommandExecuted, bus.EventWorkerStopped:
		return true
	}
	return false
}

// Record stores ev. Replaying the same event id is a no-op.
func (s *Store) Record(ctx context.Context, ev *bus.Event) error {
	rec := Record{
		EventID:    ev.ID,
		Type:       string(ev.Type),
		Kind:       ev.Kind,
		MessageID:  ev.MessageID,
		Seq:        ev.Seq,
		DurationMs: ev.DurationMs,
		Error:      ev.Error,
		OccurredAt: ev.Timestamp.UTC(),
	}
	if ev.Payload != nil {
		data, err := json.Marshal(ev.Payload)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeAuditFailed, "encode audit payload")
		}
		rec.Payload = string(data)
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&Record{}).Where("event_id = ?", ev.ID).Count(&existing).Error; err != nil {
		return errors.Wrap(err, errors.ErrCodeAuditFailed, "look up audit record")
	}
	if existing > 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return errors.Wrap(err, errors.ErrCodeAuditFailed, "insert audit record")
	}
	return nil
}

// List returns up to limit records, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	records := make([]Record, 0, limit)
	err := s.db.WithContext(ctx).
		Order("occurred_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeAuditFailed, "list audit records")
	}
	return records, nil
}

// Consume records every auditable event from sub until the subscription
// closes or ctx is done. A failed write is logged and skipped.
func (s *Store) Consume(ctx context.Context, sub *bus.Subscription) error {
	log := logger.Component("audit")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if !Recordable(ev) {
				continue
			}
			// The write outlives ctx so that the final worker.stopped event
			// still lands during shutdown.
			if err := s.Record(context.WithoutCancel(ctx), ev); err != nil {
				log.Error("Failed to record event",
					zap.String("event_id", ev.ID),
					zap.String("type", string(ev.Type)),
					zap.Error(err))
			}
		}
	}
}
