package auditstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chatmod/chatmod/automod/event"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Database row for a single verdict. message_id is unique, so redelivered records are dropped on insert.
type AuditEntry struct {
	ID            uint   `gorm:"primaryKey"`
	MessageID     string `gorm:"uniqueIndex;not null"`
	SenderID      string `gorm:"index"`
	ChannelID     string
	Action        string `gorm:"index"`
	Rule          string
	Tags          string
	Signals       string
	Violations    int
	DispatchError string
	DecidedAt     time.Time
	CreatedAt     time.Time
}

func (AuditEntry) TableName() string {
	return "audit_entries"
}

type GormAuditSink struct {
	db *gorm.DB
}

var _ AuditSink = (*GormAuditSink)(nil)
var _ AuditReader = (*GormAuditSink)(nil)

func NewGormAuditSink(db *gorm.DB) (*GormAuditSink, error) {
	if err := db.AutoMigrate(&AuditEntry{}); err != nil {
		return nil, fmt.Errorf("migrating audit table: %w", err)
	}
	return &GormAuditSink{db: db}, nil
}

func (s *GormAuditSink) Append(ctx context.Context, rec *Record) error {
	row, err := entryFromRecord(rec)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error
}

func (s *GormAuditSink) Get(ctx context.Context, messageID string) (*Record, error) {
	var row AuditEntry
	err := s.db.WithContext(ctx).Where("message_id = ?", messageID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return row.record()
}

func (s *GormAuditSink) RecentBySender(ctx context.Context, senderID string, limit int) ([]*Record, error) {
	var rows []AuditEntry
	err := s.db.WithContext(ctx).Where("sender_id = ?", senderID).Order("id DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func entryFromRecord(rec *Record) (*AuditEntry, error) {
	if rec.Verdict == nil {
		return nil, fmt.Errorf("audit record for %s has no verdict", rec.MessageID)
	}
	sigs, err := json.Marshal(rec.Verdict.Signals)
	if err != nil {
		return nil, err
	}
	return &AuditEntry{
		MessageID:     rec.MessageID,
		SenderID:      rec.SenderID,
		ChannelID:     rec.ChannelID,
		Action:        string(rec.Verdict.Action),
		Rule:          rec.Verdict.Rule,
		Tags:          strings.Join(rec.Verdict.Tags, ","),
		Signals:       string(sigs),
		Violations:    rec.Verdict.SenderViolations,
		DispatchError: rec.DispatchError,
		DecidedAt:     rec.Verdict.DecidedAt,
		CreatedAt:     rec.RecordedAt,
	}, nil
}

func (row *AuditEntry) record() (*Record, error) {
	v := &event.Verdict{
		MessageID:        row.MessageID,
		Action:           event.Action(row.Action),
		Rule:             row.Rule,
		SenderViolations: row.Violations,
		DecidedAt:        row.DecidedAt,
	}
	if row.Tags != "" {
		v.Tags = strings.Split(row.Tags, ",")
	}
	if row.Signals != "" {
		if err := json.Unmarshal([]byte(row.Signals), &v.Signals); err != nil {
			return nil, fmt.Errorf("parsing audit signals for %s: %w", row.MessageID, err)
		}
	}
	return &Record{
		MessageID:     row.MessageID,
		SenderID:      row.SenderID,
		ChannelID:     row.ChannelID,
		Verdict:       v,
		DispatchError: row.DispatchError,
		RecordedAt:    row.CreatedAt,
	}, nil
}
