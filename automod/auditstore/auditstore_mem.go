package auditstore

import (
	"context"
	"sync"
)

// Keeps every appended record in memory, including duplicates, so tests can check delivery counts.
type MemAuditSink struct {
	mu      sync.Mutex
	records []*Record
}

var _ AuditSink = (*MemAuditSink)(nil)
var _ AuditReader = (*MemAuditSink)(nil)

func NewMemAuditSink() *MemAuditSink {
	return &MemAuditSink{}
}

func (s *MemAuditSink) Append(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// All appended records, in append order.
func (s *MemAuditSink) Records() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Record, len(s.records))
	copy(out, s.records)
	return out
}

// Number of appends for a message.
func (s *MemAuditSink) Count(messageID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.MessageID == messageID {
			n++
		}
	}
	return n
}

// Returns the first record appended for the message, or nil.
func (s *MemAuditSink) Get(ctx context.Context, messageID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.MessageID == messageID {
			return r, nil
		}
	}
	return nil, nil
}

func (s *MemAuditSink) RecentBySender(ctx context.Context, senderID string, limit int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	out := []*Record{}
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		r := s.records[i]
		if r.SenderID != senderID || seen[r.MessageID] {
			continue
		}
		seen[r.MessageID] = true
		out = append(out, r)
	}
	return out, nil
}
