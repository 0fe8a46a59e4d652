package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

// TriggerLog is an append-only in-memory audit trail.
type TriggerLog struct {
	mu      sync.Mutex
	entries []model.TriggerLogEntry
}

// NewTriggerLog creates an empty trigger log.
func NewTriggerLog() *TriggerLog { return &TriggerLog{} }

func (l *TriggerLog) RecordTrigger(_ context.Context, e model.TriggerLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

func (l *TriggerLog) ListTriggers(_ context.Context, userID string, limit int) ([]model.TriggerLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.TriggerLogEntry
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if userID != "" && e.UserID != userID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *TriggerLog) PruneTriggers(_ context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.entries[:0]
	var n int64
	for _, e := range l.entries {
		if e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	return n, nil
}

// Entries returns a copy of the log sorted by creation time.
func (l *TriggerLog) Entries() []model.TriggerLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := append([]model.TriggerLogEntry(nil), l.entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
