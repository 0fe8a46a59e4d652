package stream

import (
	"sort"
	"sync"
)

// backlogEntry is one sent envelope kept for reconnecting clients.
type backlogEntry struct {
	Seq    int64
	UserID string
	Data   []byte
}

// Backlog keeps the most recent envelopes in seq order so a client that
// reconnects with last_seq can catch up on what it missed. Appends must
// carry increasing seq.
type Backlog struct {
	mu      sync.RWMutex
	entries []backlogEntry // ring; oldest at start once full
	start   int
	size    int
}

// NewBacklog keeps up to capacity envelopes (500 if capacity <= 0).
func NewBacklog(capacity int) *Backlog {
	if capacity <= 0 {
		capacity = 500
	}
	return &Backlog{entries: make([]backlogEntry, capacity)}
}

// Append stores a copy of data, evicting the oldest envelope when full.
func (b *Backlog) Append(seq int64, userID string, data []byte) {
	e := backlogEntry{Seq: seq, UserID: userID, Data: append([]byte(nil), data...)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size < len(b.entries) {
		b.entries[(b.start+b.size)%len(b.entries)] = e
		b.size++
		return
	}
	b.entries[b.start] = e
	b.start = (b.start + 1) % len(b.entries)
}

// After returns userID's envelopes with seq > last, oldest first.
func (b *Backlog) After(last int64, userID string) []backlogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	at := func(i int) *backlogEntry { return &b.entries[(b.start+i)%len(b.entries)] }
	first := sort.Search(b.size, func(i int) bool { return at(i).Seq > last })

	var out []backlogEntry
	for i := first; i < b.size; i++ {
		if e := at(i); e.UserID == userID {
			out = append(out, *e)
		}
	}
	return out
}

// Len returns the number of envelopes held.
func (b *Backlog) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}
