package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/breaker"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

const stateTTL = 30 * 24 * time.Hour

// claimScript sets the fired bar only when it moves forward.
var claimScript = goredis.NewScript(`
local last = redis.call('GET', KEYS[1])
if last and tonumber(last) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
return 1
`)

// saveScript stores a state hash unless Redis already holds a later bar.
// ARGV[4] = '1' also rejects the same bar.
var saveScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'bar')
if cur then
  cur = tonumber(cur)
  local bar = tonumber(ARGV[1])
  if cur > bar or (ARGV[4] == '1' and cur == bar) then
    return 0
  end
end
redis.call('HSET', KEYS[1], 'bar', ARGV[1], 'body', ARGV[2])
redis.call('EXPIRE', KEYS[1], ARGV[3])
return 1
`)

// StateStore implements model.StateStore on Redis hashes. A stored state
// never moves back to an earlier LastBarEvaluated.
//
// Saves made while the breaker is open are held in memory, served to reads,
// and flushed once the breaker closes. A flushed state only lands if nothing
// at its bar or later was saved in the meantime. ClaimBar is never buffered:
// without Redis the fired ledger cannot be trusted, so claims fail and
// nothing fires.
type StateStore struct {
	client *goredis.Client
	cb     *breaker.Breaker
	prefix string

	mu      sync.Mutex
	pending map[string]model.ConditionState
	maxBuf  int

	// OnBuffer is called when a save is buffered (for metrics).
	OnBuffer func()
}

// NewStateStore wraps client. cb may be nil to disable buffering.
func NewStateStore(client *goredis.Client, cb *breaker.Breaker, cfg Config) *StateStore {
	s := &StateStore{
		client:  client,
		cb:      cb,
		prefix:  cfg.prefix(),
		pending: make(map[string]model.ConditionState),
		maxBuf:  10000,
	}
	if cb != nil {
		prev := cb.OnStateChange
		cb.OnStateChange = func(name string, from, to breaker.State) {
			if prev != nil {
				prev(name, from, to)
			}
			if to == breaker.StateClosed {
				go s.flush(context.Background())
			}
		}
	}
	return s
}

func (s *StateStore) stateKey(k model.StateKey) string {
	return s.prefix + ":state:" + k.String()
}

func (s *StateStore) firedKey(subID string) string {
	return s.prefix + ":fired:" + subID
}

func (s *StateStore) exec(fn func() error) error {
	if s.cb == nil {
		return fn()
	}
	return s.cb.ExecuteFiltered(fn, func(err error) bool { return errors.Is(err, goredis.Nil) })
}

func (s *StateStore) LoadState(ctx context.Context, key model.StateKey) (model.ConditionState, bool, error) {
	s.mu.Lock()
	if st, ok := s.pending[key.String()]; ok {
		s.mu.Unlock()
		return st, true, nil
	}
	s.mu.Unlock()

	var raw []byte
	err := s.exec(func() error {
		var err error
		raw, err = s.client.HGet(ctx, s.stateKey(key), "body").Bytes()
		return err
	})
	if errors.Is(err, goredis.Nil) {
		return model.ConditionState{Key: key}, false, nil
	}
	if err != nil {
		return model.ConditionState{}, false, fmt.Errorf("redis load state %s: %w", key, err)
	}
	var st model.ConditionState
	if err := json.Unmarshal(raw, &st); err != nil {
		return model.ConditionState{}, false, fmt.Errorf("redis decode state %s: %w", key, err)
	}
	st.Key = key
	return st, true, nil
}

func (s *StateStore) SaveState(ctx context.Context, st model.ConditionState) error {
	err := s.exec(func() error {
		_, err := s.write(ctx, st, false)
		return err
	})
	if errors.Is(err, breaker.ErrOpen) {
		s.buffer(st)
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis save state %s: %w", st.Key, err)
	}
	s.mu.Lock()
	delete(s.pending, st.Key.String())
	s.mu.Unlock()
	return nil
}

// write stores st unless a later bar is stored, or with strict the same bar.
// Reports whether st was written.
func (s *StateStore) write(ctx context.Context, st model.ConditionState, strict bool) (bool, error) {
	b, err := json.Marshal(st)
	if err != nil {
		return false, err
	}
	mode := "0"
	if strict {
		mode = "1"
	}
	n, err := saveScript.Run(ctx, s.client, []string{s.stateKey(st.Key)},
		strconv.FormatInt(st.LastBarEvaluated.Unix(), 10), b, int64(stateTTL/time.Second), mode).Int64()
	return n == 1, err
}

func (s *StateStore) buffer(st model.ConditionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[st.Key.String()]; !ok && len(s.pending) >= s.maxBuf {
		log.Printf("[redis-state] buffer full, dropping state for %s", st.Key)
		return
	}
	s.pending[st.Key.String()] = st
	if s.OnBuffer != nil {
		s.OnBuffer()
	}
}

// flush writes buffered states back once Redis is reachable again.
func (s *StateStore) flush(ctx context.Context) {
	s.mu.Lock()
	toFlush := s.pending
	s.pending = make(map[string]model.ConditionState)
	s.mu.Unlock()
	if len(toFlush) == 0 {
		return
	}

	flushed, stale := 0, 0
	for k, st := range toFlush {
		ok, err := s.write(ctx, st, true)
		if err != nil {
			s.mu.Lock()
			if _, newer := s.pending[k]; !newer {
				s.pending[k] = st
			}
			s.mu.Unlock()
			continue
		}
		if ok {
			flushed++
		} else {
			stale++
		}
	}
	log.Printf("[redis-state] flushed %d buffered states, %d superseded", flushed, stale)
}

// PendingCount returns the number of buffered saves.
func (s *StateStore) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *StateStore) ClaimBar(ctx context.Context, subscriptionID string, bar time.Time) (bool, error) {
	var n int64
	err := s.exec(func() error {
		var err error
		n, err = claimScript.Run(ctx, s.client,
			[]string{s.firedKey(subscriptionID)},
			strconv.FormatInt(bar.Unix(), 10), int64(stateTTL/time.Second)).Int64()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("redis claim bar %s: %w", subscriptionID, err)
	}
	return n == 1, nil
}

func (s *StateStore) Close() error {
	s.flush(context.Background())
	return nil
}
