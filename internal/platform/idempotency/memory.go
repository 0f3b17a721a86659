package idempotency

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// DefaultMemoryCapacity bounds the keys one process remembers.
const DefaultMemoryCapacity = 10000

// ErrStoreFull is returned when every remembered key belongs to an in-flight request.
var ErrStoreFull = errors.New("idempotency: memory store is full")

// MemoryStore keeps order submission keys in process. It serves the memory and mongo order
// stores, so replays are only detected on the instance that saw the first request.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	records  map[string]Record
}

// MemoryStoreOption customises a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithCapacity caps the number of remembered keys. Non-positive values keep the default.
func WithCapacity(n int) MemoryStoreOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.capacity = n
		}
	}
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{capacity: DefaultMemoryCapacity, records: make(map[string]Record)}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Reserve claims key for a new submission or reports the stored outcome of an earlier one.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now, ttl = now.UTC(), effectiveTTL(ttl)
	id := documentID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[id]; ok && !expired(existing, now) {
		if existing.Fingerprint != fingerprint {
			return Reservation{}, ErrFingerprintMismatch
		}
		state := ReservationStatePending
		if existing.Status == StatusCompleted {
			state = ReservationStateCompleted
		}
		return Reservation{State: state, Record: cloneRecord(existing)}, nil
	}

	delete(s.records, id)
	if !s.makeRoom(now) {
		return Reservation{}, ErrStoreFull
	}
	record := newPendingRecord(key, fingerprint, now, ttl)
	s.records[id] = record
	return Reservation{State: ReservationStateNew, Record: cloneRecord(record)}, nil
}

// SaveResponse stores the created order response for replay.
func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now, ttl = now.UTC(), effectiveTTL(ttl)
	id := documentID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	switch {
	case ok && record.Fingerprint != fingerprint:
		return ErrFingerprintMismatch
	case !ok:
		if !s.makeRoom(now) {
			return ErrStoreFull
		}
		record = Record{Key: key, Fingerprint: fingerprint}
	}
	s.records[id] = completeRecord(record, resp, now, ttl)
	return nil
}

// Release frees a pending reservation held by fingerprint so the client may retry. Completed
// records are kept; their response is still the answer to the key.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	id := documentID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.records[id]; ok && record.Status == StatusPending && record.Fingerprint == fingerprint {
		delete(s.records, id)
	}
	return nil
}

// CleanupExpired drops up to limit expired keys, earliest expiry first.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.idsByExpiry(func(r Record) bool { return expired(r, now) })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	for _, id := range ids {
		delete(s.records, id)
	}
	return len(ids), nil
}

// makeRoom frees one slot when the store is at capacity: expired keys go first, then the
// completed key closest to expiry. Pending keys are never evicted. Callers hold mu.
func (s *MemoryStore) makeRoom(now time.Time) bool {
	if len(s.records) < s.capacity {
		return true
	}
	for _, id := range s.idsByExpiry(func(r Record) bool { return expired(r, now) }) {
		delete(s.records, id)
	}
	if len(s.records) < s.capacity {
		return true
	}
	completed := s.idsByExpiry(func(r Record) bool { return r.Status == StatusCompleted })
	if len(completed) == 0 {
		return false
	}
	delete(s.records, completed[0])
	return true
}

func (s *MemoryStore) idsByExpiry(keep func(Record) bool) []string {
	ids := make([]string, 0)
	for id, record := range s.records {
		if keep(record) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.records[ids[i]].ExpiresAt.Before(s.records[ids[j]].ExpiresAt)
	})
	return ids
}

func effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func cloneRecord(r Record) Record {
	if r.ResponseBody != nil {
		r.ResponseBody = append([]byte(nil), r.ResponseBody...)
	}
	if r.ResponseHeaders != nil {
		headers := make(map[string][]string, len(r.ResponseHeaders))
		for name, values := range r.ResponseHeaders {
			headers[name] = append([]string(nil), values...)
		}
		r.ResponseHeaders = headers
	}
	return r
}
