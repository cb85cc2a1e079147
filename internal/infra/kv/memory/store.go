// Package memory provides an in-memory implementation of the entity-store
// contract used for tests and ephemeral environments. The persistent sqlite
// and postgres drivers embed it and snapshot its state.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"villagecore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the
// domain store interface.
var _ domain.KVStore = (*Store)(nil)

type expiringValue struct {
	Value    string    `json:"value"`
	Deadline time.Time `json:"deadline"` // zero means no expiry
}

func (v expiringValue) expired(now time.Time) bool {
	return !v.Deadline.IsZero() && now.After(v.Deadline)
}

// Snapshot is the serializable full state of the store, used by the
// persistent drivers and the world snapshot adapter.
type Snapshot struct {
	Records   map[string]map[int64][]byte `json:"records,omitempty"`
	Sets      map[string][]int64          `json:"sets,omitempty"`
	Schedules map[string]map[int64]int64  `json:"schedules,omitempty"`
	Counters  map[string]map[int64]int64  `json:"counters,omitempty"`
	Sequences map[string]int64            `json:"sequences,omitempty"`
	Keys      map[string]expiringValue    `json:"keys,omitempty"`
}

// Store keeps all entity-store state in mutex-guarded maps. Every method
// is atomic at the single-key level, matching the contract the engine
// assumes from a real key-value backend.
type Store struct {
	mu        sync.RWMutex
	records   map[string]map[int64][]byte
	sets      map[string]map[int64]struct{}
	schedules map[string]map[int64]int64 // key -> due unix ms
	counters  map[string]map[int64]int64
	sequences map[string]int64
	keys      map[string]expiringValue

	nowFn       func() time.Time
	unavailable bool
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{
		records:   make(map[string]map[int64][]byte),
		sets:      make(map[string]map[int64]struct{}),
		schedules: make(map[string]map[int64]int64),
		counters:  make(map[string]map[int64]int64),
		sequences: make(map[string]int64),
		keys:      make(map[string]expiringValue),
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the clock used for key expiry. Test hook.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// SetUnavailable toggles simulated outage: every call fails with
// domain.ErrStoreUnavailable while down is true. Test hook.
func (s *Store) SetUnavailable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = down
}

func (s *Store) check() error {
	if s.unavailable {
		return domain.ErrStoreUnavailable
	}
	return nil
}

// GetRecord returns the payload stored under (name, id).
func (s *Store) GetRecord(_ context.Context, name string, id int64) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, false, err
	}
	m, ok := s.records[name]
	if !ok {
		return nil, false, nil
	}
	payload, ok := m[id]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return cp, true, nil
}

// SetRecord stores payload under (name, id), replacing any prior value.
func (s *Store) SetRecord(_ context.Context, name string, id int64, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	m, ok := s.records[name]
	if !ok {
		m = make(map[int64][]byte)
		s.records[name] = m
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	m[id] = cp
	return nil
}

// DeleteRecord removes the record under (name, id); absent ids are a no-op.
func (s *Store) DeleteRecord(_ context.Context, name string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if m, ok := s.records[name]; ok {
		delete(m, id)
	}
	return nil
}

// AllRecords returns a copy of every record in the named map.
func (s *Store) AllRecords(_ context.Context, name string) (map[int64][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make(map[int64][]byte, len(s.records[name]))
	for id, payload := range s.records[name] {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		out[id] = cp
	}
	return out, nil
}

// AddToSet inserts member into the named set.
func (s *Store) AddToSet(_ context.Context, name string, member int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	set, ok := s.sets[name]
	if !ok {
		set = make(map[int64]struct{})
		s.sets[name] = set
	}
	set[member] = struct{}{}
	return nil
}

// RemoveFromSet deletes member from the named set; absent members are a no-op.
func (s *Store) RemoveFromSet(_ context.Context, name string, member int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if set, ok := s.sets[name]; ok {
		delete(set, member)
		if len(set) == 0 {
			delete(s.sets, name)
		}
	}
	return nil
}

// SetMembers returns the members of the named set in ascending order.
func (s *Store) SetMembers(_ context.Context, name string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	return sortedMembers(s.sets[name]), nil
}

// SetCard returns the cardinality of the named set.
func (s *Store) SetCard(_ context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	return int64(len(s.sets[name])), nil
}

// PopFromSet atomically removes and returns the smallest member. The
// deterministic order keeps matchmaking reproducible under test.
func (s *Store) PopFromSet(_ context.Context, name string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, false, err
	}
	set, ok := s.sets[name]
	if !ok || len(set) == 0 {
		return 0, false, nil
	}
	min := int64(0)
	first := true
	for member := range set {
		if first || member < min {
			min = member
			first = false
		}
	}
	delete(set, min)
	if len(set) == 0 {
		delete(s.sets, name)
	}
	return min, true, nil
}

// ScheduleAt records key in the ledger with the given due time, replacing
// any earlier schedule for the same key.
func (s *Store) ScheduleAt(_ context.Context, ledger string, key int64, dueUnixMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	l, ok := s.schedules[ledger]
	if !ok {
		l = make(map[int64]int64)
		s.schedules[ledger] = l
	}
	l[key] = dueUnixMs
	return nil
}

// DueBefore returns the ledger keys due at or before nowUnixMs, ordered by
// due time then key.
func (s *Store) DueBefore(_ context.Context, ledger string, nowUnixMs int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	type entry struct {
		key int64
		due int64
	}
	var due []entry
	for key, at := range s.schedules[ledger] {
		if at <= nowUnixMs {
			due = append(due, entry{key: key, due: at})
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].due != due[j].due {
			return due[i].due < due[j].due
		}
		return due[i].key < due[j].key
	})
	out := make([]int64, 0, len(due))
	for _, e := range due {
		out = append(out, e.key)
	}
	return out, nil
}

// RemoveSchedule drops key from the ledger.
func (s *Store) RemoveSchedule(_ context.Context, ledger string, key int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if l, ok := s.schedules[ledger]; ok {
		delete(l, key)
		if len(l) == 0 {
			delete(s.schedules, ledger)
		}
	}
	return nil
}

// IncrCounter increments and returns the counter for (counter, key).
func (s *Store) IncrCounter(_ context.Context, counter string, key int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	c, ok := s.counters[counter]
	if !ok {
		c = make(map[int64]int64)
		s.counters[counter] = c
	}
	c[key]++
	return c[key], nil
}

// GetCounter returns the counter value; missing counters read as zero.
func (s *Store) GetCounter(_ context.Context, counter string, key int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	return s.counters[counter][key], nil
}

// DeleteCounter removes the counter for (counter, key).
func (s *Store) DeleteCounter(_ context.Context, counter string, key int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if c, ok := s.counters[counter]; ok {
		delete(c, key)
		if len(c) == 0 {
			delete(s.counters, counter)
		}
	}
	return nil
}

// NextID returns the next value of the named monotonic sequence.
func (s *Store) NextID(_ context.Context, sequence string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	s.sequences[sequence]++
	return s.sequences[sequence], nil
}

// SetSequence forces the named sequence to the given value. Used when
// restoring a world snapshot.
func (s *Store) SetSequence(_ context.Context, sequence string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.sequences[sequence] = value
	return nil
}

// SetIfAbsent stores value under key only when the key is absent or its
// previous value has expired. Returns true when the write happened.
func (s *Store) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return false, err
	}
	now := s.nowFn()
	if existing, ok := s.keys[key]; ok && !existing.expired(now) {
		return false, nil
	}
	v := expiringValue{Value: value}
	if ttl > 0 {
		v.Deadline = now.Add(ttl)
	}
	s.keys[key] = v
	return true, nil
}

// GetKey returns the live value stored under key.
func (s *Store) GetKey(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return "", false, err
	}
	v, ok := s.keys[key]
	if !ok || v.expired(s.nowFn()) {
		return "", false, nil
	}
	return v.Value, true, nil
}

// DeleteKeyIfEqual removes key only when it still holds the given value.
// Returns true when the delete happened; stale values never delete.
func (s *Store) DeleteKeyIfEqual(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return false, err
	}
	v, ok := s.keys[key]
	if !ok || v.expired(s.nowFn()) || v.Value != value {
		return false, nil
	}
	delete(s.keys, key)
	return true, nil
}

// Ready reports whether the store accepts calls.
func (s *Store) Ready(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check()
}

// ExportState returns a deep copy of the full store state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Records:   make(map[string]map[int64][]byte, len(s.records)),
		Sets:      make(map[string][]int64, len(s.sets)),
		Schedules: make(map[string]map[int64]int64, len(s.schedules)),
		Counters:  make(map[string]map[int64]int64, len(s.counters)),
		Sequences: make(map[string]int64, len(s.sequences)),
		Keys:      make(map[string]expiringValue, len(s.keys)),
	}
	for name, m := range s.records {
		cp := make(map[int64][]byte, len(m))
		for id, payload := range m {
			b := make([]byte, len(payload))
			copy(b, payload)
			cp[id] = b
		}
		snap.Records[name] = cp
	}
	for name, set := range s.sets {
		snap.Sets[name] = sortedMembers(set)
	}
	for name, l := range s.schedules {
		cp := make(map[int64]int64, len(l))
		for k, v := range l {
			cp[k] = v
		}
		snap.Schedules[name] = cp
	}
	for name, c := range s.counters {
		cp := make(map[int64]int64, len(c))
		for k, v := range c {
			cp[k] = v
		}
		snap.Counters[name] = cp
	}
	for name, v := range s.sequences {
		snap.Sequences[name] = v
	}
	for k, v := range s.keys {
		snap.Keys[k] = v
	}
	return snap
}

// ImportState replaces the store state with the snapshot contents.
func (s *Store) ImportState(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]map[int64][]byte, len(snap.Records))
	for name, m := range snap.Records {
		cp := make(map[int64][]byte, len(m))
		for id, payload := range m {
			b := make([]byte, len(payload))
			copy(b, payload)
			cp[id] = b
		}
		s.records[name] = cp
	}
	s.sets = make(map[string]map[int64]struct{}, len(snap.Sets))
	for name, members := range snap.Sets {
		set := make(map[int64]struct{}, len(members))
		for _, m := range members {
			set[m] = struct{}{}
		}
		s.sets[name] = set
	}
	s.schedules = make(map[string]map[int64]int64, len(snap.Schedules))
	for name, l := range snap.Schedules {
		cp := make(map[int64]int64, len(l))
		for k, v := range l {
			cp[k] = v
		}
		s.schedules[name] = cp
	}
	s.counters = make(map[string]map[int64]int64, len(snap.Counters))
	for name, c := range snap.Counters {
		cp := make(map[int64]int64, len(c))
		for k, v := range c {
			cp[k] = v
		}
		s.counters[name] = cp
	}
	s.sequences = make(map[string]int64, len(snap.Sequences))
	for name, v := range snap.Sequences {
		s.sequences[name] = v
	}
	s.keys = make(map[string]expiringValue, len(snap.Keys))
	for k, v := range snap.Keys {
		s.keys[k] = v
	}
}

func sortedMembers(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
