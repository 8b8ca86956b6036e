package domain

import (
	"github.com/google/btree"
	"github.com/holiman/uint256"
)

const scheduleDegree = 16

// Schedule is a sorted map of amounts keyed by the cycle (or epoch) at which
// they take effect. Entries are drained in key order by a checkpoint.
type Schedule struct {
	Entries map[uint32]*uint256.Int
	keys    *btree.BTreeG[uint32]
}

func NewSchedule() *Schedule {
	return &Schedule{
		Entries: make(map[uint32]*uint256.Int),
		keys:    btree.NewOrderedG[uint32](scheduleDegree),
	}
}

// Add schedules v more at key.
func (s *Schedule) Add(key uint32, v *uint256.Int) {
	if v == nil || v.IsZero() {
		return
	}
	cur, ok := s.Entries[key]
	if !ok {
		s.index().ReplaceOrInsert(key)
	}
	s.Entries[key] = add(cur, v)
}

// Sub cancels v previously scheduled at key.
func (s *Schedule) Sub(key uint32, v *uint256.Int) {
	if v == nil || v.IsZero() {
		return
	}
	left := sub(s.Entries[key], v)
	if left.IsZero() {
		s.remove(key)
		return
	}
	s.Entries[key] = left
}

// At returns the amount scheduled at key, zero if none.
func (s *Schedule) At(key uint32) *uint256.Int {
	return valueOf(s.Entries[key])
}

// Take removes and returns the amount scheduled at key.
func (s *Schedule) Take(key uint32) *uint256.Int {
	v, ok := s.Entries[key]
	if !ok {
		return zero()
	}
	s.remove(key)
	return v
}

// Keys returns the scheduled keys in ascending order.
func (s *Schedule) Keys() []uint32 {
	keys := make([]uint32, 0, len(s.Entries))
	s.index().Ascend(func(k uint32) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// After returns the keys strictly greater than from, ascending.
func (s *Schedule) After(from uint32) []uint32 {
	return s.Between(from, ^uint32(0))
}

// Between returns the keys in (from, to], ascending.
func (s *Schedule) Between(from, to uint32) []uint32 {
	keys := make([]uint32, 0)
	if from == ^uint32(0) {
		return keys
	}
	s.index().AscendGreaterOrEqual(from+1, func(k uint32) bool {
		if k > to {
			return false
		}
		keys = append(keys, k)
		return true
	})
	return keys
}

func (s *Schedule) Len() int {
	return len(s.Entries)
}

func (s *Schedule) remove(key uint32) {
	s.index().Delete(key)
	delete(s.Entries, key)
}

// index rebuilds the key tree when it's out of sync with the entries, as
// after decoding.
func (s *Schedule) index() *btree.BTreeG[uint32] {
	if s.Entries == nil {
		s.Entries = make(map[uint32]*uint256.Int)
	}
	if s.keys != nil && s.keys.Len() == len(s.Entries) {
		return s.keys
	}
	s.keys = btree.NewOrderedG[uint32](scheduleDegree)
	for k := range s.Entries {
		s.keys.ReplaceOrInsert(k)
	}
	return s.keys
}
