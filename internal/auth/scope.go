package auth

import (
	"errors"
	"fmt"
	"sort"
)

var ErrForbidden = errors.New("forbidden")

// Scope decides which irrigation systems a caller may see.
type Scope interface {
	Allows(systemID int64) bool
}

type allSystems struct{}

func (allSystems) Allows(int64) bool { return true }

// AllSystems is the scope of an administrator or an offline tool.
var AllSystems Scope = allSystems{}

// SystemSet allows an explicit list of systems.
type SystemSet map[int64]struct{}

func NewSystems(ids ...int64) SystemSet {
	s := make(SystemSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s SystemSet) Allows(systemID int64) bool {
	_, ok := s[systemID]
	return ok
}

// IDs returns the allowed systems in ascending order.
func (s SystemSet) IDs() []int64 {
	ids := make([]int64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Require returns ErrForbidden when the scope does not include systemID.
// A nil scope allows nothing.
func Require(scope Scope, systemID int64) error {
	if scope == nil || !scope.Allows(systemID) {
		return fmt.Errorf("%w: system %d", ErrForbidden, systemID)
	}
	return nil
}

// Filter keeps the items whose system is in scope.
func Filter[T any](scope Scope, items []T, systemOf func(T) int64) []T {
	out := make([]T, 0, len(items))
	if scope == nil {
		return out
	}
	for _, it := range items {
		if scope.Allows(systemOf(it)) {
			out = append(out, it)
		}
	}
	return out
}
