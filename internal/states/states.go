// Package states defines the closed set of job lifecycle states and the
// groupings every index and query operation relies on.
package states

import (
	"errors"
	"fmt"
	"sort"
)

// State is a job lifecycle state
type State string

// Job lifecycle states
const (
	Pending   State = "PENDING"
	Scheduled State = "SCHEDULED"
	Started   State = "STARTED"
	Success   State = "SUCCESS"
	Failure   State = "FAILURE"
	Revoked   State = "REVOKED"
)

// ErrInvalidState is returned when a value outside the vocabulary is used as a state
var ErrInvalidState = errors.New("invalid job state")

// Set is an immutable group of states
type Set struct {
	members map[State]struct{}
}

func newSet(members ...State) Set {
	m := make(map[State]struct{}, len(members))
	for _, s := range members {
		m[s] = struct{}{}
	}
	return Set{members: m}
}

// Contains reports whether s belongs to the set
func (set Set) Contains(s State) bool {
	_, ok := set.members[s]
	return ok
}

// Len returns the number of states in the set
func (set Set) Len() int {
	return len(set.members)
}

// Slice returns the members sorted by name
func (set Set) Slice() []State {
	out := make([]State, 0, len(set.members))
	for s := range set.members {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var (
	// All holds every valid state
	All = newSet(Pending, Scheduled, Started, Success, Failure, Revoked)

	// Ready holds the terminal states
	Ready = newSet(Success, Failure, Revoked)

	// NotReady holds every state that is not terminal
	NotReady = newSet(Pending, Scheduled, Started)

	// Revokable holds the states a job can still be revoked from
	Revokable = newSet(Pending, Scheduled)
)

// Parse converts a raw value into a State
func Parse(raw string) (State, error) {
	s := State(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidState, raw)
	}
	return s, nil
}

// IsValid reports whether s is one of the six lifecycle states
func (s State) IsValid() bool {
	return All.Contains(s)
}

// IsReady reports whether s is terminal
func (s State) IsReady() bool {
	return Ready.Contains(s)
}

// IsRevokable reports whether a job in s may still be revoked
func (s State) IsRevokable() bool {
	return Revokable.Contains(s)
}

func (s State) String() string {
	return string(s)
}
