package jobprogress

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/cuongbtq/jobprogress/internal/states"
)

// Job is a unit of distributed work whose state and progress live in the backend.
// A Job is safe for concurrent use.
type Job struct {
	id      string
	data    map[string]string
	amount  int64
	backend Backend
	logger  *slog.Logger

	mu            sync.Mutex
	previousState states.State // hint of the indexed state, never authoritative
}

// Record is the canonical external representation of a job
type Record struct {
	ID               string                    `json:"id"`
	Data             map[string]string         `json:"data"`
	Amount           int64                     `json:"amount"`
	Progress         map[states.State]int64    `json:"progress"`
	IsReady          bool                      `json:"is_ready"`
	State            states.State              `json:"state"`
	DetailedProgress map[states.State][]string `json:"detailed_progress,omitzero"`
}

// ID returns the job id
func (j *Job) ID() string {
	return j.id
}

// Data returns a copy of the metadata supplied at creation
func (j *Job) Data() map[string]string {
	return maps.Clone(j.data)
}

// Amount returns the total number of expected units
func (j *Job) Amount() int64 {
	return j.amount
}

// State reads the current state from the backend
func (j *Job) State(ctx context.Context) (states.State, error) {
	return j.backend.GetState(ctx, j.id)
}

// SetState persists a transition. The in-memory hint is only updated once
// the backend write succeeded.
func (j *Job) SetState(ctx context.Context, state states.State) error {
	if !state.IsValid() {
		return fmt.Errorf("%w: %q", states.ErrInvalidState, state)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.backend.SetState(ctx, j.id, state, j.previousState); err != nil {
		return err
	}
	j.previousState = state
	return nil
}

// IsReady reports whether the job reached a terminal state
func (j *Job) IsReady(ctx context.Context) (bool, error) {
	state, err := j.State(ctx)
	if err != nil {
		return false, err
	}
	return state.IsReady(), nil
}

// AddOneSuccess records one successful unit. itemID is optional.
func (j *Job) AddOneSuccess(ctx context.Context, itemID string) error {
	return j.backend.AddOneProgress(ctx, j.id, states.Success, itemID)
}

// AddOneFailure records one failed unit. itemID is optional.
func (j *Job) AddOneFailure(ctx context.Context, itemID string) error {
	return j.backend.AddOneProgress(ctx, j.id, states.Failure, itemID)
}

// Track records one unit as a success or a failure
func (j *Job) Track(ctx context.Context, success bool, itemID string) error {
	if success {
		return j.AddOneSuccess(ctx, itemID)
	}
	return j.AddOneFailure(ctx, itemID)
}

// Progress returns the unit counts per state. PENDING is derived from the
// amount and only present when some units are still unreported.
func (j *Job) Progress(ctx context.Context) (map[states.State]int64, error) {
	progress, err := j.backend.GetProgress(ctx, j.id)
	if err != nil {
		return nil, err
	}

	var reported int64
	for _, n := range progress {
		reported += n
	}
	if pending := j.amount - reported; pending > 0 {
		progress[states.Pending] = pending
	}
	return progress, nil
}

// DetailedProgress returns the item ids recorded per state. Without
// arguments every state holding detail is returned; otherwise only the
// requested states, even when empty.
func (j *Job) DetailedProgress(ctx context.Context, only ...states.State) (map[states.State][]string, error) {
	wanted := only
	if len(wanted) == 0 {
		var err error
		wanted, err = j.backend.GetDetailStates(ctx, j.id)
		if err != nil {
			return nil, err
		}
	}

	detail := make(map[states.State][]string, len(wanted))
	for _, s := range wanted {
		items, err := j.backend.GetDetail(ctx, j.id, s)
		if err != nil {
			return nil, err
		}
		detail[s] = items
	}
	return detail, nil
}

// Record builds the external representation of the job
func (j *Job) Record(ctx context.Context, includeDetails bool) (*Record, error) {
	progress, err := j.Progress(ctx)
	if err != nil {
		return nil, err
	}

	state, err := j.State(ctx)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:       j.id,
		Data:     j.Data(),
		Amount:   j.amount,
		Progress: progress,
		IsReady:  state.IsReady(),
		State:    state,
	}

	if includeDetails {
		rec.DetailedProgress, err = j.DetailedProgress(ctx)
		if err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// IsStaled reports whether the job is STARTED but its heartbeat expired
func (j *Job) IsStaled(ctx context.Context) (bool, error) {
	state, err := j.State(ctx)
	if err != nil {
		return false, err
	}
	if state != states.Started {
		return false, nil
	}
	return j.backend.IsStaled(ctx, j.id)
}

// Heartbeat proves the worker owning the job is still alive
func (j *Job) Heartbeat(ctx context.Context) error {
	return j.backend.RefreshHeartbeat(ctx, j.id)
}

// FinishedAt returns when the job last entered a ready state
func (j *Job) FinishedAt(ctx context.Context) (time.Time, bool, error) {
	return j.backend.FinishedAt(ctx, j.id)
}

// Delete removes the job from the backend.
//
// The current state is read right before deleting; a transition made by
// another process in between leaves the id in that state's index.
func (j *Job) Delete(ctx context.Context) error {
	state, err := j.State(ctx)
	if err != nil {
		return err
	}
	return j.backend.Delete(ctx, j.id, state)
}
