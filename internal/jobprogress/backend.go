package jobprogress

import (
	"context"
	"time"

	"github.com/cuongbtq/jobprogress/internal/backend"
	"github.com/cuongbtq/jobprogress/internal/states"
)

// Backend is the persistence contract jobs and sessions rely on.
// *backend.Redis implements it.
type Backend interface {
	Initialize(ctx context.Context, id string, data map[string]string, state states.State, amount int64) error
	GetData(ctx context.Context, id string) (*backend.Record, error)
	GetState(ctx context.Context, id string) (states.State, error)
	SetState(ctx context.Context, id string, state, previous states.State) error
	AddOneProgress(ctx context.Context, id string, state states.State, itemID string) error
	GetProgress(ctx context.Context, id string) (map[states.State]int64, error)
	GetDetail(ctx context.Context, id string, state states.State) ([]string, error)
	GetDetailStates(ctx context.Context, id string) ([]states.State, error)
	IsStaled(ctx context.Context, id string) (bool, error)
	RefreshHeartbeat(ctx context.Context, id string) error
	FinishedAt(ctx context.Context, id string) (time.Time, bool, error)
	Delete(ctx context.Context, id string, state states.State) error
	GetIDs(ctx context.Context, f backend.Filter) ([]string, error)
}

var _ Backend = (*backend.Redis)(nil)
