package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/cuongbtq/jobprogress/internal/states"
	"github.com/redis/go-redis/v9"
)

// Record is the raw persisted view of a job
type Record struct {
	Data   map[string]string
	Amount int64
	State  states.State
	found  bool
}

// Exists reports whether anything was stored for the job
func (rec *Record) Exists() bool {
	return rec.found
}

// Initialize stores every fact of a new job and indexes it
func (r *Redis) Initialize(ctx context.Context, id string, data map[string]string, state states.State, amount int64) error {
	if !state.IsValid() {
		return fmt.Errorf("%w: %q", states.ErrInvalidState, state)
	}

	r.trace("initialize", id, slog.String("state", state.String()), slog.Int64("amount", amount))

	ops := make([]op, 0, 5)
	if len(data) > 0 {
		fields := make([]interface{}, 0, len(data)*2)
		for k, v := range data {
			fields = append(fields, k, v)
		}
		ops = append(ops, func(ctx context.Context, c redis.Cmdable) redis.Cmder {
			return c.HSet(ctx, r.metaKey(id, metaData), fields...)
		})
	}

	member := r.jobKey(id)
	ops = append(ops,
		func(ctx context.Context, c redis.Cmdable) redis.Cmder {
			return c.Set(ctx, r.metaKey(id, metaAmount), amount, 0)
		},
		func(ctx context.Context, c redis.Cmdable) redis.Cmder {
			return c.Set(ctx, r.metaKey(id, metaState), state.String(), 0)
		},
		func(ctx context.Context, c redis.Cmdable) redis.Cmder {
			return c.SAdd(ctx, r.allIndexKey(), member)
		},
		func(ctx context.Context, c redis.Cmdable) redis.Cmder {
			return c.SAdd(ctx, r.stateIndexKey(state.String()), member)
		},
	)

	if err := r.batch(ctx, ops...); err != nil {
		return fmt.Errorf("failed to initialize job %s: %w", id, err)
	}
	return nil
}

// GetData returns metadata, amount and state of a job in one round trip.
// A record for an unknown id has Exists() == false.
func (r *Redis) GetData(ctx context.Context, id string) (*Record, error) {
	var (
		dataCmd   *redis.MapStringStringCmd
		amountCmd *redis.StringCmd
		stateCmd  *redis.StringCmd
	)

	err := r.batch(ctx,
		func(ctx context.Context, c redis.Cmdable) redis.Cmder {
			dataCmd = c.HGetAll(ctx, r.metaKey(id, metaData))
			return dataCmd
		},
		func(ctx context.Context, c redis.Cmdable) redis.Cmder {
			amountCmd = c.Get(ctx, r.metaKey(id, metaAmount))
			return amountCmd
		},
		func(ctx context.Context, c redis.Cmdable) redis.Cmder {
			stateCmd = c.Get(ctx, r.metaKey(id, metaState))
			return stateCmd
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}

	rec := &Record{Data: dataCmd.Val()}
	if rec.Data == nil {
		rec.Data = map[string]string{}
	}

	rawAmount := amountCmd.Val()
	rawState := stateCmd.Val()
	rec.found = len(rec.Data) > 0 || rawAmount != "" || rawState != ""

	if rawAmount != "" {
		amount, err := strconv.ParseInt(rawAmount, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount of job %s: %w", id, err)
		}
		rec.Amount = amount
	}

	if rawState != "" {
		state, err := states.Parse(rawState)
		if err != nil {
			return nil, fmt.Errorf("failed to parse state of job %s: %w", id, err)
		}
		rec.State = state
	}

	return rec, nil
}

// GetState returns the persisted state of a job, or "" if none is stored
func (r *Redis) GetState(ctx context.Context, id string) (states.State, error) {
	raw, err := r.client.Get(ctx, r.metaKey(id, metaState)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get state of job %s: %w", id, err)
	}
	return states.Parse(raw)
}

// SetState writes the new state and moves the job between state indices.
// previous is a hint of the state currently indexed; a wrong hint costs a
// removal from every other state index.
func (r *Redis) SetState(ctx context.Context, id string, state, previous states.State) error {
	if !state.IsValid() {
		return fmt.Errorf("%w: %q", states.ErrInvalidState, state)
	}

	r.trace("set_state", id, slog.String("state", state.String()), slog.String("previous_state", previous.String()))

	// Heartbeat goes first so a staleness check never sees STARTED without one.
	if state == states.Started {
		if err := r.RefreshHeartbeat(ctx, id); err != nil {
			return err
		}
	}

	if err := r.client.Set(ctx, r.metaKey(id, metaState), state.String(), 0).Err(); err != nil {
		return fmt.Errorf("failed to set state of job %s: %w", id, err)
	}

	if err := r.markFinished(ctx, id, state); err != nil {
		return err
	}

	return r.moveStateIndex(ctx, id, previous, state)
}

func (r *Redis) markFinished(ctx context.Context, id string, state states.State) error {
	key := r.metaKey(id, metaFinishedAt)

	var err error
	if state.IsReady() {
		err = r.client.Set(ctx, key, time.Now().Unix(), 0).Err()
	} else {
		err = r.client.Del(ctx, key).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to update finished marker of job %s: %w", id, err)
	}
	return nil
}

// moveStateIndex puts the job in the index of state. previous is only a
// hint: when the job was not found where the hint says, it is removed from
// every other state index so it never ends up indexed twice.
func (r *Redis) moveStateIndex(ctx context.Context, id string, previous, state states.State) error {
	member := r.jobKey(id)
	target := r.stateIndexKey(state.String())

	switch {
	case previous == "":
	case previous == state:
		added, err := r.client.SAdd(ctx, target, member).Result()
		if err != nil {
			return fmt.Errorf("failed to add job %s to %s index: %w", id, state, err)
		}
		if added == 0 {
			return nil
		}
	case r.cfg.RestrictedProxy:
		source := r.stateIndexKey(previous.String())
		// Not atomic: the job is in no state index until SADD lands.
		removed, err := r.client.SRem(ctx, source, member).Result()
		if err != nil {
			return fmt.Errorf("failed to remove job %s from %s index: %w", id, previous, err)
		}
		if removed == 1 {
			if err := r.client.SAdd(ctx, target, member).Err(); err != nil {
				return fmt.Errorf("failed to add job %s to %s index: %w", id, state, err)
			}
			return nil
		}
	default:
		source := r.stateIndexKey(previous.String())
		moved, err := r.client.SMove(ctx, source, target, member).Result()
		if err != nil {
			return fmt.Errorf("failed to move job %s to %s index: %w", id, state, err)
		}
		if moved {
			return nil
		}
	}

	r.trace("reindex", id, slog.String("state", state.String()), slog.String("previous_hint", previous.String()))
	return r.reindex(ctx, id, state)
}

// reindex adds the job to the index of state and removes it from all others
func (r *Redis) reindex(ctx context.Context, id string, state states.State) error {
	member := r.jobKey(id)

	ops := []op{
		func(ctx context.Context, c redis.Cmdable) redis.Cmder {
			return c.SAdd(ctx, r.stateIndexKey(state.String()), member)
		},
	}
	for _, s := range states.All.Slice() {
		if s == state {
			continue
		}
		index := r.stateIndexKey(s.String())
		ops = append(ops, func(ctx context.Context, c redis.Cmdable) redis.Cmder {
			return c.SRem(ctx, index, member)
		})
	}

	if err := r.batch(ctx, ops...); err != nil {
		return fmt.Errorf("failed to reindex job %s under %s: %w", id, state, err)
	}
	return nil
}

// AddOneProgress increments the counter of state by one and, when itemID is
// not empty, records the item in the detail set of that state.
func (r *Redis) AddOneProgress(ctx context.Context, id string, state states.State, itemID string) error {
	if state == "" {
		return ErrStateRequired
	}
	if !state.IsReady() {
		return fmt.Errorf("%w: %q", ErrInvalidProgressState, state)
	}

	r.trace("add_one_progress", id, slog.String("state", state.String()), slog.String("item_id", itemID))

	ops := []op{
		func(ctx context.Context, c redis.Cmdable) redis.Cmder {
			return c.HIncrBy(ctx, r.metaKey(id, metaProgress), state.String(), 1)
		},
	}
	if itemID != "" {
		ops = append(ops,
			func(ctx context.Context, c redis.Cmdable) redis.Cmder {
				return c.SAdd(ctx, r.detailKey(id, state.String()), itemID)
			},
			func(ctx context.Context, c redis.Cmdable) redis.Cmder {
				return c.SAdd(ctx, r.metaKey(id, metaDetailStates), state.String())
			},
		)
	}
	ops = append(ops, r.heartbeatOp(id))

	if err := r.batch(ctx, ops...); err != nil {
		return fmt.Errorf("failed to add progress to job %s: %w", id, err)
	}
	return nil
}

// GetProgress returns the unit counters of a job keyed by state
func (r *Redis) GetProgress(ctx context.Context, id string) (map[states.State]int64, error) {
	raw, err := r.client.HGetAll(ctx, r.metaKey(id, metaProgress)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get progress of job %s: %w", id, err)
	}

	progress := make(map[states.State]int64, len(raw))
	for field, value := range raw {
		count, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s progress of job %s: %w", field, id, err)
		}
		progress[states.State(field)] = count
	}
	return progress, nil
}

// GetDetail returns the item ids recorded for state, sorted
func (r *Redis) GetDetail(ctx context.Context, id string, state states.State) ([]string, error) {
	if state == "" {
		return nil, ErrStateRequired
	}

	items, err := r.client.SMembers(ctx, r.detailKey(id, state.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get %s detail of job %s: %w", state, id, err)
	}
	sort.Strings(items)
	return items, nil
}

// GetDetailStates returns the states holding at least one detail entry
func (r *Redis) GetDetailStates(ctx context.Context, id string) ([]states.State, error) {
	raw, err := r.client.SMembers(ctx, r.metaKey(id, metaDetailStates)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get detail states of job %s: %w", id, err)
	}

	sort.Strings(raw)
	out := make([]states.State, len(raw))
	for i, s := range raw {
		out[i] = states.State(s)
	}
	return out, nil
}

// RefreshHeartbeat marks the job as alive for another expiration window
func (r *Redis) RefreshHeartbeat(ctx context.Context, id string) error {
	if err := r.heartbeatOp(id)(ctx, r.client).Err(); err != nil {
		return fmt.Errorf("failed to refresh heartbeat of job %s: %w", id, err)
	}
	return nil
}

func (r *Redis) heartbeatOp(id string) op {
	return func(ctx context.Context, c redis.Cmdable) redis.Cmder {
		return c.Set(ctx, r.metaKey(id, metaHeartbeat), 1, r.cfg.HeartbeatExpiration)
	}
}

// IsStaled reports whether the job has no live heartbeat
func (r *Redis) IsStaled(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, r.metaKey(id, metaHeartbeat)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check heartbeat of job %s: %w", id, err)
	}
	return n == 0, nil
}

// FinishedAt returns when the job last entered a ready state
func (r *Redis) FinishedAt(ctx context.Context, id string) (time.Time, bool, error) {
	raw, err := r.client.Get(ctx, r.metaKey(id, metaFinishedAt)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to get finished marker of job %s: %w", id, err)
	}
	return time.Unix(raw, 0), true, nil
}

// Delete removes every persisted fact of a job and its index entries.
// state must be the job's current state; with an empty state the job is
// removed from every state index.
func (r *Redis) Delete(ctx context.Context, id string, state states.State) error {
	r.trace("delete", id, slog.String("state", state.String()))

	keys := []string{
		r.metaKey(id, metaData),
		r.metaKey(id, metaAmount),
		r.metaKey(id, metaState),
		r.metaKey(id, metaHeartbeat),
		r.metaKey(id, metaProgress),
		r.metaKey(id, metaDetailStates),
		r.metaKey(id, metaFinishedAt),
	}
	// Detail only exists for ready states. Deleting all of them, rather than
	// those listed in detail-states, also catches items added concurrently.
	for _, s := range states.Ready.Slice() {
		keys = append(keys, r.detailKey(id, s.String()))
	}

	indices := []string{r.stateIndexKey(state.String())}
	if state == "" {
		indices = indices[:0]
		for _, s := range states.All.Slice() {
			indices = append(indices, r.stateIndexKey(s.String()))
		}
	}

	member := r.jobKey(id)
	ops := make([]op, 0, len(keys)+len(indices)+1)
	// One DEL per key: proxies reject multi-key DEL spanning shards.
	for _, key := range keys {
		ops = append(ops, func(ctx context.Context, c redis.Cmdable) redis.Cmder {
			return c.Del(ctx, key)
		})
	}
	ops = append(ops, func(ctx context.Context, c redis.Cmdable) redis.Cmder {
		return c.SRem(ctx, r.allIndexKey(), member)
	})
	for _, index := range indices {
		ops = append(ops, func(ctx context.Context, c redis.Cmdable) redis.Cmder {
			return c.SRem(ctx, index, member)
		})
	}

	if err := r.batch(ctx, ops...); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return nil
}
