package jobprogress

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuongbtq/jobprogress/internal/backend"
	"github.com/cuongbtq/jobprogress/internal/states"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_Flow(t *testing.T) {
	forEachMode(t, func(t *testing.T, s *Session, _ *miniredis.Miniredis) {
		ctx := context.Background()
		job := mustCreate(t, s, map[string]string{"toaster": "bidule"}, 10)

		_, err := uuid.Parse(job.ID())
		require.NoError(t, err)

		assert.Equal(t, &Record{
			ID:       job.ID(),
			Data:     map[string]string{"toaster": "bidule"},
			Amount:   10,
			Progress: map[states.State]int64{states.Pending: 10},
			IsReady:  false,
			State:    states.Pending,
		}, mustRecord(t, job, false))

		for range 10 {
			require.NoError(t, job.AddOneSuccess(ctx, ""))
		}

		rec := mustRecord(t, job, false)
		assert.Equal(t, map[states.State]int64{states.Success: 10}, rec.Progress)
		assert.Equal(t, states.Pending, rec.State)
		assert.False(t, rec.IsReady)

		require.NoError(t, job.SetState(ctx, states.Success))

		rec = mustRecord(t, job, false)
		assert.Equal(t, states.Success, rec.State)
		assert.True(t, rec.IsReady)
		assert.Equal(t, map[states.State]int64{states.Success: 10}, rec.Progress)
	})
}

func TestJob_CreateWithState(t *testing.T) {
	s, _ := newTestSession(t, false)
	ctx := context.Background()

	job, err := s.Create(ctx, nil, 3, WithState(states.Scheduled))
	require.NoError(t, err)

	state, err := job.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, states.Scheduled, state)

	jobs, err := s.Query(ctx, backend.ByState(states.Scheduled))
	require.NoError(t, err)
	assert.Equal(t, []*Job{job}, jobs)
}

func TestJob_CreateErrors(t *testing.T) {
	s, server := newTestSession(t, false)
	ctx := context.Background()

	_, err := s.Create(ctx, nil, 1, WithState(states.State("RUNNING")))
	require.ErrorIs(t, err, states.ErrInvalidState)

	_, err = s.Create(ctx, nil, -1)
	require.ErrorIs(t, err, ErrInvalidAmount)

	assert.Empty(t, server.Keys())
}

func TestJob_DataIsCopied(t *testing.T) {
	s, _ := newTestSession(t, false)
	data := map[string]string{"a": "1"}

	job := mustCreate(t, s, data, 1)
	data["a"] = "changed"
	assert.Equal(t, "1", job.Data()["a"])

	job.Data()["a"] = "changed"
	assert.Equal(t, "1", job.Data()["a"])
}

func TestJob_SetStateInvalid(t *testing.T) {
	s, _ := newTestSession(t, false)
	ctx := context.Background()
	job := mustCreate(t, s, nil, 1)

	err := job.SetState(ctx, states.State("DONE"))
	require.ErrorIs(t, err, states.ErrInvalidState)

	state, err := job.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, states.Pending, state)
}

func TestJob_TrackProgress(t *testing.T) {
	tests := []struct {
		name      string
		amount    int64
		reports   []bool
		want      map[states.State]int64
		wantTotal int
	}{
		{
			name:    "no reports",
			amount:  4,
			reports: nil,
			want:    map[states.State]int64{states.Pending: 4},
		},
		{
			name:    "mixed reports",
			amount:  5,
			reports: []bool{true, false, true},
			want:    map[states.State]int64{states.Success: 2, states.Failure: 1, states.Pending: 2},
		},
		{
			name:    "more reports than amount",
			amount:  1,
			reports: []bool{true, true, false},
			want:    map[states.State]int64{states.Success: 2, states.Failure: 1},
		},
		{
			name:    "zero amount",
			amount:  0,
			reports: nil,
			want:    map[states.State]int64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSession(t, true)
			ctx := context.Background()
			job := mustCreate(t, s, nil, tt.amount)

			for _, ok := range tt.reports {
				require.NoError(t, job.Track(ctx, ok, ""))
			}

			progress, err := job.Progress(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, progress)

			var reported int64
			for state, n := range progress {
				if state != states.Pending {
					reported += n
				}
			}
			assert.Equal(t, int64(len(tt.reports)), reported)
		})
	}
}

func TestJob_TrackConcurrently(t *testing.T) {
	forEachMode(t, func(t *testing.T, s *Session, _ *miniredis.Miniredis) {
		ctx := context.Background()
		job := mustCreate(t, s, nil, 200)

		var wg sync.WaitGroup
		for i := range 100 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, job.Track(ctx, i%4 != 0, ""))
			}()
		}
		wg.Wait()

		progress, err := job.Progress(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[states.State]int64{
			states.Success: 75,
			states.Failure: 25,
			states.Pending: 100,
		}, progress)
	})
}

func TestJob_DetailedProgress(t *testing.T) {
	forEachMode(t, func(t *testing.T, s *Session, _ *miniredis.Miniredis) {
		ctx := context.Background()
		job := mustCreate(t, s, map[string]string{"a": "1"}, 10)

		require.NoError(t, job.AddOneSuccess(ctx, "111"))
		detail, err := job.DetailedProgress(ctx, states.Success)
		require.NoError(t, err)
		assert.Equal(t, map[states.State][]string{states.Success: {"111"}}, detail)

		require.NoError(t, job.AddOneFailure(ctx, "222"))
		require.NoError(t, job.AddOneFailure(ctx, "333"))

		detail, err = job.DetailedProgress(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[states.State][]string{
			states.Success: {"111"},
			states.Failure: {"222", "333"},
		}, detail)

		detail, err = job.DetailedProgress(ctx, states.Revoked)
		require.NoError(t, err)
		require.Contains(t, detail, states.Revoked)
		assert.Empty(t, detail[states.Revoked])
	})
}

func TestJob_TrackWithItemID(t *testing.T) {
	s, _ := newTestSession(t, false)
	ctx := context.Background()
	job := mustCreate(t, s, map[string]string{"a": "1"}, 10)

	require.NoError(t, job.Track(ctx, true, "111"))
	require.NoError(t, job.Track(ctx, false, "222"))

	detail, err := job.DetailedProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[states.State][]string{
		states.Success: {"111"},
		states.Failure: {"222"},
	}, detail)

	progress, err := job.Progress(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[states.State]int64{
		states.Success: 1,
		states.Failure: 1,
		states.Pending: 8,
	}, progress)

	rec := mustRecord(t, job, true)
	assert.Equal(t, detail, rec.DetailedProgress)
}

func TestJob_TrackWithoutItemID(t *testing.T) {
	s, _ := newTestSession(t, false)
	ctx := context.Background()
	job := mustCreate(t, s, map[string]string{"a": "1"}, 10)

	require.NoError(t, job.Track(ctx, true, ""))
	require.NoError(t, job.Track(ctx, false, ""))

	rec := mustRecord(t, job, true)
	assert.Equal(t, map[states.State]int64{
		states.Success: 1,
		states.Failure: 1,
		states.Pending: 8,
	}, rec.Progress)
	assert.Empty(t, rec.DetailedProgress)
}

func TestRecord_JSON(t *testing.T) {
	s, _ := newTestSession(t, false)
	ctx := context.Background()
	job := mustCreate(t, s, map[string]string{"a": "1"}, 2)
	require.NoError(t, job.Track(ctx, true, "x"))

	t.Run("without details", func(t *testing.T) {
		raw, err := json.Marshal(mustRecord(t, job, false))
		require.NoError(t, err)

		var got map[string]any
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, job.ID(), got["id"])
		assert.Equal(t, map[string]any{"a": "1"}, got["data"])
		assert.Equal(t, float64(2), got["amount"])
		assert.Equal(t, map[string]any{"SUCCESS": float64(1), "PENDING": float64(1)}, got["progress"])
		assert.Equal(t, false, got["is_ready"])
		assert.Equal(t, "PENDING", got["state"])
		assert.NotContains(t, got, "detailed_progress")
	})

	t.Run("with details", func(t *testing.T) {
		raw, err := json.Marshal(mustRecord(t, job, true))
		require.NoError(t, err)

		var got map[string]any
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, map[string]any{"SUCCESS": []any{"x"}}, got["detailed_progress"])
	})
}

func TestJob_IsStaled(t *testing.T) {
	forEachMode(t, func(t *testing.T, s *Session, server *miniredis.Miniredis) {
		ctx := context.Background()
		job := mustCreate(t, s, nil, 1)

		staled, err := job.IsStaled(ctx)
		require.NoError(t, err)
		assert.False(t, staled, "only STARTED jobs can be staled")

		require.NoError(t, job.SetState(ctx, states.Started))
		require.NoError(t, job.AddOneSuccess(ctx, ""))

		staled, err = job.IsStaled(ctx)
		require.NoError(t, err)
		assert.False(t, staled)

		server.Del("jobprogress:" + job.ID() + ":heartbeat")

		staled, err = job.IsStaled(ctx)
		require.NoError(t, err)
		assert.True(t, staled)

		require.NoError(t, job.AddOneFailure(ctx, ""))
		staled, err = job.IsStaled(ctx)
		require.NoError(t, err)
		assert.False(t, staled)

		server.FastForward(2 * time.Hour)
		staled, err = job.IsStaled(ctx)
		require.NoError(t, err)
		assert.True(t, staled)

		require.NoError(t, job.SetState(ctx, states.Started))
		staled, err = job.IsStaled(ctx)
		require.NoError(t, err)
		assert.False(t, staled)
	})
}

func TestJob_Delete(t *testing.T) {
	forEachMode(t, func(t *testing.T, s *Session, server *miniredis.Miniredis) {
		ctx := context.Background()
		job := mustCreate(t, s, map[string]string{"a": "1"}, 1)
		require.NoError(t, job.SetState(ctx, states.Started))
		require.NoError(t, job.AddOneSuccess(ctx, "111"))

		require.NoError(t, job.Delete(ctx))
		assert.Empty(t, server.Keys())

		jobs, err := s.Query(ctx, backend.Filter{})
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})
}

func TestJob_FinishedAt(t *testing.T) {
	s, _ := newTestSession(t, false)
	ctx := context.Background()
	job := mustCreate(t, s, nil, 1)

	_, ok, err := job.FinishedAt(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, job.SetState(ctx, states.Revoked))
	_, ok, err = job.FinishedAt(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
