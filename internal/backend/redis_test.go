package backend

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuongbtq/jobprogress/internal/states"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipelineCounter records how commands reach the server
type pipelineCounter struct {
	mu        sync.Mutex
	pipelines int
	commands  int
}

func (h *pipelineCounter) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *pipelineCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.mu.Lock()
		h.commands++
		h.mu.Unlock()
		return next(ctx, cmd)
	}
}

func (h *pipelineCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.mu.Lock()
		h.pipelines++
		h.mu.Unlock()
		return next(ctx, cmds)
	}
}

func (h *pipelineCounter) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pipelines, h.commands = 0, 0
}

type testEnv struct {
	backend *Redis
	server  *miniredis.Miniredis
	client  *redis.Client
	hook    *pipelineCounter
}

func newTestEnv(t *testing.T, restricted bool) *testEnv {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	// Warm the connection up before counting.
	require.NoError(t, client.Ping(context.Background()).Err())
	hook := &pipelineCounter{}
	client.AddHook(hook)

	cfg := DefaultConfig()
	cfg.RestrictedProxy = restricted
	b, err := New(client, cfg)
	require.NoError(t, err)

	return &testEnv{backend: b, server: server, client: client, hook: hook}
}

// forEachMode runs fn once with pipelining and once in restricted proxy mode
func forEachMode(t *testing.T, fn func(t *testing.T, env *testEnv)) {
	for _, tc := range []struct {
		name       string
		restricted bool
	}{
		{name: "normal mode", restricted: false},
		{name: "restricted proxy mode", restricted: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fn(t, newTestEnv(t, tc.restricted))
		})
	}
}

func TestNew(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	tests := []struct {
		name    string
		client  redis.Cmdable
		cfg     Config
		wantErr bool
	}{
		{name: "default config", client: client, cfg: DefaultConfig()},
		{name: "nil client", client: nil, cfg: DefaultConfig(), wantErr: true},
		{name: "empty prefix", client: client, cfg: Config{HeartbeatExpiration: time.Minute}, wantErr: true},
		{name: "zero heartbeat", client: client, cfg: Config{KeyPrefix: "jp"}, wantErr: true},
		{name: "negative heartbeat", client: client, cfg: Config{KeyPrefix: "jp", HeartbeatExpiration: -time.Second}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(tt.client, tt.cfg)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
				assert.Nil(t, b)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cfg, b.Config())
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "jobprogress", cfg.KeyPrefix)
	assert.Equal(t, time.Hour, cfg.HeartbeatExpiration)
	assert.True(t, cfg.RestrictedProxy)
}

func TestKeys(t *testing.T) {
	env := newTestEnv(t, false)
	b := env.backend

	assert.Equal(t, "jobprogress:abc", b.jobKey("abc"))
	assert.Equal(t, "jobprogress:abc:amount", b.metaKey("abc", metaAmount))
	assert.Equal(t, "jobprogress:abc:detail:SUCCESS", b.detailKey("abc", "SUCCESS"))
	assert.Equal(t, "jobprogress:abc:detail-states", b.metaKey("abc", metaDetailStates))
	assert.Equal(t, "jobprogress:state:index:PENDING", b.stateIndexKey("PENDING"))
	assert.Equal(t, "jobprogress:all:index", b.allIndexKey())
	assert.Equal(t, "abc", b.idFromMember("jobprogress:abc"))
}

func TestInitialize(t *testing.T) {
	forEachMode(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		b := env.backend

		err := b.Initialize(ctx, "job-1", map[string]string{"toaster": "bidule"}, states.Pending, 42)
		require.NoError(t, err)

		assert.Equal(t, "bidule", env.server.HGet("jobprogress:job-1:data", "toaster"))

		amount, err := env.server.Get("jobprogress:job-1:amount")
		require.NoError(t, err)
		assert.Equal(t, "42", amount)

		state, err := env.server.Get("jobprogress:job-1:state")
		require.NoError(t, err)
		assert.Equal(t, "PENDING", state)

		inAll, err := env.server.IsMember("jobprogress:all:index", "jobprogress:job-1")
		require.NoError(t, err)
		assert.True(t, inAll)

		inPending, err := env.server.IsMember("jobprogress:state:index:PENDING", "jobprogress:job-1")
		require.NoError(t, err)
		assert.True(t, inPending)
	})
}

func TestInitialize_EmptyData(t *testing.T) {
	forEachMode(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()

		require.NoError(t, env.backend.Initialize(ctx, "job-1", nil, states.Pending, 1))
		assert.False(t, env.server.Exists("jobprogress:job-1:data"))

		rec, err := env.backend.GetData(ctx, "job-1")
		require.NoError(t, err)
		assert.True(t, rec.Exists())
		assert.Empty(t, rec.Data)
	})
}

func TestInitialize_InvalidState(t *testing.T) {
	env := newTestEnv(t, false)

	err := env.backend.Initialize(context.Background(), "job-1", nil, states.State("RUNNING"), 1)
	require.ErrorIs(t, err, states.ErrInvalidState)
	assert.Empty(t, env.server.Keys())
}

func TestInitialize_Batching(t *testing.T) {
	t.Run("normal mode uses one pipeline", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.hook.reset()

		require.NoError(t, env.backend.Initialize(context.Background(), "my_id", map[string]string{"my": "data"}, states.Pending, 42))
		assert.Equal(t, 1, env.hook.pipelines)
		assert.Equal(t, 0, env.hook.commands)
	})

	t.Run("restricted proxy mode sends commands one by one", func(t *testing.T) {
		env := newTestEnv(t, true)
		env.hook.reset()

		require.NoError(t, env.backend.Initialize(context.Background(), "my_id", map[string]string{"my": "data"}, states.Pending, 42))
		assert.Equal(t, 0, env.hook.pipelines)
		assert.Equal(t, 5, env.hook.commands)
	})
}

func TestGetData(t *testing.T) {
	forEachMode(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		b := env.backend

		t.Run("unknown id", func(t *testing.T) {
			rec, err := b.GetData(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, rec.Exists())
			assert.Empty(t, rec.Data)
			assert.Zero(t, rec.Amount)
			assert.Empty(t, rec.State)
		})

		t.Run("stored job", func(t *testing.T) {
			require.NoError(t, b.Initialize(ctx, "job-1", map[string]string{"a": "1"}, states.Scheduled, 7))

			rec, err := b.GetData(ctx, "job-1")
			require.NoError(t, err)
			assert.True(t, rec.Exists())
			assert.Equal(t, map[string]string{"a": "1"}, rec.Data)
			assert.Equal(t, int64(7), rec.Amount)
			assert.Equal(t, states.Scheduled, rec.State)
		})

		t.Run("corrupt state", func(t *testing.T) {
			require.NoError(t, env.server.Set("jobprogress:bad:state", "RUNNING"))

			_, err := b.GetData(ctx, "bad")
			require.ErrorIs(t, err, states.ErrInvalidState)
		})
	})
}

func TestGetState(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	state, err := env.backend.GetState(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, state)

	require.NoError(t, env.backend.Initialize(ctx, "job-1", nil, states.Pending, 1))
	state, err = env.backend.GetState(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, states.Pending, state)
}
