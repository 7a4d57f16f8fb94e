package jobprogress

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuongbtq/jobprogress/internal/backend"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, restricted bool) (*Session, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	return newSessionOn(t, server, restricted), server
}

// newSessionOn opens another session over an existing server, as a second
// process would.
func newSessionOn(t *testing.T, server *miniredis.Miniredis, restricted bool) *Session {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := backend.DefaultConfig()
	cfg.RestrictedProxy = restricted
	b, err := backend.New(client, cfg)
	require.NoError(t, err)

	return NewSession(b)
}

func forEachMode(t *testing.T, fn func(t *testing.T, s *Session, server *miniredis.Miniredis)) {
	for _, tc := range []struct {
		name       string
		restricted bool
	}{
		{name: "normal mode", restricted: false},
		{name: "restricted proxy mode", restricted: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, server := newTestSession(t, tc.restricted)
			fn(t, s, server)
		})
	}
}

func mustCreate(t *testing.T, s *Session, data map[string]string, amount int64) *Job {
	t.Helper()
	j, err := s.Create(context.Background(), data, amount)
	require.NoError(t, err)
	return j
}

func mustRecord(t *testing.T, j *Job, details bool) *Record {
	t.Helper()
	rec, err := j.Record(context.Background(), details)
	require.NoError(t, err)
	return rec
}
