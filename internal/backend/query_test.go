package backend

import (
	"context"
	"testing"

	"github.com/cuongbtq/jobprogress/internal/states"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter(t *testing.T) {
	ready := true
	notReady := false

	tests := []struct {
		name    string
		values  map[string][]string
		want    Filter
		wantErr error
	}{
		{name: "no filters", values: nil, want: Filter{}},
		{name: "state", values: map[string][]string{"state": {"STARTED"}}, want: Filter{State: states.Started}},
		{name: "is_ready true", values: map[string][]string{"is_ready": {"true"}}, want: Filter{IsReady: &ready}},
		{name: "is_ready false", values: map[string][]string{"is_ready": {"0"}}, want: Filter{IsReady: &notReady}},
		{
			name:   "both",
			values: map[string][]string{"is_ready": {"true"}, "state": {"SUCCESS"}},
			want:   Filter{State: states.Success, IsReady: &ready},
		},
		{name: "unknown key", values: map[string][]string{"toaster": {"true"}}, wantErr: ErrUnknownFilter},
		{
			name:    "unknown key next to known ones",
			values:  map[string][]string{"state": {"PENDING"}, "page": {"2"}},
			wantErr: ErrUnknownFilter,
		},
		{name: "bad state", values: map[string][]string{"state": {"RUNNING"}}, wantErr: ErrInvalidFilter},
		{name: "bad is_ready", values: map[string][]string{"is_ready": {"maybe"}}, wantErr: ErrInvalidFilter},
		{name: "empty is_ready", values: map[string][]string{"is_ready": {}}, wantErr: ErrInvalidFilter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFilter(tt.values)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetIDs(t *testing.T) {
	forEachMode(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		b := env.backend

		require.NoError(t, b.Initialize(ctx, "a", nil, states.Pending, 1))
		require.NoError(t, b.Initialize(ctx, "b", nil, states.Pending, 1))
		require.NoError(t, b.Initialize(ctx, "c", nil, states.Pending, 1))
		require.NoError(t, b.SetState(ctx, "b", states.Started, states.Pending))
		require.NoError(t, b.SetState(ctx, "c", states.Success, states.Pending))

		tests := []struct {
			name   string
			filter Filter
			want   []string
		}{
			{name: "all", filter: Filter{}, want: []string{"a", "b", "c"}},
			{name: "pending", filter: ByState(states.Pending), want: []string{"a"}},
			{name: "started", filter: ByState(states.Started), want: []string{"b"}},
			{name: "revoked", filter: ByState(states.Revoked), want: []string{}},
			{name: "not ready", filter: ByReadiness(false), want: []string{"a", "b"}},
			{name: "ready", filter: ByReadiness(true), want: []string{"c"}},
			{name: "ready state and ready", filter: Filter{State: states.Success, IsReady: ByReadiness(true).IsReady}, want: []string{"c"}},
			{name: "ready state and not ready", filter: Filter{State: states.Success, IsReady: ByReadiness(false).IsReady}, want: []string{}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				ids, err := b.GetIDs(ctx, tt.filter)
				require.NoError(t, err)
				assert.Equal(t, tt.want, ids)

				again, err := b.GetIDs(ctx, tt.filter)
				require.NoError(t, err)
				assert.Equal(t, ids, again)
			})
		}
	})
}

func TestGetIDs_InvalidState(t *testing.T) {
	env := newTestEnv(t, false)

	_, err := env.backend.GetIDs(context.Background(), ByState(states.State("RUNNING")))
	require.ErrorIs(t, err, ErrInvalidFilter)
}
