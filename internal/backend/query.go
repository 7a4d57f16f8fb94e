package backend

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cuongbtq/jobprogress/internal/states"
)

// Recognized query filter names
const (
	FilterState   = "state"
	FilterIsReady = "is_ready"
)

// Filter selects jobs by index. The zero Filter selects every job; when both
// fields are set the result is their intersection.
type Filter struct {
	State   states.State
	IsReady *bool
}

// ByState returns a filter matching jobs in state s
func ByState(s states.State) Filter {
	return Filter{State: s}
}

// ByReadiness returns a filter matching ready (true) or not ready (false) jobs
func ByReadiness(ready bool) Filter {
	return Filter{IsReady: &ready}
}

// ParseFilter builds a Filter from raw key/values such as URL query
// parameters. Any key other than state and is_ready is a usage error.
func ParseFilter(values map[string][]string) (Filter, error) {
	var f Filter

	var unknown []string
	for key, vals := range values {
		var raw string
		if len(vals) > 0 {
			raw = vals[0]
		}

		switch key {
		case FilterState:
			s, err := states.Parse(raw)
			if err != nil {
				return Filter{}, fmt.Errorf("%w: state: %v", ErrInvalidFilter, err)
			}
			f.State = s
		case FilterIsReady:
			ready, err := strconv.ParseBool(raw)
			if err != nil {
				return Filter{}, fmt.Errorf("%w: is_ready: %q", ErrInvalidFilter, raw)
			}
			f.IsReady = &ready
		default:
			unknown = append(unknown, key)
		}
	}

	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Filter{}, fmt.Errorf("%w: %s", ErrUnknownFilter, strings.Join(unknown, ", "))
	}
	return f, nil
}

// GetIDs returns the sorted ids of the jobs matching f
func (r *Redis) GetIDs(ctx context.Context, f Filter) ([]string, error) {
	if f.State != "" && !f.State.IsValid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, states.ErrInvalidState)
	}

	var (
		members []string
		err     error
	)

	switch {
	case f.State != "":
		if f.IsReady != nil && f.State.IsReady() != *f.IsReady {
			return []string{}, nil
		}
		members, err = r.client.SMembers(ctx, r.stateIndexKey(f.State.String())).Result()
	case f.IsReady != nil:
		group := states.NotReady
		if *f.IsReady {
			group = states.Ready
		}
		members, err = r.unionStateIndices(ctx, group)
	default:
		members, err = r.client.SMembers(ctx, r.allIndexKey()).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job ids: %w", err)
	}

	seen := make(map[string]struct{}, len(members))
	ids := make([]string, 0, len(members))
	for _, m := range members {
		id := r.idFromMember(m)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// unionStateIndices returns the members of every state index in group.
// Restricted proxies reject SUNION, so the union is built client side.
func (r *Redis) unionStateIndices(ctx context.Context, group states.Set) ([]string, error) {
	keys := make([]string, 0, group.Len())
	for _, s := range group.Slice() {
		keys = append(keys, r.stateIndexKey(s.String()))
	}

	if !r.cfg.RestrictedProxy {
		return r.client.SUnion(ctx, keys...).Result()
	}

	var members []string
	for _, key := range keys {
		part, err := r.client.SMembers(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		members = append(members, part...)
	}
	return members, nil
}
