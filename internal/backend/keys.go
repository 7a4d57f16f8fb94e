package backend

import "strings"

// Metadata names stored under a job key.
const (
	metaData         = "data"
	metaAmount       = "amount"
	metaState        = "state"
	metaHeartbeat    = "heartbeat"
	metaProgress     = "progress"
	metaDetailStates = "detail-states"
	metaFinishedAt   = "finished-at"

	detailPrefix = "detail:"
	indexSuffix  = "index"

	indexAll   = "all"
	indexState = "state"
)

// jobKey returns the namespace of a job: <prefix>:<id>
func (r *Redis) jobKey(id string) string {
	return r.cfg.KeyPrefix + ":" + id
}

// metaKey returns the key of a persisted fact: <prefix>:<id>:<name>
func (r *Redis) metaKey(id, name string) string {
	return r.jobKey(id) + ":" + name
}

func (r *Redis) detailKey(id, state string) string {
	return r.metaKey(id, detailPrefix+state)
}

// indexKey returns <prefix>:<name>:index:<value>, or <prefix>:<name>:index
// when value is empty.
func (r *Redis) indexKey(name, value string) string {
	key := r.cfg.KeyPrefix + ":" + name + ":" + indexSuffix
	if value != "" {
		key += ":" + value
	}
	return key
}

func (r *Redis) allIndexKey() string {
	return r.indexKey(indexAll, "")
}

func (r *Redis) stateIndexKey(state string) string {
	return r.indexKey(indexState, state)
}

// idFromMember turns an index member (a job key) back into a job id
func (r *Redis) idFromMember(member string) string {
	return strings.TrimPrefix(member, r.cfg.KeyPrefix+":")
}
