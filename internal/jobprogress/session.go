package jobprogress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"sync"
	"weak"

	"github.com/cuongbtq/jobprogress/internal/backend"
	"github.com/cuongbtq/jobprogress/internal/states"
	"github.com/google/uuid"
)

// Option configures a Session
type Option func(*Session)

// WithLogger sets the session logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// Session hands out one live Job per id within a process. Cached jobs are
// held weakly: once nothing else references a Job it is reclaimed and the
// next Get reloads it from the backend.
type Session struct {
	backend Backend
	logger  *slog.Logger

	mu      sync.Mutex
	objects map[string]weak.Pointer[Job]
}

// NewSession creates a session over b
func NewSession(b Backend, opts ...Option) *Session {
	s := &Session{
		backend: b,
		logger:  slog.Default(),
		objects: make(map[string]weak.Pointer[Job]),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateOption configures Session.Create
type CreateOption func(*jobParams)

// WithState starts the job in s instead of PENDING
func WithState(s states.State) CreateOption {
	return func(p *jobParams) { p.state = s }
}

type jobParams struct {
	id      string
	data    map[string]string
	amount  int64
	state   states.State
	loading bool // reconstructing a persisted job, nothing is written
}

// Create persists a new job with a fresh id and registers it in the session
func (s *Session) Create(ctx context.Context, data map[string]string, amount int64, opts ...CreateOption) (*Job, error) {
	p := jobParams{data: data, amount: amount}
	for _, o := range opts {
		o(&p)
	}
	return s.construct(ctx, p)
}

func (s *Session) construct(ctx context.Context, p jobParams) (*Job, error) {
	state := p.state
	if state == "" {
		state = states.Pending
	}
	if !state.IsValid() {
		return nil, fmt.Errorf("%w: %q", states.ErrInvalidState, state)
	}
	if p.amount < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, p.amount)
	}

	data := maps.Clone(p.data)
	if data == nil {
		data = map[string]string{}
	}

	j := &Job{
		id:            p.id,
		data:          data,
		amount:        p.amount,
		backend:       s.backend,
		logger:        s.logger,
		previousState: state,
	}
	if p.loading {
		return j, nil
	}

	j.id = uuid.NewString()
	if err := s.backend.Initialize(ctx, j.id, j.data, state, j.amount); err != nil {
		return nil, err
	}

	s.logger.Debug("Job created",
		slog.String("job_id", j.id),
		slog.Int64("amount", j.amount),
		slog.String("state", state.String()),
	)

	return s.add(j.id, j), nil
}

// Get returns the live job for id, loading it from the backend when the
// session holds no live instance.
func (s *Session) Get(ctx context.Context, id string) (*Job, error) {
	if j := s.lookup(id); j != nil {
		return j, nil
	}

	rec, err := s.backend.GetData(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	j, err := s.construct(ctx, jobParams{
		id:      id,
		data:    rec.Data,
		amount:  rec.Amount,
		state:   rec.State,
		loading: true,
	})
	if err != nil {
		return nil, err
	}
	return s.add(id, j), nil
}

// IDs returns the sorted ids of the jobs matching f without loading them
func (s *Session) IDs(ctx context.Context, f backend.Filter) ([]string, error) {
	return s.backend.GetIDs(ctx, f)
}

// Query returns the jobs matching f. Ids whose data vanished between the
// index read and the data read are skipped.
func (s *Session) Query(ctx context.Context, f backend.Filter) ([]*Job, error) {
	ids, err := s.backend.GetIDs(ctx, f)
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		j, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrJobNotFound) {
				s.logger.Debug("Skipping indexed job without data", slog.String("job_id", id))
				continue
			}
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Clear drops every cached job. Persisted state is untouched.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects = make(map[string]weak.Pointer[Job])
}

// Len returns the number of live cached jobs
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, wp := range s.objects {
		if wp.Value() != nil {
			n++
		}
	}
	return n
}

func (s *Session) lookup(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[id].Value()
}

// add registers j under id and returns the instance the session keeps. When
// another goroutine registered a live job for id first, that one wins.
func (s *Session) add(id string, j *Job) *Job {
	s.mu.Lock()
	if live := s.objects[id].Value(); live != nil && live != j {
		s.mu.Unlock()
		return live
	}
	s.objects[id] = weak.Make(j)
	s.mu.Unlock()

	runtime.AddCleanup(j, s.evict, id)
	return j
}

// evict drops the entry for id once its job has been reclaimed
func (s *Session) evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wp, ok := s.objects[id]; ok && wp.Value() == nil {
		delete(s.objects, id)
	}
}
