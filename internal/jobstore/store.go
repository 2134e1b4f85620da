// Package jobstore is the authoritative record of every generation job.
//
// Jobs live in two tiers: a durable tier (Postgres) that survives process
// restarts and is the source of truth, and a fast cache tier (Redis) that
// makes progress polling and streaming cheap. Writes go through both
// tiers (write-through, never write-around); reads prefer the cache and
// fall back to the durable tier without repopulating the cache. Every
// update also publishes a ProgressEvent carrying the changed fields to
// the job's subscribers.
package jobstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"renderd/pkg/types"
)

// Durable is the persistent tier. Errors from it are fatal to the call.
type Durable interface {
	Insert(ctx context.Context, job *types.Job) error
	Get(ctx context.Context, id string) (*types.Job, error)
	Update(ctx context.Context, id string, u Update) error
	ListRecent(ctx context.Context, limit int) ([]types.Job, error)
}

// Cache is the ephemeral tier. Errors from it are logged, never fatal;
// the durable tier remains authoritative.
type Cache interface {
	Write(ctx context.Context, job *types.Job) error
	Patch(ctx context.Context, id string, fields map[string]string) error
	Get(ctx context.Context, id string) (*types.Job, bool, error)
}

// Publisher receives progress events. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type Publisher interface {
	Publish(types.ProgressEvent)
}

// Config encapsulates Store construction.
type Config struct {
	Durable Durable
	Cache   Cache // optional
	// Extra publishers beyond the in-process broker, e.g. Redis pub/sub.
	Publishers []Publisher
	Logger     zerolog.Logger
}

// Store owns job identity and the write path. Workflow executors mutate
// progress/step/status only through Apply, never directly.
type Store struct {
	durable    Durable
	cache      Cache
	broker     *Broker
	publishers []Publisher
	log        zerolog.Logger
	now        func() time.Time
}

// New constructs a Store. An in-process broker is always attached so
// Subscribe works without external infrastructure.
func New(cfg Config) *Store {
	return &Store{
		durable:    cfg.Durable,
		cache:      cfg.Cache,
		broker:     NewBroker(),
		publishers: cfg.Publishers,
		log:        cfg.Logger.With().Str("component", "jobstore").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue creates a Job with status=queued, progress=0, step="Queued".
// The durable write happens first; the cache write is best-effort.
func (s *Store) Enqueue(ctx context.Context, workflow types.Workflow, params types.Params, owner string) (string, error) {
	job := &types.Job{
		ID:        uuid.NewString(),
		Owner:     owner,
		Workflow:  workflow,
		Status:    types.StatusQueued,
		Progress:  0,
		Step:      "Queued",
		Params:    params,
		CreatedAt: s.now(),
	}
	if err := s.durable.Insert(ctx, job); err != nil {
		return "", err
	}
	if s.cache != nil {
		if err := s.cache.Write(ctx, job); err != nil {
			s.log.Warn().Err(err).Str("job_id", job.ID).Msg("cache write failed on enqueue")
		}
	}
	s.log.Info().Str("job_id", job.ID).Str("workflow", string(workflow)).Msg("job enqueued")
	return job.ID, nil
}

// Get returns the job snapshot, cache first. A cache miss reads the
// durable tier and does not repopulate the cache: population happens on
// write paths only, so an expired entry simply shifts reads back to the
// source of truth.
func (s *Store) Get(ctx context.Context, id string) (*types.Job, error) {
	if s.cache != nil {
		job, ok, err := s.cache.Get(ctx, id)
		if err != nil {
			s.log.Warn().Err(err).Str("job_id", id).Msg("cache read failed")
		} else if ok {
			return job, nil
		}
	}
	return s.durable.Get(ctx, id)
}

// Apply writes the given partial update to both tiers and publishes a
// ProgressEvent with the changed fields. Updates against a terminal job
// are rejected; progress regressions are logged and dropped field-wise.
func (s *Store) Apply(ctx context.Context, id string, u Update) error {
	if u.empty() {
		return nil
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if cur.Status.Terminal() {
		s.log.Warn().Str("job_id", id).Str("status", string(cur.Status)).
			Msg("update rejected: job already terminal")
		return finishedError{id: id, status: cur.Status}
	}
	if u.Progress != nil && *u.Progress < cur.Progress {
		s.log.Warn().Str("job_id", id).Int("have", cur.Progress).Int("got", *u.Progress).
			Msg("progress regression dropped")
		u.Progress = nil
		if u.empty() {
			return nil
		}
	}
	if err := s.durable.Update(ctx, id, u); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Patch(ctx, id, u.fields()); err != nil {
			s.log.Warn().Err(err).Str("job_id", id).Msg("cache patch failed")
		}
	}
	ev := u.event(id)
	s.broker.Publish(ev)
	for _, p := range s.publishers {
		p.Publish(ev)
	}
	return nil
}

// Cancel writes the cancelled terminal state. While a job is processing
// this is advisory: the running workflow is not interrupted, and
// whichever terminal write lands first wins.
func (s *Store) Cancel(ctx context.Context, id string) error {
	now := s.now()
	status := types.StatusCancelled
	step := "Cancelled"
	return s.Apply(ctx, id, Update{Status: &status, Step: &step, CompletedAt: &now})
}

// ListRecent reads the durable tier only, newest first. The cache is not
// a complete index and is never used for listing.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]types.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.durable.ListRecent(ctx, limit)
}

// Subscribe returns a channel of progress events for the job, in publish
// order. Events published while the subscriber is not keeping up are
// dropped; late subscribers do not receive a replay. The returned func
// cancels the subscription.
func (s *Store) Subscribe(id string) (<-chan types.ProgressEvent, func()) {
	return s.broker.Subscribe(id)
}
