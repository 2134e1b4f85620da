package jobstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"renderd/pkg/types"
)

const (
	jobKeyPrefix          = "renderd:job:"
	progressChannelPrefix = "renderd:progress:"

	// DefaultCacheTTL bounds how long a finished job stays hot. Reads
	// after expiry fall through to Postgres.
	DefaultCacheTTL = 24 * time.Hour
)

// RedisCache is the ephemeral tier: one hash per job under
// renderd:job:<id>, refreshed to the TTL on every write.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache wraps an existing client. A non-positive ttl selects
// DefaultCacheTTL.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) Write(ctx context.Context, job *types.Job) error {
	key := jobKeyPrefix + job.ID
	if err := c.rdb.HSet(ctx, key, encodeJob(job)).Err(); err != nil {
		return err
	}
	return c.rdb.Expire(ctx, key, c.ttl).Err()
}

func (c *RedisCache) Patch(ctx context.Context, id string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	key := jobKeyPrefix + id
	// HSet on an expired key would resurrect a partial record with no id
	// field; decodeJob rejects those on read, so the patch is harmless.
	if err := c.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return err
	}
	return c.rdb.Expire(ctx, key, c.ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, id string) (*types.Job, bool, error) {
	fields, err := c.rdb.HGetAll(ctx, jobKeyPrefix+id).Result()
	if err != nil {
		return nil, false, err
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	job, err := decodeJob(fields)
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// Ping reports client health, used by the readiness probe.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// RedisEvents mirrors progress events onto Redis pub/sub channels
// (renderd:progress:<job_id>) so other processes, such as API replicas
// streaming to browsers, see updates made by the worker.
type RedisEvents struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisEvents constructs the cross-process publisher.
func NewRedisEvents(rdb *redis.Client, log zerolog.Logger) *RedisEvents {
	return &RedisEvents{rdb: rdb, log: log.With().Str("component", "redis_events").Logger()}
}

// Publish marshals ev and fires it at the job's channel. Pub/sub is
// fire-and-forget: failures are logged and never propagate to the
// originating update.
func (e *RedisEvents) Publish(ev types.ProgressEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		e.log.Warn().Err(err).Str("job_id", ev.JobID).Msg("event marshal failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.rdb.Publish(ctx, progressChannelPrefix+ev.JobID, payload).Err(); err != nil {
		e.log.Warn().Err(err).Str("job_id", ev.JobID).Msg("event publish failed")
	}
}
