package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Config holds Redis connection settings
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Connect opens a Redis client and verifies it responds
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	log.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("Connected to Redis")
	return rdb, nil
}

// Stats is the number of jobs per queue state
type Stats struct {
	Due      int64 `json:"due"`
	InFlight int64 `json:"inflight"`
}

// RedisQueue is a durable delayed job queue. Due jobs live in a sorted set
// scored by run instant; claimed jobs move to an in-flight set scored by their
// visibility deadline and return to due if not acknowledged in time, which
// gives at-least-once delivery across worker crashes.
type RedisQueue struct {
	rdb        redis.UniversalClient
	due        string
	inflight   string
	payload    string
	visibility time.Duration
}

// NewRedisQueue creates a queue whose keys share prefix
func NewRedisQueue(rdb redis.UniversalClient, prefix string, visibility time.Duration) *RedisQueue {
	if visibility <= 0 {
		visibility = 2 * time.Minute
	}
	return &RedisQueue{
		rdb:        rdb,
		due:        prefix + ":due",
		inflight:   prefix + ":inflight",
		payload:    prefix + ":payload",
		visibility: visibility,
	}
}

// KEYS: due, inflight, payload. ARGV: now ms, limit, visibility deadline ms.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	local data = redis.call('HGET', KEYS[3], id)
	if data then
		redis.call('ZADD', KEYS[2], ARGV[3], id)
		table.insert(out, data)
	end
end
return out
`)

// KEYS: due, inflight, payload. ARGV: id.
var ackScript = redis.NewScript(`
redis.call('ZREM', KEYS[2], ARGV[1])
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	redis.call('HDEL', KEYS[3], ARGV[1])
end
return 1
`)

// KEYS: inflight, due. ARGV: now ms.
var requeueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('ZADD', KEYS[2], 'NX', ARGV[1], id)
end
return #ids
`)

// ScheduleAt enqueues job to run at or after at. An instant already in the
// past is accepted and the job becomes due immediately.
func (q *RedisQueue) ScheduleAt(ctx context.Context, at time.Time, job Job) error {
	job.RunAt = at.UTC()
	if job.ID == "" {
		job.ID = JobID(job.MatchID, job.RunAt)
	}

	data, err := sonic.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.payload, job.ID, data)
		pipe.ZAdd(ctx, q.due, redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", job.ID, err)
	}

	log.Debug().
		Str("job_id", job.ID).
		Int64("match_id", job.MatchID).
		Time("run_at", job.RunAt).
		Msg("Job scheduled")

	return nil
}

// Claim takes up to limit due jobs and marks them in flight
func (q *RedisQueue) Claim(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	deadline := now.Add(q.visibility)
	raw, err := claimScript.Run(ctx, q.rdb,
		[]string{q.due, q.inflight, q.payload},
		now.UnixMilli(), limit, deadline.UnixMilli(),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}

	jobs := make([]Job, 0, len(raw))
	for _, data := range raw {
		var job Job
		if err := sonic.UnmarshalString(data, &job); err != nil {
			log.Error().Err(err).Str("payload", data).Msg("Dropping undecodable job")
			continue
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// Ack removes a finished job. A copy re-scheduled while it was in flight survives.
func (q *RedisQueue) Ack(ctx context.Context, job Job) error {
	if err := ackScript.Run(ctx, q.rdb, []string{q.due, q.inflight, q.payload}, job.ID).Err(); err != nil {
		return fmt.Errorf("failed to ack job %s: %w", job.ID, err)
	}
	return nil
}

// Retry puts an in-flight job back with its attempt counter incremented
func (q *RedisQueue) Retry(ctx context.Context, job Job, at time.Time) error {
	job.Attempt++
	job.RunAt = at.UTC()

	data, err := sonic.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.inflight, job.ID)
		pipe.HSet(ctx, q.payload, job.ID, data)
		pipe.ZAdd(ctx, q.due, redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to retry job %s: %w", job.ID, err)
	}
	return nil
}

// RequeueExpired returns in-flight jobs past their visibility deadline to due
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := requeueScript.Run(ctx, q.rdb, []string{q.inflight, q.due}, now.UnixMilli()).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to requeue expired jobs: %w", err)
	}
	if n > 0 {
		log.Warn().Int("count", n).Msg("Requeued jobs whose visibility timeout expired")
	}
	return n, nil
}

// Stats returns queue depth by state
func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	var due, inflight *redis.IntCmd
	_, err := q.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		due = pipe.ZCard(ctx, q.due)
		inflight = pipe.ZCard(ctx, q.inflight)
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return Stats{Due: due.Val(), InFlight: inflight.Val()}, nil
}

// Ping checks Redis connectivity
func (q *RedisQueue) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := q.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
