package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	orchestrator "github.com/getpup/migration-orchestrator"
	"github.com/getpup/migration-orchestrator/store"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Store is a Redis implementation of JobStore and TenantStateStore.
//
// Layout, under a configurable key prefix:
//
//	<prefix>:job:<id>      HASH   job fields
//	<prefix>:ids           SET    all retained job ids
//	<prefix>:waiting       ZSET   job id scored by claimable-at time
//	<prefix>:active        ZSET   job id scored by last heartbeat time
//	<prefix>:state:<tenant> LIST  applied migration ids in order
//
// Every multi-key transition runs as a Lua script so claims and
// status-guarded updates stay atomic against concurrent workers.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// Compile-time checks that Store implements both store interfaces.
var (
	_ store.JobStore         = (*Store)(nil)
	_ store.TenantStateStore = (*Store)(nil)
)

// New creates a Redis store with the default "migrate" key prefix.
func New(rdb redis.UniversalClient) *Store {
	return NewWithPrefix(rdb, "migrate")
}

// NewWithPrefix creates a Redis store using the given key prefix.
func NewWithPrefix(rdb redis.UniversalClient, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) jobKey(jobID string) string    { return s.prefix + ":job:" + jobID }
func (s *Store) idsKey() string                { return s.prefix + ":ids" }
func (s *Store) waitingKey() string            { return s.prefix + ":waiting" }
func (s *Store) activeKey() string             { return s.prefix + ":active" }
func (s *Store) stateKey(tenantID string) string { return s.prefix + ":state:" + tenantID }

// claimScript pops the oldest claimable waiting job and marks it active.
// KEYS: waiting zset, active zset. ARGV: now (unix seconds), now (RFC3339),
// job key prefix. Returns the claimed job id or false.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
local id = ids[1]
redis.call('ZREM', KEYS[1], id)
redis.call('ZADD', KEYS[2], ARGV[1], id)
redis.call('HSET', ARGV[3] .. id, 'status', 'active', 'claimed_at', ARGV[2], 'last_heartbeat', ARGV[2])
return id
`)

// settleScript applies a status-guarded transition out of the active state.
// KEYS: job hash, active zset, waiting zset, ids set.
// ARGV: op, now unix, now RFC3339, arg1, arg2, arg3
//
//	op=heartbeat:  refresh last_heartbeat
//	op=terminal:   arg1=new status, arg2=remove ("1"/"0"), arg3=last error;
//	               failed also bumps attempts and records arg3
//	op=retry:      arg1=last error, arg2=not-before unix; attempts+1
//	op=release:    arg2=not-before unix
//	op=stallreq:   stalled_count+1, back to waiting immediately
//
// All writes happen behind the active-status guard, so a job another actor
// already settled is left untouched. Returns 1 on success, 0 if the job is
// not active.
var settleScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status ~= 'active' then
  return 0
end
local op = ARGV[1]
if op == 'heartbeat' then
  redis.call('HSET', KEYS[1], 'last_heartbeat', ARGV[3])
  redis.call('ZADD', KEYS[2], ARGV[2], redis.call('HGET', KEYS[1], 'id'))
  return 1
end
local id = redis.call('HGET', KEYS[1], 'id')
redis.call('ZREM', KEYS[2], id)
if op == 'terminal' then
  if ARGV[5] == '1' then
    redis.call('DEL', KEYS[1])
    redis.call('SREM', KEYS[4], id)
    return 1
  end
  redis.call('HSET', KEYS[1], 'status', ARGV[4])
  if ARGV[4] == 'failed' then
    redis.call('HINCRBY', KEYS[1], 'attempts', 1)
    redis.call('HSET', KEYS[1], 'last_error', ARGV[6])
  end
  if ARGV[4] == 'stalled' then
    redis.call('HINCRBY', KEYS[1], 'stalled_count', 1)
  end
  return 1
end
if op == 'retry' then
  redis.call('HINCRBY', KEYS[1], 'attempts', 1)
  redis.call('HSET', KEYS[1], 'status', 'waiting', 'last_error', ARGV[4], 'not_before', ARGV[5])
  redis.call('ZADD', KEYS[3], ARGV[5], id)
  return 1
end
if op == 'release' then
  redis.call('HSET', KEYS[1], 'status', 'waiting', 'not_before', ARGV[5])
  redis.call('ZADD', KEYS[3], ARGV[5], id)
  return 1
end
if op == 'stallreq' then
  redis.call('HINCRBY', KEYS[1], 'stalled_count', 1)
  redis.call('HSET', KEYS[1], 'status', 'waiting')
  redis.call('ZADD', KEYS[3], ARGV[2], id)
  return 1
end
return redis.error_reply('unknown op ' .. op)
`)

// appendScript appends an applied migration id with compare-and-set
// semantics on the list length and a duplicate check.
// KEYS: state list. ARGV: migration id, expected length.
var appendScript = redis.NewScript(`
local n = redis.call('LLEN', KEYS[1])
if n ~= tonumber(ARGV[2]) then
  return 0
end
local existing = redis.call('LRANGE', KEYS[1], 0, -1)
for _, id in ipairs(existing) do
  if id == ARGV[1] then
    return 0
  end
end
redis.call('RPUSH', KEYS[1], ARGV[1])
return 1
`)

// Enqueue admits a new job in the waiting state and returns it.
func (s *Store) Enqueue(ctx context.Context, tenantID string) (orchestrator.Job, error) {
	now := time.Now()
	job := orchestrator.Job{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		Status:     orchestrator.JobStatusWaiting,
		EnqueuedAt: now,
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.jobKey(job.ID), map[string]any{
		"id":             job.ID,
		"tenant_id":      tenantID,
		"status":         string(orchestrator.JobStatusWaiting),
		"attempts":       0,
		"stalled_count":  0,
		"enqueued_at":    now.Format(time.RFC3339Nano),
		"not_before":     0,
		"last_error":     "",
	})
	pipe.SAdd(ctx, s.idsKey(), job.ID)
	pipe.ZAdd(ctx, s.waitingKey(), redis.Z{Score: unixScore(now), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return orchestrator.Job{}, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return job, nil
}

// Claim atomically moves the oldest claimable waiting job to active.
func (s *Store) Claim(ctx context.Context) (orchestrator.Job, error) {
	now := time.Now()
	res, err := claimScript.Run(ctx, s.rdb,
		[]string{s.waitingKey(), s.activeKey()},
		strconv.FormatFloat(unixScore(now), 'f', -1, 64),
		now.Format(time.RFC3339Nano),
		s.prefix+":job:",
	).Result()
	if err == redis.Nil {
		return orchestrator.Job{}, orchestrator.ErrNoJobAvailable
	}
	if err != nil {
		return orchestrator.Job{}, fmt.Errorf("failed to claim job: %w", err)
	}

	jobID, ok := res.(string)
	if !ok {
		return orchestrator.Job{}, orchestrator.ErrNoJobAvailable
	}

	return s.Get(ctx, jobID)
}

// Heartbeat refreshes the liveness timestamp of an active job.
func (s *Store) Heartbeat(ctx context.Context, jobID string) error {
	now := time.Now()
	return s.settle(ctx, jobID, "heartbeat", now, now.Format(time.RFC3339Nano), "", "")
}

// Complete marks an active job as completed, purging it if remove is set.
func (s *Store) Complete(ctx context.Context, jobID string, remove bool) error {
	return s.settle(ctx, jobID, "terminal", time.Now(), string(orchestrator.JobStatusCompleted), removeFlag(remove), "")
}

// Fail marks an active job as failed, purging it if remove is set. The error
// message is written inside the guarded transition, so a job another actor
// already settled never gets an error stamped on it.
func (s *Store) Fail(ctx context.Context, jobID string, lastError string, remove bool) error {
	return s.settle(ctx, jobID, "terminal", time.Now(), string(orchestrator.JobStatusFailed), removeFlag(remove), lastError)
}

// Retry returns an active job to the waiting state for another attempt.
func (s *Store) Retry(ctx context.Context, jobID string, lastError string, notBefore time.Time) error {
	return s.settle(ctx, jobID, "retry", time.Now(), lastError, strconv.FormatFloat(unixScore(notBefore), 'f', -1, 64), "")
}

// Release returns an active job to the waiting state without counting an attempt.
func (s *Store) Release(ctx context.Context, jobID string, notBefore time.Time) error {
	return s.settle(ctx, jobID, "release", time.Now(), "", strconv.FormatFloat(unixScore(notBefore), 'f', -1, 64), "")
}

// RequeueStalled returns a stalled active job to the waiting state and
// increments its StalledCount.
func (s *Store) RequeueStalled(ctx context.Context, jobID string) error {
	return s.settle(ctx, jobID, "stallreq", time.Now(), "", "", "")
}

// MarkStalled marks an active job as stalled, purging it if remove is set.
func (s *Store) MarkStalled(ctx context.Context, jobID string, remove bool) error {
	return s.settle(ctx, jobID, "terminal", time.Now(), string(orchestrator.JobStatusStalled), removeFlag(remove), "")
}

func (s *Store) settle(ctx context.Context, jobID, op string, now time.Time, arg1, arg2, arg3 string) error {
	res, err := settleScript.Run(ctx, s.rdb,
		[]string{s.jobKey(jobID), s.activeKey(), s.waitingKey(), s.idsKey()},
		op,
		strconv.FormatFloat(unixScore(now), 'f', -1, 64),
		now.Format(time.RFC3339Nano),
		arg1,
		arg2,
		arg3,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if res == 0 {
		return store.ErrJobNotActive
	}
	return nil
}

// Get returns a job by id.
func (s *Store) Get(ctx context.Context, jobID string) (orchestrator.Job, error) {
	fields, err := s.rdb.HGetAll(ctx, s.jobKey(jobID)).Result()
	if err != nil {
		return orchestrator.Job{}, fmt.Errorf("failed to get job: %w", err)
	}
	if len(fields) == 0 {
		return orchestrator.Job{}, store.ErrJobNotFound
	}

	return parseJob(fields)
}

// ListStalled returns active jobs whose LastHeartbeat is before the cutoff.
func (s *Store) ListStalled(ctx context.Context, heartbeatBefore time.Time) ([]orchestrator.Job, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, s.activeKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(unixScore(heartbeatBefore), 'f', -1, 64),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled jobs: %w", err)
	}

	var jobs []orchestrator.Job
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if err == store.ErrJobNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if job.Status == orchestrator.JobStatusActive && job.LastHeartbeat.Before(heartbeatBefore) {
			jobs = append(jobs, job)
		}
	}

	return jobs, nil
}

// CountByStatus returns the number of jobs currently in the given status.
func (s *Store) CountByStatus(ctx context.Context, status orchestrator.JobStatus) (int, error) {
	switch status {
	case orchestrator.JobStatusActive:
		n, err := s.rdb.ZCard(ctx, s.activeKey()).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to count jobs: %w", err)
		}
		return int(n), nil
	case orchestrator.JobStatusWaiting:
		n, err := s.rdb.ZCard(ctx, s.waitingKey()).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to count jobs: %w", err)
		}
		return int(n), nil
	}

	// Terminal statuses are only retained when the purge flags are off;
	// walk the retained id set.
	ids, err := s.rdb.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	count := 0
	for _, id := range ids {
		st, err := s.rdb.HGet(ctx, s.jobKey(id), "status").Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to count jobs: %w", err)
		}
		if orchestrator.JobStatus(st) == status {
			count++
		}
	}

	return count, nil
}

// Load returns the tenant's migration state.
func (s *Store) Load(ctx context.Context, tenantID string) (orchestrator.TenantState, error) {
	ids, err := s.rdb.LRange(ctx, s.stateKey(tenantID), 0, -1).Result()
	if err != nil {
		return orchestrator.TenantState{}, fmt.Errorf("failed to load tenant state: %w", err)
	}
	if len(ids) == 0 {
		return orchestrator.TenantState{}, store.ErrTenantNotFound
	}

	return orchestrator.TenantState{TenantID: tenantID, AppliedIDs: ids}, nil
}

// AppendApplied records an applied migration id with compare-and-set
// semantics on the list length.
func (s *Store) AppendApplied(ctx context.Context, tenantID, migrationID string, expectedApplied int) error {
	res, err := appendScript.Run(ctx, s.rdb,
		[]string{s.stateKey(tenantID)},
		migrationID,
		expectedApplied,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to append applied migration: %w", err)
	}
	if res == 0 {
		return orchestrator.ErrStaleState
	}
	return nil
}

func removeFlag(remove bool) string {
	if remove {
		return "1"
	}
	return "0"
}

func unixScore(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000.0
}

func parseJob(fields map[string]string) (orchestrator.Job, error) {
	job := orchestrator.Job{
		ID:        fields["id"],
		TenantID:  fields["tenant_id"],
		Status:    orchestrator.JobStatus(fields["status"]),
		LastError: fields["last_error"],
	}

	var err error
	if job.Attempts, err = strconv.Atoi(fields["attempts"]); err != nil {
		return orchestrator.Job{}, fmt.Errorf("invalid attempts field: %w", err)
	}
	if job.StalledCount, err = strconv.Atoi(fields["stalled_count"]); err != nil {
		return orchestrator.Job{}, fmt.Errorf("invalid stalled_count field: %w", err)
	}
	if job.EnqueuedAt, err = time.Parse(time.RFC3339Nano, fields["enqueued_at"]); err != nil {
		return orchestrator.Job{}, fmt.Errorf("invalid enqueued_at field: %w", err)
	}
	if raw := fields["not_before"]; raw != "" && raw != "0" {
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return orchestrator.Job{}, fmt.Errorf("invalid not_before field: %w", err)
		}
		job.NotBefore = time.UnixMilli(int64(score * 1000))
	}
	if raw := fields["claimed_at"]; raw != "" {
		if job.ClaimedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return orchestrator.Job{}, fmt.Errorf("invalid claimed_at field: %w", err)
		}
	}
	if raw := fields["last_heartbeat"]; raw != "" {
		if job.LastHeartbeat, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return orchestrator.Job{}, fmt.Errorf("invalid last_heartbeat field: %w", err)
		}
	}

	return job, nil
}
