package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"extraction-worker/internal/models"
)

const (
	jobKeyPrefix   = "jobs:item:"
	queueKeyPrefix = "jobs:queue:"
	pickScanWindow = 100
)

// RedisJobStore keeps jobs as hashes with a per-queue sorted set ordered by
// creation time. Picking runs as a single Lua script so the lock
// check-and-set is atomic across concurrent workers.
type RedisJobStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisJobStore builds a store around an existing Redis client.
func NewRedisJobStore(client *redis.Client) *RedisJobStore {
	return &RedisJobStore{
		client: client,
		now:    time.Now,
	}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func queueKey(queue string) string {
	return queueKeyPrefix + queue
}

// PushJob inserts an unlocked job with createdAt = now.
func (s *RedisJobStore) PushJob(ctx context.Context, queue, name, namespace string, params json.RawMessage, opts models.JobOptions) (string, error) {
	id := uuid.New().String()
	createdAt := s.now().UnixMilli()
	if params == nil {
		params = json.RawMessage("{}")
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(id),
		"queue", queue,
		"name", name,
		"namespace", namespace,
		"params", string(params),
		"locked_until", 0,
		"created_at", createdAt,
		"lock_window", opts.LockWindow.Milliseconds(),
	)
	pipe.ZAdd(ctx, queueKey(queue), redis.Z{Score: float64(createdAt), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("push job: %w", err)
	}
	return id, nil
}

// PickJob atomically selects and locks the oldest unlocked job in the queue.
func (s *RedisJobStore) PickJob(ctx context.Context, queue string) (*models.Job, error) {
	res, err := pickScript.Run(ctx, s.client,
		[]string{queueKey(queue)},
		s.now().UnixMilli(), jobKeyPrefix, pickScanWindow,
	).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pick job: %w", err)
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return nil, fmt.Errorf("unexpected type from pick script: %T", res)
	}
	id, _ := arr[0].(string)
	fields, ok := arr[1].([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected job fields from pick script: %T", arr[1])
	}
	job, err := jobFromFields(id, queue, fields)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// RenewJobLock sets lockedUntil = now + lockWindow, regardless of the
// previous deadline.
func (s *RedisJobStore) RenewJobLock(ctx context.Context, job *models.Job) error {
	lockedUntil := s.now().UnixMilli() + job.Options.LockWindow.Milliseconds()
	if err := s.client.HSet(ctx, jobKey(job.ID), "locked_until", lockedUntil).Err(); err != nil {
		return fmt.Errorf("renew job lock: %w", err)
	}
	job.LockedUntil = lockedUntil
	return nil
}

// DeleteJob removes the job hash and its queue entry.
func (s *RedisJobStore) DeleteJob(ctx context.Context, job *models.Job) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, jobKey(job.ID))
	pipe.ZRem(ctx, queueKey(job.Queue), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

func jobFromFields(id, queue string, fields []interface{}) (*models.Job, error) {
	m := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		k, _ := fields[i].(string)
		v, _ := fields[i+1].(string)
		m[k] = v
	}

	lockedUntil, err := strconv.ParseInt(m["locked_until"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse locked_until for job %s: %w", id, err)
	}
	createdAt, err := strconv.ParseInt(m["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for job %s: %w", id, err)
	}
	lockWindow, err := strconv.ParseInt(m["lock_window"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse lock_window for job %s: %w", id, err)
	}

	return &models.Job{
		ID:          id,
		Queue:       queue,
		Name:        m["name"],
		Namespace:   m["namespace"],
		Params:      json.RawMessage(m["params"]),
		LockedUntil: lockedUntil,
		CreatedAt:   createdAt,
		Options:     models.JobOptions{LockWindow: time.Duration(lockWindow) * time.Millisecond},
	}, nil
}

// pickScript walks the queue oldest-first, in windows of ARGV[3] ids, and
// locks the first job whose lock has lapsed. Windowing keeps the per-call
// ZRANGE bounded while a long run of locked heads cannot hide an unlocked
// job further back. The whole pick is one script execution, which is what
// guarantees mutual exclusion across worker processes.
var pickScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[3])
local start = 0
while true do
  local ids = redis.call('ZRANGE', KEYS[1], start, start + window - 1)
  if #ids == 0 then
    return nil
  end
  for _, id in ipairs(ids) do
    local key = ARGV[2] .. id
    local locked = tonumber(redis.call('HGET', key, 'locked_until') or '0')
    if locked <= now then
      local w = tonumber(redis.call('HGET', key, 'lock_window') or '0')
      redis.call('HSET', key, 'locked_until', now + w)
      return {id, redis.call('HGETALL', key)}
    end
  end
  start = start + window
end
`)
