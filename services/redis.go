package services

import (
	"context"
	"fmt"
	"time"

	"audio-converter/models"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes a lease only if it is still held by the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RecordStatus is the status snapshot mirrored to Redis.
type RecordStatus struct {
	Status models.Status
	Stage  models.Stage
	Error  string
}

// RedisService mirrors per-record progress and hands out processing leases.
type RedisService struct {
	client    *redis.Client
	prefix    string
	statusTTL time.Duration
	lockTTL   time.Duration
}

func NewRedisService(client *redis.Client, prefix string, statusTTL, lockTTL time.Duration) *RedisService {
	return &RedisService{
		client:    client,
		prefix:    prefix,
		statusTTL: statusTTL,
		lockTTL:   lockTTL,
	}
}

func (r *RedisService) statusKey(id int64) string {
	return fmt.Sprintf("%sconversion:status:%d", r.prefix, id)
}

func (r *RedisService) lockKey(id int64) string {
	return fmt.Sprintf("%sconversion:lock:%d", r.prefix, id)
}

func (r *RedisService) SetStatus(ctx context.Context, id int64, st RecordStatus) error {
	key := r.statusKey(id)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"status":     string(st.Status),
		"stage":      string(st.Stage),
		"error":      st.Error,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
	if r.statusTTL > 0 {
		pipe.Expire(ctx, key, r.statusTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set status for record %d: %w", id, err)
	}
	return nil
}

// Claim takes the processing lease for a record. It returns false when
// another run already holds it.
func (r *RedisService) Claim(ctx context.Context, id int64, owner string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.lockKey(id), owner, r.lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("claim record %d: %w", id, err)
	}
	return ok, nil
}

func (r *RedisService) Release(ctx context.Context, id int64, owner string) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.lockKey(id)}, owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release record %d: %w", id, err)
	}
	return nil
}
