package quota

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aeluslabs/tenantgate/internal/domain"
	"github.com/aeluslabs/tenantgate/internal/tenantctx"
)

// casRetries bounds the optimistic retry loop in CheckAndIncrement.
const casRetries = 5

// RedisLedger implements Ledger against Redis for distributed deployments.
type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(redisURL string) (*RedisLedger, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisLedger{client: client}, nil
}

func NewRedisLedgerWithClient(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func (l *RedisLedger) GetUsage(ctx context.Context, tenantID string) (domain.Usage, error) {
	keys := []string{
		tenantctx.QuotaKey(tenantID, domain.ResourceAPICalls),
		tenantctx.QuotaKey(tenantID, domain.ResourceVectorCount),
		tenantctx.QuotaKey(tenantID, domain.ResourceStorageBytes),
	}

	vals, err := l.client.MGet(ctx, keys...).Result()
	if err != nil {
		return domain.Usage{}, err
	}

	toInt := func(v interface{}) int64 {
		s, ok := v.(string)
		if !ok {
			return 0
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0
		}
		return n
	}

	return domain.Usage{
		APICalls:     toInt(vals[0]),
		VectorCount:  toInt(vals[1]),
		StorageBytes: toInt(vals[2]),
	}, nil
}

func (l *RedisLedger) Increment(ctx context.Context, tenantID, resource string, amount int64) (int64, error) {
	key := tenantctx.QuotaKey(tenantID, resource)
	return l.client.IncrBy(ctx, key, amount).Result()
}

// CheckAndIncrement uses an optimistic WATCH/MULTI/EXEC transaction so that
// concurrent callers for the same tenant and resource cannot both pass a
// check that, combined, exceeds the limit. Exhausted retries are treated
// like a backend failure: the operation is denied.
func (l *RedisLedger) CheckAndIncrement(ctx context.Context, tenantID, resource string, amount, limit int64) (bool, int64) {
	key := tenantctx.QuotaKey(tenantID, resource)

	var allowed bool
	var value int64

	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		next := current + amount
		if next > limit {
			allowed = false
			value = current
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.IncrBy(ctx, key, amount)
			return nil
		})
		if err != nil {
			return err
		}

		allowed = true
		value = next
		return nil
	}

	for i := 0; i < casRetries; i++ {
		err := l.client.Watch(ctx, txn, key)
		if err == nil {
			return allowed, value
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		slog.Error("quota check failed, denying operation",
			"tenant_id", tenantID,
			"resource", resource,
			"error", err,
		)
		return false, 0
	}

	slog.Error("quota check contention exhausted retries, denying operation",
		"tenant_id", tenantID,
		"resource", resource,
	)
	return false, 0
}

func (l *RedisLedger) GetLimits(ctx context.Context, tenantID string) (map[string]int64, error) {
	key := tenantctx.QuotaKey(tenantID, "limits")

	raw, err := l.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return map[string]int64{}, nil
	}
	if err != nil {
		return nil, err
	}

	var data map[string]int64
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		// A corrupt cache entry is a miss, not a failure.
		return map[string]int64{}, nil
	}

	limits := make(map[string]int64)
	for _, k := range []string{domain.QuotaQPS, domain.QuotaVectors, domain.QuotaStorageGB, domain.QuotaRepos} {
		if v, ok := data[k]; ok {
			limits[k] = v
		}
	}
	return limits, nil
}

func (l *RedisLedger) SetLimits(ctx context.Context, tenantID string, limits map[string]int64, ttl time.Duration) error {
	key := tenantctx.QuotaKey(tenantID, "limits")

	raw, err := json.Marshal(limits)
	if err != nil {
		return err
	}
	return l.client.Set(ctx, key, raw, ttl).Err()
}

func (l *RedisLedger) GetQPSLimit(ctx context.Context, tenantID string, def int64) int64 {
	limits, err := l.GetLimits(ctx, tenantID)
	if err != nil {
		return def
	}
	if qps, ok := limits[domain.QuotaQPS]; ok {
		return qps
	}
	return def
}

func (l *RedisLedger) Reset(ctx context.Context, tenantID, resource string) error {
	return l.client.Del(ctx, tenantctx.QuotaKey(tenantID, resource)).Err()
}

func (l *RedisLedger) Close() error {
	return l.client.Close()
}
