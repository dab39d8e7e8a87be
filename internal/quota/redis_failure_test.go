package quota

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aeluslabs/tenantgate/internal/domain"
)

func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
}

// Quota consumption is the opposite of rate limiting: when the backend is
// unreachable the ledger denies, because overspending a paid resource is
// worse than refusing a request.
func TestRedisLedger_FailsClosedWhenBackendDown(t *testing.T) {
	client := unreachableClient()
	defer client.Close()
	ledger := NewRedisLedgerWithClient(client)

	allowed, value := ledger.CheckAndIncrement(context.Background(), "tenant-a", domain.ResourceVectorCount, 10, 1000)
	if allowed {
		t.Fatal("ledger must deny operations when the backend is unreachable")
	}
	if value != 0 {
		t.Errorf("value = %d, want 0", value)
	}
}

func TestRedisLedger_GetUsageErrorsWhenBackendDown(t *testing.T) {
	client := unreachableClient()
	defer client.Close()
	ledger := NewRedisLedgerWithClient(client)

	if _, err := ledger.GetUsage(context.Background(), "tenant-a"); err == nil {
		t.Fatal("GetUsage must surface backend errors, not fabricate usage")
	}
}

func TestRedisLedger_GetQPSLimitFallsBackToDefault(t *testing.T) {
	client := unreachableClient()
	defer client.Close()
	ledger := NewRedisLedgerWithClient(client)

	if got := ledger.GetQPSLimit(context.Background(), "tenant-a", 50); got != 50 {
		t.Errorf("GetQPSLimit = %d, want default 50", got)
	}
}
