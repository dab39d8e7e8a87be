package quota

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aeluslabs/tenantgate/internal/domain"
)

func TestInMemoryLedger_GetUsage_Zero(t *testing.T) {
	l := NewInMemoryLedger()
	ctx := context.Background()

	usage, err := l.GetUsage(ctx, "tenant1")
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if usage.APICalls != 0 || usage.VectorCount != 0 || usage.StorageBytes != 0 {
		t.Errorf("expected zero usage, got %+v", usage)
	}
}

func TestInMemoryLedger_Increment(t *testing.T) {
	l := NewInMemoryLedger()
	ctx := context.Background()

	v, err := l.Increment(ctx, "tenant1", domain.ResourceAPICalls, 1)
	if err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if v != 1 {
		t.Errorf("Increment = %d, want 1", v)
	}

	v, _ = l.Increment(ctx, "tenant1", domain.ResourceAPICalls, 5)
	if v != 6 {
		t.Errorf("Increment = %d, want 6", v)
	}

	usage, _ := l.GetUsage(ctx, "tenant1")
	if usage.APICalls != 6 {
		t.Errorf("APICalls = %d, want 6", usage.APICalls)
	}
}

func TestInMemoryLedger_CheckAndIncrement(t *testing.T) {
	l := NewInMemoryLedger()
	ctx := context.Background()

	allowed, v := l.CheckAndIncrement(ctx, "tenant1", domain.QuotaVectors, 3, 5)
	if !allowed || v != 3 {
		t.Errorf("first check = (%v, %d), want (true, 3)", allowed, v)
	}

	allowed, v = l.CheckAndIncrement(ctx, "tenant1", domain.QuotaVectors, 3, 5)
	if allowed {
		t.Errorf("second check allowed; counter would exceed limit (value %d)", v)
	}
	if v != 3 {
		t.Errorf("denied check returned %d, want current value 3", v)
	}

	allowed, v = l.CheckAndIncrement(ctx, "tenant1", domain.QuotaVectors, 2, 5)
	if !allowed || v != 5 {
		t.Errorf("exact-fit check = (%v, %d), want (true, 5)", allowed, v)
	}
}

// With N concurrent callers and limit L < N, at most L single-unit
// increments may succeed.
func TestInMemoryLedger_CheckAndIncrement_NoOvershoot(t *testing.T) {
	l := NewInMemoryLedger()
	ctx := context.Background()

	const n = 100
	const limit = 25

	var succeeded atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if allowed, _ := l.CheckAndIncrement(ctx, "tenant1", domain.QuotaVectors, 1, limit); allowed {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := succeeded.Load(); got != limit {
		t.Errorf("%d increments succeeded, want exactly %d", got, limit)
	}
}

func TestInMemoryLedger_TenantIsolation(t *testing.T) {
	l := NewInMemoryLedger()
	ctx := context.Background()

	l.Increment(ctx, "tenantA", domain.ResourceAPICalls, 10)

	usage, _ := l.GetUsage(ctx, "tenantB")
	if usage.APICalls != 0 {
		t.Errorf("tenantB sees tenantA's usage: %d", usage.APICalls)
	}

	allowed, _ := l.CheckAndIncrement(ctx, "tenantB", domain.QuotaVectors, 1, 1)
	if !allowed {
		t.Error("tenantB denied by tenantA's counters")
	}
}

func TestInMemoryLedger_Limits(t *testing.T) {
	l := NewInMemoryLedger()
	ctx := context.Background()

	limits, err := l.GetLimits(ctx, "tenant1")
	if err != nil {
		t.Fatalf("GetLimits failed: %v", err)
	}
	if len(limits) != 0 {
		t.Errorf("expected cache miss, got %v", limits)
	}

	if err := l.SetLimits(ctx, "tenant1", map[string]int64{domain.QuotaQPS: 10}, time.Minute); err != nil {
		t.Fatalf("SetLimits failed: %v", err)
	}

	if got := l.GetQPSLimit(ctx, "tenant1", DefaultQPS); got != 10 {
		t.Errorf("GetQPSLimit = %d, want 10", got)
	}
	if got := l.GetQPSLimit(ctx, "tenant2", DefaultQPS); got != DefaultQPS {
		t.Errorf("GetQPSLimit for unknown tenant = %d, want default %d", got, DefaultQPS)
	}
}

func TestInMemoryLedger_LimitsExpire(t *testing.T) {
	l := NewInMemoryLedger()
	ctx := context.Background()

	l.SetLimits(ctx, "tenant1", map[string]int64{domain.QuotaQPS: 10}, -time.Second)

	limits, _ := l.GetLimits(ctx, "tenant1")
	if len(limits) != 0 {
		t.Errorf("expired limits should read as a miss, got %v", limits)
	}
}

func TestInMemoryLedger_Reset(t *testing.T) {
	l := NewInMemoryLedger()
	ctx := context.Background()

	l.Increment(ctx, "tenant1", domain.ResourceVectorCount, 100)
	if err := l.Reset(ctx, "tenant1", domain.ResourceVectorCount); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	usage, _ := l.GetUsage(ctx, "tenant1")
	if usage.VectorCount != 0 {
		t.Errorf("VectorCount after reset = %d, want 0", usage.VectorCount)
	}
}

func TestValidateQuotaUpdates(t *testing.T) {
	maxLimits := map[string]int64{
		domain.QuotaVectors:   1000000,
		domain.QuotaQPS:       1000,
		domain.QuotaStorageGB: 100,
		domain.QuotaRepos:     50,
	}

	got, err := ValidateQuotaUpdates(map[string]int64{
		domain.QuotaQPS: 100,
		"bogus":         5,
	}, maxLimits)
	if err != nil {
		t.Fatalf("ValidateQuotaUpdates failed: %v", err)
	}
	if len(got) != 1 || got[domain.QuotaQPS] != 100 {
		t.Errorf("normalized = %v, want only qps=100", got)
	}

	if _, err := ValidateQuotaUpdates(map[string]int64{domain.QuotaQPS: -1}, maxLimits); !errors.Is(err, domain.ErrInvalidQuota) {
		t.Errorf("negative value: err = %v, want ErrInvalidQuota", err)
	}
	if _, err := ValidateQuotaUpdates(map[string]int64{domain.QuotaQPS: 5000}, maxLimits); !errors.Is(err, domain.ErrInvalidQuota) {
		t.Errorf("over-max value: err = %v, want ErrInvalidQuota", err)
	}
}
