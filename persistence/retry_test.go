package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wfunc/quizbattle/models"
)

// FlakyStore fails the first failures calls with failErr before delegating.
type FlakyStore struct {
	*MemoryStore
	failures int
	failErr  error
	calls    int
}

func (f *FlakyStore) GetSessionState(ctx context.Context, sessionID string) (*models.SessionState, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.failErr
	}
	return f.MemoryStore.GetSessionState(ctx, sessionID)
}

func (f *FlakyStore) ApplyHealthDelta(ctx context.Context, sessionID, playerID string, delta int) (int, error) {
	f.calls++
	if f.calls <= f.failures {
		return 0, f.failErr
	}
	return f.MemoryStore.ApplyHealthDelta(ctx, sessionID, playerID, delta)
}

var fastRetry = RetryConfig{MaxTries: 4, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestRetryingStore_RecoversFromUnavailable(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	id, _ := mem.CreateSession(ctx, "L", "host", 3)

	flaky := &FlakyStore{MemoryStore: mem, failures: 2, failErr: ErrStoreUnavailable}
	var retried []string
	store := NewRetryingStore(flaky, fastRetry, func(op string, err error, wait time.Duration) {
		retried = append(retried, op)
	})

	s, err := store.GetSessionState(ctx, id)
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if s.Session.HostID != "host" {
		t.Errorf("Unexpected state %+v", s.Session)
	}
	if flaky.calls != 3 {
		t.Errorf("Expected 3 calls, got %d", flaky.calls)
	}
	if len(retried) != 2 || retried[0] != "get_session_state" {
		t.Errorf("Expected two retry notifications, got %v", retried)
	}
}

func TestRetryingStore_GivesUpAfterBudget(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	id, _ := mem.CreateSession(ctx, "L", "host", 3)

	flaky := &FlakyStore{MemoryStore: mem, failures: 100, failErr: ErrStoreUnavailable}
	store := NewRetryingStore(flaky, fastRetry, nil)

	if _, err := store.GetSessionState(ctx, id); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Expected ErrStoreUnavailable after exhausting retries, got %v", err)
	}
	if flaky.calls != int(fastRetry.MaxTries) {
		t.Errorf("Expected %d attempts, got %d", fastRetry.MaxTries, flaky.calls)
	}
}

func TestRetryingStore_DoesNotRetryContractErrors(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	id, _ := mem.CreateSession(ctx, "L", "host", 3)

	flaky := &FlakyStore{MemoryStore: mem, failures: 100, failErr: ErrStaleWrite}
	store := NewRetryingStore(flaky, fastRetry, nil)

	if _, err := store.GetSessionState(ctx, id); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("Expected ErrStaleWrite, got %v", err)
	}
	if flaky.calls != 1 {
		t.Errorf("Expected a single attempt, got %d", flaky.calls)
	}
}

func TestRetryingStore_HealthDeltaIsAttemptedOnce(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	id, _ := mem.CreateSession(ctx, "L", "host", 3)

	flaky := &FlakyStore{MemoryStore: mem, failures: 1, failErr: ErrStoreUnavailable}
	store := NewRetryingStore(flaky, fastRetry, nil)

	if _, err := store.ApplyHealthDelta(ctx, id, "host", -5); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Expected the first failure to surface, got %v", err)
	}
	if flaky.calls != 1 {
		t.Errorf("Expected one attempt, got %d", flaky.calls)
	}
}

func TestRetryingStore_DefaultsZeroConfig(t *testing.T) {
	store := NewRetryingStore(NewMemoryStore(), RetryConfig{}, nil)
	if store.cfg != DefaultRetryConfig {
		t.Errorf("Expected defaults, got %+v", store.cfg)
	}
}
