package notify

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestRaiseAndPeekResponses(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()

	if err := store.RaiseResponse(ctx, "user-1", 10); err != nil {
		t.Fatalf("RaiseResponse failed: %v", err)
	}
	if err := store.RaiseResponse(ctx, "user-1", 10); err != nil {
		t.Fatalf("RaiseResponse failed: %v", err)
	}
	if err := store.RaiseResponse(ctx, "user-1", 11); err != nil {
		t.Fatalf("RaiseResponse failed: %v", err)
	}

	pending, err := store.PeekResponses(ctx, "user-1")
	if err != nil {
		t.Fatalf("PeekResponses failed: %v", err)
	}
	if len(pending) != 2 || !pending[10] || !pending[11] {
		t.Errorf("expected signals for records 10 and 11, got %v", pending)
	}

	// Peek must not consume the signals.
	pending, err = store.PeekResponses(ctx, "user-1")
	if err != nil {
		t.Fatalf("second PeekResponses failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("peek consumed signals: %v", pending)
	}
}

func TestDrainResponsesReturnsCountsOnce(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := store.RaiseResponse(ctx, "user-1", 10); err != nil {
			t.Fatalf("RaiseResponse failed: %v", err)
		}
	}
	if err := store.RaiseResponse(ctx, "user-1", 11); err != nil {
		t.Fatalf("RaiseResponse failed: %v", err)
	}

	drained, err := store.DrainResponses(ctx, "user-1")
	if err != nil {
		t.Fatalf("DrainResponses failed: %v", err)
	}
	if drained[10] != 3 || drained[11] != 1 {
		t.Errorf("expected counts 3 and 1, got %v", drained)
	}

	// A second drain without new answers yields nothing.
	drained, err = store.DrainResponses(ctx, "user-1")
	if err != nil {
		t.Fatalf("second DrainResponses failed: %v", err)
	}
	if len(drained) != 0 {
		t.Errorf("expected empty second drain, got %v", drained)
	}
}

func TestDrainResponsesScopedToRecipient(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.RaiseResponse(ctx, "user-1", 10); err != nil {
		t.Fatalf("RaiseResponse failed: %v", err)
	}
	if err := store.RaiseResponse(ctx, "user-2", 20); err != nil {
		t.Fatalf("RaiseResponse failed: %v", err)
	}

	drained, err := store.DrainResponses(ctx, "user-1")
	if err != nil {
		t.Fatalf("DrainResponses failed: %v", err)
	}
	if len(drained) != 1 || drained[10] != 1 {
		t.Errorf("expected only user-1 signals, got %v", drained)
	}

	remaining, err := store.PeekResponses(ctx, "user-2")
	if err != nil {
		t.Fatalf("PeekResponses failed: %v", err)
	}
	if !remaining[20] {
		t.Errorf("user-2 signal should survive user-1 drain, got %v", remaining)
	}
}

func TestDrainResponseSingleKey(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.RaiseResponse(ctx, "user-1", 10); err != nil {
		t.Fatalf("RaiseResponse failed: %v", err)
	}
	if err := store.RaiseResponse(ctx, "user-1", 10); err != nil {
		t.Fatalf("RaiseResponse failed: %v", err)
	}

	count, pending, err := store.DrainResponse(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("DrainResponse failed: %v", err)
	}
	if !pending || count != 2 {
		t.Errorf("expected pending count 2, got pending=%v count=%d", pending, count)
	}

	// Second caller observes absent.
	count, pending, err = store.DrainResponse(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("second DrainResponse failed: %v", err)
	}
	if pending || count != 0 {
		t.Errorf("expected drained key to be absent, got pending=%v count=%d", pending, count)
	}
}

func TestDrainResponseAbsentKey(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	count, pending, err := store.DrainResponse(context.Background(), "user-1", 99)
	if err != nil {
		t.Fatalf("DrainResponse failed: %v", err)
	}
	if pending || count != 0 {
		t.Errorf("expected absent signal, got pending=%v count=%d", pending, count)
	}
}

func TestSurveyRequestSignals(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.MarkRequested(ctx, "octocat", 10); err != nil {
		t.Fatalf("MarkRequested failed: %v", err)
	}
	if err := store.MarkRequested(ctx, "octocat", 11); err != nil {
		t.Fatalf("MarkRequested failed: %v", err)
	}

	requests, err := store.PeekRequests(ctx, "octocat")
	if err != nil {
		t.Fatalf("PeekRequests failed: %v", err)
	}
	if len(requests) != 2 {
		t.Errorf("expected 2 requests, got %v", requests)
	}

	if err := store.ClearRequest(ctx, "octocat", 10); err != nil {
		t.Fatalf("ClearRequest failed: %v", err)
	}
	requests, err = store.PeekRequests(ctx, "octocat")
	if err != nil {
		t.Fatalf("PeekRequests after clear failed: %v", err)
	}
	if len(requests) != 1 || requests[0] != 11 {
		t.Errorf("expected only record 11 requested, got %v", requests)
	}
}

func TestPeekResponsesEmptyRecipient(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	pending, err := store.PeekResponses(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("PeekResponses failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no signals, got %v", pending)
	}
}

func TestOperationsFailWhenCacheDown(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()

	s.Close()

	ctx := context.Background()
	if _, err := store.PeekResponses(ctx, "user-1"); err == nil {
		t.Error("expected error peeking a stopped cache")
	}
	if _, err := store.DrainResponses(ctx, "user-1"); err == nil {
		t.Error("expected error draining a stopped cache")
	}
	if _, _, err := store.DrainResponse(ctx, "user-1", 10); err == nil {
		t.Error("expected error draining a stopped cache")
	}
}
