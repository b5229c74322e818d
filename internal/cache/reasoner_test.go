package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
)

func TestCachedReasoner_CachesSuccess(t *testing.T) {
	var calls atomic.Int32
	next := hive.ReasonerFunc(func(_ context.Context, prompt string, _ int) (string, error) {
		calls.Add(1)
		return "answer:" + prompt, nil
	})
	store := NewInMemoryCache(time.Minute)
	defer store.Close()
	r := NewCachedReasoner(next, store, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		out, err := r.Reason(ctx, "p", 10)
		if err != nil || out != "answer:p" {
			t.Fatalf("unexpected result %q %v", out, err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("expected one upstream call, got %d", calls.Load())
	}

	if _, err := r.Reason(ctx, "p", 20); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("max tokens should be part of the key, got %d calls", calls.Load())
	}
}

func TestCachedReasoner_DoesNotCacheFailures(t *testing.T) {
	var calls atomic.Int32
	next := hive.ReasonerFunc(func(context.Context, string, int) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("unavailable")
		}
		return "", nil
	})
	store := NewInMemoryCache(time.Minute)
	defer store.Close()
	r := NewCachedReasoner(next, store, nil)

	if _, err := r.Reason(context.Background(), "p", 1); err == nil {
		t.Fatal("expected upstream error")
	}
	if _, err := r.Reason(context.Background(), "p", 1); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Reason(context.Background(), "p", 1); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 {
		t.Errorf("errors and empty answers must not be cached, got %d calls", calls.Load())
	}
	if store.Len() != 0 {
		t.Errorf("expected empty cache, got %d", store.Len())
	}
}

func TestCachedReasoner_CollapsesConcurrentCalls(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	next := hive.ReasonerFunc(func(context.Context, string, int) (string, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	})
	store := NewInMemoryCache(time.Minute)
	defer store.Close()
	r := NewCachedReasoner(next, store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if out, err := r.Reason(context.Background(), "same", 1); err != nil || out != "shared" {
				t.Errorf("unexpected result %q %v", out, err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() > 2 {
		t.Errorf("expected concurrent calls to collapse, got %d upstream calls", calls.Load())
	}
}

func TestCachedReasoner_CallerCancelDoesNotFailPeers(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	next := hive.ReasonerFunc(func(ctx context.Context, _ string, _ int) (string, error) {
		calls.Add(1)
		<-release
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "shared", nil
	})
	store := NewInMemoryCache(time.Minute)
	defer store.Close()
	r := NewCachedReasoner(next, store, nil, WithCallTimeout(5*time.Second))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Reason(firstCtx, "same", 1)
		firstErr <- err
	}()
	for calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	type result struct {
		out string
		err error
	}
	second := make(chan result, 1)
	go func() {
		out, err := r.Reason(context.Background(), "same", 1)
		second <- result{out, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected the cancelled caller to return context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)
	res := <-second
	if res.err != nil || res.out != "shared" {
		t.Errorf("peer should still get the answer, got %q %v", res.out, res.err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected one upstream call, got %d", calls.Load())
	}
}

func TestKey(t *testing.T) {
	if Key("a", 1) == Key("a", 2) || Key("a", 1) == Key("b", 1) {
		t.Error("keys must differ by prompt and max tokens")
	}
	if Key("a", 1) != Key("a", 1) {
		t.Error("keys must be stable")
	}
}
