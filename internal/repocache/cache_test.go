package repocache

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func counter(calls *int, value string) func() (string, error) {
	return func() (string, error) {
		*calls++
		return fmt.Sprintf("%s-%d", value, *calls), nil
	}
}

func TestGetOrComputeHitWithinTTL(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := New(DefaultConfig(), WithClock(clock.Now))
	calls := 0
	first, err := GetOrCompute(c, KindStatus, "/repo", 0, counter(&calls, "status"))
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	clock.Advance(time.Second)
	second, err := GetOrCompute(c, KindStatus, "/repo", 0, counter(&calls, "status"))
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if calls != 1 {
		t.Fatalf("compute calls = %d, want 1", calls)
	}
	if first != second {
		t.Fatalf("cached value = %q, want %q", second, first)
	}
	if st := c.Stats(); st.Hits != 1 || st.Computes != 1 {
		t.Fatalf("Stats() = %+v, want 1 hit and 1 compute", st)
	}
}

func TestGetOrComputeExpires(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := New(DefaultConfig(), WithClock(clock.Now))
	calls := 0
	if _, err := GetOrCompute(c, KindStatus, "/repo", 0, counter(&calls, "status")); err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	clock.Advance(2 * time.Second)
	got, err := GetOrCompute(c, KindStatus, "/repo", 0, counter(&calls, "status"))
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if calls != 2 || got != "status-2" {
		t.Fatalf("after TTL got %q with %d calls, want status-2 with 2 calls", got, calls)
	}
}

func TestInvalidateForcesRecompute(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig())
	calls := 0
	if _, err := GetOrCompute(c, KindBranches, "/repo", 0, counter(&calls, "branches")); err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	c.Invalidate("/repo")
	got, err := GetOrCompute(c, KindBranches, "/repo", 0, counter(&calls, "branches"))
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if got != "branches-2" {
		t.Fatalf("after Invalidate got %q, want branches-2", got)
	}
}

func TestInvalidateSingleKind(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig())
	statusCalls, branchCalls := 0, 0
	_, _ = GetOrCompute(c, KindStatus, "/repo", 0, counter(&statusCalls, "s"))
	_, _ = GetOrCompute(c, KindBranches, "/repo", 0, counter(&branchCalls, "b"))
	c.Invalidate("/repo", KindStatus)
	_, _ = GetOrCompute(c, KindStatus, "/repo", 0, counter(&statusCalls, "s"))
	_, _ = GetOrCompute(c, KindBranches, "/repo", 0, counter(&branchCalls, "b"))
	if statusCalls != 2 || branchCalls != 1 {
		t.Fatalf("calls = (status %d, branches %d), want (2, 1)", statusCalls, branchCalls)
	}
}

func TestPathsAreIndependent(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig())
	calls := 0
	a, _ := GetOrCompute(c, KindStatus, "/a", 0, counter(&calls, "x"))
	b, _ := GetOrCompute(c, KindStatus, "/b", 0, counter(&calls, "x"))
	if a == b || calls != 2 {
		t.Fatalf("paths shared an entry: a=%q b=%q calls=%d", a, b, calls)
	}
	c.Invalidate("/a")
	if got, _ := GetOrCompute(c, KindStatus, "/b", 0, counter(&calls, "x")); got != b {
		t.Fatalf("invalidating /a dropped /b: got %q, want %q", got, b)
	}
}

func TestErrorsAreNotCached(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig())
	boom := errors.New("boom")
	calls := 0
	_, err := GetOrCompute(c, KindStatus, "/repo", 0, func() (int, error) {
		calls++
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("GetOrCompute error = %v, want boom", err)
	}
	got, err := GetOrCompute(c, KindStatus, "/repo", 0, func() (int, error) {
		calls++
		return 7, nil
	})
	if err != nil || got != 7 || calls != 2 {
		t.Fatalf("GetOrCompute = (%d, %v) after %d calls, want (7, nil) after 2", got, err, calls)
	}
}

func TestEvictionToLowWatermark(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := New(Config{MaxEntries: 4, LowWatermark: 2}, WithClock(clock.Now))
	for i := 0; i < 5; i++ {
		path := fmt.Sprintf("/repo%d", i)
		if _, err := GetOrCompute(c, KindStatus, path, time.Hour, func() (int, error) { return i, nil }); err != nil {
			t.Fatalf("GetOrCompute(%s): %v", path, err)
		}
		clock.Advance(time.Millisecond)
	}
	if n := c.Len(KindStatus); n != 2 {
		t.Fatalf("Len() = %d, want 2", n)
	}
	calls := 0
	for _, path := range []string{"/repo3", "/repo4"} {
		if _, err := GetOrCompute(c, KindStatus, path, time.Hour, func() (int, error) { calls++; return -1, nil }); err != nil {
			t.Fatalf("GetOrCompute(%s): %v", path, err)
		}
	}
	if calls != 0 {
		t.Fatalf("newest entries were evicted (%d recomputes)", calls)
	}
}

func TestConcurrentMissesShareComputation(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig())
	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	compute := func() (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return "done", nil
	}
	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = GetOrCompute(c, KindStatus, "/repo", 0, compute)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	for i, r := range results {
		if r != "done" {
			t.Fatalf("result %d = %q, want done", i, r)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if calls < 1 || calls > len(results) {
		t.Fatalf("compute calls = %d", calls)
	}
}

func TestInvalidateDuringComputeDiscardsResult(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig())
	calls := 0
	_, err := GetOrCompute(c, KindStatus, "/repo", 0, func() (string, error) {
		calls++
		c.Invalidate("/repo")
		return "stale", nil
	})
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	got, _ := GetOrCompute(c, KindStatus, "/repo", 0, func() (string, error) {
		calls++
		return "fresh", nil
	})
	if got != "fresh" || calls != 2 {
		t.Fatalf("got %q after %d calls, want fresh after 2", got, calls)
	}
}
