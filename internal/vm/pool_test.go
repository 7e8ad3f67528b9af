package vm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeCreator is a vmCreator that never spawns a real process: CreateVM
// hands back a uniquely-IDed Handle instantly, DestroyVM just counts.
type fakeCreator struct {
	mu        sync.Mutex
	created   int
	destroyed int
	nextFail  bool // when true, the next CreateVM call fails once
}

func (f *fakeCreator) CreateVM(ctx context.Context, limits ResourceLimits, snapshotPath, memFilePath string) (*Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextFail {
		f.nextFail = false
		return nil, fmt.Errorf("fake boot failure")
	}
	f.created++
	return &Handle{
		VMID:   fmt.Sprintf("vm-fake-%d", f.created),
		CID:    nextCID(),
		Status: StatusReady,
	}, nil
}

func (f *fakeCreator) DestroyVM(h *Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed++
	return nil
}

func newTestPool(t *testing.T, target, max int) (*Pool, *fakeCreator) {
	t.Helper()
	creator := &fakeCreator{}
	p := NewPool(creator, PoolConfig{TargetWarmSize: target, MaxPoolSize: max})
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return p, creator
}

func TestPool_InitializeFillsWarmSet(t *testing.T) {
	p, _ := newTestPool(t, 3, 5)
	stats := p.Stats()
	if stats.WarmCount != 3 {
		t.Errorf("WarmCount = %d, want 3", stats.WarmCount)
	}
	if stats.ActiveCount != 0 {
		t.Errorf("ActiveCount = %d, want 0", stats.ActiveCount)
	}
}

func TestPool_AcquireDecrementsWarmIncrementsActive(t *testing.T) {
	p, _ := newTestPool(t, 2, 4)

	h, err := p.Acquire("trace-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h.Status != StatusActive {
		t.Errorf("handle status = %v, want Active", h.Status)
	}

	stats := p.Stats()
	if stats.WarmCount != 1 || stats.ActiveCount != 1 {
		t.Errorf("stats = %+v, want warm=1 active=1", stats)
	}
}

// TestPool_AcquireNeverExceedsCapacity is property P1: warm+active never
// exceeds max_pool_size, observed across concurrent acquires.
func TestPool_AcquireNeverExceedsCapacity(t *testing.T) {
	p, _ := newTestPool(t, 4, 4)

	var wg sync.WaitGroup
	var successes int64
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Acquire(""); err == nil {
				atomic.AddInt64(&successes, 1)
			}
		}()
	}
	wg.Wait()

	if successes != 4 {
		t.Errorf("successful acquires = %d, want 4 (warm pool had exactly 4 VMs)", successes)
	}
	stats := p.Stats()
	if stats.WarmCount+stats.ActiveCount > stats.MaxPoolSize {
		t.Errorf("warm+active = %d exceeds max %d", stats.WarmCount+stats.ActiveCount, stats.MaxPoolSize)
	}
}

func TestPool_AcquireOnEmptyPoolReturnsNoVmAvailable(t *testing.T) {
	p, _ := newTestPool(t, 0, 2)

	_, err := p.Acquire("")
	if _, ok := err.(NoVmAvailable); !ok {
		t.Fatalf("err = %v (%T), want NoVmAvailable", err, err)
	}
}

func TestPool_AcquireDoesNotBlock(t *testing.T) {
	p, _ := newTestPool(t, 0, 1)

	done := make(chan struct{})
	go func() {
		p.Acquire("")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Acquire blocked instead of returning NoVmAvailable immediately")
	}
}

// TestPool_ReleaseIsOneShot is property P4: a released handle never
// reappears in the warm pool.
func TestPool_ReleaseIsOneShot(t *testing.T) {
	p, creator := newTestPool(t, 1, 1)

	h, err := p.Acquire("")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(h)

	// Give the async destroy goroutine a moment to run.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		creator.mu.Lock()
		destroyed := creator.destroyed
		creator.mu.Unlock()
		if destroyed == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	stats := p.Stats()
	if stats.ActiveCount != 0 {
		t.Errorf("ActiveCount = %d after release, want 0", stats.ActiveCount)
	}
	if stats.WarmCount != 0 {
		t.Errorf("WarmCount = %d after release, want 0 (handle must not return to the warm pool)", stats.WarmCount)
	}
}

func TestPool_ReleaseReturnsBeforeDestroyCompletes(t *testing.T) {
	pool := NewPool(&slowDestroyer{delay: 200 * time.Millisecond}, PoolConfig{TargetWarmSize: 1, MaxPoolSize: 1})
	if err := pool.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	h, err := pool.Acquire("")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	start := time.Now()
	pool.Release(h)
	elapsed := time.Since(start)

	if elapsed > 50*time.Millisecond {
		t.Errorf("Release took %v, want near-instant (destroy must run outside the lock)", elapsed)
	}
}

type slowDestroyer struct {
	delay time.Duration
	mu    sync.Mutex
	n     int
}

func (s *slowDestroyer) CreateVM(ctx context.Context, limits ResourceLimits, snapshotPath, memFilePath string) (*Handle, error) {
	s.mu.Lock()
	s.n++
	id := s.n
	s.mu.Unlock()
	return &Handle{VMID: fmt.Sprintf("vm-slow-%d", id), CID: nextCID(), Status: StatusReady}, nil
}

func (s *slowDestroyer) DestroyVM(h *Handle) error {
	time.Sleep(s.delay)
	return nil
}

func TestPool_ReplenishTopsUpWarmSet(t *testing.T) {
	p, _ := newTestPool(t, 2, 3)

	if _, err := p.Acquire(""); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if stats := p.Stats(); stats.WarmCount != 1 {
		t.Fatalf("WarmCount after acquire = %d, want 1", stats.WarmCount)
	}

	p.Replenish(context.Background())

	stats := p.Stats()
	if stats.WarmCount != 2 {
		t.Errorf("WarmCount after replenish = %d, want 2", stats.WarmCount)
	}
}

func TestPool_ReplenishAbortsBurstOnFailure(t *testing.T) {
	creator := &fakeCreator{}
	p := NewPool(creator, PoolConfig{TargetWarmSize: 3, MaxPoolSize: 5})

	creator.nextFail = true
	p.Replenish(context.Background())

	stats := p.Stats()
	if stats.WarmCount != 0 {
		t.Errorf("WarmCount = %d, want 0 (burst must abort on first failure)", stats.WarmCount)
	}

	// Next tick succeeds fully since nextFail only triggers once.
	p.Replenish(context.Background())
	stats = p.Stats()
	if stats.WarmCount != 3 {
		t.Errorf("WarmCount after retry = %d, want 3", stats.WarmCount)
	}
}

func TestPool_ShutdownDrainsWarmSet(t *testing.T) {
	p, creator := newTestPool(t, 3, 3)

	if err := p.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	stats := p.Stats()
	if stats.WarmCount != 0 {
		t.Errorf("WarmCount after shutdown = %d, want 0", stats.WarmCount)
	}
	creator.mu.Lock()
	defer creator.mu.Unlock()
	if creator.destroyed != 3 {
		t.Errorf("destroyed = %d, want 3", creator.destroyed)
	}
}
