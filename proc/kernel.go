package proc

import (
	"github.com/joeycumines/go-corekernel/buddy"
	"github.com/joeycumines/go-corekernel/ksync"
	"github.com/joeycumines/go-corekernel/kstack"
)

// DefaultMaxHarts is the hart count a Kernel is configured for if New is
// given no WithMaxHarts option. It sizes the free-process pool (capacity
// 2×MaxHarts — at most one watcher per hart per claimed record, times two
// for slack during a drain).
const DefaultMaxHarts = 8

// DefaultPoolDrainRounds is how many scheduler iterations elapse between
// unconditional free-pool sweeps, matching the original scheduler's own
// round counter hitting 1000 iterations.
const DefaultPoolDrainRounds = 1000

// Config holds the Kernel's boot-time tunables: a plain options struct for
// simple construction, alongside the functional-options set via Option
// below (mirroring eventloop.Options's own pairing of the two).
type Config struct {
	MaxHarts        int
	PoolDrainRounds int
}

// DefaultConfig returns the Config New uses when given no options.
func DefaultConfig() Config {
	return Config{MaxHarts: DefaultMaxHarts, PoolDrainRounds: DefaultPoolDrainRounds}
}

// Option configures a Kernel at construction time.
type Option func(*Config)

// WithMaxHarts overrides the hart count used to size the free-process
// pool.
func WithMaxHarts(n int) Option {
	return func(c *Config) { c.MaxHarts = n }
}

// WithPoolDrainRounds overrides the scheduler's unconditional free-pool
// sweep period.
func WithPoolDrainRounds(n int) Option {
	return func(c *Config) { c.PoolDrainRounds = n }
}

// Kernel wires together every shared singleton the process subsystem
// needs (the buddy allocator, the registry, the free-process pool, the
// pid counter, the wait lock, and the kernel-stack VA pool) into one
// constructed value, rather than the original's module-level globals.
type Kernel struct {
	Buddy  *buddy.Allocator
	KStack *kstack.Provider

	registry Registry
	pool     freePool

	waitLock ksync.SpinLock

	pidLock ksync.SpinLock
	nextPid int

	initProc *Proc

	cfg             Config
	newAddressSpace AddressSpaceFactory
}

// New builds a Kernel over the given buddy allocator, using asFactory to
// mint each process's user address space (vmfake.NewFactory in tests and
// the boot harness; the real page-table walker in a hosted build).
func New(b *buddy.Allocator, asFactory AddressSpaceFactory, opts ...Option) *Kernel {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	k := &Kernel{
		Buddy:           b,
		KStack:          kstack.New(),
		nextPid:         1,
		cfg:             cfg,
		newAddressSpace: asFactory,
	}
	k.pool.init(cfg.MaxHarts*2, k.reclaimRecord)
	return k
}

// RegistrySize reports the process table's current length (monotonically
// non-decreasing).
func (k *Kernel) RegistrySize() int {
	return k.registry.Size()
}

// DrainPool forces an immediate sweep of the free-process pool, reclaiming
// any entry whose watching count has reached zero. The scheduler calls
// this periodically on its own (every PoolDrainRounds iterations); this
// method exists so tests and diagnostics can force a deterministic sweep
// without waiting for one.
func (k *Kernel) DrainPool() {
	k.pool.drain(true)
}

func (k *Kernel) allocPID() int {
	k.pidLock.Lock()
	defer k.pidLock.Unlock()
	pid := k.nextPid
	k.nextPid++
	return pid
}

func (k *Kernel) reclaimRecord(p *Proc) {
	k.Buddy.Free(p.recordAddr)
}
