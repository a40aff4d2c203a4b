// Package device manages the accelerator pool: a one-shot discovery snapshot
// plus bounded concurrency slots per device. Slots are counting semaphores
// shared between the orchestrator and the calibrator; no device is
// exclusively owned by any component.
package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"shardprover/internal/logging"
	"shardprover/internal/types"
)

// Pool tracks enumerated devices and their free slots.
type Pool struct {
	devices        []Info
	slotsPerDevice int
	acquireTimeout time.Duration // zero means wait for the caller's context

	// free carries one token per slot; the token value is the device ID.
	// Channel capacity bounds concurrency exactly: a device's slot count
	// can never exceed slotsPerDevice because only that many tokens
	// carrying its ID exist.
	free chan int

	mu    sync.Mutex
	inUse map[int]int

	logger *zap.Logger
}

// Slot is one unit of concurrent capacity on one device. Release is
// idempotent and must run on every exit path; Scoped callers defer it.
type Slot struct {
	pool     *Pool
	deviceID int
	released atomic.Bool
}

// DeviceID identifies the device this slot belongs to.
func (s *Slot) DeviceID() int { return s.deviceID }

// Release returns the slot to the pool. Safe to call more than once.
func (s *Slot) Release() {
	if s == nil || !s.released.CompareAndSwap(false, true) {
		return
	}
	s.pool.release(s.deviceID)
}

// NewPool enumerates devices through the discoverer and sizes the slot
// semaphores. An empty enumeration is not an error here: live proving treats
// it as fatal, calibration dry-runs treat it as a skip condition, so the
// decision belongs to the caller.
func NewPool(d Discoverer, slotsPerDevice int, acquireTimeout time.Duration) (*Pool, error) {
	if slotsPerDevice < 1 {
		return nil, fmt.Errorf("slots per device must be >= 1, got %d", slotsPerDevice)
	}
	devices, err := d.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("device enumeration failed: %w", err)
	}

	p := &Pool{
		devices:        devices,
		slotsPerDevice: slotsPerDevice,
		acquireTimeout: acquireTimeout,
		free:           make(chan int, len(devices)*slotsPerDevice),
		inUse:          make(map[int]int, len(devices)),
		logger:         logging.Get(logging.CategoryPool),
	}
	// Interleave tokens across devices so any-device acquisition spreads
	// load instead of filling device 0 first.
	for slot := 0; slot < slotsPerDevice; slot++ {
		for _, dev := range devices {
			p.free <- dev.ID
		}
	}
	p.logger.Info("device pool initialized",
		zap.Int("devices", len(devices)),
		zap.Int("slots_per_device", slotsPerDevice))
	return p, nil
}

// Devices returns the discovery snapshot.
func (p *Pool) Devices() []Info {
	out := make([]Info, len(p.devices))
	copy(out, p.devices)
	return out
}

// DeviceCount returns the number of enumerated devices.
func (p *Pool) DeviceCount() int { return len(p.devices) }

// SlotsPerDevice returns the per-device concurrency bound.
func (p *Pool) SlotsPerDevice() int { return p.slotsPerDevice }

// TotalSlots returns the pool-wide concurrency ceiling.
func (p *Pool) TotalSlots() int { return len(p.devices) * p.slotsPerDevice }

// InUse reports the outstanding slot count for one device.
func (p *Pool) InUse(deviceID int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse[deviceID]
}

// OutstandingSlots reports the pool-wide outstanding slot count.
func (p *Pool) OutstandingSlots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, n := range p.inUse {
		total += n
	}
	return total
}

// Acquire blocks until a free slot exists on any device. The bounded wait
// from the pool configuration applies; exhausting it yields
// ErrDeviceUnavailable.
func (p *Pool) Acquire(ctx context.Context) (*Slot, error) {
	if len(p.devices) == 0 {
		return nil, fmt.Errorf("no devices enumerated: %w", types.ErrDeviceUnavailable)
	}
	ctx, cancel := p.boundWait(ctx)
	defer cancel()

	select {
	case id := <-p.free:
		return p.checkout(id), nil
	case <-ctx.Done():
		return nil, p.waitError(ctx)
	}
}

// AcquireAvoid acquires a slot preferring any device other than avoid. The
// orchestrator uses it to retry a failed shard on a different device when
// one is available; if only the avoided device has capacity, its slot is
// used rather than failing the retry.
func (p *Pool) AcquireAvoid(ctx context.Context, avoid int) (*Slot, error) {
	slot, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if slot.DeviceID() != avoid || len(p.devices) == 1 {
		return slot, nil
	}
	// Landed on the avoided device: swap for another free token if one
	// exists right now, otherwise keep what we have.
	select {
	case id := <-p.free:
		slot.Release()
		return p.checkout(id), nil
	default:
		return slot, nil
	}
}

// AcquireDevice blocks until a free slot exists on the given device.
func (p *Pool) AcquireDevice(ctx context.Context, deviceID int) (*Slot, error) {
	if !p.knownDevice(deviceID) {
		return nil, fmt.Errorf("unknown device %d: %w", deviceID, types.ErrDeviceUnavailable)
	}
	ctx, cancel := p.boundWait(ctx)
	defer cancel()

	for {
		select {
		case id := <-p.free:
			if id == deviceID {
				return p.checkout(id), nil
			}
			// Token for another device; put it back and yield briefly
			// so we don't starve any-device waiters.
			p.free <- id
			select {
			case <-time.After(time.Millisecond):
			case <-ctx.Done():
				return nil, p.waitError(ctx)
			}
		case <-ctx.Done():
			return nil, p.waitError(ctx)
		}
	}
}

func (p *Pool) knownDevice(id int) bool {
	for _, dev := range p.devices {
		if dev.ID == id {
			return true
		}
	}
	return false
}

func (p *Pool) boundWait(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.acquireTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.acquireTimeout)
}

func (p *Pool) waitError(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("no free slot within %v: %w", p.acquireTimeout, types.ErrDeviceUnavailable)
	}
	return ctx.Err()
}

func (p *Pool) checkout(deviceID int) *Slot {
	p.mu.Lock()
	p.inUse[deviceID]++
	p.mu.Unlock()
	return &Slot{pool: p, deviceID: deviceID}
}

func (p *Pool) release(deviceID int) {
	p.mu.Lock()
	p.inUse[deviceID]--
	p.mu.Unlock()
	p.free <- deviceID
}
