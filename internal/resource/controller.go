package resource

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation would exceed the
// memory limit.
var ErrMemoryLimitExceeded = errors.New("resource: memory limit exceeded")

// Config holds resource limits. Zero values mean unlimited, except
// MaxTransfers which defaults to 1.
type Config struct {
	// MemoryLimitBytes caps memory reserved through the controller.
	MemoryLimitBytes int64
	// MaxTransfers caps concurrent archive chunk transfers.
	MaxTransfers int64
	// IOBytesPerSec caps archive throughput.
	IOBytesPerSec int64
}

// Controller hands out memory, transfer slots and IO tokens.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted
	memUsed atomic.Int64

	transfers *semaphore.Weighted
	io        *rate.Limiter
}

// NewController creates a controller for cfg.
func NewController(cfg Config) *Controller {
	if cfg.MaxTransfers <= 0 {
		cfg.MaxTransfers = 1
	}
	c := &Controller{
		cfg:       cfg,
		transfers: semaphore.NewWeighted(cfg.MaxTransfers),
	}
	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.IOBytesPerSec > 0 {
		c.io = rate.NewLimiter(rate.Limit(cfg.IOBytesPerSec), int(cfg.IOBytesPerSec))
	}
	return c
}

// MaxTransfers returns the transfer concurrency.
func (c *Controller) MaxTransfers() int {
	if c == nil {
		return 1
	}
	return int(c.cfg.MaxTransfers)
}

// TryAcquireMemory reserves bytes without blocking.
func (c *Controller) TryAcquireMemory(bytes int64) bool {
	return c.AcquireMemory(bytes) == nil
}

// AcquireMemory reserves bytes or returns ErrMemoryLimitExceeded.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return errors.Wrapf(ErrMemoryLimitExceeded, "%d bytes requested, %d of %d in use", bytes, c.memUsed.Load(), c.cfg.MemoryLimitBytes)
	}
	c.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory returns a reservation.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the reserved bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// AcquireTransfer blocks until a transfer slot is free.
func (c *Controller) AcquireTransfer(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.transfers.Acquire(ctx, 1)
}

// ReleaseTransfer frees a transfer slot.
func (c *Controller) ReleaseTransfer() {
	if c == nil {
		return
	}
	c.transfers.Release(1)
}

// AcquireIO waits until bytes may be transferred. Requests larger than the
// burst are split.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.io == nil {
		return nil
	}
	burst := c.io.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.io.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}
