package decode

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrBudgetClosed = errors.New("buffer budget closed")

// Allocator hands out frame pixel buffers. Budget and Account implement it.
type Allocator interface {
	Acquire(ctx context.Context, size int) ([]byte, error)
	Release(buf []byte)
}

// DefaultReserve is the number of buffers a single-plane engine may always
// hold: the published frame and the one being decoded.
const DefaultReserve = 2

// Pressure is the budget's load level.
type Pressure int

const (
	PressureNormal Pressure = iota
	PressureWarning
	PressureCritical
)

const (
	warningThreshold  = 0.75
	criticalThreshold = 0.90
)

func (p Pressure) String() string {
	switch p {
	case PressureWarning:
		return "warning"
	case PressureCritical:
		return "critical"
	}
	return "normal"
}

// BudgetStats is a snapshot of budget usage.
type BudgetStats struct {
	Buffers     int     `json:"buffers"`
	MaxBuffers  int     `json:"max_buffers"`
	Bytes       int64   `json:"bytes"`
	MaxBytes    int64   `json:"max_bytes"`
	Pooled      int     `json:"pooled"`
	Utilization float64 `json:"utilization"`
	Pressure    string  `json:"pressure"`
}

// Budget bounds the pixel buffers held by frames across all sessions and
// recycles released buffers.
type Budget struct {
	mu         sync.Mutex
	maxBuffers int
	maxBytes   int64
	inUse      int
	bytes      int64
	pool       [][]byte
	changed    chan struct{}
	closed     bool
}

// NewBudget creates a budget of maxBuffers buffers and maxMemoryMB
// megabytes. Non-positive limits use the defaults.
func NewBudget(maxBuffers, maxMemoryMB int) *Budget {
	if maxBuffers <= 0 {
		maxBuffers = 8
	}
	if maxMemoryMB <= 0 {
		maxMemoryMB = 100
	}
	return &Budget{
		maxBuffers: maxBuffers,
		maxBytes:   int64(maxMemoryMB) << 20,
		changed:    make(chan struct{}),
	}
}

func (b *Budget) utilizationLocked(buffers int, bytes int64) float64 {
	u := float64(buffers) / float64(b.maxBuffers)
	if m := float64(bytes) / float64(b.maxBytes); m > u {
		u = m
	}
	return u
}

func pressureFor(u float64) Pressure {
	switch {
	case u > criticalThreshold:
		return PressureCritical
	case u > warningThreshold:
		return PressureWarning
	}
	return PressureNormal
}

// Pressure reports the current load level.
func (b *Budget) Pressure() Pressure {
	b.mu.Lock()
	defer b.mu.Unlock()
	return pressureFor(b.utilizationLocked(b.inUse, b.bytes))
}

// Stats returns a usage snapshot.
func (b *Budget) Stats() BudgetStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.utilizationLocked(b.inUse, b.bytes)
	return BudgetStats{
		Buffers:     b.inUse,
		MaxBuffers:  b.maxBuffers,
		Bytes:       b.bytes,
		MaxBytes:    b.maxBytes,
		Pooled:      len(b.pool),
		Utilization: u,
		Pressure:    pressureFor(u).String(),
	}
}

// Acquire returns a buffer of exactly size bytes. Under critical pressure,
// or when the allocation would exceed a limit, it blocks until a buffer is
// released. A lone buffer larger than the memory limit is still granted.
func (b *Budget) Acquire(ctx context.Context, size int) ([]byte, error) {
	return b.acquire(ctx, size, nil)
}

// Release returns a buffer obtained from Acquire.
func (b *Budget) Release(buf []byte) {
	b.release(buf, nil)
}

// Account is one engine's share of a Budget. While an account holds fewer
// buffers than its reserve it is admitted at any pressure, so a source that
// pins the budget cannot freeze the others. Buffers beyond the reserve are
// subject to the shared limits.
type Account struct {
	b       *Budget
	reserve int
	held    int // guarded by b.mu
}

// NewAccount opens an account with the given reserve; values below one use
// DefaultReserve.
func (b *Budget) NewAccount(reserve int) *Account {
	if reserve < 1 {
		reserve = DefaultReserve
	}
	return &Account{b: b, reserve: reserve}
}

// Acquire is Budget.Acquire with the account's reserve applied.
func (a *Account) Acquire(ctx context.Context, size int) ([]byte, error) {
	return a.b.acquire(ctx, size, a)
}

// Release returns a buffer obtained from this account.
func (a *Account) Release(buf []byte) {
	a.b.release(buf, a)
}

// Held returns the number of buffers the account currently holds.
func (a *Account) Held() int {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()
	return a.held
}

func (b *Budget) acquire(ctx context.Context, size int, a *Account) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid buffer size %d", size)
	}
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrBudgetClosed
		}
		if b.inUse == 0 || (a != nil && a.held < a.reserve) || b.fitsLocked(size) {
			buf := b.takeLocked(size)
			b.inUse++
			b.bytes += int64(size)
			if a != nil {
				a.held++
			}
			b.mu.Unlock()
			return buf, nil
		}
		wait := b.changed
		b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (b *Budget) fitsLocked(size int) bool {
	if pressureFor(b.utilizationLocked(b.inUse, b.bytes)) == PressureCritical {
		return false
	}
	return b.inUse+1 <= b.maxBuffers && b.bytes+int64(size) <= b.maxBytes
}

func (b *Budget) takeLocked(size int) []byte {
	for i, buf := range b.pool {
		if cap(buf) >= size {
			last := len(b.pool) - 1
			b.pool[i] = b.pool[last]
			b.pool[last] = nil
			b.pool = b.pool[:last]
			return buf[:size]
		}
	}
	return make([]byte, size)
}

func (b *Budget) release(buf []byte, a *Account) {
	if buf == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if a != nil && a.held > 0 {
		a.held--
	}
	b.inUse--
	b.bytes -= int64(len(buf))
	if b.inUse < 0 {
		b.inUse, b.bytes = 0, 0
	}
	if !b.closed && len(b.pool) < b.maxBuffers {
		b.pool = append(b.pool, buf[:0])
	}
	b.notifyLocked()
}

func (b *Budget) notifyLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// Close fails pending and future acquisitions and drops the pool.
func (b *Budget) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.pool = nil
	b.notifyLocked()
}
