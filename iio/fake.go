package iio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/bits"
	"sync"
)

// Fake is an in-memory stand-in for a real libiio-backed radio device.
// It exists for the same reason gocanopen ships a simulated CAN bus
// behind its Bus interface: exercise hardware-shaped code paths (enable
// channels, allocate a buffer, refill/push, tear down) with no hardware
// attached. Two bytes per enabled channel matches the AD9361's 16-bit
// I/Q samples, so Stride() == popcount(mask)*2, consistent with the
// spec's own worked example (two 16-bit channels -> stride 4).
type Fake struct {
	name string
}

// NewFake returns a Fake bound to the given device name. It is not
// registered automatically; callers pass it directly or call
// Register(name, func(string) (Device, error) { return NewFake(name), nil }).
func NewFake(name string) *Fake {
	return &Fake{name: name}
}

func (f *Fake) Open(ctx context.Context, mask ChannelMask, bufferSamples int) (Buffer, error) {
	if bufferSamples <= 0 {
		return nil, fmt.Errorf("iio: buffer size must be positive, got %d", bufferSamples)
	}
	stride := bits.OnesCount32(uint32(mask)) * 2
	if stride == 0 {
		return nil, fmt.Errorf("iio: %s: no channels enabled by mask %#x", f.name, mask)
	}
	return &FakeBuffer{
		stride: stride,
		buf:    make([]byte, stride*bufferSamples),
		ready:  make(chan struct{}, 1),
	}, nil
}

func (f *Fake) Close() error { return nil }

// FakeBuffer is the Buffer returned by Fake. Tests drive it directly:
// Trigger() signals readiness, OnRefill/OnPush override the default
// fill/verify behavior, and Pushed/Filled record history for assertions.
type FakeBuffer struct {
	stride int
	buf    []byte
	ready  chan struct{}

	mu      sync.Mutex
	closed  bool
	seq     uint64 // default RX fill pattern counter
	Pushed  [][]byte
	Filled  int

	// OnRefill, if set, replaces the default RX fill behavior. It must
	// write len(buf) bytes into buf and return the byte count, or an
	// error to simulate a short/failed refill.
	OnRefill func(buf []byte) (int, error)

	// OnPush, if set, replaces the default TX push behavior. It
	// receives a copy of the buffer contents at push time.
	OnPush func(buf []byte) (int, error)
}

func (b *FakeBuffer) Stride() int      { return b.stride }
func (b *FakeBuffer) Bytes() []byte    { return b.buf }
func (b *FakeBuffer) Ready() <-chan struct{} { return b.ready }

// Trigger signals one readiness event, as the real hardware's poll fd
// would once a DMA transfer completes. Non-blocking: a buffer that is
// already marked ready absorbs repeated triggers without blocking the
// caller.
func (b *FakeBuffer) Trigger() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *FakeBuffer) Refill(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.OnRefill != nil {
		n, err := b.OnRefill(b.buf)
		b.Filled++
		return n, err
	}
	// Default pattern: an incrementing uint64 per 8-byte slot (whatever
	// the stride), good enough for round-trip tests that just want recognizable,
	// ordered bytes.
	for off := 0; off+8 <= len(b.buf); off += 8 {
		binary.LittleEndian.PutUint64(b.buf[off:off+8], b.seq)
		b.seq++
	}
	b.Filled++
	return len(b.buf), nil
}

func (b *FakeBuffer) Push(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(b.buf))
	copy(cp, b.buf)
	b.Pushed = append(b.Pushed, cp)
	if b.OnPush != nil {
		return b.OnPush(cp)
	}
	return len(b.buf), nil
}

func (b *FakeBuffer) Destroy() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Closed reports whether Destroy has been called, for leak-detection
// assertions in tests.
func (b *FakeBuffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
