// Package iio abstracts the industrial-I/O DMA-buffer interface the
// gadget streams to and from. The real radio (a PlutoSDR exposing
// cf-ad9361-lpc / cf-ad9361-dds-core-lpc devices via libiio) lives
// outside this module; callers register a Device for a given name and
// the RX/TX pipelines only ever see the interfaces below.
package iio

import (
	"context"
	"fmt"
	"sync"
)

// ChannelMask selects up to 32 logical channels on a device. Bit i
// enables channel i.
type ChannelMask uint32

// Enabled reports whether channel i is selected by the mask.
func (m ChannelMask) Enabled(i int) bool {
	if i < 0 || i >= 32 {
		return false
	}
	return m&(1<<uint(i)) != 0
}

// Device is a named radio endpoint (an RX or TX IIO device) capable of
// allocating one non-cyclic sample Buffer at a time. Implementations
// own the channel-enable/disable sequence described in spec.md §4.3/4.4.
type Device interface {
	// Open disables all channels, enables those selected by mask, and
	// allocates a non-cyclic buffer of bufferSamples samples. The
	// returned Buffer's Stride reflects the enabled channel set.
	Open(ctx context.Context, mask ChannelMask, bufferSamples int) (Buffer, error)

	// Close releases the underlying radio context. Safe to call once
	// per Device, after any Buffer it produced has been Destroyed.
	Close() error
}

// Buffer is a fixed-size DMA-backed sample region.
type Buffer interface {
	// Stride is the byte count between successive samples of the same
	// channel, for the channel mask the buffer was opened with.
	Stride() int

	// Bytes exposes the buffer's backing memory directly; its length is
	// always (buffer samples) * Stride().
	Bytes() []byte

	// Ready fires once per refill/push cycle when the hardware signals
	// that this buffer is the next one due for Refill (RX) or that a
	// Push slot is free (TX is pull/push-driven by the reassembly state
	// machine rather than readiness, but the channel is still exposed
	// for uniformity with the event loop primitive).
	Ready() <-chan struct{}

	// Refill blocks until the hardware has written a full buffer's
	// worth of bytes (RX side), returning the byte count actually
	// written.
	Refill(ctx context.Context) (int, error)

	// Push blocks until the hardware has consumed a full buffer's
	// worth of bytes (TX side), returning the byte count actually
	// consumed.
	Push(ctx context.Context) (int, error)

	// Destroy releases the buffer. Idempotent.
	Destroy() error
}

// OpenFunc constructs a Device for a given device name.
type OpenFunc func(name string) (Device, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]OpenFunc{}
)

// Register associates a device name (e.g. "cf-ad9361-lpc") with a
// constructor. Intended to be called from init() in a build-tag-gated
// file that wires in the real libiio binding; the fake implementation
// in this package registers nothing automatically so tests stay
// explicit about which device they are exercising.
func Register(name string, fn OpenFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = fn
}

// Open resolves a registered device by name.
func Open(name string) (Device, error) {
	registryMu.RLock()
	fn, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("iio: no device registered for %q", name)
	}
	return fn(name)
}
