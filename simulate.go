package main

import (
	"context"
	"sync"
	"time"

	"github.com/pgreenland/pluto-sdr-ip-gadget/iio"
)

// simulateTriggerInterval stands in for "the hardware DMA engine just
// finished a transfer" in -simulate mode. 20ms is an arbitrary but
// plausible cadence for a modest buffer size; it exists only to make the
// end-to-end pipeline runnable without a PlutoSDR attached, per
// SPEC_FULL.md §6.
const simulateTriggerInterval = 20 * time.Millisecond

// registerSimulatedDevices swaps the real libiio-backed device lookup
// (never implemented in this module — see DESIGN.md) for iio.Fake
// instances under the production device names, so -simulate runs the
// exact same supervisor/RX/TX code paths end to end.
func registerSimulatedDevices(rxName, txName string) {
	iio.Register(rxName, func(name string) (iio.Device, error) {
		return &autoTriggerDevice{Fake: iio.NewFake(name)}, nil
	})
	iio.Register(txName, func(name string) (iio.Device, error) {
		return iio.NewFake(name), nil
	})
}

// autoTriggerDevice wraps iio.Fake for RX: the real hardware signals
// buffer readiness on its own schedule, so the simulated RX device needs
// a background ticker doing the equivalent for Buffer.Ready() to ever
// fire in -simulate mode.
type autoTriggerDevice struct {
	*iio.Fake
}

func (d *autoTriggerDevice) Open(ctx context.Context, mask iio.ChannelMask, bufferSamples int) (iio.Buffer, error) {
	buf, err := d.Fake.Open(ctx, mask, bufferSamples)
	if err != nil {
		return nil, err
	}
	fb := buf.(*iio.FakeBuffer)
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(simulateTriggerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fb.Trigger()
			}
		}
	}()
	return &autoTriggerBuffer{FakeBuffer: fb, stop: stop}, nil
}

// autoTriggerBuffer stops its ticker goroutine on Destroy so -simulate
// mode leaks no goroutines across repeated START_RX/STOP_RX cycles.
type autoTriggerBuffer struct {
	*iio.FakeBuffer
	stop     chan struct{}
	stopOnce sync.Once
}

// Destroy is idempotent, matching the Buffer interface contract: the
// embedded FakeBuffer already tolerates repeated calls, so the stop
// channel must too rather than panicking on a second close.
func (b *autoTriggerBuffer) Destroy() error {
	b.stopOnce.Do(func() { close(b.stop) })
	return b.FakeBuffer.Destroy()
}
