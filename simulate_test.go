package main

import (
	"context"
	"testing"
	"time"

	"github.com/pgreenland/pluto-sdr-ip-gadget/iio"
)

func TestRegisterSimulatedDevices_RXAutoTriggers(t *testing.T) {
	rxName, txName := "sim-rx", "sim-tx"
	registerSimulatedDevices(rxName, txName)

	rxDev, err := iio.Open(rxName)
	if err != nil {
		t.Fatalf("Open(%q): %v", rxName, err)
	}
	buf, err := rxDev.Open(context.Background(), iio.ChannelMask(1), 4)
	if err != nil {
		t.Fatalf("rxDev.Open: %v", err)
	}

	select {
	case <-buf.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("simulated rx buffer never signaled readiness on its own")
	}

	if err := buf.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
}

func TestRegisterSimulatedDevices_TXHasNoAutoTrigger(t *testing.T) {
	rxName, txName := "sim-rx-2", "sim-tx-2"
	registerSimulatedDevices(rxName, txName)

	txDev, err := iio.Open(txName)
	if err != nil {
		t.Fatalf("Open(%q): %v", txName, err)
	}
	buf, err := txDev.Open(context.Background(), iio.ChannelMask(1), 4)
	if err != nil {
		t.Fatalf("txDev.Open: %v", err)
	}
	defer buf.Destroy()

	select {
	case <-buf.Ready():
		t.Fatal("tx side should never auto-trigger; it is driven by incoming datagrams")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAutoTriggerBuffer_DestroyStopsTicker(t *testing.T) {
	rxName := "sim-rx-3"
	registerSimulatedDevices(rxName, "sim-tx-3")

	rxDev, _ := iio.Open(rxName)
	buf, err := rxDev.Open(context.Background(), iio.ChannelMask(1), 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	atb := buf.(*autoTriggerBuffer)
	select {
	case <-atb.stop:
		t.Fatal("stop channel closed before Destroy was called")
	default:
	}

	if err := atb.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if !atb.Closed() {
		t.Fatal("expected underlying fake buffer to report closed")
	}
	select {
	case <-atb.stop:
	default:
		t.Fatal("Destroy did not close the ticker's stop channel")
	}

	// Destroy must be idempotent, matching the Buffer interface contract;
	// a second call must not panic from a double close.
	if err := atb.Destroy(); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
}
