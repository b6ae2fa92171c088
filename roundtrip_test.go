package main

import (
	"net"
	"testing"
	"time"

	"github.com/pgreenland/pluto-sdr-ip-gadget/iio"
)

// TestRoundTrip_RXToTX drives an RX worker's fake buffer, lets it send
// batched datagrams over loopback, and verifies a TX worker reassembles
// them into a buffer that pushes back out to its own fake device — the
// same data flow spec §8 describes as "a buffer refilled on the RX side
// reaches the radio on the TX side byte-for-byte, modulo the timestamp
// slot".
func TestRoundTrip_RXToTX(t *testing.T) {
	// Two loopback sockets stand in for the real UDP data port: the RX
	// worker sends from the first one to the second one's address, and
	// the TX worker reads from the second one.
	rxDataConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP (rx side): %v", err)
	}
	defer rxDataConn.Close()

	txDataConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP (tx side): %v", err)
	}
	defer txDataConn.Close()
	txAddr := txDataConn.LocalAddr().(*net.UDPAddr)

	iio.Register("roundtrip-rx", func(name string) (iio.Device, error) { return iio.NewFake(name), nil })
	iio.Register("roundtrip-tx", func(name string) (iio.Device, error) { return iio.NewFake(name), nil })

	rxParams := rxParams{
		ClientAddr:          txAddr,
		EnabledChannels:     0b11, // stride 4
		TimestampingEnabled: false,
		BufferSize:          8, // 32 bytes, fits in one 1472-byte packet
		PacketSize:          1472,
		RT:                  rtConfig{CPU: -1},
	}
	rxw, err := newRXWorker(newComponentLogger("RX-rt"), rxDataConn, "roundtrip-rx", rxParams)
	if err != nil {
		t.Fatalf("newRXWorker: %v", err)
	}
	defer rxw.buf.Destroy()

	txw, err := newTXWorker(newComponentLogger("TX-rt"), txDataConn, "roundtrip-tx", txParams{
		EnabledChannels:     0b11,
		TimestampingEnabled: false,
		BufferSize:          8,
		RT:                  rtConfig{CPU: -1},
	})
	if err != nil {
		t.Fatalf("newTXWorker: %v", err)
	}
	defer txw.buf.Destroy()

	rxFake := rxw.buf.(*iio.FakeBuffer)
	txFake := txw.buf.(*iio.FakeBuffer)

	rxCancel := make(chan struct{})
	rxDone := make(chan error, 1)
	go func() { rxDone <- rxw.run(rxCancel) }()

	txCancel := make(chan struct{})
	txDone := make(chan error, 1)
	go func() { txDone <- txw.run(txCancel) }()

	rxFake.Trigger()

	deadline := time.After(3 * time.Second)
	for len(txFake.Pushed) == 0 {
		select {
		case <-deadline:
			t.Fatal("tx side never received and reassembled the rx buffer")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	close(rxCancel)
	close(txCancel)
	if err := <-rxDone; err != nil {
		t.Fatalf("rx run(): %v", err)
	}
	if err := <-txDone; err != nil {
		t.Fatalf("tx run(): %v", err)
	}

	wantFilled := rxFake.Bytes()
	gotPushed := txFake.Pushed[0]
	if len(wantFilled) != len(gotPushed) {
		t.Fatalf("byte count mismatch: rx filled %d, tx pushed %d", len(wantFilled), len(gotPushed))
	}
	for i := range wantFilled {
		if wantFilled[i] != gotPushed[i] {
			t.Fatalf("byte %d mismatch: rx had %#x, tx reassembled %#x", i, wantFilled[i], gotPushed[i])
		}
	}
}

// TestRoundTrip_TimestampingPreservesSeqnoAcrossTheWire verifies the
// RX side's running seqno counter (decoded from its own timestamp slot)
// arrives intact in the TX side's reassembled timestamp slot.
func TestRoundTrip_TimestampingPreservesSeqnoAcrossTheWire(t *testing.T) {
	rxDataConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP (rx side): %v", err)
	}
	defer rxDataConn.Close()

	txDataConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP (tx side): %v", err)
	}
	defer txDataConn.Close()
	txAddr := txDataConn.LocalAddr().(*net.UDPAddr)

	iio.Register("roundtrip-ts-rx", func(name string) (iio.Device, error) { return iio.NewFake(name), nil })
	iio.Register("roundtrip-ts-tx", func(name string) (iio.Device, error) { return iio.NewFake(name), nil })

	rxw, err := newRXWorker(newComponentLogger("RX-rt-ts"), rxDataConn, "roundtrip-ts-rx", rxParams{
		ClientAddr:          txAddr,
		EnabledChannels:     0b11,
		TimestampingEnabled: true,
		BufferSize:          8,
		PacketSize:          1472,
		RT:                  rtConfig{CPU: -1},
	})
	if err != nil {
		t.Fatalf("newRXWorker: %v", err)
	}
	defer rxw.buf.Destroy()

	txw, err := newTXWorker(newComponentLogger("TX-rt-ts"), txDataConn, "roundtrip-ts-tx", txParams{
		EnabledChannels:     0b11,
		TimestampingEnabled: true,
		BufferSize:          8,
		RT:                  rtConfig{CPU: -1},
	})
	if err != nil {
		t.Fatalf("newTXWorker: %v", err)
	}
	defer txw.buf.Destroy()

	rxFake := rxw.buf.(*iio.FakeBuffer)
	txFake := txw.buf.(*iio.FakeBuffer)

	// iio.Fake's default refill pattern writes an incrementing uint64
	// into the first 8 bytes, which doubles as a deterministic seqno for
	// this assertion once RX interprets it as the timestamp slot.
	const wantSeqno = 0

	rxCancel := make(chan struct{})
	rxDone := make(chan error, 1)
	go func() { rxDone <- rxw.run(rxCancel) }()

	txCancel := make(chan struct{})
	txDone := make(chan error, 1)
	go func() { txDone <- txw.run(txCancel) }()

	rxFake.Trigger()

	deadline := time.After(3 * time.Second)
	for len(txFake.Pushed) == 0 {
		select {
		case <-deadline:
			t.Fatal("tx side never reassembled a full buffer")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	close(rxCancel)
	close(txCancel)
	<-rxDone
	<-txDone

	gotSeqno := decodeTimestampSlot(txFake.Pushed[0])
	if gotSeqno != wantSeqno {
		t.Errorf("reassembled timestamp slot = %d, want %d", gotSeqno, wantSeqno)
	}
}
