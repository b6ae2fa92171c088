package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/pgreenland/pluto-sdr-ip-gadget/iio"
)

// txParams carries everything a START_TX control request supplies.
type txParams struct {
	EnabledChannels     uint32
	TimestampingEnabled bool
	BufferSize          uint32 // samples

	RT rtConfig
}

// txWorker owns one TX stream's DMA buffer, reassembly state, and input
// socket, grounded on original_source/thread_write.c.
type txWorker struct {
	log    *componentLogger
	params txParams
	dev    iio.Device
	buf    iio.Buffer
	conn   *net.UDPConn

	stride         int
	bufBytes       int
	samplesPerPush int

	// reassembly state, §3 "Stream state (TX)"
	used         int
	blockIndex   uint8
	blockCount   uint8
	expectedSeq  uint64

	periodStats   timeStats // time between successive completed buffer pushes
	durationStats timeStats // time spent inside Push
	dropped       atomic.Uint64
	outoforder    atomic.Uint64
	overflow      atomic.Uint64

	recvBuf [65536]byte
}

func newTXWorker(log *componentLogger, dataSocket *net.UDPConn, txDeviceName string, params txParams) (*txWorker, error) {
	dev, err := iio.Open(txDeviceName)
	if err != nil {
		return nil, fmt.Errorf("open tx device %q: %w", txDeviceName, err)
	}

	w := &txWorker{
		log:    log,
		params: params,
		dev:    dev,
		conn:   dataSocket,
	}

	ctx := context.Background()
	buf, err := dev.Open(ctx, iio.ChannelMask(params.EnabledChannels), int(params.BufferSize))
	if err != nil {
		return nil, fmt.Errorf("configure tx buffer: %w", err)
	}
	w.buf = buf
	w.stride = buf.Stride()
	w.bufBytes = int(params.BufferSize) * w.stride

	tsSamples := 0
	if params.TimestampingEnabled && w.stride > 0 {
		tsSamples = 8 / w.stride
		if 8%w.stride != 0 {
			tsSamples++
		}
	}
	w.samplesPerPush = int(params.BufferSize) - tsSamples

	w.periodStats.reset()
	w.durationStats.reset()
	return w, nil
}

// run drains the data socket until EAGAIN on every event-loop tick,
// yielding back to the outer loop immediately after a successful push
// so cancellation can preempt a saturated stream (spec §4.4 "Why exit
// on buffer full").
func (w *txWorker) run(cancel <-chan struct{}) (err error) {
	defer func() {
		if destroyErr := w.buf.Destroy(); destroyErr != nil && err == nil {
			err = fmt.Errorf("destroy tx buffer: %w", destroyErr)
		}
	}()

	w.params.RT.apply(w.log)

	w.periodStats.start()
	for {
		select {
		case <-cancel:
			return nil
		default:
		}

		// Block for at least one datagram so the worker doesn't spin;
		// a short deadline lets cancellation be observed promptly.
		if err := w.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		n, _, err := w.conn.ReadFromUDP(w.recvBuf[:])
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("tx recv: %w", err)
		}

		pushed, handleErr := w.handleDatagram(w.recvBuf[:n])
		if handleErr != nil {
			return handleErr
		}
		if pushed {
			// Yield to the outer loop after committing a buffer.
			continue
		}

		// Drain any further datagrams already queued without blocking,
		// amortizing wakeup cost within this tick (§4.4).
		if err := w.drainNonBlocking(cancel); err != nil {
			return err
		}
	}
}

// drainNonBlocking reads further already-buffered datagrams until the
// socket reports would-block, mirroring the original's per-datagram
// recvmsg-until-EAGAIN loop.
func (w *txWorker) drainNonBlocking(cancel <-chan struct{}) error {
	for {
		select {
		case <-cancel:
			return nil
		default:
		}

		if err := w.conn.SetReadDeadline(time.Now()); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		n, _, err := w.conn.ReadFromUDP(w.recvBuf[:])
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil // EAGAIN equivalent: socket drained
			}
			return fmt.Errorf("tx recv: %w", err)
		}

		pushed, handleErr := w.handleDatagram(w.recvBuf[:n])
		if handleErr != nil {
			return handleErr
		}
		if pushed {
			return nil
		}
	}
}

// handleDatagram runs one datagram through the reassembly state machine
// of spec §4.4, reporting whether it completed (and pushed) a buffer.
func (w *txWorker) handleDatagram(pkt []byte) (pushed bool, err error) {
	hdr, decErr := decodeDataHeader(pkt)
	if decErr != nil {
		return false, nil // short datagram or bad magic: silent drop
	}
	payload := pkt[dataHeaderSize:]
	n := len(payload)

	if hdr.Seqno < w.expectedSeq {
		w.dropped.Add(1)
		return false, nil
	}

	if w.used == 0 {
		if hdr.BlockIndex != 0 {
			w.dropped.Add(1)
			return false, nil
		}
		w.blockCount = hdr.BlockCount
		w.blockIndex = 0
		if w.params.TimestampingEnabled {
			w.expectedSeq = hdr.Seqno
			data := w.buf.Bytes()
			binary.LittleEndian.PutUint64(data[:8], hdr.Seqno)
			w.used = 8
		}
	} else {
		if hdr.BlockIndex != w.blockIndex || hdr.BlockCount != w.blockCount || hdr.Seqno != w.expectedSeq {
			w.outoforder.Add(1)
			w.used = 0
			return false, nil
		}
	}

	data := w.buf.Bytes()
	if w.used+n > w.bufBytes {
		// Payload would overrun the buffer: treat as a malformed
		// reassembly, same as a mid-buffer mismatch.
		w.outoforder.Add(1)
		w.used = 0
		return false, nil
	}
	copy(data[w.used:w.used+n], payload)
	w.used += n
	w.blockIndex++

	if w.used == w.bufBytes {
		w.periodStats.update()
		w.durationStats.start()
		pushedBytes, pushErr := w.buf.Push(context.Background())
		w.durationStats.update()
		if pushErr != nil {
			return false, fmt.Errorf("tx push: %w", pushErr)
		}
		if pushedBytes != w.bufBytes {
			w.overflow.Add(1)
		}
		w.used = 0
		w.expectedSeq += uint64(w.samplesPerPush)
		return true, nil
	}
	return false, nil
}
