package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"

	"golang.org/x/net/ipv4"

	"github.com/pgreenland/pluto-sdr-ip-gadget/iio"
)

const dataHeaderLen = dataHeaderSize // 16, see wire.go

// rxParams carries everything a START_RX control request supplies,
// latched for the life of one worker (§3 "Stream state (RX)").
type rxParams struct {
	ClientAddr          *net.UDPAddr
	EnabledChannels     uint32
	TimestampingEnabled bool
	BufferSize          uint32 // samples
	PacketSize          uint16 // MTU, includes the 16-byte header

	RT rtConfig
}

// rxBlockPlan is one block of the fragmentation plan built once at
// start: the block's header constants (magic, block index/count) plus
// the byte range of the DMA buffer it carries. The plan itself is reused
// for every buffer; the outgoing messages are not (see sendBuffer).
type rxBlockPlan struct {
	header      dataHeader
	payloadFrom int
	payloadTo   int // exclusive
}

// rxWorker owns one RX stream's DMA buffer, fragmentation plan, and
// output socket, grounded on original_source/thread_read.c.
type rxWorker struct {
	log    *componentLogger
	params rxParams
	dev    iio.Device
	buf    iio.Buffer

	packetConn *ipv4.PacketConn // batched sender over the shared data socket
	stride     int
	bufBytes   int
	useful     int // buffer bytes carrying payload (excludes 8-byte timestamp slot)
	plan       []rxBlockPlan

	seqno uint64

	periodStats   timeStats // time between successive buffer-ready events
	durationStats timeStats // time spent inside Refill
	overflow      atomic.Uint64
}

// newRXWorker opens the radio device and builds the fragmentation plan
// once at start, per spec §4.3 "Initialization" and "Fragmentation
// planning (done once at start)".
func newRXWorker(log *componentLogger, dataSocket *net.UDPConn, rxDeviceName string, params rxParams) (*rxWorker, error) {
	dev, err := iio.Open(rxDeviceName)
	if err != nil {
		return nil, fmt.Errorf("open rx device %q: %w", rxDeviceName, err)
	}

	w := &rxWorker{
		log:        log,
		params:     params,
		dev:        dev,
		packetConn: ipv4.NewPacketConn(dataSocket),
	}

	ctx := context.Background()
	buf, err := dev.Open(ctx, iio.ChannelMask(params.EnabledChannels), int(params.BufferSize))
	if err != nil {
		return nil, fmt.Errorf("configure rx buffer: %w", err)
	}
	w.buf = buf
	w.stride = buf.Stride()
	w.bufBytes = int(params.BufferSize) * w.stride

	tsBytes := 0
	if params.TimestampingEnabled {
		tsBytes = 8
	}
	w.useful = w.bufBytes - tsBytes
	if w.useful < 0 {
		_ = buf.Destroy()
		return nil, fmt.Errorf("buffer too small for timestamp slot: %d bytes", w.bufBytes)
	}

	if err := w.buildPlan(); err != nil {
		_ = buf.Destroy()
		return nil, err
	}

	w.periodStats.reset()
	w.durationStats.reset()
	return w, nil
}

// buildPlan computes block_count and per-block payload ranges per §4.3.
// The last block's length is U mod P, except that an exact multiple
// yields a full block rather than an empty datagram — the corner case
// spec §9 flags and recommends resolving this way (see SPEC_FULL.md §9).
func (w *rxWorker) buildPlan() error {
	headerSize := dataHeaderLen
	mtu := int(w.params.PacketSize)
	payloadPerBlock := mtu - headerSize
	if payloadPerBlock <= 0 {
		return fmt.Errorf("packet_size %d too small for %d-byte header", mtu, headerSize)
	}

	u := w.useful
	blockCount := (u + payloadPerBlock - 1) / payloadPerBlock
	if blockCount == 0 {
		blockCount = 1
	}
	if blockCount > 255 {
		return fmt.Errorf("buffer requires %d blocks, exceeds 255-block-index limit", blockCount)
	}

	tsOffset := 0
	if w.params.TimestampingEnabled {
		tsOffset = 8
	}

	plan := make([]rxBlockPlan, blockCount)
	offset := tsOffset
	for i := 0; i < blockCount; i++ {
		length := payloadPerBlock
		if i == blockCount-1 {
			last := u % payloadPerBlock
			if last == 0 {
				last = payloadPerBlock
			}
			length = last
		}
		plan[i] = rxBlockPlan{
			header: dataHeader{
				Magic:      wireMagic,
				BlockIndex: uint8(i),
				BlockCount: uint8(blockCount),
			},
			payloadFrom: offset,
			payloadTo:   offset + length,
		}
		offset += length
	}
	w.plan = plan
	return nil
}

// run is the worker's event loop body, registered via startWorker. It
// multiplexes cancellation and buffer readiness (spec §4.3 "Steady-state
// per DMA buffer"); there is no separate stats timer channel here
// because the supervisor's stats reporter polls counters directly (see
// stats_reporter.go).
func (w *rxWorker) run(cancel <-chan struct{}) (err error) {
	defer func() {
		if destroyErr := w.buf.Destroy(); destroyErr != nil && err == nil {
			err = fmt.Errorf("destroy rx buffer: %w", destroyErr)
		}
	}()

	w.params.RT.apply(w.log)

	w.periodStats.start()
	for {
		select {
		case <-cancel:
			return nil
		case <-w.buf.Ready():
		}
		w.periodStats.update()

		w.durationStats.start()
		n, refillErr := w.buf.Refill(context.Background())
		w.durationStats.update()
		if refillErr != nil {
			return fmt.Errorf("rx refill: %w", refillErr)
		}
		if n != w.bufBytes {
			return fmt.Errorf("rx refill short: got %d bytes, want %d", n, w.bufBytes)
		}

		if err := w.sendBuffer(); err != nil {
			w.log.Printf("send failed, counting overflow: %v", err)
			w.overflow.Add(1)
		}

		w.seqno += uint64(w.params.BufferSize)
	}
}

// sendBuffer builds one message per planned block and issues them in one
// batched WriteBatch — the Go equivalent of sendmmsg(2). The messages are
// built afresh on every call: each block's header (with this buffer's
// seqno) is encoded into a new byte slice and the block's payload is
// copied after it into a single buffer; no message, header or iovec is
// kept and patched between buffers.
func (w *rxWorker) sendBuffer() error {
	data := w.buf.Bytes()
	seqno := w.seqno
	if w.params.TimestampingEnabled {
		seqno = decodeTimestampSlot(data)
	}

	msgs := make([]ipv4.Message, len(w.plan))
	for i, blk := range w.plan {
		blk.header.Seqno = seqno
		hb := make([]byte, dataHeaderLen)
		encodeDataHeader(blk.header, hb)

		payload := data[blk.payloadFrom:blk.payloadTo]
		buf := make([]byte, 0, len(hb)+len(payload))
		buf = append(buf, hb...)
		buf = append(buf, payload...)

		msgs[i] = ipv4.Message{
			Buffers: [][]byte{buf},
			Addr:    w.params.ClientAddr,
		}
	}

	sent, err := w.packetConn.WriteBatch(msgs, 0)
	if err != nil {
		return err
	}
	if sent < len(msgs) {
		return fmt.Errorf("short batch send: %d of %d messages accepted", sent, len(msgs))
	}
	return nil
}

func decodeTimestampSlot(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf[:8])
}

// blocksPerBuffer exposes the invariant from spec §8 for tests:
// ⌈(iio_buffer_bytes − τ) / (udp_packet_size − 16)⌉.
func (w *rxWorker) blocksPerBuffer() int {
	return len(w.plan)
}
