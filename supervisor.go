package main

import (
	"fmt"
	"net"
	"reflect"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
)

// mainLoopTimeout is the supervisor's event-loop wait, §4.2 "Main loop".
const mainLoopTimeout = 30 * time.Second

// supervisor owns the control and data sockets and the RX/TX worker
// handles, grounded on original_source/main.c's handle_control /
// start_thread / stop_thread.
type supervisor struct {
	log *componentLogger
	cfg Config

	controlConn *net.UDPConn
	dataConn    *net.UDPConn

	rx *workerHandle
	tx *workerHandle

	rxDeviceName string
	txDeviceName string

	statsRX *streamStats
	statsTX *streamStats

	controlMu           sync.Mutex
	lastControlDatagram controlDatagram

	terminate chan struct{}
}

// newSupervisor opens both UDP sockets bound to all interfaces, per
// spec §4.2 "Setup".
func newSupervisor(cfg Config, log *componentLogger) (*supervisor, error) {
	controlConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.ControlPort})
	if err != nil {
		return nil, fmt.Errorf("bind control socket :%d: %w", cfg.ControlPort, err)
	}
	dataConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.DataPort})
	if err != nil {
		controlConn.Close()
		return nil, fmt.Errorf("bind data socket :%d: %w", cfg.DataPort, err)
	}

	// Mark the data socket for low-latency/low-jitter handling, the one
	// concrete mechanism available to a UDP sender for "preserve timing
	// under back-pressure" (spec.md §1).
	pc := ipv4.NewPacketConn(dataConn)
	const dscpExpeditedForwarding = 0xb8
	if err := pc.SetTOS(dscpExpeditedForwarding); err != nil {
		log.Printf("could not set data socket TOS (non-fatal): %v", err)
	}

	return &supervisor{
		log:          log,
		cfg:          cfg,
		controlConn:  controlConn,
		dataConn:     dataConn,
		rxDeviceName: cfg.RXDevice,
		txDeviceName: cfg.TXDevice,
		statsRX:      newStreamStats(),
		statsTX:      newStreamStats(),
		terminate:    make(chan struct{}),
	}, nil
}

// requestTerminate is called by the process signal handler.
func (s *supervisor) requestTerminate() {
	select {
	case <-s.terminate:
	default:
		close(s.terminate)
	}
}

// run is the supervisor's main loop: iterate the event-loop primitive
// with a 30s timeout until terminate fires, then stop both workers and
// close descriptors, per spec §4.2 "Main loop".
func (s *supervisor) run() error {
	defer s.controlConn.Close()
	defer s.dataConn.Close()

	controlReady := make(chan struct{}, 1)
	go s.pumpControlReadiness(controlReady)

	// terminate is deliberately not registered with the loop: the loop's
	// eventloop.go treats a closed channel as a handle failure, which
	// would be wrong for an intentional shutdown signal. Instead the
	// outer loop below polls it between waits, tolerating up to one
	// mainLoopTimeout of shutdown latency per spec §4.2 "Main loop".
	l := &loop{}
	l.register("control-socket", reflect.ValueOf(controlReady), s.handleControlDatagram)

	for {
		select {
		case <-s.terminate:
			s.log.Printf("shutting down")
			s.rx.stop()
			s.tx.stop()
			return nil
		default:
		}
		if err := l.run(mainLoopTimeout); err != nil {
			s.rx.stop()
			s.tx.stop()
			return err
		}
	}
}

// pumpControlReadiness blocks on ReadFromUDP and signals readiness,
// translating a blocking stdlib socket into the channel-based readiness
// model the rest of this module uses uniformly.
func (s *supervisor) pumpControlReadiness(ready chan<- struct{}) {
	buf := make([]byte, 2048)
	for {
		n, addr, err := s.controlConn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed at shutdown
		}
		s.controlMu.Lock()
		s.lastControlDatagram = controlDatagram{data: append([]byte(nil), buf[:n]...), addr: addr}
		s.controlMu.Unlock()
		select {
		case ready <- struct{}{}:
		default:
		}
	}
}

type controlDatagram struct {
	data []byte
	addr *net.UDPAddr
}

// handleControlDatagram dispatches the most recently received control
// datagram, per spec §4.2 "Control protocol".
func (s *supervisor) handleControlDatagram() error {
	s.controlMu.Lock()
	dg := s.lastControlDatagram
	s.lastControlDatagram = controlDatagram{}
	s.controlMu.Unlock()
	if dg.data == nil {
		return nil
	}

	hdr, err := decodeControlHeader(dg.data)
	if err != nil {
		s.log.Printf("dropping control datagram: %v", err)
		return nil
	}

	switch hdr.Cmd {
	case cmdStartTX:
		req, err := decodeStartTXRequest(dg.data)
		if err != nil {
			s.log.Printf("START_TX: %v", err)
			return nil
		}
		return s.startTX(req)
	case cmdStartRX:
		req, err := decodeStartRXRequest(dg.data)
		if err != nil {
			s.log.Printf("START_RX: %v", err)
			return nil
		}
		return s.startRX(req, dg.addr)
	case cmdStopTX:
		if len(dg.data) != stopRequestSize {
			s.log.Printf("STOP_TX: bad size %d", len(dg.data))
			return nil
		}
		return s.stopTX()
	case cmdStopRX:
		if len(dg.data) != stopRequestSize {
			s.log.Printf("STOP_RX: bad size %d", len(dg.data))
			return nil
		}
		return s.stopRX()
	default:
		s.log.Printf("dropping control datagram: unknown cmd %d", hdr.Cmd)
		return nil
	}
}

// startTX stops any running TX worker, then spawns a new one — a
// START_* on an already-running stream deterministically stops the
// prior stream first, per spec §8.
func (s *supervisor) startTX(req startTXRequest) error {
	s.tx.stop()
	s.statsTX.detach()
	w, err := newTXWorker(newComponentLogger("TX"), s.dataConn, s.txDeviceName, txParams{
		EnabledChannels:     req.EnabledChannels,
		TimestampingEnabled: req.TimestampingEnabled,
		BufferSize:          req.BufferSize,
		RT:                  rtConfig{CPU: s.cfg.TXCPU, RealtimePriority: s.cfg.RealtimePriority},
	})
	if err != nil {
		s.log.Printf("START_TX failed: %v", err)
		return nil // fatal-to-worker-init, not fatal-to-process
	}
	s.statsTX.attach(&w.periodStats, &w.durationStats, &w.overflow, &w.dropped, &w.outoforder)
	s.tx = startWorker(w.run)
	s.log.Printf("TX stream started: channels=%#x bufsize=%d ts=%v", req.EnabledChannels, req.BufferSize, req.TimestampingEnabled)
	return nil
}

// startRX stops any running RX worker, then spawns a new one sending to
// {source IP of this datagram, data_port from payload}, per spec §4.2
// "The client's IP address for RX is always taken from the UDP source
// address".
func (s *supervisor) startRX(req startRXRequest, sourceAddr *net.UDPAddr) error {
	s.rx.stop()
	s.statsRX.detach()
	clientAddr := &net.UDPAddr{IP: sourceAddr.IP, Port: int(req.DataPort)}
	w, err := newRXWorker(newComponentLogger("RX"), s.dataConn, s.rxDeviceName, rxParams{
		ClientAddr:          clientAddr,
		EnabledChannels:     req.EnabledChannels,
		TimestampingEnabled: req.TimestampingEnabled,
		BufferSize:          req.BufferSize,
		PacketSize:          req.PacketSize,
		RT:                  rtConfig{CPU: s.cfg.RXCPU, RealtimePriority: s.cfg.RealtimePriority},
	})
	if err != nil {
		s.log.Printf("START_RX failed: %v", err)
		return nil
	}
	s.statsRX.attach(&w.periodStats, &w.durationStats, &w.overflow, nil, nil)
	s.rx = startWorker(w.run)
	s.log.Printf("RX stream started: client=%s channels=%#x bufsize=%d pktsize=%d ts=%v",
		clientAddr, req.EnabledChannels, req.BufferSize, req.PacketSize, req.TimestampingEnabled)
	return nil
}

// stopTX/stopRX are idempotent: STOP on a non-running stream is a no-op
// that returns success, per spec §3 "Supervisor state" invariant.
func (s *supervisor) stopTX() error {
	if err := s.tx.stop(); err != nil {
		s.log.Printf("TX worker exited with error: %v", err)
	}
	s.tx = nil
	s.statsTX.detach()
	return nil
}

func (s *supervisor) stopRX() error {
	if err := s.rx.stop(); err != nil {
		s.log.Printf("RX worker exited with error: %v", err)
	}
	s.rx = nil
	s.statsRX.detach()
	return nil
}
