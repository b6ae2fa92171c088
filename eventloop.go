package main

import (
	"fmt"
	"reflect"
	"time"
)

// eventHandle is one readiness source registered with a loop: a name for
// diagnostics/dispatch (the Design Notes' "tagged variant" in place of
// the original's function-pointer-in-userdata trick), a receive channel
// that becomes ready when the handle has an event, and the handler to
// run when it fires.
type eventHandle struct {
	name    string
	ch      reflect.Value // must be a receive-able channel
	handler func() error
}

// loop is the readiness dispatcher generalizing the original
// epoll_loop.c: block up to a timeout for any registered handle to
// become ready, dispatch each ready handler, bound the number of
// handlers run per wakeup, and return success on a plain timeout.
//
// Today the supervisor is the only caller, registering a single handle
// (the control socket, see supervisor.go). RX and TX instead use plain
// native Go `select` statements directly in their run loops, since each
// only ever waits on a fixed two-case set (cancel plus one readiness
// source) that a compile-time select already expresses cleanly; pulling
// them onto this dispatcher would buy nothing. Handles are still
// resolved dynamically via reflect.Select here because the set size is
// not fixed at compile time for a general registrant, even though the
// one real caller today only ever registers one.
type loop struct {
	handles []eventHandle
}

// register adds a handle. Order does not matter; reflect.Select breaks
// ties between simultaneously-ready channels pseudo-randomly, which is
// fine here since handlers are independent per spec.md §4.1 ("handlers
// may mutate the supervisor's state; they do not mutate the registration
// set while dispatch is in progress").
func (l *loop) register(name string, ch reflect.Value, handler func() error) {
	l.handles = append(l.handles, eventHandle{name: name, ch: ch, handler: handler})
}

// maxBatchPerWakeup bounds how many ready handlers run before the loop
// returns to its caller, mirroring epoll_wait's fixed-size event array
// (the original used 10).
const maxBatchPerWakeup = 10

// run blocks up to timeout for a ready handle, dispatches it, then keeps
// dispatching additional already-ready handles (non-blocking) up to
// maxBatchPerWakeup before returning. It returns nil on a plain timeout
// (an empty tick) or after a bounded batch of successful dispatches; it
// returns the first handler error encountered, which is fatal to the
// calling worker/supervisor loop.
func (l *loop) run(timeout time.Duration) error {
	cases := make([]reflect.SelectCase, 0, len(l.handles)+1)
	for _, h := range l.handles {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: h.ch})
	}
	timeoutCh := reflect.ValueOf(time.After(timeout))
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: timeoutCh})

	for dispatched := 0; dispatched < maxBatchPerWakeup; dispatched++ {
		var chosen int
		var ok bool
		if dispatched == 0 {
			// First wait of this wakeup: block for real.
			chosen, _, ok = reflect.Select(cases)
		} else {
			// Subsequent checks: drain anything already ready without
			// blocking, matching epoll's "return what's ready right now".
			nonBlocking := append(append([]reflect.SelectCase{}, cases...), reflect.SelectCase{Dir: reflect.SelectDefault})
			chosen, _, ok = reflect.Select(nonBlocking)
			if chosen == len(nonBlocking)-1 {
				// default case: nothing left ready this wakeup.
				return nil
			}
		}

		if chosen == len(cases)-1 {
			// Timeout channel fired: an empty tick, success.
			return nil
		}
		if !ok {
			return fmt.Errorf("eventloop: handle %q channel closed unexpectedly", l.handles[chosen].name)
		}
		if err := l.handles[chosen].handler(); err != nil {
			return fmt.Errorf("eventloop: handler %q failed: %w", l.handles[chosen].name, err)
		}
	}
	return nil
}
