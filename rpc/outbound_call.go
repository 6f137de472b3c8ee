package rpc

import (
	"context"
	"sync"
	"time"

	"github.com/jceel/librpc"
	"github.com/jceel/librpc/value"
)

// OutboundCallState is the state machine spec.md §4.E assigns to a
// call this side issued.
type OutboundCallState int

const (
	InProgress OutboundCallState = iota
	MoreAvailable
	Done
	CallError
	Aborted
)

// OutboundCall tracks one call this Connection issued to its peer. Its
// coordination is grounded on storage/queue/queue.go's
// wake-channel+timer+select loop: a waiter blocks on a condition
// variable instead of a channel here only because multiple goroutines
// may want to observe state changes (Continue callers and a Close-driven
// abort), which sync.Cond models more directly than a channel.
type OutboundCall struct {
	conn *Connection
	id   string

	mu    sync.Mutex
	cond  *sync.Cond
	state OutboundCallState
	last  *value.Value
	seqno uint64 // highest fragment seqno delivered so far
	err   error

	timer *time.Timer
}

func newOutboundCall(conn *Connection, id string, timeout time.Duration) *OutboundCall {
	oc := &OutboundCall{conn: conn, id: id, state: InProgress}
	oc.cond = sync.NewCond(&oc.mu)
	oc.timer = time.AfterFunc(timeout, func() {
		oc.mu.Lock()
		defer oc.mu.Unlock()
		if oc.state != InProgress && oc.state != MoreAvailable {
			return
		}
		oc.err = NewError(ErrorTimedOut, "call %s timed out after %s", id, timeout)
		oc.state = CallError
		oc.cond.Broadcast()
	})
	return oc
}

// deliver is called from the Connection read loop for every more/done/
// error frame addressed to this call.
func (oc *OutboundCall) deliver(msg *message) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	if oc.state != InProgress && oc.state != MoreAvailable {
		return // already finished (e.g. timed out locally)
	}
	switch msg.Kind {
	case kindFragment:
		seqno, fragment := decodeFragmentArgs(msg.Args)
		oc.seqno = seqno
		oc.last = fragment
		oc.state = MoreAvailable
	case kindResponse:
		oc.last = msg.Args
		oc.state = Done
		oc.timer.Stop()
	case kindEnd:
		// no further payload: oc.last keeps whatever the last fragment
		// carried, per rpc/end.args's bare {seqno} shape.
		oc.state = Done
		oc.timer.Stop()
	case kindError:
		code, m := decodeErrorArgs(msg.Args)
		oc.err = &Error{Code: code, Message: m}
		oc.state = CallError
		oc.timer.Stop()
	}
	oc.cond.Broadcast()
}

func (oc *OutboundCall) fail(err error) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	if oc.state == Done || oc.state == CallError || oc.state == Aborted {
		return
	}
	oc.err = err
	oc.state = Aborted
	oc.cond.Broadcast()
}

// Continue blocks until the call produces its next fragment (more data
// or completion). When sync is true it additionally sends a "continue"
// frame to the peer first, per spec.md §4.E's sync-continuation mode
// for calls the peer is pacing explicitly.
func (oc *OutboundCall) Continue(sync bool) (OutboundCallState, *value.Value, error) {
	if sync {
		oc.mu.Lock()
		next := oc.seqno + 1
		oc.mu.Unlock()
		oc.conn.writeMessage(&message{Kind: kindContinue, ID: oc.id, Args: continueArgs(next)})
	}
	oc.mu.Lock()
	defer oc.mu.Unlock()
	for oc.state == InProgress {
		oc.cond.Wait()
	}
	state, last, err := oc.state, oc.last, oc.err
	if state == MoreAvailable {
		oc.state = InProgress // armed for the next Continue
	}
	return state, last, err
}

// Abort marks the call Aborted locally (a no-op if it already finished)
// and asks the peer to cancel this call's inbound handler.
func (oc *OutboundCall) Abort() error {
	oc.fail(NewError(ErrorAborted, "call %s aborted", oc.id))
	return oc.conn.writeMessage(&message{Kind: kindAbort, ID: oc.id})
}

// Call issues a synchronous call: it blocks until the callee's first
// Done or Error fragment, discarding any intermediate MoreAvailable
// fragments (use CallStreaming to observe those).
func (c *Connection) Call(ctx context.Context, namespace, name string, args *value.Value) (*value.Value, error) {
	oc, err := c.CallStreaming(namespace, name, args)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		oc.fail(librpc.WithStack(ctx.Err()))
		oc.Abort()
	})
	defer stop()
	for {
		state, last, err := oc.Continue(false)
		switch state {
		case Done:
			return last, nil
		case CallError, Aborted:
			return nil, err
		case MoreAvailable:
			continue
		}
		select {
		case <-ctx.Done():
			oc.Abort()
			return nil, librpc.WithStack(ctx.Err())
		default:
		}
	}
}

// CallStreaming issues a call and returns immediately with a handle a
// caller can drive via Continue to observe each streamed fragment.
func (c *Connection) CallStreaming(namespace, name string, args *value.Value) (*OutboundCall, error) {
	return c.CallStreamingWithTimeout(namespace, name, args, DefaultCallTimeout)
}

// CallStreamingWithTimeout is CallStreaming with an explicit per-call
// timeout, for callers that need something other than the spec's
// 60-second default (e.g. tests, or a method documented to run long).
func (c *Connection) CallStreamingWithTimeout(namespace, name string, args *value.Value, timeout time.Duration) (*OutboundCall, error) {
	id := librpc.NextCallID()
	oc := newOutboundCall(c, id, timeout)
	c.outbound.Set(id, oc)
	if err := c.writeMessage(&message{Kind: kindCall, ID: id, Args: callArgs(dispatchKey(namespace, name), args)}); err != nil {
		c.outbound.Del(id)
		return nil, err
	}
	return oc, nil
}
