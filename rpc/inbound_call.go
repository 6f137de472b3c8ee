package rpc

import (
	"sync"

	"github.com/jceel/librpc/value"
)

// InboundCall is the handle a HandlerFunc uses to reply to a call the
// peer issued against this Connection. A handler may call SendMore any
// number of times before a single terminal SendDone or SendError; if it
// returns without sending a terminal fragment, finishIfOpen sends an
// empty SendDone on its behalf.
type InboundCall struct {
	conn   *Connection
	id     string
	cancel func()

	mu            sync.Mutex
	open          bool
	seqno         uint64 // fragments sent so far, for rpc/fragment.args.seqno
	consumerSeqno uint64 // next seqno the peer expects, from its latest rpc/continue
	resumeCh      chan struct{}
}

func newInboundCall(conn *Connection, id string, cancel func()) *InboundCall {
	return &InboundCall{conn: conn, id: id, cancel: cancel, open: true, resumeCh: make(chan struct{}, 1)}
}

// SendMore streams one intermediate fragment; the call stays open.
func (ic *InboundCall) SendMore(args *value.Value) error {
	ic.mu.Lock()
	ic.seqno++
	seqno := ic.seqno
	ic.mu.Unlock()
	return ic.conn.writeMessage(&message{Kind: kindFragment, ID: ic.id, Args: fragmentArgs(seqno, args)})
}

// SendDone sends the terminal successful fragment and closes the call.
// A call that never streamed a fragment finishes with rpc/response
// (args is the result); one that already sent SendMore finishes with
// rpc/end, whose bare {seqno} payload carries no further value — the
// caller already received the result via the last fragment.
func (ic *InboundCall) SendDone(args *value.Value) error {
	ic.mu.Lock()
	streamed := ic.seqno > 0
	seqno := ic.seqno
	ic.open = false
	ic.mu.Unlock()
	if streamed {
		return ic.conn.writeMessage(&message{Kind: kindEnd, ID: ic.id, Args: endArgs(seqno)})
	}
	return ic.conn.writeMessage(&message{Kind: kindResponse, ID: ic.id, Args: args})
}

// SendError sends the terminal failure fragment and closes the call.
func (ic *InboundCall) SendError(err *Error) error {
	ic.close()
	return ic.conn.writeMessage(&message{Kind: kindError, ID: ic.id, Args: errorArgs(err.Code, err.Message)})
}

// WaitForContinue blocks until the peer sends a sync "continue" frame
// for this call (see OutboundCall.Continue(true)), or the call is
// aborted, in which case it returns false.
func (ic *InboundCall) WaitForContinue() bool {
	_, ok := <-ic.resumeCh
	return ok
}

// ConsumerSeqno returns the next fragment seqno the peer expects, as
// carried by its most recent rpc/continue (0 before the first one).
func (ic *InboundCall) ConsumerSeqno() uint64 {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.consumerSeqno
}

// resume wakes a handler blocked in WaitForContinue in response to the
// peer's sync "continue" frame, recording the next-expected seqno it
// carried (rpc/continue.args).
func (ic *InboundCall) resume(consumerSeqno uint64) {
	ic.mu.Lock()
	ic.consumerSeqno = consumerSeqno
	ic.mu.Unlock()
	select {
	case ic.resumeCh <- struct{}{}:
	default:
	}
}

// abort cancels the handler's context and wakes anything blocked in
// WaitForContinue, per spec.md §9's resolved on_rpc_abort behavior.
func (ic *InboundCall) abort() {
	ic.close()
	ic.cancel()
	close(ic.resumeCh)
}

func (ic *InboundCall) close() {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.open = false
}

func (ic *InboundCall) finishIfOpen() {
	ic.mu.Lock()
	open := ic.open
	ic.mu.Unlock()
	if open {
		ic.SendDone(value.NewNull())
	}
}
