// Package rpc is the call multiplexer and event bus that rides on top
// of a transport.Conn: it turns a byte stream into typed calls,
// streamed replies, and topic subscriptions, the way game/connection.go's
// Connection turns a byte stream into game session state.
package rpc

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/jceel/librpc"
	"github.com/jceel/librpc/codec"
	"github.com/jceel/librpc/transport"
	"github.com/jceel/librpc/value"
)

// HandlerFunc implements one registered RPC method. It receives the
// InboundCall so it can stream fragments with SendMore before finishing
// with SendDone, or fail the call with SendError and an *Error.
type HandlerFunc func(ctx context.Context, call *InboundCall, args *value.Value)

// DefaultCallTimeout is the per-call deadline spec.md §4.E mandates,
// applied by Call and CallStreaming; Call also ends early, aborting the
// call, when its context is done.
const DefaultCallTimeout = 60 * time.Second

// Connection multiplexes calls and events over one transport.Conn. It
// is symmetric: the same type issues outbound calls and serves
// inbound ones, matching spec.md §2's "no client/server role" model.
type Connection struct {
	conn       transport.Conn
	serializer codec.Serializer

	writeMu sync.Mutex

	dispatch *librpc.SyncMap[string, HandlerFunc]
	outbound *librpc.SyncMap[string, *OutboundCall]
	inbound  *librpc.SyncMap[string, *InboundCall]

	events *eventBus

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConnection wraps conn, using the named codec ("json", "yaml",
// "msgpack" or "benc"; see package codec) to serialize each message.
func NewConnection(conn transport.Conn, serializerName string) (*Connection, error) {
	ser, ok := codec.Get(serializerName)
	if !ok {
		return nil, librpc.WithStack(errors.Errorf("rpc: unknown serializer %q", serializerName))
	}
	c := &Connection{
		conn:       conn,
		serializer: ser,
		dispatch:   librpc.NewSyncMap[string, HandlerFunc](),
		outbound:   librpc.NewSyncMap[string, *OutboundCall](),
		inbound:    librpc.NewSyncMap[string, *InboundCall](),
		closed:     make(chan struct{}),
	}
	c.events = newEventBus(c)
	return c, nil
}

// Register binds a method name within namespace to handler. Re-registering
// the same (namespace, name) pair replaces the previous handler.
func (c *Connection) Register(namespace, name string, handler HandlerFunc) {
	c.dispatch.Set(dispatchKey(namespace, name), handler)
}

func dispatchKey(namespace, name string) string { return namespace + "." + name }

// Serve runs the read loop until ctx is cancelled, the peer closes the
// connection, or an unrecoverable framing error occurs. It is safe to
// call Call/Subscribe concurrently from other goroutines while Serve
// runs.
func (c *Connection) Serve(ctx context.Context) error {
	defer c.events.shutdown()
	for {
		select {
		case <-ctx.Done():
			return librpc.WithStack(ctx.Err())
		case <-c.closed:
			return nil
		default:
		}
		msg, fault, err := c.readMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		go c.handleMessage(ctx, msg, fault)
	}
}

// Close shuts down the connection and aborts every call still
// in flight on either side.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		for id := range c.outbound.Keys() {
			if oc, ok := c.outbound.Get(id); ok {
				oc.fail(NewError(ErrorAborted, "connection closed"))
			}
		}
		for id := range c.inbound.Keys() {
			if ic, ok := c.inbound.Get(id); ok {
				ic.abort()
			}
		}
		err = c.conn.Close()
	})
	return err
}

func (c *Connection) writeMessage(msg *message) error {
	wire, err := msg.toWire()
	if err != nil {
		return err
	}
	data, err := c.serializer.Serialize(wire)
	if err != nil {
		return librpc.WithStack(err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(data)))
	if _, err := c.conn.Write(lenPrefix[:]); err != nil {
		return librpc.WithStack(err)
	}
	if _, err := c.conn.Write(data); err != nil {
		return librpc.WithStack(err)
	}
	fds := fdsOf(wire)
	for _, fd := range fds {
		if err := c.conn.SendFd(fd); err != nil {
			return librpc.WithStack(err)
		}
	}
	return nil
}

func fdsOf(wire *value.Value) []int {
	fdsVal := wire.GetKey("fds")
	if fdsVal == nil {
		return nil
	}
	var out []int
	fdsVal.ApplyArray(func(_ int, e *value.Value) bool {
		out = append(out, int(e.Int64()))
		return true
	})
	return out
}

func (c *Connection) readMessage() (*message, wireFault, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(c.conn, lenPrefix[:]); err != nil {
		return nil, faultNone, librpc.WithStack(err)
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	data := make([]byte, n)
	if _, err := io.ReadFull(c.conn, data); err != nil {
		return nil, faultNone, librpc.WithStack(err)
	}
	wire, err := c.serializer.Deserialize(data)
	if err != nil {
		return nil, faultNone, librpc.WithStack(err)
	}
	n = uint32(len(fdsOf(wire)))
	received := make([]int, n)
	for i := range received {
		fd, err := c.conn.RecvFd()
		if err != nil {
			return nil, faultNone, librpc.WithStack(err)
		}
		received[i] = fd
	}
	return messageFromWire(wire, received)
}

// handleMessage dispatches one parsed frame. A non-nil fault means the
// envelope failed spec.md §4.E's own validation (missing namespace/
// name/id, or a pair outside the reserved catalog) rather than naming
// anything this Connection can act on; both cases get an rpc/error
// reply instead of falling through to the kind switch.
func (c *Connection) handleMessage(ctx context.Context, msg *message, fault wireFault) {
	switch fault {
	case faultMissingFields:
		c.writeMessage(errorMessage(msg.ID, ErrorInvalidArguments, "rpc: frame missing namespace, name or id"))
		return
	case faultUnknownPair:
		c.writeMessage(errorMessage(msg.ID, ErrorMethodNotFound, "rpc: namespace/name pair is not in the reserved catalog"))
		return
	}
	switch msg.Kind {
	case kindCall:
		c.handleCall(ctx, msg)
	case kindFragment, kindResponse, kindEnd, kindError:
		if oc, ok := c.outbound.Get(msg.ID); ok {
			oc.deliver(msg)
		}
	case kindContinue:
		if ic, ok := c.inbound.Get(msg.ID); ok {
			ic.resume(decodeContinueArgs(msg.Args))
		}
	case kindAbort:
		if ic, ok := c.inbound.Get(msg.ID); ok {
			ic.abort()
		}
	case kindSubscribe:
		c.events.onSubscribeBatch(decodeNameArray(msg.Args))
	case kindUnsubscribe:
		c.events.onUnsubscribeBatch(decodeNameArray(msg.Args))
	case kindEvent:
		name, args := decodeEventArgs(msg.Args)
		c.events.deliverRemote(name, args)
	case kindEventBurst:
		for _, ev := range decodeEventBurstArgs(msg.Args) {
			c.events.deliverRemote(ev.Topic, ev.Args)
		}
	}
}

// handleCall unwraps rpc/call.args's {method, args} shape and dispatches
// to the handler registered under method (the "namespace.name" key
// Register/dispatchKey use), replying rpc/error{NotFound} if nothing is
// registered for it.
func (c *Connection) handleCall(ctx context.Context, msg *message) {
	method, args := decodeCallArgs(msg.Args)
	handler, ok := c.dispatch.Get(method)
	if !ok {
		c.writeMessage(errorMessage(msg.ID, ErrorMethodNotFound, "no such method: "+method))
		return
	}
	callCtx, cancel := context.WithCancel(ctx)
	ic := newInboundCall(c, msg.ID, cancel)
	c.inbound.Set(msg.ID, ic)
	defer c.inbound.Del(msg.ID)
	handler(callCtx, ic, args)
	ic.finishIfOpen()
}
