// Package transport abstracts the duplex byte streams an rpc.Connection
// rides on — loopback, unix, tcp, websocket — behind a URI-scheme
// registry, the way server/server.go picks a listener implementation
// per configured address.
package transport

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/jceel/librpc"
)

// PeerCredentials identifies the process on the other end of a local
// (unix-domain) connection, when the platform can report it.
type PeerCredentials struct {
	PID int32
	UID uint32
	GID uint32
}

// ErrUnsupported is returned by Conn methods that only some transports
// implement (fd passing, peer credentials).
var ErrUnsupported = errors.New("transport: not supported by this transport")

// Conn is a duplex byte stream plus the two capabilities the frame
// layer needs beyond plain read/write: out-of-band descriptor passing
// and (where meaningful) the remote peer's credentials.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer

	LocalAddr() string
	RemoteAddr() string

	// PeerCredentials returns the remote process's identity, or
	// ErrUnsupported if the transport has no such concept.
	PeerCredentials() (PeerCredentials, error)

	// SendFd and RecvFd pass an open descriptor out of band (SCM_RIGHTS
	// on unix sockets). Transports without that capability return
	// ErrUnsupported.
	SendFd(fd int) error
	RecvFd() (int, error)
}

// Listener accepts incoming Conns on one bound address.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
	Addr() string
}

// Dialer opens an outbound Conn to uri.
type Dialer func(ctx context.Context, uri string) (Conn, error)

// Binder starts listening at uri and returns a Listener.
type Binder func(ctx context.Context, uri string) (Listener, error)

type factory struct {
	dial Dialer
	bind Binder
}

var registry = librpc.NewSyncMap[string, factory]()

// Register associates a URI scheme (the part before "://", e.g.
// "tcp", "unix", "ws", "loopback") with the dial/bind functions that
// implement it. Either may be nil if the transport only supports one
// direction.
func Register(scheme string, dial Dialer, bind Binder) {
	registry.Set(scheme, factory{dial: dial, bind: bind})
}

// Dial opens a connection to uri, dispatching on its scheme.
func Dial(ctx context.Context, uri string) (Conn, error) {
	scheme, _, err := splitURI(uri)
	if err != nil {
		return nil, err
	}
	f, ok := registry.Get(scheme)
	if !ok || f.dial == nil {
		return nil, librpc.WithStack(errors.Errorf("transport: no dialer registered for scheme %q", scheme))
	}
	conn, err := f.dial(ctx, uri)
	return conn, librpc.WithStack(err)
}

// Listen starts listening at uri, dispatching on its scheme.
func Listen(ctx context.Context, uri string) (Listener, error) {
	scheme, _, err := splitURI(uri)
	if err != nil {
		return nil, err
	}
	f, ok := registry.Get(scheme)
	if !ok || f.bind == nil {
		return nil, librpc.WithStack(errors.Errorf("transport: no listener registered for scheme %q", scheme))
	}
	l, err := f.bind(ctx, uri)
	return l, librpc.WithStack(err)
}

// Schemes returns every registered scheme name.
func Schemes() []string {
	var out []string
	for s := range registry.Keys() {
		out = append(out, s)
	}
	return out
}

func splitURI(uri string) (scheme, rest string, err error) {
	for i := 0; i+2 < len(uri); i++ {
		if uri[i] == ':' && uri[i+1] == '/' && uri[i+2] == '/' {
			return uri[:i], uri[i+3:], nil
		}
	}
	return "", "", librpc.WithStack(errors.Errorf("transport: %q is not a scheme://address URI", uri))
}

func init() {
	Register("loopback", dialLoopback, bindLoopback)
	Register("unix", dialUnix, bindUnix)
	Register("tcp", dialTCP, bindTCP)
	Register("ws", dialWebsocket, bindWebsocket)
}
