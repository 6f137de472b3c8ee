package transport

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/jceel/librpc"
)

// websocket is grounded on AKJUS-bsc-erigon and orbas1-Synnergy's
// go.mod, both of which carry github.com/gorilla/websocket — the
// transport a browser-facing rpcshell or a firewall-constrained peer
// uses instead of a raw TCP/unix socket.

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsConn adapts gorilla's message-oriented *websocket.Conn to the
// byte-stream io.Reader/io.Writer that Conn requires: each Write call
// is one binary message, and Read drains messages into a carry-over
// buffer so short reads never lose a partial message.
type wsConn struct {
	ws    *websocket.Conn
	mu    sync.Mutex // protects writes, required by gorilla for concurrent senders
	carry []byte
}

func (c *wsConn) Read(p []byte) (int, error) {
	for len(c.carry) == 0 {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return 0, librpc.WithStack(err)
		}
		c.carry = data
	}
	n := copy(p, c.carry)
	c.carry = c.carry[n:]
	return n, nil
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, librpc.WithStack(err)
	}
	return len(p), nil
}

func (c *wsConn) Close() error { return c.ws.Close() }

func (c *wsConn) LocalAddr() string  { return c.ws.LocalAddr().String() }
func (c *wsConn) RemoteAddr() string { return c.ws.RemoteAddr().String() }
func (c *wsConn) PeerCredentials() (PeerCredentials, error) {
	return PeerCredentials{}, ErrUnsupported
}
func (c *wsConn) SendFd(int) error     { return ErrUnsupported }
func (c *wsConn) RecvFd() (int, error) { return 0, ErrUnsupported }

func dialWebsocket(ctx context.Context, uri string) (Conn, error) {
	_, addr, err := splitURI(uri)
	if err != nil {
		return nil, err
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, "ws://"+addr, nil)
	if err != nil {
		return nil, librpc.WithStack(err)
	}
	return &wsConn{ws: ws}, nil
}

// wsListener bridges net/http's connection model to the Listener
// interface: an http.Server runs in the background and hands each
// upgraded connection to Accept over a channel.
type wsListener struct {
	addr     string
	srv      *http.Server
	ln       net.Listener
	accepted chan *wsConn
	errs     chan error
}

func bindWebsocket(_ context.Context, uri string) (Listener, error) {
	_, addr, err := splitURI(uri)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, librpc.WithStack(err)
	}
	l := &wsListener{
		addr:     addr,
		ln:       ln,
		accepted: make(chan *wsConn),
		errs:     make(chan error, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ws, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		l.accepted <- &wsConn{ws: ws}
	})
	l.srv = &http.Server{Handler: mux}
	go func() {
		l.errs <- l.srv.Serve(ln)
	}()
	return l, nil
}

func (l *wsListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.accepted:
		return c, nil
	case err := <-l.errs:
		return nil, librpc.WithStack(err)
	case <-ctx.Done():
		return nil, librpc.WithStack(ctx.Err())
	}
}

func (l *wsListener) Close() error {
	return librpc.WithStack(l.srv.Close())
}

func (l *wsListener) Addr() string { return "ws://" + l.ln.Addr().String() }
