package transport

import (
	"context"
	"net"

	"github.com/jceel/librpc"
)

// tcp is stdlib net only: no pack library frames raw TCP better than
// net.TCPConn plus the frame layer's own length-prefixed envelope, and
// every example repo that does TCP (erigon, moby) layers an RPC/HTTP
// framework directly over net.Conn, which is exactly the role this
// package itself plays.

type tcpConn struct {
	*net.TCPConn
}

func (c *tcpConn) LocalAddr() string  { return c.TCPConn.LocalAddr().String() }
func (c *tcpConn) RemoteAddr() string { return c.TCPConn.RemoteAddr().String() }
func (c *tcpConn) PeerCredentials() (PeerCredentials, error) {
	return PeerCredentials{}, ErrUnsupported
}
func (c *tcpConn) SendFd(int) error     { return ErrUnsupported }
func (c *tcpConn) RecvFd() (int, error) { return 0, ErrUnsupported }

func dialTCP(ctx context.Context, uri string) (Conn, error) {
	_, addr, err := splitURI(uri)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, librpc.WithStack(err)
	}
	return &tcpConn{TCPConn: conn.(*net.TCPConn)}, nil
}

type tcpListener struct {
	ln *net.TCPListener
}

func bindTCP(_ context.Context, uri string) (Listener, error) {
	_, addr, err := splitURI(uri)
	if err != nil {
		return nil, err
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, librpc.WithStack(err)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, librpc.WithStack(err)
	}
	return &tcpListener{ln: ln}, nil
}

func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	type result struct {
		conn *net.TCPConn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := l.ln.Accept()
		if err != nil {
			ch <- result{err: err}
			return
		}
		ch <- result{conn: c.(*net.TCPConn)}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, librpc.WithStack(r.err)
		}
		return &tcpConn{TCPConn: r.conn}, nil
	case <-ctx.Done():
		l.ln.Close()
		return nil, librpc.WithStack(ctx.Err())
	}
}

func (l *tcpListener) Close() error { return l.ln.Close() }
func (l *tcpListener) Addr() string { return "tcp://" + l.ln.Addr().String() }
