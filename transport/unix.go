package transport

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/jceel/librpc"
)

// unix is grounded on golang.org/x/sys/unix for SCM_RIGHTS ancillary
// fd passing and SO_PEERCRED credential lookup — x/sys is already an
// indirect teacher dependency (pulled in by the modernc.org/sqlite
// chain); this is its first direct use in this module.

type unixConn struct {
	*net.UnixConn
}

func (c *unixConn) LocalAddr() string  { return c.UnixConn.LocalAddr().String() }
func (c *unixConn) RemoteAddr() string { return c.UnixConn.RemoteAddr().String() }

func (c *unixConn) PeerCredentials() (PeerCredentials, error) {
	raw, err := c.UnixConn.SyscallConn()
	if err != nil {
		return PeerCredentials{}, librpc.WithStack(err)
	}
	var cred *unix.Ucred
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		cred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil {
		return PeerCredentials{}, librpc.WithStack(ctrlErr)
	}
	if sockErr != nil {
		return PeerCredentials{}, librpc.WithStack(sockErr)
	}
	return PeerCredentials{PID: cred.Pid, UID: cred.Uid, GID: cred.Gid}, nil
}

func (c *unixConn) SendFd(fd int) error {
	raw, err := c.UnixConn.SyscallConn()
	if err != nil {
		return librpc.WithStack(err)
	}
	rights := unix.UnixRights(fd)
	var sendErr error
	ctrlErr := raw.Control(func(sockFd uintptr) {
		sendErr = unix.Sendmsg(int(sockFd), nil, rights, nil, 0)
	})
	if ctrlErr != nil {
		return librpc.WithStack(ctrlErr)
	}
	return librpc.WithStack(sendErr)
}

func (c *unixConn) RecvFd() (int, error) {
	raw, err := c.UnixConn.SyscallConn()
	if err != nil {
		return -1, librpc.WithStack(err)
	}
	oob := make([]byte, unix.CmsgSpace(4))
	var n int
	var recvErr error
	ctrlErr := raw.Control(func(sockFd uintptr) {
		_, n, _, _, recvErr = unix.Recvmsg(int(sockFd), nil, oob, 0)
	})
	if ctrlErr != nil {
		return -1, librpc.WithStack(ctrlErr)
	}
	if recvErr != nil {
		return -1, librpc.WithStack(recvErr)
	}
	msgs, err := unix.ParseSocketControlMessage(oob[:n])
	if err != nil {
		return -1, librpc.WithStack(err)
	}
	for _, m := range msgs {
		fds, err := unix.ParseUnixRights(&m)
		if err != nil {
			continue
		}
		if len(fds) > 0 {
			return fds[0], nil
		}
	}
	return -1, librpc.WithStack(syscall.EINVAL)
}

func dialUnix(ctx context.Context, uri string) (Conn, error) {
	_, addr, err := splitURI(uri)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", addr)
	if err != nil {
		return nil, librpc.WithStack(err)
	}
	return &unixConn{UnixConn: conn.(*net.UnixConn)}, nil
}

type unixListener struct {
	ln *net.UnixListener
}

func bindUnix(_ context.Context, uri string) (Listener, error) {
	_, addr, err := splitURI(uri)
	if err != nil {
		return nil, err
	}
	unixAddr, err := net.ResolveUnixAddr("unix", addr)
	if err != nil {
		return nil, librpc.WithStack(err)
	}
	ln, err := net.ListenUnix("unix", unixAddr)
	if err != nil {
		return nil, librpc.WithStack(err)
	}
	return &unixListener{ln: ln}, nil
}

func (l *unixListener) Accept(ctx context.Context) (Conn, error) {
	type result struct {
		conn *net.UnixConn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := l.ln.AcceptUnix()
		ch <- result{conn: c, err: err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, librpc.WithStack(r.err)
		}
		return &unixConn{UnixConn: r.conn}, nil
	case <-ctx.Done():
		l.ln.Close()
		return nil, librpc.WithStack(ctx.Err())
	}
}

func (l *unixListener) Close() error { return l.ln.Close() }
func (l *unixListener) Addr() string { return "unix://" + l.ln.Addr().String() }
