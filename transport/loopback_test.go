package transport

import (
	"context"
	"testing"
	"time"
)

func TestLoopbackRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ln, err := Listen(ctx, "loopback://test-addr")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept(ctx)
		if err != nil {
			t.Error(err)
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		if _, err := conn.Read(buf); err != nil {
			t.Error(err)
			return
		}
		if string(buf) != "hello" {
			t.Errorf("server got %q", buf)
		}
		if _, err := conn.Write([]byte("world")); err != nil {
			t.Error(err)
		}
	}()

	client, err := Dial(ctx, "loopback://test-addr")
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 5)
	if _, err := client.Read(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "world" {
		t.Fatalf("client got %q", buf)
	}
	<-serverDone
}

func TestLoopbackCredentialsUnsupported(t *testing.T) {
	ctx := context.Background()
	ln, err := Listen(ctx, "loopback://creds-addr")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept(ctx)
		if err == nil {
			conn.Close()
		}
	}()

	client, err := Dial(ctx, "loopback://creds-addr")
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if _, err := client.PeerCredentials(); err != ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestDialUnknownScheme(t *testing.T) {
	if _, err := Dial(context.Background(), "carrier-pigeon://nowhere"); err == nil {
		t.Fatal("expected an error for an unregistered scheme")
	}
}

func TestSchemesIncludesBuiltins(t *testing.T) {
	schemes := map[string]bool{}
	for _, s := range Schemes() {
		schemes[s] = true
	}
	for _, want := range []string{"loopback", "unix", "tcp", "ws"} {
		if !schemes[want] {
			t.Errorf("expected scheme %q to be registered", want)
		}
	}
}
