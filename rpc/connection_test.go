package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/jceel/librpc/transport"
	"github.com/jceel/librpc/value"
)

// pairedConnections dials and accepts a loopback transport.Conn pair and
// wraps each in a Connection, serving both in the background. The
// returned cleanup stops serving and closes both sides.
func pairedConnections(t *testing.T, addr, serializer string) (client, server *Connection, cleanup func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	ln, err := transport.Listen(ctx, "loopback://"+addr)
	if err != nil {
		t.Fatal(err)
	}

	accepted := make(chan transport.Conn, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		if err != nil {
			return
		}
		accepted <- conn
	}()

	clientConn, err := transport.Dial(ctx, "loopback://"+addr)
	if err != nil {
		t.Fatal(err)
	}
	serverConn := <-accepted

	client, err = NewConnection(clientConn, serializer)
	if err != nil {
		t.Fatal(err)
	}
	server, err = NewConnection(serverConn, serializer)
	if err != nil {
		t.Fatal(err)
	}

	go client.Serve(ctx)
	go server.Serve(ctx)

	cleanup = func() {
		cancel()
		client.Close()
		server.Close()
		ln.Close()
	}
	return client, server, cleanup
}

func TestSyncCall(t *testing.T) {
	client, server, cleanup := pairedConnections(t, "sync-call", "json")
	defer cleanup()

	server.Register("calc", "add", func(_ context.Context, call *InboundCall, args *value.Value) {
		sum := args.Get(0).Int64() + args.Get(1).Int64()
		call.SendDone(value.NewInt64(sum))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := client.Call(ctx, "calc", "add", value.NewArray(value.NewInt64(2), value.NewInt64(3)))
	if err != nil {
		t.Fatal(err)
	}
	if result.Int64() != 5 {
		t.Fatalf("expected 5, got %d", result.Int64())
	}
}

func TestSyncCallMethodNotFound(t *testing.T) {
	client, _, cleanup := pairedConnections(t, "missing-method", "json")
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := client.Call(ctx, "nope", "nope", value.NewNull())
	if err == nil {
		t.Fatal("expected an error for an unregistered method")
	}
	if CodeOf(err) != ErrorMethodNotFound {
		t.Fatalf("expected ErrorMethodNotFound, got %v", CodeOf(err))
	}
}

func TestStreamingCall(t *testing.T) {
	client, server, cleanup := pairedConnections(t, "streaming-call", "json")
	defer cleanup()

	server.Register("counter", "count_to", func(_ context.Context, call *InboundCall, args *value.Value) {
		n := args.Int64()
		for i := int64(1); i <= n; i++ {
			call.SendMore(value.NewInt64(i))
		}
		call.SendDone(value.NewInt64(n))
	})

	oc, err := client.CallStreaming("counter", "count_to", value.NewInt64(3))
	if err != nil {
		t.Fatal(err)
	}

	var fragments []int64
	for {
		state, last, err := oc.Continue(false)
		if err != nil {
			t.Fatal(err)
		}
		switch state {
		case MoreAvailable:
			fragments = append(fragments, last.Int64())
		case Done:
			fragments = append(fragments, last.Int64())
			goto done
		case CallError, Aborted:
			t.Fatalf("unexpected terminal state %v", state)
		}
	}
done:
	if len(fragments) != 4 {
		t.Fatalf("expected 4 fragments (3 more + 1 done), got %v", fragments)
	}
	for i, want := range []int64{1, 2, 3, 3} {
		if fragments[i] != want {
			t.Errorf("fragment %d: expected %d, got %d", i, want, fragments[i])
		}
	}
}

func TestCallTimeout(t *testing.T) {
	client, server, cleanup := pairedConnections(t, "call-timeout", "json")
	defer cleanup()

	blockForever := make(chan struct{})
	defer close(blockForever)
	server.Register("slow", "wait", func(_ context.Context, call *InboundCall, _ *value.Value) {
		<-blockForever
	})

	oc, err := client.CallStreamingWithTimeout("slow", "wait", value.NewNull(), 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	state, _, err := oc.Continue(false)
	if state != CallError {
		t.Fatalf("expected CallError on timeout, got %v (err=%v)", state, err)
	}
	if CodeOf(err) != ErrorTimedOut {
		t.Fatalf("expected ErrorTimedOut, got %v", CodeOf(err))
	}
}

func TestCallAbort(t *testing.T) {
	client, server, cleanup := pairedConnections(t, "call-abort", "json")
	defer cleanup()

	cancelled := make(chan struct{})
	server.Register("slow", "wait_for_cancel", func(ctx context.Context, call *InboundCall, _ *value.Value) {
		<-ctx.Done()
		close(cancelled)
	})

	oc, err := client.CallStreaming("slow", "wait_for_cancel", value.NewNull())
	if err != nil {
		t.Fatal(err)
	}
	if err := oc.Abort(); err != nil {
		t.Fatal(err)
	}

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler context was never cancelled after Abort")
	}
}

func TestPublishSubscribe(t *testing.T) {
	client, server, cleanup := pairedConnections(t, "pub-sub", "json")
	defer cleanup()

	events, unsubscribe, err := client.Subscribe("ticks")
	if err != nil {
		t.Fatal(err)
	}
	defer unsubscribe()

	// give the subscribe frame time to reach the server and register.
	time.Sleep(50 * time.Millisecond)

	if err := server.Publish("ticks", value.NewInt64(42)); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		if ev.Int64() != 42 {
			t.Fatalf("expected 42, got %d", ev.Int64())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the published event")
	}
}

func TestObservableGetSet(t *testing.T) {
	client, server, cleanup := pairedConnections(t, "observable", "json")
	defer cleanup()

	var stored int64 = 7
	server.RegisterObservable("config", "level",
		func(_ context.Context) (*value.Value, error) {
			return value.NewInt64(stored), nil
		},
		func(_ context.Context, v *value.Value) error {
			stored = v.Int64()
			return nil
		})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := client.Call(ctx, "config", "level.get", value.NewNull())
	if err != nil {
		t.Fatal(err)
	}
	if got.Int64() != 7 {
		t.Fatalf("expected 7, got %d", got.Int64())
	}

	if _, err := client.Call(ctx, "config", "level.set", value.NewInt64(9)); err != nil {
		t.Fatal(err)
	}
	if stored != 9 {
		t.Fatalf("expected set handler to update stored value to 9, got %d", stored)
	}
}

func TestObservableSetMissingIsMethodNotFound(t *testing.T) {
	client, server, cleanup := pairedConnections(t, "observable-readonly", "json")
	defer cleanup()

	server.RegisterObservable("config", "level",
		func(_ context.Context) (*value.Value, error) { return value.NewInt64(1), nil },
		nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := client.Call(ctx, "config", "level.set", value.NewInt64(2))
	if CodeOf(err) != ErrorMethodNotFound {
		t.Fatalf("expected ErrorMethodNotFound for an unregistered setter, got %v", err)
	}
}

func TestDiscoverableGetInterfaces(t *testing.T) {
	client, server, cleanup := pairedConnections(t, "discoverable", "json")
	defer cleanup()

	server.Register("calc", "add", func(_ context.Context, call *InboundCall, _ *value.Value) {
		call.SendDone(value.NewNull())
	})
	server.RegisterDiscoverable()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := client.Call(ctx, DiscoverableNamespace, "get_interfaces", value.NewString(""))
	if err != nil {
		t.Fatal(err)
	}
	found := false
	result.ApplyArray(func(_ int, e *value.Value) bool {
		if e.Str() == "calc" {
			found = true
		}
		return true
	})
	if !found {
		t.Fatalf("expected get_interfaces to include calc, got %s", value.Describe(result))
	}
}

func TestEventBurst(t *testing.T) {
	client, server, cleanup := pairedConnections(t, "event-burst", "json")
	defer cleanup()

	ticks, unsubTicks, err := client.Subscribe("ticks")
	if err != nil {
		t.Fatal(err)
	}
	defer unsubTicks()
	tocks, unsubTocks, err := client.Subscribe("tocks")
	if err != nil {
		t.Fatal(err)
	}
	defer unsubTocks()

	time.Sleep(50 * time.Millisecond)

	if err := server.PublishBurst([]Event{
		{Topic: "ticks", Args: value.NewInt64(1)},
		{Topic: "tocks", Args: value.NewInt64(2)},
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-ticks:
		if ev.Int64() != 1 {
			t.Fatalf("expected 1 on ticks, got %d", ev.Int64())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ticks subscriber never received its burst event")
	}
	select {
	case ev := <-tocks:
		if ev.Int64() != 2 {
			t.Fatalf("expected 2 on tocks, got %d", ev.Int64())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tocks subscriber never received its burst event")
	}
}
