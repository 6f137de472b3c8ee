// Command rpcserver listens on one or more transport URIs and serves
// every accepted connection with a small example method registry,
// optionally validated against an IDL schema. Grounded on
// server/server.go's flag-configured, WaitGroup-joined multi-listener
// bootstrap, generalized from SSH/HTTPS/HTTP to the transport registry.
package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"sync"

	"github.com/jceel/librpc"
	"github.com/jceel/librpc/idl"
	"github.com/jceel/librpc/rpc"
	"github.com/jceel/librpc/transport"
	"github.com/jceel/librpc/value"
)

func main() {
	listenFlag := flag.String("listen", "loopback://rpcserver",
		"comma-separated list of scheme://address URIs to listen on (loopback, unix, tcp, ws)")
	codecFlag := flag.String("codec", "json", "wire codec for accepted connections: json, yaml, msgpack or benc")
	schemaFlag := flag.String("schema", "", "optional IDL schema file; when set, example.add arguments are validated against its \"sum\" function, if declared")

	flag.Parse()

	ctx := librpc.MakeMainContext(context.Background())

	var realm *idl.Realm
	if *schemaFlag != "" {
		r, err := idl.Load(*schemaFlag)
		if err != nil {
			log.Fatalf("loading schema %q: %v", *schemaFlag, err)
		}
		realm = r
		log.Printf("loaded schema realm %q from %q", realm.Name, *schemaFlag)
	}

	addrs := strings.Split(*listenFlag, ",")
	var wg sync.WaitGroup
	for _, addr := range addrs {
		addr := strings.TrimSpace(addr)
		ln, err := transport.Listen(ctx, addr)
		if err != nil {
			log.Fatalf("listening on %q: %v", addr, err)
		}
		log.Printf("listening on %q", addr)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				conn, err := ln.Accept(ctx)
				if err != nil {
					log.Printf("accept on %q: %v", addr, err)
					return
				}
				go serve(ctx, conn, *codecFlag, realm)
			}
		}()
	}
	wg.Wait()
}

func serve(ctx context.Context, conn transport.Conn, codecName string, realm *idl.Realm) {
	defer conn.Close()

	c, err := rpc.NewConnection(conn, codecName)
	if err != nil {
		log.Printf("%s: %v", conn.RemoteAddr(), err)
		return
	}
	registerExampleMethods(c, realm)
	c.RegisterDiscoverable()

	if err := c.Serve(ctx); err != nil {
		log.Printf("%s: connection ended: %v", conn.RemoteAddr(), err)
	}
}

// registerExampleMethods wires a couple of demonstration methods: a
// plain echo, and an "add" method that sums its array arguments. When
// realm declares a "sum" function, add's arguments are validated
// against it before the handler runs; the return value is not checked.
func registerExampleMethods(c *rpc.Connection, realm *idl.Realm) {
	c.Register("example", "echo", func(_ context.Context, call *rpc.InboundCall, args *value.Value) {
		call.SendDone(args)
	})

	c.Register("example", "add", func(_ context.Context, call *rpc.InboundCall, args *value.Value) {
		if realm != nil {
			if fn, ok := idl.FindFunction(realm.Name, "sum"); ok {
				if err := idl.ValidateArgs(fn, args); err != nil {
					call.SendError(rpc.NewError(rpc.ErrorInvalidArguments, "%v", err))
					return
				}
			}
		}
		var total int64
		args.ApplyArray(func(_ int, e *value.Value) bool {
			total += e.Int64()
			return true
		})
		call.SendDone(value.NewInt64(total))
	})
}
