// Command rpcshell is an interactive debug client: it dials a transport
// URI, drops into a line-editing prompt, and lets an operator issue
// calls, streaming calls and subscriptions by typing them. Grounded on
// termio/termio.go's "print a prompt, ReadLine, dispatch" idiom (moved
// from golang.org/x/crypto/ssh/terminal, which only makes sense wrapping
// an SSH session, to golang.org/x/term wrapping the shell's own stdin),
// with tabular introspection output via github.com/rodaine/table in
// place of that idiom's plain fmt.Fprintf listing.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rodaine/table"
	"golang.org/x/term"

	"github.com/jceel/librpc"
	"github.com/jceel/librpc/codec"
	"github.com/jceel/librpc/rpc"
	"github.com/jceel/librpc/transport"
	"github.com/jceel/librpc/value"
)

func main() {
	connectFlag := flag.String("connect", "loopback://rpcserver", "scheme://address URI to dial")
	codecFlag := flag.String("codec", "json", "wire codec: json, yaml, msgpack or benc")

	flag.Parse()

	ctx := librpc.MakeMainContext(context.Background())

	serializer, ok := codec.Get(*codecFlag)
	if !ok {
		log.Fatalf("unknown codec %q", *codecFlag)
	}

	conn, err := transport.Dial(ctx, *connectFlag)
	if err != nil {
		log.Fatalf("dialing %q: %v", *connectFlag, err)
	}
	defer conn.Close()

	c, err := rpc.NewConnection(conn, *codecFlag)
	if err != nil {
		log.Fatalf("wrapping connection: %v", err)
	}
	go c.Serve(ctx)

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		log.Fatalf("putting stdin in raw mode: %v", err)
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	screen := struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}
	t := term.NewTerminal(screen, "rpc> ")
	fmt.Fprintf(t, "connected to %s (%s)\r\ntype \"help\" for commands\r\n", *connectFlag, *codecFlag)

	sh := &shell{term: t, conn: c, serializer: serializer}
	for {
		line, err := t.ReadLine()
		if err != nil {
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !sh.dispatch(ctx, line) {
			return
		}
	}
}

type shell struct {
	term       *term.Terminal
	conn       *rpc.Connection
	serializer codec.Serializer
}

func (sh *shell) dispatch(ctx context.Context, line string) (keepGoing bool) {
	fields := strings.SplitN(strings.TrimSpace(line), " ", 2)
	cmd := fields[0]
	rest := ""
	if len(fields) > 1 {
		rest = fields[1]
	}

	switch cmd {
	case "help":
		sh.help()
	case "quit", "exit":
		return false
	case "methods":
		sh.methods(ctx, rest)
	case "call":
		sh.call(ctx, rest)
	case "stream":
		sh.stream(ctx, rest)
	case "subscribe":
		sh.subscribe(ctx, rest)
	default:
		fmt.Fprintf(sh.term, "unknown command %q, type \"help\"\r\n", cmd)
	}
	return true
}

func (sh *shell) help() {
	fmt.Fprint(sh.term, ""+
		"call NAMESPACE.METHOD [JSON-ARGS]       synchronous call\r\n"+
		"stream NAMESPACE.METHOD [JSON-ARGS]     streaming call, prints each fragment\r\n"+
		"subscribe NAME                          print published events until ctrl-c\r\n"+
		"methods [PATH]                          list interfaces (via Discoverable.get_interfaces)\r\n"+
		"quit                                    leave the shell\r\n")
}

// parseTarget splits "namespace.method" and decodes the remainder with
// the shell's serializer, defaulting to an empty array when omitted.
func (sh *shell) parseTarget(rest string) (namespace, method string, args *value.Value, err error) {
	fields := strings.SplitN(rest, " ", 2)
	target := fields[0]
	dot := strings.IndexByte(target, '.')
	if dot < 0 {
		return "", "", nil, fmt.Errorf("expected NAMESPACE.METHOD, got %q", target)
	}
	namespace, method = target[:dot], target[dot+1:]

	if len(fields) < 2 || strings.TrimSpace(fields[1]) == "" {
		return namespace, method, value.NewArray(), nil
	}
	args, err = sh.serializer.Deserialize([]byte(strings.TrimSpace(fields[1])))
	return namespace, method, args, err
}

func (sh *shell) call(ctx context.Context, rest string) {
	namespace, method, args, err := sh.parseTarget(rest)
	if err != nil {
		fmt.Fprintf(sh.term, "error: %v\r\n", err)
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	result, err := sh.conn.Call(callCtx, namespace, method, args)
	if err != nil {
		fmt.Fprintf(sh.term, "error: %v\r\n", err)
		return
	}
	fmt.Fprintf(sh.term, "%s\r\n", value.Describe(result))
}

func (sh *shell) stream(ctx context.Context, rest string) {
	namespace, method, args, err := sh.parseTarget(rest)
	if err != nil {
		fmt.Fprintf(sh.term, "error: %v\r\n", err)
		return
	}
	oc, err := sh.conn.CallStreaming(namespace, method, args)
	if err != nil {
		fmt.Fprintf(sh.term, "error: %v\r\n", err)
		return
	}
	for {
		state, fragment, err := oc.Continue(false)
		if err != nil {
			fmt.Fprintf(sh.term, "error: %v\r\n", err)
			return
		}
		switch state {
		case rpc.MoreAvailable:
			fmt.Fprintf(sh.term, "+ %s\r\n", value.Describe(fragment))
		case rpc.Done:
			fmt.Fprintf(sh.term, "= %s\r\n", value.Describe(fragment))
			return
		case rpc.CallError:
			fmt.Fprintf(sh.term, "error: %v\r\n", err)
			return
		case rpc.Aborted:
			fmt.Fprintf(sh.term, "aborted\r\n")
			return
		}
	}
}

func (sh *shell) subscribe(ctx context.Context, name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		fmt.Fprint(sh.term, "usage: subscribe NAME\r\n")
		return
	}
	events, unsubscribe, err := sh.conn.Subscribe(name)
	if err != nil {
		fmt.Fprintf(sh.term, "error: %v\r\n", err)
		return
	}
	fmt.Fprintf(sh.term, "subscribed to %q, ctrl-c to stop\r\n", name)
	defer unsubscribe()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				fmt.Fprint(sh.term, "subscription closed\r\n")
				return
			}
			fmt.Fprintf(sh.term, "event %s\r\n", value.Describe(ev))
		case <-ctx.Done():
			return
		}
	}
}

func (sh *shell) methods(ctx context.Context, path string) {
	path = strings.TrimSpace(path)
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	result, err := sh.conn.Call(callCtx, rpc.DiscoverableNamespace, "get_interfaces", value.NewString(path))
	if err != nil {
		fmt.Fprintf(sh.term, "error: %v\r\n", err)
		return
	}

	var interfaces []string
	result.ApplyArray(func(_ int, e *value.Value) bool {
		interfaces = append(interfaces, e.Str())
		return true
	})
	sort.Strings(interfaces)

	tbl := table.New("Interface")
	for _, i := range interfaces {
		tbl.AddRow(i)
	}

	var b strings.Builder
	tbl.WithWriter(&b).Print()
	fmt.Fprint(sh.term, strings.ReplaceAll(b.String(), "\n", "\r\n"))
}
