package rpc

import (
	"sync"

	"github.com/jceel/librpc"
	"github.com/jceel/librpc/value"
)

// eventBus tracks this Connection's event subscriptions in both
// directions and serializes delivery to local subscribers through one
// worker goroutine, grounded on storage/queue/queue.go's
// wake-channel+worker-loop idiom (here a plain queue channel plays the
// wake channel's role, since delivery has no timestamp to wait on) and
// juicemud.Set[K] for the peer-interest refcount-as-membership table.
type eventBus struct {
	conn *Connection

	mu             sync.Mutex
	localSubs      map[string][]chan *value.Value
	peerSubscribed librpc.Set[string]

	queue chan queuedEvent
	done  chan struct{}
	wg    sync.WaitGroup
}

type queuedEvent struct {
	topic string
	args  *value.Value
	// poison is set on the shutdown sentinel; the worker exits instead
	// of delivering it.
	poison bool
}

// Event pairs a topic with its payload — the shape one element of
// events/event_burst.args takes (spec.md §4.F/§6: "enqueue each element
// of an array as an event"), each shaped like a single events/event.args.
type Event struct {
	Topic string
	Args  *value.Value
}

func newEventBus(conn *Connection) *eventBus {
	b := &eventBus{
		conn:           conn,
		localSubs:      map[string][]chan *value.Value{},
		peerSubscribed: librpc.Set[string]{},
		queue:          make(chan queuedEvent, 64),
		done:           make(chan struct{}),
	}
	b.wg.Add(1)
	go b.worker()
	return b
}

func (b *eventBus) worker() {
	defer b.wg.Done()
	for ev := range b.queue {
		if ev.poison {
			return
		}
		b.mu.Lock()
		subs := append([]chan *value.Value(nil), b.localSubs[ev.topic]...)
		b.mu.Unlock()
		for _, ch := range subs {
			select {
			case ch <- ev.args:
			default: // a slow subscriber never blocks event delivery to others
			}
		}
	}
}

func (b *eventBus) shutdown() {
	select {
	case <-b.done:
		return
	default:
		close(b.done)
	}
	b.queue <- queuedEvent{poison: true}
	b.wg.Wait()
}

// Subscribe registers interest in topic, returning a channel of
// incoming event payloads and an unsubscribe func. The first
// subscriber for a topic triggers a "subscribe" frame to the peer; the
// last unsubscribe triggers "unsubscribe" — the 0↔1 wire-edge model
// from spec.md §4.F.
func (c *Connection) Subscribe(topic string) (<-chan *value.Value, func(), error) {
	b := c.events
	ch := make(chan *value.Value, 16)

	b.mu.Lock()
	existing := len(b.localSubs[topic])
	b.localSubs[topic] = append(b.localSubs[topic], ch)
	b.mu.Unlock()

	if existing == 0 {
		if err := c.writeMessage(&message{Kind: kindSubscribe, Args: nameArrayArgs(topic)}); err != nil {
			return nil, nil, err
		}
	}

	unsubscribe := func() {
		b.mu.Lock()
		subs := b.localSubs[topic]
		for i, s := range subs {
			if s == ch {
				subs = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		b.localSubs[topic] = subs
		remaining := len(subs)
		b.mu.Unlock()
		if remaining == 0 {
			c.writeMessage(&message{Kind: kindUnsubscribe, Args: nameArrayArgs(topic)})
		}
	}
	return ch, unsubscribe, nil
}

// Publish emits an event under topic: local subscribers receive it
// immediately, and if the peer has subscribed to topic it also
// receives an "event" frame.
func (c *Connection) Publish(topic string, args *value.Value) error {
	c.events.queue <- queuedEvent{topic: topic, args: args}
	c.events.mu.Lock()
	interested := c.events.peerSubscribed.Has(topic)
	c.events.mu.Unlock()
	if interested {
		return c.writeMessage(&message{Kind: kindEvent, Args: eventArgs(topic, args)})
	}
	return nil
}

// PublishBurst emits a batch of events in a single events/event_burst
// frame (spec.md §4.F/§6). Every event is enqueued to local subscribers
// exactly as Publish would; the peer only receives the frame, and only
// the events within it it's subscribed to, so a burst with nothing the
// peer wants never crosses the wire.
func (c *Connection) PublishBurst(events []Event) error {
	for _, ev := range events {
		c.events.queue <- queuedEvent{topic: ev.Topic, args: ev.Args}
	}
	c.events.mu.Lock()
	var remote []Event
	for _, ev := range events {
		if c.events.peerSubscribed.Has(ev.Topic) {
			remote = append(remote, ev)
		}
	}
	c.events.mu.Unlock()
	if len(remote) == 0 {
		return nil
	}
	return c.writeMessage(&message{Kind: kindEventBurst, Args: eventBurstArgs(remote)})
}

func (b *eventBus) onSubscribeBatch(topics []string) {
	b.mu.Lock()
	for _, topic := range topics {
		b.peerSubscribed.Set(topic)
	}
	b.mu.Unlock()
}

func (b *eventBus) onUnsubscribeBatch(topics []string) {
	b.mu.Lock()
	for _, topic := range topics {
		b.peerSubscribed.Del(topic)
	}
	b.mu.Unlock()
}

func (b *eventBus) deliverRemote(topic string, args *value.Value) {
	b.queue <- queuedEvent{topic: topic, args: args}
}
