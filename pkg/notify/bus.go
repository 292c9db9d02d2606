package notify

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/jstorage/pkg/log"
	"github.com/cuemby/jstorage/pkg/metrics"
	"github.com/cuemby/jstorage/pkg/types"
)

const dispatchQueueSize = 256

// Filter restricts a Listener to a subset of databases/tables. An empty
// table set for a database means "match all tables in that database".
type Filter map[string]map[string]bool

// Matches reports whether the filter admits events for database/table.
func (f Filter) Matches(database, table string) bool {
	tables, ok := f[database]
	if !ok {
		return false
	}
	if len(tables) == 0 {
		return true
	}
	return tables[table]
}

// Listener is a subscriber's handle onto the bus. Events and heartbeats
// arrive on an unbounded in-memory queue so a slow consumer
// never blocks the dispatcher.
type Listener struct {
	user   string
	filter Filter

	mu     sync.Mutex
	queue  []*types.MutationEvent
	signal chan struct{}
	closed bool
}

func newListener(user string, filter Filter) *Listener {
	return &Listener{
		user:   user,
		filter: filter,
		signal: make(chan struct{}, 1),
	}
}

func (l *Listener) offer(ev *types.MutationEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.queue = append(l.queue, ev)
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// Next blocks until an event (or heartbeat) is available or ctx is done.
func (l *Listener) Next(ctx context.Context) (*types.MutationEvent, error) {
	for {
		l.mu.Lock()
		if len(l.queue) > 0 {
			ev := l.queue[0]
			l.queue = l.queue[1:]
			l.mu.Unlock()
			return ev, nil
		}
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return nil, context.Canceled
		}

		select {
		case <-l.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close stops the listener from receiving further events.
func (l *Listener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

// Bus is JStorage's NotificationBus: a single dispatcher goroutine fanning
// published mutations out to registered Listeners.
type Bus struct {
	mu        sync.RWMutex
	listeners map[*Listener]bool

	queue    chan *types.MutationEvent
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	heartbeatInterval time.Duration
}

// New creates a Bus. Call Start to begin dispatching.
func New() *Bus {
	return &Bus{
		listeners:         make(map[*Listener]bool),
		queue:             make(chan *types.MutationEvent, dispatchQueueSize),
		stopCh:            make(chan struct{}),
		heartbeatInterval: 2 * time.Second,
	}
}

// Start begins the dispatcher and heartbeat goroutines.
func (b *Bus) Start() {
	b.wg.Add(2)
	go b.dispatchLoop()
	go b.heartbeatLoop()
}

// Stop cancels the dispatcher and heartbeat goroutines and waits for them
// to exit. Safe to call
// more than once.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	b.wg.Wait()
}

// Subscribe registers a new Listener. The returned handle must eventually
// be passed to Unsubscribe.
func (b *Bus) Subscribe(user string, filter Filter) *Listener {
	l := newListener(user, filter)
	b.mu.Lock()
	b.listeners[l] = true
	metrics.NotificationListenersTotal.Set(float64(len(b.listeners)))
	b.mu.Unlock()
	return l
}

// Unsubscribe removes and closes a Listener.
func (b *Bus) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	metrics.NotificationListenersTotal.Set(float64(len(b.listeners)))
	b.mu.Unlock()
	l.Close()
}

// Publish enqueues a mutation for dispatch. It blocks when the dispatcher
// queue is full, providing backpressure to the publisher.
func (b *Bus) Publish(ev *types.MutationEvent) {
	select {
	case b.queue <- ev:
	case <-b.stopCh:
	}
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()
	logger := log.WithComponent("notify")
	for {
		select {
		case ev := <-b.queue:
			b.broadcast(ev)
		case <-b.stopCh:
			logger.Info().Msg("notification bus dispatcher stopped")
			return
		}
	}
}

func (b *Bus) broadcast(ev *types.MutationEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for l := range b.listeners {
		if ev.Origin != "" && ev.Origin == l.user {
			continue // no self-notification
		}
		if !l.filter.Matches(ev.Database, ev.Table) {
			continue
		}
		l.offer(ev)
	}
	metrics.NotificationQueueDepth.Set(float64(len(b.queue)))
}

func (b *Bus) heartbeatLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hb := &types.MutationEvent{
				Kind:            types.MutationHeartbeat,
				TimestampMillis: time.Now().UnixNano() / int64(time.Millisecond),
			}
			b.mu.RLock()
			for l := range b.listeners {
				l.offer(hb) // heartbeats never self-filter, go to everyone
			}
			b.mu.RUnlock()
		case <-b.stopCh:
			return
		}
	}
}

// ListenerCount reports the number of currently registered listeners.
func (b *Bus) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
