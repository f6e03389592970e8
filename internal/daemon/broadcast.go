package daemon

import (
	"sync"

	"github.com/1broseidon/xgrabkey/internal/ipc"
)

const subscriberBuffer = 32

// broadcaster fans fired hotkeys out to IPC subscribers. Slow subscribers
// lose events rather than stall the daemon.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan ipc.EventData
	next   int
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan ipc.EventData)}
}

func (b *broadcaster) subscribe() (<-chan ipc.EventData, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan ipc.EventData, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.next
	b.next++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// publish reports how many subscribers missed ev.
func (b *broadcaster) publish(ev ipc.EventData) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			dropped++
		}
	}
	return dropped
}

func (b *broadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
