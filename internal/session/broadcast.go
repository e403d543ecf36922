package session

import "sync"

const subscriberBuffer = 32

type subscriber struct {
	ch chan Event
}

// broadcaster fans events out to subscribers in publish order.
type broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
}

func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs == nil {
		b.subs = make(map[int]*subscriber)
	}
	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	b.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(sub.ch)
		})
	}
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		deliver(sub.ch, ev)
	}
}

// deliver never blocks: a full buffer loses its oldest event.
// publish is the only sender, so the retry after eviction succeeds.
func deliver(ch chan Event, ev Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
