package camera

import "sync"

// broadcaster fans encoded frames out to stream viewers. Each viewer holds
// at most one pending frame; a slow viewer only ever sees the newest one.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan []byte
	next   int
	latest []byte
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan []byte)}
}

// subscribe registers a viewer. The returned func detaches it and is safe to
// call more than once.
func (b *broadcaster) subscribe() (<-chan []byte, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan []byte, 1)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	if b.latest != nil {
		ch <- b.latest
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *broadcaster) publish(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.latest = frame
	for _, ch := range b.subs {
		select {
		case ch <- frame:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- frame:
		default:
		}
	}
}

func (b *broadcaster) viewers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// close ends every subscription. Viewers drain a pending frame and then see
// the channel closed.
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
