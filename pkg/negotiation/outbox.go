package negotiation

import "sync"

// outbox runs queued sends one by one in the order they were queued.
type outbox struct {
	mu      sync.Mutex
	q       []func()
	running bool
}

func (o *outbox) do(fn func()) {
	o.mu.Lock()
	o.q = append(o.q, fn)
	if o.running {
		o.mu.Unlock()
		return
	}
	o.running = true
	o.mu.Unlock()
	go o.run()
}

func (o *outbox) run() {
	for {
		o.mu.Lock()
		if len(o.q) == 0 {
			o.running = false
			o.mu.Unlock()
			return
		}
		fn := o.q[0]
		o.q[0] = nil
		o.q = o.q[1:]
		o.mu.Unlock()
		fn()
	}
}

func (o *outbox) clear() { o.mu.Lock(); o.q = nil; o.mu.Unlock() }
