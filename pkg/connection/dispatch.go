package connection

import "sync"

// dispatcher queues status changes and delivers them to observers in
// enqueue order. Delivery happens on whichever goroutine calls flush, after
// it has released the machine lock. Only one goroutine delivers at a time,
// so observers are never called concurrently.
type dispatcher struct {
	mu         sync.Mutex
	observers  []func(StatusChange)
	queue      []StatusChange
	delivering bool
}

func (d *dispatcher) subscribe(fn func(StatusChange)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, fn)
}

func (d *dispatcher) enqueue(c StatusChange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, c)
}

// flush delivers queued changes until the queue is empty. If another call
// is already delivering, including one further up the calling observer's
// stack, flush returns at once and that call delivers the rest.
func (d *dispatcher) flush() {
	d.mu.Lock()
	if d.delivering {
		d.mu.Unlock()
		return
	}
	d.delivering = true
	for len(d.queue) > 0 {
		c := d.queue[0]
		d.queue = d.queue[1:]
		observers := d.observers
		d.mu.Unlock()

		for _, fn := range observers {
			fn(c)
		}

		d.mu.Lock()
	}
	d.delivering = false
	d.mu.Unlock()
}
