package kafkaconsumer

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultDedupeSize = 4096

// eventDedupe remembers the newest applied event timestamp per key so
// redelivered or out-of-order events are not applied twice. Recording is
// separate from checking: an event is recorded only after it took effect,
// so a failed apply stays eligible for retry.
type eventDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, int64]
}

func newEventDedupe(size int) *eventDedupe {
	if size <= 0 {
		size = defaultDedupeSize
	}
	c, err := lru.New[string, int64](size)
	if err != nil {
		panic(err)
	}
	return &eventDedupe{lru: c}
}

// stale reports whether an event at ts is a duplicate of, or older than,
// the last applied event for key.
func (d *eventDedupe) stale(key string, ts int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lru.Get(key)
	return ok && ts <= last
}

// applied records that the event at ts took effect.
func (d *eventDedupe) applied(key string, ts int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Get(key); ok && ts <= last {
		return
	}
	d.lru.Add(key, ts)
}
