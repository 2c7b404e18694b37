package cache

import "sort"

// EventKind identifies what happened to the cache.
type EventKind int

const (
	// EventUpdated is published after a key was stored.
	EventUpdated EventKind = iota
	// EventRemoved is published after a key left the cache.
	EventRemoved
	// EventCleared is published after Clear.
	EventCleared
)

func (k EventKind) String() string {
	switch k {
	case EventUpdated:
		return "updated"
	case EventRemoved:
		return "removed"
	case EventCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// RemovalReason explains an EventRemoved.
type RemovalReason int

const (
	ReasonNone RemovalReason = iota
	// ReasonRemoved is an explicit Remove.
	ReasonRemoved
	// ReasonExpired is a TTL expiry, found by a sweep or lazily by Get.
	ReasonExpired
	// ReasonEvicted is a capacity eviction.
	ReasonEvicted
	// ReasonRejected is a Set whose value fit neither tier; the previous
	// value for the key was dropped.
	ReasonRejected
	// ReasonCorrupted is a disk record that could not be read back.
	ReasonCorrupted
)

func (r RemovalReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonRemoved:
		return "removed"
	case ReasonExpired:
		return "expired"
	case ReasonEvicted:
		return "evicted"
	case ReasonRejected:
		return "rejected"
	case ReasonCorrupted:
		return "corrupted"
	default:
		return "unknown"
	}
}

// Event is delivered to observers after the operation that caused it has
// released the cache lock.
type Event struct {
	Kind   EventKind
	Key    string
	Reason RemovalReason
}

// Observer receives cache events. Observers run synchronously on the
// goroutine that performed the operation and may call back into the Manager.
// A panicking observer is recovered and logged.
type Observer func(Event)

// Subscribe registers fn and returns a function that unregisters it.
//
// Observers invoked from the background sweep must not call
// SetCleanupInterval or Close, which wait for the sweep to finish.
func (m *Manager) Subscribe(fn Observer) func() {
	if fn == nil {
		return func() {}
	}
	m.obsMu.Lock()
	id := m.nextObserver
	m.nextObserver++
	m.observers[id] = fn
	m.obsMu.Unlock()
	return func() {
		m.obsMu.Lock()
		delete(m.observers, id)
		m.obsMu.Unlock()
	}
}

func (m *Manager) emit(kind EventKind, key string, reason RemovalReason) {
	m.pending = append(m.pending, Event{Kind: kind, Key: key, Reason: reason})
}

// unlock releases the write lock and then publishes the events queued while
// it was held.
func (m *Manager) unlock() {
	events := m.pending
	m.pending = nil
	m.mu.Unlock()
	m.publish(events)
}

func (m *Manager) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	m.obsMu.Lock()
	ids := make([]uint64, 0, len(m.observers))
	for id := range m.observers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	observers := make([]Observer, len(ids))
	for i, id := range ids {
		observers[i] = m.observers[id]
	}
	m.obsMu.Unlock()

	for _, ev := range events {
		for _, fn := range observers {
			m.notify(fn, ev)
		}
	}
}

func (m *Manager) notify(fn Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("observer panicked on %s event for %q: %v", ev.Kind, ev.Key, r)
		}
	}()
	fn(ev)
}
