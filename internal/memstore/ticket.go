package memstore

import (
	"container/list"
	"sync"
	"time"
)

// ticketEntry is the payload stored per outstanding reservation.
type ticketEntry struct {
	id        uint64
	size      int64
	appID     string
	createdAt time.Time
}

// TicketManager keeps the live tickets and reclaims their bytes on TTL
// expiry or explicit release. Every ticket shares the same TTL, so
// insertion order is also expiry order: a FIFO list lets the reaper stop at
// the first live ticket instead of scanning the whole map, giving the
// required O(#expired) scan.
type TicketManager struct {
	mu      sync.Mutex
	byID    map[uint64]*list.Element // -> *ticketEntry
	order   *list.List               // oldest first
	nextID  uint64
	ttl     time.Duration
	onExpire func(appID string, size int64)

	stop chan struct{}
	done chan struct{}
}

// NewTicketManager constructs a manager with the given TTL. onExpire is
// called once per reclaimed ticket (used to release its bytes back to the
// Budget); it must not block.
func NewTicketManager(ttl time.Duration, onExpire func(appID string, size int64)) *TicketManager {
	return &TicketManager{
		byID:     make(map[uint64]*list.Element),
		order:    list.New(),
		ttl:      ttl,
		onExpire: onExpire,
	}
}

// Insert records a new ticket for appID and size, returning a fresh id.
func (m *TicketManager) Insert(size int64, appID string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID

	entry := &ticketEntry{id: id, size: size, appID: appID, createdAt: time.Now()}
	m.byID[id] = m.order.PushBack(entry)

	return id
}

// Delete removes a ticket by id and returns its size. ok is false if the
// ticket was already gone (expired, released, or never existed); callers
// should treat that as already-released.
func (m *TicketManager) Delete(ticketID uint64) (size int64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, found := m.byID[ticketID]
	if !found {
		return 0, false
	}

	entry := elem.Value.(*ticketEntry)
	m.order.Remove(elem)
	delete(m.byID, ticketID)

	return entry.size, true
}

// PurgeApp releases every ticket belonging to appID and returns the total
// bytes released.
func (m *TicketManager) PurgeApp(appID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total int64

	var next *list.Element

	for elem := m.order.Front(); elem != nil; elem = next {
		next = elem.Next()

		entry := elem.Value.(*ticketEntry)
		if entry.appID != appID {
			continue
		}

		total += entry.size
		m.order.Remove(elem)
		delete(m.byID, entry.id)
	}

	return total
}

// reapExpired removes every ticket older than ttl, invoking onExpire for
// each one, and returns how many were reclaimed. O(#expired) because the
// list is kept in creation order and scanning stops at the first live entry.
func (m *TicketManager) reapExpired(now time.Time) int {
	m.mu.Lock()

	var expired []ticketEntry

	for elem := m.order.Front(); elem != nil; {
		entry := elem.Value.(*ticketEntry)
		if now.Sub(entry.createdAt) < m.ttl {
			break
		}

		toRemove := elem
		elem = elem.Next()

		expired = append(expired, *entry)
		m.order.Remove(toRemove)
		delete(m.byID, entry.id)
	}

	m.mu.Unlock()

	for _, entry := range expired {
		if m.onExpire != nil {
			m.onExpire(entry.appID, entry.size)
		}
	}

	return len(expired)
}

// StartReaper spawns the long-lived background task that scans for expired
// tickets every scanInterval. Stop() shuts it down cleanly.
func (m *TicketManager) StartReaper(scanInterval time.Duration) {
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		ticker := time.NewTicker(scanInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stop:
				return
			case now := <-ticker.C:
				m.reapExpired(now)
			}
		}
	}()
}

// Stop shuts down the reaper goroutine and waits for it to exit.
func (m *TicketManager) Stop() {
	if m.stop == nil {
		return
	}

	close(m.stop)
	<-m.done
}
