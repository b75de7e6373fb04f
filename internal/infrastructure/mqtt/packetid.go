package mqtt

import (
	"fmt"
	"sync"
)

// packetIDAllocator hands out packet identifiers for one connection.
// Identifiers are never 0 and are not reused while in flight.
type packetIDAllocator struct {
	mu    sync.Mutex
	next  uint16
	inUse map[uint16]struct{}
}

func newPacketIDAllocator() *packetIDAllocator {
	return &packetIDAllocator{
		next:  1,
		inUse: make(map[uint16]struct{}),
	}
}

// allocate returns the next free identifier.
func (a *packetIDAllocator) allocate() (uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for range 65535 {
		id := a.next
		a.next++
		if a.next == 0 {
			a.next = 1
		}
		if _, used := a.inUse[id]; !used {
			a.inUse[id] = struct{}{}
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: no free packet identifiers", ErrNoMemory)
}

// release returns id to the pool once the exchange using it is over.
func (a *packetIDAllocator) release(id uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, id)
}

func (a *packetIDAllocator) inFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}
