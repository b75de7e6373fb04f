package mqtt

import (
	"slices"
	"sync"
)

// subscriptionEntry is one registered topic filter.
type subscriptionEntry struct {
	filter   string
	qos      QoS
	callback CallbackFunc

	// packetID and order locate the entry in its SUBSCRIBE while pending.
	packetID uint16
	order    int
	pending  bool

	// refs counts callbacks currently running for this entry. An entry
	// unsubscribed while in use is reaped by the last releaser.
	refs         int
	unsubscribed bool
}

func (e *subscriptionEntry) subscription() Subscription {
	return Subscription{QoS: e.qos, TopicFilter: e.filter, Callback: e.callback}
}

// subscriptionRegistry is the per-connection table of topic filters and
// their callbacks. Entries are kept in insertion order.
type subscriptionRegistry struct {
	mu      sync.Mutex
	entries []*subscriptionEntry
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{}
}

// subscriptionReservation tracks the entries added for one SUBSCRIBE until
// its SUBACK arrives.
type subscriptionReservation struct {
	registry *subscriptionRegistry
	packetID uint16
}

// reserve adds pending entries for subs under packetID.
func (r *subscriptionRegistry) reserve(packetID uint16, subs []Subscription) *subscriptionReservation {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range subs {
		r.entries = append(r.entries, &subscriptionEntry{
			filter:   s.TopicFilter,
			qos:      s.QoS,
			callback: s.Callback,
			packetID: packetID,
			order:    i,
			pending:  true,
		})
	}
	return &subscriptionReservation{registry: r, packetID: packetID}
}

// addCommitted restores subscriptions from an earlier session.
func (r *subscriptionRegistry) addCommitted(subs []Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range subs {
		r.entries = append(r.entries, &subscriptionEntry{
			filter:   s.TopicFilter,
			qos:      s.QoS,
			callback: s.Callback,
		})
	}
}

// commit makes the surviving entries of the reservation permanent.
func (res *subscriptionReservation) commit() {
	r := res.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.pending && e.packetID == res.packetID {
			e.pending = false
		}
	}
}

// abort removes the entries of the reservation that are still pending.
func (res *subscriptionReservation) abort() {
	r := res.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = slices.DeleteFunc(r.entries, func(e *subscriptionEntry) bool {
		if !e.pending || e.packetID != res.packetID {
			return false
		}
		if e.refs > 0 {
			e.pending = false
			e.unsubscribed = true
			return false
		}
		return true
	})
}

// refuse removes the entry a SUBACK rejected.
func (r *subscriptionRegistry) refuse(packetID uint16, order int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(func(e *subscriptionEntry) bool {
		return e.pending && e.packetID == packetID && e.order == order
	})
}

// removeByTopicFilter removes every entry whose filter appears in subs.
func (r *subscriptionRegistry) removeByTopicFilter(subs []Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range subs {
		r.removeLocked(func(e *subscriptionEntry) bool {
			return e.filter == s.TopicFilter
		})
	}
}

// removeLocked deletes matching entries, deferring those in use to the
// last releaser. Caller holds mu.
func (r *subscriptionRegistry) removeLocked(match func(e *subscriptionEntry) bool) {
	r.entries = slices.DeleteFunc(r.entries, func(e *subscriptionEntry) bool {
		if !match(e) {
			return false
		}
		if e.refs > 0 {
			e.unsubscribed = true
			return false
		}
		return true
	})
}

// match returns the live entries whose filter matches topic, with a
// reference taken on each. Pass the result to releaseEntries.
func (r *subscriptionRegistry) match(topic string) []*subscriptionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*subscriptionEntry
	for _, e := range r.entries {
		if e.unsubscribed || !topicMatches(e.filter, topic) {
			continue
		}
		e.refs++
		matched = append(matched, e)
	}
	return matched
}

func (r *subscriptionRegistry) releaseEntries(entries []*subscriptionEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reap := false
	for _, e := range entries {
		e.refs--
		if e.refs == 0 && e.unsubscribed {
			reap = true
		}
	}
	if reap {
		r.entries = slices.DeleteFunc(r.entries, func(e *subscriptionEntry) bool {
			return e.refs == 0 && e.unsubscribed
		})
	}
}

// lookup returns the first committed entry for filter.
func (r *subscriptionRegistry) lookup(filter string) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.filter == filter && !e.pending && !e.unsubscribed {
			return e.subscription(), true
		}
	}
	return Subscription{}, false
}

// snapshot returns the committed subscriptions in insertion order.
func (r *subscriptionRegistry) snapshot() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := make([]Subscription, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.pending && !e.unsubscribed {
			subs = append(subs, e.subscription())
		}
	}
	return subs
}

func (r *subscriptionRegistry) removeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

func (r *subscriptionRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
