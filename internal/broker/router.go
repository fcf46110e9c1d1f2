package broker

import "sync"

// Subscriber pairs a Session with the QoS the broker granted it for one
// matching filter.
type Subscriber struct {
	Session *Session
	QoS     uint8
}

// retainedEntry is the most recent retained payload for one concrete topic.
type retainedEntry struct {
	payload []byte
	qos     uint8
}

// RetainedMessage is one entry returned by RetainedMatching.
type RetainedMessage struct {
	Topic   string
	Payload []byte
	QoS     uint8
}

// Router implements the Topic Router (spec §4.3): it matches published
// topics against active subscription filters, including '+' and '#'
// wildcards, and maintains the retained-message store. Concurrent Match is
// safe with concurrent Subscribe/Unsubscribe: a matcher never observes a
// partially applied change, since every mutation of the subscription table
// happens entirely under the write lock.
type Router struct {
	mu   sync.RWMutex
	subs map[string]map[*Session]uint8 // filter -> session -> granted QoS

	retainedMu sync.RWMutex
	retained   map[string]retainedEntry // topic -> entry
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{
		subs:     make(map[string]map[*Session]uint8),
		retained: make(map[string]retainedEntry),
	}
}

// Subscribe inserts or updates session's subscription to filter with the
// given granted QoS. Idempotent: re-subscribing the same (session, filter)
// updates the granted QoS in place.
func (r *Router) Subscribe(session *Session, filter string, qos uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.subs[filter]
	if !ok {
		sessions = make(map[*Session]uint8)
		r.subs[filter] = sessions
	}
	sessions[session] = qos
}

// Unsubscribe removes session's subscription to filter. No-op if absent.
func (r *Router) Unsubscribe(session *Session, filter string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.subs[filter]
	if !ok {
		return
	}
	delete(sessions, session)
	if len(sessions) == 0 {
		delete(r.subs, filter)
	}
}

// RemoveSession removes every subscription belonging to session in one call,
// used when a Session closes.
func (r *Router) RemoveSession(session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for filter, sessions := range r.subs {
		if _, ok := sessions[session]; ok {
			delete(sessions, session)
			if len(sessions) == 0 {
				delete(r.subs, filter)
			}
		}
	}
}

// Match returns every Session subscribed to a filter matching topic, along
// with the granted QoS. A Session with several matching filters appears once
// at the maximum granted QoS across them (duplicate-delivery policy, spec
// §4.3).
func (r *Router) Match(topic string) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best := make(map[*Session]uint8)
	for filter, sessions := range r.subs {
		if !matchTopic(filter, topic) {
			continue
		}
		for s, qos := range sessions {
			if cur, ok := best[s]; !ok || qos > cur {
				best[s] = qos
			}
		}
	}

	out := make([]Subscriber, 0, len(best))
	for s, qos := range best {
		out = append(out, Subscriber{Session: s, QoS: qos})
	}
	return out
}

// StoreRetained updates or deletes the retained entry for topic. An empty
// payload deletes the entry.
func (r *Router) StoreRetained(topic string, payload []byte, qos uint8) {
	r.retainedMu.Lock()
	defer r.retainedMu.Unlock()

	if len(payload) == 0 {
		delete(r.retained, topic)
		return
	}
	r.retained[topic] = retainedEntry{payload: payload, qos: qos}
}

// RetainedMatching returns every retained message whose topic matches
// filter, for delivery immediately after a new SUBSCRIBE is granted.
func (r *Router) RetainedMatching(filter string) []RetainedMessage {
	r.retainedMu.RLock()
	defer r.retainedMu.RUnlock()

	var out []RetainedMessage
	for topic, entry := range r.retained {
		if matchTopic(filter, topic) {
			out = append(out, RetainedMessage{Topic: topic, Payload: entry.payload, QoS: entry.qos})
		}
	}
	return out
}

// RetainedCount reports the number of distinct retained topics, for metrics
// and tests.
func (r *Router) RetainedCount() int {
	r.retainedMu.RLock()
	defer r.retainedMu.RUnlock()
	return len(r.retained)
}
