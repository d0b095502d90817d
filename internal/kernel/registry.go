package kernel

import (
	"fmt"
	"sync"
	"time"
)

// replyInboxSize bounds a per-request inbox. The shell channel carries a
// single reply per request; anything beyond that is dropped.
const replyInboxSize = 1

// replyRegistry correlates shell replies with their originating requests.
// An inbox exists if and only if a request with that id is currently awaiting
// a reply. All four operations share one critical section.
type replyRegistry struct {
	mu      sync.Mutex
	inboxes map[string]chan *Message
}

func newReplyRegistry() *replyRegistry {
	return &replyRegistry{
		inboxes: make(map[string]chan *Message),
	}
}

// Register creates the inbox for a request id. Message ids are unique per
// connection, so an existing entry means the caller leaked one.
func (r *replyRegistry) Register(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.inboxes[id]; exists {
		return fmt.Errorf("reply inbox already registered for %s", id)
	}
	r.inboxes[id] = make(chan *Message, replyInboxSize)
	return nil
}

// Deliver routes a reply into the inbox registered under id. A reply for an
// unknown id is dropped: either its request already timed out and was cleaned
// up, or the id was never ours. Returns whether the message was accepted.
func (r *replyRegistry) Deliver(id string, msg *Message) bool {
	r.mu.Lock()
	inbox, ok := r.inboxes[id]
	r.mu.Unlock()

	if !ok {
		return false
	}

	select {
	case inbox <- msg:
		return true
	default:
		// Inbox already holds the reply; protocol allows one per request.
		return false
	}
}

// Take waits for the reply registered under id, up to timeout. The entry is
// not removed here; callers unregister unconditionally when done.
func (r *replyRegistry) Take(id string, timeout time.Duration) (*Message, bool) {
	r.mu.Lock()
	inbox, ok := r.inboxes[id]
	r.mu.Unlock()

	if !ok {
		return nil, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-inbox:
		return msg, true
	case <-timer.C:
		return nil, false
	}
}

// Unregister removes the inbox for id, whether or not a reply arrived.
func (r *replyRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inboxes, id)
}

// Pending returns the number of requests currently awaiting replies.
func (r *replyRegistry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inboxes)
}
