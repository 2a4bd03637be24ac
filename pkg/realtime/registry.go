package realtime

import (
	"log"
	"sync"

	"github.com/docvault/backend/pkg/event"
)

// Callback receives the payload of a dispatched event.
type Callback func(env event.Envelope)

// Sender transmits client-originated events. The connection Manager registers
// itself as the registry's sender once constructed.
type Sender interface {
	Send(env event.Envelope) error
	IsConnected() bool
}

// Registry is a publish/subscribe multiplexer mapping event names to
// subscriber callbacks. It is fed by the connection's catch-all forwarder and
// consumed by any component interested in a logical event.
type Registry struct {
	mu     sync.Mutex
	nextID int
	subs   map[event.Name]map[int]Callback
	sender Sender
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		subs: make(map[event.Name]map[int]Callback),
	}
}

// SetSender wires the registry's outbound path. Emit is a logged no-op until
// a connected sender is available.
func (r *Registry) SetSender(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sender = s
}

// On registers callback for the named event and returns an unsubscribe
// function that removes exactly this callback. When the last callback for a
// name is removed, the name's entry is dropped entirely.
func (r *Registry) On(name event.Name, callback Callback) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[name]
	if !ok {
		set = make(map[int]Callback)
		r.subs[name] = set
	}
	id := r.nextID
	r.nextID++
	set[id] = callback

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if set, ok := r.subs[name]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(r.subs, name)
			}
		}
	}
}

// Dispatch invokes every callback currently registered for the envelope's
// event name. Callbacks are invoked over a snapshot of the subscriber set, so
// a handler that subscribes or unsubscribes during dispatch cannot corrupt the
// in-progress fan-out. A panicking callback is recovered and logged; it never
// prevents delivery to the remaining callbacks.
func (r *Registry) Dispatch(env event.Envelope) {
	r.mu.Lock()
	set := r.subs[env.Event]
	snapshot := make([]Callback, 0, len(set))
	for _, cb := range set {
		snapshot = append(snapshot, cb)
	}
	r.mu.Unlock()

	for _, cb := range snapshot {
		r.invoke(env, cb)
	}
}

func (r *Registry) invoke(env event.Envelope, cb Callback) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("realtime: subscriber for %q panicked: %v", env.Event, rec)
		}
	}()
	cb(env)
}

// Emit transmits an event to the server. While disconnected it is a logged
// no-op; missed emissions are acceptable for this transport's semantics, so
// nothing is queued.
func (r *Registry) Emit(name event.Name, payload any) error {
	r.mu.Lock()
	sender := r.sender
	r.mu.Unlock()

	if sender == nil || !sender.IsConnected() {
		log.Printf("realtime: emit %q dropped: not connected", name)
		return nil
	}

	env, err := event.New(name, payload)
	if err != nil {
		return err
	}
	return sender.Send(env)
}

// SubscriberCount returns the number of callbacks registered for name.
func (r *Registry) SubscriberCount(name event.Name) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[name])
}
