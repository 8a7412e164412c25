package ink

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/inkdb/ink-go/internal/coarsetime"
	"github.com/inkdb/ink-go/wire"
)

// Handler is the one-shot completion sink for a dispatched operation. It is
// invoked with the reply, or with a non-nil error, exactly once, except for
// exhaust requests, where the same handler fires for every streamed frame.
type Handler func(err error, reply *wire.Reply, conn *Conn)

// pendingRequest is the registry entry for one in-flight request. It exists
// if and only if a reply is expected for its request id.
type pendingRequest struct {
	requestID   int32
	seq         uint64
	submittedAt time.Time
	raw         bool
	conn        *Conn // nil when no specific connection is recorded
	exhaust     bool
	handler     Handler
}

// SubmittedAt returns when the request was registered. Coarse (50ms)
// resolution; recorded for observability only.
func (p *pendingRequest) SubmittedAt() time.Time { return p.submittedAt }

// pendingRegistry maps in-flight request ids to their completion handlers.
// It is the sole owner of its entries: every entry is deleted on completion,
// explicit removal or bulk flush, never garbage-collected implicitly.
type pendingRegistry struct {
	entries *xsync.MapOf[int32, *pendingRequest]
	seq     atomic.Uint64

	// onHandlerPanic re-routes a panic raised by a completion handler.
	// Never nil after newPendingRegistry.
	onHandlerPanic func(err *HandlerPanicError)
}

func newPendingRegistry(onHandlerPanic func(*HandlerPanicError)) *pendingRegistry {
	if onHandlerPanic == nil {
		onHandlerPanic = func(*HandlerPanicError) {}
	}
	return &pendingRegistry{
		entries:        xsync.NewMapOf[int32, *pendingRequest](),
		onHandlerPanic: onHandlerPanic,
	}
}

// Register stores the handler for requestID. Double registration is a
// programmer error and panics: the registry and the wire layer must agree on
// which ids expect a reply.
func (r *pendingRegistry) Register(requestID int32, raw bool, conn *Conn, exhaust bool, handler Handler) {
	entry := &pendingRequest{
		requestID:   requestID,
		seq:         r.seq.Add(1),
		submittedAt: coarsetime.Now(),
		raw:         raw,
		conn:        conn,
		exhaust:     exhaust,
		handler:     handler,
	}
	if _, loaded := r.entries.LoadOrStore(requestID, entry); loaded {
		panic(fmt.Sprintf("ink: request id %d already registered", requestID))
	}
}

// Complete looks up requestID, removes the entry and fires its handler.
// An unknown id is a late or duplicate reply and is silently ignored.
// Exhaust entries are fired but kept registered; use Reregister or Remove to
// retire them. Reports whether an entry was found.
func (r *pendingRegistry) Complete(requestID int32, err error, reply *wire.Reply) bool {
	entry, ok := r.entries.Load(requestID)
	if !ok {
		return false
	}
	if !entry.exhaust {
		// Reload-and-delete so a concurrent Complete fires at most once.
		if entry, ok = r.entries.LoadAndDelete(requestID); !ok {
			return false
		}
	}
	r.invoke(entry, err, reply)
	return true
}

// Reregister moves the entry under a new request id, keeping the same
// handler. Used for exhaust streams: the server keeps pushing frames and the
// logical caller keeps resolving without re-issuing requests.
func (r *pendingRegistry) Reregister(newRequestID, oldRequestID int32) bool {
	entry, ok := r.entries.LoadAndDelete(oldRequestID)
	if !ok {
		return false
	}
	moved := &pendingRequest{
		requestID:   newRequestID,
		seq:         r.seq.Add(1),
		submittedAt: entry.submittedAt,
		raw:         entry.raw,
		conn:        entry.conn,
		exhaust:     entry.exhaust,
		handler:     entry.handler,
	}
	if _, loaded := r.entries.LoadOrStore(newRequestID, moved); loaded {
		panic(fmt.Sprintf("ink: request id %d already registered", newRequestID))
	}
	return true
}

// Remove deletes the entry without firing it.
func (r *pendingRegistry) Remove(requestID int32) bool {
	_, ok := r.entries.LoadAndDelete(requestID)
	return ok
}

// Has reports whether a reply is still expected for requestID.
func (r *pendingRegistry) Has(requestID int32) bool {
	_, ok := r.entries.Load(requestID)
	return ok
}

// Find returns the live entry for requestID without removing it.
func (r *pendingRegistry) Find(requestID int32) (*pendingRequest, bool) {
	return r.entries.Load(requestID)
}

// Len returns the number of in-flight requests.
func (r *pendingRegistry) Len() int {
	return r.entries.Size()
}

// FlushAll completes every registered request with err, in registration
// order. Used when the whole connection set is declared dead or the handle
// is closed.
func (r *pendingRegistry) FlushAll(err error) {
	r.flush(err, func(*pendingRequest) bool { return true })
}

// FlushForEndpoint completes only the requests whose recorded connection
// matches host:port. Entries for other endpoints remain pending.
func (r *pendingRegistry) FlushForEndpoint(host string, port int, err error) {
	r.flush(err, func(entry *pendingRequest) bool {
		return entry.conn != nil && entry.conn.Host() == host && entry.conn.Port() == port
	})
}

func (r *pendingRegistry) flush(err error, match func(*pendingRequest) bool) {
	var flushed []*pendingRequest
	r.entries.Range(func(id int32, entry *pendingRequest) bool {
		if match(entry) {
			if entry, ok := r.entries.LoadAndDelete(id); ok {
				flushed = append(flushed, entry)
			}
		}
		return true
	})

	sort.Slice(flushed, func(i, j int) bool { return flushed[i].seq < flushed[j].seq })
	for _, entry := range flushed {
		r.invoke(entry, err, nil)
	}
}

// invoke fires the handler, catching panics so a misbehaving caller cannot
// unwind through the dispatch loop.
func (r *pendingRegistry) invoke(entry *pendingRequest, err error, reply *wire.Reply) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.onHandlerPanic(&HandlerPanicError{RequestID: entry.requestID, Value: recovered})
		}
	}()
	entry.handler(err, reply, entry.conn)
}
