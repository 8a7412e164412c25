package ink

import (
	"github.com/hashicorp/go-hclog"
	"github.com/puzpuzpuz/xsync/v3"
)

// databaseRegistry tracks every logical database handle multiplexed over one
// connection manager. It exists for connection-wide event broadcast and
// handle reset, not for per-request flow.
type databaseRegistry struct {
	handles *xsync.MapOf[string, *Database]
	logger  hclog.Logger

	// onUnhandled receives errors that no handle observed. Keeps
	// connection-fatal errors from vanishing when nobody is listening.
	onUnhandled func(err error)
}

func newDatabaseRegistry(logger hclog.Logger, onUnhandled func(error)) *databaseRegistry {
	r := &databaseRegistry{
		handles: xsync.NewMapOf[string, *Database](),
		logger:  logger,
	}
	if onUnhandled == nil {
		onUnhandled = func(err error) {
			r.logger.Error("unobserved connection error", "error", err)
		}
	}
	r.onUnhandled = onUnhandled
	return r
}

// Register adds the handle, or returns the existing handle with the same
// name. Idempotent by name: no duplicate entries.
func (r *databaseRegistry) Register(db *Database) *Database {
	existing, _ := r.handles.LoadOrStore(db.name, db)
	return existing
}

// Unregister drops the handle by name.
func (r *databaseRegistry) Unregister(name string) {
	r.handles.Delete(name)
}

// All returns a snapshot of the tracked handles.
func (r *databaseRegistry) All() []*Database {
	all := make([]*Database, 0, r.handles.Size())
	r.handles.Range(func(_ string, db *Database) bool {
		all = append(all, db)
		return true
	})
	return all
}

// Broadcast delivers the event to every tracked handle with at least one
// observer for kind, skipping exclude. With resetHandles, every handle's
// connection-established flag is cleared first, forcing its next operation
// back through the reconnection path. If nobody observed the event and
// rethrowIfUnobserved is set, the error escalates to the process-level
// unhandled-error hook.
func (r *databaseRegistry) Broadcast(kind EventKind, err error, payload any, resetHandles bool, exclude *Database, rethrowIfUnobserved bool) {
	observed := false
	r.handles.Range(func(_ string, db *Database) bool {
		if resetHandles {
			db.connEstablished.Store(false)
		}
		if db == exclude {
			return true
		}
		if db.emit(kind, err, payload) {
			observed = true
		}
		return true
	})

	if !observed && rethrowIfUnobserved && err != nil {
		r.onUnhandled(err)
	}
}
