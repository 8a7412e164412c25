package ink

import "time"

// WMajority requests acknowledgement from a majority of the replica set.
const WMajority = "majority"

// WriteConcern describes how a write must be acknowledged before it is
// considered successful.
//
// W is an int (number of servers), WMajority, or a tag-set token. Journal
// additionally requires the write to hit the journal. WTimeout bounds how
// long the server waits for the requested acknowledgement.
type WriteConcern struct {
	W        any
	Journal  bool
	WTimeout time.Duration
}

// RequiresAck reports whether a write under this concern expects an
// acknowledgement reply. Numeric W > 0, any non-numeric W, and journaled
// writes are acknowledged; W=0 without journaling is fire-and-forget.
func (wc WriteConcern) RequiresAck() bool {
	if wc.Journal {
		return true
	}
	switch w := wc.W.(type) {
	case nil:
		return false
	case int:
		return w > 0
	case int32:
		return w > 0
	case int64:
		return w > 0
	default:
		// "majority" or a tag-set token.
		return true
	}
}

// wtimeoutMS converts the timeout to the millisecond field sent on the wire.
func (wc WriteConcern) wtimeoutMS() int {
	return int(wc.WTimeout / time.Millisecond)
}

// resolveWriteConcern picks the effective concern for one operation:
// operation-level options win over handle defaults, which win over client
// defaults. Absence of all yields W=1.
func resolveWriteConcern(op, handle, client *WriteConcern) WriteConcern {
	for _, wc := range []*WriteConcern{op, handle, client} {
		if wc != nil {
			resolved := *wc
			if resolved.W == nil && !resolved.Journal {
				resolved.W = 1
			}
			return resolved
		}
	}
	return WriteConcern{W: 1}
}
