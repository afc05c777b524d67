// Package clock implements the process-global $clusterTime gossip clock
// (spec.md §4.7): a lock-free, monotone merge of the highest clusterTime
// timestamp observed so far.
package clock

import (
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Timestamp is a BSON timestamp's two logical fields: seconds since the
// epoch (T) and an in-second ordinal (I). Comparison is lexicographic on
// (T, I), matching BSON timestamp ordering.
type Timestamp struct {
	T uint32
	I uint32
}

// Less reports whether t sorts before other.
func (t Timestamp) Less(other Timestamp) bool {
	if t.T != other.T {
		return t.T < other.T
	}
	return t.I < other.I
}

// Document is an opaque $clusterTime document: {clusterTime: <ts>,
// signature: {...}}. Only the embedded timestamp is interpreted here;
// the signature (if any) is carried through untouched, since signature
// verification is a server/security concern outside this core (spec.md
// §1).
type Document struct {
	Raw bson.Raw
	TS  Timestamp
}

// ClusterClock holds the latest $clusterTime document observed by any
// connection using this client. Advance is safe for concurrent use from
// many goroutines with no locking, via atomic.Pointer compare-and-swap.
type ClusterClock struct {
	current atomic.Pointer[Document]
}

// New returns an empty clock (no clusterTime observed yet).
func New() *ClusterClock {
	return &ClusterClock{}
}

// Advance merges doc into the clock: the document whose embedded
// timestamp compares greater wins; on a tie the document already held is
// kept. Advance is
// lock-free and monotone under concurrent callers (spec.md §8: "after
// advance(a); advance(b)... equals max(a.ts, b.ts) in either call
// order").
func (c *ClusterClock) Advance(doc Document) {
	for {
		cur := c.current.Load()
		if cur != nil && !cur.TS.Less(doc.TS) {
			return
		}
		next := doc
		if c.current.CompareAndSwap(cur, &next) {
			return
		}
		// Lost the race; retry against whatever is current now.
	}
}

// Current returns the latest known $clusterTime document, or the zero
// Document if none has been observed.
func (c *ClusterClock) Current() (Document, bool) {
	cur := c.current.Load()
	if cur == nil {
		return Document{}, false
	}
	return *cur, true
}
