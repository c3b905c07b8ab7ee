package cache

import (
	"sync"

	"github.com/ndcache/filecache/cerrors"
	"github.com/ndcache/filecache/pathcodec"
)

// HandleID identifies one live request handle holding a subscription.
// The external adapter mints these; the core never interprets them.
type HandleID string

// subKey names one (type, object) pair.
type subKey struct {
	typeName string
	id       pathcodec.ObjectId
}

// router is the subset of *Set a SubscriptionTable needs: routing a
// subscribe/unsubscribe call to the owning TypeCache. Kept as an
// interface so the table has no back-pointer to Set, matching the "no
// back-pointer required" design note of spec.md §9.
type router interface {
	subscribeRoute(typeName string, id pathcodec.ObjectId) (string, error)
	unsubscribeRoute(typeName string, id pathcodec.ObjectId)
}

// Table is the Subscription Table of spec.md §4.6: a multiset of
// (type, object id) pinned by live handles. It is the single owner of
// pin lifetimes — TypeCache's SubscriberCount is only ever mutated
// through the routed Subscribe/Unsubscribe calls this table issues.
// Keyed by (typeName, ObjectId) rather than a single string id, with a
// refcounted multiset so repeated subscriptions from distinct handles
// each require their own cancellation before an object is freed.
type Table struct {
	mu       sync.Mutex
	byHandle map[HandleID]subKey
	refs     map[subKey]int
	r        router
}

// NewTable creates a Table that routes through r.
func NewTable(r router) *Table {
	return &Table{
		byHandle: make(map[HandleID]subKey),
		refs:     make(map[subKey]int),
		r:        r,
	}
}

// Add registers handle as pinning (typeName, id), calling the owning
// TypeCache's Subscribe and incrementing the refcount, so the object's
// SubscriberCount equals the number of handles pinning it. Returns the
// object's filesystem path.
func (t *Table) Add(handle HandleID, typeName string, id pathcodec.ObjectId) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byHandle[handle]; exists {
		return "", cerrors.New(cerrors.ArgumentError, "handle already subscribed")
	}
	path, err := t.r.subscribeRoute(typeName, id)
	if err != nil {
		return "", err
	}
	k := subKey{typeName, id}
	t.byHandle[handle] = k
	t.refs[k]++
	return path, nil
}

// Cancel removes handle's pin and calls the owning TypeCache's
// Unsubscribe once for it. When it was the last handle pinning that
// (type, id), the object's SubscriberCount reaches 0 and it is removed
// immediately if it was pendingExpire.
func (t *Table) Cancel(handle HandleID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k, ok := t.byHandle[handle]
	if !ok {
		return
	}
	delete(t.byHandle, handle)
	t.refs[k]--
	if t.refs[k] <= 0 {
		delete(t.refs, k)
	}
	t.r.unsubscribeRoute(k.typeName, k.id)
}

// Count returns the number of distinct handles currently pinning
// (typeName, id). Mainly useful for tests and diagnostics.
func (t *Table) Count(typeName string, id pathcodec.ObjectId) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refs[subKey{typeName, id}]
}
