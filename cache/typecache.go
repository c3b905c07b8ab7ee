package cache

import (
	"sort"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/ndcache/filecache/cerrors"
	"github.com/ndcache/filecache/pathcodec"
	"github.com/ndcache/filecache/store"
)

// blockSize is the minimum size a dirType object's declared size must
// exceed, per spec.md §3/§6. It is a stand-in for "one filesystem block"
// since Go has no portable way to query the backing filesystem's block
// size ahead of creating the file.
const blockSize = 4096

// TypeParams holds the per-type configuration of spec.md §3.
type TypeParams struct {
	Name            string
	LoWatermark     int64
	HiWatermark     int64
	DefaultSize     int64
	DefaultCost     int
	DefaultLifetime int64
	DirType         bool
}

// Validate checks the invariants spec.md §3/§6 place on a type's
// parameters.
func (p TypeParams) Validate() error {
	if len(p.Name) == 0 || len(p.Name) > 64 {
		return cerrors.New(cerrors.InvalidParams, "type name must be 1-64 characters")
	}
	if p.Name[0] == '.' {
		return cerrors.New(cerrors.InvalidParams, "type name must not start with '.'")
	}
	if p.LoWatermark <= 0 {
		return cerrors.New(cerrors.InvalidParams, "loWatermark must be > 0")
	}
	if p.HiWatermark <= p.LoWatermark {
		return cerrors.New(cerrors.InvalidParams, "hiWatermark must be > loWatermark")
	}
	if p.DefaultCost < 0 || p.DefaultCost > 100 {
		return cerrors.New(cerrors.InvalidParams, "cost must be 0-100")
	}
	// A dirType default size of one block or less is accepted here; the
	// block-size rule is enforced per insert by Set.Insert.
	return nil
}

// TypeCache owns one type's object table, watermark accounting, and
// eviction policy, ordered per spec.md §4.4's four-key eviction order.
type TypeCache struct {
	mu     sync.Mutex
	params TypeParams

	objects   map[pathcodec.ObjectId]*Object
	usedBytes int64

	layout   *store.Layout
	clock    clock.Clock
	nextID   func() pathcodec.ObjectId
	onRemove func(pathcodec.ObjectId)
}

// AdmissionDecision describes a reservation outcome (kept for symmetry
// with spec.md §4.4). Nothing in this package returns it:
// TypeCache.Reserve reports its outcome as an error.
type AdmissionDecision struct {
	Admitted     bool
	BytesEvicted int64
}

func newTypeCache(params TypeParams, layout *store.Layout, clk clock.Clock, nextID func() pathcodec.ObjectId) *TypeCache {
	return &TypeCache{
		params:  params,
		objects: make(map[pathcodec.ObjectId]*Object),
		layout:  layout,
		clock:   clk,
		nextID:  nextID,
	}
}

// setOnRemove installs the callback invoked whenever removeLocked drops an
// object, regardless of which path triggered it (eviction during Reserve,
// immediate Expire, Unsubscribe/CloseWrite resolving a deferred expiry).
// Set uses this to keep its id -> typeName index from accumulating stale
// entries for objects it did not itself ask to remove.
func (tc *TypeCache) setOnRemove(f func(pathcodec.ObjectId)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.onRemove = f
}

// Params returns a copy of the type's current parameters.
func (tc *TypeCache) Params() TypeParams {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.params
}

// Status returns the current used bytes and live object count.
func (tc *TypeCache) Status() (usedBytes int64, count int) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.usedBytes, len(tc.objects)
}

// applyChange updates the subset of params present in partial; zero
// values in partial leave the corresponding field unchanged. Matches
// spec.md §4.5 ChangeType semantics.
func (tc *TypeCache) applyChange(partial TypeParams) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	next := tc.params
	if partial.LoWatermark != 0 {
		next.LoWatermark = partial.LoWatermark
	}
	if partial.HiWatermark != 0 {
		next.HiWatermark = partial.HiWatermark
	}
	if partial.DefaultSize != 0 {
		next.DefaultSize = partial.DefaultSize
	}
	if partial.DefaultCost != 0 {
		next.DefaultCost = partial.DefaultCost
	}
	if partial.DefaultLifetime != 0 {
		next.DefaultLifetime = partial.DefaultLifetime
	}
	if next.HiWatermark <= next.LoWatermark {
		return cerrors.New(cerrors.ChangeError, "hiWatermark must remain greater than loWatermark")
	}
	tc.params = next
	return nil
}

// Reserve admits size bytes of new usage, evicting evictable objects if
// necessary to stay within HiWatermark. On success usedBytes has already
// been incremented by size. On InsufficientSpace, nothing is changed and
// no object is removed.
func (tc *TypeCache) Reserve(size int64) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.reserveLocked(size)
}

func (tc *TypeCache) reserveLocked(size int64) error {
	if tc.usedBytes+size <= tc.params.HiWatermark {
		tc.usedBytes += size
		return nil
	}
	need := size - (tc.params.HiWatermark - tc.usedBytes)
	candidates := tc.evictionOrderLocked()

	var toRemove []pathcodec.ObjectId
	var freed int64
	for _, o := range candidates {
		if freed >= need {
			break
		}
		toRemove = append(toRemove, o.ID)
		freed += o.Size
	}
	if freed < need {
		return cerrors.New(cerrors.InsufficientSpace, "not enough evictable bytes")
	}
	for _, id := range toRemove {
		tc.removeLocked(id)
	}
	tc.usedBytes += size
	return nil
}

// evictionOrderLocked returns evictable objects ordered by spec.md §4.4's
// four-key tie-break: pendingExpire first, then ascending score, then
// ascending lastAccessAt, then ascending id.
func (tc *TypeCache) evictionOrderLocked() []*Object {
	now := tc.clock.Now().Unix()
	var list []*Object
	for _, o := range tc.objects {
		if o.IsEvictable() {
			list = append(list, o)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.PendingExpire != b.PendingExpire {
			return a.PendingExpire // pendingExpire sorts first
		}
		sa := score(a, now)
		sb := score(b, now)
		if sa != sb {
			return sa < sb
		}
		if a.LastAccessAt != b.LastAccessAt {
			return a.LastAccessAt < b.LastAccessAt
		}
		return a.ID < b.ID
	})
	return list
}

// ageWeightSentinel is the large negative adjustment applied to objects
// past their lifetime, making them sort first among same-pendingExpire
// candidates.
const ageWeightSentinel = -1_000_000

// score implements S(o) = cost + age_weight(now-lastAccessAt, lifetime)
// from spec.md §4.4. lifetime == 0 contributes neutrally (age_weight 0).
func score(o *Object, now int64) int64 {
	age := now - o.LastAccessAt
	var ageWeight int64
	if o.Lifetime > 0 {
		if age > o.Lifetime {
			ageWeight = ageWeightSentinel
		} else {
			ageWeight = age * 100 / o.Lifetime
		}
	}
	return int64(o.Cost) + ageWeight
}

// Insert admits and creates a new object. On any failure the partial
// reservation and any on-disk path created are rolled back.
func (tc *TypeCache) Insert(filename string, size, cost, lifetime int64) (*Object, error) {
	tc.mu.Lock()
	if err := tc.reserveLocked(size); err != nil {
		tc.mu.Unlock()
		return nil, err
	}
	id := tc.nextID()
	tc.mu.Unlock()

	path, err := tc.layout.CreateObject(tc.params.Name, id, filename, tc.params.DirType)
	if err != nil {
		tc.mu.Lock()
		tc.usedBytes -= size
		tc.mu.Unlock()
		return nil, err
	}

	now := tc.clock.Now().Unix()
	obj := &Object{
		ID:           id,
		Path:         path,
		Filename:     filename,
		Size:         size,
		Cost:         int(cost),
		Lifetime:     lifetime,
		CreatedAt:    now,
		LastAccessAt: now,
		WriteOpen:    true,
	}

	tc.mu.Lock()
	tc.objects[id] = obj
	tc.mu.Unlock()
	return obj, nil
}

// removeLocked deletes id from the in-memory map, decrements usedBytes,
// and removes the on-disk path. Caller must hold tc.mu and must already
// have verified id is evictable.
func (tc *TypeCache) removeLocked(id pathcodec.ObjectId) {
	o, ok := tc.objects[id]
	if !ok {
		return
	}
	delete(tc.objects, id)
	tc.usedBytes -= o.Size
	if err := tc.layout.RemoveObject(tc.params.Name, o.ID, o.Filename); err != nil {
		logWarn("remove object %s/%d: %v", tc.params.Name, uint64(o.ID), err)
	}
	if tc.onRemove != nil {
		tc.onRemove(id)
	}
}

// Remove removes id if it is still evictable when the lock is taken;
// otherwise it does nothing.
func (tc *TypeCache) Remove(id pathcodec.ObjectId) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if o, ok := tc.objects[id]; ok && o.IsEvictable() {
		tc.removeLocked(id)
	}
}

// Expire removes id if evictable, otherwise marks it pendingExpire and
// returns ErrDeferredExpire.
var ErrDeferredExpire = cerrors.New(cerrors.InUseError, "object in use, expiry deferred")

func (tc *TypeCache) Expire(id pathcodec.ObjectId) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	o, ok := tc.objects[id]
	if !ok {
		return cerrors.New(cerrors.ExistsError, "no such object")
	}
	if o.IsEvictable() {
		tc.removeLocked(id)
		return nil
	}
	o.PendingExpire = true
	return ErrDeferredExpire
}

// Resize attempts to change id's reservation to newSize, returning the
// size actually in effect afterward. Growth goes through Reserve; on
// failure the prior size is returned unchanged.
func (tc *TypeCache) Resize(id pathcodec.ObjectId, newSize int64) (int64, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	o, ok := tc.objects[id]
	if !ok {
		return 0, cerrors.New(cerrors.ExistsError, "no such object")
	}
	delta := newSize - o.Size
	if delta == 0 {
		return o.Size, nil
	}
	if delta < 0 {
		tc.usedBytes += delta
		o.Size = newSize
		return o.Size, nil
	}
	if err := tc.reserveLocked(delta); err != nil {
		return o.Size, cerrors.Wrap(cerrors.ResizeError, err, "grow reservation")
	}
	o.Size = newSize
	return o.Size, nil
}

// Touch advances id's lastAccessAt to now, if present.
func (tc *TypeCache) Touch(id pathcodec.ObjectId) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if o, ok := tc.objects[id]; ok {
		o.LastAccessAt = tc.clock.Now().Unix()
	}
}

// Subscribe increments id's subscriber count and returns its path.
func (tc *TypeCache) Subscribe(id pathcodec.ObjectId) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	o, ok := tc.objects[id]
	if !ok {
		return "", cerrors.New(cerrors.ExistsError, "no such object")
	}
	o.SubscriberCount++
	return o.Path, nil
}

// Unsubscribe decrements id's subscriber count. If it reaches 0,
// WriteOpen is cleared and, if PendingExpire was set, the object is
// removed immediately.
func (tc *TypeCache) Unsubscribe(id pathcodec.ObjectId) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	o, ok := tc.objects[id]
	if !ok {
		return
	}
	if o.SubscriberCount > 0 {
		o.SubscriberCount--
	}
	if o.SubscriberCount == 0 {
		o.WriteOpen = false
		if o.PendingExpire {
			tc.removeLocked(id)
		}
	}
}

// CloseWrite clears WriteOpen once the client has closed the file
// handed back by Insert. If the object was marked PendingExpire while
// the write was open and has no subscribers, it is removed now.
func (tc *TypeCache) CloseWrite(id pathcodec.ObjectId) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	o, ok := tc.objects[id]
	if !ok {
		return
	}
	o.WriteOpen = false
	if o.PendingExpire && o.SubscriberCount == 0 {
		tc.removeLocked(id)
	}
}

// Get returns a copy of the object's current state, for read-only
// callers (Describe, GetCacheObjectSize, GetCacheObjectFilename).
func (tc *TypeCache) Get(id pathcodec.ObjectId) (Object, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	o, ok := tc.objects[id]
	if !ok {
		return Object{}, false
	}
	return *o, true
}

// recover installs a reconstructed object during WalkDirTree. It does
// not go through Reserve since the on-disk content already exists.
func (tc *TypeCache) recover(o *Object) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.objects[o.ID] = o
	tc.usedBytes += o.Size
}

// forget drops id from the in-memory map without touching the disk, used
// by CleanupOrphans when the backing path is already gone.
func (tc *TypeCache) forget(id pathcodec.ObjectId) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if o, ok := tc.objects[id]; ok {
		tc.usedBytes -= o.Size
		delete(tc.objects, id)
	}
}

// all returns a snapshot copy of every currently tracked object, for
// maintenance sweeps; sweeps act on the live objects by id.
func (tc *TypeCache) all() []*Object {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	out := make([]*Object, 0, len(tc.objects))
	for _, o := range tc.objects {
		c := *o
		out = append(out, &c)
	}
	return out
}

// allEvictable reports whether every tracked object is evictable (used by
// DeleteType to decide whether it may proceed).
func (tc *TypeCache) allEvictable() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for _, o := range tc.objects {
		if !o.IsEvictable() {
			return false
		}
	}
	return true
}

// drain removes every (evictable) tracked object and returns the bytes
// freed. Precondition: allEvictable() is true.
func (tc *TypeCache) drain() int64 {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	var freed int64
	for id, o := range tc.objects {
		freed += o.Size
		delete(tc.objects, id)
		if err := tc.layout.RemoveObject(tc.params.Name, o.ID, o.Filename); err != nil {
			logWarn("remove object %s/%d: %v", tc.params.Name, uint64(o.ID), err)
		}
	}
	tc.usedBytes = 0
	return freed
}
