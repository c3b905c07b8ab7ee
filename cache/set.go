// Package cache implements the Cache Engine of the file cache service:
// the type registry, object lifecycle, watermark/eviction accounting,
// subscription pinning, and on-disk/in-memory reconciliation. It is the
// core consumed by an external request dispatcher (see package adapter)
// but has no dependency on any particular transport.
package cache

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ndcache/filecache/cerrors"
	"github.com/ndcache/filecache/pathcodec"
	"github.com/ndcache/filecache/store"
)

// Set is the top-level registry of types: the Cache Set of spec.md §4.5.
// It owns every TypeCache and routes requests to the one named by a
// request's type name.
type Set struct {
	Root   string
	layout *store.Layout
	clock  clock.Clock

	mu          sync.RWMutex
	types       map[string]*TypeCache
	objectIndex map[pathcodec.ObjectId]string // id -> owning type name

	nextIDCounter uint64 // accessed atomically

	Subscriptions *Table
}

// NewSet creates a Set rooted at root. The caller must call WalkDirTree
// and CleanupAtStartup before accepting requests, mirroring the
// original's ServiceApp constructor sequence (see SPEC_FULL.md §6).
func NewSet(root string, clk clock.Clock) (*Set, error) {
	if clk == nil {
		clk = clock.New()
	}
	l := store.New(root)
	if err := l.EnsureRoot(); err != nil {
		return nil, err
	}
	s := &Set{
		Root:        root,
		layout:      l,
		clock:       clk,
		types:       make(map[string]*TypeCache),
		objectIndex: make(map[pathcodec.ObjectId]string),
	}
	s.Subscriptions = NewTable(s)
	return s, nil
}

func (s *Set) nextID() pathcodec.ObjectId {
	return pathcodec.ObjectId(atomic.AddUint64(&s.nextIDCounter, 1))
}

// DefineType registers a new type. name must be unique; re-defining an
// existing name returns ExistsError unconditionally (see SPEC_FULL.md §7
// Open Question Decisions — ConfigurationError is reserved but never
// returned by this implementation).
func (s *Set) DefineType(params TypeParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.types[params.Name]; exists {
		return cerrors.New(cerrors.ExistsError, "type already defined")
	}
	if err := s.layout.CreateTypeDir(params.Name); err != nil {
		return cerrors.Wrap(cerrors.DefineError, err, "create type dir")
	}
	tc := newTypeCache(params, s.layout, s.clock, s.nextID)
	tc.setOnRemove(s.forgetIndexEntry)
	s.types[params.Name] = tc
	s.checkWatermarkBudgetLocked()
	return nil
}

// forgetIndexEntry drops id from the id -> typeName index. Installed on
// every TypeCache as its onRemove hook so eviction, immediate Expire, and
// deferred-expiry resolution via Unsubscribe/CloseWrite all keep the index
// in step with what each TypeCache actually still holds.
func (s *Set) forgetIndexEntry(id pathcodec.ObjectId) {
	s.mu.Lock()
	delete(s.objectIndex, id)
	s.mu.Unlock()
}

// checkWatermarkBudgetLocked logs (but does not reject) a loWatermark sum
// over every registered type, including one DefineType has just added,
// that exceeds the filesystem's available space, per spec.md §5 and
// SPEC_FULL.md's Open Question Decision. Caller must hold s.mu.
func (s *Set) checkWatermarkBudgetLocked() {
	var sum int64
	for _, tc := range s.types {
		sum += tc.Params().LoWatermark
	}
	free, err := availableBytes(s.Root)
	if err == nil && sum > free {
		logWarn("sum of loWatermarks (%d) exceeds available disk space (%d) under %s", sum, free, s.Root)
	}
}

// ChangeType applies a partial parameter update to an existing type.
func (s *Set) ChangeType(name string, partial TypeParams) error {
	tc, err := s.lookupType(name)
	if err != nil {
		return cerrors.New(cerrors.ChangeError, "no such type")
	}
	if err := tc.applyChange(partial); err != nil {
		return err
	}
	return nil
}

// DeleteType removes typeName's directory and every tracked object in
// it, returning the bytes reclaimed. Fails with DeleteError if any
// object is non-evictable.
func (s *Set) DeleteType(name string) (int64, error) {
	s.mu.Lock()
	tc, ok := s.types[name]
	if !ok {
		s.mu.Unlock()
		return 0, cerrors.New(cerrors.DeleteError, "no such type")
	}
	s.mu.Unlock()

	if !tc.allEvictable() {
		return 0, cerrors.New(cerrors.DeleteError, "type has objects in use")
	}

	freed := tc.drain()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.layout.RemoveTypeDir(name); err != nil {
		return freed, cerrors.Wrap(cerrors.DeleteError, err, "remove type dir")
	}
	for id, tn := range s.objectIndex {
		if tn == name {
			delete(s.objectIndex, id)
		}
	}
	delete(s.types, name)
	return freed, nil
}

// DescribeType returns the current parameters of name.
func (s *Set) DescribeType(name string) (TypeParams, error) {
	tc, err := s.lookupType(name)
	if err != nil {
		return TypeParams{}, cerrors.New(cerrors.ExistsError, "no such type")
	}
	return tc.Params(), nil
}

// TypeExists reports whether name is currently registered.
func (s *Set) TypeExists(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.types[name]
	return ok
}

// GetTypes returns the names of every registered type.
func (s *Set) GetTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.types))
	for name := range s.types {
		names = append(names, name)
	}
	return names
}

// Status is the payload of GetCacheStatus.
type Status struct {
	NumTypes   int
	TotalSize  int64
	NumObjs    int
	AvailSpace int64
}

// GetCacheStatus aggregates usage across every registered type.
func (s *Set) GetCacheStatus() Status {
	s.mu.RLock()
	types := make([]*TypeCache, 0, len(s.types))
	for _, tc := range s.types {
		types = append(types, tc)
	}
	s.mu.RUnlock()

	var st Status
	st.NumTypes = len(types)
	for _, tc := range types {
		used, count := tc.Status()
		st.TotalSize += used
		st.NumObjs += count
	}
	if free, err := availableBytes(s.Root); err == nil {
		st.AvailSpace = free
	}
	return st
}

// GetCacheTypeStatus reports usage for a single type.
func (s *Set) GetCacheTypeStatus(name string) (usedBytes int64, numObjs int, err error) {
	tc, err := s.lookupType(name)
	if err != nil {
		return 0, 0, cerrors.New(cerrors.ExistsError, "no such type")
	}
	used, count := tc.Status()
	return used, count, nil
}

func (s *Set) lookupType(name string) (*TypeCache, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tc, ok := s.types[name]
	if !ok {
		return nil, cerrors.New(cerrors.ExistsError, "no such type")
	}
	return tc, nil
}

func (s *Set) lookupOwner(id pathcodec.ObjectId) (*TypeCache, string, error) {
	s.mu.RLock()
	typeName, ok := s.objectIndex[id]
	s.mu.RUnlock()
	if !ok {
		return nil, "", cerrors.New(cerrors.ExistsError, "no such object")
	}
	tc, err := s.lookupType(typeName)
	return tc, typeName, err
}

// InsertResult is the payload of InsertCacheObject.
type InsertResult struct {
	ID         pathcodec.ObjectId
	Path       string
	Subscribed bool
}

// Insert resolves size/cost/lifetime against typeName's defaults when
// the corresponding argument is 0, admits the reservation (evicting if
// necessary), and creates the backing path. If subscribe is true and a
// handle is supplied, the new object is immediately pinned.
func (s *Set) Insert(typeName, filename string, size, cost, lifetime int64, subscribe bool, handle HandleID) (InsertResult, error) {
	tc, err := s.lookupType(typeName)
	if err != nil {
		return InsertResult{}, err
	}
	params := tc.Params()
	if size == 0 {
		size = params.DefaultSize
	}
	if cost == 0 {
		cost = int64(params.DefaultCost)
	}
	if lifetime == 0 {
		lifetime = params.DefaultLifetime
	}
	if params.DirType && size <= blockSize {
		return InsertResult{}, cerrors.New(cerrors.InvalidParams, "dirType object size must exceed one filesystem block")
	}
	if filename == "" {
		return InsertResult{}, cerrors.New(cerrors.ArgumentError, "no filename available")
	}

	obj, err := tc.Insert(filename, size, cost, lifetime)
	if err != nil {
		return InsertResult{}, err
	}

	s.mu.Lock()
	s.objectIndex[obj.ID] = typeName
	s.mu.Unlock()

	res := InsertResult{ID: obj.ID, Path: obj.Path}
	if subscribe && handle != "" {
		if _, err := s.Subscriptions.Add(handle, typeName, obj.ID); err == nil {
			res.Subscribed = true
		}
	}
	return res, nil
}

// CloseWrite marks id as no longer receiving content, the transition
// spec.md §3 calls writeOpen -> false when the client closes the file
// handle Insert returned.
func (s *Set) CloseWrite(id pathcodec.ObjectId) error {
	tc, _, err := s.lookupOwner(id)
	if err != nil {
		return err
	}
	tc.CloseWrite(id)
	return nil
}

// Resize changes id's reservation to newSize.
func (s *Set) Resize(id pathcodec.ObjectId, newSize int64) (int64, error) {
	if newSize <= 0 {
		return 0, cerrors.New(cerrors.InvalidParams, "newSize must be > 0")
	}
	tc, _, err := s.lookupOwner(id)
	if err != nil {
		return 0, err
	}
	return tc.Resize(id, newSize)
}

// Expire expires id, deferring if it is currently in use. Immediate
// removal drops id from the index via the owning TypeCache's onRemove
// hook.
func (s *Set) Expire(id pathcodec.ObjectId) error {
	tc, _, err := s.lookupOwner(id)
	if err != nil {
		return err
	}
	return tc.Expire(id)
}

// Touch refreshes id's lastAccessAt.
func (s *Set) Touch(id pathcodec.ObjectId) error {
	tc, _, err := s.lookupOwner(id)
	if err != nil {
		return err
	}
	tc.Touch(id)
	return nil
}

// Subscribe pins id on behalf of handle.
func (s *Set) Subscribe(handle HandleID, id pathcodec.ObjectId) (string, error) {
	_, typeName, err := s.lookupOwner(id)
	if err != nil {
		return "", err
	}
	return s.Subscriptions.Add(handle, typeName, id)
}

// Unsubscribe releases handle's pin.
func (s *Set) Unsubscribe(handle HandleID) {
	s.Subscriptions.Cancel(handle)
}

// subscribeRoute and unsubscribeRoute satisfy the router interface
// subscription.Table uses, so the table never needs a back-pointer into
// Set's internals beyond this narrow seam.
func (s *Set) subscribeRoute(typeName string, id pathcodec.ObjectId) (string, error) {
	tc, err := s.lookupType(typeName)
	if err != nil {
		return "", err
	}
	return tc.Subscribe(id)
}

func (s *Set) unsubscribeRoute(typeName string, id pathcodec.ObjectId) {
	tc, err := s.lookupType(typeName)
	if err != nil {
		return
	}
	// If this cancels the last pin on a deferred-expire object, tc's
	// onRemove hook drops it from s.objectIndex.
	tc.Unsubscribe(id)
}

// Describe returns the in-memory state of id, for GetCacheObjectSize /
// GetCacheObjectFilename.
func (s *Set) Describe(id pathcodec.ObjectId) (Object, error) {
	tc, _, err := s.lookupOwner(id)
	if err != nil {
		return Object{}, err
	}
	o, ok := tc.Get(id)
	if !ok {
		return Object{}, cerrors.New(cerrors.ExistsError, "no such object")
	}
	return o, nil
}

// WalkDirTree enumerates each type directory, decodes ids from shard
// entries, and reconstructs Object records from filesystem truth: size
// from stat, filename from the on-disk name, createdAt = lastAccessAt =
// file mtime, cost/lifetime from the owning type's current defaults
// (there is no on-disk record of an object's original cost/lifetime).
// The id counter is set to max(discovered id) + 1.
//
// Must be called, followed by CleanupAtStartup, before the Set is handed
// to a dispatcher — mirroring the original service's constructor
// sequence (SPEC_FULL.md §6).
func (s *Set) WalkDirTree() error {
	dirs, err := s.layout.ListTypeDirs()
	if err != nil {
		return err
	}
	var maxID uint64
	for _, typeName := range dirs {
		s.mu.RLock()
		tc, ok := s.types[typeName]
		s.mu.RUnlock()
		if !ok {
			// Unknown top-level directory: the type registry is
			// authoritative and this dir was not declared. Nothing
			// under it is loaded, and it is left untouched on disk.
			continue
		}
		shards, err := s.layout.ListShards(typeName)
		if err != nil {
			logDiskError("list shards for "+typeName, err)
			continue
		}
		for _, shard := range shards {
			entries, err := s.layout.ListEntries(typeName, shard)
			if err != nil {
				logDiskError("list entries for "+typeName+"/"+shard, err)
				continue
			}
			for _, e := range entries {
				id, filename := decodeShardEntry(shard, e.Name)
				if id == 0 {
					continue
				}
				params := tc.Params()
				obj := &Object{
					ID:           id,
					Path:         pathcodec.EncodePath(s.Root, typeName, id, filename),
					Filename:     filename,
					Size:         e.Size,
					Cost:         params.DefaultCost,
					Lifetime:     params.DefaultLifetime,
					CreatedAt:    e.ModTime,
					LastAccessAt: e.ModTime,
				}
				tc.recover(obj)
				s.mu.Lock()
				s.objectIndex[id] = typeName
				s.mu.Unlock()
				if uint64(id) > maxID {
					maxID = uint64(id)
				}
			}
		}
	}
	atomic.StoreUint64(&s.nextIDCounter, maxID)
	return nil
}

// decodeShardEntry splits a shard-relative entry name (as produced by
// EncodePath: "<tail>[-<filename>]") into its ObjectId and filename.
func decodeShardEntry(shard, name string) (pathcodec.ObjectId, string) {
	fullHex := shard + name
	sep := -1
	for i, c := range fullHex {
		if c == '-' {
			sep = i
			break
		}
	}
	var hexPart, filename string
	if sep < 0 {
		hexPart = fullHex
	} else {
		hexPart = fullHex[:sep]
		filename = fullHex[sep+1:]
	}
	n, err := strconv.ParseUint(hexPart, 16, 64)
	if err != nil {
		return 0, ""
	}
	return pathcodec.ObjectId(n), filename
}

// CleanupAtStartup purges in-memory records whose backing file is
// missing (via CleanupOrphans). Objects under a type directory never
// declared by DefineType are not loaded by WalkDirTree in the first
// place, so there is nothing to purge for them; their directories stay
// on disk.
func (s *Set) CleanupAtStartup() {
	s.CleanupOrphans()
}

// CleanupOrphans drops the in-memory record for any object whose
// backing path no longer exists on disk.
func (s *Set) CleanupOrphans() {
	s.mu.RLock()
	types := make([]*TypeCache, 0, len(s.types))
	for _, tc := range s.types {
		types = append(types, tc)
	}
	s.mu.RUnlock()

	for _, tc := range types {
		for _, o := range tc.all() {
			_, exists, err := store.Stat(o.Path)
			if err != nil {
				logDiskError("stat "+o.Path, err)
				continue
			}
			if !exists {
				tc.forget(o.ID)
				s.mu.Lock()
				delete(s.objectIndex, o.ID)
				s.mu.Unlock()
			}
		}
	}
}

// CleanupDirTypes removes evictable dirType objects whose lastAccessAt is
// older than threshold. The contents of the object's directory are not
// inspected; writes into it do not count as access.
func (s *Set) CleanupDirTypes(threshold time.Duration) {
	s.mu.RLock()
	types := make([]*TypeCache, 0, len(s.types))
	for _, tc := range s.types {
		if tc.Params().DirType {
			types = append(types, tc)
		}
	}
	s.mu.RUnlock()

	cutoff := s.clock.Now().Add(-threshold).Unix()
	for _, tc := range types {
		for _, o := range tc.all() {
			if !o.IsEvictable() {
				continue
			}
			if o.LastAccessAt < cutoff {
				tc.Remove(o.ID)
			}
		}
	}
}

// ValidateSubscribed checks every currently subscribed object's backing
// path still exists and that its reported size matches the filesystem.
// Discrepancies reset lastAccessAt, per the Maintenance Scheduler's 15s
// task (spec.md §4.7).
func (s *Set) ValidateSubscribed() {
	s.mu.RLock()
	types := make([]*TypeCache, 0, len(s.types))
	for _, tc := range s.types {
		types = append(types, tc)
	}
	s.mu.RUnlock()

	for _, tc := range types {
		for _, o := range tc.all() {
			if o.SubscriberCount == 0 {
				continue
			}
			size, exists, err := store.Stat(o.Path)
			if err != nil {
				logDiskError("validate "+o.Path, err)
				continue
			}
			if !exists || size != o.Size {
				tc.Touch(o.ID)
			}
		}
	}
}
