package cache

import "github.com/ndcache/filecache/pathcodec"

// Object is the in-memory record for one cached item, carrying the
// cost/lifetime/subscriber/pending-expire fields spec.md's eviction
// model needs on top of a plain LRU entry.
type Object struct {
	ID   pathcodec.ObjectId
	Path string // full on-disk path, as returned by the layout

	// Filename is the caller-supplied basename used when copying out.
	// Extension matters: it is what CopyCacheObject preserves.
	Filename string

	Size     int64
	Cost     int   // 0-100
	Lifetime int64 // seconds; 0 means "no lifetime limit"

	CreatedAt    int64 // unix seconds from the Set's clock (file mtime when recovered)
	LastAccessAt int64 // unix seconds from the Set's clock (file mtime when recovered)

	// WriteOpen is true while the object is still receiving content:
	// Insert has returned a path but the client has not yet closed the
	// file. Expiry is deferred while this is true.
	WriteOpen bool

	SubscriberCount int

	// PendingExpire is set when Expire is called on a non-evictable
	// object. The object is removed the moment SubscriberCount reaches
	// 0 and WriteOpen is false.
	PendingExpire bool
}

// IsEvictable reports whether the object may be removed right now: no
// live subscribers and not mid-write.
func (o *Object) IsEvictable() bool {
	return o.SubscriberCount == 0 && !o.WriteOpen
}
