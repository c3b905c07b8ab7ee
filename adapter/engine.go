package adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ndcache/filecache/cache"
	"github.com/ndcache/filecache/cerrors"
)

// MaxUniqueFileIndex bounds the "-(N)" destination-uniqueness retry of
// spec.md §5's Resource caps, implementation-chosen like the original.
const MaxUniqueFileIndex = 1000

// DefineType implements the request surface method of the same name.
func (e *Engine) DefineType(typeName string, lo, hi, size, cost, lifetime int64, dirType bool) error {
	return e.Set.DefineType(cache.TypeParams{
		Name: typeName, LoWatermark: lo, HiWatermark: hi,
		DefaultSize: size, DefaultCost: int(cost), DefaultLifetime: lifetime, DirType: dirType,
	})
}

// ChangeType implements ChangeType.
func (e *Engine) ChangeType(typeName string, partial cache.TypeParams) error {
	return e.Set.ChangeType(typeName, partial)
}

// DeleteType implements DeleteType, returning freedSpace.
func (e *Engine) DeleteType(typeName string) (int64, error) {
	return e.Set.DeleteType(typeName)
}

// DescribeType implements DescribeType.
func (e *Engine) DescribeType(typeName string) (cache.TypeParams, error) {
	return e.Set.DescribeType(typeName)
}

// InsertCacheObject implements InsertCacheObject.
func (e *Engine) InsertCacheObject(typeName, fileName string, size, cost, lifetime int64, subscribe bool, handle cache.HandleID) (cache.InsertResult, error) {
	return e.Set.Insert(typeName, fileName, size, cost, lifetime, subscribe, handle)
}

// CloseWrite is not part of the request surface's own method table but
// is how a dispatcher marks the write side of an InsertCacheObject path
// done, before the object is eligible for eviction or expiry.
func (e *Engine) CloseWrite(pathName string) error {
	id, err := e.resolveID(pathName)
	if err != nil {
		return err
	}
	return e.Set.CloseWrite(id)
}

// ResizeCacheObject implements ResizeCacheObject.
func (e *Engine) ResizeCacheObject(pathName string, newSize int64) (int64, error) {
	id, err := e.resolveID(pathName)
	if err != nil {
		return 0, err
	}
	return e.Set.Resize(id, newSize)
}

// ExpireCacheObject implements ExpireCacheObject. A deferred expiry is
// not an adapter-level failure: the dispatcher reports success with no
// payload either way, per spec.md §6 ("none (may be deferred)").
func (e *Engine) ExpireCacheObject(pathName string) error {
	id, err := e.resolveID(pathName)
	if err != nil {
		return err
	}
	err = e.Set.Expire(id)
	if err == cache.ErrDeferredExpire {
		return nil
	}
	return err
}

// SubscribeCacheObject implements SubscribeCacheObject.
func (e *Engine) SubscribeCacheObject(pathName string, handle cache.HandleID) error {
	id, err := e.resolveID(pathName)
	if err != nil {
		return err
	}
	_, err = e.Set.Subscribe(handle, id)
	return err
}

// UnsubscribeCacheObject cancels a prior SubscribeCacheObject, the
// request-handle-cancellation path of spec.md §5's Cancellation rule.
func (e *Engine) UnsubscribeCacheObject(handle cache.HandleID) {
	e.Set.Unsubscribe(handle)
}

// TouchCacheObject implements TouchCacheObject.
func (e *Engine) TouchCacheObject(pathName string) error {
	id, err := e.resolveID(pathName)
	if err != nil {
		return err
	}
	return e.Set.Touch(id)
}

// GetCacheStatus implements GetCacheStatus.
func (e *Engine) GetCacheStatus() cache.Status {
	return e.Set.GetCacheStatus()
}

// GetCacheTypeStatus implements GetCacheTypeStatus.
func (e *Engine) GetCacheTypeStatus(typeName string) (size int64, numObjs int, err error) {
	return e.Set.GetCacheTypeStatus(typeName)
}

// GetCacheObjectSize implements GetCacheObjectSize.
func (e *Engine) GetCacheObjectSize(pathName string) (int64, error) {
	id, err := e.resolveID(pathName)
	if err != nil {
		return 0, err
	}
	obj, err := e.Set.Describe(id)
	if err != nil {
		return 0, err
	}
	return obj.Size, nil
}

// GetCacheObjectFilename implements GetCacheObjectFilename.
func (e *Engine) GetCacheObjectFilename(pathName string) (string, error) {
	id, err := e.resolveID(pathName)
	if err != nil {
		return "", err
	}
	obj, err := e.Set.Describe(id)
	if err != nil {
		return "", err
	}
	return obj.Filename, nil
}

// GetCacheTypes implements GetCacheTypes.
func (e *Engine) GetCacheTypes() []string {
	return e.Set.GetTypes()
}

// CopyCacheObject implements CopyCacheObject: validates the destination
// against the sandbox oracle, finds a unique destination filename, and
// hands the actual copy to the async Copier, replying to the caller via
// reply once it completes.
func (e *Engine) CopyCacheObject(ctx context.Context, pathName, destination, fileName, callerID string, reply func(CopyResult)) error {
	id, err := e.resolveID(pathName)
	if err != nil {
		return err
	}
	obj, err := e.Set.Describe(id)
	if err != nil {
		return err
	}
	if destination == "" {
		destination = e.DefaultCopyDestDir
	}
	if fileName == "" {
		fileName = obj.Filename
	}
	if fileName == "" {
		return cerrors.New(cerrors.ArgumentError, "no filename available for copy")
	}

	if e.Sandbox != nil && !e.Sandbox.IsPathAllowed(destination, callerID, PermWrite|PermCreate) {
		return cerrors.New(cerrors.PermError, "destination not writable: "+destination)
	}

	uniqueName, err := e.uniqueDestinationName(destination, fileName)
	if err != nil {
		return err
	}

	req := CopyRequest{
		SourcePath:  obj.Path,
		Destination: filepath.Join(destination, uniqueName),
		FileName:    uniqueName,
		CallerID:    callerID,
	}
	return e.Copier.Submit(ctx, req, reply)
}

// uniqueDestinationName appends "-(N)" to base's stem, for increasing N,
// until a name that does not yet exist at dir is found, per spec.md
// §4.8's second bullet and end-to-end scenario 4 (foo.bar -> foo-(1).bar
// -> foo-(2).bar).
func (e *Engine) uniqueDestinationName(dir, base string) (string, error) {
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]

	candidate := base
	for n := 0; n <= MaxUniqueFileIndex; n++ {
		if n > 0 {
			candidate = fmt.Sprintf("%s-(%d)%s", stem, n, ext)
		}
		full := filepath.Join(dir, candidate)
		if _, err := os.Stat(full); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", cerrors.New(cerrors.ArgumentError, "no unique destination name found")
}
