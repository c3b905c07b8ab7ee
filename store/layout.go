// Package store maintains the directory tree backing the cache: one
// directory per type, two-level shard directories under each, and one
// file (or, for dirType types, one directory) per cached object.
package store

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/ndcache/filecache/cerrors"
	"github.com/ndcache/filecache/pathcodec"
)

// Layout owns the filesystem tree rooted at Root. Root is created on
// first use if it does not already exist.
type Layout struct {
	Root string
}

// New returns a Layout rooted at root. It does not touch the filesystem;
// call EnsureRoot to create it.
func New(root string) *Layout {
	return &Layout{Root: root}
}

// EnsureRoot creates the root directory if it does not already exist.
func (l *Layout) EnsureRoot() error {
	if err := os.MkdirAll(l.Root, 0775); err != nil {
		return cerrors.Wrap(cerrors.DirectoryError, err, "create cache root")
	}
	return nil
}

// CreateTypeDir creates the top-level directory for typeName.
func (l *Layout) CreateTypeDir(typeName string) error {
	dir := filepath.Join(l.Root, typeName)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return cerrors.Wrap(cerrors.DirectoryError, err, "create type dir")
	}
	return nil
}

// RemoveTypeDir removes the top-level directory for typeName and
// everything under it. Called only from DeleteType, after every object
// belonging to the type has already been removed.
func (l *Layout) RemoveTypeDir(typeName string) error {
	dir := filepath.Join(l.Root, typeName)
	if err := os.RemoveAll(dir); err != nil {
		return cerrors.Wrap(cerrors.DirectoryError, err, "remove type dir")
	}
	return nil
}

// CreateObject creates the backing path for id within typeName: a plain
// file when dirType is false, an (initially empty) directory when it is
// true. Missing shard directories are created as needed. On any failure
// the shard directory is removed again if that leaves it empty.
func (l *Layout) CreateObject(typeName string, id pathcodec.ObjectId, filename string, dirType bool) (string, error) {
	path := pathcodec.EncodePath(l.Root, typeName, id, filename)
	shardDir := filepath.Dir(path)
	if err := os.MkdirAll(shardDir, 0775); err != nil {
		return "", cerrors.Wrap(cerrors.DiskError, err, "create shard dir")
	}
	if dirType {
		if err := os.Mkdir(path, 0775); err != nil {
			os.Remove(shardDir) // fails, harmlessly, unless empty
			return "", cerrors.Wrap(cerrors.DiskError, err, "create object dir")
		}
		return path, nil
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0664)
	if err != nil {
		os.Remove(shardDir) // fails, harmlessly, unless empty
		return "", cerrors.Wrap(cerrors.DiskError, err, "create object file")
	}
	f.Close()
	return path, nil
}

// RemoveObject deletes the tail (file or directory) for id under
// typeName, then removes the shard directory if it is left empty. The
// type directory itself is never removed here; only DeleteType removes
// it. Errors are logged by the caller and swallowed. No later sweep
// retries the removal: CleanupOrphans only drops in-memory records whose
// path is already gone, and the caller has dropped the record already.
func (l *Layout) RemoveObject(typeName string, id pathcodec.ObjectId, filename string) error {
	path := pathcodec.EncodePath(l.Root, typeName, id, filename)
	if err := os.RemoveAll(path); err != nil {
		return errors.Wrap(err, "remove object")
	}
	shardDir := filepath.Dir(path)
	entries, err := ioutil.ReadDir(shardDir)
	if err == nil && len(entries) == 0 {
		os.Remove(shardDir) // best effort; ignore error
	}
	return nil
}

// ListTypeDirs returns the names of the top-level directories under Root.
func (l *Layout) ListTypeDirs() ([]string, error) {
	entries, err := ioutil.ReadDir(l.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cerrors.Wrap(cerrors.DirectoryError, err, "list type dirs")
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// ListShards returns the shard directory names under typeName.
func (l *Layout) ListShards(typeName string) ([]string, error) {
	dir := filepath.Join(l.Root, typeName)
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cerrors.Wrap(cerrors.DirectoryError, err, "list shards")
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Entry describes one on-disk object found under a shard, as used by the
// startup reconciliation walk.
type Entry struct {
	Name    string // on-disk tail name, including any "-filename" suffix
	Size    int64  // file size, or total size of directory contents for dirType
	ModTime int64  // unix seconds
	IsDir   bool
}

// ListEntries returns every object found directly under the given shard
// directory of typeName.
func (l *Layout) ListEntries(typeName, shard string) ([]Entry, error) {
	dir := filepath.Join(l.Root, typeName, shard)
	fis, err := ioutil.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cerrors.Wrap(cerrors.DirectoryError, err, "list entries")
	}
	entries := make([]Entry, 0, len(fis))
	for _, fi := range fis {
		size := fi.Size()
		if fi.IsDir() {
			size = dirSize(filepath.Join(dir, fi.Name()))
		}
		entries = append(entries, Entry{
			Name:    fi.Name(),
			Size:    size,
			ModTime: fi.ModTime().Unix(),
			IsDir:   fi.IsDir(),
		})
	}
	return entries, nil
}

// Stat reports the current size and whether path exists. It is used by
// the maintenance scheduler to validate subscribed objects against the
// filesystem.
func Stat(path string) (size int64, exists bool, err error) {
	fi, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return 0, false, nil
		}
		return 0, false, statErr
	}
	if fi.IsDir() {
		return dirSize(path), true, nil
	}
	return fi.Size(), true, nil
}

func dirSize(root string) int64 {
	var total int64
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}

// OpenReader opens path for reading. A dirType object's directory is not
// supported: os.Open succeeds on it but reads fail. adapter/copier does
// not use this function and has no directory copy path either.
func OpenReader(path string) (io.ReadCloser, error) {
	return os.Open(path)
}
