// Package adapter defines the external collaborators spec.md §1 calls
// "out of scope": the RPC dispatch layer, the sandbox policy check for
// copy destinations, and the asynchronous file copier. The cache engine
// in package cache never imports this package; adapter imports cache,
// translating pathName-addressed requests into the ObjectId-addressed
// calls the engine exposes.
package adapter

import (
	"context"

	"github.com/ndcache/filecache/cache"
	"github.com/ndcache/filecache/cerrors"
	"github.com/ndcache/filecache/pathcodec"
)

// Perm is the access mode a SandboxChecker is asked to authorize. The
// non-read values are bit flags so a caller can ask for WRITE|CREATE in
// one call, matching spec.md §4.8's "IsPathAllowed(path, callerId,
// WRITE|CREATE)".
type Perm int

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermCreate
)

// SandboxChecker implements the copy-destination policy oracle of
// spec.md §4.8: IsPathAllowed(path, callerId, WRITE|CREATE). It is
// consulted before any copy destination is touched.
type SandboxChecker interface {
	IsPathAllowed(path string, callerID string, perm Perm) bool
}

// CopyRequest describes one CopyCacheObject call, already resolved to a
// concrete source path by the Engine.
type CopyRequest struct {
	SourcePath  string
	Destination string
	FileName    string
	CallerID    string
}

// CopyResult is delivered to Reply once an async copy finishes.
type CopyResult struct {
	Destination string
	Err         error
}

// Copier is the asynchronous file-copy utility of spec.md §4.8's third
// bullet: "Delegates the actual copy to an asynchronous copier that
// replies to the caller on completion." Submit must not block waiting
// for the copy itself; it only enqueues the work and returns once the
// copier has accepted it (or rejected it outright, e.g. after the copier
// was closed). Failures of the copy itself, such as an unreadable
// source, are delivered through reply.
type Copier interface {
	Submit(ctx context.Context, req CopyRequest, reply func(CopyResult)) error
}

// Engine wraps the concrete *cache.Set with the external collaborators
// the request surface in spec.md §6 needs. The HTTP adapter (and any
// future transport) calls Engine rather than Set, so pathName
// translation lives in one place.
type Engine struct {
	Set     *cache.Set
	Sandbox SandboxChecker
	Copier  Copier
	// DefaultCopyDestDir is used when a CopyCacheObject request omits
	// destination, per spec.md §6's "Default copy destination".
	DefaultCopyDestDir string
}

// NewEngine wires a cache.Set with its external collaborators.
func NewEngine(set *cache.Set, sandbox SandboxChecker, copier Copier, defaultCopyDestDir string) *Engine {
	return &Engine{Set: set, Sandbox: sandbox, Copier: copier, DefaultCopyDestDir: defaultCopyDestDir}
}

// resolveID maps a pathName from the request surface back to the
// ObjectId the core operates on, via pathcodec.DecodeObjectId. The type
// name in the path is not consulted; the Set's id index finds the owner.
func (e *Engine) resolveID(pathName string) (pathcodec.ObjectId, error) {
	id := pathcodec.DecodeObjectId(pathName)
	if id == 0 {
		return 0, cerrors.New(cerrors.ArgumentError, "pathName does not decode to a cache object: "+pathName)
	}
	return id, nil
}
