// Package pathcodec encodes and decodes the on-disk path of a cached
// object. An ObjectId is formatted as a fixed-width hex string; the first
// two digits name a shard directory and the remainder names the tail.
// Because ids are zero-padded and assigned from 1 upward, the shard is
// "00" for every id below 2^56, so in practice all of a type's objects
// share one shard directory.
package pathcodec

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// idWidth is the number of hex digits used to format an ObjectId. 16 digits
// cover the full 64-bit id space.
const idWidth = 16

// shardWidth is the number of leading hex digits that form the shard
// directory name.
const shardWidth = 2

// ObjectId is a positive, process-lifetime-unique identifier for a cached
// object. Zero is reserved to mean "invalid".
type ObjectId uint64

// Format renders the id as a fixed-width, zero-padded hex string.
func (id ObjectId) Format() string {
	return fmt.Sprintf("%0*x", idWidth, uint64(id))
}

// EncodePath returns the path of the object's backing file/directory,
// rooted at root. filename is appended as a suffix to the tail so that a
// dirType object's directory, or a plain object's file, keeps a meaningful
// extension for CopyCacheObject's destination naming.
func EncodePath(root, typeName string, id ObjectId, filename string) string {
	hex := id.Format()
	shard := hex[:shardWidth]
	tail := hex[shardWidth:]
	if filename != "" {
		tail = tail + "-" + filename
	}
	return filepath.Join(root, typeName, shard, tail)
}

// DecodeObjectId extracts the ObjectId encoded in path. It tolerates
// trailing content after the encoded tail (e.g. the "-filename" suffix
// EncodePath appends whenever a filename is given) and returns 0 on any
// malformation: wrong shard width, non-hex digits, or a path that doesn't
// have at least a shard and a tail component.
func DecodeObjectId(path string) ObjectId {
	shard, tail := filepath.Split(path)
	shard = filepath.Base(filepath.Clean(shard))
	if len(shard) != shardWidth {
		return 0
	}
	idLen := idWidth - shardWidth
	if len(tail) < idLen {
		return 0
	}
	hex := shard + tail[:idLen]
	n, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0
	}
	return ObjectId(n)
}

// ExtractTypeName returns the first path segment found immediately under
// root. It returns "" if path is not lexically under root.
func ExtractTypeName(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.SplitN(filepath.ToSlash(rel), "/", 2)
	if len(parts) == 0 || parts[0] == "." || parts[0] == "" {
		return ""
	}
	return parts[0]
}
