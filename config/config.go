// Package config loads the process bootstrap file: the cache root, the
// default copy destination, and the type registry that spec.md §2 says
// is "provided by an external configuration step at each startup — the
// cache does not persist type parameters." The core engine in package
// cache never reads this file itself; cmd/filecached decodes it once
// and calls Set.DefineType for every entry before serving requests.
package config

import (
	"github.com/BurntSushi/toml"

	"github.com/ndcache/filecache/cache"
	"github.com/ndcache/filecache/cerrors"
)

// Type is one [[type]] table in the bootstrap file, mirroring
// cache.TypeParams field-for-field so the TOML shape stays obvious from
// the Go struct.
type Type struct {
	Name            string `toml:"name"`
	LoWatermark     int64  `toml:"lo_watermark"`
	HiWatermark     int64  `toml:"hi_watermark"`
	DefaultSize     int64  `toml:"default_size"`
	DefaultCost     int    `toml:"default_cost"`
	DefaultLifetime int64  `toml:"default_lifetime"`
	DirType         bool   `toml:"dir_type"`
}

// Params converts a Type into the cache.TypeParams DefineType expects.
func (t Type) Params() cache.TypeParams {
	return cache.TypeParams{
		Name:            t.Name,
		LoWatermark:     t.LoWatermark,
		HiWatermark:     t.HiWatermark,
		DefaultSize:     t.DefaultSize,
		DefaultCost:     t.DefaultCost,
		DefaultLifetime: t.DefaultLifetime,
		DirType:         t.DirType,
	}
}

// File is the top-level shape of the bootstrap TOML document.
type File struct {
	CacheRoot    string `toml:"cache_root"`
	CopyDestDir  string `toml:"copy_dest_dir"`
	ListenAddr   string `toml:"listen_addr"`
	IdleShutdown string `toml:"idle_shutdown"`
	Types        []Type `toml:"type"`
}

// Load decodes the bootstrap file at path.
func Load(path string) (File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return File{}, cerrors.Wrap(cerrors.InvalidParams, err, "decoding bootstrap file "+path)
	}
	if f.CacheRoot == "" {
		return File{}, cerrors.New(cerrors.InvalidParams, "cache_root is required")
	}
	return f, nil
}

// DefineTypes registers every type in f against set, in file order. It
// stops at the first failure; callers that want a partial registry to
// still come up should call DefineType themselves entry by entry and
// log failures instead.
func (f File) DefineTypes(set *cache.Set) error {
	for _, t := range f.Types {
		if err := set.DefineType(t.Params()); err != nil {
			return cerrors.Wrap(cerrors.DefineError, err, "defining type "+t.Name)
		}
	}
	return nil
}
