package store

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ndcache/filecache/pathcodec"
)

func tempLayout(t *testing.T) *Layout {
	t.Helper()
	dir, err := ioutil.TempDir("", "filecache-layout-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	l := New(dir)
	require.NoError(t, l.EnsureRoot())
	return l
}

func TestCreateAndRemoveFileObject(t *testing.T) {
	l := tempLayout(t)
	require.NoError(t, l.CreateTypeDir("videos"))

	path, err := l.CreateObject("videos", pathcodec.ObjectId(7), "clip.mp4", false)
	require.NoError(t, err)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.False(t, fi.IsDir())

	require.NoError(t, l.RemoveObject("videos", pathcodec.ObjectId(7), "clip.mp4"))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))

	// shard directory should be cleaned up once empty
	shardDir := filepath.Dir(path)
	_, err = os.Stat(shardDir)
	require.True(t, os.IsNotExist(err))
}

func TestCreateDirTypeObject(t *testing.T) {
	l := tempLayout(t)
	require.NoError(t, l.CreateTypeDir("backups"))

	path, err := l.CreateObject("backups", pathcodec.ObjectId(99), "snapshot", true)
	require.NoError(t, err)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.True(t, fi.IsDir())
}

func TestCreateObjectExclusiveFailsOnDuplicate(t *testing.T) {
	l := tempLayout(t)
	require.NoError(t, l.CreateTypeDir("videos"))
	_, err := l.CreateObject("videos", pathcodec.ObjectId(1), "a.mp4", false)
	require.NoError(t, err)
	_, err = l.CreateObject("videos", pathcodec.ObjectId(1), "a.mp4", false)
	require.Error(t, err)
}

func TestListTypeDirsAndShards(t *testing.T) {
	l := tempLayout(t)
	require.NoError(t, l.CreateTypeDir("videos"))
	_, err := l.CreateObject("videos", pathcodec.ObjectId(1), "a.mp4", false)
	require.NoError(t, err)

	types, err := l.ListTypeDirs()
	require.NoError(t, err)
	require.Contains(t, types, "videos")

	shards, err := l.ListShards("videos")
	require.NoError(t, err)
	require.Len(t, shards, 1)

	entries, err := l.ListEntries("videos", shards[0])
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRemoveTypeDirRemovesEverything(t *testing.T) {
	l := tempLayout(t)
	require.NoError(t, l.CreateTypeDir("videos"))
	_, err := l.CreateObject("videos", pathcodec.ObjectId(1), "a.mp4", false)
	require.NoError(t, err)

	require.NoError(t, l.RemoveTypeDir("videos"))
	_, err = os.Stat(filepath.Join(l.Root, "videos"))
	require.True(t, os.IsNotExist(err))
}
