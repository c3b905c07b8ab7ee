package cache

import (
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/ndcache/filecache/cerrors"
	"github.com/ndcache/filecache/pathcodec"
)

func newTestSet(t *testing.T) (*Set, *clock.Mock) {
	t.Helper()
	dir, err := ioutil.TempDir("", "filecache-set-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	mock := clock.NewMock()
	s, err := NewSet(dir, mock)
	require.NoError(t, err)
	return s, mock
}

func TestDefineTypeRejectsDuplicate(t *testing.T) {
	s, _ := newTestSet(t)
	p := TypeParams{Name: "videos", LoWatermark: 1024, HiWatermark: 4096, DefaultSize: 1024}
	require.NoError(t, s.DefineType(p))
	err := s.DefineType(p)
	require.True(t, cerrors.Is(err, cerrors.ExistsError))
}

func TestDefineTypeRejectsBadName(t *testing.T) {
	s, _ := newTestSet(t)
	err := s.DefineType(TypeParams{Name: ".hidden", LoWatermark: 1024, HiWatermark: 2048})
	require.Error(t, err)
}

func TestInsertEvictsLeastRecentlyTouched(t *testing.T) {
	s, mock := newTestSet(t)
	require.NoError(t, s.DefineType(TypeParams{
		Name: "T", LoWatermark: 2048, HiWatermark: 4096, DefaultSize: 1024,
	}))

	var ids []pathcodec.ObjectId
	for i := 0; i < 4; i++ {
		res, err := s.Insert("T", "f", 1024, 0, 0, false, "")
		require.NoError(t, err)
		require.NoError(t, s.CloseWrite(res.ID))
		ids = append(ids, res.ID)
		mock.Add(time.Second) // lastAccessAt has whole-second resolution
	}

	// used=4096 plus a 5th 1024-byte insert exceeds HiWatermark (4096), so
	// this insert must evict object #1 (least recently touched) first.
	res, err := s.Insert("T", "f", 1024, 0, 0, false, "")
	require.NoError(t, err)
	require.NotZero(t, res.ID)

	_, err = s.Describe(ids[0])
	require.True(t, cerrors.Is(err, cerrors.ExistsError), "object #1 should have been evicted")
}

func TestExpireDeferredThenSubscriptionCancelRemoves(t *testing.T) {
	s, _ := newTestSet(t)
	require.NoError(t, s.DefineType(TypeParams{
		Name: "T", LoWatermark: 1024, HiWatermark: 4096, DefaultSize: 1024,
	}))

	res, err := s.Insert("T", "f", 1024, 0, 0, true, "handle-1")
	require.NoError(t, err)
	require.True(t, res.Subscribed)
	require.NoError(t, s.CloseWrite(res.ID))

	err = s.Expire(res.ID)
	require.Equal(t, ErrDeferredExpire, err)

	_, err = s.Describe(res.ID)
	require.NoError(t, err, "object must still exist while deferred")

	s.Unsubscribe("handle-1")
	_, err = s.Describe(res.ID)
	require.True(t, cerrors.Is(err, cerrors.ExistsError), "object should be gone once unsubscribed")
}

func TestDirTypeSizeValidation(t *testing.T) {
	s, _ := newTestSet(t)
	require.NoError(t, s.DefineType(TypeParams{
		Name: "backups", LoWatermark: 1 << 20, HiWatermark: 1 << 24,
		DefaultSize: 8192, DirType: true,
	}))

	_, err := s.Insert("backups", "snap", blockSize, 0, 0, false, "")
	require.True(t, cerrors.Is(err, cerrors.InvalidParams))

	res, err := s.Insert("backups", "snap", blockSize+1, 0, 0, false, "")
	require.NoError(t, err)
	fi, err := os.Stat(res.Path)
	require.NoError(t, err)
	require.True(t, fi.IsDir())
}

func TestDeleteTypeRequiresEmptyAndReturnsFreedBytes(t *testing.T) {
	s, _ := newTestSet(t)
	require.NoError(t, s.DefineType(TypeParams{
		Name: "T", LoWatermark: 1024, HiWatermark: 8192, DefaultSize: 1024,
	}))

	res1, err := s.Insert("T", "a", 1024, 0, 0, true, "h1")
	require.NoError(t, err)
	res2, err := s.Insert("T", "b", 1024, 0, 0, true, "h2")
	require.NoError(t, err)
	require.NoError(t, s.CloseWrite(res1.ID))
	require.NoError(t, s.CloseWrite(res2.ID))

	_, err = s.DeleteType("T")
	require.True(t, cerrors.Is(err, cerrors.DeleteError), "non-empty type must refuse deletion")

	usedBefore, _, err := s.GetCacheTypeStatus("T")
	require.NoError(t, err)
	require.Equal(t, int64(2048), usedBefore)

	// Expire defers while subscribed; unsubscribing then reclaims each
	// object immediately (spec.md §4.4's Unsubscribe transition).
	require.Equal(t, ErrDeferredExpire, s.Expire(res1.ID))
	require.Equal(t, ErrDeferredExpire, s.Expire(res2.ID))
	s.Unsubscribe("h1")
	s.Unsubscribe("h2")

	usedAfter, numObjs, err := s.GetCacheTypeStatus("T")
	require.NoError(t, err)
	require.Zero(t, usedAfter)
	require.Zero(t, numObjs)
	require.Equal(t, usedBefore, usedBefore-usedAfter, "all bytes reclaimed via deferred expiry + unsubscribe equal the original usage")

	freed, err := s.DeleteType("T")
	require.NoError(t, err)
	require.Zero(t, freed, "type was already emptied by expiry+unsubscribe before DeleteType ran")
}

func TestWalkDirTreeReconstructsStateAcrossRestart(t *testing.T) {
	dir, err := ioutil.TempDir("", "filecache-restart-")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	mock := clock.NewMock()
	s1, err := NewSet(dir, mock)
	require.NoError(t, err)
	require.NoError(t, s1.DefineType(TypeParams{
		Name: "T", LoWatermark: 1024, HiWatermark: 8192, DefaultSize: 1024,
	}))
	res, err := s1.Insert("T", "a.bin", 2048, 7, 0, false, "")
	require.NoError(t, err)
	// the client writes the content; WalkDirTree takes size from stat
	require.NoError(t, ioutil.WriteFile(res.Path, make([]byte, 2048), 0644))
	require.NoError(t, s1.CloseWrite(res.ID))

	// simulate restart: build a fresh Set against the same root
	s2, err := NewSet(dir, mock)
	require.NoError(t, err)
	require.NoError(t, s2.DefineType(TypeParams{
		Name: "T", LoWatermark: 1024, HiWatermark: 8192, DefaultSize: 1024,
	}))
	require.NoError(t, s2.WalkDirTree())
	s2.CleanupAtStartup()

	status := s2.GetCacheStatus()
	require.Equal(t, 1, status.NumObjs)
	require.Equal(t, int64(2048), status.TotalSize)

	obj, err := s2.Describe(res.ID)
	require.NoError(t, err)
	require.Equal(t, "a.bin", obj.Filename)
	require.Equal(t, int64(2048), obj.Size)
}
