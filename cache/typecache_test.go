package cache

import (
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/ndcache/filecache/pathcodec"
	"github.com/ndcache/filecache/store"
)

func newTestTypeCache(t *testing.T, params TypeParams) (*TypeCache, *clock.Mock) {
	t.Helper()
	dir, err := ioutil.TempDir("", "filecache-tc-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	l := store.New(dir)
	require.NoError(t, l.EnsureRoot())
	require.NoError(t, l.CreateTypeDir(params.Name))

	mock := clock.NewMock()
	var counter uint64
	tc := newTypeCache(params, l, mock, func() pathcodec.ObjectId {
		counter++
		return pathcodec.ObjectId(counter)
	})
	return tc, mock
}

func TestInsertAndEvictLRU(t *testing.T) {
	params := TypeParams{Name: "T", LoWatermark: 2048, HiWatermark: 4096, DefaultSize: 1024, DefaultCost: 0, DefaultLifetime: 0}
	tc, mock := newTestTypeCache(t, params)

	var ids []pathcodec.ObjectId
	for i := 0; i < 4; i++ {
		obj, err := tc.Insert("f", 1024, 0, 0)
		require.NoError(t, err)
		tc.CloseWrite(obj.ID)
		ids = append(ids, obj.ID)
		mock.Add(time.Second) // ensure distinct, increasing lastAccessAt (whole seconds)
	}
	used, count := tc.Status()
	require.Equal(t, int64(4096), used)
	require.Equal(t, 4, count)

	// fifth insert exceeds HiWatermark (4096+1024 > 4096), so it must evict
	// object #1 (least recently touched) before it can be admitted.
	_, err := tc.Insert("f", 1024, 0, 0)
	require.NoError(t, err)

	_, ok := tc.Get(ids[0])
	require.False(t, ok, "oldest object should have been evicted")
	for _, id := range ids[1:] {
		_, ok := tc.Get(id)
		require.True(t, ok)
	}
}

func TestReserveInsufficientSpace(t *testing.T) {
	params := TypeParams{Name: "T", LoWatermark: 1024, HiWatermark: 2048, DefaultSize: 1024}
	tc, _ := newTestTypeCache(t, params)

	objA, err := tc.Insert("a", 1024, 0, 0)
	require.NoError(t, err)
	objB, err := tc.Insert("b", 1024, 0, 0)
	require.NoError(t, err)
	// pin both so neither can be evicted
	_, err = tc.Subscribe(objA.ID)
	require.NoError(t, err)
	_, err = tc.Subscribe(objB.ID)
	require.NoError(t, err)

	_, err = tc.Insert("c", 1024, 0, 0)
	require.Error(t, err)
}

func TestExpireDefersWhileSubscribed(t *testing.T) {
	params := TypeParams{Name: "T", LoWatermark: 1024, HiWatermark: 4096, DefaultSize: 1024}
	tc, _ := newTestTypeCache(t, params)

	obj, err := tc.Insert("a", 1024, 0, 0)
	require.NoError(t, err)
	tc.CloseWrite(obj.ID)
	_, err = tc.Subscribe(obj.ID)
	require.NoError(t, err)

	err = tc.Expire(obj.ID)
	require.Equal(t, ErrDeferredExpire, err)

	got, ok := tc.Get(obj.ID)
	require.True(t, ok)
	require.True(t, got.PendingExpire)

	tc.Unsubscribe(obj.ID)
	_, ok = tc.Get(obj.ID)
	require.False(t, ok, "object should be gone once unsubscribed")
}

func TestResizeGrowAndShrink(t *testing.T) {
	params := TypeParams{Name: "T", LoWatermark: 1024, HiWatermark: 4096, DefaultSize: 1024}
	tc, _ := newTestTypeCache(t, params)

	obj, err := tc.Insert("a", 1024, 0, 0)
	require.NoError(t, err)

	newSize, err := tc.Resize(obj.ID, 2048)
	require.NoError(t, err)
	require.Equal(t, int64(2048), newSize)

	newSize, err = tc.Resize(obj.ID, 512)
	require.NoError(t, err)
	require.Equal(t, int64(512), newSize)
}

func TestTouchIdempotentOnContent(t *testing.T) {
	params := TypeParams{Name: "T", LoWatermark: 1024, HiWatermark: 4096, DefaultSize: 1024}
	tc, mock := newTestTypeCache(t, params)

	obj, err := tc.Insert("a", 1024, 5, 0)
	require.NoError(t, err)
	before, _ := tc.Get(obj.ID)

	mock.Add(10 * time.Second)
	tc.Touch(obj.ID)
	after, _ := tc.Get(obj.ID)

	require.Equal(t, before.Size, after.Size)
	require.Equal(t, before.Cost, after.Cost)
	require.NotEqual(t, before.LastAccessAt, after.LastAccessAt)
}
