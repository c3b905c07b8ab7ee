package cache

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionMultipleHandlesPinUntilAllCancelled(t *testing.T) {
	dir, err := ioutil.TempDir("", "filecache-sub-")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	mock := clock.NewMock()
	s, err := NewSet(dir, mock)
	require.NoError(t, err)
	require.NoError(t, s.DefineType(TypeParams{
		Name: "T", LoWatermark: 1024, HiWatermark: 8192, DefaultSize: 1024,
	}))
	res, err := s.Insert("T", "a", 1024, 0, 0, false, "")
	require.NoError(t, err)
	require.NoError(t, s.CloseWrite(res.ID))

	_, err = s.Subscribe("h1", res.ID)
	require.NoError(t, err)
	_, err = s.Subscribe("h2", res.ID)
	require.NoError(t, err)
	require.Equal(t, 2, s.Subscriptions.Count("T", res.ID))

	require.Equal(t, ErrDeferredExpire, s.Expire(res.ID))

	s.Unsubscribe("h1")
	_, err = s.Describe(res.ID)
	require.NoError(t, err, "object must survive while h2 still pins it")

	s.Unsubscribe("h2")
	_, err = s.Describe(res.ID)
	require.Error(t, err, "object must be gone once every handle has cancelled")
}
