package cache

import (
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestSchedulerCleansOrphans(t *testing.T) {
	dir, err := ioutil.TempDir("", "filecache-sched-")
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

	// simulate a crash that lost the backing file without updating the
	// in-memory record
	require.NoError(t, os.Remove(res.Path))

	sched := NewScheduler(s, mock)
	sched.RunWorkerOnce()

	_, err = s.Describe(res.ID)
	require.Error(t, err)
}

func TestSchedulerCleansUpIdleDirTypes(t *testing.T) {
	dir, err := ioutil.TempDir("", "filecache-sched-dir-")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	mock := clock.NewMock()
	s, err := NewSet(dir, mock)
	require.NoError(t, err)
	require.NoError(t, s.DefineType(TypeParams{
		Name: "backups", LoWatermark: 1 << 20, HiWatermark: 1 << 24,
		DefaultSize: 8192, DirType: true,
	}))
	res, err := s.Insert("backups", "snap", blockSize+1, 0, 0, false, "")
	require.NoError(t, err)
	require.NoError(t, s.CloseWrite(res.ID))

	sched := NewScheduler(s, mock)
	mock.Add(DirTypeIdleThreshold + time.Second)
	sched.RunCleanerOnce()

	_, err = s.Describe(res.ID)
	require.Error(t, err, "idle dirType object should have been cleaned up")
}
