package cache

import "syscall"

// availableBytes reports the free space available to an unprivileged
// process on the filesystem backing path, used for the loWatermark
// budget check in DefineType and for GetCacheStatus's availSpace field.
func availableBytes(path string) (int64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}
