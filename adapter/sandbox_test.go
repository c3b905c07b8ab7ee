package adapter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrefixSandboxAllowsOnlyConfiguredRoots(t *testing.T) {
	s := NewPrefixSandbox([]string{"/var/cache/filecache/downloads"})

	require.True(t, s.IsPathAllowed("/var/cache/filecache/downloads/foo.bar", "caller", PermWrite|PermCreate))
	require.True(t, s.IsPathAllowed("/var/cache/filecache/downloads", "caller", PermWrite))
	require.False(t, s.IsPathAllowed("/etc/passwd", "caller", PermWrite))
	require.False(t, s.IsPathAllowed("/var/cache/filecache/downloads-evil/x", "caller", PermWrite))
}

func TestPrefixSandboxRejectsPathTraversalOutsideRoot(t *testing.T) {
	s := NewPrefixSandbox([]string{"/var/cache/filecache/downloads"})
	require.False(t, s.IsPathAllowed("/var/cache/filecache/downloads/../../etc/passwd", "caller", PermWrite))
}
