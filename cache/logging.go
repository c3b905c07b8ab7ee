package cache

import (
	"log"

	raven "github.com/getsentry/raven-go"
)

// logWarn logs a maintenance-time failure and swallows it, per spec.md
// §7's propagation policy: filesystem failures during maintenance are
// logged, not propagated, and the next sweep retries.
func logWarn(format string, args ...interface{}) {
	log.Printf("filecache: "+format, args...)
}

// logDiskError additionally reports err to Sentry, for disk failures
// that are swallowed but still worth out-of-band alerting on.
func logDiskError(context string, err error) {
	log.Printf("filecache: %s: %v", context, err)
	raven.CaptureError(err, map[string]string{"context": context})
}
