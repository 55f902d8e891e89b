package rollup

import (
	"time"

	"github.com/raintank/dur"
)

// ParseResolution parses a graphite-style duration string ("15s", "5min",
// "1h") into a bucket width. A bare number is taken as seconds.
func ParseResolution(s string) (time.Duration, error) {
	secs, err := dur.ParseNDuration(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}

// FormatResolution renders a bucket width in the same compact form
// ParseResolution accepts.
func FormatResolution(d time.Duration) string {
	return dur.FormatDuration(uint32(d / time.Second))
}

// FloorTime rounds a timestamp down to the start of its enclosing bucket.
func FloorTime(t time.Time, res time.Duration) time.Time {
	return t.Truncate(res).UTC()
}
