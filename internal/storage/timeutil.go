package storage

import "time"

// NowMs returns the current wall-clock time in Unix milliseconds, the unit
// used for every timestamp column.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
