package ntfs

import "time"

// filetimeEpochOffset100ns is the number of 100ns intervals between the
// Windows FILETIME epoch (1601-01-01) and the Unix epoch (1970-01-01).
const filetimeEpochOffset100ns = 116444736000000000

// FiletimeToTime converts a Windows FILETIME (100ns intervals since
// 1601-01-01 UTC) to a time.Time.
func FiletimeToTime(ft uint64) time.Time {
	if ft < filetimeEpochOffset100ns {
		return time.Unix(0, 0).UTC()
	}
	units := int64(ft - filetimeEpochOffset100ns)
	return time.Unix(0, units*100).UTC()
}

// TimeToFiletime converts a time.Time to a Windows FILETIME.
func TimeToFiletime(t time.Time) uint64 {
	unixNanos := t.UTC().UnixNano()
	if unixNanos < 0 {
		return 0
	}
	return uint64(unixNanos/100) + filetimeEpochOffset100ns
}
