package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// NormalizeKey renders a scanned lookup key in the canonical string form used
// by in-memory id caches. Drivers disagree on whether TEXT scans as string or
// []byte; both map to the same key.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
