package persistence

import (
	"encoding/json"
	"time"
)

func toUnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixMilli()
}

func fromUnixMillis(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}

	return time.UnixMilli(v)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}

	return 0
}

// jsonOrNull marshals v, returning nil (SQL NULL) for nil pointers/slices.
func jsonOrNull(v any) any {
	if v == nil {
		return nil
	}
	switch t := v.(type) {
	case []uint32:
		if t == nil {
			return nil
		}
	case []int32:
		if t == nil {
			return nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}

	return string(raw)
}
