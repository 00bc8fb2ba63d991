package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseNodeID accepts "!1234abcd", "0x1234abcd", bare hex, or decimal.
func ParseNodeID(raw string) (uint32, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("node id is empty")
	}
	if strings.HasPrefix(raw, "!") {
		v, err := strconv.ParseUint(strings.TrimPrefix(raw, "!"), 16, 32)
		if err != nil {
			return 0, fmt.Errorf("parse node id %q: %w", raw, err)
		}

		return uint32(v), nil
	}
	if strings.HasPrefix(strings.ToLower(raw), "0x") {
		v, err := strconv.ParseUint(raw, 0, 32)
		if err != nil {
			return 0, fmt.Errorf("parse node id %q: %w", raw, err)
		}

		return uint32(v), nil
	}
	if strings.IndexFunc(raw, func(r rune) bool {
		return (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
	}) >= 0 {
		v, err := strconv.ParseUint(raw, 16, 32)
		if err != nil {
			return 0, fmt.Errorf("parse node id %q: %w", raw, err)
		}

		return uint32(v), nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse node id %q: %w", raw, err)
	}

	return uint32(v), nil
}
