package platform

import (
	"errors"
	"strings"
)

// Two gateway processes would fight over the serial port and the database
// file, so startup takes a per-user single-instance lock.

// ErrInstanceAlreadyRunning reports that another process holds the gateway lock.
var ErrInstanceAlreadyRunning = errors.New("instance already running")

// ErrInstanceLockUnsupported reports that the platform has no lock backend.
var ErrInstanceLockUnsupported = errors.New("instance lock unsupported")

// InstanceLock is an acquired single-instance lock.
type InstanceLock interface {
	Release() error
}

func AcquireInstanceLock(name string) (InstanceLock, error) {
	return acquireInstanceLock(sanitizeLockComponent(name, "app"))
}

// sanitizeLockComponent keeps lock names safe for both file paths and
// windows mutex names.
func sanitizeLockComponent(raw, fallback string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(raw))

	cleaned = strings.Trim(cleaned, "_-.")
	if cleaned == "" {
		return fallback
	}

	return cleaned
}
