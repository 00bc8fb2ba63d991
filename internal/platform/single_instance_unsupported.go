//go:build !unix && !windows

package platform

import (
	"fmt"
	"runtime"
)

// No lock backend here; the caller decides whether to run unguarded.
func acquireInstanceLock(_ string) (InstanceLock, error) {
	return nil, fmt.Errorf("%w on %s", ErrInstanceLockUnsupported, runtime.GOOS)
}
