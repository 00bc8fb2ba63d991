package radio

import "errors"

var (
	// ErrTimeout fails an awaiter whose deadline passed. State already
	// applied is not rolled back; a late reply still lands.
	ErrTimeout = errors.New("request timed out")
	// ErrCancelled fails outstanding awaiters on disconnect.
	ErrCancelled = errors.New("request cancelled")
	// ErrAdminDenied reports a remote that refused an admin command for a
	// missing or expired session passkey.
	ErrAdminDenied  = errors.New("admin denied by remote")
	ErrNotConnected = errors.New("radio not connected")
	// ErrFirmwareNotSupported marks a remote whose protocol version
	// pre-dates the requested feature; callers treat it as "skipped".
	ErrFirmwareNotSupported = errors.New("firmware does not support this operation")
)
