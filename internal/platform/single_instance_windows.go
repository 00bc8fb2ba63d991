//go:build windows

package platform

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

// mutexLock holds a named session-local mutex. The name is scoped to the
// current user SID so two accounts can each run their own gateway.
type mutexLock struct {
	handle windows.Handle
}

func acquireInstanceLock(name string) (InstanceLock, error) {
	sid, err := currentUserSID()
	if err != nil {
		return nil, err
	}

	namePtr, err := windows.UTF16PtrFromString(instanceMutexName(name, sid))
	if err != nil {
		return nil, fmt.Errorf("encode instance mutex name: %w", err)
	}

	handle, err := windows.CreateMutex(nil, false, namePtr)
	if errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
		if handle != 0 {
			_ = windows.CloseHandle(handle)
		}

		return nil, ErrInstanceAlreadyRunning
	}
	if err != nil {
		if handle != 0 {
			_ = windows.CloseHandle(handle)
		}

		return nil, fmt.Errorf("create instance mutex: %w", err)
	}

	return &mutexLock{handle: handle}, nil
}

func (l *mutexLock) Release() error {
	if l == nil || l.handle == 0 {
		return nil
	}

	err := windows.CloseHandle(l.handle)
	l.handle = 0
	if err != nil {
		return fmt.Errorf("close instance mutex handle: %w", err)
	}

	return nil
}

func currentUserSID() (string, error) {
	token := windows.GetCurrentProcessToken()
	tokenUser, err := token.GetTokenUser()
	if err != nil {
		return "", fmt.Errorf("read current user token: %w", err)
	}

	return tokenUser.User.Sid.String(), nil
}

func instanceMutexName(name, userSID string) string {
	return `Local\` + sanitizeLockComponent(name, "app") + `-single-instance-v1-` +
		sanitizeLockComponent(userSID, "sid")
}
