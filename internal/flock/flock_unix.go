//go:build unix

package flock

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Lock takes an exclusive, non-blocking advisory lock on the file descriptor.
func Lock(fd uintptr) error {
	if err := unix.Flock(int(fd), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return ErrLocked
		}
		return errors.Wrap(err, "flock")
	}
	return nil
}

// Unlock releases a lock taken by Lock.
func Unlock(fd uintptr) error {
	return unix.Flock(int(fd), unix.LOCK_UN)
}
