//go:build !unix

package flock

// Lock is a no-op on platforms without flock.
func Lock(uintptr) error { return nil }

// Unlock is a no-op on platforms without flock.
func Unlock(uintptr) error { return nil }
