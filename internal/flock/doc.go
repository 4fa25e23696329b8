// Package flock guards a memory file against being opened by two hosts at once.
package flock

import "github.com/cockroachdb/errors"

// ErrLocked is returned when another process already holds the lock.
var ErrLocked = errors.New("flock: file is locked by another process")
