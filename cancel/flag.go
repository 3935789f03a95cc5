// Package cancel implements the single-bit cooperative cancellation flag
// shared by both processes: the global quit flag and the per-worker abort
// flags all have the same shape (generalized from the C original's
// atomic_bool fields in common_lib.h).
package cancel

import "sync/atomic"

// Flag is a thread-safe, lock-free single-bit signal. Every long-running
// loop in this module polls a Flag at its loop boundary instead of being
// forcibly torn down; no goroutine is ever killed out from under its work.
type Flag struct {
	v atomic.Bool
}

// Set raises the flag.
func (f *Flag) Set() { f.v.Store(true) }

// Clear lowers the flag.
func (f *Flag) Clear() { f.v.Store(false) }

// IsSet reports the current state.
func (f *Flag) IsSet() bool { return f.v.Load() }
