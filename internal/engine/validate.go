// Copyright 2025 Joseph Cumines
//
// Handle validation: deciding whether a cached accessibility handle still
// references a live window. Purify runs this over every record for a pid, so
// the bias is deliberately towards "still valid" — a false purge evicts a
// real window and floods subscribers with a disappear/appear pair, while a
// false keep merely delays cleanup until the next scan.

package engine

import "errors"

// IsValidElement reports whether h still resolves to a live window owned by
// pid.
//
// Fast path: read the handle's position and size; the OS answers "cannot
// complete" for a destroyed element, which settles it immediately. Slow
// path: fetch the application's current window list and confirm membership,
// either by compositor window id or by the platform's own handle equality.
// Any other failure (an unresponsive app, a transient accessibility error)
// is treated as still valid.
func IsValidElement(p Platform, h Handle, pid int32) bool {
	if h == nil || h.Zero() {
		return false
	}
	if _, _, err := p.ReadWindowGeometry(h); errors.Is(err, ErrCannotComplete) {
		return false
	}
	list, err := p.WindowList(pid)
	if err != nil {
		return true
	}
	id := p.AXHandleToWindowID(h)
	for _, w := range list {
		if id != 0 && p.AXHandleToWindowID(w) == id {
			return true
		}
		if h.Equal(w) {
			return true
		}
	}
	return false
}
