// Copyright 2025 Joseph Cumines
//
// Window manipulation on behalf of facade callers. These are thin wrappers
// over the platform's attribute/action primitives: a failure surfaces as a
// typed error and never mutates the repository — the resulting OS
// notifications drive the cache update through the normal reconciliation
// path instead.

package engine

import "fmt"

// ManipulationError reports a failed attribute-set or action-perform
// against a tracked window.
type ManipulationError struct {
	Op       string
	WindowID uint32
	Err      error
}

func (e *ManipulationError) Error() string {
	return fmt.Sprintf("engine: %s window %d: %v", e.Op, e.WindowID, e.Err)
}

func (e *ManipulationError) Unwrap() error { return e.Err }

func (t *Tracker) windowHandle(id uint32) (WindowRecord, error) {
	rec, ok := t.repo.ReadWindowByID(id)
	if !ok {
		return WindowRecord{}, fmt.Errorf("engine: window %d is not tracked", id)
	}
	if !IsDiscoverableHandle(rec.AXHandle) {
		return WindowRecord{}, fmt.Errorf("engine: window %d has no accessibility handle", id)
	}
	return rec, nil
}

// FocusWindow raises window id and makes it its application's main window.
func (t *Tracker) FocusWindow(id uint32) error {
	rec, err := t.windowHandle(id)
	if err != nil {
		return err
	}
	if err := t.platform.SetAttribute(rec.AXHandle, "AXMain", true); err != nil {
		return &ManipulationError{Op: "focus", WindowID: id, Err: err}
	}
	if err := t.platform.PerformAction(rec.AXHandle, "AXRaise"); err != nil {
		return &ManipulationError{Op: "focus", WindowID: id, Err: err}
	}
	return nil
}

// MinimizeWindow sets window id's minimized state.
func (t *Tracker) MinimizeWindow(id uint32, minimized bool) error {
	rec, err := t.windowHandle(id)
	if err != nil {
		return err
	}
	if err := t.platform.SetAttribute(rec.AXHandle, "AXMinimized", minimized); err != nil {
		op := "minimize"
		if !minimized {
			op = "unminimize"
		}
		return &ManipulationError{Op: op, WindowID: id, Err: err}
	}
	return nil
}

// CloseWindow presses window id's close button.
func (t *Tracker) CloseWindow(id uint32) error {
	rec, err := t.windowHandle(id)
	if err != nil {
		return err
	}
	button := rec.CloseButtonHandle
	if !IsDiscoverableHandle(button) {
		var ok bool
		button, ok = t.platform.ButtonHandle(rec.AXHandle, CloseButton)
		if !ok {
			return &ManipulationError{Op: "close", WindowID: id, Err: fmt.Errorf("window exposes no close button")}
		}
	}
	if err := t.platform.PerformAction(button, "AXPress"); err != nil {
		return &ManipulationError{Op: "close", WindowID: id, Err: err}
	}
	return nil
}
