// Copyright 2025 Joseph Cumines

//go:build !darwin

package engine

import "context"

// unsupportedPlatform backs Platform on any GOOS other than darwin. Every
// method returns ErrUnsupported; the engine can still be constructed and
// unit tested, but NewTracker's background loops will see nothing but
// errors from it, matching how the real binary behaves if launched on the
// wrong OS.
type unsupportedPlatform struct{}

// NewPlatform returns the platform backend for the current build. On
// non-darwin this is a stub that reports ErrUnsupported everywhere.
func NewPlatform() (Platform, error) {
	return unsupportedPlatform{}, nil
}

func (unsupportedPlatform) CompositorWindowDescriptors(context.Context, int32) ([]Descriptor, error) {
	return nil, ErrUnsupported
}
func (unsupportedPlatform) ShareableWindows(context.Context, int32) ([]Descriptor, error) {
	return nil, ErrUnsupported
}
func (unsupportedPlatform) WindowSpaces(uint32) []int32    { return nil }
func (unsupportedPlatform) WindowLevel(uint32) int32       { return 0 }
func (unsupportedPlatform) ActiveSpaceIDs() map[int32]struct{} { return nil }
func (unsupportedPlatform) SystemWideHandle() Handle       { return ZeroHandle }
func (unsupportedPlatform) AppAXHandle(int32) (Handle, error) {
	return nil, ErrUnsupported
}
func (unsupportedPlatform) AXHandleToWindowID(Handle) uint32 { return 0 }
func (unsupportedPlatform) AppWindowHandles(int32) ([]Handle, error) {
	return nil, ErrUnsupported
}
func (unsupportedPlatform) SyntheticWindowHandle(int32, int) (Handle, bool) {
	return nil, false
}
func (unsupportedPlatform) ReadWindowGeometry(Handle) (Point, Size, error) {
	return Point{}, Size{}, ErrUnsupported
}
func (unsupportedPlatform) ReadWindowAttributes(Handle) (WindowAttributes, error) {
	return WindowAttributes{}, ErrUnsupported
}
func (unsupportedPlatform) ReadWindowTitle(Handle) (string, bool)  { return "", false }
func (unsupportedPlatform) ReadElementRole(Handle) (string, string) { return "", "" }
func (unsupportedPlatform) HasButton(Handle, ButtonKind) bool      { return false }
func (unsupportedPlatform) ButtonHandle(Handle, ButtonKind) (Handle, bool) {
	return nil, false
}
func (unsupportedPlatform) WindowList(int32) ([]Handle, error) {
	return nil, ErrUnsupported
}
func (unsupportedPlatform) SetAttribute(Handle, string, any) error { return ErrUnsupported }
func (unsupportedPlatform) PerformAction(Handle, string) error     { return ErrUnsupported }
func (unsupportedPlatform) CaptureWindow(context.Context, uint32) (Image, error) {
	return Image{}, ErrUnsupported
}
func (unsupportedPlatform) NewProcessWatcher() (ProcessWatcher, error) {
	return nil, ErrUnsupported
}
func (unsupportedPlatform) NewAccessibilityWatcher(int32, Handle) (AXWatcher, error) {
	return nil, ErrUnsupported
}
func (unsupportedPlatform) RunningApplications() []RunningApp { return nil }
func (unsupportedPlatform) ScreenCaptureAvailable() bool      { return false }
