// Copyright 2025 Joseph Cumines
//
// Platform is the seam between the reconciliation core and the OS. The core
// never calls ApplicationServices, CoreGraphics, or CGS directly: it talks to
// this interface, which the darwin build satisfies with cgo and which tests
// satisfy with an in-memory fake. See platform_darwin.go and platform_other.go.

package engine

import (
	"context"
	"errors"
	"time"
)

// Descriptor is the compositor's (screen-capture / window-server) view of a
// window, independent of whether an accessibility handle has been resolved
// for it yet.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Descriptor struct {
	ID       uint32
	Title    string
	Bounds   Rect
	OwnerPID int32
	Layer    int32
	Alpha    float64
	OnScreen bool
}

// ButtonKind identifies which titlebar control HasButton inspects.
type ButtonKind int

const (
	CloseButton ButtonKind = iota
	MinimizeButton
)

// WindowAttributes bundles the boolean/enum window-level accessibility state
// the core needs beyond geometry and title.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type WindowAttributes struct {
	Minimized     bool
	OwnerHidden   bool
	Fullscreen    bool
	MainWindow    bool
}

// RunningApp describes a regular-activation-policy process as seen by the
// workspace.
type RunningApp struct {
	PID      int32
	BundleID string
	Name     string
}

// Errors returned by Platform implementations. The tracker and discovery
// pipeline treat these as sentinels rather than opaque errors, per the
// error-handling design in the specification.
var (
	// ErrCannotComplete means the OS reports the underlying handle no
	// longer resolves to a live object ("stale handle").
	ErrCannotComplete = errors.New("engine: accessibility call cannot complete (stale handle)")
	// ErrPermissionDenied means the calling process lacks a required
	// permission (screen recording, accessibility).
	ErrPermissionDenied = errors.New("engine: permission denied")
	// ErrTimeout means a bounded-wait platform call exceeded its deadline.
	ErrTimeout = errors.New("engine: platform call timed out")
	// ErrUnsupported means the current build has no platform backend
	// (non-darwin GOOS); every Platform method returns it.
	ErrUnsupported = errors.New("engine: platform backend unavailable on this OS")
)

// Platform is every OS capability the reconciliation core consumes. It
// corresponds to §6 of the specification: the accessibility/identity
// primitives, the screen-capture primitive, and the two OS notification
// sources (exposed separately as watcher factories below).
type Platform interface {
	// CompositorWindowDescriptors lists every window the window server
	// reports for pid, on screen or not. Bounded by ctx.
	CompositorWindowDescriptors(ctx context.Context, pid int32) ([]Descriptor, error)

	// ShareableWindows lists the windows owned by pid that the
	// screen-capture surface reports as shareable on-screen content; a
	// strict subset of the compositor enumeration. Returns
	// ErrPermissionDenied without the screen-recording permission and
	// ErrTimeout when the query exceeds ctx's deadline. Bounded by ctx;
	// implementations should honor a ~10s bound even if ctx carries none.
	ShareableWindows(ctx context.Context, pid int32) ([]Descriptor, error)

	// WindowSpaces returns the virtual desktop ids a window belongs to.
	// An empty result means the compositor reported none (e.g. mid
	// Space-switch); callers must not treat that as "destroyed".
	WindowSpaces(id uint32) []int32
	// WindowLevel returns the CG window level of id.
	WindowLevel(id uint32) int32
	// ActiveSpaceIDs returns the set of spaces currently visible across
	// all displays.
	ActiveSpaceIDs() map[int32]struct{}

	// SystemWideHandle returns the accessibility handle for the system-wide
	// element, used for some attribute queries that are not app-scoped.
	SystemWideHandle() Handle
	// AppAXHandle returns the application-level accessibility handle for pid.
	AppAXHandle(pid int32) (Handle, error)
	// AXHandleToWindowID resolves h to a compositor window id using the
	// platform's private identity call. Zero means unresolved.
	AXHandleToWindowID(h Handle) uint32

	// AppWindowHandles returns the application's AXWindows list via the
	// standard accessibility query.
	AppWindowHandles(pid int32) ([]Handle, error)
	// SyntheticWindowHandle constructs a handle for pid from a synthetic
	// remote token at the given element id, for the brute-force fallback
	// enumeration. ok is false if the platform cannot construct or the
	// element does not exist.
	SyntheticWindowHandle(pid int32, elementID int) (h Handle, ok bool)

	// ReadWindowGeometry reads the ax position/size of h. Returns
	// ErrCannotComplete if the handle is stale.
	ReadWindowGeometry(h Handle) (pos Point, size Size, err error)
	// ReadWindowAttributes reads the boolean/enum attributes of h.
	ReadWindowAttributes(h Handle) (WindowAttributes, error)
	// ReadWindowTitle reads the AXTitle of h. ok is false if absent.
	ReadWindowTitle(h Handle) (title string, ok bool)
	// ReadElementRole reads the AXRole/AXSubrole of h.
	ReadElementRole(h Handle) (role, subrole string)
	// HasButton reports whether h exposes the given titlebar button.
	HasButton(h Handle, kind ButtonKind) bool
	// ButtonHandle returns the handle of h's titlebar button of the given
	// kind, ok=false when the window does not expose it.
	ButtonHandle(h Handle, kind ButtonKind) (Handle, bool)
	// WindowList returns the app-level AXWindows list for pid, used by the
	// slow validation path. Distinct call from AppWindowHandles so a fake
	// can simulate divergence between discovery-time and validation-time
	// state if a test needs to.
	WindowList(pid int32) ([]Handle, error)

	// SetAttribute sets an accessibility attribute on h. Surfaced to
	// facade callers as a manipulation failure; never touches the cache.
	SetAttribute(h Handle, attr string, value any) error
	// PerformAction performs an accessibility action on h.
	PerformAction(h Handle, action string) error

	// CaptureWindow captures id's on-screen contents. Bounded by ctx.
	CaptureWindow(ctx context.Context, id uint32) (Image, error)

	// NewProcessWatcher subscribes to workspace process/space notifications.
	NewProcessWatcher() (ProcessWatcher, error)
	// NewAccessibilityWatcher subscribes to window-level notifications for
	// one running application.
	NewAccessibilityWatcher(pid int32, appHandle Handle) (AXWatcher, error)

	// RunningApplications lists currently running regular-activation-policy
	// processes, used at start-up to seed tracking.
	RunningApplications() []RunningApp

	// ScreenCaptureAvailable reports whether the screen-capture permission
	// is currently granted. Polled by the caller, not by Platform.
	ScreenCaptureAvailable() bool
}

// discoveryTimeout bounds the screen-capture enumeration pass.
const discoveryTimeout = 10 * time.Second
