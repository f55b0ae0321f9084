// Copyright 2025 Joseph Cumines
//
// Window record and geometry types for the reconciliation core.

package engine

import "time"

// Point is a position in global screen coordinates.
type Point struct {
	X, Y float64
}

// Size is a width/height pair in screen points.
type Size struct {
	Width, Height float64
}

// Rect is a rectangle in global screen coordinates.
type Rect struct {
	X, Y, Width, Height float64
}

// Finite reports whether every component of the rectangle is a finite number.
func (r Rect) Finite() bool {
	return isFinite(r.X) && isFinite(r.Y) && isFinite(r.Width) && isFinite(r.Height)
}

func isFinite(f float64) bool {
	return f == f && f < maxFinite && f > -maxFinite
}

const maxFinite = 1.7976931348623157e+308 // math.MaxFloat64, inlined to avoid importing math for one constant

// closeEnough reports whether a and b differ by no more than tolerance.
func closeEnough(a, b, tolerance float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}

// geometryMatches reports whether two rectangles match within the given
// per-axis tolerance on both position and size.
func geometryMatches(a, b Rect, tolerance float64) bool {
	return closeEnough(a.X, b.X, tolerance) &&
		closeEnough(a.Y, b.Y, tolerance) &&
		closeEnough(a.Width, b.Width, tolerance) &&
		closeEnough(a.Height, b.Height, tolerance)
}

// Image is a captured window preview. The encoding is left to the platform
// collaborator; the core treats it as an opaque payload plus a content type.
type Image struct {
	Data      []byte
	MimeType  string
	Width     int
	Height    int
}

// WindowRecord is the unit of cache maintained by the Repository.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type WindowRecord struct {
	ID                uint32
	Title             string
	OwnerBundleID     string
	OwnerPID          int32
	Bounds            Rect
	IsMinimized       bool
	IsOwnerHidden     bool
	IsVisible         bool
	DesktopSpace      *int32
	LastInteractionTime time.Time
	CreationTime      time.Time
	AXHandle          Handle
	AppAXHandle       Handle
	CloseButtonHandle Handle
	CachedPreview     *Image
	PreviewTimestamp  time.Time
}

// HasPreview reports whether the record carries an attached preview.
func (w WindowRecord) HasPreview() bool {
	return w.CachedPreview != nil
}

// diffFields reports whether the "modified" relevant fields of two records
// displaying the same id differ: title, minimized, owner-hidden, or bounds.
func diffFields(old, new WindowRecord) bool {
	return old.Title != new.Title ||
		old.IsMinimized != new.IsMinimized ||
		old.IsOwnerHidden != new.IsOwnerHidden ||
		old.Bounds != new.Bounds
}

// ChangeReport is the diff produced by any repository mutation.
type ChangeReport struct {
	Added    []WindowRecord
	Removed  []uint32
	Modified []WindowRecord
}

// Empty reports whether the report carries no changes at all.
func (c ChangeReport) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Modified) == 0
}
