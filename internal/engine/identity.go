// Copyright 2025 Joseph Cumines
//
// Identity resolution: matching a window-level accessibility handle to the
// compositor's window id, via tiered heuristics, and the ghost-window filter
// that decides whether a compositor descriptor is worth tracking at all.

package engine

import "strings"

const (
	// geometryTolerance is the per-axis slack allowed when matching an
	// accessibility handle's reported bounds against a compositor
	// descriptor's bounds.
	geometryTolerance = 2.0
	// fuzzyOverlapThreshold is the minimum fraction of shared title words
	// (relative to the smaller title's word count) accepted by the fuzzy
	// tier.
	fuzzyOverlapThreshold = 0.9
	// minVisibleAlpha is the minimum compositor alpha a descriptor must
	// carry to be considered for discovery; anything below is treated as
	// invisible chrome.
	minVisibleAlpha = 0.01
	// minDiscoverableDimension is the minimum width/height, in points, a
	// compositor descriptor or accessibility handle's bounds must have on
	// both axes to qualify as a real, user-visible window rather than
	// chrome (a menu's shadow, a 1x1 status item).
	minDiscoverableDimension = 100.0
	// normalWindowLevel is the CG window level of an ordinary application
	// window; descriptors below it (desktop icons, the dock) never qualify.
	normalWindowLevel = 0
)

// ResolveWindowID maps an accessibility handle, with its own observed title
// and bounds, to one of the candidate compositor descriptors, trying three
// tiers in order and returning as soon as one produces a match:
//
//  1. exact title equality (surrounding whitespace trimmed)
//  2. geometry match within ±geometryTolerance on every axis
//  3. symmetric fuzzy title match (see FuzzyTitleMatch)
//
// Within a tier the first candidate that passes wins; a lower tier is only
// consulted when every higher tier produced no match at all. excluded
// carries descriptor ids already claimed earlier in the same enumeration
// pass; they are skipped at every tier so two AX handles never resolve to
// the same window id. It returns false if no tier matches.
func ResolveWindowID(axTitle string, axBounds Rect, candidates []Descriptor, excluded map[uint32]struct{}) (uint32, bool) {
	if id, ok := resolveByExactTitle(axTitle, candidates, excluded); ok {
		return id, true
	}
	if id, ok := resolveByGeometry(axBounds, candidates, excluded); ok {
		return id, true
	}
	if id, ok := resolveByFuzzyTitle(axTitle, candidates, excluded); ok {
		return id, true
	}
	return 0, false
}

func resolveByExactTitle(axTitle string, candidates []Descriptor, excluded map[uint32]struct{}) (uint32, bool) {
	want := strings.TrimSpace(axTitle)
	if want == "" {
		return 0, false
	}
	for _, c := range candidates {
		if _, skip := excluded[c.ID]; skip {
			continue
		}
		if strings.TrimSpace(c.Title) == want {
			return c.ID, true
		}
	}
	return 0, false
}

func resolveByGeometry(axBounds Rect, candidates []Descriptor, excluded map[uint32]struct{}) (uint32, bool) {
	for _, c := range candidates {
		if _, skip := excluded[c.ID]; skip {
			continue
		}
		if geometryMatches(axBounds, c.Bounds, geometryTolerance) {
			return c.ID, true
		}
	}
	return 0, false
}

func resolveByFuzzyTitle(axTitle string, candidates []Descriptor, excluded map[uint32]struct{}) (uint32, bool) {
	if axTitle == "" {
		return 0, false
	}
	for _, c := range candidates {
		if _, skip := excluded[c.ID]; skip {
			continue
		}
		if FuzzyTitleMatch(axTitle, c.Title) {
			return c.ID, true
		}
	}
	return 0, false
}

// FuzzyTitleMatch reports whether a and b should be considered the same
// window title under the fuzzy tier: either one is a non-empty substring of
// the other, or their word sets overlap by at least fuzzyOverlapThreshold of
// the smaller title's word count. The relation is symmetric: swapping a and
// b never changes the result.
func FuzzyTitleMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if strings.Contains(la, lb) || strings.Contains(lb, la) {
		return true
	}
	wa := wordSet(la)
	wb := wordSet(lb)
	if len(wa) == 0 || len(wb) == 0 {
		return false
	}
	shared := 0
	smaller := len(wa)
	if len(wb) < smaller {
		smaller = len(wb)
	}
	for w := range wa {
		if _, ok := wb[w]; ok {
			shared++
		}
	}
	return float64(shared)/float64(smaller) >= fuzzyOverlapThreshold
}

func wordSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// DescriptorQualifies reports whether a compositor descriptor meets the
// discovery criteria: alpha strictly above minVisibleAlpha, both dimensions
// at least minDiscoverableDimension, and a window level at or above the
// normal window level (so desktop icons and the Dock, which sit below it,
// never qualify). Off-screen descriptors still qualify; whether an
// off-screen window is real is the acceptance policy's call, since a
// window on another Space is off-screen yet must stay tracked.
func DescriptorQualifies(d Descriptor) bool {
	return d.Alpha > minVisibleAlpha &&
		d.Bounds.Width >= minDiscoverableDimension &&
		d.Bounds.Height >= minDiscoverableDimension &&
		d.Layer >= normalWindowLevel
}

// standardWindowSubroles are the accessibility subroles discovery accepts
// for an AXWindow-role handle; a handle with no subrole at all also passes,
// since many apps never populate it.
var standardWindowSubroles = map[string]struct{}{
	"AXStandardWindow": {},
	"AXDialog":         {},
}

// MeetsDiscoveryCriteria reports whether an accessibility window handle is
// worth resolving against the compositor at all: its role must be the
// window role, any subrole present must be standard-window or dialog, both
// dimensions must meet minDiscoverableDimension, and its reported position
// must be finite.
func MeetsDiscoveryCriteria(role, subrole string, bounds Rect) bool {
	if role != "AXWindow" {
		return false
	}
	if subrole != "" {
		if _, ok := standardWindowSubroles[subrole]; !ok {
			return false
		}
	}
	if bounds.Width < minDiscoverableDimension || bounds.Height < minDiscoverableDimension {
		return false
	}
	return isFinite(bounds.X) && isFinite(bounds.Y)
}

// GhostFilterInput bundles the signals the acceptance policy weighs for one
// resolved (ax handle, compositor descriptor) pairing. It is deliberately a
// flat struct of booleans rather than the raw Descriptor/WindowAttributes
// pair, since the policy itself only ever looks at these six signals.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type GhostFilterInput struct {
	OnScreen      bool
	Fullscreen    bool
	Minimized     bool
	OwnerHidden   bool
	OnActiveSpace bool
	IsMainWindow  bool
}

// AcceptWindow is the ghost-window filter: a window reported as existing
// but not on screen and in no state that would plausibly explain its
// absence (not minimized, not fullscreen, owner not hidden) while sitting
// on a space the user can currently see is an OS artifact, not a real
// window, and is rejected. Flipping any one of those five signals is
// sufficient to accept it; a window on a space that is not currently
// active, or reported as the application's main window, is always
// accepted regardless of on-screen state.
func AcceptWindow(in GhostFilterInput) bool {
	if !in.OnScreen && in.OnActiveSpace && !in.Minimized && !in.Fullscreen && !in.OwnerHidden {
		return false
	}
	return in.OnScreen || in.Fullscreen || in.Minimized || in.OwnerHidden || !in.OnActiveSpace || in.IsMainWindow
}

// IsDiscoverableHandle reports whether h is non-zero and worth issuing
// further accessibility calls against.
func IsDiscoverableHandle(h Handle) bool {
	return h != nil && !h.Zero()
}

// OnActiveSpace reports whether id belongs to at least one of the
// currently active spaces. An empty spaces result (the compositor
// sometimes reports none for a window mid Space-switch) is treated as
// "unknown" rather than "on no space", since treating it as authoritative
// would let a transient CGS gap ghost-filter a perfectly live window; it
// resolves to false here, which AcceptWindow treats as an automatic accept
// via its "not on any active space" clause.
func OnActiveSpace(spaces []int32, active map[int32]struct{}) bool {
	if len(spaces) == 0 || len(active) == 0 {
		return false
	}
	for _, s := range spaces {
		if _, ok := active[s]; ok {
			return true
		}
	}
	return false
}
