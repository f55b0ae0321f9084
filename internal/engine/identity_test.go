// Copyright 2025 Joseph Cumines

package engine

import "testing"

func TestResolveWindowID_ExactTitle(t *testing.T) {
	candidates := []Descriptor{
		{ID: 1, Title: "Inbox"},
		{ID: 2, Title: "Compose"},
	}
	id, ok := ResolveWindowID("Compose", Rect{}, candidates, nil)
	if !ok || id != 2 {
		t.Fatalf("got (%d, %v), want (2, true)", id, ok)
	}
}

func TestResolveWindowID_FirstCandidateWinsWithinATier(t *testing.T) {
	// Both candidates match on geometry; the first in descriptor order wins.
	candidates := []Descriptor{
		{ID: 10, Title: "Safari", Bounds: Rect{X: 0, Y: 0, Width: 1200, Height: 800}},
		{ID: 11, Title: "Safari - Google", Bounds: Rect{X: 0, Y: 0, Width: 1200, Height: 800}},
	}
	id, ok := ResolveWindowID("Safari", Rect{X: 0, Y: 0, Width: 1200, Height: 800}, candidates, nil)
	if !ok || id != 10 {
		t.Fatalf("exact-title tier: got (%d, %v), want (10, true)", id, ok)
	}
	// With the exact match excluded, the geometry tier picks the first
	// remaining candidate.
	id, ok = ResolveWindowID("Safari", Rect{X: 0, Y: 0, Width: 1200, Height: 800}, candidates, map[uint32]struct{}{10: {}})
	if !ok || id != 11 {
		t.Fatalf("geometry tier after exclusion: got (%d, %v), want (11, true)", id, ok)
	}
}

func TestResolveWindowID_ExactTitleTrimsWhitespace(t *testing.T) {
	candidates := []Descriptor{{ID: 4, Title: "  Notes "}}
	id, ok := ResolveWindowID("Notes", Rect{}, candidates, nil)
	if !ok || id != 4 {
		t.Fatalf("got (%d, %v), want (4, true)", id, ok)
	}
}

func TestResolveWindowID_GeometryWithinTolerance(t *testing.T) {
	candidates := []Descriptor{
		{ID: 7, Title: "", Bounds: Rect{X: 10, Y: 10, Width: 200, Height: 150}},
	}
	id, ok := ResolveWindowID("", Rect{X: 11.5, Y: 8.5, Width: 201, Height: 149}, candidates, nil)
	if !ok || id != 7 {
		t.Fatalf("got (%d, %v), want (7, true)", id, ok)
	}
}

func TestResolveWindowID_GeometryOutsideTolerance(t *testing.T) {
	candidates := []Descriptor{
		{ID: 7, Bounds: Rect{X: 10, Y: 10, Width: 200, Height: 150}},
	}
	_, ok := ResolveWindowID("", Rect{X: 13.5, Y: 10, Width: 200, Height: 150}, candidates, nil)
	if ok {
		t.Fatal("expected no match beyond tolerance")
	}
}

func TestResolveWindowID_ExcludedCandidateSkippedAtEveryTier(t *testing.T) {
	candidates := []Descriptor{
		{ID: 1, Title: "Doc", Bounds: Rect{X: 0, Y: 0, Width: 50, Height: 50}},
	}
	excluded := map[uint32]struct{}{1: {}}
	if _, ok := ResolveWindowID("Doc", Rect{X: 0, Y: 0, Width: 50, Height: 50}, candidates, excluded); ok {
		t.Fatal("expected excluded candidate to be skipped at every tier")
	}
}

func TestResolveWindowID_FuzzyTierSucceedsWhenEarlierTiersFail(t *testing.T) {
	candidates := []Descriptor{
		{ID: 3, Title: "report-final-v2.pdf — Preview", Bounds: Rect{X: 900, Y: 900, Width: 10, Height: 10}},
	}
	id, ok := ResolveWindowID("report-final-v2.pdf", Rect{X: 0, Y: 0, Width: 800, Height: 600}, candidates, nil)
	if !ok || id != 3 {
		t.Fatalf("got (%d, %v), want (3, true)", id, ok)
	}
}

func TestFuzzyTitleMatch_Substring(t *testing.T) {
	if !FuzzyTitleMatch("index.go", "index.go — MyEditor") {
		t.Fatal("expected substring match")
	}
	if !FuzzyTitleMatch("index.go — MyEditor", "index.go") {
		t.Fatal("expected symmetric substring match")
	}
}

func TestFuzzyTitleMatch_WordOverlapThreshold(t *testing.T) {
	if FuzzyTitleMatch("quarterly sales report draft", "quarterly sales report final") {
		t.Fatal("expected 3/4 word overlap to fail the 0.9 threshold")
	}
}

func TestFuzzyTitleMatch_BelowThresholdFails(t *testing.T) {
	if FuzzyTitleMatch("a b c d e", "a z z z z") {
		t.Fatal("expected low overlap to fail")
	}
}

func TestFuzzyTitleMatch_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"alpha beta gamma", "alpha beta gamma delta"},
		{"Notes", "My Notes App"},
		{"x", "y"},
	}
	for _, p := range pairs {
		if FuzzyTitleMatch(p[0], p[1]) != FuzzyTitleMatch(p[1], p[0]) {
			t.Fatalf("FuzzyTitleMatch(%q, %q) is not symmetric", p[0], p[1])
		}
	}
}

func TestFuzzyTitleMatch_EmptyAlwaysFalse(t *testing.T) {
	if FuzzyTitleMatch("", "anything") || FuzzyTitleMatch("anything", "") || FuzzyTitleMatch("", "") {
		t.Fatal("empty titles must never fuzzy-match")
	}
}

func TestDescriptorQualifies_AlphaBoundary(t *testing.T) {
	below := Descriptor{OnScreen: true, Alpha: 0.01, Bounds: Rect{Width: 100, Height: 100}}
	above := Descriptor{OnScreen: true, Alpha: 0.011, Bounds: Rect{Width: 100, Height: 100}}
	if DescriptorQualifies(below) {
		t.Fatal("alpha == 0.01 must fail (strictly greater required)")
	}
	if !DescriptorQualifies(above) {
		t.Fatal("alpha == 0.011 must pass")
	}
}

func TestDescriptorQualifies_DimensionBoundary(t *testing.T) {
	tiny := Descriptor{OnScreen: true, Alpha: 1, Bounds: Rect{Width: 99, Height: 500}}
	ok := Descriptor{OnScreen: true, Alpha: 1, Bounds: Rect{Width: 100, Height: 100}}
	if DescriptorQualifies(tiny) {
		t.Fatal("sub-minimum width must fail")
	}
	if !DescriptorQualifies(ok) {
		t.Fatal("exactly 100x100 must pass")
	}
}

func TestDescriptorQualifies_OffScreenStillQualifies(t *testing.T) {
	// A window on another Space is off-screen but real; only the acceptance
	// policy may reject it.
	d := Descriptor{OnScreen: false, Alpha: 1, Bounds: Rect{Width: 100, Height: 100}}
	if !DescriptorQualifies(d) {
		t.Fatal("an off-screen descriptor must still qualify")
	}
}

func TestDescriptorQualifies_BelowNormalWindowLevelFails(t *testing.T) {
	d := Descriptor{OnScreen: true, Alpha: 1, Bounds: Rect{Width: 100, Height: 100}, Layer: normalWindowLevel - 1}
	if DescriptorQualifies(d) {
		t.Fatal("a descriptor below the normal window level must never qualify")
	}
}

func TestMeetsDiscoveryCriteria_SizeBoundary(t *testing.T) {
	if MeetsDiscoveryCriteria("AXWindow", "", Rect{Width: 99, Height: 500}) {
		t.Fatal("size (99, 500) must fail discovery criteria")
	}
	if !MeetsDiscoveryCriteria("AXWindow", "", Rect{Width: 100, Height: 100}) {
		t.Fatal("size (100, 100) must pass discovery criteria")
	}
}

func TestMeetsDiscoveryCriteria_NonWindowRoleFails(t *testing.T) {
	if MeetsDiscoveryCriteria("AXUnknown", "", Rect{Width: 100, Height: 100}) {
		t.Fatal("a non-window role must never pass")
	}
}

func TestMeetsDiscoveryCriteria_StandardSubrolesPass(t *testing.T) {
	if !MeetsDiscoveryCriteria("AXWindow", "AXStandardWindow", Rect{Width: 100, Height: 100}) {
		t.Fatal("AXStandardWindow subrole must pass")
	}
	if !MeetsDiscoveryCriteria("AXWindow", "AXDialog", Rect{Width: 100, Height: 100}) {
		t.Fatal("AXDialog subrole must pass")
	}
	if MeetsDiscoveryCriteria("AXWindow", "AXSystemDialog", Rect{Width: 100, Height: 100}) {
		t.Fatal("a non-standard subrole must fail")
	}
}

func TestMeetsDiscoveryCriteria_NonFinitePositionFails(t *testing.T) {
	big := maxFinite
	inf := big * 2
	if MeetsDiscoveryCriteria("AXWindow", "", Rect{X: inf, Width: 100, Height: 100}) {
		t.Fatal("a non-finite position must fail discovery criteria")
	}
}

func TestAcceptWindow_GhostRejectedOnlyWhenEverySignalAbsent(t *testing.T) {
	ghost := GhostFilterInput{OnScreen: false, OnActiveSpace: true, Minimized: false, Fullscreen: false, OwnerHidden: false}
	if AcceptWindow(ghost) {
		t.Fatal("expected rejection when every acceptance signal is absent on an active space")
	}
}

func TestAcceptWindow_FlippingAnySignalAccepts(t *testing.T) {
	base := GhostFilterInput{OnScreen: false, OnActiveSpace: true, Minimized: false, Fullscreen: false, OwnerHidden: false}
	variants := []GhostFilterInput{base, base, base, base, base}
	variants[0].OnScreen = true
	variants[1].Minimized = true
	variants[2].Fullscreen = true
	variants[3].OwnerHidden = true
	variants[4].OnActiveSpace = false
	for i, v := range variants {
		if !AcceptWindow(v) {
			t.Fatalf("variant %d: flipping one signal must accept, got reject for %+v", i, v)
		}
	}
	mainWindow := base
	mainWindow.IsMainWindow = true
	if !AcceptWindow(mainWindow) {
		t.Fatal("a main window is always accepted regardless of on-screen state")
	}
}

func TestOnActiveSpace_EmptySpacesIsNeverActive(t *testing.T) {
	if OnActiveSpace(nil, map[int32]struct{}{1: {}}) {
		t.Fatal("an empty spaces result must not be treated as active")
	}
}

func TestOnActiveSpace_Intersection(t *testing.T) {
	active := map[int32]struct{}{1: {}, 2: {}}
	if !OnActiveSpace([]int32{2, 3}, active) {
		t.Fatal("expected overlap with an active space to report true")
	}
	if OnActiveSpace([]int32{5, 6}, active) {
		t.Fatal("expected no overlap to report false")
	}
}

func TestIsDiscoverableHandle(t *testing.T) {
	if IsDiscoverableHandle(nil) {
		t.Fatal("nil handle must not be discoverable")
	}
	if IsDiscoverableHandle(ZeroHandle) {
		t.Fatal("zero handle must not be discoverable")
	}
	if !IsDiscoverableHandle(NewToken(1)) {
		t.Fatal("non-zero token must be discoverable")
	}
}
