// Copyright 2025 Joseph Cumines
//
// discovery is the two-pass fusion algorithm: enumerate what the
// screen-capture surface says is shareable for a pid, enumerate what the
// accessibility tree says the application's windows are, and reconcile the
// two into WindowRecords, each window appearing at most once. Per-window
// record construction (attribute reads and preview capture) fans out on a
// bounded worker pool so one slow or stuck AX call never serializes an
// entire application's discovery.

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// maxConcurrentWindowReads bounds how many per-window lookups (and
	// preview captures) run at once during a single discovery pass.
	maxConcurrentWindowReads = 4

	// perWindowTimeout bounds one window's record construction, preview
	// capture included.
	perWindowTimeout = 5 * time.Second

	// maxSyntheticProbe bounds the brute-force fallback enumeration used
	// when the AXWindows query returns nothing (some apps never populate it
	// on their app element) but the compositor insists windows exist. The
	// upper bound of element ids belonging to real windows is undocumented;
	// observed ids cluster far below 100, so this is generous headroom.
	maxSyntheticProbe = 1000

	// captureMatchTolerance is the per-axis geometry slack used when
	// pairing a shareable descriptor with an accessibility handle; looser
	// than the identity tier's ±2 because the two enumerations round
	// differently.
	captureMatchTolerance = 10.0
)

// discoverer runs the fusion algorithm against a Platform.
type discoverer struct {
	platform Platform
	headless bool
	// captureAllowed gates the screen-capture pass and preview capture;
	// the tracker wires it to the permission monitor.
	captureAllowed func() bool
	now            func() time.Time
}

func newDiscoverer(p Platform, headless bool, captureAllowed func() bool) *discoverer {
	if captureAllowed == nil {
		captureAllowed = func() bool { return false }
	}
	return &discoverer{
		platform:       p,
		headless:       headless,
		captureAllowed: captureAllowed,
		now:            time.Now,
	}
}

// discoverOptions carries cross-call context the tracker supplies for one
// discovery run.
type discoverOptions struct {
	// bundleID stamps OwnerBundleID on every produced record.
	bundleID string
	// freshPreviews names the window ids that already hold a fresh preview;
	// capture is skipped for them.
	freshPreviews map[uint32]struct{}
	// onPreview is invoked for every preview captured during the pass, so
	// the tracker can store it and emit a preview-captured event.
	onPreview func(id uint32, img Image)
}

// DiscoverApplication reconciles every window the compositor and the
// accessibility tree agree pid owns, returning one WindowRecord per
// accepted window. It never mutates a Repository; callers feed the result
// into Repository.Store or Repository.Reconcile.
func (d *discoverer) DiscoverApplication(ctx context.Context, pid int32, appHandle Handle, opts discoverOptions) ([]WindowRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	descriptors, err := d.platform.CompositorWindowDescriptors(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("engine: compositor enumeration for pid %d: %w", pid, err)
	}
	var qualifying []Descriptor
	for _, desc := range descriptors {
		if DescriptorQualifies(desc) {
			qualifying = append(qualifying, desc)
		}
	}

	handles := d.enumerateHandles(pid, len(qualifying))

	var records []WindowRecord
	excluded := make(map[uint32]struct{})
	if !d.headless && d.captureAllowed() {
		scRecords := d.screenCapturePass(ctx, pid, appHandle, handles, opts)
		for _, rec := range scRecords {
			excluded[rec.ID] = struct{}{}
		}
		records = scRecords
	}

	axRecords := d.accessibilityPass(ctx, pid, appHandle, handles, qualifying, excluded, opts)
	return append(records, axRecords...), nil
}

// enumerateHandles collects the application's window handles from the
// standard AXWindows query, falling back to the brute-force synthetic probe
// when the query comes back empty while the compositor still reports
// qualifying windows.
func (d *discoverer) enumerateHandles(pid int32, compositorCount int) []Handle {
	handles, err := d.platform.AppWindowHandles(pid)
	if err == nil && len(handles) > 0 {
		return handles
	}
	if compositorCount == 0 {
		return nil
	}
	var out []Handle
	for elementID := 0; elementID < maxSyntheticProbe && len(out) < compositorCount; elementID++ {
		h, ok := d.platform.SyntheticWindowHandle(pid, elementID)
		if !ok || !IsDiscoverableHandle(h) {
			continue
		}
		if _, subrole := d.platform.ReadElementRole(h); subrole != "" {
			if _, ok := standardWindowSubroles[subrole]; !ok {
				continue
			}
		}
		duplicate := false
		for _, have := range out {
			if have.Equal(h) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			out = append(out, h)
		}
	}
	return out
}

// screenCapturePass builds a record per shareable on-screen window the
// screen-capture surface reports for pid. The descriptor is authoritative
// here; the accessibility handle is located by window-id equality, then
// fuzzy title, then loose geometry, and a candidate with neither a close
// nor a minimize button is dropped as non-manipulable chrome.
func (d *discoverer) screenCapturePass(ctx context.Context, pid int32, appHandle Handle, handles []Handle, opts discoverOptions) []WindowRecord {
	shareable, err := d.platform.ShareableWindows(ctx, pid)
	if err != nil {
		// Timeout or permission refusal degrades to the accessibility pass
		// alone; the scan itself is not poisoned.
		return nil
	}

	type handleInfo struct {
		handle Handle
		id     uint32
		title  string
		bounds Rect
	}
	infos := make([]handleInfo, 0, len(handles))
	for _, h := range handles {
		info := handleInfo{handle: h, id: d.platform.AXHandleToWindowID(h)}
		pos, size, err := d.platform.ReadWindowGeometry(h)
		if err != nil {
			continue
		}
		info.bounds = Rect{X: pos.X, Y: pos.Y, Width: size.Width, Height: size.Height}
		info.title, _ = d.platform.ReadWindowTitle(h)
		infos = append(infos, info)
	}

	matchHandle := func(desc Descriptor) (handleInfo, bool) {
		for _, info := range infos {
			if info.id != 0 && info.id == desc.ID {
				return info, true
			}
		}
		for _, info := range infos {
			if FuzzyTitleMatch(info.title, desc.Title) {
				return info, true
			}
		}
		for _, info := range infos {
			if geometryMatches(info.bounds, desc.Bounds, captureMatchTolerance) {
				return info, true
			}
		}
		return handleInfo{}, false
	}

	var mu sync.Mutex
	var records []WindowRecord
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentWindowReads)
	for _, desc := range shareable {
		desc := desc
		if desc.Layer != 0 ||
			desc.Bounds.Width < minDiscoverableDimension ||
			desc.Bounds.Height < minDiscoverableDimension {
			continue
		}
		info, ok := matchHandle(desc)
		if !ok {
			continue
		}
		g.Go(func() error {
			windowCtx, cancel := context.WithTimeout(ctx, perWindowTimeout)
			defer cancel()
			rec, ok := d.buildRecord(windowCtx, pid, appHandle, desc, info.handle, opts)
			if !ok {
				return nil
			}
			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return records
}

// buildRecord assembles one WindowRecord from a matched (descriptor,
// handle) pair, capturing a preview unless a fresh one already exists.
func (d *discoverer) buildRecord(ctx context.Context, pid int32, appHandle Handle, desc Descriptor, h Handle, opts discoverOptions) (WindowRecord, bool) {
	closeBtn, hasClose := d.platform.ButtonHandle(h, CloseButton)
	_, hasMinimize := d.platform.ButtonHandle(h, MinimizeButton)
	if !hasClose && !hasMinimize {
		return WindowRecord{}, false
	}
	attrs, _ := d.platform.ReadWindowAttributes(h)
	title, _ := d.platform.ReadWindowTitle(h)
	if title == "" {
		title = desc.Title
	}
	rec := WindowRecord{
		ID:            desc.ID,
		Title:         title,
		OwnerBundleID: opts.bundleID,
		OwnerPID:      pid,
		Bounds:        desc.Bounds,
		IsMinimized:   attrs.Minimized,
		IsOwnerHidden: attrs.OwnerHidden,
		IsVisible:     desc.OnScreen && !attrs.Minimized,
		DesktopSpace:  firstSpace(d.platform.WindowSpaces(desc.ID)),
		CreationTime:  d.now(),
		AXHandle:      h,
		AppAXHandle:   appHandle,
	}
	if hasClose {
		rec.CloseButtonHandle = closeBtn
	}
	d.maybeCapturePreview(ctx, &rec, opts)
	return rec, true
}

func (d *discoverer) maybeCapturePreview(ctx context.Context, rec *WindowRecord, opts discoverOptions) {
	if d.headless || !d.captureAllowed() {
		return
	}
	if _, fresh := opts.freshPreviews[rec.ID]; fresh {
		return
	}
	img, err := d.platform.CaptureWindow(ctx, rec.ID)
	if err != nil {
		// Previews are best-effort everywhere; a denied or failed capture
		// never blocks discovery.
		return
	}
	rec.CachedPreview = &img
	rec.PreviewTimestamp = d.now()
	if opts.onPreview != nil {
		opts.onPreview(rec.ID, img)
	}
}

// windowReadResult is the outcome of reading one accessibility handle's
// attributes during a fan-out pass.
type windowReadResult struct {
	handle  Handle
	title   string
	bounds  Rect
	attrs   WindowAttributes
	role    string
	subrole string
	err     error
}

// accessibilityPass reads every AX handle concurrently (bounded), resolves
// each to a compositor descriptor, applies the ghost-window filter, and
// emits a WindowRecord for every accepted pairing. excluded seeds the
// used-ids set with ids the screen-capture pass already claimed, so each
// window appears at most once across the two passes.
func (d *discoverer) accessibilityPass(ctx context.Context, pid int32, appHandle Handle, handles []Handle, descriptors []Descriptor, excluded map[uint32]struct{}, opts discoverOptions) []WindowRecord {
	results := make([]windowReadResult, len(handles))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentWindowReads)
	for i, h := range handles {
		i, h := i, h
		g.Go(func() error {
			results[i] = d.readWindow(h)
			return nil
		})
	}
	// Errors are per-handle (ErrCannotComplete for a stale handle is
	// routine, not fatal to the whole pass) so readWindow never returns an
	// error from g.Go; Wait only guards goroutine completion.
	_ = g.Wait()

	var records []WindowRecord
	for _, res := range results {
		if res.err != nil || !IsDiscoverableHandle(res.handle) {
			continue
		}
		if !MeetsDiscoveryCriteria(res.role, res.subrole, res.bounds) {
			continue
		}
		id := d.platform.AXHandleToWindowID(res.handle)
		if id != 0 {
			if _, claimed := excluded[id]; claimed {
				continue
			}
		} else {
			var ok bool
			id, ok = ResolveWindowID(res.title, res.bounds, descriptors, excluded)
			if !ok {
				continue
			}
		}
		var desc Descriptor
		var descFound bool
		for _, cand := range descriptors {
			if cand.ID == id {
				desc, descFound = cand, true
				break
			}
		}
		if !descFound || !DescriptorQualifies(desc) {
			continue
		}
		ghost := GhostFilterInput{
			OnScreen:      desc.OnScreen,
			Fullscreen:    res.attrs.Fullscreen,
			Minimized:     res.attrs.Minimized,
			OwnerHidden:   res.attrs.OwnerHidden,
			OnActiveSpace: OnActiveSpace(d.platform.WindowSpaces(id), d.platform.ActiveSpaceIDs()),
			IsMainWindow:  res.attrs.MainWindow,
		}
		if !AcceptWindow(ghost) {
			continue
		}
		excluded[id] = struct{}{}
		rec := WindowRecord{
			ID:            id,
			Title:         res.title,
			OwnerBundleID: opts.bundleID,
			OwnerPID:      pid,
			Bounds:        res.bounds,
			IsMinimized:   res.attrs.Minimized,
			IsOwnerHidden: res.attrs.OwnerHidden,
			IsVisible:     desc.OnScreen && !res.attrs.Minimized,
			DesktopSpace:  firstSpace(d.platform.WindowSpaces(id)),
			CreationTime:  d.now(),
			AXHandle:      res.handle,
			AppAXHandle:   appHandle,
		}
		if closeBtn, ok := d.platform.ButtonHandle(res.handle, CloseButton); ok {
			rec.CloseButtonHandle = closeBtn
		}
		records = append(records, rec)
	}

	pg, pctx := errgroup.WithContext(ctx)
	pg.SetLimit(maxConcurrentWindowReads)
	for i := range records {
		i := i
		pg.Go(func() error {
			windowCtx, cancel := context.WithTimeout(pctx, perWindowTimeout)
			defer cancel()
			d.maybeCapturePreview(windowCtx, &records[i], opts)
			return nil
		})
	}
	_ = pg.Wait()
	return records
}

// firstSpace returns a pointer to the first reported space id, or nil if
// the compositor reported none (CGS sometimes returns no spaces for a
// window mid Space-switch; the record's DesktopSpace is documented as
// "may be absent" for exactly this reason).
func firstSpace(spaces []int32) *int32 {
	if len(spaces) == 0 {
		return nil
	}
	s := spaces[0]
	return &s
}

func (d *discoverer) readWindow(h Handle) windowReadResult {
	res := windowReadResult{handle: h}
	pos, size, err := d.platform.ReadWindowGeometry(h)
	if err != nil {
		res.err = err
		return res
	}
	res.bounds = Rect{X: pos.X, Y: pos.Y, Width: size.Width, Height: size.Height}
	res.title, _ = d.platform.ReadWindowTitle(h)
	res.attrs, _ = d.platform.ReadWindowAttributes(h)
	res.role, res.subrole = d.platform.ReadElementRole(h)
	return res
}
