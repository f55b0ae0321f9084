// Copyright 2025 Joseph Cumines
//
// Tracker is the top-level orchestrator: it seeds tracking from the running
// applications at startup, consumes the workspace and per-application
// notification streams, debounces bursts of the same underlying change into
// a single reconciliation pass, and republishes every resulting change as
// typed events. Nothing outside this file talks to ProcessWatcher or the
// watcher manager directly.

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentFullScan bounds how many applications FullScan rediscovers at
// once and how many previews RefreshPreviews captures at once, independent
// of the per-window fan-out bound used inside a single application's
// discovery.
const maxConcurrentFullScan = 4

// Tracker owns a Repository and the platform-level watchers feeding it.
// Multiple Tracker instances are safe: each owns its own repository,
// debouncer, and watcher set, sharing only the process-wide permission
// monitor.
type Tracker struct {
	platform Platform
	repo     *Repository
	disc     *discoverer
	debounce *debouncer
	watchers *watcherManager
	perm     *permissionMonitor
	log      zerolog.Logger

	events     *broadcaster[Event]
	procEvents *broadcaster[ProcessEvent]

	mu          sync.Mutex
	apps        map[int32]RunningApp
	appHandles  map[int32]Handle
	frontmost   RunningApp
	procWatcher ProcessWatcher
	cancel      context.CancelFunc
	running     bool

	wg sync.WaitGroup
}

// NewTracker constructs a Tracker over platform with the given
// configuration.
func NewTracker(platform Platform, cfg Config) *Tracker {
	t := &Tracker{
		platform:   platform,
		repo:       NewRepository(cfg.PreviewCacheCapacity, cfg.PreviewCacheDuration),
		watchers:   newWatcherManager(platform),
		perm:       permissionState(platform),
		log:        cfg.logger(),
		events:     newBroadcaster[Event](),
		procEvents: newBroadcaster[ProcessEvent](),
		apps:       make(map[int32]RunningApp),
		appHandles: make(map[int32]Handle),
	}
	t.disc = newDiscoverer(platform, cfg.Headless, t.perm.Granted)
	t.debounce = newDebouncer(cfg.DebounceInterval, t.runDebouncedRefresh)
	for _, pid := range cfg.IgnoredPIDs {
		t.repo.IgnorePID(pid)
	}
	return t
}

// Repository exposes the read-only cache surface to the facade.
func (t *Tracker) Repository() *Repository { return t.repo }

// SubscribeEvents registers a subscriber on the window-event bus.
func (t *Tracker) SubscribeEvents(buffer int) (<-chan Event, func()) {
	return t.events.Subscribe(buffer)
}

// SubscribeProcessEvents registers a subscriber on the rebroadcast
// process-event stream.
func (t *Tracker) SubscribeProcessEvents(buffer int) (<-chan ProcessEvent, func()) {
	return t.procEvents.Subscribe(buffer)
}

// PermissionGranted reports the current screen-capture permission state.
func (t *Tracker) PermissionGranted() bool { return t.perm.Granted() }

// FrontmostApplication returns the application most recently activated.
func (t *Tracker) FrontmostApplication() RunningApp {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frontmost
}

// TrackedApplications returns the applications the tracker currently holds
// windows or watchers for.
func (t *Tracker) TrackedApplications() []RunningApp {
	pids := t.repo.TrackedApplications()
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]RunningApp, 0, len(pids))
	for _, pid := range pids {
		if app, ok := t.apps[pid]; ok {
			out = append(out, app)
		} else {
			out = append(out, RunningApp{PID: pid})
		}
	}
	return out
}

// IgnorePID excludes pid from tracking, dropping anything already cached.
func (t *Tracker) IgnorePID(pid int32) {
	t.watchers.Unwatch(pid)
	report := t.repo.RemoveApplication(pid)
	t.repo.IgnorePID(pid)
	t.publishReport(pid, report)
}

// UnignorePID re-admits pid; the next launch/activate event or full scan
// picks it up.
func (t *Tracker) UnignorePID(pid int32) {
	t.repo.UnignorePID(pid)
}

// publishReport translates a ChangeReport into typed events on the bus.
func (t *Tracker) publishReport(pid int32, report ChangeReport) {
	if report.Empty() {
		return
	}
	for _, rec := range report.Added {
		t.events.Publish(Event{Kind: WindowAppeared, PID: pid, WindowID: rec.ID, Record: rec})
	}
	for _, id := range report.Removed {
		t.events.Publish(Event{Kind: WindowDisappeared, PID: pid, WindowID: id})
	}
	for _, rec := range report.Modified {
		t.events.Publish(Event{Kind: WindowChanged, PID: pid, WindowID: rec.ID, Record: rec})
	}
}

// StartTracking seeds tracking from every currently running application and
// begins consuming workspace notifications. It returns once seeding has
// kicked off; discovery for each application proceeds in the background.
func (t *Tracker) StartTracking(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("engine: tracker already started")
	}
	t.running = true
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.mu.Unlock()

	procWatcher, err := t.platform.NewProcessWatcher()
	if err != nil {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
		cancel()
		return fmt.Errorf("engine: starting process watcher: %w", err)
	}
	t.mu.Lock()
	t.procWatcher = procWatcher
	t.mu.Unlock()

	t.wg.Add(2)
	go t.consumeProcessEvents(ctx, procWatcher)
	go t.consumeAXEvents(ctx)

	apps := t.platform.RunningApplications()
	t.log.Info().Int("applications", len(apps)).Msg("tracking started")
	for _, app := range apps {
		app := app
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			// A single application failing to seed (permission denied,
			// already exited) must not abort startup for the rest.
			_, _ = t.TrackApplication(ctx, app)
		}()
	}
	return nil
}

// StopTracking halts every background goroutine and watcher the tracker
// owns and cancels all pending debounced work. It is safe to call even if
// StartTracking was never called.
func (t *Tracker) StopTracking() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	cancel := t.cancel
	procWatcher := t.procWatcher
	t.procWatcher = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if procWatcher != nil {
		procWatcher.Close()
	}
	t.watchers.Close()
	t.debounce.Stop()
	t.wg.Wait()
	t.log.Info().Msg("tracking stopped")
}

// Close releases the event buses after StopTracking.
func (t *Tracker) Close() {
	t.StopTracking()
	t.events.Close()
	t.procEvents.Close()
}

// TrackApplication runs an initial discovery pass for app and, if it
// succeeds, subscribes to its accessibility notifications going forward.
// It returns the records discovered. Tracking an already-tracked pid
// re-runs discovery; the watcher subscription is idempotent.
func (t *Tracker) TrackApplication(ctx context.Context, app RunningApp) ([]WindowRecord, error) {
	pid := app.PID
	appHandle, err := t.platform.AppAXHandle(pid)
	if err != nil {
		return nil, fmt.Errorf("engine: resolving app handle for pid %d: %w", pid, err)
	}
	t.mu.Lock()
	t.apps[pid] = app
	t.appHandles[pid] = appHandle
	t.mu.Unlock()

	records, err := t.disc.DiscoverApplication(ctx, pid, appHandle, t.discoverOptions(pid))
	if err != nil {
		return nil, fmt.Errorf("engine: discovering windows for pid %d: %w", pid, err)
	}
	report := t.repo.Store(pid, records)
	t.publishReport(pid, report)

	if !t.watchers.Watch(pid, appHandle) {
		// Live updates unavailable (e.g. the app denies accessibility);
		// keep the discovered snapshot, refreshes still arrive reactively.
		t.log.Debug().Int32("pid", pid).Msg("accessibility watcher unavailable")
	}
	return t.repo.ReadApplication(pid), nil
}

// UntrackApplication stops watching pid and removes its records, emitting a
// disappearance per window.
func (t *Tracker) UntrackApplication(pid int32) ChangeReport {
	t.watchers.Unwatch(pid)
	t.mu.Lock()
	delete(t.apps, pid)
	delete(t.appHandles, pid)
	t.mu.Unlock()
	report := t.repo.RemoveApplication(pid)
	t.publishReport(pid, report)
	return report
}

// RefreshApplication re-runs discovery for pid and reconciles the result
// against the repository, so windows that disappeared without a destroyed
// notification are still pruned.
func (t *Tracker) RefreshApplication(ctx context.Context, pid int32) (ChangeReport, error) {
	t.mu.Lock()
	appHandle, ok := t.appHandles[pid]
	t.mu.Unlock()
	if !ok {
		var err error
		appHandle, err = t.platform.AppAXHandle(pid)
		if err != nil {
			return ChangeReport{}, fmt.Errorf("engine: resolving app handle for pid %d: %w", pid, err)
		}
		t.mu.Lock()
		t.appHandles[pid] = appHandle
		t.mu.Unlock()
	}
	records, err := t.disc.DiscoverApplication(ctx, pid, appHandle, t.discoverOptions(pid))
	if err != nil {
		return ChangeReport{}, fmt.Errorf("engine: refreshing pid %d: %w", pid, err)
	}
	report := t.repo.Reconcile(pid, records)
	t.publishReport(pid, report)
	return report, nil
}

// discoverOptions assembles the cross-pass context for one discovery run.
func (t *Tracker) discoverOptions(pid int32) discoverOptions {
	t.mu.Lock()
	app := t.apps[pid]
	t.mu.Unlock()
	fresh := make(map[uint32]struct{})
	for _, id := range t.repo.FreshPreviewIDs(pid, time.Now()) {
		fresh[id] = struct{}{}
	}
	return discoverOptions{
		bundleID:      app.BundleID,
		freshPreviews: fresh,
		onPreview: func(id uint32, img Image) {
			t.repo.PutPreview(pid, id, img, time.Now())
			t.events.Publish(Event{Kind: PreviewCaptured, PID: pid, WindowID: id, Preview: &img})
		},
	}
}

// FullScan refreshes every currently running regular application, bounded
// to maxConcurrentFullScan concurrent rediscoveries, and returns the merged
// change report.
func (t *Tracker) FullScan(ctx context.Context) (ChangeReport, error) {
	start := time.Now()
	apps := t.platform.RunningApplications()
	t.mu.Lock()
	for _, app := range apps {
		t.apps[app.PID] = app
	}
	t.mu.Unlock()

	var mu sync.Mutex
	var merged ChangeReport
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFullScan)
	for _, app := range apps {
		pid := app.PID
		g.Go(func() error {
			report, err := t.RefreshApplication(ctx, pid)
			if err != nil {
				// A single application's failure does not fail the scan.
				t.log.Debug().Int32("pid", pid).Err(err).Msg("scan skipped application")
				return nil
			}
			mu.Lock()
			merged.Added = append(merged.Added, report.Added...)
			merged.Removed = append(merged.Removed, report.Removed...)
			merged.Modified = append(merged.Modified, report.Modified...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	t.log.Info().
		Dur("duration", time.Since(start)).
		Int("applications", len(apps)).
		Int("added", len(merged.Added)).
		Int("removed", len(merged.Removed)).
		Msg("full scan complete")
	return merged, nil
}

// CapturePreview captures a fresh preview for window id and stores it.
func (t *Tracker) CapturePreview(ctx context.Context, id uint32) (Image, error) {
	pid, ok := t.repo.FindOwner(id)
	if !ok {
		return Image{}, fmt.Errorf("engine: window %d is not tracked", id)
	}
	img, err := t.platform.CaptureWindow(ctx, id)
	if err != nil {
		return Image{}, fmt.Errorf("engine: capturing preview for window %d: %w", id, err)
	}
	t.repo.PutPreview(pid, id, img, time.Now())
	t.events.Publish(Event{Kind: PreviewCaptured, PID: pid, WindowID: id, Preview: &img})
	return img, nil
}

// RefreshPreviews recaptures a preview for every window of pid whose cached
// preview is missing or stale, bounded to maxConcurrentFullScan concurrent
// captures. It returns the number of previews refreshed.
func (t *Tracker) RefreshPreviews(ctx context.Context, pid int32) (int, error) {
	fresh := make(map[uint32]struct{})
	for _, id := range t.repo.FreshPreviewIDs(pid, time.Now()) {
		fresh[id] = struct{}{}
	}
	var refreshed int
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFullScan)
	for _, rec := range t.repo.ReadApplication(pid) {
		if _, ok := fresh[rec.ID]; ok {
			continue
		}
		id := rec.ID
		g.Go(func() error {
			if _, err := t.CapturePreview(ctx, id); err == nil {
				mu.Lock()
				refreshed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return refreshed, nil
}

// consumeProcessEvents is the workspace-notification event loop. Terminate
// is handled immediately. Launch subscribes to the new application's
// accessibility notifications at once and debounces its first refresh;
// activation and space changes debounce too, since a Space switch or a fast
// alt-tab sequence can fire several in a row.
func (t *Tracker) consumeProcessEvents(ctx context.Context, w ProcessWatcher) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			t.procEvents.Publish(ev)
			switch ev.Kind {
			case ProcessWillLaunch:
				// Forwarded above; induces no cache change.
			case ProcessLaunched:
				app := RunningApp{PID: ev.PID, BundleID: ev.BundleID, Name: ev.Name}
				appHandle, err := t.platform.AppAXHandle(ev.PID)
				t.mu.Lock()
				t.apps[ev.PID] = app
				if err == nil {
					t.appHandles[ev.PID] = appHandle
				}
				t.mu.Unlock()
				if err == nil && !t.watchers.Watch(ev.PID, appHandle) {
					t.log.Debug().Int32("pid", ev.PID).Msg("accessibility watcher unavailable")
				}
				t.debounce.Trigger(debounceKeyRefresh(ev.PID))
			case ProcessTerminated:
				report := t.UntrackApplication(ev.PID)
				t.log.Debug().Int32("pid", ev.PID).Int("windows", len(report.Removed)).Msg("application terminated")
			case ProcessActivated:
				app := RunningApp{PID: ev.PID, BundleID: ev.BundleID, Name: ev.Name}
				t.mu.Lock()
				t.frontmost = app
				t.apps[ev.PID] = app
				t.mu.Unlock()
				t.debounce.Trigger(debounceKeyRefresh(ev.PID))
			case ActiveSpaceChanged:
				t.debounce.Trigger(debounceKeySpace)
			default:
				t.debounce.Trigger(debounceKeyRefresh(ev.PID))
			}
		}
	}
}

// consumeAXEvents drains the watcher manager's multiplexed stream,
// translating each notification into the minimal repository mutation or a
// debounced refresh.
func (t *Tracker) consumeAXEvents(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-t.watchers.Events():
			if !ok {
				return
			}
			t.handleAXEvent(ev)
		}
	}
}

func (t *Tracker) handleAXEvent(ev AXEvent) {
	pid := ev.PID
	switch ev.Kind {
	case AXWindowCreated, AXWindowMoved, AXWindowResized:
		// The compositor descriptor is the source of truth for bounds, so
		// geometry changes rediscover rather than trusting the element.
		t.debounce.Trigger(debounceKeyRefresh(pid))

	case AXWindowDestroyed:
		t.purifyPID(pid)

	case AXWindowMiniaturized, AXWindowDeminiaturized:
		t.purifyPID(pid)
		if rec, ok := t.findRecordForHandle(pid, ev.Handle); ok {
			minimized := ev.Kind == AXWindowMiniaturized
			report, _ := t.repo.ModifyWindow(pid, rec.ID, func(r WindowRecord) WindowRecord {
				r.IsMinimized = minimized
				r.IsVisible = !minimized
				return r
			})
			t.publishReport(pid, report)
		}

	case AXAppHidden, AXAppShown:
		t.purifyPID(pid)
		hidden := ev.Kind == AXAppHidden
		report := t.repo.ModifyApplication(pid, func(r WindowRecord) WindowRecord {
			r.IsOwnerHidden = hidden
			return r
		})
		t.publishReport(pid, report)

	case AXFocusedWindowChanged, AXMainWindowChanged:
		if rec, ok := t.findRecordForHandle(pid, ev.Handle); ok {
			_, _ = t.repo.ModifyWindow(pid, rec.ID, func(r WindowRecord) WindowRecord {
				r.LastInteractionTime = time.Now()
				return r
			})
		}

	case AXTitleChanged:
		if role, _ := t.platform.ReadElementRole(ev.Handle); role != "AXWindow" {
			return
		}
		title, ok := t.platform.ReadWindowTitle(ev.Handle)
		if !ok {
			return
		}
		if rec, found := t.findRecordForHandle(pid, ev.Handle); found {
			report, _ := t.repo.ModifyWindow(pid, rec.ID, func(r WindowRecord) WindowRecord {
				r.Title = title
				return r
			})
			t.publishReport(pid, report)
		}
	}
}

// purifyPID drops every record for pid whose handle no longer validates,
// publishing a disappearance per dropped window. A pid whose process is
// gone entirely (no watcher, no live handles) loses everything here.
func (t *Tracker) purifyPID(pid int32) {
	_, report := t.repo.Purify(pid, func(h Handle) bool {
		return IsValidElement(t.platform, h, pid)
	})
	t.publishReport(pid, report)
}

// findRecordForHandle locates the cached record a notification's element
// refers to: first by the platform's window-id resolution, then by handle
// equality.
func (t *Tracker) findRecordForHandle(pid int32, h Handle) (WindowRecord, bool) {
	if h == nil || h.Zero() {
		return WindowRecord{}, false
	}
	if id := t.platform.AXHandleToWindowID(h); id != 0 {
		if rec, ok := t.repo.ReadWindow(pid, id); ok {
			return rec, true
		}
	}
	return t.repo.FindWindowByHandle(pid, h)
}

// runDebouncedRefresh is the debouncer's deferred callback. A scan already
// in flight is never cancelled by a newer trigger; only pending timers are
// replaced.
func (t *Tracker) runDebouncedRefresh(key string) {
	t.mu.Lock()
	running := t.running
	t.mu.Unlock()
	if !running {
		return
	}
	ctx := context.Background()
	if key == debounceKeySpace {
		_, _ = t.FullScan(ctx)
		return
	}
	if pid, ok := parseDebounceKeyRefresh(key); ok {
		if _, err := t.RefreshApplication(ctx, pid); err != nil {
			t.log.Debug().Int32("pid", pid).Err(err).Msg("debounced refresh failed")
		}
	}
}

// Debounce keys partition by intent: many notifications for one pid
// collapse into one refresh, while a space change schedules a full scan
// without cancelling any per-pid refresh.
const debounceKeySpace = "space-change"

func debounceKeyRefresh(pid int32) string {
	return fmt.Sprintf("refresh-%d", pid)
}

func parseDebounceKeyRefresh(key string) (int32, bool) {
	var pid int32
	n, err := fmt.Sscanf(key, "refresh-%d", &pid)
	if err != nil || n != 1 {
		return 0, false
	}
	return pid, true
}
