// Copyright 2025 Joseph Cumines
//
// Watchers wrap the two families of OS notifications the tracker reacts to:
// workspace-level process/space lifecycle events, and per-application
// accessibility notifications about its windows. Both are exposed as plain
// receive-only channels so the tracker's event loop can select over them
// uniformly; the platform-specific construction lives in platform_darwin.go
// and platform_other.go. watcherManager multiplexes every per-application
// stream into one (pid, event) stream.

package engine

import "sync"

// ProcessEventKind enumerates the workspace notifications a ProcessWatcher
// reports.
type ProcessEventKind int

const (
	ProcessLaunched ProcessEventKind = iota
	ProcessTerminated
	ProcessActivated
	ProcessDeactivated
	ProcessHidden
	ProcessUnhidden
	ActiveSpaceChanged
	ProcessWillLaunch
)

// ProcessEvent is one workspace-level notification. Launch, activation, and
// will-launch events are only delivered for regular-activation-policy
// processes; agents and daemons never appear.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type ProcessEvent struct {
	Kind     ProcessEventKind
	PID      int32
	BundleID string
	Name     string
}

// ProcessWatcher streams workspace-level process and space lifecycle
// notifications until Close is called.
type ProcessWatcher interface {
	Events() <-chan ProcessEvent
	Close() error
}

// AXEventKind enumerates the accessibility notifications an AXWatcher
// reports: the eleven notifications the tracker subscribes to, covering
// window lifecycle (created, destroyed), geometry (moved, resized),
// minimize state, title, focus/main-window changes, and application-level
// hide/show.
type AXEventKind int

const (
	AXWindowCreated AXEventKind = iota
	AXWindowDestroyed
	AXWindowMoved
	AXWindowResized
	AXWindowMiniaturized
	AXWindowDeminiaturized
	AXTitleChanged
	AXMainWindowChanged
	AXFocusedWindowChanged
	AXAppHidden
	AXAppShown
)

// AXEvent is one accessibility notification. Handle identifies the element
// the notification concerns; it is the zero Handle for application-scoped
// notifications like AXAppHidden.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type AXEvent struct {
	Kind   AXEventKind
	PID    int32
	Handle Handle
}

// AXWatcher streams window-level accessibility notifications for a single
// application until Close is called.
type AXWatcher interface {
	Events() <-chan AXEvent
	Close() error
}

// watcherManager owns one AXWatcher per tracked pid and multiplexes their
// events into a single stream. All mutation is serialized by its lock;
// the fan-in goroutines it spawns live until the watcher they drain closes.
type watcherManager struct {
	mu       sync.Mutex
	platform Platform
	watchers map[int32]AXWatcher
	events   chan AXEvent
	wg       sync.WaitGroup
	closed   bool
}

func newWatcherManager(p Platform) *watcherManager {
	return &watcherManager{
		platform: p,
		watchers: make(map[int32]AXWatcher),
		events:   make(chan AXEvent, 256),
	}
}

// Events is the multiplexed (pid, event) stream across every watched pid.
func (m *watcherManager) Events() <-chan AXEvent { return m.events }

// Watch subscribes to pid's accessibility notifications. It is idempotent:
// watching an already-watched pid is a no-op reporting success. Returns
// false when watcher construction fails (a hardened or unresponsive
// process); the pid is then simply not watched, and reactive refreshes via
// launch/activate events still cover it.
func (m *watcherManager) Watch(pid int32, appHandle Handle) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	if _, already := m.watchers[pid]; already {
		m.mu.Unlock()
		return true
	}
	m.mu.Unlock()

	w, err := m.platform.NewAccessibilityWatcher(pid, appHandle)
	if err != nil {
		return false
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		w.Close()
		return false
	}
	if _, raced := m.watchers[pid]; raced {
		m.mu.Unlock()
		w.Close()
		return true
	}
	m.watchers[pid] = w
	m.wg.Add(1)
	m.mu.Unlock()

	go m.drain(pid, w)
	return true
}

// drain forwards one watcher's events into the shared stream, stamping the
// pid, until the watcher closes its channel.
func (m *watcherManager) drain(pid int32, w AXWatcher) {
	defer m.wg.Done()
	for ev := range w.Events() {
		ev.PID = pid
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return
		}
		select {
		case m.events <- ev:
		default:
			// A full buffer means the tracker is already behind on a burst
			// and the event is dropped. Created, moved and resized events
			// only schedule a debounced refresh that a later event also
			// schedules; the other kinds update the cache directly, so a
			// dropped one is reconciled only by the application's next
			// refresh.
		}
	}
}

// Unwatch tears down pid's watcher, if any.
func (m *watcherManager) Unwatch(pid int32) {
	m.mu.Lock()
	w, ok := m.watchers[pid]
	delete(m.watchers, pid)
	m.mu.Unlock()
	if ok {
		w.Close()
	}
}

// Watched returns the pids currently holding a live watcher.
func (m *watcherManager) Watched() []int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int32, 0, len(m.watchers))
	for pid := range m.watchers {
		out = append(out, pid)
	}
	return out
}

// IsWatched reports whether pid currently holds a live watcher.
func (m *watcherManager) IsWatched(pid int32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watchers[pid]
	return ok
}

// Close tears down every watcher and waits for the fan-in goroutines.
func (m *watcherManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	watchers := make([]AXWatcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.watchers = make(map[int32]AXWatcher)
	m.mu.Unlock()
	for _, w := range watchers {
		w.Close()
	}
	m.wg.Wait()
}
