// Copyright 2025 Joseph Cumines
//
// fakeTracker is an in-memory Tracker double backed by a real engine
// Repository, in the style of the mock clients the tool-handler tests have
// always used: call recording plus injectable results and errors.

package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/joeycumines/windowkit/internal/config"
	"github.com/joeycumines/windowkit/internal/engine"
)

type fakeTracker struct {
	mu   sync.Mutex
	repo *engine.Repository

	apps      map[int32]engine.RunningApp
	frontmost engine.RunningApp
	granted   bool

	trackRecords  []engine.WindowRecord
	trackErr      error
	refreshReport engine.ChangeReport
	refreshErr    error
	scanReport    engine.ChangeReport
	scanErr       error
	captureImg    engine.Image
	captureErr    error
	refreshedN    int
	manipErr      error

	calls []string
	subs  []chan engine.Event
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		repo:    engine.NewRepository(0, 0),
		apps:    make(map[int32]engine.RunningApp),
		granted: true,
	}
}

func (f *fakeTracker) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeTracker) StartTracking(context.Context) error { return nil }
func (f *fakeTracker) StopTracking()                       {}

func (f *fakeTracker) TrackApplication(_ context.Context, app engine.RunningApp) ([]engine.WindowRecord, error) {
	f.record("TrackApplication")
	if f.trackErr != nil {
		return nil, f.trackErr
	}
	f.mu.Lock()
	f.apps[app.PID] = app
	f.mu.Unlock()
	f.repo.Store(app.PID, f.trackRecords)
	return f.trackRecords, nil
}

func (f *fakeTracker) UntrackApplication(pid int32) engine.ChangeReport {
	f.record("UntrackApplication")
	return f.repo.RemoveApplication(pid)
}

func (f *fakeTracker) RefreshApplication(_ context.Context, pid int32) (engine.ChangeReport, error) {
	f.record("RefreshApplication")
	return f.refreshReport, f.refreshErr
}

func (f *fakeTracker) FullScan(context.Context) (engine.ChangeReport, error) {
	f.record("FullScan")
	return f.scanReport, f.scanErr
}

func (f *fakeTracker) CapturePreview(_ context.Context, id uint32) (engine.Image, error) {
	f.record("CapturePreview")
	if f.captureErr != nil {
		return engine.Image{}, f.captureErr
	}
	if pid, ok := f.repo.FindOwner(id); ok {
		f.repo.PutPreview(pid, id, f.captureImg, time.Now())
	}
	return f.captureImg, nil
}

func (f *fakeTracker) RefreshPreviews(_ context.Context, pid int32) (int, error) {
	f.record("RefreshPreviews")
	return f.refreshedN, nil
}

func (f *fakeTracker) Repository() *engine.Repository { return f.repo }

func (f *fakeTracker) SubscribeEvents(buffer int) (<-chan engine.Event, func()) {
	ch := make(chan engine.Event, buffer)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch, func() {}
}

func (f *fakeTracker) SubscribeProcessEvents(buffer int) (<-chan engine.ProcessEvent, func()) {
	ch := make(chan engine.ProcessEvent, buffer)
	return ch, func() {}
}

func (f *fakeTracker) emit(ev engine.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (f *fakeTracker) PermissionGranted() bool { return f.granted }

func (f *fakeTracker) FrontmostApplication() engine.RunningApp { return f.frontmost }

func (f *fakeTracker) TrackedApplications() []engine.RunningApp {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]engine.RunningApp, 0, len(f.apps))
	for _, app := range f.apps {
		out = append(out, app)
	}
	return out
}

func (f *fakeTracker) IgnorePID(pid int32) {
	f.record("IgnorePID")
	f.repo.RemoveApplication(pid)
	f.repo.IgnorePID(pid)
}

func (f *fakeTracker) UnignorePID(pid int32) {
	f.record("UnignorePID")
	f.repo.UnignorePID(pid)
}

func (f *fakeTracker) FocusWindow(id uint32) error {
	f.record("FocusWindow")
	return f.manipErr
}

func (f *fakeTracker) MinimizeWindow(id uint32, minimized bool) error {
	f.record("MinimizeWindow")
	return f.manipErr
}

func (f *fakeTracker) CloseWindow(id uint32) error {
	f.record("CloseWindow")
	return f.manipErr
}

// newTestServer constructs an MCPServer over a fresh fakeTracker with audit
// logging disabled.
func newTestServer(t interface{ Fatalf(string, ...any) }) (*MCPServer, *fakeTracker) {
	ft := newFakeTracker()
	s, err := NewMCPServer(&config.Config{}, ft, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewMCPServer() error = %v", err)
	}
	return s, ft
}
