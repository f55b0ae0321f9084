// Copyright 2025 Joseph Cumines
//
// fakePlatform is an in-memory Platform double used across engine tests: a
// struct of maps the test populates directly, with sane zero-value behavior
// (missing entries read as "not found" rather than panicking).

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type geomEntry struct {
	pos  Point
	size Size
}

type fakePlatform struct {
	mu sync.Mutex

	descriptors    map[int32][]Descriptor
	shareable      map[int32][]Descriptor
	shareableErr   map[int32]error
	windowHandles  map[int32][]Handle
	windowListErr  map[int32]error
	synthetic      map[int32]map[int]Handle
	geometry       map[Handle]geomEntry
	geometryErr    map[Handle]error
	titles         map[Handle]string
	attrs          map[Handle]WindowAttributes
	roles          map[Handle][2]string
	hasCloseButton map[Handle]bool
	hasMinButton   map[Handle]bool
	handleToID     map[Handle]uint32
	appAXHandles   map[int32]Handle
	spaces         map[uint32][]int32
	levels         map[uint32]int32
	activeSpaces   map[int32]struct{}
	running        []RunningApp
	screenCapture  bool
	captured       map[uint32]Image
	captureErr     map[uint32]error
	setAttrCalls   []string
	setAttrErr     error
	performCalls   []string
	performErr     error

	procWatchers []*fakeProcessWatcher
	axWatchers   map[int32]*fakeAXWatcher
	axWatcherErr map[int32]error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		descriptors:    make(map[int32][]Descriptor),
		shareable:      make(map[int32][]Descriptor),
		shareableErr:   make(map[int32]error),
		windowHandles:  make(map[int32][]Handle),
		windowListErr:  make(map[int32]error),
		synthetic:      make(map[int32]map[int]Handle),
		geometry:       make(map[Handle]geomEntry),
		geometryErr:    make(map[Handle]error),
		titles:         make(map[Handle]string),
		attrs:          make(map[Handle]WindowAttributes),
		roles:          make(map[Handle][2]string),
		hasCloseButton: make(map[Handle]bool),
		hasMinButton:   make(map[Handle]bool),
		handleToID:     make(map[Handle]uint32),
		appAXHandles:   make(map[int32]Handle),
		spaces:         make(map[uint32][]int32),
		levels:         make(map[uint32]int32),
		activeSpaces:   make(map[int32]struct{}),
		captured:       make(map[uint32]Image),
		captureErr:     make(map[uint32]error),
		axWatchers:     make(map[int32]*fakeAXWatcher),
		axWatcherErr:   make(map[int32]error),
		screenCapture:  true,
	}
}

func (f *fakePlatform) CompositorWindowDescriptors(_ context.Context, pid int32) ([]Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.descriptors[pid], nil
}

func (f *fakePlatform) ShareableWindows(_ context.Context, pid int32) ([]Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.shareableErr[pid]; ok {
		return nil, err
	}
	return f.shareable[pid], nil
}

func (f *fakePlatform) WindowSpaces(id uint32) []int32     { return f.spaces[id] }
func (f *fakePlatform) WindowLevel(id uint32) int32        { return f.levels[id] }
func (f *fakePlatform) ActiveSpaceIDs() map[int32]struct{} { return f.activeSpaces }
func (f *fakePlatform) SystemWideHandle() Handle           { return NewToken(0xFFFF) }

func (f *fakePlatform) AppAXHandle(pid int32) (Handle, error) {
	if h, ok := f.appAXHandles[pid]; ok {
		return h, nil
	}
	return NewToken(uint64(pid)), nil
}

func (f *fakePlatform) AXHandleToWindowID(h Handle) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	for candidate, id := range f.handleToID {
		if candidate.Equal(h) {
			return id
		}
	}
	return 0
}

func (f *fakePlatform) AppWindowHandles(pid int32) ([]Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.windowListErr[pid]; ok {
		return nil, err
	}
	return f.windowHandles[pid], nil
}

func (f *fakePlatform) SyntheticWindowHandle(pid int32, elementID int) (Handle, bool) {
	byElement, ok := f.synthetic[pid]
	if !ok {
		return nil, false
	}
	h, ok := byElement[elementID]
	return h, ok
}

func (f *fakePlatform) ReadWindowGeometry(h Handle) (Point, Size, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for candidate, err := range f.geometryErr {
		if candidate.Equal(h) {
			return Point{}, Size{}, err
		}
	}
	for candidate, e := range f.geometry {
		if candidate.Equal(h) {
			return e.pos, e.size, nil
		}
	}
	return Point{}, Size{}, nil
}

func (f *fakePlatform) ReadWindowAttributes(h Handle) (WindowAttributes, error) {
	return f.attrs[h], nil
}

func (f *fakePlatform) ReadWindowTitle(h Handle) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for candidate, title := range f.titles {
		if candidate.Equal(h) {
			return title, true
		}
	}
	return "", false
}

func (f *fakePlatform) ReadElementRole(h Handle) (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for candidate, r := range f.roles {
		if candidate.Equal(h) {
			return r[0], r[1]
		}
	}
	return "", ""
}

func (f *fakePlatform) HasButton(h Handle, kind ButtonKind) bool {
	_, ok := f.ButtonHandle(h, kind)
	return ok
}

func (f *fakePlatform) ButtonHandle(h Handle, kind ButtonKind) (Handle, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	table := f.hasCloseButton
	if kind == MinimizeButton {
		table = f.hasMinButton
	}
	for candidate, has := range table {
		if has && candidate.Equal(h) {
			return NewToken(uint64(kind) + 0xB00000), true
		}
	}
	return nil, false
}

func (f *fakePlatform) WindowList(pid int32) ([]Handle, error) {
	return f.AppWindowHandles(pid)
}

func (f *fakePlatform) SetAttribute(h Handle, attr string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setAttrErr != nil {
		return f.setAttrErr
	}
	f.setAttrCalls = append(f.setAttrCalls, attr)
	return nil
}

func (f *fakePlatform) PerformAction(h Handle, action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.performErr != nil {
		return f.performErr
	}
	f.performCalls = append(f.performCalls, action)
	return nil
}

func (f *fakePlatform) CaptureWindow(_ context.Context, id uint32) (Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.captureErr[id]; ok {
		return Image{}, err
	}
	if img, ok := f.captured[id]; ok {
		return img, nil
	}
	return Image{MimeType: "image/png", Data: []byte("fake")}, nil
}

func (f *fakePlatform) NewProcessWatcher() (ProcessWatcher, error) {
	w := newFakeProcessWatcher()
	f.mu.Lock()
	f.procWatchers = append(f.procWatchers, w)
	f.mu.Unlock()
	return w, nil
}

func (f *fakePlatform) NewAccessibilityWatcher(pid int32, appHandle Handle) (AXWatcher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.axWatcherErr[pid]; ok {
		return nil, err
	}
	w := newFakeAXWatcher()
	f.axWatchers[pid] = w
	return w, nil
}

func (f *fakePlatform) axWatcher(pid int32) *fakeAXWatcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.axWatchers[pid]
}

func (f *fakePlatform) procWatcher() *fakeProcessWatcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.procWatchers) == 0 {
		return nil
	}
	return f.procWatchers[len(f.procWatchers)-1]
}

func (f *fakePlatform) RunningApplications() []RunningApp { return f.running }

func (f *fakePlatform) ScreenCaptureAvailable() bool { return f.screenCapture }

// fakeProcessWatcher and fakeAXWatcher let tests inject synthetic OS events
// directly onto the channel the tracker consumes.
type fakeProcessWatcher struct {
	events chan ProcessEvent
	once   sync.Once
}

func newFakeProcessWatcher() *fakeProcessWatcher {
	return &fakeProcessWatcher{events: make(chan ProcessEvent, 64)}
}

func (w *fakeProcessWatcher) Events() <-chan ProcessEvent { return w.events }
func (w *fakeProcessWatcher) Close() error {
	w.once.Do(func() { close(w.events) })
	return nil
}
func (w *fakeProcessWatcher) Emit(ev ProcessEvent) {
	select {
	case w.events <- ev:
	case <-time.After(time.Second):
	}
}

type fakeAXWatcher struct {
	events chan AXEvent
	once   sync.Once
}

func newFakeAXWatcher() *fakeAXWatcher {
	return &fakeAXWatcher{events: make(chan AXEvent, 64)}
}

func (w *fakeAXWatcher) Events() <-chan AXEvent { return w.events }
func (w *fakeAXWatcher) Close() error {
	w.once.Do(func() { close(w.events) })
	return nil
}
func (w *fakeAXWatcher) Emit(ev AXEvent) {
	select {
	case w.events <- ev:
	case <-time.After(time.Second):
	}
}

// quietConfig returns a Config suitable for tests: fast debounce, logging
// discarded, headless unless the test opts in to capture.
func quietConfig(debounce time.Duration, headless bool) Config {
	nop := zerolog.Nop()
	return Config{
		Headless:         headless,
		DebounceInterval: debounce,
		Logger:           &nop,
	}
}
