// Copyright 2025 Joseph Cumines
//
// darwinProcessWatcher and darwinAXWatcher bridge NSWorkspace and AXObserver
// notifications onto the ProcessWatcher/AXWatcher channel interfaces. Every
// process watcher shares one workspace observer, whose CFRunLoop runs on a
// locked OS thread started with the first watcher; each AX watcher runs its
// own CFRunLoop on its own locked OS thread.

//go:build darwin

package engine

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework ApplicationServices -framework AppKit -framework Foundation

#import <AppKit/AppKit.h>
#import <ApplicationServices/ApplicationServices.h>

// Forward declarations of the Go-exported callbacks.
extern void goProcessEvent(int kind, int32_t pid, char *bundleID, char *name);
extern void goAXEvent(uintptr_t handleToken, int kind, int32_t pid, AXUIElementRef element);

@interface EngineWorkspaceObserver : NSObject
@end

@implementation EngineWorkspaceObserver

- (void)emit:(NSNotification *)note kind:(int)kind regularOnly:(BOOL)regularOnly {
	NSRunningApplication *app = note.userInfo[NSWorkspaceApplicationKey];
	if (regularOnly && (!app || app.activationPolicy != NSApplicationActivationPolicyRegular)) {
		return;
	}
	int32_t pid = app ? (int32_t)app.processIdentifier : 0;
	const char *bundleID = app && app.bundleIdentifier ? app.bundleIdentifier.UTF8String : "";
	const char *name = app && app.localizedName ? app.localizedName.UTF8String : "";
	goProcessEvent(kind, pid, (char *)bundleID, (char *)name);
}

- (void)launched:(NSNotification *)n   { [self emit:n kind:0 regularOnly:YES]; }
- (void)terminated:(NSNotification *)n { [self emit:n kind:1 regularOnly:NO]; }
- (void)activated:(NSNotification *)n  { [self emit:n kind:2 regularOnly:YES]; }
- (void)deactivated:(NSNotification *)n{ [self emit:n kind:3 regularOnly:NO]; }
- (void)hidden:(NSNotification *)n     { [self emit:n kind:4 regularOnly:NO]; }
- (void)unhidden:(NSNotification *)n   { [self emit:n kind:5 regularOnly:NO]; }
- (void)spaceChanged:(NSNotification *)n {
	goProcessEvent(6, 0, (char *)"", (char *)"");
}
- (void)willLaunch:(NSNotification *)n { [self emit:n kind:7 regularOnly:YES]; }

@end

static EngineWorkspaceObserver *engineWorkspaceObserver = nil;
static CFRunLoopRef engineWorkspaceRunLoop = NULL;

static void startWorkspaceObserver(void) {
	@autoreleasepool {
		engineWorkspaceObserver = [[EngineWorkspaceObserver alloc] init];
		NSNotificationCenter *c = [[NSWorkspace sharedWorkspace] notificationCenter];
		[c addObserver:engineWorkspaceObserver selector:@selector(willLaunch:) name:NSWorkspaceWillLaunchApplicationNotification object:nil];
		[c addObserver:engineWorkspaceObserver selector:@selector(launched:) name:NSWorkspaceDidLaunchApplicationNotification object:nil];
		[c addObserver:engineWorkspaceObserver selector:@selector(terminated:) name:NSWorkspaceDidTerminateApplicationNotification object:nil];
		[c addObserver:engineWorkspaceObserver selector:@selector(activated:) name:NSWorkspaceDidActivateApplicationNotification object:nil];
		[c addObserver:engineWorkspaceObserver selector:@selector(deactivated:) name:NSWorkspaceDidDeactivateApplicationNotification object:nil];
		[c addObserver:engineWorkspaceObserver selector:@selector(hidden:) name:NSWorkspaceDidHideApplicationNotification object:nil];
		[c addObserver:engineWorkspaceObserver selector:@selector(unhidden:) name:NSWorkspaceDidUnhideApplicationNotification object:nil];
		[c addObserver:engineWorkspaceObserver selector:@selector(spaceChanged:) name:NSWorkspaceActiveSpaceDidChangeNotification object:nil];
		engineWorkspaceRunLoop = CFRunLoopGetCurrent();
		CFRunLoopRun();
	}
}

static void stopWorkspaceObserver(void) {
	if (engineWorkspaceRunLoop) CFRunLoopStop(engineWorkspaceRunLoop);
	[[[NSWorkspace sharedWorkspace] notificationCenter] removeObserver:engineWorkspaceObserver];
}

// ---- per-application AXObserver --------------------------------------------

static void axObserverCallback(AXObserverRef observer, AXUIElementRef element,
                                CFStringRef notification, void *refcon) {
	uintptr_t token = (uintptr_t)refcon;
	int kind = -1;
	if (CFStringCompare(notification, kAXWindowCreatedNotification, 0) == kCFCompareEqualTo) kind = 0;
	else if (CFStringCompare(notification, kAXUIElementDestroyedNotification, 0) == kCFCompareEqualTo) kind = 1;
	else if (CFStringCompare(notification, kAXMovedNotification, 0) == kCFCompareEqualTo) kind = 2;
	else if (CFStringCompare(notification, kAXResizedNotification, 0) == kCFCompareEqualTo) kind = 3;
	else if (CFStringCompare(notification, CFSTR("AXWindowMiniaturized"), 0) == kCFCompareEqualTo) kind = 4;
	else if (CFStringCompare(notification, CFSTR("AXWindowDeminiaturized"), 0) == kCFCompareEqualTo) kind = 5;
	else if (CFStringCompare(notification, kAXTitleChangedNotification, 0) == kCFCompareEqualTo) kind = 6;
	else if (CFStringCompare(notification, kAXMainWindowChangedNotification, 0) == kCFCompareEqualTo) kind = 7;
	else if (CFStringCompare(notification, kAXFocusedWindowChangedNotification, 0) == kCFCompareEqualTo) kind = 8;
	else if (CFStringCompare(notification, kAXApplicationHiddenNotification, 0) == kCFCompareEqualTo) kind = 9;
	else if (CFStringCompare(notification, kAXApplicationShownNotification, 0) == kCFCompareEqualTo) kind = 10;
	if (kind < 0) return;
	CFRetain(element);
	goAXEvent(token, kind, 0, element);

	// A newly created window is not yet individually registered for the
	// per-window notifications; register it now so moved/resized/title/
	// miniaturize events on it are delivered too.
	if (kind == 0) {
		AXObserverAddNotification(observer, element, kAXUIElementDestroyedNotification, refcon);
		AXObserverAddNotification(observer, element, kAXMovedNotification, refcon);
		AXObserverAddNotification(observer, element, kAXResizedNotification, refcon);
		AXObserverAddNotification(observer, element, CFSTR("AXWindowMiniaturized"), refcon);
		AXObserverAddNotification(observer, element, CFSTR("AXWindowDeminiaturized"), refcon);
		AXObserverAddNotification(observer, element, kAXTitleChangedNotification, refcon);
	}
}

// benignSubscribeError reports whether an AXObserverAddNotification failure
// can be ignored: already registered, notification unsupported, or not
// implemented by the target app.
static int benignSubscribeError(AXError err) {
	return err == kAXErrorSuccess ||
	       err == kAXErrorNotificationAlreadyRegistered ||
	       err == kAXErrorNotificationUnsupported ||
	       err == kAXErrorNotImplemented;
}

typedef struct {
	AXObserverRef observer;
	CFRunLoopRef runLoop;
	int failed;
} engineAXContext;

static const CFStringRef engineAXNotifications[] = {
	CFSTR("AXWindowCreated"),
	CFSTR("AXUIElementDestroyed"),
	CFSTR("AXWindowMiniaturized"),
	CFSTR("AXWindowDeminiaturized"),
	CFSTR("AXApplicationHidden"),
	CFSTR("AXApplicationShown"),
	CFSTR("AXFocusedWindowChanged"),
	CFSTR("AXResized"),
	CFSTR("AXMoved"),
	CFSTR("AXTitleChanged"),
	CFSTR("AXMainWindowChanged"),
};

static engineAXContext startAXObserver(int32_t pid, AXUIElementRef appElement, uintptr_t token) {
	engineAXContext ctx = {NULL, NULL, 0};
	AXObserverRef observer = NULL;
	if (AXObserverCreate((pid_t)pid, axObserverCallback, &observer) != kAXErrorSuccess) {
		ctx.failed = 1;
		return ctx;
	}
	void *refcon = (void *)token;
	size_t n = sizeof(engineAXNotifications) / sizeof(engineAXNotifications[0]);
	for (size_t i = 0; i < n; i++) {
		AXError err = AXObserverAddNotification(observer, appElement, engineAXNotifications[i], refcon);
		if (!benignSubscribeError(err)) {
			CFRelease(observer);
			ctx.failed = 1;
			return ctx;
		}
	}
	CFRunLoopAddSource(CFRunLoopGetCurrent(), AXObserverGetRunLoopSource(observer), kCFRunLoopDefaultMode);
	ctx.observer = observer;
	ctx.runLoop = CFRunLoopGetCurrent();
	return ctx;
}

static void runAXObserverLoop(void) {
	CFRunLoopRun();
}

static void stopAXObserver(engineAXContext ctx) {
	if (ctx.runLoop) CFRunLoopStop(ctx.runLoop);
	if (ctx.observer) CFRelease(ctx.observer);
}
*/
import "C"

import (
	"runtime"
	"runtime/cgo"
	"sync"
)

// ---- ProcessWatcher ---------------------------------------------------------

var (
	processWatchersMu   sync.Mutex
	processWatchers     = map[*darwinProcessWatcher]struct{}{}
	processObserverOnce sync.Once
)

type darwinProcessWatcher struct {
	events chan ProcessEvent
}

func newDarwinProcessWatcher() (*darwinProcessWatcher, error) {
	w := &darwinProcessWatcher{events: make(chan ProcessEvent, 64)}
	processWatchersMu.Lock()
	processWatchers[w] = struct{}{}
	processWatchersMu.Unlock()
	processObserverOnce.Do(func() {
		go func() {
			runtime.LockOSThread()
			C.startWorkspaceObserver()
		}()
	})
	return w, nil
}

func (w *darwinProcessWatcher) Events() <-chan ProcessEvent { return w.events }

func (w *darwinProcessWatcher) Close() error {
	processWatchersMu.Lock()
	if _, ok := processWatchers[w]; !ok {
		processWatchersMu.Unlock()
		return nil
	}
	delete(processWatchers, w)
	empty := len(processWatchers) == 0
	processWatchersMu.Unlock()
	if empty {
		C.stopWorkspaceObserver()
	}
	close(w.events)
	return nil
}

//export goProcessEvent
func goProcessEvent(kind C.int, pid C.int32_t, bundleID, name *C.char) {
	ev := ProcessEvent{
		Kind:     ProcessEventKind(kind),
		PID:      int32(pid),
		BundleID: C.GoString(bundleID),
		Name:     C.GoString(name),
	}
	processWatchersMu.Lock()
	defer processWatchersMu.Unlock()
	for w := range processWatchers {
		select {
		case w.events <- ev:
		default:
		}
	}
}

// ---- AXWatcher --------------------------------------------------------------

type darwinAXWatcher struct {
	events  chan AXEvent
	handle  cgo.Handle
	ctx     C.engineAXContext
	pid     int32
	stopped chan struct{}
	once    sync.Once
}

func newDarwinAXWatcher(pid int32, appHandle *axHandle) (*darwinAXWatcher, error) {
	w := &darwinAXWatcher{events: make(chan AXEvent, 64), pid: pid, stopped: make(chan struct{})}
	w.handle = cgo.NewHandle(w)
	ready := make(chan C.engineAXContext, 1)
	go func() {
		runtime.LockOSThread()
		ctx := C.startAXObserver(C.int32_t(pid), appHandle.ref, C.uintptr_t(w.handle))
		ready <- ctx
		if ctx.observer != nil {
			C.runAXObserverLoop()
		}
		close(w.stopped)
	}()
	w.ctx = <-ready
	if w.ctx.observer == nil {
		w.handle.Delete()
		return nil, ErrCannotComplete
	}
	return w, nil
}

func (w *darwinAXWatcher) Events() <-chan AXEvent { return w.events }

func (w *darwinAXWatcher) Close() error {
	w.once.Do(func() {
		C.stopAXObserver(w.ctx)
		<-w.stopped
		w.handle.Delete()
		close(w.events)
	})
	return nil
}

//export goAXEvent
func goAXEvent(token C.uintptr_t, kind C.int, pid C.int32_t, element C.AXUIElementRef) {
	w, ok := cgo.Handle(token).Value().(*darwinAXWatcher)
	if !ok {
		C.CFRelease(C.CFTypeRef(element))
		return
	}
	ev := AXEvent{Kind: AXEventKind(kind), PID: w.pid, Handle: newAXHandle(element)}
	select {
	case w.events <- ev:
	default:
	}
}
