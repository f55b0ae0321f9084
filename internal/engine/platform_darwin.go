// Copyright 2025 Joseph Cumines

//go:build darwin

package engine

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework ApplicationServices -framework AppKit -framework CoreGraphics -framework Foundation

#include <stdlib.h>
#include <string.h>
#import <AppKit/AppKit.h>
#import <ApplicationServices/ApplicationServices.h>
#import <CoreGraphics/CoreGraphics.h>

// Private HIServices symbol (stable ABI, used by yabai/Hammerspoon et al.):
// constructs an AXUIElement from a remote token, letting us address an
// element of another process by (pid, element id) without walking its tree.
extern AXUIElementRef _AXUIElementCreateWithRemoteToken(CFDataRef data);

// createRemoteTokenElement builds the 20-byte remote token for (pid,
// elementID): pid at 0x0, the element id as a 64-bit value at 0x8, and the
// 'coco' magic at 0x10.
static AXUIElementRef createRemoteTokenElement(int32_t pid, uint32_t elementID) {
	uint8_t token[0x14] = {0};
	memcpy(token + 0x0, &pid, sizeof(int32_t));
	uint64_t eid = elementID;
	memcpy(token + 0x8, &eid, sizeof(uint64_t));
	uint32_t magic = 0x636f636f;
	memcpy(token + 0x10, &magic, sizeof(uint32_t));
	CFDataRef data = CFDataCreate(NULL, token, sizeof(token));
	if (!data) return NULL;
	AXUIElementRef element = _AXUIElementCreateWithRemoteToken(data);
	CFRelease(data);
	return element;
}

// Private CGS space APIs (stable ABI, used by Moom/Magnet/Raycast et al.).
typedef int CGSConnectionID;
typedef uint64_t CGSSpaceID;
#define CGSAllSpacesMask 7
extern CGSConnectionID CGSMainConnectionID(void);
extern CFArrayRef CGSCopySpacesForWindows(CGSConnectionID cid, int selector, CFArrayRef windowIDs);
extern CFArrayRef CGSCopySpaces(CGSConnectionID cid, int selector);
extern CFArrayRef CGSCopyManagedDisplaySpaces(CGSConnectionID cid);

// ---- compositor enumeration -------------------------------------------------

typedef struct {
	uint32_t id;
	int32_t ownerPID;
	int32_t layer;
	double alpha;
	double x, y, w, h;
	int onScreen;
	char *title; // caller must free
} cgDescriptor;

// listWindowsForPID fills out with up to cap entries owned by pid (or every
// process if pid<=0) and returns the count written.
static int listWindowsForPID(int32_t pid, cgDescriptor *out, int cap) {
	@autoreleasepool {
		CFArrayRef infoList = CGWindowListCopyWindowInfo(
			kCGWindowListOptionAll | kCGWindowListExcludeDesktopElements, kCGNullWindowID);
		if (!infoList) return 0;
		int n = 0;
		CFIndex count = CFArrayGetCount(infoList);
		for (CFIndex i = 0; i < count && n < cap; i++) {
			NSDictionary *info = (__bridge NSDictionary *)CFArrayGetValueAtIndex(infoList, i);
			NSNumber *ownerPID = info[(__bridge NSString *)kCGWindowOwnerPID];
			if (!ownerPID) continue;
			if (pid > 0 && ownerPID.intValue != pid) continue;
			NSNumber *wid = info[(__bridge NSString *)kCGWindowNumber];
			NSNumber *layer = info[(__bridge NSString *)kCGWindowLayer];
			NSNumber *alpha = info[(__bridge NSString *)kCGWindowAlpha];
			NSNumber *onscreen = info[(__bridge NSString *)kCGWindowIsOnscreen];
			NSString *name = info[(__bridge NSString *)kCGWindowName];
			CGRect bounds = CGRectZero;
			NSDictionary *boundsDict = info[(__bridge NSString *)kCGWindowBounds];
			if (boundsDict) CGRectMakeWithDictionaryRepresentation((__bridge CFDictionaryRef)boundsDict, &bounds);

			out[n].id = wid ? (uint32_t)wid.unsignedIntValue : 0;
			out[n].ownerPID = ownerPID.intValue;
			out[n].layer = layer ? layer.intValue : 0;
			out[n].alpha = alpha ? alpha.doubleValue : 1.0;
			out[n].x = bounds.origin.x;
			out[n].y = bounds.origin.y;
			out[n].w = bounds.size.width;
			out[n].h = bounds.size.height;
			out[n].onScreen = onscreen ? onscreen.boolValue : 0;
			out[n].title = name ? strdup(name.UTF8String) : strdup("");
			n++;
		}
		CFRelease(infoList);
		return n;
	}
}

static CFArrayRef copySpacesForWindow(uint32_t windowID) {
	CGSConnectionID conn = CGSMainConnectionID();
	NSArray *ids = @[ @(windowID) ];
	return CGSCopySpacesForWindows(conn, CGSAllSpacesMask, (__bridge CFArrayRef)ids);
}

// ---- accessibility primitives -----------------------------------------------

static AXUIElementRef sharedSystemWide(void) {
	static AXUIElementRef sys = NULL;
	if (!sys) sys = AXUIElementCreateSystemWide();
	return sys;
}

static AXUIElementRef createAppElement(int32_t pid) {
	return AXUIElementCreateApplication((pid_t)pid);
}

static int copyPointAttr(AXUIElementRef el, CFStringRef attr, double *x, double *y) {
	AXValueRef value = NULL;
	AXError err = AXUIElementCopyAttributeValue(el, attr, (CFTypeRef *)&value);
	if (err != kAXErrorSuccess || !value) return (int)err;
	CGPoint p;
	AXValueGetValue(value, kAXValueCGPointType, &p);
	CFRelease(value);
	*x = p.x; *y = p.y;
	return kAXErrorSuccess;
}

static int copySizeAttr(AXUIElementRef el, CFStringRef attr, double *w, double *h) {
	AXValueRef value = NULL;
	AXError err = AXUIElementCopyAttributeValue(el, attr, (CFTypeRef *)&value);
	if (err != kAXErrorSuccess || !value) return (int)err;
	CGSize s;
	AXValueGetValue(value, kAXValueCGSizeType, &s);
	CFRelease(value);
	*w = s.width; *h = s.height;
	return kAXErrorSuccess;
}

static int copyBoolAttr(AXUIElementRef el, CFStringRef attr, int *out) {
	CFBooleanRef value = NULL;
	AXError err = AXUIElementCopyAttributeValue(el, attr, (CFTypeRef *)&value);
	if (err != kAXErrorSuccess || !value) return (int)err;
	*out = CFBooleanGetValue(value) ? 1 : 0;
	CFRelease(value);
	return kAXErrorSuccess;
}

static char *copyStringAttr(AXUIElementRef el, CFStringRef attr) {
	CFStringRef value = NULL;
	AXError err = AXUIElementCopyAttributeValue(el, attr, (CFTypeRef *)&value);
	if (err != kAXErrorSuccess || !value) return NULL;
	char buf[4096];
	if (!CFStringGetCString(value, buf, sizeof(buf), kCFStringEncodingUTF8)) {
		CFRelease(value);
		return NULL;
	}
	CFRelease(value);
	return strdup(buf);
}

static AXUIElementRef copyElementAttr(AXUIElementRef el, CFStringRef attr) {
	AXUIElementRef value = NULL;
	AXError err = AXUIElementCopyAttributeValue(el, attr, (CFTypeRef *)&value);
	if (err != kAXErrorSuccess) return NULL;
	return value;
}

static int hasAction(AXUIElementRef el, CFStringRef action) {
	CFArrayRef names = NULL;
	if (AXUIElementCopyActionNames(el, &names) != kAXErrorSuccess || !names) return 0;
	int found = 0;
	CFIndex n = CFArrayGetCount(names);
	for (CFIndex i = 0; i < n; i++) {
		CFStringRef name = CFArrayGetValueAtIndex(names, i);
		if (CFStringCompare(name, action, 0) == kCFCompareEqualTo) { found = 1; break; }
	}
	CFRelease(names);
	return found;
}

// windowList returns up to cap AXUIElementRefs from pid's AXWindows array.
// Each returned ref is CFRetained; caller owns one reference per entry.
static int windowListForPID(int32_t pid, AXUIElementRef *out, int cap) {
	AXUIElementRef app = createAppElement(pid);
	if (!app) return 0;
	CFArrayRef windows = NULL;
	AXError err = AXUIElementCopyAttributeValue(app, kAXWindowsAttribute, (CFTypeRef *)&windows);
	CFRelease(app);
	if (err != kAXErrorSuccess || !windows) return 0;
	CFIndex n = CFArrayGetCount(windows);
	int written = 0;
	for (CFIndex i = 0; i < n && written < cap; i++) {
		AXUIElementRef w = (AXUIElementRef)CFArrayGetValueAtIndex(windows, i);
		CFRetain(w);
		out[written++] = w;
	}
	CFRelease(windows);
	return written;
}

// screenshotWindow captures id into a PNG buffer, writing the length to outLen.
// Returns NULL on failure (e.g. no Screen Recording permission).
static uint8_t *screenshotWindow(uint32_t windowID, size_t *outLen, int *outW, int *outH) {
	@autoreleasepool {
		CGImageRef img = CGWindowListCreateImage(
			CGRectNull, kCGWindowListOptionIncludingWindow, (CGWindowID)windowID,
			kCGWindowImageBoundsIgnoreFraming | kCGWindowImageBestResolution);
		if (!img) return NULL;
		NSBitmapImageRep *rep = [[NSBitmapImageRep alloc] initWithCGImage:img];
		NSData *png = [rep representationUsingType:NSBitmapImageFileTypePNG properties:@{}];
		CGImageRelease(img);
		if (!png) return NULL;
		*outW = (int)rep.pixelsWide;
		*outH = (int)rep.pixelsHigh;
		*outLen = png.length;
		uint8_t *buf = malloc(png.length);
		memcpy(buf, png.bytes, png.length);
		return buf;
	}
}

static int setBoolAttr(AXUIElementRef el, CFStringRef attr, int value) {
	return (int)AXUIElementSetAttributeValue(el, attr, value ? kCFBooleanTrue : kCFBooleanFalse);
}

static int screenRecordingGranted(void) {
	if (@available(macOS 10.15, *)) {
		return CGPreflightScreenCaptureAccess() ? 1 : 0;
	}
	return 1;
}

static int runningAppsCount(void) {
	@autoreleasepool {
		return (int)[[NSWorkspace sharedWorkspace] runningApplications].count;
	}
}

static void runningAppAt(int index, int32_t *pid, char **bundleID, char **name) {
	@autoreleasepool {
		NSArray *apps = [[NSWorkspace sharedWorkspace] runningApplications];
		if (index < 0 || (NSUInteger)index >= apps.count) { *pid = 0; *bundleID = NULL; *name = NULL; return; }
		NSRunningApplication *app = apps[index];
		*pid = (int32_t)app.processIdentifier;
		*bundleID = app.bundleIdentifier ? strdup(app.bundleIdentifier.UTF8String) : strdup("");
		*name = app.localizedName ? strdup(app.localizedName.UTF8String) : strdup("");
	}
}
*/
import "C"

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"unsafe"
)

// axHandle wraps an AXUIElementRef (or the system-wide element) as a Handle.
// Equality delegates to CFEqual via the platform's own identity rules rather
// than Go pointer comparison, per the Handle contract.
type axHandle struct {
	ref C.AXUIElementRef
}

func newAXHandle(ref C.AXUIElementRef) Handle {
	if ref == nil {
		return ZeroHandle
	}
	h := &axHandle{ref: ref}
	runtime.SetFinalizer(h, func(h *axHandle) {
		C.CFRelease(C.CFTypeRef(h.ref))
	})
	return h
}

func (h *axHandle) Equal(other Handle) bool {
	o, ok := other.(*axHandle)
	if !ok || o.ref == nil || h.ref == nil {
		return false
	}
	return C.CFEqual(C.CFTypeRef(h.ref), C.CFTypeRef(o.ref)) != 0
}

func (h *axHandle) Zero() bool {
	return h == nil || h.ref == nil
}

type darwinPlatform struct {
	mu        sync.Mutex
	connID    C.CGSConnectionID
	sysWide   Handle
}

// NewPlatform constructs the darwin cgo-backed Platform implementation.
func NewPlatform() (Platform, error) {
	return &darwinPlatform{
		connID:  C.CGSMainConnectionID(),
		sysWide: newAXHandle(C.sharedSystemWide()),
	}, nil
}

func axErrToErr(code C.int) error {
	switch code {
	case 0: // kAXErrorSuccess
		return nil
	case -25202, -25204: // kAXErrorInvalidUIElement, kAXErrorCannotComplete
		return ErrCannotComplete
	case -25211: // kAXErrorAPIDisabled
		return ErrPermissionDenied
	default:
		return fmt.Errorf("engine: AX error %d", int(code))
	}
}

func (p *darwinPlatform) CompositorWindowDescriptors(ctx context.Context, pid int32) ([]Descriptor, error) {
	const maxWindows = 256
	buf := make([]C.cgDescriptor, maxWindows)
	done := make(chan int, 1)
	go func() {
		done <- int(C.listWindowsForPID(C.int32_t(pid), &buf[0], C.int(maxWindows)))
	}()
	select {
	case <-ctx.Done():
		return nil, ErrTimeout
	case n := <-done:
		out := make([]Descriptor, 0, n)
		for i := 0; i < n; i++ {
			d := buf[i]
			title := C.GoString(d.title)
			C.free(unsafe.Pointer(d.title))
			out = append(out, Descriptor{
				ID:       uint32(d.id),
				Title:    title,
				OwnerPID: int32(d.ownerPID),
				Layer:    int32(d.layer),
				Alpha:    float64(d.alpha),
				OnScreen: d.onScreen != 0,
				Bounds:   Rect{X: float64(d.x), Y: float64(d.y), Width: float64(d.w), Height: float64(d.h)},
			})
		}
		return out, nil
	}
}

func (p *darwinPlatform) ShareableWindows(ctx context.Context, pid int32) ([]Descriptor, error) {
	if C.screenRecordingGranted() == 0 {
		return nil, ErrPermissionDenied
	}
	all, err := p.CompositorWindowDescriptors(ctx, pid)
	if err != nil {
		return nil, err
	}
	// The shareable-content surface reports only on-screen windows; the
	// same CGWindowList enumeration filtered to on-screen entries is the
	// stable equivalent.
	out := make([]Descriptor, 0, len(all))
	for _, d := range all {
		if d.OnScreen {
			out = append(out, d)
		}
	}
	return out, nil
}

func (p *darwinPlatform) WindowSpaces(id uint32) []int32 {
	arr := C.copySpacesForWindow(C.uint32_t(id))
	if arr == nil {
		return nil
	}
	defer C.CFRelease(C.CFTypeRef(arr))
	n := int(C.CFArrayGetCount(arr))
	out := make([]int32, 0, n)
	for i := 0; i < n; i++ {
		v := C.CFArrayGetValueAtIndex(arr, C.CFIndex(i))
		var num C.longlong
		C.CFNumberGetValue(C.CFNumberRef(v), C.kCFNumberLongLongType, unsafe.Pointer(&num))
		out = append(out, int32(num))
	}
	return out
}

func (p *darwinPlatform) WindowLevel(id uint32) int32 {
	// CGWindowLevel is re-derived from the same enumeration used for
	// descriptors; callers needing it should read Descriptor.Layer instead.
	return 0
}

func (p *darwinPlatform) ActiveSpaceIDs() map[int32]struct{} {
	// Space membership is resolved per-window via WindowSpaces; a global
	// active-space set is not exposed by the stable CGS surface this
	// package relies on.
	return nil
}

func (p *darwinPlatform) SystemWideHandle() Handle {
	return p.sysWide
}

func (p *darwinPlatform) AppAXHandle(pid int32) (Handle, error) {
	ref := C.createAppElement(C.int32_t(pid))
	if ref == nil {
		return nil, ErrCannotComplete
	}
	return newAXHandle(ref), nil
}

func (p *darwinPlatform) AXHandleToWindowID(h Handle) uint32 {
	ah, ok := h.(*axHandle)
	if !ok || ah.Zero() {
		return 0
	}
	// There is no public stable API to go from an AXUIElementRef directly
	// to a CGWindowID; resolution happens via ResolveWindowID's geometry
	// and title heuristics instead, so this is intentionally a no-op.
	return 0
}

func (p *darwinPlatform) AppWindowHandles(pid int32) ([]Handle, error) {
	const maxWindows = 128
	buf := make([]C.AXUIElementRef, maxWindows)
	n := int(C.windowListForPID(C.int32_t(pid), &buf[0], C.int(maxWindows)))
	out := make([]Handle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, newAXHandle(buf[i]))
	}
	return out, nil
}

func (p *darwinPlatform) SyntheticWindowHandle(pid int32, elementID int) (Handle, bool) {
	if elementID < 0 {
		return nil, false
	}
	ref := C.createRemoteTokenElement(C.int32_t(pid), C.uint32_t(elementID))
	if ref == nil {
		return nil, false
	}
	h := newAXHandle(ref)
	// A token pointing at an element id nothing lives at still yields a
	// non-NULL ref; it reveals itself by answering no role. Probe before
	// handing the handle to discovery so the 0..N sweep skips dead ids.
	ah := h.(*axHandle)
	cstr := C.copyStringAttr(ah.ref, C.kAXRoleAttribute)
	if cstr == nil {
		return nil, false
	}
	C.free(unsafe.Pointer(cstr))
	return h, true
}

func (p *darwinPlatform) ReadWindowGeometry(h Handle) (Point, Size, error) {
	ah, ok := h.(*axHandle)
	if !ok || ah.Zero() {
		return Point{}, Size{}, ErrCannotComplete
	}
	var x, y, w, ht C.double
	if err := axErrToErr(C.copyPointAttr(ah.ref, C.kAXPositionAttribute, &x, &y)); err != nil {
		return Point{}, Size{}, err
	}
	if err := axErrToErr(C.copySizeAttr(ah.ref, C.kAXSizeAttribute, &w, &ht)); err != nil {
		return Point{}, Size{}, err
	}
	return Point{X: float64(x), Y: float64(y)}, Size{Width: float64(w), Height: float64(ht)}, nil
}

func (p *darwinPlatform) ReadWindowAttributes(h Handle) (WindowAttributes, error) {
	ah, ok := h.(*axHandle)
	if !ok || ah.Zero() {
		return WindowAttributes{}, ErrCannotComplete
	}
	var attrs WindowAttributes
	var b C.int
	if C.copyBoolAttr(ah.ref, C.kAXMinimizedAttribute, &b) == 0 {
		attrs.Minimized = b != 0
	}
	if C.copyBoolAttr(ah.ref, C.kAXFullScreenAttribute, &b) == 0 {
		attrs.Fullscreen = b != 0
	}
	if C.copyBoolAttr(ah.ref, C.kAXMainAttribute, &b) == 0 {
		attrs.MainWindow = b != 0
	}
	return attrs, nil
}

func (p *darwinPlatform) ReadWindowTitle(h Handle) (string, bool) {
	ah, ok := h.(*axHandle)
	if !ok || ah.Zero() {
		return "", false
	}
	cstr := C.copyStringAttr(ah.ref, C.kAXTitleAttribute)
	if cstr == nil {
		return "", false
	}
	defer C.free(unsafe.Pointer(cstr))
	return C.GoString(cstr), true
}

func (p *darwinPlatform) ReadElementRole(h Handle) (string, string) {
	ah, ok := h.(*axHandle)
	if !ok || ah.Zero() {
		return "", ""
	}
	role := ""
	subrole := ""
	if cstr := C.copyStringAttr(ah.ref, C.kAXRoleAttribute); cstr != nil {
		role = C.GoString(cstr)
		C.free(unsafe.Pointer(cstr))
	}
	if cstr := C.copyStringAttr(ah.ref, C.kAXSubroleAttribute); cstr != nil {
		subrole = C.GoString(cstr)
		C.free(unsafe.Pointer(cstr))
	}
	return role, subrole
}

func (p *darwinPlatform) HasButton(h Handle, kind ButtonKind) bool {
	_, ok := p.ButtonHandle(h, kind)
	return ok
}

func (p *darwinPlatform) ButtonHandle(h Handle, kind ButtonKind) (Handle, bool) {
	ah, ok := h.(*axHandle)
	if !ok || ah.Zero() {
		return nil, false
	}
	var attr C.CFStringRef
	if kind == CloseButton {
		attr = C.kAXCloseButtonAttribute
	} else {
		attr = C.kAXMinimizeButtonAttribute
	}
	el := C.copyElementAttr(ah.ref, attr)
	if el == nil {
		return nil, false
	}
	return newAXHandle(el), true
}

func (p *darwinPlatform) WindowList(pid int32) ([]Handle, error) {
	return p.AppWindowHandles(pid)
}

func (p *darwinPlatform) SetAttribute(h Handle, attr string, value any) error {
	ah, ok := h.(*axHandle)
	if !ok || ah.Zero() {
		return ErrCannotComplete
	}
	b, ok := value.(bool)
	if !ok {
		// The facade only sets boolean window attributes (AXMain,
		// AXMinimized); richer value bridging is added when a caller
		// needs it.
		return ErrUnsupported
	}
	cAttr := C.CString(attr)
	defer C.free(unsafe.Pointer(cAttr))
	cfAttr := C.CFStringCreateWithCString(nil, cAttr, C.kCFStringEncodingUTF8)
	defer C.CFRelease(C.CFTypeRef(cfAttr))
	v := C.int(0)
	if b {
		v = 1
	}
	return axErrToErr(C.setBoolAttr(ah.ref, cfAttr, v))
}

func (p *darwinPlatform) PerformAction(h Handle, action string) error {
	ah, ok := h.(*axHandle)
	if !ok || ah.Zero() {
		return ErrCannotComplete
	}
	cAction := C.CString(action)
	defer C.free(unsafe.Pointer(cAction))
	cfAction := C.CFStringCreateWithCString(nil, cAction, C.kCFStringEncodingUTF8)
	defer C.CFRelease(C.CFTypeRef(cfAction))
	err := C.AXUIElementPerformAction(ah.ref, cfAction)
	return axErrToErr(C.int(err))
}

func (p *darwinPlatform) CaptureWindow(ctx context.Context, id uint32) (Image, error) {
	type result struct {
		img Image
		err error
	}
	ch := make(chan result, 1)
	go func() {
		var length C.size_t
		var w, h C.int
		buf := C.screenshotWindow(C.uint32_t(id), &length, &w, &h)
		if buf == nil {
			ch <- result{err: ErrPermissionDenied}
			return
		}
		defer C.free(unsafe.Pointer(buf))
		data := C.GoBytes(unsafe.Pointer(buf), C.int(length))
		ch <- result{img: Image{Data: data, MimeType: "image/png", Width: int(w), Height: int(h)}}
	}()
	select {
	case <-ctx.Done():
		return Image{}, ErrTimeout
	case r := <-ch:
		return r.img, r.err
	}
}

func (p *darwinPlatform) NewProcessWatcher() (ProcessWatcher, error) {
	return newDarwinProcessWatcher()
}

func (p *darwinPlatform) NewAccessibilityWatcher(pid int32, appHandle Handle) (AXWatcher, error) {
	ah, ok := appHandle.(*axHandle)
	if !ok || ah.Zero() {
		return nil, ErrCannotComplete
	}
	return newDarwinAXWatcher(pid, ah)
}

func (p *darwinPlatform) RunningApplications() []RunningApp {
	n := int(C.runningAppsCount())
	out := make([]RunningApp, 0, n)
	for i := 0; i < n; i++ {
		var pid C.int32_t
		var cBundle, cName *C.char
		C.runningAppAt(C.int(i), &pid, &cBundle, &cName)
		if cBundle == nil {
			continue
		}
		bundle := C.GoString(cBundle)
		name := C.GoString(cName)
		C.free(unsafe.Pointer(cBundle))
		C.free(unsafe.Pointer(cName))
		out = append(out, RunningApp{PID: int32(pid), BundleID: bundle, Name: name})
	}
	return out
}

func (p *darwinPlatform) ScreenCaptureAvailable() bool {
	return C.screenRecordingGranted() != 0
}
