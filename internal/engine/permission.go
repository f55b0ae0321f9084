// Copyright 2025 Joseph Cumines
//
// Screen-capture permission state. The OS check is cheap but not free, and
// the answer can flip at any time (the user toggles Screen Recording in
// System Settings), so a single process-wide monitor polls it on a short
// interval and everything else reads the cached value.

package engine

import (
	"sync"
	"time"
)

// permissionPollInterval is how often the monitor re-asks the OS.
const permissionPollInterval = 2 * time.Second

// permissionMonitor publishes the most recent screen-capture permission
// answer as a read-mostly observable value.
type permissionMonitor struct {
	mu      sync.RWMutex
	granted bool
	stop    chan struct{}
	once    sync.Once
}

var (
	sharedPermissionOnce sync.Once
	sharedPermission     *permissionMonitor
)

// permissionState returns the process-wide permission monitor, starting its
// poll loop on first use. There is no teardown: the monitor lives for the
// life of the process, matching the init-on-first-use singleton shape the
// shared enumerator helpers use.
func permissionState(p Platform) *permissionMonitor {
	sharedPermissionOnce.Do(func() {
		sharedPermission = newPermissionMonitor(p, permissionPollInterval)
	})
	return sharedPermission
}

func newPermissionMonitor(p Platform, interval time.Duration) *permissionMonitor {
	m := &permissionMonitor{
		granted: p.ScreenCaptureAvailable(),
		stop:    make(chan struct{}),
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				granted := p.ScreenCaptureAvailable()
				m.mu.Lock()
				m.granted = granted
				m.mu.Unlock()
			}
		}
	}()
	return m
}

// Granted reports the most recently polled permission state.
func (m *permissionMonitor) Granted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.granted
}

// Close stops the poll loop. The shared monitor is never closed; this
// exists for tests constructing their own.
func (m *permissionMonitor) Close() {
	m.once.Do(func() { close(m.stop) })
}
