// Copyright 2025 Joseph Cumines
//
// Repository is the thread-safe in-memory cache of WindowRecords. It never
// replaces a record wholesale: every mutation merges onto what is already
// known and reports exactly what changed, so callers can emit minimal
// add/remove/modify events instead of diffing snapshots themselves.

package engine

import (
	"sync"
	"time"
)

// Repository holds the window records for every tracked application,
// indexed first by owning pid and then by compositor window id.
type Repository struct {
	mu          sync.RWMutex
	entries     map[int32]map[uint32]WindowRecord
	ignoredPIDs map[int32]struct{}
	previews    *previewCache
}

// NewRepository constructs an empty Repository. previewCapacity and
// previewFreshness configure the attached preview cache; zero values fall
// back to the package defaults.
func NewRepository(previewCapacity int, previewFreshness time.Duration) *Repository {
	return &Repository{
		entries:     make(map[int32]map[uint32]WindowRecord),
		ignoredPIDs: make(map[int32]struct{}),
		previews:    newPreviewCache(previewCapacity, previewFreshness),
	}
}

// IgnorePID excludes pid from all future Store/Purify operations and drops
// any records it currently holds for that pid.
func (r *Repository) IgnorePID(pid int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ignoredPIDs[pid] = struct{}{}
	delete(r.entries, pid)
}

// UnignorePID re-admits pid to tracking.
func (r *Repository) UnignorePID(pid int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ignoredPIDs, pid)
}

func (r *Repository) isIgnored(pid int32) bool {
	_, ignored := r.ignoredPIDs[pid]
	return ignored
}

// Store merges fresh discovers for pid into the repository, returning a
// ChangeReport of what was added or modified. Store never removes records
// for windows it was not told about; pair it with Purify (full
// reconciliation) or RemoveWindow (single-window disappearance) to do that.
// Records for an ignored pid are silently dropped and never reported.
func (r *Repository) Store(pid int32, discovered []WindowRecord) ChangeReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isIgnored(pid) {
		return ChangeReport{}
	}
	bucket, ok := r.entries[pid]
	if !ok {
		bucket = make(map[uint32]WindowRecord, len(discovered))
		r.entries[pid] = bucket
	}
	var report ChangeReport
	for _, rec := range discovered {
		existing, had := bucket[rec.ID]
		merged := mergeRecord(existing, rec, had)
		bucket[rec.ID] = merged
		switch {
		case !had:
			report.Added = append(report.Added, merged)
		case diffFields(existing, merged):
			report.Modified = append(report.Modified, merged)
		}
	}
	if len(bucket) == 0 {
		delete(r.entries, pid)
	}
	return report
}

// mergeRecord folds incoming onto existing, preserving fields the new
// discovery pass did not observe (cached preview, creation time) rather
// than wiping them out on every refresh.
func mergeRecord(existing, incoming WindowRecord, had bool) WindowRecord {
	if !had {
		return incoming
	}
	merged := incoming
	if !existing.CreationTime.IsZero() {
		merged.CreationTime = existing.CreationTime
	}
	if merged.CachedPreview == nil {
		merged.CachedPreview = existing.CachedPreview
		merged.PreviewTimestamp = existing.PreviewTimestamp
	}
	if merged.LastInteractionTime.IsZero() {
		merged.LastInteractionTime = existing.LastInteractionTime
	}
	return merged
}

// ModifyWindow applies fn to the current record for (pid, id), storing the
// result and reporting it as a modification if any diffFields-relevant
// field actually changed. ok is false if no such record exists.
func (r *Repository) ModifyWindow(pid int32, id uint32, fn func(WindowRecord) WindowRecord) (report ChangeReport, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, exists := r.entries[pid]
	if !exists {
		return ChangeReport{}, false
	}
	existing, exists := bucket[id]
	if !exists {
		return ChangeReport{}, false
	}
	updated := fn(existing)
	updated.ID = existing.ID
	updated.OwnerPID = existing.OwnerPID
	bucket[id] = updated
	if diffFields(existing, updated) {
		report.Modified = append(report.Modified, updated)
	}
	return report, true
}

// RemoveWindow deletes a single window's record, e.g. on a destroyed
// notification. ok is false if it was not present.
func (r *Repository) RemoveWindow(pid int32, id uint32) (ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, exists := r.entries[pid]
	if !exists {
		return false
	}
	if _, exists := bucket[id]; !exists {
		return false
	}
	delete(bucket, id)
	r.previews.Delete(id)
	if len(bucket) == 0 {
		delete(r.entries, pid)
	}
	return true
}

// Reconcile replaces pid's full window set with the authoritative result of
// a rescan: any record not named in current is removed and reported in
// ChangeReport.Removed, any id in current not already held is reported as
// added (after merge), and existing ids have mergeRecord + diffFields
// applied exactly as Store does. It is the operation a full application
// rescan uses so that a destroyed-window miss (no notification delivered)
// still self-heals.
func (r *Repository) Reconcile(pid int32, current []WindowRecord) ChangeReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isIgnored(pid) {
		return ChangeReport{}
	}
	bucket, ok := r.entries[pid]
	if !ok {
		bucket = make(map[uint32]WindowRecord, len(current))
		r.entries[pid] = bucket
	}
	seen := make(map[uint32]struct{}, len(current))
	var report ChangeReport
	for _, rec := range current {
		seen[rec.ID] = struct{}{}
		existing, had := bucket[rec.ID]
		merged := mergeRecord(existing, rec, had)
		bucket[rec.ID] = merged
		switch {
		case !had:
			report.Added = append(report.Added, merged)
		case diffFields(existing, merged):
			report.Modified = append(report.Modified, merged)
		}
	}
	for id := range bucket {
		if _, stillPresent := seen[id]; !stillPresent {
			delete(bucket, id)
			r.previews.Delete(id)
			report.Removed = append(report.Removed, id)
		}
	}
	if len(bucket) == 0 {
		delete(r.entries, pid)
	}
	return report
}

// Purify removes every record for pid whose accessibility handle fails
// valid, returning the retained records and a ChangeReport naming the
// removed ids. It is the repository half of the validation subsystem: a
// window-destroyed notification runs through it to drop just the dead
// handles. Process termination does not use it; it clears the pid through
// RemoveApplication.
func (r *Repository) Purify(pid int32, valid func(Handle) bool) ([]WindowRecord, ChangeReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.entries[pid]
	if !ok {
		return nil, ChangeReport{}
	}
	var report ChangeReport
	retained := make([]WindowRecord, 0, len(bucket))
	for id, rec := range bucket {
		if valid(rec.AXHandle) {
			retained = append(retained, rec)
			continue
		}
		delete(bucket, id)
		r.previews.Delete(id)
		report.Removed = append(report.Removed, id)
	}
	if len(bucket) == 0 {
		delete(r.entries, pid)
	}
	return retained, report
}

// ModifyApplication applies fn to every record held for pid, reporting the
// records whose diff-relevant fields actually changed. Used for
// application-scoped flips like owner-hidden.
func (r *Repository) ModifyApplication(pid int32, fn func(WindowRecord) WindowRecord) ChangeReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.entries[pid]
	if !ok {
		return ChangeReport{}
	}
	var report ChangeReport
	for id, existing := range bucket {
		updated := fn(existing)
		updated.ID = existing.ID
		updated.OwnerPID = existing.OwnerPID
		bucket[id] = updated
		if diffFields(existing, updated) {
			report.Modified = append(report.Modified, updated)
		}
	}
	return report
}

// FindWindowByHandle locates pid's record whose handle the platform judges
// equal to h. It is the fallback lookup for notifications that carry an
// element but no resolvable window id.
func (r *Repository) FindWindowByHandle(pid int32, h Handle) (WindowRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h == nil || h.Zero() {
		return WindowRecord{}, false
	}
	bucket, ok := r.entries[pid]
	if !ok {
		return WindowRecord{}, false
	}
	for _, rec := range bucket {
		if rec.AXHandle != nil && rec.AXHandle.Equal(h) {
			return rec, true
		}
	}
	return WindowRecord{}, false
}

// RemoveApplication drops every record owned by pid, reporting every id
// removed. Used when a process-termination notification fires.
func (r *Repository) RemoveApplication(pid int32) ChangeReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.entries[pid]
	if !ok {
		return ChangeReport{}
	}
	var report ChangeReport
	for id := range bucket {
		r.previews.Delete(id)
		report.Removed = append(report.Removed, id)
	}
	delete(r.entries, pid)
	return report
}

// ReadWindow returns a copy of the current record for (pid, id).
func (r *Repository) ReadWindow(pid int32, id uint32) (WindowRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bucket, ok := r.entries[pid]
	if !ok {
		return WindowRecord{}, false
	}
	rec, ok := bucket[id]
	return rec, ok
}

// FindOwner returns the pid owning window id, if any record currently
// tracks it.
func (r *Repository) FindOwner(id uint32) (int32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for pid, bucket := range r.entries {
		if _, ok := bucket[id]; ok {
			return pid, true
		}
	}
	return 0, false
}

// ReadApplication returns a copy of every record currently held for pid.
func (r *Repository) ReadApplication(pid int32) []WindowRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bucket, ok := r.entries[pid]
	if !ok {
		return nil
	}
	out := make([]WindowRecord, 0, len(bucket))
	for _, rec := range bucket {
		out = append(out, rec)
	}
	return out
}

// ReadAll returns a copy of every record across every tracked application.
func (r *Repository) ReadAll() []WindowRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []WindowRecord
	for _, bucket := range r.entries {
		for _, rec := range bucket {
			out = append(out, rec)
		}
	}
	return out
}

// TrackedApplications returns the pids the repository currently holds any
// window for.
func (r *Repository) TrackedApplications() []int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int32, 0, len(r.entries))
	for pid := range r.entries {
		out = append(out, pid)
	}
	return out
}

// ReadWindowByID returns the record tracking window id regardless of which
// application owns it.
func (r *Repository) ReadWindowByID(id uint32) (WindowRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, bucket := range r.entries {
		if rec, ok := bucket[id]; ok {
			return rec, true
		}
	}
	return WindowRecord{}, false
}

// ReadByBundleID returns a copy of every record whose owner reports the
// given bundle identifier.
func (r *Repository) ReadByBundleID(bundleID string) []WindowRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []WindowRecord
	for _, bucket := range r.entries {
		for _, rec := range bucket {
			if rec.OwnerBundleID == bundleID {
				out = append(out, rec)
			}
		}
	}
	return out
}

// PutPreview stores a captured preview for id and stamps the owning
// record's CachedPreview/PreviewTimestamp fields so ReadWindow reflects it.
func (r *Repository) PutPreview(pid int32, id uint32, img Image, capturedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.previews.Put(id, img, capturedAt)
	if bucket, ok := r.entries[pid]; ok {
		if rec, ok := bucket[id]; ok {
			rec.CachedPreview = &img
			rec.PreviewTimestamp = capturedAt
			bucket[id] = rec
		}
	}
}

// Preview returns the cached preview for id, whether it is still fresh as
// of now, and whether any preview exists at all.
func (r *Repository) Preview(id uint32, now time.Time) (img Image, capturedAt time.Time, fresh, ok bool) {
	return r.previews.Get(id, now)
}

// FreshPreviewIDs returns the window ids held for pid whose cached preview
// is still within the freshness window as of now. The result is always a
// subset of pid's current entries: an evicted or expired preview never
// appears, and neither does a preview whose record has since been removed.
func (r *Repository) FreshPreviewIDs(pid int32, now time.Time) []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bucket, ok := r.entries[pid]
	if !ok {
		return nil
	}
	var out []uint32
	for id := range bucket {
		if r.previews.IsFresh(id, now) {
			out = append(out, id)
		}
	}
	return out
}

// StalePreviews returns the ids whose cached preview is older than the
// configured freshness window as of now.
func (r *Repository) StalePreviews(now time.Time) []uint32 {
	return r.previews.Stale(now)
}

// PurgeExpiredPreviews drops every cached preview older than the freshness
// window, clearing the mirrored fields on any owning record, and reports
// how many were dropped.
func (r *Repository) PurgeExpiredPreviews(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	purged := r.previews.PurgeExpired(now)
	for _, id := range purged {
		for _, bucket := range r.entries {
			if rec, ok := bucket[id]; ok {
				rec.CachedPreview = nil
				rec.PreviewTimestamp = time.Time{}
				bucket[id] = rec
			}
		}
	}
	return len(purged)
}
