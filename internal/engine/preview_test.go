// Copyright 2025 Joseph Cumines

package engine

import (
	"testing"
	"time"
)

func TestPreviewCache_PutGetRoundTrip(t *testing.T) {
	c := newPreviewCache(10, time.Minute)
	now := time.Unix(1000, 0)
	c.Put(1, Image{MimeType: "image/png", Data: []byte{1, 2, 3}}, now)
	img, capturedAt, fresh, ok := c.Get(1, now.Add(time.Second))
	if !ok || !fresh || !capturedAt.Equal(now) || string(img.Data) != string([]byte{1, 2, 3}) {
		t.Fatalf("unexpected round trip: img=%+v capturedAt=%v fresh=%v ok=%v", img, capturedAt, fresh, ok)
	}
}

func TestPreviewCache_Freshness(t *testing.T) {
	c := newPreviewCache(10, 30*time.Second)
	now := time.Unix(1000, 0)
	c.Put(1, Image{}, now)
	_, _, fresh, ok := c.Get(1, now.Add(31*time.Second))
	if !ok {
		t.Fatal("expected entry to still be present though stale")
	}
	if fresh {
		t.Fatal("expected entry to be stale past the freshness window")
	}
}

func TestPreviewCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newPreviewCache(2, time.Minute)
	now := time.Unix(1000, 0)
	c.Put(1, Image{}, now)
	c.Put(2, Image{}, now)
	// Touch 1 so it becomes most-recently-used; 2 becomes the LRU victim.
	c.Get(1, now)
	c.Put(3, Image{}, now)
	if _, _, _, ok := c.Get(2, now); ok {
		t.Fatal("expected id 2 to have been evicted as least recently used")
	}
	if _, _, _, ok := c.Get(1, now); !ok {
		t.Fatal("expected id 1 to survive eviction")
	}
	if _, _, _, ok := c.Get(3, now); !ok {
		t.Fatal("expected id 3 to have been inserted")
	}
	if got := c.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
}

func TestPreviewCache_PutExistingRefreshesWithoutGrowing(t *testing.T) {
	c := newPreviewCache(2, time.Minute)
	now := time.Unix(1000, 0)
	c.Put(1, Image{MimeType: "a"}, now)
	c.Put(1, Image{MimeType: "b"}, now.Add(time.Second))
	if got := c.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
	img, capturedAt, _, ok := c.Get(1, now.Add(time.Second))
	if !ok || img.MimeType != "b" || !capturedAt.Equal(now.Add(time.Second)) {
		t.Fatalf("expected refreshed entry, got img=%+v capturedAt=%v", img, capturedAt)
	}
}

func TestPreviewCache_Delete(t *testing.T) {
	c := newPreviewCache(10, time.Minute)
	now := time.Unix(1000, 0)
	c.Put(1, Image{}, now)
	c.Delete(1)
	if _, _, _, ok := c.Get(1, now); ok {
		t.Fatal("expected entry to be gone after Delete")
	}
}

func TestPreviewCache_Stale(t *testing.T) {
	c := newPreviewCache(10, 10*time.Second)
	now := time.Unix(1000, 0)
	c.Put(1, Image{}, now)
	c.Put(2, Image{}, now.Add(5*time.Second))
	stale := c.Stale(now.Add(12 * time.Second))
	if len(stale) != 1 || stale[0] != 1 {
		t.Fatalf("Stale() = %v, want [1]", stale)
	}
}

func TestPreviewCache_IsFreshDoesNotTouchOrder(t *testing.T) {
	c := newPreviewCache(2, time.Minute)
	now := time.Unix(1000, 0)
	c.Put(1, Image{}, now)
	c.Put(2, Image{}, now)
	// A freshness peek at 1 must not promote it; 1 stays the LRU victim.
	if !c.IsFresh(1, now) {
		t.Fatal("expected id 1 to be fresh")
	}
	c.Put(3, Image{}, now)
	if _, _, _, ok := c.Get(1, now); ok {
		t.Fatal("expected id 1 to be evicted; IsFresh must not touch access order")
	}
}

func TestPreviewCache_PurgeExpired(t *testing.T) {
	c := newPreviewCache(10, 30*time.Second)
	t0 := time.Unix(1000, 0)
	c.Put(7, Image{}, t0)
	c.Put(8, Image{}, t0.Add(20*time.Second))
	purged := c.PurgeExpired(t0.Add(31 * time.Second))
	if len(purged) != 1 || purged[0] != 7 {
		t.Fatalf("PurgeExpired = %v, want [7]", purged)
	}
	if _, _, _, ok := c.Get(7, t0.Add(31*time.Second)); ok {
		t.Fatal("expected purged entry to be gone")
	}
	if !c.IsFresh(8, t0.Add(31*time.Second)) {
		t.Fatal("expected the younger entry to survive")
	}
}

func TestPreviewCache_Defaults(t *testing.T) {
	c := newPreviewCache(0, 0)
	if c.capacity != defaultPreviewCapacity {
		t.Fatalf("capacity = %d, want default %d", c.capacity, defaultPreviewCapacity)
	}
	if c.freshness != defaultPreviewFreshness {
		t.Fatalf("freshness = %v, want default %v", c.freshness, defaultPreviewFreshness)
	}
}
