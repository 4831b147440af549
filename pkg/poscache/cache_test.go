package poscache

import (
	"testing"

	"txlog/pkg/logfile"
)

func meta(id int64) Metadata {
	return Metadata{
		Checksum:        uint32(id),
		CommitTimestamp: id * 10,
		StartPosition:   logfile.Position{Version: 1, Offset: uint64(id * 100)},
	}
}

func TestCache(t *testing.T) {
	t.Run("PutGet", func(t *testing.T) {
		c := New(4)
		c.Put(2, meta(2))

		got, ok := c.Get(2)
		if !ok {
			t.Fatalf("expected hit for id 2")
		}
		if got != meta(2) {
			t.Fatalf("got %+v, want %+v", got, meta(2))
		}

		if _, ok := c.Get(3); ok {
			t.Fatalf("expected miss for id 3")
		}
	})

	t.Run("OverwriteKeepsSingleEntry", func(t *testing.T) {
		c := New(4)
		c.Put(2, meta(2))
		updated := meta(2)
		updated.CommitTimestamp = 999
		c.Put(2, updated)

		if got := c.Len(); got != 1 {
			t.Fatalf("len = %d, want 1", got)
		}
		got, _ := c.Get(2)
		if got.CommitTimestamp != 999 {
			t.Fatalf("overwrite lost: %+v", got)
		}
	})

	t.Run("EvictsLeastRecentlyUsed", func(t *testing.T) {
		c := New(3)
		c.Put(1, meta(1))
		c.Put(2, meta(2))
		c.Put(3, meta(3))

		// Touch 1 so that 2 becomes the eviction candidate.
		if _, ok := c.Get(1); !ok {
			t.Fatalf("expected hit for id 1")
		}

		c.Put(4, meta(4))

		if _, ok := c.Get(2); ok {
			t.Fatalf("id 2 should have been evicted")
		}
		for _, id := range []int64{1, 3, 4} {
			if _, ok := c.Get(id); !ok {
				t.Fatalf("id %d unexpectedly evicted", id)
			}
		}
	})

	t.Run("BoundedByCapacity", func(t *testing.T) {
		c := New(16)
		for id := int64(1); id <= 1000; id++ {
			c.Put(id, meta(id))
		}
		if got := c.Len(); got != 16 {
			t.Fatalf("len = %d, want 16", got)
		}
		// The most recent entries survive.
		for id := int64(985); id <= 1000; id++ {
			if _, ok := c.Get(id); !ok {
				t.Fatalf("recent id %d evicted", id)
			}
		}
	})

	t.Run("Clear", func(t *testing.T) {
		c := New(4)
		c.Put(1, meta(1))
		c.Put(2, meta(2))
		c.Clear()
		if got := c.Len(); got != 0 {
			t.Fatalf("len after clear = %d", got)
		}
		if _, ok := c.Get(1); ok {
			t.Fatalf("hit after clear")
		}
	})
}
