// Copyright 2024 The cartfs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cartcache implements the frame cache sitting in front of the
// cartridge controller: a fixed-capacity LRU keyed by global frame id,
// used so repeated reads/writes of a hot frame don't round-trip the bus.
package cartcache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/cartfs/cartfs/internal/bus"
)

// Cache is a strict-LRU, fixed-capacity cache of cartridge frames, keyed by
// the frame's global id (cart*1024 + frame). It is safe for concurrent use.
//
// maxFrames == 0 is a first-class "disabled" state: every Get/Put becomes
// a no-op, rather than overloading a negative capacity as a sentinel.
type Cache struct {
	mu sync.Mutex

	maxFrames int  // GUARDED_BY(mu)
	disabled  bool // GUARDED_BY(mu)
	open      bool // GUARDED_BY(mu)

	// ll orders entries from most- to least-recently used; elems indexes
	// into it by frame id so Get/Put are O(1).
	//
	// INVARIANT: ll.Len() == len(elems)
	// INVARIANT: ll.Len() <= maxFrames
	// INVARIANT: for every id in elems, elems[id].Value.(*entry).id == id
	ll    *list.List               // GUARDED_BY(mu)
	elems map[uint32]*list.Element // GUARDED_BY(mu)

	hits      uint64 // GUARDED_BY(mu)
	misses    uint64 // GUARDED_BY(mu)
	evictions uint64 // GUARDED_BY(mu)
}

type entry struct {
	id    uint32
	frame bus.Frame
}

// Stats reports cumulative cache activity since the Cache was constructed
// (Init and Close do not reset the counters), for cartfsctl stat --cache
// and for eviction-property tests.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
	MaxFrames int
}

// New constructs a Cache configured for maxFrames: it sets capacity but
// does not yet enable the cache. Call Init to enable it. maxFrames == 0
// disables the cache (every operation becomes a no-op returning "miss");
// maxFrames < 0 is treated the same way.
func New(maxFrames int) *Cache {
	c := &Cache{
		ll:    list.New(),
		elems: make(map[uint32]*list.Element),
	}
	if maxFrames <= 0 {
		c.disabled = true
		maxFrames = 0
	}
	c.maxFrames = maxFrames
	return c
}

// Configure changes the capacity of a cache that has not yet been
// enabled via Init; the driver only calls it pre-poweron. maxFrames == 0
// disables the cache; only a negative value is rejected as EBounds at the
// driver layer.
func (c *Cache) Configure(maxFrames int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if maxFrames < 0 {
		return fmt.Errorf("cartcache: max frames must not be negative, got %d", maxFrames)
	}
	if c.open {
		return fmt.Errorf("cartcache: cannot configure after init")
	}
	c.disabled = maxFrames == 0
	c.maxFrames = maxFrames
	return nil
}

// Init enables the cache. Fails if already enabled.
func (c *Cache) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open {
		return fmt.Errorf("cartcache: already initialized")
	}
	c.open = true
	return nil
}

// Close evicts everything and marks the cache closed. Fails if already
// closed.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return fmt.Errorf("cartcache: already closed")
	}
	c.ll.Init()
	c.elems = make(map[uint32]*list.Element)
	c.open = false
	return nil
}

// Get looks up id, promoting it to most-recently-used on a hit.
func (c *Cache) Get(id uint32) (bus.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open || c.disabled {
		return bus.Frame{}, false
	}

	el, ok := c.elems[id]
	if !ok {
		c.misses++
		return bus.Frame{}, false
	}
	c.hits++
	c.ll.MoveToFront(el)
	return el.Value.(*entry).frame, true
}

// Put inserts or replaces the frame stored at id, promoting it to
// most-recently-used. Replacing an existing id's contents does not count as
// an eviction; only dropping the least-recently-used entry to make room for
// a brand new id does.
func (c *Cache) Put(id uint32, frame bus.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open || c.disabled {
		return
	}

	if el, ok := c.elems[id]; ok {
		el.Value.(*entry).frame = frame
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&entry{id: id, frame: frame})
	c.elems[id] = el

	if c.ll.Len() > c.maxFrames {
		c.evictOldest()
	}
}

// Erase drops id's entry if present. Dropping an entry this way is not an
// eviction; the controller uses it to invalidate frames whose backing
// cartridge was just zeroed.
func (c *Cache) Erase(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open || c.disabled {
		return
	}

	el, ok := c.elems[id]
	if !ok {
		return
	}
	c.ll.Remove(el)
	delete(c.elems, id)
}

func (c *Cache) evictOldest() {
	oldest := c.ll.Back()
	if oldest == nil {
		return
	}
	c.ll.Remove(oldest)
	delete(c.elems, oldest.Value.(*entry).id)
	c.evictions++
}

// Stats reports a point-in-time snapshot of cache activity.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.ll.Len(),
		MaxFrames: c.maxFrames,
	}
}
