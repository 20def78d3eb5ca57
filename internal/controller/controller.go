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

// Package controller implements the cartridge controller proxy: it issues
// INITMS/LDCART/BZERO/RDFRME/WRFRME/POWOFF through a bus.Transport,
// enforces the "currently loaded cartridge" invariant, and owns the
// per-cartridge frame bookkeeping (which frames are allocated, and each
// file chain's successor links).
package controller

import (
	"context"
	"fmt"

	"github.com/cartfs/cartfs/internal/bus"
	"github.com/cartfs/cartfs/internal/cartcache"
	"github.com/jacobsa/syncutil"
)

// FrameID is a global frame identifier, cart*FramesPerCartridge + frame.
type FrameID uint32

// NilFrame is the end-of-chain sentinel, matching the wire-visible 0xFFFF
// the controller firmware itself uses.
const NilFrame FrameID = 0xFFFF

// Split decomposes a FrameID into its cartridge and in-cartridge frame
// index.
func Split(id FrameID) (cart uint16, frame uint16) {
	return uint16(uint32(id) / bus.FramesPerCartridge), uint16(uint32(id) % bus.FramesPerCartridge)
}

// Join is the inverse of Split.
func Join(cart, frame uint16) FrameID {
	return FrameID(uint32(cart)*bus.FramesPerCartridge + uint32(frame))
}

type cartridgeState struct {
	usedCount int
	frameUsed [bus.FramesPerCartridge]uint16
	next      [bus.FramesPerCartridge]FrameID
}

func newCartridgeState() *cartridgeState {
	cs := &cartridgeState{}
	for i := range cs.next {
		cs.next[i] = NilFrame
	}
	return cs
}

func (cs *cartridgeState) reset() {
	cs.usedCount = 0
	for i := range cs.frameUsed {
		cs.frameUsed[i] = 0
		cs.next[i] = NilFrame
	}
}

// Controller guards its own state with a lock taken by each method; a
// sequence of calls is not atomic, so callers serialize such sequences
// through the same lock the root Driver holds.
type Controller struct {
	mu syncutil.InvariantMutex

	tr            bus.Transport
	cache         *cartcache.Cache
	maxCartridges int

	initialized bool              // GUARDED_BY(mu)
	hasCurrent  bool              // GUARDED_BY(mu)
	currentCart uint16            // GUARDED_BY(mu)
	carts       []*cartridgeState // GUARDED_BY(mu), len == maxCartridges
}

// New constructs a Controller over tr, backed by cache for frame reads and
// writes, for a memory system of maxCartridges cartridges.
func New(tr bus.Transport, cache *cartcache.Cache, maxCartridges int) *Controller {
	carts := make([]*cartridgeState, maxCartridges)
	for i := range carts {
		carts[i] = newCartridgeState()
	}
	c := &Controller{
		tr:            tr,
		cache:         cache,
		maxCartridges: maxCartridges,
		carts:         carts,
	}
	c.mu = syncutil.NewInvariantMutex(c.checkInvariants)
	return c
}

func (c *Controller) checkInvariants() {
	if c.hasCurrent && int(c.currentCart) >= c.maxCartridges {
		panic(fmt.Sprintf("controller: current cartridge %d out of range [0,%d)", c.currentCart, c.maxCartridges))
	}
	if len(c.carts) != c.maxCartridges {
		panic(fmt.Sprintf("controller: len(carts) = %d, want %d", len(c.carts), c.maxCartridges))
	}
}

// Reset clears the proxy's local bookkeeping without any bus traffic, for
// the driver to unwind a partially completed poweron.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.initialized = false
	c.hasCurrent = false
	for _, cs := range c.carts {
		cs.reset()
	}
}

// InitMemory issues INITMS. Fails if already initialized.
func (c *Controller) InitMemory(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return fmt.Errorf("controller: INITMS issued while already initialized")
	}

	resp, _, err := c.tr.Request(ctx, bus.OpInitMS, bus.PackOp(bus.OpInitMS, 0, 0), nil)
	if err != nil {
		return err
	}
	if resp.Failed() {
		return &bus.ControllerError{Op: bus.OpInitMS, Reg: resp}
	}

	c.initialized = true
	return nil
}

// PowerOff issues POWOFF. Safe to call at most once per power cycle.
func (c *Controller) PowerOff(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, _, err := c.tr.Request(ctx, bus.OpPowOff, bus.PackOp(bus.OpPowOff, 0, 0), nil)
	if err != nil {
		return err
	}
	if resp.Failed() {
		return &bus.ControllerError{Op: bus.OpPowOff, Reg: resp}
	}

	c.initialized = false
	c.hasCurrent = false
	return nil
}

// LoadCartridge selects cart as the currently loaded cartridge. If it is
// already current, no bus traffic is issued: this lazy-load is a
// correctness requirement, not an optimization, since every frame op must
// be preceded by the right LDCART.
func (c *Controller) LoadCartridge(ctx context.Context, cart uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadCartridgeLocked(ctx, cart)
}

func (c *Controller) loadCartridgeLocked(ctx context.Context, cart uint16) error {
	if c.hasCurrent && c.currentCart == cart {
		return nil
	}

	resp, _, err := c.tr.Request(ctx, bus.OpLdCart, bus.PackOp(bus.OpLdCart, cart, 0), nil)
	if err != nil {
		return err
	}
	if resp.Failed() {
		return &bus.ControllerError{Op: bus.OpLdCart, Reg: resp}
	}

	c.hasCurrent = true
	c.currentCart = cart
	return nil
}

// ZeroCartridge loads cart and issues BZERO, resetting its frame
// bookkeeping (every frame unallocated, every chain link NilFrame).
func (c *Controller) ZeroCartridge(ctx context.Context, cart uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadCartridgeLocked(ctx, cart); err != nil {
		return err
	}

	resp, _, err := c.tr.Request(ctx, bus.OpBZero, bus.PackOp(bus.OpBZero, cart, 0), nil)
	if err != nil {
		return err
	}
	if resp.Failed() {
		return &bus.ControllerError{Op: bus.OpBZero, Reg: resp}
	}

	c.carts[cart].reset()

	// Cached copies of this cartridge's frames no longer match the
	// controller's zeroed contents; drop them.
	for f := 0; f < bus.FramesPerCartridge; f++ {
		c.cache.Erase(uint32(Join(cart, uint16(f))))
	}
	return nil
}

// ReadFrame reads the frame at id. On a cache hit the bus is not touched.
// On a miss against a frame nothing has ever been written to (FrameUsed
// == 0), the controller does not issue RDFRME at all and returns a
// zero-valued frame: reads against unallocated frames deterministically
// zero-fill rather than returning whatever garbage is left in the
// caller's buffer.
func (c *Controller) ReadFrame(ctx context.Context, id FrameID) (bus.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cart, frame := Split(id)
	if err := c.loadCartridgeLocked(ctx, cart); err != nil {
		return bus.Frame{}, err
	}

	if f, ok := c.cache.Get(uint32(id)); ok {
		return f, nil
	}

	if c.carts[cart].frameUsed[frame] == 0 {
		return bus.Frame{}, nil
	}

	resp, payload, err := c.tr.Request(ctx, bus.OpRdFrme, bus.PackOp(bus.OpRdFrme, cart, frame), nil)
	if err != nil {
		return bus.Frame{}, err
	}
	if resp.Failed() {
		return bus.Frame{}, &bus.ControllerError{Op: bus.OpRdFrme, Reg: resp}
	}

	c.cache.Put(uint32(id), *payload)
	return *payload, nil
}

// WriteFrame writes in to the frame at id, write-through: the bus op must
// succeed before the cache is updated.
func (c *Controller) WriteFrame(ctx context.Context, id FrameID, in bus.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cart, frame := Split(id)
	if err := c.loadCartridgeLocked(ctx, cart); err != nil {
		return err
	}

	resp, _, err := c.tr.Request(ctx, bus.OpWrFrme, bus.PackOp(bus.OpWrFrme, cart, frame), &in)
	if err != nil {
		return err
	}
	if resp.Failed() {
		return &bus.ControllerError{Op: bus.OpWrFrme, Reg: resp}
	}

	c.cache.Put(uint32(id), in)
	return nil
}

// FrameUsed reports the number of meaningful bytes written to id's frame
// (0 means unallocated).
func (c *Controller) FrameUsed(id FrameID) uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	cart, frame := Split(id)
	return c.carts[cart].frameUsed[frame]
}

// FrameNext reports id's successor in its file chain, and whether one
// exists (i.e. the stored link is not NilFrame).
func (c *Controller) FrameNext(id FrameID) (FrameID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cart, frame := Split(id)
	next := c.carts[cart].next[frame]
	return next, next != NilFrame
}

// MarkFrameAllocated records that id's frame now holds used valid bytes,
// having previously been unallocated. It bumps the cartridge's used-frame
// count exactly once per frame, the first time it transitions out of the
// unallocated state.
func (c *Controller) MarkFrameAllocated(id FrameID, used uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cart, frame := Split(id)
	cs := c.carts[cart]
	if cs.frameUsed[frame] == 0 {
		cs.usedCount++
	}
	cs.frameUsed[frame] = used
}

// SetFrameUsed updates the valid-byte count of an already-allocated frame,
// for a tail frame's usage growing without becoming a new chain link.
func (c *Controller) SetFrameUsed(id FrameID, used uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cart, frame := Split(id)
	c.carts[cart].frameUsed[frame] = used
}

// LinkNext records that id's frame is followed by next in its chain.
func (c *Controller) LinkNext(id FrameID, next FrameID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cart, frame := Split(id)
	c.carts[cart].next[frame] = next
}

// UsedCount reports the number of allocated frames on cart.
func (c *Controller) UsedCount(cart uint16) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.carts[cart].usedCount
}

// MaxCartridges reports the cartridge pool size the Controller was built
// with.
func (c *Controller) MaxCartridges() int { return c.maxCartridges }
