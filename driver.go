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

// Package cartfs implements the block-oriented file driver over a remote
// cartridge memory service: a packed-register bus protocol, an LRU frame
// cache, a cartridge controller proxy, and a file table that maps opaque
// paths onto singly-linked chains of frames scattered across cartridges.
package cartfs

import (
	"context"
	"fmt"
	"strings"

	"github.com/cartfs/cartfs/internal/bus"
	"github.com/cartfs/cartfs/internal/cartcache"
	"github.com/cartfs/cartfs/internal/controller"
	"github.com/cartfs/cartfs/internal/filetable"
	"github.com/cartfs/cartfs/internal/logger"
	"github.com/jacobsa/syncutil"
)

const (
	// MaxPathLength is the largest path identifier the file table accepts.
	MaxPathLength = 128
)

// Driver composes the bus transport, frame cache, cartridge controller,
// and file table into the public file API. All methods are synchronous
// and serialize through a single lock, matching the memory system's
// single-threaded, single-caller model.
type Driver struct {
	mu syncutil.InvariantMutex

	tr    bus.Transport
	cache *cartcache.Cache
	ctrl  *controller.Controller
	table *filetable.Table

	maxCartridges int

	poweredOn     bool // GUARDED_BY(mu)
	cacheStarted  bool // GUARDED_BY(mu)
}

// Config bundles the fixed parameters a Driver needs at construction.
type Config struct {
	MaxCartridges int
	MaxFiles      int
	CacheFrames   int
}

// NewDriver constructs a powered-off Driver over tr. Call PowerOn before
// issuing any file operation.
func NewDriver(tr bus.Transport, cfg Config) *Driver {
	cache := cartcache.New(cfg.CacheFrames)
	d := &Driver{
		tr:            tr,
		cache:         cache,
		ctrl:          controller.New(tr, cache, cfg.MaxCartridges),
		table:         filetable.New(cfg.MaxFiles),
		maxCartridges: cfg.MaxCartridges,
	}
	d.mu = syncutil.NewInvariantMutex(d.checkInvariants)
	return d
}

func (d *Driver) checkInvariants() {
	if d.cacheStarted && !d.poweredOn {
		panic("cartfs: cache started while driver is not powered on")
	}
}

// SetCacheSize reconfigures the frame cache's capacity. It must be called
// before PowerOn; calling it afterward returns an EState error.
func (d *Driver) SetCacheSize(maxFrames int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.poweredOn {
		return newError("SetCacheSize", EState, fmt.Errorf("cannot resize cache after poweron"))
	}
	if err := d.cache.Configure(maxFrames); err != nil {
		return newError("SetCacheSize", EBounds, err)
	}
	return nil
}

// PowerOn initializes the memory system, brings up the frame cache, zeros
// every cartridge, loads cartridge 0, and resets the file table.
func (d *Driver) PowerOn(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.poweredOn {
		return newError("PowerOn", EState, fmt.Errorf("already powered on"))
	}

	if err := d.ctrl.InitMemory(ctx); err != nil {
		d.releasePartialPowerOn(ctx)
		return classifyBusErr("PowerOn", err)
	}

	if !d.cacheStarted {
		if err := d.cache.Init(); err != nil {
			d.releasePartialPowerOn(ctx)
			return newError("PowerOn", EState, err)
		}
		d.cacheStarted = true
	}

	for c := 0; c < d.maxCartridges; c++ {
		cart := uint16(c)
		if err := d.ctrl.LoadCartridge(ctx, cart); err != nil {
			d.releasePartialPowerOn(ctx)
			return classifyBusErr("PowerOn", err)
		}
		if err := d.ctrl.ZeroCartridge(ctx, cart); err != nil {
			d.releasePartialPowerOn(ctx)
			return classifyBusErr("PowerOn", err)
		}
	}

	if err := d.ctrl.LoadCartridge(ctx, 0); err != nil {
		d.releasePartialPowerOn(ctx)
		return classifyBusErr("PowerOn", err)
	}

	d.table.Reset()
	d.poweredOn = true
	logger.Infof("cartfs: powered on, %d cartridges", d.maxCartridges)
	return nil
}

// releasePartialPowerOn unwinds everything a failed PowerOn acquired before
// the failure: the enabled cache, the controller proxy's local bookkeeping,
// and the dialed bus connection. A later PowerOn starts from scratch.
func (d *Driver) releasePartialPowerOn(ctx context.Context) {
	if d.cacheStarted {
		if err := d.cache.Close(); err != nil {
			logger.Errorf("cartfs: cache close during poweron unwind: %v", err)
		}
		d.cacheStarted = false
	}
	d.ctrl.Reset()
	if err := d.tr.Close(ctx); err != nil {
		logger.Errorf("cartfs: transport close during poweron unwind: %v", err)
	}
}

// PowerOff closes the cache, frees every file entry, and issues POWOFF.
func (d *Driver) PowerOff(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.poweredOn {
		return newError("PowerOff", EState, fmt.Errorf("already powered off"))
	}

	if d.cacheStarted {
		if err := d.cache.Close(); err != nil {
			logger.Errorf("cartfs: cache close on poweroff: %v", err)
		}
		d.cacheStarted = false
	}

	d.table.Reset()

	if err := d.ctrl.PowerOff(ctx); err != nil {
		d.poweredOn = false
		return classifyBusErr("PowerOff", err)
	}

	d.poweredOn = false
	logger.Infof("cartfs: powered off")
	return nil
}

// Open opens path, returning a file handle: a path with an OPEN entry
// fails, a CLOSED entry is reopened at cursor zero, and a new path
// allocates a fresh chain head.
func (d *Driver) Open(path string) (fd int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.poweredOn {
		return -1, newError("Open", EState, fmt.Errorf("driver is not powered on"))
	}
	if len(path) == 0 || len(path) > MaxPathLength {
		return -1, newError("Open", EBounds, fmt.Errorf("path length %d exceeds %d", len(path), MaxPathLength))
	}

	fd, openErr := d.table.Open(path)
	if openErr != nil {
		return -1, newError("Open", classifyOpenErr(openErr), openErr)
	}
	return fd, nil
}

func classifyOpenErr(err error) Kind {
	// filetable reports both "already open" and "table full" as plain
	// errors; distinguish by message since it owns no exported error
	// values of its own.
	if strings.Contains(err.Error(), "no free file slots") {
		return ETable
	}
	return EState
}

// Close closes fd.
func (d *Driver) Close(fd int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.poweredOn {
		return newError("Close", EState, fmt.Errorf("driver is not powered on"))
	}
	if err := d.table.Close(fd); err != nil {
		return newError("Close", EBadHandle, err)
	}
	return nil
}

// FileInfo is a read-only snapshot of an opened-at-some-point path,
// surfaced by Stat. It never mutates cursor state.
type FileInfo = filetable.FileInfo

// Stat reports path's length, frame count, and open/closed state without
// disturbing its cursor. ok is false if path has never been opened this
// power cycle.
func (d *Driver) Stat(path string) (FileInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.poweredOn {
		return FileInfo{}, false
	}
	return d.table.Stat(path)
}

// CacheStats reports the frame cache's cumulative hit/miss/eviction
// counters, surfaced by `cartfsctl stat --cache`.
func (d *Driver) CacheStats() cartcache.Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cache.Stats()
}
