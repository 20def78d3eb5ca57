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

// Package filetable implements the open-file table and frame-id allocator:
// it tracks per-file chain heads and cursors, hands out monotonically
// increasing frame ids, and enforces the FREE/CLOSED/OPEN slot lifecycle.
package filetable

import (
	"fmt"

	"github.com/cartfs/cartfs/internal/bus"
	"github.com/cartfs/cartfs/internal/controller"
	"github.com/jacobsa/syncutil"
)

type state int

const (
	stateFree state = iota
	stateClosed
	stateOpen
)

// Entry is one file table slot. Callers obtain entries only through
// Table's accessors, which hold the table lock for the duration of each
// read/mutation.
type Entry struct {
	Path   string
	State  state
	Start  controller.FrameID
	Length uint32

	CursorFrame  controller.FrameID
	CursorOffset uint16
	CursorAbs    uint32
}

// IsOpen reports whether the entry is currently open.
func (e *Entry) IsOpen() bool { return e.State == stateOpen }

// Table is the open-file table plus frame allocator.
//
// INVARIANT: len(entries) == capacity
// INVARIANT: for all i, entries[i] != nil
// INVARIANT: nextFreeFrameID only increases between resets
type Table struct {
	mu syncutil.InvariantMutex

	capacity         int
	entries          []*Entry           // GUARDED_BY(mu)
	nextFreeFrameID  controller.FrameID // GUARDED_BY(mu)
}

// New constructs a Table with room for capacity files, all initially FREE,
// and a frame-id allocator starting at 0 — the same state a power-on reset
// produces.
func New(capacity int) *Table {
	t := &Table{capacity: capacity}
	t.reset()
	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)
	return t
}

func (t *Table) reset() {
	t.entries = make([]*Entry, t.capacity)
	for i := range t.entries {
		t.entries[i] = &Entry{State: stateFree}
	}
	t.nextFreeFrameID = 0
}

func (t *Table) checkInvariants() {
	if len(t.entries) != t.capacity {
		panic(fmt.Sprintf("filetable: len(entries) = %d, want %d", len(t.entries), t.capacity))
	}
	for i, e := range t.entries {
		if e == nil {
			panic(fmt.Sprintf("filetable: nil entry at index %d", i))
		}
	}
}

// Reset clears the table back to its poweron state, for use by the
// driver's PowerOff/PowerOn cycle.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
}

func (t *Table) findFile(path string) int {
	for i, e := range t.entries {
		if e.State != stateFree && e.Path == path {
			return i
		}
	}
	return -1
}

// AllocateFrame returns the next frame id and advances the allocator.
// Frame ids are never reused within a power cycle.
func (t *Table) AllocateFrame() controller.FrameID {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextFreeFrameID
	t.nextFreeFrameID++
	return id
}

// Open implements the open semantics: an existing OPEN entry fails, an
// existing CLOSED entry is reopened with its cursor reset to the start of
// the file, and a new path allocates the lowest-indexed FREE slot with a
// freshly allocated chain head.
func (t *Table) Open(path string) (fd int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx := t.findFile(path); idx >= 0 {
		e := t.entries[idx]
		if e.State == stateOpen {
			return -1, fmt.Errorf("filetable: %q is already open", path)
		}
		e.State = stateOpen
		e.CursorFrame = e.Start
		e.CursorOffset = 0
		e.CursorAbs = 0
		return idx, nil
	}

	for idx, e := range t.entries {
		if e.State != stateFree {
			continue
		}
		start := t.nextFreeFrameID
		t.nextFreeFrameID++

		*e = Entry{
			Path:        path,
			State:       stateOpen,
			Start:       start,
			Length:      0,
			CursorFrame: start,
		}
		return idx, nil
	}

	return -1, fmt.Errorf("filetable: no free file slots (capacity %d)", t.capacity)
}

// Close transitions fd from OPEN to CLOSED.
func (t *Table) Close(fd int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.entryLocked(fd)
	if err != nil {
		return err
	}
	if e.State != stateOpen {
		return fmt.Errorf("filetable: handle %d is not open", fd)
	}
	e.State = stateClosed
	return nil
}

func (t *Table) entryLocked(fd int) (*Entry, error) {
	if fd < 0 || fd >= t.capacity {
		return nil, fmt.Errorf("filetable: handle %d out of range [0,%d)", fd, t.capacity)
	}
	e := t.entries[fd]
	if e.State == stateFree {
		return nil, fmt.Errorf("filetable: handle %d does not exist", fd)
	}
	return e, nil
}

// WithOpenEntry runs fn against fd's entry, holding the table lock for its
// duration, and fails if fd is not currently open. This is how the
// driver's read/write/seek paths mutate cursor/length state under the
// same lock that serializes Open/Close/AllocateFrame. fn is also handed an
// allocate closure equivalent to AllocateFrame that does not attempt to
// re-acquire the table lock, since AllocateFrame itself would deadlock if
// called from within fn.
func (t *Table) WithOpenEntry(fd int, fn func(e *Entry, allocate func() controller.FrameID) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.entryLocked(fd)
	if err != nil {
		return err
	}
	if e.State != stateOpen {
		return fmt.Errorf("filetable: handle %d is not open", fd)
	}

	allocate := func() controller.FrameID {
		id := t.nextFreeFrameID
		t.nextFreeFrameID++
		return id
	}
	return fn(e, allocate)
}

// Capacity reports the table's fixed number of slots (MAX_FILES).
func (t *Table) Capacity() int { return t.capacity }

// FileInfo is a read-only snapshot of a file table entry, reported by
// `cartfsctl stat` without disturbing the entry's cursor.
type FileInfo struct {
	Path      string
	Open      bool
	Length    uint32
	NumFrames int
}

// Stat reports a snapshot of path's entry without mutating it. ok is
// false if path has never been opened this power cycle (it has no
// allocated slot to report on, whether or not it is currently open).
func (t *Table) Stat(path string) (info FileInfo, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.findFile(path)
	if idx < 0 {
		return FileInfo{}, false
	}

	e := t.entries[idx]
	frames := 0
	if e.Length > 0 {
		frames = int((e.Length + bus.FrameSize - 1) / bus.FrameSize)
	}
	return FileInfo{
		Path:      e.Path,
		Open:      e.State == stateOpen,
		Length:    e.Length,
		NumFrames: frames,
	}, true
}
