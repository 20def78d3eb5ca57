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

package cartfs

import (
	"context"
	"fmt"

	"github.com/cartfs/cartfs/internal/bus"
	"github.com/cartfs/cartfs/internal/controller"
	"github.com/cartfs/cartfs/internal/filetable"
)

// Read copies up to len(out) bytes starting at fd's cursor into out,
// advancing the cursor by the number of bytes actually read. Reads never
// run past the file's logical length: count is clamped to
// length-cursor_abs before the per-frame slice loop runs, and a miss
// against a never-written frame reads back as zero bytes since out is
// zero-filled up front.
func (d *Driver) Read(ctx context.Context, fd int, out []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.poweredOn {
		return 0, newError("Read", EState, fmt.Errorf("driver is not powered on"))
	}

	var read int
	err := d.table.WithOpenEntry(fd, func(e *filetable.Entry, _ func() controller.FrameID) error {
		count := len(out)
		if e.CursorAbs >= e.Length {
			count = 0
		} else if remaining := int(e.Length - e.CursorAbs); count > remaining {
			count = remaining
		}
		for i := 0; i < count; i++ {
			out[i] = 0
		}

		cursorFrame := e.CursorFrame
		cursorOffset := e.CursorOffset
		written := 0

		for written < count {
			sliceLen := bus.FrameSize - int(cursorOffset)
			if remaining := count - written; sliceLen > remaining {
				sliceLen = remaining
			}

			frame, rerr := d.ctrl.ReadFrame(ctx, cursorFrame)
			if rerr != nil {
				return classifyBusErr("Read", rerr)
			}
			copy(out[written:written+sliceLen], frame[cursorOffset:int(cursorOffset)+sliceLen])
			written += sliceLen

			if int(cursorOffset)+sliceLen == bus.FrameSize {
				if next, ok := d.ctrl.FrameNext(cursorFrame); ok {
					cursorFrame = next
					cursorOffset = 0
				} else {
					// End of the chain with the last frame read out in full:
					// rest the cursor at offset FrameSize of that frame, the
					// same position Write leaves it in, so a following write
					// extends the chain instead of clobbering this frame.
					cursorOffset = bus.FrameSize
				}
			} else {
				cursorOffset += uint16(sliceLen)
			}
		}

		e.CursorFrame = cursorFrame
		e.CursorOffset = cursorOffset
		e.CursorAbs += uint32(written)
		read = written
		return nil
	})
	if err != nil {
		return 0, wrapEntryErr("Read", err)
	}
	return read, nil
}

// Write copies len(in) bytes from in to fd starting at its cursor,
// splitting each per-frame slice at the file's current length into an
// overwrite prefix (read-modify-write, no chain growth) and an extend
// suffix (allocates new frames as needed). The cursor ends immediately
// after the last byte written and length becomes max(length, cursor_abs).
func (d *Driver) Write(ctx context.Context, fd int, in []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.poweredOn {
		return 0, newError("Write", EState, fmt.Errorf("driver is not powered on"))
	}

	var written int
	err := d.table.WithOpenEntry(fd, func(e *filetable.Entry, allocate func() controller.FrameID) error {
		cursorFrame := e.CursorFrame
		cursorOffset := e.CursorOffset
		cursorAbs := e.CursorAbs
		length := e.Length
		pos := 0

		for pos < len(in) {
			if cursorOffset >= bus.FrameSize {
				next, hasNext := d.ctrl.FrameNext(cursorFrame)
				if !hasNext {
					next = allocate()
					d.ctrl.LinkNext(cursorFrame, next)
				}
				cursorFrame = next
				cursorOffset = 0
			}

			spaceInFrame := bus.FrameSize - int(cursorOffset)
			sliceLen := spaceInFrame
			if remaining := len(in) - pos; sliceLen > remaining {
				sliceLen = remaining
			}

			overwriteLen := 0
			if cursorAbs < length {
				overwriteLen = int(length - cursorAbs)
				if overwriteLen > sliceLen {
					overwriteLen = sliceLen
				}
			}
			extendLen := sliceLen - overwriteLen

			frame, rerr := d.ctrl.ReadFrame(ctx, cursorFrame)
			if rerr != nil {
				return classifyBusErr("Write", rerr)
			}
			copy(frame[cursorOffset:int(cursorOffset)+sliceLen], in[pos:pos+sliceLen])
			if werr := d.ctrl.WriteFrame(ctx, cursorFrame, frame); werr != nil {
				return classifyBusErr("Write", werr)
			}

			if extendLen > 0 {
				usedBytes := uint16(int(cursorOffset) + sliceLen)
				if d.ctrl.FrameUsed(cursorFrame) == 0 {
					d.ctrl.MarkFrameAllocated(cursorFrame, usedBytes)
				} else if usedBytes > d.ctrl.FrameUsed(cursorFrame) {
					d.ctrl.SetFrameUsed(cursorFrame, usedBytes)
				}
				length += uint32(extendLen)
			}

			pos += sliceLen
			cursorAbs += uint32(sliceLen)
			cursorOffset += uint16(sliceLen)
		}

		e.CursorFrame = cursorFrame
		e.CursorOffset = cursorOffset
		e.CursorAbs = cursorAbs
		if cursorAbs > length {
			length = cursorAbs
		}
		e.Length = length
		written = pos
		return nil
	})
	if err != nil {
		return 0, wrapEntryErr("Write", err)
	}
	return written, nil
}

// Seek repositions fd's cursor to the absolute byte offset loc, walking
// the chain from the file's start exactly loc/1024 hops. Fails if loc
// exceeds the file's logical length.
func (d *Driver) Seek(ctx context.Context, fd int, loc uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.poweredOn {
		return newError("Seek", EState, fmt.Errorf("driver is not powered on"))
	}

	err := d.table.WithOpenEntry(fd, func(e *filetable.Entry, _ func() controller.FrameID) error {
		if loc > e.Length {
			return newError("Seek", EBounds, fmt.Errorf("offset %d exceeds length %d", loc, e.Length))
		}

		frame := e.Start
		hops := int(loc / bus.FrameSize)
		offsetInFrame := uint16(loc % bus.FrameSize)

		for i := 0; i < hops; i++ {
			next, ok := d.ctrl.FrameNext(frame)
			if !ok {
				// loc lands exactly at the end of a chain whose last frame
				// is completely full (loc == length, a multiple of
				// FrameSize): rest the cursor at offset FrameSize of that
				// last real frame rather than hopping onto a frame that
				// doesn't exist yet, mirroring where Write leaves the
				// cursor after filling a frame with nothing left to write.
				if i == hops-1 && offsetInFrame == 0 {
					offsetInFrame = bus.FrameSize
					break
				}
				return newError("Seek", EProtocol, fmt.Errorf("chain ended before offset %d", loc))
			}
			frame = next
		}

		e.CursorFrame = frame
		e.CursorOffset = offsetInFrame
		e.CursorAbs = loc
		return nil
	})
	if err != nil {
		return wrapEntryErr("Seek", err)
	}
	return nil
}

// wrapEntryErr normalizes an error returned from within a
// Table.WithOpenEntry callback: errors already classified as *Error pass
// through unchanged, everything else (an unknown/closed handle reported
// directly by the table) becomes EBadHandle.
func wrapEntryErr(op string, err error) error {
	if ce, ok := err.(*Error); ok {
		return ce
	}
	return newError(op, EBadHandle, err)
}
