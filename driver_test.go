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

package cartfs_test

import (
	"context"
	"testing"

	cartfs "github.com/cartfs/cartfs"
	"github.com/cartfs/cartfs/internal/bus"
	"github.com/stretchr/testify/require"
)

func newPoweredOnDriver(t *testing.T, maxCartridges, maxFiles, cacheFrames int) *cartfs.Driver {
	t.Helper()
	tr := bus.NewFakeTransport(maxCartridges)
	d := cartfs.NewDriver(tr, cartfs.Config{
		MaxCartridges: maxCartridges,
		MaxFiles:      maxFiles,
		CacheFrames:   cacheFrames,
	})
	require.NoError(t, d.PowerOn(context.Background()))
	return d
}

// S1: write 5 bytes, seek to 0, read them back.
func TestScenarioWriteSeekRead(t *testing.T) {
	ctx := context.Background()
	d := newPoweredOnDriver(t, 2, 4, 8)
	defer d.PowerOff(ctx)

	fd, err := d.Open("a")
	require.NoError(t, err)

	n, err := d.Write(ctx, fd, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	require.NoError(t, d.Seek(ctx, fd, 0))

	out := make([]byte, 5)
	n, err = d.Read(ctx, fd, out)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(out))

	require.NoError(t, d.Close(fd))
}

// S2: a 2048-byte write spans exactly two frames, chained together.
func TestScenarioMultiFrameWriteAndRead(t *testing.T) {
	ctx := context.Background()
	d := newPoweredOnDriver(t, 2, 4, 8)
	defer d.PowerOff(ctx)

	fd, err := d.Open("a")
	require.NoError(t, err)

	payload := make([]byte, 2048)
	for i := range payload {
		payload[i] = 'x'
	}

	n, err := d.Write(ctx, fd, payload)
	require.NoError(t, err)
	require.Equal(t, 2048, n)

	require.NoError(t, d.Seek(ctx, fd, 0))

	out := make([]byte, 2048)
	n, err = d.Read(ctx, fd, out)
	require.NoError(t, err)
	require.Equal(t, 2048, n)
	require.Equal(t, payload, out)
}

// S3: overwriting an interior slice leaves length unchanged and patches
// only the targeted bytes.
func TestScenarioInteriorOverwrite(t *testing.T) {
	ctx := context.Background()
	d := newPoweredOnDriver(t, 2, 4, 8)
	defer d.PowerOff(ctx)

	fd, err := d.Open("a")
	require.NoError(t, err)

	_, err = d.Write(ctx, fd, []byte("ABCDEFGH"))
	require.NoError(t, err)

	require.NoError(t, d.Seek(ctx, fd, 2))
	n, err := d.Write(ctx, fd, []byte("**"))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, d.Seek(ctx, fd, 0))
	out := make([]byte, 8)
	_, err = d.Read(ctx, fd, out)
	require.NoError(t, err)
	require.Equal(t, "AB**EFGH", string(out))
}

// S4: a reopened handle starts its cursor at offset zero, not where the
// previous handle left off.
func TestScenarioReopenStartsAtZero(t *testing.T) {
	ctx := context.Background()
	d := newPoweredOnDriver(t, 2, 4, 8)
	defer d.PowerOff(ctx)

	fd, err := d.Open("a")
	require.NoError(t, err)
	_, err = d.Write(ctx, fd, []byte("xxxxx"))
	require.NoError(t, err)
	require.NoError(t, d.Close(fd))

	fd2, err := d.Open("a")
	require.NoError(t, err)

	out := make([]byte, 5)
	n, err := d.Read(ctx, fd2, out)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "xxxxx", string(out))
	require.NoError(t, d.Close(fd2))
}

func TestOpenAlreadyOpenFails(t *testing.T) {
	ctx := context.Background()
	d := newPoweredOnDriver(t, 1, 2, 4)
	defer d.PowerOff(ctx)

	_, err := d.Open("a")
	require.NoError(t, err)

	_, err = d.Open("a")
	require.Error(t, err)
	var cerr *cartfs.Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, cartfs.EState, cerr.Kind)
}

func TestOpenTableFullReturnsETable(t *testing.T) {
	ctx := context.Background()
	d := newPoweredOnDriver(t, 1, 1, 4)
	defer d.PowerOff(ctx)

	_, err := d.Open("a")
	require.NoError(t, err)

	_, err = d.Open("b")
	require.Error(t, err)
	var cerr *cartfs.Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, cartfs.ETable, cerr.Kind)
}

func TestSeekPastLengthFails(t *testing.T) {
	ctx := context.Background()
	d := newPoweredOnDriver(t, 1, 2, 4)
	defer d.PowerOff(ctx)

	fd, err := d.Open("a")
	require.NoError(t, err)
	_, err = d.Write(ctx, fd, []byte("abc"))
	require.NoError(t, err)

	err = d.Seek(ctx, fd, 10)
	require.Error(t, err)
	var cerr *cartfs.Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, cartfs.EBounds, cerr.Kind)
}

func TestReadPastLengthClampsInsteadOfReadingGarbage(t *testing.T) {
	ctx := context.Background()
	d := newPoweredOnDriver(t, 1, 2, 4)
	defer d.PowerOff(ctx)

	fd, err := d.Open("a")
	require.NoError(t, err)
	_, err = d.Write(ctx, fd, []byte("abc"))
	require.NoError(t, err)
	require.NoError(t, d.Seek(ctx, fd, 0))

	out := make([]byte, 10)
	n, err := d.Read(ctx, fd, out)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestReadEmptyFileReturnsZeroBytes(t *testing.T) {
	ctx := context.Background()
	tr := bus.NewFakeTransport(1)
	d := cartfs.NewDriver(tr, cartfs.Config{MaxCartridges: 1, MaxFiles: 2, CacheFrames: 4})
	require.NoError(t, d.PowerOn(ctx))
	defer d.PowerOff(ctx)

	fd, err := d.Open("a")
	require.NoError(t, err)

	out := []byte{1, 2, 3}
	n, err := d.Read(ctx, fd, out)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestOperationsFailWhenNotPoweredOn(t *testing.T) {
	tr := bus.NewFakeTransport(1)
	d := cartfs.NewDriver(tr, cartfs.Config{MaxCartridges: 1, MaxFiles: 2, CacheFrames: 4})

	_, err := d.Open("a")
	require.Error(t, err)
	var cerr *cartfs.Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, cartfs.EState, cerr.Kind)
}

func TestPowerOnTwiceFails(t *testing.T) {
	ctx := context.Background()
	d := newPoweredOnDriver(t, 1, 2, 4)
	defer d.PowerOff(ctx)

	err := d.PowerOn(ctx)
	require.Error(t, err)
}

func TestSetCacheSizeAfterPowerOnFails(t *testing.T) {
	ctx := context.Background()
	d := newPoweredOnDriver(t, 1, 2, 4)
	defer d.PowerOff(ctx)

	err := d.SetCacheSize(16)
	require.Error(t, err)
	var cerr *cartfs.Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, cartfs.EState, cerr.Kind)
}

// S6: poweron issues exactly one LDCART+BZERO per cartridge, then a final
// LDCART(0).
func TestScenarioPowerOnBusTrace(t *testing.T) {
	ctx := context.Background()
	tr := newTracingTransport(3)
	d := cartfs.NewDriver(tr, cartfs.Config{MaxCartridges: 3, MaxFiles: 2, CacheFrames: 4})

	require.NoError(t, d.PowerOn(ctx))

	wantOps := []bus.Opcode{
		bus.OpInitMS,
		bus.OpLdCart, bus.OpBZero,
		bus.OpLdCart, bus.OpBZero,
		bus.OpLdCart, bus.OpBZero,
		bus.OpLdCart,
	}
	require.Equal(t, wantOps, tr.ops)
}

// SetCacheSize(0) disables the cache rather than being rejected as an
// invalid size: zero is a first-class "disable" value, not an error.
func TestSetCacheSizeZeroDisablesCache(t *testing.T) {
	ctx := context.Background()
	tr := bus.NewFakeTransport(1)
	d := cartfs.NewDriver(tr, cartfs.Config{MaxCartridges: 1, MaxFiles: 2, CacheFrames: 4})
	require.NoError(t, d.SetCacheSize(0))
	require.NoError(t, d.PowerOn(ctx))
	defer d.PowerOff(ctx)

	fd, err := d.Open("a")
	require.NoError(t, err)
	_, err = d.Write(ctx, fd, []byte("hello"))
	require.NoError(t, err)

	stats := d.CacheStats()
	require.Equal(t, 0, stats.Size)
	require.Equal(t, 0, stats.MaxFrames)
}

func TestSetCacheSizeRejectsNegative(t *testing.T) {
	tr := bus.NewFakeTransport(1)
	d := cartfs.NewDriver(tr, cartfs.Config{MaxCartridges: 1, MaxFiles: 2, CacheFrames: 4})

	err := d.SetCacheSize(-1)
	require.Error(t, err)
	var cerr *cartfs.Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, cartfs.EBounds, cerr.Kind)
}

// Stat reports length/frame-count/open-state without disturbing the
// cursor, and CacheStats surfaces hit/miss/eviction counters.
func TestStatAndCacheStats(t *testing.T) {
	ctx := context.Background()
	d := newPoweredOnDriver(t, 1, 2, 8)
	defer d.PowerOff(ctx)

	fd, err := d.Open("a")
	require.NoError(t, err)
	_, err = d.Write(ctx, fd, []byte("hello world"))
	require.NoError(t, err)

	info, ok := d.Stat("a")
	require.True(t, ok)
	require.True(t, info.Open)
	require.EqualValues(t, 11, info.Length)
	require.Equal(t, 1, info.NumFrames)

	require.NoError(t, d.Seek(ctx, fd, 0))
	out := make([]byte, 11)
	_, err = d.Read(ctx, fd, out)
	require.NoError(t, err)

	stats := d.CacheStats()
	require.Greater(t, stats.Hits+stats.Misses, uint64(0))

	_, ok = d.Stat("never-opened")
	require.False(t, ok)
}

// Reading a full tail frame to its end must leave the cursor where Write
// would: a following write extends the chain rather than clobbering the
// frame just read.
func TestWriteAfterReadingToFrameBoundaryExtends(t *testing.T) {
	ctx := context.Background()
	d := newPoweredOnDriver(t, 2, 4, 8)
	defer d.PowerOff(ctx)

	fd, err := d.Open("a")
	require.NoError(t, err)

	first := make([]byte, 1024)
	for i := range first {
		first[i] = 'a'
	}
	_, err = d.Write(ctx, fd, first)
	require.NoError(t, err)

	require.NoError(t, d.Seek(ctx, fd, 0))
	out := make([]byte, 1024)
	n, err := d.Read(ctx, fd, out)
	require.NoError(t, err)
	require.Equal(t, 1024, n)

	// Cursor now sits at byte 1024; this write must land on a second frame.
	_, err = d.Write(ctx, fd, []byte("bb"))
	require.NoError(t, err)

	require.NoError(t, d.Seek(ctx, fd, 0))
	full := make([]byte, 1026)
	n, err = d.Read(ctx, fd, full)
	require.NoError(t, err)
	require.Equal(t, 1026, n)
	require.Equal(t, first, full[:1024])
	require.Equal(t, "bb", string(full[1024:]))
}

// A failed poweron must release everything it acquired, so a later attempt
// starts from scratch and succeeds.
func TestPowerOnFailureReleasesStateForRetry(t *testing.T) {
	ctx := context.Background()
	tr := bus.NewFakeTransport(2)
	tr.RejectOps = map[bus.Opcode]bool{bus.OpBZero: true}
	d := cartfs.NewDriver(tr, cartfs.Config{MaxCartridges: 2, MaxFiles: 2, CacheFrames: 4})

	err := d.PowerOn(ctx)
	require.Error(t, err)
	var cerr *cartfs.Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, cartfs.EBus, cerr.Kind)

	tr.RejectOps = nil
	require.NoError(t, d.PowerOn(ctx))
	defer d.PowerOff(ctx)

	fd, err := d.Open("a")
	require.NoError(t, err)
	_, err = d.Write(ctx, fd, []byte("retry"))
	require.NoError(t, err)
	require.NoError(t, d.Seek(ctx, fd, 0))
	out := make([]byte, 5)
	n, err := d.Read(ctx, fd, out)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "retry", string(out))
}

// tracingTransport wraps a FakeTransport to record the sequence of issued
// opcodes, for asserting on bus traffic shape without a real controller.
type tracingTransport struct {
	*bus.FakeTransport
	ops []bus.Opcode
}

func newTracingTransport(maxCartridges int) *tracingTransport {
	return &tracingTransport{FakeTransport: bus.NewFakeTransport(maxCartridges)}
}

func (t *tracingTransport) Request(ctx context.Context, op bus.Opcode, reg bus.Register, payload *bus.Frame) (bus.Register, *bus.Frame, error) {
	t.ops = append(t.ops, op)
	return t.FakeTransport.Request(ctx, op, reg, payload)
}
