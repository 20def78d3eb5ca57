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

package bus

import "testing"

func TestPackUnpackRoundTrip(t *testing.T) {
	cases := []struct {
		ky1, ky2 uint8
		rt1      uint8
		ct1, fm1 uint16
	}{
		{0, 0, 0, 0, 0},
		{uint8(OpRdFrme), 0, 0, 7, 1023},
		{uint8(OpWrFrme), 0, 1, 0xFFFF, 0xFFFF},
		{255, 255, 1, 0xFFFF, 0},
		{uint8(OpPowOff), 0, 0, 1, 0},
	}

	for _, c := range cases {
		r := Pack(c.ky1, c.ky2, c.rt1, c.ct1, c.fm1)
		ky1, ky2, rt1, ct1, fm1 := Unpack(r)
		if ky1 != c.ky1 || ky2 != c.ky2 || rt1 != c.rt1&0x1 || ct1 != c.ct1 || fm1 != c.fm1 {
			t.Fatalf("round trip mismatch for %+v: got ky1=%d ky2=%d rt1=%d ct1=%d fm1=%d",
				c, ky1, ky2, rt1, ct1, fm1)
		}
	}
}

func TestPackReservedBitsAlwaysZero(t *testing.T) {
	r := Pack(0xFF, 0xFF, 1, 0xFFFF, 0xFFFF)
	if uint64(r)&0x7FFF != 0 {
		t.Fatalf("reserved bits not zero: %#016x", uint64(r))
	}
}

func TestOpAndFailed(t *testing.T) {
	r := PackOp(OpRdFrme, 3, 42)
	if r.Op() != OpRdFrme {
		t.Fatalf("Op() = %v, want %v", r.Op(), OpRdFrme)
	}
	if r.Failed() {
		t.Fatalf("Failed() = true for a freshly packed request")
	}

	failed := Pack(uint8(OpLdCart), 0, 1, 3, 0)
	if !failed.Failed() {
		t.Fatalf("Failed() = false for RT1=1")
	}
}

func TestOpcodesAreDistinct(t *testing.T) {
	ops := []Opcode{OpInitMS, OpLdCart, OpBZero, OpRdFrme, OpWrFrme, OpPowOff}
	seen := map[Opcode]bool{}
	for _, op := range ops {
		if seen[op] {
			t.Fatalf("duplicate opcode value: %v", op)
		}
		seen[op] = true
	}
}
