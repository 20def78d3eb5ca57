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

// Package bus implements the packed 64-bit register protocol used to talk
// to the cartridge memory controller, and the transport that carries it.
//
// The wire format is fixed by the controller, not by us: KY1/KY2/RT1/CT1/FM1
// packed MSB-first into a uint64, transmitted network-byte-order, optionally
// followed or preceded by a 1024-byte frame payload depending on opcode.
package bus

// Opcode identifies the operation a Register requests of the controller.
type Opcode uint8

// Canonical opcodes. Values are part of the wire contract with the
// controller and must not be renumbered once a deployment depends on them.
const (
	OpInitMS Opcode = 0 // INITMS: initialize the memory system
	OpLdCart Opcode = 1 // LDCART: load (select) a cartridge
	OpBZero  Opcode = 2 // BZERO: zero the currently loaded cartridge
	OpRdFrme Opcode = 3 // RDFRME: read a frame from the loaded cartridge
	OpWrFrme Opcode = 4 // WRFRME: write a frame to the loaded cartridge
	OpPowOff Opcode = 5 // POWOFF: power down the memory system
)

func (o Opcode) String() string {
	switch o {
	case OpInitMS:
		return "INITMS"
	case OpLdCart:
		return "LDCART"
	case OpBZero:
		return "BZERO"
	case OpRdFrme:
		return "RDFRME"
	case OpWrFrme:
		return "WRFRME"
	case OpPowOff:
		return "POWOFF"
	default:
		return "UNKNOWN"
	}
}

// FrameSize is the fixed size in bytes of a single cartridge frame.
const FrameSize = 1024

// FramesPerCartridge is the fixed frame count of a single cartridge.
const FramesPerCartridge = 1024

// Frame is the payload exchanged alongside RDFRME/WRFRME registers.
type Frame [FrameSize]byte

// Register is the packed 64-bit word exchanged with the controller.
//
// Bit layout (MSB first), per the controller's wire contract:
//
//	63..56  KY1  (8 bits)  opcode
//	55..48  KY2  (8 bits)  sub-opcode, always 0 today
//	47      RT1  (1 bit)   0 = ok, nonzero = controller-level failure
//	46..31  CT1  (16 bits) cartridge index
//	30..15  FM1  (16 bits) frame index
//	14..0   --   (15 bits) reserved, always 0
type Register uint64

// Pack assembles a Register from its constituent fields. Reserved bits are
// always zero in the result regardless of ct1/fm1's high bits; callers must
// not rely on Pack to silently truncate out-of-range values.
func Pack(ky1, ky2 uint8, rt1 uint8, ct1, fm1 uint16) Register {
	var r uint64
	r |= uint64(ky1) << 56
	r |= uint64(ky2) << 48
	r |= uint64(rt1&0x1) << 47
	r |= uint64(ct1) << 31
	r |= uint64(fm1) << 15
	return Register(r)
}

// Unpack is the inverse of Pack. Reserved bits are ignored, not validated;
// callers that care whether they were sent clean should check EProtocol
// conditions at a higher layer.
func Unpack(r Register) (ky1, ky2 uint8, rt1 uint8, ct1, fm1 uint16) {
	v := uint64(r)
	ky1 = uint8(v >> 56)
	ky2 = uint8(v >> 48)
	rt1 = uint8((v >> 47) & 0x1)
	ct1 = uint16((v >> 31) & 0xFFFF)
	fm1 = uint16((v >> 15) & 0xFFFF)
	return
}

// PackOp is a convenience wrapper over Pack for the common case of issuing a
// request with a zero sub-opcode and a zero RT1 (requests never set RT1;
// only responses do).
func PackOp(op Opcode, cart, frame uint16) Register {
	return Pack(uint8(op), 0, 0, cart, frame)
}

// Op extracts the opcode from a Register, ignoring every other field.
func (r Register) Op() Opcode {
	ky1, _, _, _, _ := Unpack(r)
	return Opcode(ky1)
}

// Failed reports whether RT1 signals a controller-level failure.
func (r Register) Failed() bool {
	_, _, rt1, _, _ := Unpack(r)
	return rt1 != 0
}
