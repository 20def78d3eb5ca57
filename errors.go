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
	"errors"
	"fmt"

	"github.com/cartfs/cartfs/internal/bus"
	"github.com/cartfs/cartfs/internal/logger"
)

// Kind classifies an Error, independent of the Go error value wrapping it.
type Kind int

const (
	// EState: operation invalid for current power/cache/file state.
	EState Kind = iota
	// EBadHandle: unknown or closed file handle.
	EBadHandle
	// EBounds: argument exceeds a known limit.
	EBounds
	// ETable: no free file slot.
	ETable
	// EBus: controller returned nonzero RT1.
	EBus
	// ETransport: short I/O, connect failure, socket error.
	ETransport
	// EProtocol: malformed response.
	EProtocol
)

func (k Kind) String() string {
	switch k {
	case EState:
		return "EState"
	case EBadHandle:
		return "EBadHandle"
	case EBounds:
		return "EBounds"
	case ETable:
		return "ETable"
	case EBus:
		return "EBus"
	case ETransport:
		return "ETransport"
	case EProtocol:
		return "EProtocol"
	default:
		return "EUnknown"
	}
}

// Error is the single error type the driver's public API returns. Callers
// that need to distinguish failure modes should use errors.As to recover
// one and inspect its Kind, rather than comparing error strings.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cartfs: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("cartfs: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op string, kind Kind, err error) *Error {
	e := &Error{Op: op, Kind: kind, Err: err}
	logger.Errorf("%v", e)
	return e
}

// classifyBusErr maps an internal/bus error into the matching cartfs Kind:
// ControllerError -> EBus, TransportError -> ETransport, ProtocolError ->
// EProtocol.
func classifyBusErr(op string, err error) *Error {
	if err == nil {
		return nil
	}

	var ce *bus.ControllerError
	var te *bus.TransportError
	var pe *bus.ProtocolError
	switch {
	case errors.As(err, &ce):
		return newError(op, EBus, err)
	case errors.As(err, &te):
		return newError(op, ETransport, err)
	case errors.As(err, &pe):
		return newError(op, EProtocol, err)
	default:
		return newError(op, EBus, err)
	}
}
