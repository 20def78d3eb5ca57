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

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cartfs/cartfs/internal/logger"
	"github.com/google/uuid"
	"github.com/jacobsa/reqtrace"
	"github.com/jacobsa/timeutil"
)

// Transport is the single synchronous request/response stream to the
// cartridge controller. Exactly one request is ever in flight: the
// implementation is not reentrant, matching the protocol invariant that
// RT1 handling depends on strict FIFO ordering.
type Transport interface {
	// Request issues reg (and, for WRFRME, the given payload) and blocks for
	// the matching response register (and, for RDFRME, its payload). payload
	// is only consulted for WRFRME and is always exactly FrameSize bytes; the
	// returned payload is only populated for RDFRME.
	Request(ctx context.Context, op Opcode, reg Register, payload *Frame) (resp Register, respPayload *Frame, err error)

	// Close tears down the underlying connection outside of a POWOFF
	// exchange; the driver calls it when unwinding a failed PowerOn.
	Close(ctx context.Context) error
}

// TCPTransport is a Transport backed by a single persistent TCP connection,
// dialed lazily on first use and torn down on POWOFF.
type TCPTransport struct {
	addr         string
	dialTimeout  time.Duration
	clock        timeutil.Clock
	mu           sync.Mutex
	conn         net.Conn
}

// NewTCPTransport constructs a transport that will dial addr (host:port) on
// first Request. clock is used to compute dial deadlines; pass
// timeutil.RealClock() in production and a timeutil.SimulatedClock in
// tests that want deterministic timeouts.
func NewTCPTransport(addr string, dialTimeout time.Duration, clock timeutil.Clock) *TCPTransport {
	if clock == nil {
		clock = timeutil.RealClock()
	}
	return &TCPTransport{addr: addr, dialTimeout: dialTimeout, clock: clock}
}

func (t *TCPTransport) ensureConn() error {
	if t.conn != nil {
		return nil
	}

	dialer := net.Dialer{Deadline: t.clock.Now().Add(t.dialTimeout)}
	conn, err := dialer.Dial("tcp", t.addr)
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}
	t.conn = conn
	return nil
}

// Request implements Transport. RDFRME reads a trailing frame, WRFRME
// writes a leading one, POWOFF additionally closes the connection once
// the response has been read.
func (t *TCPTransport) Request(ctx context.Context, op Opcode, reg Register, payload *Frame) (resp Register, respPayload *Frame, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if reqtrace.Enabled() {
		var report reqtrace.ReportFunc
		ctx, report = reqtrace.StartSpan(ctx, fmt.Sprintf("bus.%s", op))
		defer func() { report(err) }()
	}

	corr := uuid.New()
	logger.Tracef("bus request id=%s op=%s reg=%#016x", corr, op, uint64(reg))

	if err = t.ensureConn(); err != nil {
		return 0, nil, err
	}

	if op == OpWrFrme {
		if payload == nil {
			return 0, nil, &ProtocolError{Msg: "WRFRME issued with nil payload"}
		}
		if writeErr := binary.Write(t.conn, binary.BigEndian, uint64(reg)); writeErr != nil {
			return 0, nil, &TransportError{Op: "write register (WRFRME)", Err: writeErr}
		}
		if n, writeErr := t.conn.Write(payload[:]); writeErr != nil || n != FrameSize {
			return 0, nil, &TransportError{Op: "write payload (WRFRME)", Err: shortWriteErr(writeErr, n, FrameSize)}
		}
	} else {
		if writeErr := binary.Write(t.conn, binary.BigEndian, uint64(reg)); writeErr != nil {
			return 0, nil, &TransportError{Op: fmt.Sprintf("write register (%s)", op), Err: writeErr}
		}
	}

	var raw uint64
	if readErr := binary.Read(t.conn, binary.BigEndian, &raw); readErr != nil {
		return 0, nil, &TransportError{Op: fmt.Sprintf("read register (%s)", op), Err: readErr}
	}
	resp = Register(raw)

	if op == OpRdFrme {
		var f Frame
		if _, readErr := io.ReadFull(t.conn, f[:]); readErr != nil {
			return 0, nil, &TransportError{Op: "read payload (RDFRME)", Err: readErr}
		}
		respPayload = &f
	}

	if op == OpPowOff {
		closeErr := t.conn.Close()
		t.conn = nil
		if closeErr != nil {
			return resp, nil, &TransportError{Op: "close (POWOFF)", Err: closeErr}
		}
	}

	if resp.Op() != op {
		return 0, nil, &ProtocolError{Msg: fmt.Sprintf("response opcode %s does not match request %s", resp.Op(), op)}
	}
	if raw&0x7FFF != 0 {
		return 0, nil, &ProtocolError{Msg: fmt.Sprintf("response %#016x has reserved bits set", raw)}
	}

	logger.Tracef("bus response id=%s op=%s reg=%#016x", corr, op, uint64(resp))
	return resp, respPayload, nil
}

// Close tears down the connection outside of a POWOFF exchange, e.g. after
// a terminal transport error leaves the driver's state unreliable.
func (t *TCPTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	if err != nil {
		return &TransportError{Op: "close", Err: err}
	}
	return nil
}

func shortWriteErr(err error, n, want int) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("short write: wrote %d of %d bytes", n, want)
}
