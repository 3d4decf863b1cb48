/*
 * hp3478ext - GPIB signal definitions.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package gpib implements the controller side of an IEEE-488.1 bus: the
// pin-level signal abstraction and the byte transport with the full
// three-wire handshake.
package gpib

// End-of-message flags. Transmit appends the requested terminators and
// asserts EOI on the last byte; Receive stops on any requested condition
// and returns the set of conditions seen.
const (
	EndCR  byte = 1 << 0
	EndLF  byte = 1 << 1
	EndEOI byte = 1 << 2
	EndBuf byte = 1 << 3 // synthetic: receive filled the buffer with no terminator
)

// Bus command bytes and addressing offsets.
const (
	TalkAddr   = 64 // talk address = device address + 64
	ListenAddr = 32 // listen address = device address + 32

	CmdSPE = 0x18 // serial poll enable
	CmdSPD = 0x19 // serial poll disable
	CmdUNL = '?'  // unlisten (listen address 31)
	CmdUNT = '_'  // untalk (talk address 31)
)

// Handshake budgets in milliseconds. The spin loops compare 8-bit modular
// deltas, so budgets must stay below 255.
const (
	ReceiveTimeoutMs  = 200
	TransmitTimeoutMs = 200
)

// Signals is the pin-level access to the bus. Lines are open collector:
// Set(true) drives the line low (asserted), Set(false) releases it to
// high impedance. Read methods return true when the line is asserted.
//
// SetATN(true) must include the T7 settle delay (>= 500 ns) before
// returning. SettleData provides the T1 data settle delay (>= 2 us) and is
// called by the transport after placing a byte on the data lines.
type Signals interface {
	SetATN(assert bool)
	SetREN(assert bool)
	SetIFC(assert bool)
	SetEOI(assert bool)
	SetDAV(assert bool)
	SetNRFD(assert bool)
	SetNDAC(assert bool)

	DAV() bool
	NRFD() bool
	NDAC() bool
	SRQ() bool
	EOI() bool
	REN() bool

	DataPut(b byte)
	DataGet() byte

	// ConfigTalker turns the data lines around for output and parks
	// NRFD/NDAC released; ConfigListener makes data inputs and asserts
	// NRFD/NDAC so a talker sees a listener present.
	ConfigTalker()
	ConfigListener()

	SettleData()
}
