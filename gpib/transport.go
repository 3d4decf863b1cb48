/*
 * hp3478ext - GPIB byte transport.
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

package gpib

import (
	"github.com/KIrill-ka/hp3478ext/hw"
)

// Session phase. The controller is addressed as talker or listener, or the
// bus is unaddressed. The shell's S command reports the phase digit.
const (
	PhaseIdle = iota
	PhaseListen
	PhaseTalk
)

// Controller owns all bus transitions. It is the sole controller in
// charge; there is no arbitration.
type Controller struct {
	sig   Signals
	clk   hw.Clock
	phase int
}

func NewController(sig Signals, clk hw.Clock) *Controller {
	return &Controller{sig: sig, clk: clk}
}

// Phase returns the current session phase.
func (c *Controller) Phase() int { return c.phase }

// SetPhase records the session phase after an addressing change.
func (c *Controller) SetPhase(phase int) { c.phase = phase }

// Talk configures the interface as talker: data lines out, handshake
// inputs. It does not change the session phase.
func (c *Controller) Talk() { c.sig.ConfigTalker() }

// Listen configures the interface as listener.
func (c *Controller) Listen() { c.sig.ConfigListener() }

func (c *Controller) SetATN(assert bool) { c.sig.SetATN(assert) }
func (c *Controller) SetREN(assert bool) { c.sig.SetREN(assert) }
func (c *Controller) SRQ() bool          { return c.sig.SRQ() }
func (c *Controller) REN() bool          { return c.sig.REN() }

// PulseIFC asserts interface clear for one millisecond, resetting the bus
// state of every device.
func (c *Controller) PulseIFC() {
	c.sig.SetIFC(true)
	c.clk.DelayMs(1)
	c.sig.SetIFC(false)
}

// DelayUs exposes the timebase to protocol layers that need settle delays
// between bus operations.
func (c *Controller) DelayUs(us int) { c.clk.DelayUs(us) }

// ExpectedLen is the byte count Transmit produces for a buffer of n bytes
// with the given end flags.
func ExpectedLen(n int, end byte) int {
	if end&EndCR != 0 {
		n++
	}
	if end&EndLF != 0 {
		n++
	}
	return n
}

// Transmit sends buf with the requested terminators. CR and/or LF are
// appended in that order; EOI is asserted together with the last byte.
// The return value is the number of bytes actually accepted by the
// listeners, including appended terminators; compare against
// ExpectedLen(len(buf), end) to detect a partial transfer.
//
// The interface must already be configured as talker. If both NRFD and
// NDAC are released there is no listener handshaking and nothing is sent.
func (c *Controller) Transmit(buf []byte, end byte) int {
	if !c.sig.NRFD() && !c.sig.NDAC() {
		return 0
	}

	n := ExpectedLen(len(buf), end)
	for i := 0; i < n; i++ {
		var d byte
		switch {
		case end&(EndCR|EndLF) == EndCR|EndLF && i == n-2:
			d = 13
		case end&(EndCR|EndLF) == EndCR && i == n-1:
			d = 13
		case end&EndLF != 0 && i == n-1:
			d = 10
		default:
			d = buf[i]
		}

		c.sig.DataPut(d)
		if i == n-1 && end&EndEOI != 0 {
			c.sig.SetEOI(true)
		}

		c.sig.SettleData() // T1

		ts := uint8(c.clk.Millis())
		for c.sig.NRFD() { // waiting for all listeners ready
			if hw.Elapsed8(c.clk.Millis(), ts, TransmitTimeoutMs) {
				c.sig.SetEOI(false)
				return i
			}
		}

		c.sig.SetDAV(true)

		for c.sig.NDAC() { // waiting for all listeners to accept
			if hw.Elapsed8(c.clk.Millis(), ts, TransmitTimeoutMs) {
				c.sig.SetEOI(false)
				c.sig.SetDAV(false)
				return i
			}
		}

		c.sig.SetDAV(false)
	}
	c.sig.SetEOI(false)

	return n
}

// TransmitOK sends buf and reports whether the whole message was accepted.
func (c *Controller) TransmitOK(buf []byte, end byte) bool {
	return c.Transmit(buf, end) == ExpectedLen(len(buf), end)
}

// Receive reads bytes into buf until a requested stop condition or until
// the buffer is full. The interface must already be configured as
// listener. It returns the byte count together with the stop reason: the
// OR of EndEOI/EndLF/EndCR conditions seen on the final byte, EndBuf when
// the buffer filled with no terminator, or 0 when a handshake wait timed
// out.
func (c *Controller) Receive(buf []byte, stop byte) (int, byte) {
	if len(buf) == 0 {
		return 0, EndBuf
	}

	index := 0
	var doStop byte

	for {
		c.sig.SetNRFD(false) // ready for receiving data

		ts := uint8(c.clk.Millis())
		for !c.sig.DAV() { // waiting for falling edge
			if hw.Elapsed8(c.clk.Millis(), ts, ReceiveTimeoutMs) {
				c.sig.SetNRFD(true)
				return index, 0
			}
		}

		c.sig.SetNRFD(true) // not ready for receiving data
		if c.sig.EOI() && stop&EndEOI != 0 {
			doStop = EndEOI
		}

		d := c.sig.DataGet()
		c.sig.SetNDAC(false) // data accepted

		buf[index] = d
		index++
		if d == 10 && stop&EndLF != 0 {
			doStop |= EndLF
		}
		if d == 13 && stop&EndCR != 0 {
			doStop |= EndCR
		}

		for c.sig.DAV() { // waiting for rising edge
			if hw.Elapsed8(c.clk.Millis(), ts, ReceiveTimeoutMs) {
				c.sig.SetNDAC(true)
				return index, 0
			}
		}

		c.sig.SetNDAC(true)

		if index >= len(buf) || doStop != 0 {
			break
		}
	}
	if doStop != 0 {
		return index, doStop
	}
	return index, EndBuf
}
