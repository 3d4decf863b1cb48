/*
 * hp3478ext - GPIB transport test cases.
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
	"bytes"
	"testing"
)

// fakeClock advances one millisecond on every sample, so handshake waits
// that never complete run into their budget deterministically.
type fakeClock struct {
	now uint16
}

func (c *fakeClock) Millis() uint16 {
	c.now++
	return c.now
}
func (c *fakeClock) DelayUs(int) {}
func (c *fakeClock) DelayMs(ms int) {
	c.now += uint16(ms)
}

// rxByte is one byte as seen by the fake listener, with the control line
// states sampled at the data valid edge.
type rxByte struct {
	b   byte
	atn bool
	eoi bool
}

// fakeBus models a single instrument on the bus. As a listener it
// accepts every byte immediately (up to acceptLimit); as a talker it
// sources the queued bytes, asserting EOI with the last when eoiOnLast
// is set.
type fakeBus struct {
	atn, eoi, dav, nrfd, ndac bool
	dataOut                   byte

	noListener  bool
	acceptLimit int // -1: unlimited
	rxd         []rxByte

	q         []byte
	eoiOnLast bool
	davOut    bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{acceptLimit: -1}
}

func (f *fakeBus) SetATN(assert bool) { f.atn = assert }
func (f *fakeBus) SetREN(bool)        {}
func (f *fakeBus) SetIFC(bool)        {}
func (f *fakeBus) SetEOI(assert bool) { f.eoi = assert }

func (f *fakeBus) SetDAV(assert bool) {
	if assert && !f.dav {
		f.rxd = append(f.rxd, rxByte{b: f.dataOut, atn: f.atn, eoi: f.eoi})
	}
	f.dav = assert
}

func (f *fakeBus) SetNRFD(assert bool) { f.nrfd = assert }
func (f *fakeBus) SetNDAC(assert bool) {
	f.ndac = assert
	if !assert && f.davOut {
		// Listener accepted: finish the source handshake.
		f.q = f.q[1:]
		f.davOut = false
	}
}

func (f *fakeBus) DAV() bool {
	if !f.davOut && len(f.q) > 0 && !f.nrfd {
		f.davOut = true
	}
	return f.davOut
}

func (f *fakeBus) NRFD() bool {
	if f.noListener {
		return false
	}
	return f.acceptLimit == 0
}

func (f *fakeBus) NDAC() bool {
	if f.noListener {
		return false
	}
	if f.dav {
		if f.acceptLimit > 0 {
			f.acceptLimit--
		}
		return false
	}
	return true
}

func (f *fakeBus) SRQ() bool { return false }
func (f *fakeBus) EOI() bool {
	return f.davOut && len(f.q) == 1 && f.eoiOnLast
}
func (f *fakeBus) REN() bool { return false }

func (f *fakeBus) DataPut(b byte)  { f.dataOut = b }
func (f *fakeBus) DataGet() byte   { return f.q[0] }
func (f *fakeBus) ConfigTalker()   {}
func (f *fakeBus) ConfigListener() {}
func (f *fakeBus) SettleData()     {}

func (f *fakeBus) received() []byte {
	var b []byte
	for _, r := range f.rxd {
		b = append(b, r.b)
	}
	return b
}

func TestTransmitPlain(t *testing.T) {
	bus := newFakeBus()
	ctl := NewController(bus, &fakeClock{})

	n := ctl.Transmit([]byte("F1T1"), 0)
	if n != 4 {
		t.Errorf("transmit returned %d, expected 4", n)
	}
	if !bytes.Equal(bus.received(), []byte("F1T1")) {
		t.Errorf("listener saw %q", bus.received())
	}
	for _, r := range bus.rxd {
		if r.eoi {
			t.Error("EOI asserted without being requested")
		}
	}
}

func TestTransmitEnds(t *testing.T) {
	tests := []struct {
		end  byte
		want string
	}{
		{EndCR, "B\r"},
		{EndLF, "B\n"},
		{EndCR | EndLF, "B\r\n"},
		{EndEOI, "B"},
		{EndCR | EndLF | EndEOI, "B\r\n"},
	}
	for _, tc := range tests {
		bus := newFakeBus()
		ctl := NewController(bus, &fakeClock{})

		n := ctl.Transmit([]byte("B"), tc.end)
		if n != ExpectedLen(1, tc.end) {
			t.Errorf("end %x: transmit returned %d, expected %d", tc.end, n, ExpectedLen(1, tc.end))
		}
		if !bytes.Equal(bus.received(), []byte(tc.want)) {
			t.Errorf("end %x: listener saw %q, expected %q", tc.end, bus.received(), tc.want)
		}
		for i, r := range bus.rxd {
			wantEOI := tc.end&EndEOI != 0 && i == len(bus.rxd)-1
			if r.eoi != wantEOI {
				t.Errorf("end %x: byte %d EOI=%v", tc.end, i, r.eoi)
			}
		}
		if bus.eoi {
			t.Errorf("end %x: EOI still asserted after transmit", tc.end)
		}
	}
}

func TestTransmitNoListener(t *testing.T) {
	bus := newFakeBus()
	bus.noListener = true
	ctl := NewController(bus, &fakeClock{})

	if n := ctl.Transmit([]byte("XYZ"), 0); n != 0 {
		t.Errorf("transmit with no listener returned %d", n)
	}
	if len(bus.rxd) != 0 {
		t.Error("bytes appeared on an empty bus")
	}
}

func TestTransmitTimeoutPartial(t *testing.T) {
	bus := newFakeBus()
	bus.acceptLimit = 2
	ctl := NewController(bus, &fakeClock{})

	n := ctl.Transmit([]byte("ABCDE"), 0)
	if n != 2 {
		t.Errorf("partial transmit returned %d, expected 2", n)
	}
	if bus.dav || bus.eoi {
		t.Error("DAV or EOI left asserted after a timeout")
	}
}

func TestReceiveEOI(t *testing.T) {
	bus := newFakeBus()
	bus.q = []byte("+1.23456E+0\r\n")
	bus.eoiOnLast = true
	ctl := NewController(bus, &fakeClock{})

	var buf [32]byte
	n, reason := ctl.Receive(buf[:], EndEOI)
	if reason != EndEOI {
		t.Errorf("stop reason %x, expected EOI", reason)
	}
	if string(buf[:n]) != "+1.23456E+0\r\n" {
		t.Errorf("received %q", buf[:n])
	}
}

func TestReceiveEOLStops(t *testing.T) {
	tests := []struct {
		stop   byte
		data   string
		want   string
		reason byte
	}{
		{EndLF, "AB\nCD", "AB\n", EndLF},
		{EndCR, "AB\rCD", "AB\r", EndCR},
		{EndCR | EndLF, "A\rB", "A\r", EndCR},
	}
	for _, tc := range tests {
		bus := newFakeBus()
		bus.q = []byte(tc.data)
		ctl := NewController(bus, &fakeClock{})

		var buf [32]byte
		n, reason := ctl.Receive(buf[:], tc.stop)
		if reason != tc.reason {
			t.Errorf("stop %x: reason %x, expected %x", tc.stop, reason, tc.reason)
		}
		if string(buf[:n]) != tc.want {
			t.Errorf("stop %x: received %q, expected %q", tc.stop, buf[:n], tc.want)
		}
	}
}

func TestReceiveBufferFull(t *testing.T) {
	bus := newFakeBus()
	bus.q = []byte("ABCDEFGH")
	ctl := NewController(bus, &fakeClock{})

	var buf [4]byte
	n, reason := ctl.Receive(buf[:], EndEOI)
	if reason != EndBuf {
		t.Errorf("stop reason %x, expected buffer full", reason)
	}
	if n != 4 || string(buf[:]) != "ABCD" {
		t.Errorf("received %d bytes %q", n, buf[:n])
	}
}

func TestReceiveTimeout(t *testing.T) {
	bus := newFakeBus() // nothing queued, DAV never asserts
	ctl := NewController(bus, &fakeClock{})

	var buf [4]byte
	n, reason := ctl.Receive(buf[:], EndEOI)
	if reason != 0 {
		t.Errorf("stop reason %x, expected timeout", reason)
	}
	if n != 0 {
		t.Errorf("timeout returned %d bytes", n)
	}
}

func TestExpectedLen(t *testing.T) {
	if ExpectedLen(3, EndEOI) != 3 {
		t.Error("EOI must not add bytes")
	}
	if ExpectedLen(3, EndCR|EndLF) != 5 {
		t.Error("CR LF must add two bytes")
	}
}
