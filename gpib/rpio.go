/*
 * hp3478ext - GPIO backed GPIB signals.
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
	"time"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

// PinMap assigns BCM GPIO numbers to the bus lines. Data holds DIO1..DIO8
// in order.
type PinMap struct {
	ATN, REN, IFC, EOI, DAV, NRFD, NDAC, SRQ int
	Data                                     [8]int
}

// DefaultPins matches the reference adapter wiring.
var DefaultPins = PinMap{
	ATN: 22, REN: 27, IFC: 17, EOI: 5, DAV: 6, NRFD: 13, NDAC: 19, SRQ: 26,
	Data: [8]int{14, 15, 18, 23, 24, 25, 8, 7},
}

// RpioSignals implements Signals over memory mapped GPIO. Lines are driven
// open collector style: asserting switches the pin to output low,
// releasing switches it back to input so the bus pull-ups raise it.
type RpioSignals struct {
	atn, ren, ifc, eoi, dav, nrfd, ndac, srq rpio.Pin
	data                                     [8]rpio.Pin
	renOut                                   bool
}

// NewRpioSignals maps the pins and parks every line released with the
// data lines as inputs. rpio.Open must have succeeded beforehand.
func NewRpioSignals(pins PinMap) *RpioSignals {
	s := &RpioSignals{
		atn:  rpio.Pin(pins.ATN),
		ren:  rpio.Pin(pins.REN),
		ifc:  rpio.Pin(pins.IFC),
		eoi:  rpio.Pin(pins.EOI),
		dav:  rpio.Pin(pins.DAV),
		nrfd: rpio.Pin(pins.NRFD),
		ndac: rpio.Pin(pins.NDAC),
		srq:  rpio.Pin(pins.SRQ),
	}
	for i, p := range pins.Data {
		s.data[i] = rpio.Pin(p)
	}
	for _, p := range []rpio.Pin{s.atn, s.ren, s.ifc, s.eoi, s.dav, s.nrfd, s.ndac} {
		release(p)
	}
	s.srq.Input()
	s.srq.PullUp()
	for _, p := range s.data {
		p.Input()
	}
	return s
}

func drive(p rpio.Pin, assert bool) {
	if assert {
		p.Output()
		p.Low()
	} else {
		release(p)
	}
}

func release(p rpio.Pin) {
	p.Input()
	p.PullUp()
}

func asserted(p rpio.Pin) bool {
	return p.Read() == rpio.Low
}

func (s *RpioSignals) SetATN(assert bool) {
	drive(s.atn, assert)
	if assert {
		time.Sleep(500 * time.Nanosecond) // T7
	}
}

func (s *RpioSignals) SetREN(assert bool) {
	drive(s.ren, assert)
	s.renOut = assert
}

func (s *RpioSignals) SetIFC(assert bool)  { drive(s.ifc, assert) }
func (s *RpioSignals) SetEOI(assert bool)  { drive(s.eoi, assert) }
func (s *RpioSignals) SetDAV(assert bool)  { drive(s.dav, assert) }
func (s *RpioSignals) SetNRFD(assert bool) { drive(s.nrfd, assert) }
func (s *RpioSignals) SetNDAC(assert bool) { drive(s.ndac, assert) }

func (s *RpioSignals) DAV() bool  { return asserted(s.dav) }
func (s *RpioSignals) NRFD() bool { return asserted(s.nrfd) }
func (s *RpioSignals) NDAC() bool { return asserted(s.ndac) }
func (s *RpioSignals) SRQ() bool  { return asserted(s.srq) }
func (s *RpioSignals) EOI() bool  { return asserted(s.eoi) }
func (s *RpioSignals) REN() bool  { return s.renOut }

func (s *RpioSignals) DataPut(b byte) {
	for i, p := range s.data {
		// Data lines are negative true as well.
		if b&(1<<i) != 0 {
			p.Output()
			p.Low()
		} else {
			p.Input()
			p.PullUp()
		}
	}
}

func (s *RpioSignals) DataGet() byte {
	var b byte
	for i, p := range s.data {
		if p.Read() == rpio.Low {
			b |= 1 << i
		}
	}
	return b
}

func (s *RpioSignals) ConfigTalker() {
	release(s.nrfd)
	release(s.ndac)
	release(s.dav)
}

func (s *RpioSignals) ConfigListener() {
	for _, p := range s.data {
		p.Input()
		p.PullUp()
	}
	release(s.dav)
	drive(s.nrfd, true)
	drive(s.ndac, true)
}

func (s *RpioSignals) SettleData() {
	time.Sleep(2 * time.Microsecond) // T1
}
