/*
 * hp3478ext - Extended measurement modes.
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

package ext

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/KIrill-ka/hp3478ext/hp3478"
)

// modeRestore puts range, resolution and autozero back to what they were
// before a mode that disturbs them (continuity, diode).
func (m *Machine) modeRestore() bool {
	m.beepOff()
	cmd := hp3478.RestoreCommand(m.saved[0], m.saved[1])
	return m.dm.Cmd(cmd, 0) == nil
}

// saveState snapshots status bytes 0 and 1 for a later restore.
func (m *Machine) saveState() bool {
	st, err := m.dm.Status()
	if err != nil {
		return false
	}
	m.saved[0] = st[0]
	m.saved[1] = st[1]
	return true
}

/* Relative mode */

// relStart captures the reference reading and arms single internal
// triggered readings with the data-ready SRQ.
func (m *Machine) relStart(st0 byte, r hp3478.Reading) bool {
	if m.dm.Cmd("M21T1", 0) != nil {
		return false
	}
	m.relMode = st0
	m.relRef = r
	return true
}

func (m *Machine) relHandleData(r hp3478.Reading) bool {
	out := hp3478.Sub(r, m.relRef)
	return m.displayReading(out, m.relMode, '*', 0) == nil
}

/* Extended ohms */

// xohmInit selects the extended ohms function. The first reading becomes
// the 10 Mohm source reference for the divider calculation.
func (m *Machine) xohmInit() bool {
	m.xohmRef = 0
	return m.dm.Cmd("F7M21", 0) == nil
}

func (m *Machine) xohmHandleData(r hp3478.Reading) bool {
	if m.xohmRef == 0 {
		m.xohmRef = r.Value
	}

	if m.xohmRef <= r.Value+100 {
		return m.dm.Display("  OVLD  GOHM", 0) == nil
	}
	if r.Value < 0 {
		r.Value = 0
	}
	res := int64(m.xohmRef) * int64(r.Value) / int64(m.xohmRef-r.Value)
	out := hp3478.Reading{Exp: 6, Dot: 2}
	for res > 1000000 {
		out.Dot++
		if out.Dot == 4 {
			out.Exp += 3
			out.Dot = 1
		}
		res /= 10
	}
	out.Value = int32(res)
	st := byte(hp3478.StFunc2WOhm | hp3478.StDigits5)
	return m.displayReading(out, st, 0, 0) == nil
}

/* Diode test */

func (m *Machine) diodeInit() bool {
	if !m.saveState() {
		return false
	}
	if m.dm.Cmd("R3M21", 0) != nil {
		return false
	}
	m.contKnown = true
	return true
}

func (m *Machine) diodeHandleData(r hp3478.Reading) bool {
	if r.Overload() {
		// Show the open indication once, not on every reading.
		if m.contKnown {
			m.contKnown = false
			return m.dm.Display("     >3 V", hp3478.DispHideAnnunciators) == nil
		}
		return true
	}
	m.contKnown = true
	r.Exp = 0
	return m.displayReading(r, m.saved[0], 'd', 0) == nil
}

/* PT1000 temperature */

// Inverse Callendar-Van Dusen constants for a PT1000 element.
const (
	rtdA  = 3.908e-3
	rtdB  = -5.8019e-7
	rtdR0 = 1000.0
)

func (m *Machine) tempInit() bool {
	if !m.saveState() {
		return false
	}
	if m.dm.Cmd("M21", 0) != nil {
		return false
	}
	m.contKnown = true
	return true
}

func (m *Machine) tempHandleData(r hp3478.Reading) bool {
	if r.Overload() {
		if m.contKnown {
			m.contKnown = false
			return m.dm.Display("  OPEN", hp3478.DispHideAnnunciators) == nil
		}
		return true
	}
	m.contKnown = true

	res := float64(r.Value)
	for i := 6 - int(r.Dot) - int(r.Exp); i > 0; i-- {
		res /= 10
	}
	t := (-(rtdR0 * rtdA) + math.Sqrt(rtdR0*rtdR0*rtdA*rtdA-4*rtdR0*rtdB*(rtdR0-res))) /
		(2 * rtdR0 * rtdB)
	r.Value = int32(t * 1000)
	r.Exp = 0
	r.Dot = 3
	return m.displayReading(r, m.saved[0], 'c', 0) == nil
}

/* Continuity */

// contInit saves the meter's mode and forces the configured continuity
// range at 3.5 digits with autozero off, maximizing the reading rate.
func (m *Machine) contInit() bool {
	if !m.saveState() {
		return false
	}
	cmd := fmt.Sprintf("R%dN3M21Z0", m.cfg.ContRange)
	if m.dm.Cmd(cmd, 0) != nil {
		return false
	}
	m.contKnown = false
	m.contLatch = 0
	if m.dm.Display(m.contThresholdText(), hp3478.DispHideAnnunciators) != nil {
		return false
	}
	return true
}

func (m *Machine) contThresholdText() string {
	return fmt.Sprintf(" >%d OHM", m.cfg.ContThreshold/10)
}

// contTone interpolates the buzzer period and duty between the two
// configured break-points by the reading value, so lower resistance can
// map to a different pitch.
func (m *Machine) contTone(value int32) (uint16, uint8) {
	v1 := int32(m.cfg.ContBeepV1) * 100
	v2 := int32(m.cfg.ContBeepV2) * 100
	p1 := int32(m.cfg.ContBeepP1)
	p2 := int32(m.cfg.ContBeepP2)
	d1 := int32(m.cfg.ContBeepD1)
	d2 := int32(m.cfg.ContBeepD2)

	if v2 <= v1 || value <= v1 {
		return uint16(p1), uint8(d1)
	}
	if value >= v2 {
		return uint16(p2), uint8(d2)
	}
	p := p1 + (p2-p1)*(value-v1)/(v2-v1)
	d := d1 + (d2-d1)*(value-v1)/(v2-v1)
	return uint16(p), uint8(d)
}

// contProcess handles one continuity event. A reading at or below the
// threshold starts (or re-pitches) the buzzer and arms the latch; above
// it the latch counts down before the buzzer stops, giving hysteresis
// over intermittent contacts.
func (m *Machine) contProcess(sb byte) uint16 {
	if sb&hp3478.SBDReady == 0 {
		return Never
	}
	reading, err := m.dm.Reading(hp3478.CmdListen)
	if err != nil {
		return m.reinit()
	}

	// A scale change means the user turned the function or range knob;
	// give the meter back.
	if !reading.Overload() {
		if m.contKnown && (reading.Dot != m.contDot || reading.Exp != m.contExp) {
			st, err := m.dm.Status()
			if err != nil {
				return m.reinit()
			}
			if st[0]&hp3478.StFunc != hp3478.StFunc2WOhm ||
				(st[0]&hp3478.StRange)>>2 != m.cfg.ContRange {
				slog.Debug("cont: mode changed")
				m.modeRestore()
				if m.dm.Cmd("KM20D1", 0) != nil {
					return m.reinit()
				}
				m.state = StateIdle
				return Never
			}
		}
		m.contDot = reading.Dot
		m.contExp = reading.Exp
		m.contKnown = true
	}

	if !reading.Overload() && reading.Value <= int32(m.cfg.ContThreshold)*100 {
		period, duty := m.contTone(reading.Value)
		if !m.buzzerOn {
			if m.dm.Cmd("D1", 0) != nil {
				return m.reinit()
			}
		}
		m.beep.Tone(period, duty)
		m.buzzerOn = true
		m.contLatch = int(m.cfg.ContLatch)
	} else if m.buzzerOn {
		if m.contLatch > 0 {
			m.contLatch--
		} else {
			if m.dm.Display(m.contThresholdText(), hp3478.DispHideAnnunciators) != nil {
				return m.reinit()
			}
			m.beepOff()
		}
	}

	// Come back quickly: at 3.5 digits the meter produces ~78 readings
	// a second and the reading cadence is the gating factor.
	return 2
}

/* Auto hold */

const (
	ahldNop = iota
	ahldLock
	ahldUnlock
	ahldError
)

func (m *Machine) autoHoldInit() bool {
	m.nStable = 0
	if !m.saveState() {
		return false
	}
	return m.dm.Cmd("M21T1", 0) == nil
}

// autoHoldMinValue is the magnitude floor below which a reading never
// locks: noise near zero would otherwise hold forever. DCV up to the 3V
// range measures real small signals, so it has no floor.
func autoHoldMinValue(st byte) int32 {
	if st&hp3478.StFunc == hp3478.StFuncDCV &&
		st&hp3478.StRange <= hp3478.StRange3 {
		return 0
	}
	switch st & (hp3478.StFunc | hp3478.StDigits) {
	case hp3478.StFuncDCV | hp3478.StDigits5,
		hp3478.StFuncACV | hp3478.StDigits5,
		hp3478.StFuncDCA | hp3478.StDigits5,
		hp3478.StFuncACA | hp3478.StDigits5:
		return 10
	case hp3478.StFuncDCV | hp3478.StDigits4,
		hp3478.StFuncACV | hp3478.StDigits4,
		hp3478.StFuncDCA | hp3478.StDigits4,
		hp3478.StFuncACA | hp3478.StDigits4:
		return 100
	case hp3478.StFuncDCV | hp3478.StDigits3,
		hp3478.StFuncACV | hp3478.StDigits3,
		hp3478.StFuncDCA | hp3478.StDigits3,
		hp3478.StFuncACA | hp3478.StDigits3:
		return 1000
	default:
		return 0
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// autoHoldProcess tracks consecutive readings. After autoHoldStableN
// readings within autoHoldStableD counts of each other (and above the
// function floor) it locks and shows the held value; a reading outside
// the window or a mode change unlocks.
func (m *Machine) autoHoldProcess(locked bool, sb byte) int {
	if sb&hp3478.SBDReady == 0 {
		return ahldNop
	}
	r, err := m.dm.Reading(hp3478.CmdCont)
	if err != nil {
		return ahldError
	}

	nstab := m.nStable
	ret := ahldNop
	st := m.saved[0]

	if r.Exp != m.ahRef.Exp || r.Dot != m.ahRef.Dot || r.Exp == 9 {
		// Different scale: check whether the mode actually changed
		// or the meter just autoranged.
		s, err := m.dm.Status()
		if err != nil {
			return ahldError
		}
		mask := byte(hp3478.StFunc | hp3478.StDigits)
		if m.saved[1]&hp3478.StAutoRange == 0 {
			mask |= hp3478.StRange
		}
		if (s[0]^st)&mask != 0 || (s[1]^m.saved[1])&hp3478.StAutoRange != 0 {
			if locked {
				ret = ahldUnlock
				locked = false
			}
			m.saved[1] = s[1]
		}
		m.saved[0] = s[0]
		st = s[0]
	} else if nstab != 0 &&
		abs32(r.Value-m.ahRef.Value) < autoHoldStableD &&
		abs32(r.Value) >= autoHoldMinValue(st) {
		nstab++
		if nstab == autoHoldStableN {
			if locked &&
				abs32(r.Value-m.ahLock.Value) < autoHoldStableD &&
				r.Exp == m.ahLock.Exp && r.Dot == m.ahLock.Dot {
				// Stable at the same value, don't beep again.
				m.nStable = 0
				return ahldNop
			}
			m.ahLock = m.ahRef
			m.nStable = 0
			if m.displayReading(m.ahRef, st, '=', 0) != nil {
				return ahldError
			}
			return ahldLock
		}
		m.nStable = nstab
		return ahldNop
	}

	// A reading outside the stability window drops the hold and goes
	// back to tracking; one inside it keeps the held display.
	if locked {
		if r.Exp == m.ahRef.Exp && r.Dot == m.ahRef.Dot &&
			abs32(r.Value-m.ahRef.Value) < autoHoldStableD {
			m.ahRef = r
			m.nStable = 1
			return ahldNop
		}
		ret = ahldUnlock
	}

	m.ahRef = r
	m.nStable = 1

	if m.displayReading(r, st, '?', 0) != nil {
		return ahldError
	}
	return ret
}

/* Min/max */

const (
	mmMin      byte = 1 << 0
	mmMax      byte = 1 << 1
	mmDispMask byte = 12
	mmDispMin  byte = 1 << 2
	mmDispMax  byte = 1 << 3
)

func (m *Machine) minmaxInit() bool {
	if !m.saveState() {
		return false
	}
	if m.dm.Cmd("M21", 0) != nil {
		return false
	}
	m.mmState = 0
	return true
}

// minmaxDetectKey infers a front panel SRQ key press while SRQ is
// asserted: clearing the mask drops a data-ready SRQ within ~250us, so if
// the line is still asserted after the settle it was the key.
func (m *Machine) minmaxDetectKey() bool {
	if !m.dm.SRQ() {
		return false
	}
	if m.dm.Cmd("M20", hp3478.CmdCont) != nil {
		slog.Debug("minmax: M20 failed")
		return true
	}
	m.dm.DelayUs(400) // SRQ clears ~250us after the mask update
	return m.dm.SRQ()
}

func (m *Machine) minmaxHandleData(r hp3478.Reading) byte {
	s := m.mmState
	var upd byte

	if !r.Overload() {
		if s&mmMin == 0 || hp3478.Cmp(r, m.mmMin) < 0 {
			m.mmMin = r
			upd |= mmMin
		}
		if s&mmMax == 0 || hp3478.Cmp(r, m.mmMax) > 0 {
			m.mmMax = r
			upd |= mmMax
		}
	}
	m.mmState = s | upd
	return upd
}

// minmaxDisplayData advances the display cycle on a key press
// (live -> min -> max -> live) and refreshes the shown extremum when it
// was just updated.
func (m *Machine) minmaxDisplayData(upd byte, keyPress bool) bool {
	s := m.mmState
	flags := byte(hp3478.CmdCont | hp3478.DispHideAnnunciators)

	switch s & mmDispMask {
	case 0:
		if !keyPress {
			break
		}
		m.mmState = (s &^ mmDispMask) | mmDispMin
		if s&mmMin == 0 {
			return m.dm.Display("NO MIN", flags) == nil
		}
		return m.displayReading(m.mmMin, m.saved[0], '-', flags) == nil
	case mmDispMin:
		if !keyPress {
			if upd&mmMin == 0 {
				break
			}
			return m.displayReading(m.mmMin, m.saved[0], '-', flags) == nil
		}
		m.mmState = (s &^ mmDispMask) | mmDispMax
		if s&mmMax == 0 {
			return m.dm.Display("NO MAX", flags) == nil
		}
		return m.displayReading(m.mmMax, m.saved[0], '+', flags) == nil
	case mmDispMax:
		if !keyPress {
			if upd&mmMax == 0 {
				break
			}
			return m.displayReading(m.mmMax, m.saved[0], '+', flags) == nil
		}
		m.mmState = s &^ mmDispMask
		return m.dm.Cmd("D1", hp3478.CmdCont) == nil
	}
	return true
}

// minmaxProcess runs one min/max event. This state polls on its own
// because key detection needs the mask toggle with the settle delay.
func (m *Machine) minmaxProcess() uint16 {
	key := m.minmaxDetectKey()

	sb, err := m.dm.SRQStatus()
	if err != nil {
		return m.reinit()
	}
	if sb&hp3478.SBPwrSRQ != 0 {
		m.applyInitMode()
		return m.reinit()
	}
	if key && sb&hp3478.SBFrpSRQ == 0 {
		// Key press seen on the line but not in the status byte:
		// stale, leave min/max entirely.
		if m.dm.Cmd("KM20D1", 0) != nil {
			return m.reinit()
		}
		m.state = StateIdle
		return Never
	}
	var upd byte
	if sb&hp3478.SBDReady != 0 {
		reading, err := m.dm.Reading(hp3478.CmdCont)
		if err != nil {
			return m.reinit()
		}
		upd = m.minmaxHandleData(reading)
	}
	if !m.minmaxDisplayData(upd, sb&hp3478.SBFrpSRQ != 0) {
		return m.reinit()
	}
	// Restore the mask disturbed by the key detector.
	if m.dm.Cmd("M21", hp3478.CmdCont) != nil {
		return m.reinit()
	}
	return Never
}
