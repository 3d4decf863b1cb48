/*
 * hp3478ext - Extension mode state machine.
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

// Package ext drives the HP 3478A through the extended measurement modes.
// A single event driven machine reacts to SRQ edges and timeouts from the
// main loop; the front panel SRQ key is the user's only input.
package ext

import (
	"fmt"
	"log/slog"

	"github.com/KIrill-ka/hp3478ext/config"
	"github.com/KIrill-ka/hp3478ext/hp3478"
	"github.com/KIrill-ka/hp3478ext/hw"
)

// Events delivered by the main loop.
const (
	EvTimeout byte = 1 << 0
	EvSRQ     byte = 1 << 1
	EvUART    byte = 1 << 2
	EvDisable byte = 1 << 3
	EvEnable  byte = 1 << 4
)

// Timeout values returned by Handle. Never blocks until the next SRQ,
// Cont keeps the previous deadline.
const (
	Never uint16 = 0xffff
	Cont  uint16 = 0xfffe
)

// Machine states.
const (
	StateDisabled = iota
	StateInit
	StateIdle
	StateRelSettle
	StateRelActive
	StateMenu
	StateXOhm
	StateCont
	StateMinMax
	StateAutoHold
	StateAutoHoldLock
	StateDiode
	StateTemp
)

// Auto-hold stability: this many consecutive readings within this many
// LSB counts lock the display.
const (
	autoHoldStableN = 5
	autoHoldStableD = 3
)

const initRetries = 3

// Meter is the protocol surface the machine drives. *hp3478.Dev
// implements it.
type Meter interface {
	Cmd(cmd string, flags byte) error
	SRQStatus() (byte, error)
	Status() ([5]byte, error)
	Reading(flags byte) (hp3478.Reading, error)
	Display(text string, flags byte) error
	SRQ() bool
	DelayUs(us int)
	Trail() [4]byte
}

// Machine is the extension mode controller.
type Machine struct {
	dm   Meter
	beep hw.Beeper
	cfg  *config.Config

	state     int
	initFails int

	saved [2]byte // instrument state to restore on mode exit

	menuPos   int
	btnStage  int
	menuTicks int

	relMode byte
	relRef  hp3478.Reading

	xohmRef int32

	mmState byte
	mmMin   hp3478.Reading
	mmMax   hp3478.Reading

	ahRef    hp3478.Reading
	ahLock   hp3478.Reading
	nStable  int
	buzzerOn bool

	contDot   uint8
	contExp   int8
	contKnown bool
	contLatch int
}

func NewMachine(dm Meter, beep hw.Beeper, cfg *config.Config) *Machine {
	return &Machine{dm: dm, beep: beep, cfg: cfg, state: StateInit}
}

// State returns the current machine state.
func (m *Machine) State() int { return m.state }

// reinit schedules a re-initialization after a transient failure.
func (m *Machine) reinit() uint16 {
	m.state = StateInit
	return 250
}

func (m *Machine) displayReading(r hp3478.Reading, st byte, ind byte, flags byte) error {
	return m.dm.Display(hp3478.FormatReading(r, st, ind), flags)
}

// beepOn starts the buzzer with the configured tone.
func (m *Machine) beepOn() {
	m.beep.Tone(m.cfg.BeepPeriod, m.cfg.BeepDuty)
	m.buzzerOn = true
}

func (m *Machine) beepOff() {
	m.beep.Off()
	m.buzzerOn = false
}

// applyInitMode reapplies the persisted startup mode after the meter
// reports a power-on SRQ.
func (m *Machine) applyInitMode() {
	if m.cfg.InitMode == 0 {
		return
	}
	st0 := byte(m.cfg.InitMode)
	st1 := byte(m.cfg.InitMode >> 8)
	if err := m.dm.Cmd(hp3478.ModeCommand(st0, st1), 0); err != nil {
		slog.Debug("init mode reapply failed", "err", err)
	}
}

// Handle runs one event through the machine and returns the next timeout
// in milliseconds.
func (m *Machine) Handle(ev byte) uint16 {
	var sb byte

	if m.state == StateDisabled {
		if ev&EvEnable == 0 {
			return Never
		}
		m.state = StateInit
	}

	if ev&EvDisable != 0 {
		switch m.state {
		case StateAutoHold, StateAutoHoldLock:
			m.beepOff()
			m.dm.Cmd("M00D1T1", 0)
		case StateDiode, StateCont:
			m.modeRestore()
			m.dm.Cmd("M00D1", 0)
		default:
			m.dm.Cmd("M00D1", 0)
		}
		m.state = StateDisabled
		return Never
	}

	// Every state except init and the two that poll on their own
	// starts with a serial poll; the status byte drives what follows.
	if m.state != StateInit && m.state != StateMenu && m.state != StateMinMax {
		var err error
		sb, err = m.dm.SRQStatus()
		if err != nil {
			return m.reinit()
		}
		if sb&hp3478.SBPwrSRQ != 0 {
			// The meter lost power and rebooted.
			m.applyInitMode()
			return m.reinit()
		}
		if sb&hp3478.SBFrpSRQ != 0 {
			return m.handleKey(sb)
		}
	}

	switch m.state {
	case StateInit:
		if err := m.dm.Cmd("KM20", 0); err == nil {
			slog.Debug("init: ok")
			m.initFails = 0
			m.state = StateIdle
			return Never
		}
		m.initFails++
		if m.initFails >= initRetries {
			// Leave the machine quiescent with the failure trail
			// on the display, if the display will take it.
			t := m.dm.Trail()
			text := fmt.Sprintf("E:%02X%02X%02X%02X", t[0], t[1], t[2], t[3])
			m.dm.Display(text, hp3478.DispHideAnnunciators)
			slog.Error("init failed", "trail", text)
			return Never
		}
		return 2000 // retry initialization after 2 sec

	case StateIdle:
		if err := m.dm.Cmd("K", 0); err != nil {
			return m.reinit()
		}
		slog.Debug("idle: unexpected event", "ev", ev, "sb", sb)
		return Never

	case StateMenu:
		return m.menuDispatch(ev)

	case StateRelSettle:
		if ev&EvTimeout != 0 {
			// No reading arrived in time, fall back to auto hold.
			if !m.autoHoldInit() {
				return m.reinit()
			}
			m.state = StateAutoHold
			return Never
		}
		if sb&hp3478.SBDReady == 0 {
			return Cont
		}
		reading, err := m.dm.Reading(hp3478.CmdListen)
		if err != nil {
			return m.reinit()
		}
		if reading.Overload() {
			if !m.autoHoldInit() {
				return m.reinit()
			}
			m.state = StateAutoHold
			return Never
		}
		st, err := m.dm.Status()
		if err != nil {
			return m.reinit()
		}
		if !m.relStart(st[0], reading) {
			return m.reinit()
		}
		m.state = StateRelActive
		return Never

	case StateRelActive:
		if sb&hp3478.SBDReady != 0 {
			reading, err := m.dm.Reading(hp3478.CmdListen)
			if err != nil {
				return m.reinit()
			}
			if !m.relHandleData(reading) {
				if m.dm.Cmd("M20D1", 0) != nil {
					return m.reinit()
				}
				m.state = StateIdle
			}
		}
		return Never

	case StateAutoHold, StateAutoHoldLock:
		switch m.autoHoldProcess(m.state == StateAutoHoldLock, sb) {
		case ahldError:
			m.beepOff()
			return m.reinit()
		case ahldLock:
			m.beepOn()
			m.state = StateAutoHoldLock
			return 300
		case ahldUnlock:
			m.state = StateAutoHold
			m.beepOff()
			return Never
		default:
			if m.state == StateAutoHoldLock {
				if ev&EvTimeout != 0 {
					// Lock beep expired.
					m.beepOff()
					return Never
				}
				return Cont
			}
			return Never
		}

	case StateTemp:
		if sb&hp3478.SBDReady != 0 {
			reading, err := m.dm.Reading(hp3478.CmdListen)
			if err != nil {
				return m.reinit()
			}
			if m.dm.Cmd("K", hp3478.CmdCont) != nil {
				return m.reinit()
			}
			if !m.tempHandleData(reading) {
				return m.reinit()
			}
		}
		return Never

	case StateXOhm:
		if sb&hp3478.SBDReady != 0 {
			reading, err := m.dm.Reading(hp3478.CmdListen)
			if err != nil {
				return m.reinit()
			}
			if m.dm.Cmd("K", hp3478.CmdCont) != nil {
				return m.reinit()
			}
			if !m.xohmHandleData(reading) {
				return m.reinit()
			}
		}
		return Never

	case StateCont:
		return m.contProcess(sb)

	case StateDiode:
		if sb&hp3478.SBDReady != 0 {
			reading, err := m.dm.Reading(hp3478.CmdListen)
			if err != nil {
				return m.reinit()
			}
			if !m.diodeHandleData(reading) {
				return m.reinit()
			}
		}
		return Never

	case StateMinMax:
		return m.minmaxProcess()
	}
	return Never
}

// handleKey reacts to the front panel SRQ key, the universal "user wants
// something" signal. Depending on the state it opens the menu, captures a
// relative reference, or tears the current mode down.
func (m *Machine) handleKey(sb byte) uint16 {
	switch m.state {
	case StateAutoHold, StateAutoHoldLock:
		m.beepOff()
		m.dm.Cmd("KM20D1T1", 0)

	case StateIdle:
		var reading hp3478.Reading
		if sb&hp3478.SBDReady != 0 {
			var err error
			reading, err = m.dm.Reading(hp3478.CmdListen)
			if err != nil {
				slog.Debug("idle: get reading failed")
				return m.reinit()
			}
		}

		// K is required: serial poll doesn't clear status bits
		// immediately, so the next SRQ could still read as a front
		// panel key press.
		if m.dm.Cmd("K", hp3478.CmdCont) != nil {
			return m.reinit()
		}
		st, err := m.dm.Status()
		if err != nil {
			return m.reinit()
		}
		if st[1]&hp3478.StIntTrigger == 0 {
			// Externally triggered: the user wants relative mode.
			if sb&hp3478.SBDReady == 0 {
				if m.dm.Cmd("M21", 0) != nil {
					return m.reinit()
				}
				m.state = StateRelSettle
				return 1800
			}
			if reading.Overload() {
				if !m.autoHoldInit() {
					return m.reinit()
				}
				m.state = StateAutoHold
				return Never
			}

			if !m.relStart(st[0], reading) {
				return m.reinit()
			}
			m.state = StateRelActive
			return Never
		}

		if !m.menuInit(st[0], reading) {
			slog.Debug("idle: menu init failed")
			return m.reinit()
		}
		m.state = StateMenu
		return 100

	case StateCont, StateDiode:
		m.modeRestore()
		m.dm.Cmd("KM20D1", 0)

	default:
		m.dm.Cmd("KM20D1", 0)
	}
	m.state = StateIdle
	return Never
}
