/*
 * hp3478ext - Front panel menu.
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
	"log/slog"

	"github.com/KIrill-ka/hp3478ext/hp3478"
)

// Menu outcomes and entries. The SRQ key advances the cursor; the LOCAL
// key selects the highlighted entry.
const (
	menuError = 1 + iota
	menuDone
	menuNop
	menuWait
	menuXOhm
	menuBeep     // continuity test
	menuXOhmBeep // continuity test entered from the extended ohms path
	menuMinMax
	menuAutoHold
	menuOhmMinMax
	menuOhmAutoHold
	menuTemp
	menuDiode
	menuPresetSave
	menuPresetLoad
)

// The menu gives up and returns to idle after 30s of no key presses;
// the button detector ticks every 100ms.
const menuIdleTicks = 300

// menuNext picks the entry after pos. Position 0 asks for the entry
// point, which depends on the measurement function the meter is in.
func menuNext(st0 byte, r hp3478.Reading, pos int) int {
	switch pos {
	case 0:
		if st0&hp3478.StFunc == hp3478.StFunc2WOhm {
			if r.Exp == 9 {
				return menuXOhmBeep
			}
			return menuBeep
		}
		if st0&hp3478.StFunc == hp3478.StFuncXOhm {
			return menuXOhm
		}
		return menuAutoHold
	case menuXOhmBeep:
		return menuXOhm
	case menuXOhm, menuBeep:
		return menuDiode
	case menuDiode:
		return menuOhmAutoHold
	case menuOhmAutoHold:
		return menuOhmMinMax
	case menuOhmMinMax:
		return menuTemp
	case menuAutoHold:
		return menuMinMax
	case menuTemp, menuMinMax:
		return menuPresetSave
	case menuPresetSave:
		return menuPresetLoad
	case menuPresetLoad:
		return menuDone
	}
	return menuDone
}

func (m *Machine) menuShow(pos int) bool {
	var s string
	switch pos {
	case menuOhmMinMax, menuMinMax:
		s = "M: MINMAX"
	case menuXOhmBeep, menuBeep:
		s = "M: CONT"
	case menuXOhm:
		s = "M: XOHM"
	case menuOhmAutoHold, menuAutoHold:
		s = "M: AUTOHOLD"
	case menuDiode:
		s = "M: DIODE"
	case menuTemp:
		s = "M: TEMP"
	case menuPresetSave:
		s = "M: SAVE"
	case menuPresetLoad:
		s = "M: LOAD"
	}
	return m.dm.Display(s, hp3478.DispHideAnnunciators|hp3478.CmdCont) == nil
}

// menuRestartBtnDetect arms LOCAL key detection: a syntactically invalid
// command raises SYNERR in the status byte. LOCAL can't be sensed
// directly; it reveals itself because the meter in local state silently
// drops our mask commands, so a toggled SYNERR fails to reappear.
func (m *Machine) menuRestartBtnDetect() bool {
	if m.dm.Cmd("A", hp3478.CmdRemote|hp3478.CmdTalk) != nil {
		return false
	}
	m.btnStage = 0
	return true
}

func (m *Machine) menuInit(st0 byte, r hp3478.Reading) bool {
	m.menuPos = menuNext(st0, r, 0)
	m.menuTicks = 0
	if !m.menuShow(m.menuPos) {
		return false
	}
	return m.menuRestartBtnDetect()
}

// menuProcess runs one step of the menu machine and returns a menu
// outcome: an entry selection, menuWait/menuNop to keep polling, or
// menuDone/menuError.
func (m *Machine) menuProcess(ev byte) int {
	switch m.btnStage {
	case 0:
		if ev&(EvTimeout|EvSRQ) != 0 && m.dm.SRQ() {
			break
		}
		if ev&EvTimeout != 0 {
			if m.menuTicks++; m.menuTicks >= menuIdleTicks {
				return menuDone
			}
			m.btnStage = 1
			if m.dm.Cmd("M24", hp3478.CmdRemote|hp3478.CmdTalk) != nil {
				return menuError
			}
			return menuWait
		}
		return menuNop
	case 1:
		if ev&(EvTimeout|EvSRQ) != 0 && !m.dm.SRQ() {
			break
		}
		if ev&EvTimeout != 0 {
			if m.menuTicks++; m.menuTicks >= menuIdleTicks {
				return menuDone
			}
			m.btnStage = 0
			if m.dm.Cmd("M20", hp3478.CmdRemote|hp3478.CmdTalk) != nil {
				return menuError
			}
			return menuWait
		}
		return menuNop
	}

	// SRQ did not follow the commanded mask: a key was pressed, find
	// out which.
	sb, err := m.dm.SRQStatus()
	if err != nil {
		return menuError
	}
	if m.dm.Cmd("KM20", 0) != nil {
		return menuError
	}
	if sb&hp3478.SBFrpSRQ != 0 {
		m.menuTicks = 0
		m.menuPos = menuNext(0, hp3478.Reading{}, m.menuPos)
		if m.menuPos == menuDone {
			return menuDone
		}
		if !m.menuShow(m.menuPos) {
			return menuError
		}
	} else {
		// SYNERR did not reappear: the LOCAL key was pressed,
		// select the highlighted entry.
		return m.menuPos
	}

	m.menuRestartBtnDetect()
	return menuWait
}

// menuDispatch maps a selected menu entry to its mode.
func (m *Machine) menuDispatch(ev byte) uint16 {
	switch sel := m.menuProcess(ev); sel {
	case menuNop:
		return Cont
	case menuWait:
		return 100
	case menuDone:
		slog.Debug("menu: idle")
		m.dm.Cmd("D1", 0)
		m.state = StateIdle
		return Never
	case menuBeep, menuXOhmBeep:
		slog.Debug("menu: cont")
		m.state = StateCont
		if !m.contInit() {
			return m.reinit()
		}
		return Never
	case menuXOhm:
		slog.Debug("menu: xohm")
		m.state = StateXOhm
		if !m.xohmInit() {
			return m.reinit()
		}
		return Never
	case menuMinMax, menuOhmMinMax:
		slog.Debug("menu: minmax")
		m.state = StateMinMax
		if !m.minmaxInit() {
			return m.reinit()
		}
		return Never
	case menuAutoHold, menuOhmAutoHold:
		slog.Debug("menu: autohold")
		m.state = StateAutoHold
		if !m.autoHoldInit() {
			return m.reinit()
		}
		return Never
	case menuDiode:
		slog.Debug("menu: diode")
		m.state = StateDiode
		if !m.diodeInit() {
			return m.reinit()
		}
		return Never
	case menuTemp:
		slog.Debug("menu: temp")
		m.state = StateTemp
		if !m.tempInit() {
			return m.reinit()
		}
		return Never
	case menuPresetSave:
		slog.Debug("menu: preset save")
		if !m.presetSave() {
			return m.reinit()
		}
		m.state = StateIdle
		return Never
	case menuPresetLoad:
		slog.Debug("menu: preset load")
		if !m.presetLoad() {
			return m.reinit()
		}
		m.state = StateIdle
		return Never
	default:
		slog.Debug("menu: error")
		return m.reinit()
	}
}

// presetSave stores the meter's current mode as the startup preset.
func (m *Machine) presetSave() bool {
	st, err := m.dm.Status()
	if err != nil {
		return false
	}
	mode := uint16(st[0]) | uint16(st[1])<<8
	if m.cfg.Set('M', mode, true) != nil {
		return false
	}
	if m.dm.Display("SAVED", hp3478.DispHideAnnunciators) != nil {
		return false
	}
	return m.dm.Cmd("D1", 0) == nil
}

// presetLoad applies the stored startup preset.
func (m *Machine) presetLoad() bool {
	if m.cfg.InitMode == 0 {
		return m.dm.Cmd("D1", 0) == nil // nothing stored
	}
	st0 := byte(m.cfg.InitMode)
	st1 := byte(m.cfg.InitMode >> 8)
	if m.dm.Cmd(hp3478.ModeCommand(st0, st1), 0) != nil {
		return false
	}
	return m.dm.Cmd("D1", 0) == nil
}
