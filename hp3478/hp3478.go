/*
 * hp3478ext - HP 3478A protocol layer.
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

// Package hp3478 talks to an HP 3478A bench multimeter over the GPIB
// transport: addressing, serial poll, typed commands, status and reading
// decode, and display writes.
package hp3478

import (
	"errors"
	"fmt"

	"github.com/KIrill-ka/hp3478ext/gpib"
)

// Status byte 3 / SRQ mask bits.
const (
	SBDReady = 1 << 0
	SBSynErr = 1 << 2
	SBIntErr = 1 << 3
	SBFrpSRQ = 1 << 4
	SBInvCal = 1 << 5
	SBSrqMsg = 1 << 6
	SBPwrSRQ = 1 << 7
)

// Status byte 0: resolution, range and function bit fields.
const (
	StDigits  = 3 << 0
	StDigits5 = 1 << 0
	StDigits4 = 2 << 0
	StDigits3 = 3 << 0

	StRange  = 7 << 2
	StRange1 = 1 << 2 // 30mV DC, 300mV AC, 30 ohm, 300mA, extended ohms
	StRange2 = 2 << 2 // 300mV DC, 3V AC, 300 ohm, 3A
	StRange3 = 3 << 2 // 3V DC, 30V AC, 3K ohm
	StRange4 = 4 << 2 // 30V DC, 300V AC, 30K ohm
	StRange5 = 5 << 2 // 300V DC, 300K ohm
	StRange6 = 6 << 2 // 3M ohm
	StRange7 = 7 << 2 // 30M ohm

	StFunc      = 7 << 5
	StFuncDCV   = 1 << 5
	StFuncACV   = 2 << 5
	StFunc2WOhm = 3 << 5
	StFunc4WOhm = 4 << 5
	StFuncDCA   = 5 << 5
	StFuncACA   = 6 << 5
	StFuncXOhm  = 7 << 5
)

// Status byte 1: mode flags.
const (
	StIntTrigger = 1 << 0
	StAutoRange  = 1 << 1
	StAutoZero   = 1 << 2
	St50Hz       = 1 << 3
	StFrontInput = 1 << 4
	StCalEnabled = 1 << 5
	StExtTrigger = 1 << 6
)

// Flags for the protocol operations.
const (
	CmdListen = 1 << 0 // stay addressed as listener (meter keeps talking)
	CmdTalk   = 1 << 1 // stay addressed as talker (meter keeps listening)
	CmdRemote = 1 << 2 // leave REN asserted
	CmdCont   = CmdRemote | CmdTalk | CmdListen

	DispHideAnnunciators = 1 << 3
	CmdNoLF              = 1 << 4 // do not terminate the command with LF
)

// DisplayWidth is the visible field of the D2/D3 command: sign cell plus
// twelve character cells.
const DisplayWidth = 13

// Error codes recorded in the failure trail, one per failing operation.
const (
	EcAddress  = 0x11 // addressing the meter as listener failed
	EcData     = 0x12 // command bytes not accepted
	EcUnlisten = 0x13
	EcUntalk   = 0x14
	EcPollCmd  = 0x21 // serial poll command sequence failed
	EcPollData = 0x22 // no status byte during serial poll
	EcListen   = 0x31 // addressing ourselves as listener failed
	EcReceive  = 0x32 // read produced no EOI-terminated data
	EcShort    = 0x41 // B returned fewer than 5 bytes
	EcParse    = 0x42 // reading did not parse
	EcDisplay  = 0x43 // display string over the field width
)

var (
	ErrTimeout  = errors.New("hp3478: bus timeout")
	ErrProtocol = errors.New("hp3478: protocol violation")
)

// Bus is the slice of the GPIB controller the protocol layer drives.
// *gpib.Controller implements it.
type Bus interface {
	Transmit(buf []byte, end byte) int
	TransmitOK(buf []byte, end byte) bool
	Receive(buf []byte, stop byte) (int, byte)
	SetATN(assert bool)
	SetREN(assert bool)
	Talk()
	Listen()
	SRQ() bool
	Phase() int
	SetPhase(phase int)
	DelayUs(us int)
}

// Addresses supplies the primary addresses lazily, so shell option changes
// take effect on the next operation.
type Addresses interface {
	ControllerAddr() byte
	MeterAddr() byte
}

// Dev is a 3478A behind a GPIB controller.
type Dev struct {
	bus  Bus
	addr Addresses

	// Failure trail: up to four codes, in the order they were recorded
	// since the last Trail call.
	// The extension machine shows it as E:HHHHHHHH after a sticky
	// failure.
	trail [4]byte
}

func New(bus Bus, addr Addresses) *Dev {
	return &Dev{bus: bus, addr: addr}
}

// Bus returns the underlying controller slice for layers that need direct
// line access (SRQ sampling, settle delays).
func (d *Dev) Bus() Bus { return d.bus }

// SRQ samples the service request line directly.
func (d *Dev) SRQ() bool { return d.bus.SRQ() }

// DelayUs waits out a settle interval between bus operations.
func (d *Dev) DelayUs(us int) { d.bus.DelayUs(us) }

// fail records code at the innermost free trail level and tears the
// session down to the unaddressed state with ATN and REN released.
func (d *Dev) fail(code byte) error {
	for i := range d.trail {
		if d.trail[i] == 0 {
			d.trail[i] = code
			break
		}
	}
	d.bus.SetATN(false)
	d.bus.SetREN(false)
	d.bus.SetPhase(gpib.PhaseIdle)
	return fmt.Errorf("%w (code %02x)", ErrTimeout, code)
}

// Trail returns the recorded failure codes and clears them.
func (d *Dev) Trail() [4]byte {
	t := d.trail
	d.trail = [4]byte{}
	return t
}

// Cmd sends an ASCII command to the meter. Unless flags keep the session
// open it finishes with an unlisten so the next operation re-addresses
// from a known state. Every command is LF terminated (unless CmdNoLF) so
// the handshake waits for the meter to actually take the message; a
// command aborted by ATN may otherwise be latched but never processed.
func (d *Dev) Cmd(cmd string, flags byte) error {
	st := d.bus.Phase()

	d.bus.SetREN(true)
	if st != gpib.PhaseTalk {
		if st == gpib.PhaseListen {
			d.bus.Talk()
		}
		addr := []byte{
			d.addr.MeterAddr() + gpib.ListenAddr,
			d.addr.ControllerAddr() + gpib.TalkAddr,
		}
		d.bus.SetATN(true)
		if !d.bus.TransmitOK(addr, 0) {
			return d.fail(EcAddress)
		}
		d.bus.SetATN(false)
	}
	end := byte(gpib.EndLF)
	if flags&CmdNoLF != 0 {
		end = 0
	}
	if !d.bus.TransmitOK([]byte(cmd), end) {
		return d.fail(EcData)
	}
	if flags&CmdRemote == 0 {
		d.bus.SetREN(false)
	}
	if flags&CmdTalk == 0 {
		d.bus.SetATN(true)
		if !d.bus.TransmitOK([]byte{gpib.CmdUNL}, 0) {
			return d.fail(EcUnlisten)
		}
		d.bus.SetATN(false)
		d.bus.SetPhase(gpib.PhaseIdle)
	} else {
		d.bus.SetPhase(gpib.PhaseTalk)
	}
	return nil
}

// SRQStatus serial polls the meter and returns its status byte. The poll
// clears SRQ immediately, but the status bits linger for a while; use the
// K command when a deterministic clear is needed.
func (d *Dev) SRQStatus() (byte, error) {
	if d.bus.Phase() == gpib.PhaseListen {
		d.bus.Talk()
	}
	d.bus.SetPhase(gpib.PhaseIdle)

	cmd := []byte{
		gpib.CmdSPE,
		d.addr.MeterAddr() + gpib.TalkAddr,
		d.addr.ControllerAddr() + gpib.ListenAddr,
	}
	d.bus.SetATN(true)
	if !d.bus.TransmitOK(cmd, 0) {
		d.bus.Talk()
		return 0, d.fail(EcPollCmd)
	}
	d.bus.SetATN(false)
	d.bus.Listen()
	var sb [1]byte
	n, _ := d.bus.Receive(sb[:], 0)
	if n != 1 {
		d.bus.Talk()
		return 0, d.fail(EcPollData)
	}
	d.bus.Talk()
	d.bus.SetATN(true)
	if !d.bus.TransmitOK([]byte{gpib.CmdSPD, gpib.CmdUNT}, 0) {
		return 0, d.fail(EcPollCmd)
	}
	d.bus.SetATN(false)
	return sb[0], nil
}

// Read addresses the meter as talker and reads until EOI. Unless
// CmdListen is set the meter is untalked afterwards.
func (d *Dev) Read(buf []byte, flags byte) (int, error) {
	if d.bus.Phase() != gpib.PhaseListen {
		addr := []byte{
			d.addr.ControllerAddr() + gpib.ListenAddr,
			d.addr.MeterAddr() + gpib.TalkAddr,
		}
		d.bus.SetATN(true)
		if !d.bus.TransmitOK(addr, 0) {
			return 0, d.fail(EcListen)
		}
		d.bus.SetATN(false)
		d.bus.Listen()
	}
	n, reason := d.bus.Receive(buf, gpib.EndEOI)
	if reason != gpib.EndEOI {
		d.bus.Talk()
		return n, d.fail(EcReceive)
	}
	if flags&CmdListen == 0 {
		d.bus.Talk()
		d.bus.SetATN(true)
		if !d.bus.TransmitOK([]byte{gpib.CmdUNT}, 0) {
			return n, d.fail(EcUntalk)
		}
		d.bus.SetATN(false)
		d.bus.SetPhase(gpib.PhaseIdle)
	} else {
		d.bus.SetPhase(gpib.PhaseListen)
	}
	return n, nil
}

// Status issues B and returns the five status bytes.
func (d *Dev) Status() ([5]byte, error) {
	var st [5]byte
	if err := d.Cmd("B", CmdTalk); err != nil {
		return st, err
	}
	n, err := d.Read(st[:], 0)
	if err != nil {
		return st, err
	}
	if n != 5 {
		d.fail(EcShort)
		return st, fmt.Errorf("%w: B returned %d bytes", ErrProtocol, n)
	}
	return st, nil
}

// Reading reads and parses one measurement.
func (d *Dev) Reading(flags byte) (Reading, error) {
	var buf [13]byte
	n, err := d.Read(buf[:], flags)
	if err != nil {
		return Reading{}, err
	}
	r, ok := ParseReading(buf[:n])
	if !ok {
		d.fail(EcParse)
		return Reading{}, fmt.Errorf("%w: bad reading %q", ErrProtocol, buf[:n])
	}
	return r, nil
}

// Display writes text to the meter's display. D2 keeps the annunciators,
// D3 blanks them. Text longer than the field is rejected; shorter text is
// padded so stale characters don't linger.
func (d *Dev) Display(text string, flags byte) error {
	if len(text) > DisplayWidth {
		d.fail(EcDisplay)
		return fmt.Errorf("%w: display text %d chars", ErrProtocol, len(text))
	}
	for len(text) < DisplayWidth-1 {
		text += " "
	}
	sel := "D2"
	if flags&DispHideAnnunciators != 0 {
		sel = "D3"
	}
	if err := d.Cmd(sel, CmdCont|CmdNoLF); err != nil {
		return err
	}
	if err := d.Cmd(text, CmdCont|CmdNoLF); err != nil {
		return err
	}
	// Trailing LF finishes the D command and drops the keep-open flags
	// the caller didn't ask for.
	return d.Cmd("", flags)
}

// rangeLetter maps the range code of status byte 0 to the argument of the
// R command. The letter depends on the function: R0 is 3V on DCV and ACV,
// 3A on the current functions, and ranges start at R1 for ohms.
func rangeLetter(function, rangeCode byte) int {
	switch function {
	case StFuncDCV:
		return int(rangeCode) - 3
	case StFuncACV, StFuncDCA, StFuncACA:
		return int(rangeCode) - 2
	default:
		return int(rangeCode)
	}
}

// ModeCommand builds the command string that restores the meter to the
// function/range/resolution/autozero/trigger state described by status
// bytes 0 and 1.
func ModeCommand(st0, st1 byte) string {
	var cmd []byte

	if st1&StAutoRange != 0 {
		cmd = append(cmd, 'R', 'A')
	} else {
		r := rangeLetter(st0&StFunc, (st0&StRange)>>2)
		cmd = append(cmd, 'R')
		if r < 0 {
			cmd = append(cmd, '-')
			r = -r
		}
		cmd = append(cmd, byte('0'+r))
	}

	cmd = append(cmd, 'N')
	switch st0 & StDigits {
	case StDigits5:
		cmd = append(cmd, '5')
	case StDigits4:
		cmd = append(cmd, '4')
	default:
		cmd = append(cmd, '3')
	}

	cmd = append(cmd, 'F', byte('0'+(st0&StFunc)>>5))

	cmd = append(cmd, 'Z')
	if st1&StAutoZero != 0 {
		cmd = append(cmd, '1')
	} else {
		cmd = append(cmd, '0')
	}

	cmd = append(cmd, 'T')
	switch {
	case st1&StIntTrigger != 0:
		cmd = append(cmd, '1')
	case st1&StExtTrigger != 0:
		cmd = append(cmd, '3')
	default:
		cmd = append(cmd, '4')
	}
	return string(cmd)
}

// RestoreCommand rebuilds only range, resolution and autozero, the parts
// the extended modes disturb.
func RestoreCommand(st0, st1 byte) string {
	var cmd [6]byte

	cmd[0] = 'R'
	if st1&StAutoRange != 0 {
		cmd[1] = 'A'
	} else {
		cmd[1] = '0' + (st0&StRange)>>2
	}
	cmd[2] = 'N'
	switch st0 & StDigits {
	case StDigits5:
		cmd[3] = '5'
	case StDigits4:
		cmd[3] = '4'
	default:
		cmd[3] = '3'
	}
	cmd[4] = 'Z'
	if st1&StAutoZero != 0 {
		cmd[5] = '1'
	} else {
		cmd[5] = '0'
	}
	return string(cmd[:])
}
