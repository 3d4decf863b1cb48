/*
 * hp3478ext - Shell command interpreter.
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

// Package shell implements the line oriented command language on the
// serial side: single letter commands for raw GPIB traffic, bus control
// and option management.
package shell

import (
	"github.com/KIrill-ka/hp3478ext/config"
	"github.com/KIrill-ka/hp3478ext/gpib"
	"github.com/KIrill-ka/hp3478ext/hw"
	"github.com/KIrill-ka/hp3478ext/uart"
)

const gpibBufSize = 127

const help = "\r\n" +
	"hp3478ext GPIB-UART converter\r\n" +
	"Transmission commands\r\n" +
	"  C  Send ASCII command\r\n" +
	"  D  Send/receive ASCII data\r\n" +
	"  THC Send HEX command\r\n" +
	"  THD Send*/receive** HEX data\r\n" +
	"  TBD Send/receive** binary data\r\n" +
	"  P Continous read (plotter mode), <ESC> to exit\r\n" +
	"GPIB control\r\n" +
	"  R Set REMOTE mode (REN true)\r\n" +
	"  L Set LOCAL mode (REN false)\r\n" +
	"  I Generate IFC pulse\r\n" +
	"Other commands\r\n" +
	"  S Get REN/SRQ/LISTEN state (1 if true)\r\n" +
	"  O Get/set an option (O? for list)\r\n" +
	"  H Command history\r\n\r\n" +
	"* Add ; at the end to disable EOI\r\n" +
	"** You can specify length in hex after the command (up to 7f)\r\n\r\n"

const optHelp = "\r\n" +
	"O<opt> Show current value\r\n" +
	"O<opt><val> Set option value\r\n" +
	"O<opt><val>w Set option value and write to EEPROM\r\n" +
	"<opt>:\r\n" +
	"  I Interactive mode (0 off, 1 on)\r\n" +
	"  C Converter GPIB address\r\n" +
	"  D HP3478A GPIB address\r\n" +
	"  T Transmit end of line*\r\n" +
	"  R Receive end of line*\r\n" +
	"  X HP3478A extension mode (0 off, 1 on)\r\n" +
	"  B Baud rate (0=115200, 2=500K, 3=1M, 4=2M)\r\n" +
	"  M Initial mode word (applied after power-on)\r\n" +
	"  P Buzzer period  U Buzzer duty\r\n" +
	"  G Continuity range  Q Continuity threshold  K Continuity latch\r\n" +
	"  V/W/Y/Z/S/A Continuity beep break-points\r\n" +
	"  0 Set defaults for interactive operation\r\n" +
	"  1 Set defaults for non interactive\r\n\r\n" +
	"* ORed bits: 4=EOI, 2=<LF>, 1=<CR>\r\n\r\n"

// Shell binds the command interpreter to its collaborators.
type Shell struct {
	port *uart.Port
	ctl  *gpib.Controller
	cfg  *config.Config
	led  hw.LED
	clk  hw.Clock

	// setBaud reopens the serial device at the new rate after OB..w.
	setBaud func(code byte)

	ed editor
}

func New(port *uart.Port, ctl *gpib.Controller, cfg *config.Config, led hw.LED, clk hw.Clock, setBaud func(code byte)) *Shell {
	s := &Shell{port: port, ctl: ctl, cfg: cfg, led: led, clk: clk, setBaud: setBaud}
	s.ed.out = s
	return s
}

// lineOut for the editor.
func (s *Shell) Tx(b byte)                  { s.port.Tx(b) }
func (s *Shell) Write(b []byte) (int, error) { return s.port.Write(b) }
func (s *Shell) echoOn() bool               { return s.cfg.Echo != 0 }
func (s *Shell) prompt()                    { s.port.Printf("<GPIB> ") }

// Prompt starts the line editor, printing the prompt when echo is on.
func (s *Shell) Prompt() {
	s.ed.feed(0)
}

// HandleByte feeds one received byte through the line editor and runs the
// command when the line is complete.
func (s *Shell) HandleByte(b byte) {
	cmd := s.ed.feed(b)
	if cmd != 0 {
		s.run(cmd, s.ed.line())
		s.ed.reset()
		s.ed.feed(0) // prepare for the next command
	}
}

// RunLine executes a complete command line (the local console path).
func (s *Shell) RunLine(line string) {
	if line == "" {
		return
	}
	s.run(upper(line[0]), []byte(line))
}

func (s *Shell) run(cmd byte, line []byte) {
	switch cmd {
	case 'D': // send/receive ASCII
		if s.ctl.Phase() == gpib.PhaseListen {
			s.receiveASCII()
			break
		}
		n := s.ctl.Transmit(line[1:], s.cfg.EndTX)
		if n == gpib.ExpectedLen(len(line)-1, s.cfg.EndTX) {
			s.port.Printf("OK\r\n")
		} else {
			s.port.Printf("TIMEOUT %d\r\n", n)
		}

	case 'C': // send ASCII bus command
		s.stateFromCmd(line[1:])

		s.ctl.Talk()
		s.ctl.SetATN(true)
		n := s.ctl.Transmit(line[1:], 0)
		if n == len(line)-1 {
			s.port.Printf("OK\r\n")
		} else {
			s.port.Printf("TIMEOUT %d\r\n", n)
		}
		s.ctl.SetATN(false)

		if s.ctl.Phase() == gpib.PhaseListen {
			s.ctl.Listen()
		}

	case 'R':
		s.ctl.SetREN(true)
		s.port.Printf("OK\r\n")

	case 'L':
		s.ctl.SetREN(false)
		s.port.Printf("OK\r\n")

	case 'I':
		s.ctl.PulseIFC()
		if s.ctl.Phase() == gpib.PhaseListen {
			s.ctl.SetPhase(gpib.PhaseIdle)
			s.led.Set(hw.LEDOff)
			s.ctl.Talk()
		}
		s.port.Printf("OK\r\n")

	case 'S':
		s.port.Tx(digit(s.ctl.REN()))
		s.port.Tx(digit(s.ctl.SRQ()))
		s.port.Tx('0' + byte(s.ctl.Phase()))
		s.port.Write([]byte{13, 10})

	case 'P':
		s.plotterMode()

	case '?':
		s.port.Printf("%s", help)

	case 'H':
		for i, h := range s.ed.hist.lines {
			s.port.Printf("%d: %s\r\n", i, h)
		}

	case 'T':
		s.transferCommand(line)

	case 'O':
		if s.getSetOpt(line[1:]) && len(line) > 1 && upper(line[1]) == 'B' {
			// Give the OK response time to drain before the rate
			// changes; the host must wait 2ms before transmitting.
			s.clk.DelayMs(2)
			if s.setBaud != nil {
				s.setBaud(s.cfg.Baud)
			}
		}

	case 0, 13:

	default:
		s.port.Printf("WRONG COMMAND\r\n")
	}
}

func digit(b bool) byte {
	if b {
		return '1'
	}
	return '0'
}

// stateFromCmd watches outgoing bus commands for our own listen address,
// our own talk address and unlisten, to keep the converter's listen state
// and the LED in step with what the host is doing.
func (s *Shell) stateFromCmd(buf []byte) {
	for _, b := range buf {
		switch b {
		case '?', gpib.TalkAddr + s.cfg.MyAddr:
			s.ctl.SetPhase(gpib.PhaseIdle)
			s.led.Set(hw.LEDOff)
		case gpib.ListenAddr + s.cfg.MyAddr:
			s.ctl.SetPhase(gpib.PhaseListen)
			s.led.Set(hw.LEDFast)
		}
	}
}

// receiveASCII reads from the bus and echoes to the serial line until a
// stop condition; ESC aborts a transfer that keeps filling the buffer.
func (s *Shell) receiveASCII() {
	var buf [gpibBufSize]byte
	s.port.EscSeen() // clear a stale escape
	for {
		n, reason := s.ctl.Receive(buf[:], s.cfg.EndRX)
		s.port.Write(buf[:n])
		if reason != gpib.EndBuf || s.port.EscSeen() {
			if reason == 0 {
				// Nothing terminated the read; make sure the
				// user at least gets an empty line.
				s.port.Printf("\r\n")
			}
			return
		}
	}
}

// plotterMode streams single bytes from the bus to the serial line until
// an escape character arrives.
func (s *Shell) plotterMode() {
	s.led.Set(hw.LEDSlow)
	s.ctl.Listen()

	s.port.EscSeen()
	var buf [1]byte
	for !s.port.EscSeen() {
		n, _ := s.ctl.Receive(buf[:], 0)
		if n == 0 {
			s.clk.DelayMs(10)
		} else {
			s.port.Tx(buf[0])
		}
	}
	s.ctl.SetPhase(gpib.PhaseIdle)
	s.ctl.Talk()
	s.led.Set(hw.LEDOff)
}

// transferCommand handles the hex and binary transfer family: THC, THD
// and TBD.
func (s *Shell) transferCommand(line []byte) {
	if len(line) < 3 {
		s.port.Printf("ERROR\r\n")
		return
	}
	t := upper(line[1])
	d := upper(line[2])

	switch {
	case t == 'H' && (s.ctl.Phase() != gpib.PhaseListen || d == 'C'):
		// Hex transmit, command or data.
		var buf [gpibBufSize]byte
		n, sendEOI, ok := convertHexMessage(line[3:], buf[:])
		if !ok {
			s.port.Printf("ERROR\r\n")
			return
		}
		if d == 'C' {
			s.stateFromCmd(buf[:n])
			s.ctl.Talk()
			s.ctl.SetATN(true)
			sendEOI = 0
		}
		sent := s.ctl.Transmit(buf[:n], sendEOI)
		if sent == gpib.ExpectedLen(n, sendEOI) {
			s.port.Printf("OK\r\n")
		} else {
			s.port.Printf("TIMEOUT %d\r\n", sent)
		}
		if d == 'C' {
			s.ctl.SetATN(false)
			if s.ctl.Phase() == gpib.PhaseListen {
				s.ctl.Listen()
			}
		}

	case t == 'B' && d == 'D' && s.ctl.Phase() != gpib.PhaseListen:
		s.binaryTransmit()

	case (t == 'B' || t == 'H') && d == 'D':
		s.frameReceive(t, line[3:])

	default:
		s.port.Printf("ERROR\r\n")
	}
}

// binaryTransmit reads length prefixed frames from the serial line and
// puts them on the bus. The high bit of the length byte requests EOI on
// the last byte of that frame; a zero length ends the transfer. Each
// frame is acknowledged with the transmitted count.
func (s *Shell) binaryTransmit() {
	var buf [gpibBufSize]byte
	sendErr := false
	var sent int
	for {
		l := s.port.Rx()
		var sendEOI byte
		if l&0x80 != 0 {
			l &= 0x7f
			sendEOI = gpib.EndEOI
		}
		if l == 0 {
			return
		}
		for i := 0; i < int(l); i++ {
			buf[i] = s.port.Rx()
		}
		if !sendErr {
			sent = s.ctl.Transmit(buf[:l], sendEOI)
			sendErr = sent != int(l)
		}
		s.port.Tx(byte(sent))
	}
}

// frameReceive reads from the bus and forwards to the serial line, as hex
// pairs (THD) or length prefixed binary frames with the EOI flag in the
// length's high bit and a zero terminator (TBD). An optional hex length
// after the command bounds the transfer.
func (s *Shell) frameReceive(t byte, args []byte) {
	total := uint32(getReadLength(args))
	if total == 0 {
		total = 0xffffffff
	}
	s.port.EscSeen()
	var buf [gpibBufSize]byte
	var reason byte
	for {
		want := total
		if want > gpibBufSize {
			want = gpibBufSize
		}
		var n int
		n, reason = s.ctl.Receive(buf[:want], s.cfg.EndRX)
		if t == 'H' {
			for i := 0; i < n; i++ {
				s.port.Printf("%02X", buf[i])
			}
		} else if n > 0 {
			l := byte(n)
			if reason&gpib.EndEOI != 0 {
				l |= 0x80
			}
			s.port.Tx(l)
			s.port.Write(buf[:n])
		}
		total -= uint32(n)
		if reason != gpib.EndBuf || total == 0 || s.port.EscSeen() {
			break
		}
	}
	if t == 'B' {
		s.port.Tx(0)
	} else {
		if reason&gpib.EndEOI == 0 {
			s.port.Tx(';')
		}
		s.port.Printf("\r\n")
	}
}

// getSetOpt shows or updates one configuration option. A trailing 'w'
// persists the value. It reports whether a value was set.
func (s *Shell) getSetOpt(args []byte) bool {
	if len(args) == 0 {
		s.port.Printf("ERROR\r\n")
		return false
	}
	name := upper(args[0])
	switch name {
	case '0', '1':
		s.cfg.Defaults(int(name - '0'))
		s.port.Printf("OK\r\n")
		return true
	case '?':
		s.port.Printf("%s", optHelp)
		return false
	}
	if !config.Valid(name) {
		s.port.Printf("WRONG OPTION\r\n")
		return false
	}
	args = args[1:]

	if len(args) == 0 {
		v, _ := s.cfg.Get(name)
		s.port.Printf("%d\r\n", v)
		return false
	}

	var v uint32
	write := false
	for i, c := range args {
		if c > '9' || c < '0' {
			if (c == 'w' || c == 'W') && i == len(args)-1 {
				write = true
				break
			}
			s.port.Printf("ERROR\r\n")
			return false
		}
		v = v*10 + uint32(c-'0')
		if v > 0xffff {
			s.port.Printf("ERROR\r\n")
			return false
		}
	}
	if s.cfg.Set(name, uint16(v), write) != nil {
		s.port.Printf("ERROR\r\n")
		return false
	}
	s.port.Printf("OK\r\n")
	return true
}

/* hex argument helpers */

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}

func hexVal(c byte) byte {
	switch {
	case c <= '9':
		return c - '0'
	case c <= 'F':
		return c - 'A' + 10
	default:
		return c - 'a' + 10
	}
}

// convertHexMessage decodes "CC" pairs into out. A trailing ';'
// suppresses EOI. Returns the byte count, the EOI flag and validity.
func convertHexMessage(in []byte, out []byte) (int, byte, bool) {
	sendEOI := byte(gpib.EndEOI)

	if len(in) < 2 {
		return 0, 0, false
	}
	if in[len(in)-1] == ';' {
		in = in[:len(in)-1]
		sendEOI = 0
	}
	if len(in)&1 != 0 || len(in)/2 > len(out) {
		return 0, 0, false
	}
	for _, c := range in {
		if !isHexDigit(c) {
			return 0, 0, false
		}
	}
	for i := 0; i < len(in); i += 2 {
		out[i/2] = hexVal(in[i])<<4 | hexVal(in[i+1])
	}
	return len(in) / 2, sendEOI, true
}

// getReadLength parses an optional one or two digit hex length.
func getReadLength(buf []byte) byte {
	var l byte
	if len(buf) > 0 && isHexDigit(buf[0]) {
		l = hexVal(buf[0])
		if len(buf) > 1 && isHexDigit(buf[1]) {
			l = l<<4 | hexVal(buf[1])
		}
	}
	return l
}
