/*
 * hp3478ext - Serial line editor.
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

package shell

const (
	historySize = 8
	lineBufSize = 64
)

// Arrow keys arrive as ESC [ A..D.
const (
	escKeyUp    = 0x41
	escKeyDown  = 0x42
	escKeyRight = 0x43
	escKeyLeft  = 0x44
)

const (
	edStart = iota
	edNorm
	edEsc
	edEsc1
)

// history keeps the most recent distinct command lines. No two adjacent
// entries are equal; the oldest entry goes when the buffer is full.
type history struct {
	lines []string
}

func (h *history) add(line string) {
	if len(h.lines) > 0 && h.lines[len(h.lines)-1] == line {
		return
	}
	if len(h.lines) == historySize {
		copy(h.lines, h.lines[1:])
		h.lines = h.lines[:historySize-1]
	}
	h.lines = append(h.lines, line)
}

// editor is the escape-sequence line editor for the serial side. It is a
// byte at a time state machine: feed returns the command letter once a
// full line is terminated, 0 otherwise.
type editor struct {
	out    lineOut
	state  int
	buf    [lineBufSize]byte
	cmdLen int
	cursor int
	hist   history
	pos    int // history cursor while browsing
}

// lineOut is what the editor needs from the terminal side.
type lineOut interface {
	Tx(b byte)
	Write(b []byte) (int, error)
	echoOn() bool
	prompt()
}

// line returns the completed command line.
func (e *editor) line() []byte { return e.buf[:e.cmdLen] }

// reset prepares for the next command.
func (e *editor) reset() {
	e.state = edStart
}

func (e *editor) redrawFromHistory(line string) {
	newLen := len(line)
	if newLen > lineBufSize-1 {
		newLen = lineBufSize - 1
	}
	copy(e.buf[:], line[:newLen])

	// Walk to the end, blank the old text, then type the new one.
	for e.cursor < e.cmdLen {
		e.out.Tx(' ')
		e.cursor++
	}
	for i := 0; i < e.cmdLen; i++ {
		e.out.Write([]byte{0x08, ' ', 0x08})
	}
	e.out.Write(e.buf[:newLen])
	e.cmdLen = newLen
	e.cursor = newLen
}

func (e *editor) escapeKey(c byte) {
	switch c {
	case escKeyUp, escKeyDown:
		var line string
		if c == escKeyUp {
			if e.pos == 0 {
				return
			}
			e.pos--
			line = e.hist.lines[e.pos]
		} else if e.pos >= len(e.hist.lines)-1 {
			// Down past the newest entry clears the line.
			if e.pos < len(e.hist.lines) {
				e.pos++
			}
			line = ""
		} else {
			e.pos++
			line = e.hist.lines[e.pos]
		}
		e.redrawFromHistory(line)

	case escKeyLeft:
		if e.cursor > 0 {
			e.cursor--
			e.out.Write([]byte{0x1b, 0x5b, 'D'})
		}

	case escKeyRight:
		if e.cursor < e.cmdLen {
			e.cursor++
			e.out.Write([]byte{0x1b, 0x5b, 'C'})
		}
	}
}

// feed processes one received byte. The return value is the command
// letter (upper cased first character) when a line is complete, 13 for an
// empty line, 0 otherwise.
func (e *editor) feed(c byte) byte {
	switch e.state {
	case edStart:
		if e.out.echoOn() {
			e.out.prompt()
		}
		e.cursor = 0
		e.cmdLen = 0
		e.pos = len(e.hist.lines)
		e.state = edNorm
	case edEsc:
		if c == 0x5b {
			e.state = edEsc1
		} else {
			e.state = edNorm
		}
		return 0
	case edEsc1:
		e.escapeKey(c)
		e.state = edNorm
		return 0
	}

	var cmd byte
	switch c {
	case 0x7f, 0x08: // del, backspace
		if !e.out.echoOn() || e.cursor == 0 {
			break
		}
		e.cmdLen--
		e.cursor--
		copy(e.buf[e.cursor:], e.buf[e.cursor+1:e.cmdLen+1])
		e.out.Tx(0x08)
		e.out.Write(e.buf[e.cursor:e.cmdLen])
		e.out.Tx(' ')
		for i := e.cursor; i < e.cmdLen+1; i++ {
			e.out.Tx(0x08)
		}

	case 27: // ESC
		if e.out.echoOn() {
			e.state = edEsc
		}

	case 10: // LF

	case 13:
		if e.out.echoOn() {
			e.out.Write([]byte{13, 10})
		}
		if e.cmdLen != 0 {
			cmd = upper(e.buf[0])
			if e.out.echoOn() && cmd != 'H' {
				e.hist.add(string(e.line()))
			}
			e.state = edStart
			break
		}
		e.state = edStart
		cmd = 13

	case 0:

	default:
		if e.cmdLen == lineBufSize-1 {
			break
		}
		copy(e.buf[e.cursor+1:], e.buf[e.cursor:e.cmdLen])
		e.buf[e.cursor] = c
		e.cursor++
		e.cmdLen++
		if e.out.echoOn() {
			e.out.Tx(c)
			e.out.Write(e.buf[e.cursor:e.cmdLen])
			for i := e.cursor; i < e.cmdLen; i++ {
				e.out.Tx(0x08)
			}
		}
	}
	return cmd
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}
