/*
 * hp3478ext - UART byte FIFO.
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

// Package uart presents any byte stream as the converter's serial line: a
// receive FIFO with escape character detection and a transmit side.
package uart

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

const fifoSize = 64

const escChar = 0x1b

// Port is the serial line. A background reader keeps the receive FIFO
// filled and latches escape characters as they arrive, so a long transfer
// can notice an abort request without consuming the queue.
type Port struct {
	mu  sync.Mutex
	rw  io.ReadWriter
	rx  chan byte
	esc atomic.Bool

	eof atomic.Bool
}

func NewPort(rw io.ReadWriter) *Port {
	p := &Port{rw: rw, rx: make(chan byte, fifoSize)}
	go p.reader(rw)
	return p
}

func (p *Port) reader(r io.Reader) {
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if buf[0] == escChar {
				p.esc.Store(true)
			}
			p.rx <- buf[0]
		}
		p.mu.Lock()
		cur := p.rw
		p.mu.Unlock()
		if cur != r {
			return // port was reopened, a new reader took over
		}
		if err != nil {
			p.eof.Store(true)
			return
		}
	}
}

// Reopen swaps the underlying stream, e.g. after a baud rate change.
func (p *Port) Reopen(rw io.ReadWriter) {
	p.mu.Lock()
	p.rw = rw
	p.mu.Unlock()
	p.eof.Store(false)
	go p.reader(rw)
}

// Ready reports whether a received byte is pending.
func (p *Port) Ready() bool { return len(p.rx) > 0 }

// Closed reports that the stream ended (the peer disconnected).
func (p *Port) Closed() bool { return p.eof.Load() && len(p.rx) == 0 }

// Rx takes the next received byte, blocking until one arrives.
func (p *Port) Rx() byte { return <-p.rx }

// TryRx takes a byte when one is pending.
func (p *Port) TryRx() (byte, bool) {
	select {
	case b := <-p.rx:
		return b, true
	default:
		return 0, false
	}
}

// InjectLine queues a complete command line as if it had been received,
// CR terminated. The local console uses this to share the command path
// with the serial side.
func (p *Port) InjectLine(line string) {
	for i := 0; i < len(line); i++ {
		if line[i] == escChar {
			p.esc.Store(true)
		}
		p.rx <- line[i]
	}
	p.rx <- 13
}

// EscSeen reports whether an escape character arrived since the last
// call, and clears the latch.
func (p *Port) EscSeen() bool { return p.esc.Swap(false) }

// Tx sends one byte.
func (p *Port) Tx(b byte) { p.Write([]byte{b}) }

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	w := p.rw
	p.mu.Unlock()
	n, err := w.Write(b)
	if err != nil {
		slog.Debug("uart write failed", "err", err)
	}
	return n, err
}

// Printf formats directly onto the line. Responses use explicit CR LF.
func (p *Port) Printf(format string, args ...any) {
	fmt.Fprintf(p, format, args...)
}
