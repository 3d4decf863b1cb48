/*
 * hp3478ext - Main loop test cases.
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

package bridge

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KIrill-ka/hp3478ext/command/shell"
	"github.com/KIrill-ka/hp3478ext/config"
	"github.com/KIrill-ka/hp3478ext/ext"
	"github.com/KIrill-ka/hp3478ext/gpib"
	"github.com/KIrill-ka/hp3478ext/hp3478"
	"github.com/KIrill-ka/hp3478ext/hw"
	"github.com/KIrill-ka/hp3478ext/uart"
)

// quietMeter satisfies ext.Meter with a happy path, recording commands.
type quietMeter struct {
	mu   sync.Mutex
	cmds []string
}

func (m *quietMeter) Cmd(cmd string, flags byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cmds = append(m.cmds, cmd)
	return nil
}
func (m *quietMeter) SRQStatus() (byte, error)              { return 0, nil }
func (m *quietMeter) Status() ([5]byte, error)              { return [5]byte{}, nil }
func (m *quietMeter) Reading(byte) (hp3478.Reading, error)  { return hp3478.Reading{}, nil }
func (m *quietMeter) Display(string, byte) error            { return nil }
func (m *quietMeter) SRQ() bool                             { return false }
func (m *quietMeter) DelayUs(int)                           {}
func (m *quietMeter) Trail() [4]byte                        { return [4]byte{} }

func (m *quietMeter) sawCmd(want string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.cmds {
		if c == want {
			return true
		}
	}
	return false
}

type lockedBuf struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuf) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuf) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type sessionRW struct {
	r io.Reader
	w io.Writer
}

func (s sessionRW) Read(b []byte) (int, error)  { return s.r.Read(b) }
func (s sessionRW) Write(b []byte) (int, error) { return s.w.Write(b) }

func TestRunServesShellAndExtension(t *testing.T) {
	pr, pw := io.Pipe()
	out := &lockedBuf{}
	port := uart.NewPort(sessionRW{r: pr, w: out})

	sig := &gpib.Disconnected{}
	clk := hw.NewWallClock()
	ctl := gpib.NewController(sig, clk)
	cfg := config.New(config.NewMemStore())
	cfg.Echo = 0
	cfg.ExtEnable = 1

	dm := &quietMeter{}
	machine := ext.NewMachine(dm, &hw.LogBeeper{}, cfg)
	sh := shell.New(port, ctl, cfg, &hw.LogLED{}, clk, nil)
	br := New(port, sh, machine, cfg, sig, clk)

	done := make(chan struct{})
	go func() {
		br.Run()
		close(done)
	}()

	// The boot enable event initializes the extension machine.
	deadline := time.Now().Add(2 * time.Second)
	for !dm.sawCmd("KM20") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !dm.sawCmd("KM20") {
		t.Error("extension machine never initialized")
	}

	// A shell command over the line is answered.
	pw.Write([]byte("R\r"))
	deadline = time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "OK\r\n") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !strings.Contains(out.String(), "OK\r\n") {
		t.Errorf("no response to R, output %q", out.String())
	}

	// Closing the line ends the session.
	pw.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Run did not return after the line closed")
	}
}

func TestRunDisableEvent(t *testing.T) {
	pr, pw := io.Pipe()
	out := &lockedBuf{}
	port := uart.NewPort(sessionRW{r: pr, w: out})

	sig := &gpib.Disconnected{}
	clk := hw.NewWallClock()
	ctl := gpib.NewController(sig, clk)
	cfg := config.New(config.NewMemStore())
	cfg.Echo = 0
	cfg.ExtEnable = 1

	dm := &quietMeter{}
	machine := ext.NewMachine(dm, &hw.LogBeeper{}, cfg)
	sh := shell.New(port, ctl, cfg, &hw.LogLED{}, clk, nil)
	br := New(port, sh, machine, cfg, sig, clk)

	done := make(chan struct{})
	go func() {
		br.Run()
		close(done)
	}()

	// Turning the option off over the shell tears the extension down.
	pw.Write([]byte("OX0\r"))
	deadline := time.Now().Add(2 * time.Second)
	for !dm.sawCmd("M00D1") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !dm.sawCmd("M00D1") {
		t.Error("meter display not restored on disable")
	}

	pw.Close()
	<-done
}
