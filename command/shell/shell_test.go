/*
 * hp3478ext - Shell test cases.
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

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/KIrill-ka/hp3478ext/config"
	"github.com/KIrill-ka/hp3478ext/gpib"
	"github.com/KIrill-ka/hp3478ext/hw"
	"github.com/KIrill-ka/hp3478ext/uart"
)

type testClock struct {
	now uint16
}

func (c *testClock) Millis() uint16 {
	c.now++
	return c.now
}
func (c *testClock) DelayUs(int)      {}
func (c *testClock) DelayMs(ms int)   { c.now += uint16(ms) }

// lineRW backs the uart.Port: reads block forever (the tests feed bytes
// straight into the shell), writes collect the responses.
type lineRW struct {
	mu  sync.Mutex
	out bytes.Buffer
}

func (rw *lineRW) Read([]byte) (int, error) { select {} }

func (rw *lineRW) Write(b []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.out.Write(b)
}

func (rw *lineRW) take() string {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	s := rw.out.String()
	rw.out.Reset()
	return s
}

// rxByte records one byte the fake instrument accepted.
type rxByte struct {
	b   byte
	atn bool
	eoi bool
}

// fakeSig is a single listener/talker with an immediate handshake,
// shared with the transport tests in spirit.
type fakeSig struct {
	atn, eoi, dav, nrfd, ndac, ren, ifc bool
	dataOut                             byte

	noListener bool
	rxd        []rxByte

	q      []byte
	davOut bool
}

func (f *fakeSig) SetATN(a bool)  { f.atn = a }
func (f *fakeSig) SetREN(a bool)  { f.ren = a }
func (f *fakeSig) SetIFC(a bool)  { f.ifc = a }
func (f *fakeSig) SetEOI(a bool)  { f.eoi = a }
func (f *fakeSig) SetDAV(a bool) {
	if a && !f.dav {
		f.rxd = append(f.rxd, rxByte{b: f.dataOut, atn: f.atn, eoi: f.eoi})
	}
	f.dav = a
}
func (f *fakeSig) SetNRFD(a bool) { f.nrfd = a }
func (f *fakeSig) SetNDAC(a bool) {
	f.ndac = a
	if !a && f.davOut {
		f.q = f.q[1:]
		f.davOut = false
	}
}

func (f *fakeSig) DAV() bool {
	if !f.davOut && len(f.q) > 0 && !f.nrfd {
		f.davOut = true
	}
	return f.davOut
}
func (f *fakeSig) NRFD() bool { return false }
func (f *fakeSig) NDAC() bool {
	if f.noListener {
		return false
	}
	return !f.dav
}
func (f *fakeSig) SRQ() bool { return false }
func (f *fakeSig) EOI() bool { return false }
func (f *fakeSig) REN() bool { return f.ren }

func (f *fakeSig) DataPut(b byte)   { f.dataOut = b }
func (f *fakeSig) DataGet() byte    { return f.q[0] }
func (f *fakeSig) ConfigTalker()    {}
func (f *fakeSig) ConfigListener()  {}
func (f *fakeSig) SettleData()      {}

func newTestShell() (*Shell, *fakeSig, *lineRW, *config.Config) {
	sig := &fakeSig{}
	clk := &testClock{}
	ctl := gpib.NewController(sig, clk)
	cfg := config.New(config.NewMemStore())
	cfg.Echo = 0
	rw := &lineRW{}
	port := uart.NewPort(rw)
	sh := New(port, ctl, cfg, &hw.LogLED{}, clk, nil)
	return sh, sig, rw, cfg
}

func (s *Shell) feed(line string) {
	for i := 0; i < len(line); i++ {
		s.HandleByte(line[i])
	}
	s.HandleByte(13)
}

func TestOptionRoundTrip(t *testing.T) {
	sh, _, rw, cfg := newTestShell()

	sh.feed("OC25w")
	if got := rw.take(); got != "OK\r\n" {
		t.Errorf("set response %q", got)
	}
	if cfg.MyAddr != 25 {
		t.Errorf("address not applied: %d", cfg.MyAddr)
	}

	sh.feed("OC")
	if got := rw.take(); got != "25\r\n" {
		t.Errorf("get response %q", got)
	}

	sh.feed("OC31")
	if got := rw.take(); got != "ERROR\r\n" {
		t.Errorf("out-of-range response %q", got)
	}

	sh.feed("O0")
	if got := rw.take(); got != "OK\r\n" {
		t.Errorf("defaults response %q", got)
	}
	if cfg.MyAddr != config.DefaultMyAddr {
		t.Errorf("defaults did not reset the address: %d", cfg.MyAddr)
	}
}

func TestOptionErrors(t *testing.T) {
	sh, _, rw, _ := newTestShell()

	sh.feed("O")
	if got := rw.take(); got != "ERROR\r\n" {
		t.Errorf("empty option response %q", got)
	}
	sh.feed("OJ1")
	if got := rw.take(); got != "WRONG OPTION\r\n" {
		t.Errorf("unknown option response %q", got)
	}
	sh.feed("OC2x5")
	if got := rw.take(); got != "ERROR\r\n" {
		t.Errorf("malformed value response %q", got)
	}
}

func TestRemoteLocal(t *testing.T) {
	sh, sig, rw, _ := newTestShell()

	sh.feed("R")
	if got := rw.take(); got != "OK\r\n" {
		t.Errorf("R response %q", got)
	}
	if !sig.ren {
		t.Error("REN not asserted")
	}
	sh.feed("L")
	rw.take()
	if sig.ren {
		t.Error("REN still asserted")
	}
}

func TestStatusLine(t *testing.T) {
	sh, _, rw, _ := newTestShell()

	sh.feed("R")
	rw.take()
	sh.feed("S")
	if got := rw.take(); got != "100\r\n" {
		t.Errorf("status line %q", got)
	}
}

func TestCommandSend(t *testing.T) {
	sh, sig, rw, _ := newTestShell()

	sh.feed("C?")
	if got := rw.take(); got != "OK\r\n" {
		t.Errorf("C response %q", got)
	}
	if len(sig.rxd) != 1 || sig.rxd[0].b != '?' || !sig.rxd[0].atn {
		t.Errorf("bus saw %+v", sig.rxd)
	}
	if sig.atn {
		t.Error("ATN left asserted")
	}
}

func TestHexCommand(t *testing.T) {
	sh, sig, rw, _ := newTestShell()

	sh.feed("THC3F")
	if got := rw.take(); got != "OK\r\n" {
		t.Errorf("THC response %q", got)
	}
	if len(sig.rxd) != 1 || sig.rxd[0].b != 0x3f || !sig.rxd[0].atn {
		t.Errorf("bus saw %+v", sig.rxd)
	}
}

func TestHexValidation(t *testing.T) {
	sh, _, rw, _ := newTestShell()

	sh.feed("THC3")
	if got := rw.take(); got != "ERROR\r\n" {
		t.Errorf("odd hex response %q", got)
	}
	sh.feed("THC3G")
	if got := rw.take(); got != "ERROR\r\n" {
		t.Errorf("bad hex response %q", got)
	}
	sh.feed("T")
	if got := rw.take(); got != "ERROR\r\n" {
		t.Errorf("short transfer response %q", got)
	}
}

func TestHexNoEOISuffix(t *testing.T) {
	sh, sig, rw, _ := newTestShell()

	sh.feed("THD41;")
	if got := rw.take(); got != "OK\r\n" {
		t.Errorf("THD response %q", got)
	}
	if len(sig.rxd) != 1 || sig.rxd[0].eoi {
		t.Errorf("EOI not suppressed: %+v", sig.rxd)
	}

	sig.rxd = nil
	sh.feed("THD41")
	rw.take()
	if len(sig.rxd) != 1 || !sig.rxd[0].eoi {
		t.Errorf("EOI missing: %+v", sig.rxd)
	}
}

func TestDataSendTimeout(t *testing.T) {
	sh, sig, rw, _ := newTestShell()
	sig.noListener = true

	sh.feed("DF1")
	if got := rw.take(); got != "TIMEOUT 0\r\n" {
		t.Errorf("response %q", got)
	}
}

func TestDataSend(t *testing.T) {
	sh, sig, rw, _ := newTestShell()

	sh.feed("DF1")
	if got := rw.take(); got != "OK\r\n" {
		t.Errorf("response %q", got)
	}
	// Data plus EOI on the last byte, no ATN.
	if len(sig.rxd) != 2 || sig.rxd[0].b != 'F' || sig.rxd[1].b != '1' {
		t.Errorf("bus saw %+v", sig.rxd)
	}
	if sig.rxd[0].atn || sig.rxd[1].atn {
		t.Error("data sent under ATN")
	}
	if !sig.rxd[1].eoi {
		t.Error("no EOI on the last data byte")
	}
}

func TestWrongCommand(t *testing.T) {
	sh, _, rw, _ := newTestShell()

	sh.feed("Q")
	if got := rw.take(); got != "WRONG COMMAND\r\n" {
		t.Errorf("response %q", got)
	}
}

func TestEchoAndHistory(t *testing.T) {
	sh, _, rw, cfg := newTestShell()
	cfg.Echo = 1

	sh.Prompt()
	if got := rw.take(); got != "<GPIB> " {
		t.Errorf("prompt %q", got)
	}

	sh.feed("R")
	out := rw.take()
	if !strings.HasPrefix(out, "R\r\n") {
		t.Errorf("echo output %q", out)
	}

	// The same command twice makes one history entry.
	sh.feed("R")
	rw.take()
	sh.feed("H")
	out = rw.take()
	if !strings.Contains(out, "0: R\r\n") {
		t.Errorf("history output %q", out)
	}
	if strings.Contains(out, "1: R") {
		t.Errorf("duplicate history entry: %q", out)
	}
}

func TestHistoryEviction(t *testing.T) {
	var h history
	for _, s := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"} {
		h.add(s)
	}
	if len(h.lines) != historySize {
		t.Fatalf("history holds %d entries", len(h.lines))
	}
	if h.lines[0] != "b" || h.lines[historySize-1] != "i" {
		t.Errorf("history %v", h.lines)
	}
	h.add("i")
	if len(h.lines) != historySize {
		t.Error("adjacent duplicate stored")
	}
}

func TestLineEditing(t *testing.T) {
	sh, sig, rw, cfg := newTestShell()
	cfg.Echo = 1
	sh.Prompt()
	rw.take()

	// Type CX, backspace the X, then '?'.
	sh.HandleByte('C')
	sh.HandleByte('X')
	sh.HandleByte(0x08)
	sh.HandleByte('?')
	sh.HandleByte(13)

	if len(sig.rxd) != 1 || sig.rxd[0].b != '?' {
		t.Errorf("edited command sent %+v", sig.rxd)
	}
}

func TestReceiveASCII(t *testing.T) {
	sh, sig, rw, _ := newTestShell()

	// Address ourselves as listener, then read.
	sig.q = []byte("HELLO\r\n")
	sh.feed("C" + string(rune(gpib.ListenAddr+config.DefaultMyAddr)))
	rw.take()
	sh.feed("D")
	out := rw.take()
	if !strings.Contains(out, "HELLO") {
		t.Errorf("received %q", out)
	}
}
