/*
 * hp3478ext - Protocol layer test cases.
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

package hp3478

import (
	"strings"
	"testing"

	"github.com/KIrill-ka/hp3478ext/gpib"
)

type addrs struct{}

func (addrs) ControllerAddr() byte { return 21 }
func (addrs) MeterAddr() byte      { return 23 }

// busOp is one recorded bus transaction.
type busOp struct {
	kind string // "cmd", "data", "ren", "atn", "talk", "listen"
	data string
	end  byte
	on   bool
}

// scriptBus records bus traffic at the message level and sources queued
// responses for Receive.
type scriptBus struct {
	ops     []busOp
	atn     bool
	phase   int
	rxQueue []string // one string per Receive call
	rxEnd   []byte   // matching stop reason
	failTx  bool
}

func (b *scriptBus) Transmit(buf []byte, end byte) int {
	if b.failTx {
		return 0
	}
	kind := "data"
	if b.atn {
		kind = "cmd"
	}
	b.ops = append(b.ops, busOp{kind: kind, data: string(buf), end: end})
	return gpib.ExpectedLen(len(buf), end)
}

func (b *scriptBus) TransmitOK(buf []byte, end byte) bool {
	return b.Transmit(buf, end) == gpib.ExpectedLen(len(buf), end)
}

func (b *scriptBus) Receive(buf []byte, stop byte) (int, byte) {
	if len(b.rxQueue) == 0 {
		return 0, 0
	}
	data := b.rxQueue[0]
	end := b.rxEnd[0]
	b.rxQueue = b.rxQueue[1:]
	b.rxEnd = b.rxEnd[1:]
	n := copy(buf, data)
	return n, end
}

func (b *scriptBus) SetATN(assert bool) { b.atn = assert }
func (b *scriptBus) SetREN(assert bool) {
	b.ops = append(b.ops, busOp{kind: "ren", on: assert})
}
func (b *scriptBus) Talk()              { b.ops = append(b.ops, busOp{kind: "talk"}) }
func (b *scriptBus) Listen()            { b.ops = append(b.ops, busOp{kind: "listen"}) }
func (b *scriptBus) SRQ() bool          { return false }
func (b *scriptBus) Phase() int         { return b.phase }
func (b *scriptBus) SetPhase(phase int) { b.phase = phase }
func (b *scriptBus) DelayUs(int)        {}

// cmds returns the ATN-asserted transactions in order.
func (b *scriptBus) cmds() []string {
	var out []string
	for _, op := range b.ops {
		if op.kind == "cmd" {
			out = append(out, op.data)
		}
	}
	return out
}

func (b *scriptBus) datas() []string {
	var out []string
	for _, op := range b.ops {
		if op.kind == "data" {
			out = append(out, op.data)
		}
	}
	return out
}

func TestCmdAddressing(t *testing.T) {
	bus := &scriptBus{}
	dev := New(bus, addrs{})

	if err := dev.Cmd("K", 0); err != nil {
		t.Fatalf("cmd failed: %v", err)
	}

	cmds := bus.cmds()
	if len(cmds) != 2 {
		t.Fatalf("expected address and unlisten sequences, got %q", cmds)
	}
	// Address the meter as listener, ourselves as talker.
	want := string([]byte{23 + gpib.ListenAddr, 21 + gpib.TalkAddr})
	if cmds[0] != want {
		t.Errorf("address sequence %q, expected %q", cmds[0], want)
	}
	if cmds[1] != "?" {
		t.Errorf("final sequence %q, expected unlisten", cmds[1])
	}

	datas := bus.datas()
	if len(datas) != 1 || datas[0] != "K" {
		t.Errorf("command data %q", datas)
	}
	// LF terminated.
	for _, op := range bus.ops {
		if op.kind == "data" && op.end != gpib.EndLF {
			t.Errorf("command sent with end %x, expected LF", op.end)
		}
	}
	if bus.phase != gpib.PhaseIdle {
		t.Errorf("phase %d after cmd", bus.phase)
	}
}

func TestCmdLazyAddressing(t *testing.T) {
	bus := &scriptBus{}
	dev := New(bus, addrs{})

	if err := dev.Cmd("M21", CmdTalk|CmdRemote); err != nil {
		t.Fatalf("cmd failed: %v", err)
	}
	if bus.phase != gpib.PhaseTalk {
		t.Fatalf("phase %d, expected talk", bus.phase)
	}
	n := len(bus.cmds())

	// Already addressed: the second command must not re-address.
	if err := dev.Cmd("M20", CmdTalk|CmdRemote); err != nil {
		t.Fatalf("second cmd failed: %v", err)
	}
	if len(bus.cmds()) != n {
		t.Errorf("re-addressed while already talking: %q", bus.cmds())
	}
}

func TestCmdFailureTeardown(t *testing.T) {
	bus := &scriptBus{failTx: true}
	dev := New(bus, addrs{})

	if err := dev.Cmd("K", CmdRemote); err == nil {
		t.Fatal("cmd succeeded on a dead bus")
	}
	if bus.phase != gpib.PhaseIdle {
		t.Errorf("phase %d after failure", bus.phase)
	}
	// Teardown releases REN.
	last := bus.ops[len(bus.ops)-1]
	if last.kind != "ren" || last.on {
		t.Errorf("final op %+v, expected REN release", last)
	}
	trail := dev.Trail()
	if trail[0] == 0 {
		t.Error("no error code recorded")
	}
}

func TestSRQStatus(t *testing.T) {
	bus := &scriptBus{}
	bus.rxQueue = []string{"\x41"}
	bus.rxEnd = []byte{gpib.EndBuf}
	dev := New(bus, addrs{})

	sb, err := dev.SRQStatus()
	if err != nil {
		t.Fatalf("serial poll failed: %v", err)
	}
	if sb != 0x41 {
		t.Errorf("status byte %02x", sb)
	}

	cmds := bus.cmds()
	if len(cmds) != 2 {
		t.Fatalf("serial poll sequences %q", cmds)
	}
	want := string([]byte{gpib.CmdSPE, 23 + gpib.TalkAddr, 21 + gpib.ListenAddr})
	if cmds[0] != want {
		t.Errorf("SPE sequence %q, expected %q", cmds[0], want)
	}
	if cmds[1] != string([]byte{gpib.CmdSPD, gpib.CmdUNT}) {
		t.Errorf("SPD sequence %q", cmds[1])
	}
}

func TestStatus(t *testing.T) {
	bus := &scriptBus{}
	bus.rxQueue = []string{"\x21\x07\x00\x00\x00"}
	bus.rxEnd = []byte{gpib.EndEOI}
	dev := New(bus, addrs{})

	st, err := dev.Status()
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if st[0] != 0x21 || st[1] != 0x07 {
		t.Errorf("status %v", st)
	}
}

func TestStatusShort(t *testing.T) {
	bus := &scriptBus{}
	bus.rxQueue = []string{"\x21\x07"}
	bus.rxEnd = []byte{gpib.EndEOI}
	dev := New(bus, addrs{})

	if _, err := dev.Status(); err == nil {
		t.Fatal("short B response accepted")
	}
}

func TestReadingOp(t *testing.T) {
	bus := &scriptBus{}
	bus.rxQueue = []string{"+1.23456E+0\r\n"}
	bus.rxEnd = []byte{gpib.EndEOI}
	dev := New(bus, addrs{})

	r, err := dev.Reading(0)
	if err != nil {
		t.Fatalf("reading failed: %v", err)
	}
	if r.Value != 123456 || r.Dot != 1 || r.Exp != 0 {
		t.Errorf("reading %+v", r)
	}
	// The untalk must have been sent.
	cmds := bus.cmds()
	if cmds[len(cmds)-1] != "_" {
		t.Errorf("final sequence %q, expected untalk", cmds)
	}
}

func TestDisplay(t *testing.T) {
	bus := &scriptBus{}
	dev := New(bus, addrs{})

	if err := dev.Display("M: CONT", DispHideAnnunciators); err != nil {
		t.Fatalf("display failed: %v", err)
	}
	datas := bus.datas()
	if datas[0] != "D3" {
		t.Errorf("display selector %q", datas[0])
	}
	if !strings.HasPrefix(datas[1], "M: CONT") || len(datas[1]) != DisplayWidth-1 {
		t.Errorf("display text %q", datas[1])
	}
}

func TestDisplayTooLong(t *testing.T) {
	bus := &scriptBus{}
	dev := New(bus, addrs{})

	if err := dev.Display("THIS IS FAR TOO LONG", 0); err == nil {
		t.Fatal("overlong display text accepted")
	}
}

func TestModeCommand(t *testing.T) {
	tests := []struct {
		st0, st1 byte
		want     string
	}{
		// DCV 3V range, 5.5 digits, autozero, internal trigger.
		{StFuncDCV | StRange3 | StDigits5, StAutoZero | StIntTrigger, "R0N5F1Z1T1"},
		// DCV 30mV range.
		{StFuncDCV | StRange1 | StDigits5, StIntTrigger, "R-2N5F1Z0T1"},
		// ACV 30V range.
		{StFuncACV | StRange3 | StDigits4, StIntTrigger, "R1N4F2Z0T1"},
		// 2W ohms 3K range with autorange.
		{StFunc2WOhm | StRange3 | StDigits5, StAutoRange | StIntTrigger, "RAN5F3Z0T1"},
		// ACA 3A range, external trigger.
		{StFuncACA | StRange2 | StDigits3, StExtTrigger, "R0N3F6Z0T3"},
		// Hold trigger.
		{StFuncDCV | StRange3 | StDigits5, 0, "R0N5F1Z0T4"},
	}
	for _, tc := range tests {
		if got := ModeCommand(tc.st0, tc.st1); got != tc.want {
			t.Errorf("ModeCommand(%02x, %02x) = %q, expected %q", tc.st0, tc.st1, got, tc.want)
		}
	}
}

func TestRestoreCommand(t *testing.T) {
	got := RestoreCommand(StFunc2WOhm|StRange2|StDigits5, StAutoZero)
	if got != "R2N5Z1" {
		t.Errorf("restore command %q", got)
	}
	got = RestoreCommand(StFunc2WOhm|StRange2|StDigits3, StAutoRange)
	if got != "RAN3Z0" {
		t.Errorf("restore command with autorange %q", got)
	}
}
