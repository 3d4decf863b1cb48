/*
 * hp3478ext - Main event loop.
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

// Package bridge runs the cooperative main loop: it multiplexes the
// serial line, SRQ edges and the extension machine's timeouts, and
// dispatches one event at a time.
package bridge

import (
	"sync/atomic"
	"time"

	"github.com/KIrill-ka/hp3478ext/command/shell"
	"github.com/KIrill-ka/hp3478ext/config"
	"github.com/KIrill-ka/hp3478ext/ext"
	"github.com/KIrill-ka/hp3478ext/gpib"
	"github.com/KIrill-ka/hp3478ext/hw"
	"github.com/KIrill-ka/hp3478ext/uart"
)

// Bridge owns the outer loop state: the current extension timeout and the
// SRQ edge latch.
type Bridge struct {
	port *uart.Port
	sh   *shell.Shell
	ext  *ext.Machine
	cfg  *config.Config
	sig  gpib.Signals
	clk  hw.Clock

	srqEdge atomic.Bool
	stop    chan struct{}
}

func New(port *uart.Port, sh *shell.Shell, extm *ext.Machine, cfg *config.Config, sig gpib.Signals, clk hw.Clock) *Bridge {
	b := &Bridge{
		port: port,
		sh:   sh,
		ext:  extm,
		cfg:  cfg,
		sig:  sig,
		clk:  clk,
		stop: make(chan struct{}),
	}
	go b.watchSRQ()
	return b
}

// watchSRQ is the stand-in for the pin change interrupt: it latches a
// flag on every SRQ transition. Both edges latch; the main loop filters
// for a rising edge by sampling the level, which debounces cross-talk on
// long ribbon cables. Edges are coalesced while a handler runs; the
// machine recovers the state by serial poll anyway.
func (b *Bridge) watchSRQ() {
	prev := b.sig.SRQ()
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-tick.C:
		}
		s := b.sig.SRQ()
		if s != prev {
			b.srqEdge.Store(true)
			prev = s
		}
	}
}

// Stop makes Run return after the current event.
func (b *Bridge) Stop() {
	close(b.stop)
}

func (b *Bridge) stopped() bool {
	select {
	case <-b.stop:
		return true
	default:
		return false
	}
}

// Run executes the main loop until the line closes or Stop is called.
// One UART command runs to completion before the next event is serviced;
// each SRQ or timeout causes at most one extension handler invocation.
func (b *Bridge) Run() {
	// A meter address of 31 means this unit is wired to a plotter
	// style talker: drop straight into continuous receive.
	if b.cfg.Settings.MeterAddr == 31 {
		b.sh.RunLine("P")
	}

	b.sh.Prompt()

	var timeout uint16
	var timeoutTS uint16
	prevEnable := b.cfg.ExtEnable ^ 1 // force an enable/disable event at boot

	for {
		var ev byte
		if prevEnable != b.cfg.ExtEnable {
			if b.cfg.ExtEnable != 0 {
				ev |= ext.EvEnable
			} else {
				ev |= ext.EvDisable
			}
			prevEnable = b.cfg.ExtEnable
		}
		for ev == 0 {
			if b.stopped() || b.port.Closed() {
				return
			}
			if b.port.Ready() {
				ev |= ext.EvUART
			}
			if b.srqEdge.Swap(false) && b.sig.SRQ() {
				ev |= ext.EvSRQ
			}
			if timeout != ext.Never && hw.Expired(b.clk.Millis(), timeoutTS) {
				ev |= ext.EvTimeout
			}
			if ev == 0 {
				time.Sleep(time.Millisecond)
			}
		}

		if ev&(ext.EvSRQ|ext.EvTimeout|ext.EvEnable|ext.EvDisable) != 0 {
			t := b.ext.Handle(ev)
			if t != ext.Cont {
				timeout = t
				timeoutTS = b.clk.Millis() + t
			}
		}

		if ev&ext.EvUART != 0 {
			b.sh.HandleByte(b.port.Rx())
		}
	}
}
