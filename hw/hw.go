/*
 * hp3478ext - Timebase, LED and buzzer abstractions.
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

package hw

import (
	"log/slog"
	"time"
)

// Clock is the free running millisecond timebase. Millis wraps at 16 bits;
// all deadline arithmetic in the program is modular.
type Clock interface {
	Millis() uint16
	DelayUs(us int)
	DelayMs(ms int)
}

// Elapsed8 reports whether more than budget milliseconds have passed since
// ts, using 8-bit modular arithmetic. The handshake spin loops use 8-bit
// deltas so a wrapped counter still compares correctly.
func Elapsed8(now uint16, ts uint8, budget uint8) bool {
	return uint8(uint8(now)-ts) > budget
}

// Expired reports whether the 16-bit deadline has passed. The signed
// comparison keeps a wrapped counter working for deadlines up to ~32s out.
func Expired(now uint16, deadline uint16) bool {
	return int16(deadline-now) <= 0
}

// WallClock implements Clock over the host monotonic clock.
type WallClock struct {
	start time.Time
}

func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

func (c *WallClock) Millis() uint16 {
	return uint16(time.Since(c.start) / time.Millisecond)
}

func (c *WallClock) DelayUs(us int) {
	time.Sleep(time.Duration(us) * time.Microsecond)
}

func (c *WallClock) DelayMs(ms int) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// LEDMode selects the status LED pattern.
type LEDMode int

const (
	LEDOff LEDMode = iota
	LEDSlow
	LEDFast
)

// LED is the status indicator. Set is non-blocking; blinking is paced by
// the implementation.
type LED interface {
	Set(mode LEDMode)
}

// Beeper is the PWM tone generator. Tone programs period and duty and
// starts the output; Off stops it. Both are non-blocking.
type Beeper interface {
	Tone(period uint16, duty uint8)
	Off()
}

// LogLED reports LED changes to the logger. It stands in when no GPIO
// backend is attached.
type LogLED struct {
	mode LEDMode
}

func (l *LogLED) Set(mode LEDMode) {
	if mode == l.mode {
		return
	}
	l.mode = mode
	slog.Debug("led", "mode", int(mode))
}

// LogBeeper reports buzzer transitions to the logger.
type LogBeeper struct {
	on bool
}

func (b *LogBeeper) Tone(period uint16, duty uint8) {
	if !b.on {
		slog.Debug("buzzer on", "period", period, "duty", duty)
	}
	b.on = true
}

func (b *LogBeeper) Off() {
	if b.on {
		slog.Debug("buzzer off")
	}
	b.on = false
}
