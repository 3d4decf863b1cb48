/*
 * hp3478ext - Raspberry Pi GPIO backed LED and buzzer.
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
	"sync/atomic"
	"time"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

// RpiLED drives the status LED on a GPIO pin. A background ticker toggles
// the pin for the slow (1 Hz) and fast (5 Hz) patterns.
type RpiLED struct {
	pin  rpio.Pin
	mode atomic.Int32
	done chan struct{}
}

func NewRpiLED(pin int) *RpiLED {
	l := &RpiLED{pin: rpio.Pin(pin), done: make(chan struct{})}
	l.pin.Output()
	l.pin.Low()
	go l.blink()
	return l
}

func (l *RpiLED) Set(mode LEDMode) {
	l.mode.Store(int32(mode))
	if mode == LEDOff {
		l.pin.Low()
	}
}

func (l *RpiLED) Close() {
	close(l.done)
	l.pin.Low()
}

func (l *RpiLED) blink() {
	// 100ms base tick, the slow pattern toggles every 5th.
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	n := 0
	for {
		select {
		case <-l.done:
			return
		case <-tick.C:
		}
		switch LEDMode(l.mode.Load()) {
		case LEDOff:
			n = 0
		case LEDSlow:
			if n++; n >= 5 {
				n = 0
				l.pin.Toggle()
			}
		case LEDFast:
			l.pin.Toggle()
		}
	}
}

// RpiBeeper drives the buzzer with the hardware PWM of a GPIO pin. The
// period and duty are counts of the 16 MHz PWM reference, matching the
// values kept in the configuration store.
type RpiBeeper struct {
	pin rpio.Pin
}

func NewRpiBeeper(pin int) *RpiBeeper {
	b := &RpiBeeper{pin: rpio.Pin(pin)}
	b.pin.Mode(rpio.Pwm)
	return b
}

func (b *RpiBeeper) Tone(period uint16, duty uint8) {
	if period == 0 {
		// DC buzzer configuration: steady level instead of a tone.
		b.pin.Output()
		b.pin.High()
		return
	}
	b.pin.Mode(rpio.Pwm)
	b.pin.Freq(16000000)
	b.pin.DutyCycle(uint32(duty), uint32(period))
}

func (b *RpiBeeper) Off() {
	b.pin.Output()
	b.pin.Low()
}
