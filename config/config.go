/*
 * hp3478ext - Configuration options.
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

// Package config holds the converter's named options: the live values, the
// factory defaults, and their nonvolatile addresses.
package config

import (
	"errors"
)

// Default addresses on the bus.
const (
	DefaultMyAddr    = 21
	DefaultMeterAddr = 23
)

// Settings are the live option values.
type Settings struct {
	ExtEnable byte   // X: extension mode
	Echo      byte   // I: interactive echo
	MyAddr    byte   // C: converter address
	MeterAddr byte   // D: meter address
	EndRX     byte   // R: receive end-of-line mask
	EndTX     byte   // T: transmit end-of-line mask
	Baud      byte   // B: baud rate code
	InitMode  uint16 // M: packed status bytes 0/1 reapplied after power-on SRQ

	BeepPeriod uint16 // P: buzzer PWM period
	BeepDuty   byte   // U: buzzer PWM duty

	ContRange     byte   // G: continuity range code
	ContThreshold uint16 // Q: continuity threshold in counts
	ContLatch     byte   // K: readings above threshold before the buzzer stops

	// Continuity buzzer interpolation break-points: at reading V1 the
	// buzzer runs P1/D1, at V2 it runs P2/D2, linear in between.
	ContBeepV1 uint16 // V
	ContBeepV2 uint16 // W
	ContBeepP1 uint16 // Y
	ContBeepP2 uint16 // Z
	ContBeepD1 byte   // S
	ContBeepD2 byte   // A
}

// NV addresses. One or two bytes per option; gaps keep compatibility with
// earlier layouts.
const (
	addrBeepDuty   = 0
	addrBeepPeriod = 1 // 2 bytes
	addrBaud       = 3
	addrEndTX      = 4
	addrEndRX      = 5
	addrMeterAddr  = 7
	addrMyAddr     = 8
	addrEcho       = 9
	addrExtEnable  = 10
	addrInitMode   = 12 // 2 bytes

	addrContRange     = 20
	addrContThreshold = 24 // 2 bytes
	addrContLatch     = 28
	addrContBeepV1    = 32 // 2 bytes
	addrContBeepV2    = 36 // 2 bytes
	addrContBeepD1    = 40
	addrContBeepD2    = 44
	addrContBeepP1    = 48 // 2 bytes
	addrContBeepP2    = 52 // 2 bytes
)

// ErrRange is returned for a value above the option's maximum or an
// unknown option name.
var ErrRange = errors.New("config: value out of range")

type option struct {
	name byte
	max  uint16
	def  uint16
	addr int64
	size int // 1 or 2 bytes
	get  func(*Settings) uint16
	set  func(*Settings, uint16)
}

var options = []option{
	{'X', 1, 0, addrExtEnable, 1,
		func(s *Settings) uint16 { return uint16(s.ExtEnable) },
		func(s *Settings, v uint16) { s.ExtEnable = byte(v) }},
	{'I', 1, 1, addrEcho, 1,
		func(s *Settings) uint16 { return uint16(s.Echo) },
		func(s *Settings, v uint16) { s.Echo = byte(v) }},
	{'C', 30, DefaultMyAddr, addrMyAddr, 1,
		func(s *Settings) uint16 { return uint16(s.MyAddr) },
		func(s *Settings, v uint16) { s.MyAddr = byte(v) }},
	{'D', 31, DefaultMeterAddr, addrMeterAddr, 1,
		func(s *Settings) uint16 { return uint16(s.MeterAddr) },
		func(s *Settings, v uint16) { s.MeterAddr = byte(v) }},
	{'R', 7, 4, addrEndRX, 1,
		func(s *Settings) uint16 { return uint16(s.EndRX) },
		func(s *Settings, v uint16) { s.EndRX = byte(v) }},
	{'T', 7, 4, addrEndTX, 1,
		func(s *Settings) uint16 { return uint16(s.EndTX) },
		func(s *Settings, v uint16) { s.EndTX = byte(v) }},
	{'B', 4, 0, addrBaud, 1,
		func(s *Settings) uint16 { return uint16(s.Baud) },
		func(s *Settings, v uint16) { s.Baud = byte(v) }},
	{'M', 0xfffe, 0, addrInitMode, 2,
		func(s *Settings) uint16 { return s.InitMode },
		func(s *Settings, v uint16) { s.InitMode = v }},
	{'P', 0xfffe, 10000, addrBeepPeriod, 2,
		func(s *Settings) uint16 { return s.BeepPeriod },
		func(s *Settings, v uint16) { s.BeepPeriod = v }},
	{'U', 254, 15, addrBeepDuty, 1,
		func(s *Settings) uint16 { return uint16(s.BeepDuty) },
		func(s *Settings, v uint16) { s.BeepDuty = byte(v) }},
	{'G', 7, 1, addrContRange, 1,
		func(s *Settings) uint16 { return uint16(s.ContRange) },
		func(s *Settings, v uint16) { s.ContRange = byte(v) }},
	{'Q', 0xfffe, 1000, addrContThreshold, 2,
		func(s *Settings) uint16 { return s.ContThreshold },
		func(s *Settings, v uint16) { s.ContThreshold = v }},
	{'K', 254, 0, addrContLatch, 1,
		func(s *Settings) uint16 { return uint16(s.ContLatch) },
		func(s *Settings, v uint16) { s.ContLatch = byte(v) }},
	{'V', 0xfffe, 1000, addrContBeepV1, 2,
		func(s *Settings) uint16 { return s.ContBeepV1 },
		func(s *Settings, v uint16) { s.ContBeepV1 = v }},
	{'W', 0xfffe, 1000, addrContBeepV2, 2,
		func(s *Settings) uint16 { return s.ContBeepV2 },
		func(s *Settings, v uint16) { s.ContBeepV2 = v }},
	{'Y', 0xfffe, 10000, addrContBeepP1, 2,
		func(s *Settings) uint16 { return s.ContBeepP1 },
		func(s *Settings, v uint16) { s.ContBeepP1 = v }},
	{'Z', 0xfffe, 10000, addrContBeepP2, 2,
		func(s *Settings) uint16 { return s.ContBeepP2 },
		func(s *Settings, v uint16) { s.ContBeepP2 = v }},
	{'S', 254, 15, addrContBeepD1, 1,
		func(s *Settings) uint16 { return uint16(s.ContBeepD1) },
		func(s *Settings, v uint16) { s.ContBeepD1 = byte(v) }},
	{'A', 254, 15, addrContBeepD2, 1,
		func(s *Settings) uint16 { return uint16(s.ContBeepD2) },
		func(s *Settings, v uint16) { s.ContBeepD2 = byte(v) }},
}

func find(name byte) *option {
	for i := range options {
		if options[i].name == name {
			return &options[i]
		}
	}
	return nil
}

// Config is the live option set bound to its nonvolatile store.
type Config struct {
	Settings
	store Store
}

func New(store Store) *Config {
	cfg := &Config{store: store}
	cfg.Defaults(0)
	return cfg
}

// Defaults resets the live values to the factory set. Set 0 is for
// interactive operation, set 1 turns echo off for a program driven link.
// Nothing is persisted.
func (c *Config) Defaults(set int) {
	for _, opt := range options {
		opt.set(&c.Settings, opt.def)
	}
	if set != 0 {
		c.Echo = 0
	}
}

// Load reads every option from the store. A cell that is still erased or
// holds a value above the option's maximum is treated as absent and the
// factory default is kept.
func (c *Config) Load() {
	if c.store == nil {
		return
	}
	var b [2]byte
	for _, opt := range options {
		if _, err := c.store.ReadAt(b[:opt.size], opt.addr); err != nil {
			continue
		}
		v := uint16(b[0])
		if opt.size == 2 {
			v |= uint16(b[1]) << 8
		}
		if v > opt.max {
			continue // erased or corrupt, keep the default
		}
		opt.set(&c.Settings, v)
	}
}

// Valid reports whether name is a known option.
func Valid(name byte) bool { return find(name) != nil }

// Get returns the live value of an option.
func (c *Config) Get(name byte) (uint16, error) {
	opt := find(name)
	if opt == nil {
		return 0, ErrRange
	}
	return opt.get(&c.Settings), nil
}

// Set updates the live value, and persists it when write is set. Values
// above the option's maximum are rejected and the live value is kept.
func (c *Config) Set(name byte, v uint16, write bool) error {
	opt := find(name)
	if opt == nil || v > opt.max {
		return ErrRange
	}
	opt.set(&c.Settings, v)
	if write && c.store != nil {
		b := [2]byte{byte(v), byte(v >> 8)}
		if _, err := c.store.WriteAt(b[:opt.size], opt.addr); err != nil {
			return err
		}
	}
	return nil
}

// ControllerAddr and MeterAddr satisfy the protocol layer's address
// source.
func (c *Config) ControllerAddr() byte { return c.MyAddr }
func (c *Config) MeterAddr() byte      { return c.Settings.MeterAddr }

// BaudRate maps the baud option code to bits per second.
func BaudRate(code byte) int {
	switch code {
	case 2:
		return 500000
	case 3:
		return 1000000
	case 4:
		return 2000000
	default:
		return 115200
	}
}
