/*
 * hp3478ext - Main process.
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

package main

import (
	"io"
	"log/slog"
	"net"
	"os"

	getopt "github.com/pborman/getopt/v2"
	rpio "github.com/stianeikeland/go-rpio/v4"
	serial "github.com/tarm/serial"

	"github.com/KIrill-ka/hp3478ext/bridge"
	reader "github.com/KIrill-ka/hp3478ext/command/reader"
	"github.com/KIrill-ka/hp3478ext/command/shell"
	"github.com/KIrill-ka/hp3478ext/config"
	"github.com/KIrill-ka/hp3478ext/ext"
	"github.com/KIrill-ka/hp3478ext/gpib"
	"github.com/KIrill-ka/hp3478ext/hp3478"
	"github.com/KIrill-ka/hp3478ext/hw"
	"github.com/KIrill-ka/hp3478ext/telnet"
	"github.com/KIrill-ka/hp3478ext/uart"
	logger "github.com/KIrill-ka/hp3478ext/util/logger"
)

// GPIO pins for the status LED and the buzzer PWM.
const (
	ledPin  = 21
	beepPin = 12
)

// consoleOut is the serial line stand-in for --console: writes go to
// stdout, reads block forever since the console reader owns stdin.
type consoleOut struct{}

func (consoleOut) Write(b []byte) (int, error) { return os.Stdout.Write(b) }
func (consoleOut) Read([]byte) (int, error)    { select {} }

func main() {
	optDevice := getopt.StringLong("device", 'd', "", "Serial device for the UART side")
	optListen := getopt.StringLong("listen", 'p', "", "TCP listen address instead of a serial device")
	optConsole := getopt.BoolLong("console", 'c', "Interactive console on the local terminal")
	optEEPROM := getopt.StringLong("eeprom", 'e', "hp3478ext.eep", "Option storage file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optDebug := getopt.BoolLong("debug", 'g', "Log debug to console")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var logFile io.Writer
	if *optLogFile != "" {
		if f, err := os.Create(*optLogFile); err == nil {
			logFile = f
		}
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	log := slog.New(logger.NewHandler(logFile, &slog.HandlerOptions{Level: programLevel}, *optDebug))
	slog.SetDefault(log)

	log.Info("hp3478ext started")

	store, err := config.OpenFile(*optEEPROM)
	if err != nil {
		log.Error("can't open option storage: " + err.Error())
		os.Exit(1)
	}
	cfg := config.New(store)
	cfg.Load()

	// GPIO backed bus when available; a dead bus otherwise, which still
	// lets the shell and option storage be exercised.
	var sig gpib.Signals
	var led hw.LED
	var beep hw.Beeper
	if err := rpio.Open(); err == nil {
		sig = gpib.NewRpioSignals(gpib.DefaultPins)
		led = hw.NewRpiLED(ledPin)
		beep = hw.NewRpiBeeper(beepPin)
	} else {
		log.Info("no GPIO access, bus disconnected", "err", err.Error())
		sig = &gpib.Disconnected{}
		led = &hw.LogLED{}
		beep = &hw.LogBeeper{}
	}

	clk := hw.NewWallClock()
	ctl := gpib.NewController(sig, clk)
	ctl.Talk()
	dev := hp3478.New(ctl, cfg)
	machine := ext.NewMachine(dev, beep, cfg)

	var stream io.ReadWriter
	var setBaud func(code byte)
	var port *uart.Port

	switch {
	case *optConsole:
		cfg.Defaults(1) // the console does its own echo and editing
		cfg.Load()
		cfg.Echo = 0
		stream = consoleOut{}

	case *optDevice != "":
		s, err := serial.OpenPort(&serial.Config{
			Name: *optDevice,
			Baud: config.BaudRate(cfg.Baud),
		})
		if err != nil {
			log.Error("can't open serial device: " + err.Error())
			os.Exit(1)
		}
		stream = s
		setBaud = func(code byte) {
			s.Close()
			ns, err := serial.OpenPort(&serial.Config{
				Name: *optDevice,
				Baud: config.BaudRate(code),
			})
			if err != nil {
				log.Error("baud change failed: " + err.Error())
				return
			}
			s = ns
			port.Reopen(ns)
		}

	case *optListen != "":
		// The port starts without a stream; each accepted
		// connection becomes the line.

	default:
		log.Error("specify --device, --listen or --console")
		getopt.Usage()
		os.Exit(1)
	}

	if *optListen != "" {
		port = uart.NewPort(consoleOut{})
		sh := shell.New(port, ctl, cfg, led, clk, nil)
		br := bridge.New(port, sh, machine, cfg, sig, clk)
		err := telnet.Serve(*optListen, func(conn net.Conn) {
			port.Reopen(conn)
			br.Run()
		})
		log.Error(err.Error())
		os.Exit(1)
	}

	port = uart.NewPort(stream)
	sh := shell.New(port, ctl, cfg, led, clk, setBaud)
	br := bridge.New(port, sh, machine, cfg, sig, clk)

	if *optConsole {
		go func() {
			reader.ConsoleReader(port)
			br.Stop()
		}()
	}

	br.Run()
	log.Info("hp3478ext stopped")
}
