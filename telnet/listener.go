/*
 * hp3478ext - TCP session listener.
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

// Package telnet accepts TCP connections and hands each one to the bridge
// as its serial line. There is one bus, so sessions are served one at a
// time.
package telnet

import (
	"log/slog"
	"net"
)

// Serve accepts connections on addr and runs session for each in turn.
// It returns when the listener fails.
func Serve(addr string, session func(conn net.Conn)) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	slog.Info("Listening for sessions", "addr", addr)

	for {
		conn, err := listener.Accept()
		if err != nil {
			listener.Close()
			return err
		}
		slog.Info("Session connected", "peer", conn.RemoteAddr().String())
		session(conn)
		conn.Close()
		slog.Info("Session closed", "peer", conn.RemoteAddr().String())
	}
}
