/*
 * hp3478ext - Timebase test cases.
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
	"testing"
)

func TestElapsed8(t *testing.T) {
	if Elapsed8(100, 100, 200) {
		t.Error("no time passed")
	}
	if Elapsed8(300, 100, 200) {
		t.Error("200 is within the budget")
	}
	if !Elapsed8(301, 100, 200) {
		t.Error("201ms past the stamp")
	}
	// The 8-bit delta wraps correctly across the counter boundary.
	if Elapsed8(0x0005, 0xfb, 200) {
		t.Error("10ms across the wrap reported as expired")
	}
	if !Elapsed8(0x00ff, 0x05, 200) {
		t.Error("250ms across the wrap not expired")
	}
}

func TestExpired(t *testing.T) {
	if !Expired(100, 100) {
		t.Error("deadline now is due")
	}
	if !Expired(101, 100) {
		t.Error("deadline passed")
	}
	if Expired(100, 101) {
		t.Error("deadline ahead")
	}
	// Wrapped deadline: now near the top, deadline just past zero.
	if Expired(0xfff0, 0x0010) {
		t.Error("wrapped future deadline reported due")
	}
	if !Expired(0x0010, 0xfff0) {
		t.Error("wrapped past deadline not due")
	}
}
