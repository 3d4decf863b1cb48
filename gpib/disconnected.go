/*
 * hp3478ext - Disconnected bus stub.
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

package gpib

// Disconnected is a bus with nothing on it: every line reads released and
// data reads as zero. It lets the program run for shell development
// without GPIO hardware; bus operations simply time out, exactly as on a
// real adapter with no cable.
type Disconnected struct {
	ren bool
}

func (d *Disconnected) SetATN(bool) {}
func (d *Disconnected) SetREN(assert bool) {
	d.ren = assert
}
func (d *Disconnected) SetIFC(bool)  {}
func (d *Disconnected) SetEOI(bool)  {}
func (d *Disconnected) SetDAV(bool)  {}
func (d *Disconnected) SetNRFD(bool) {}
func (d *Disconnected) SetNDAC(bool) {}

func (d *Disconnected) DAV() bool  { return false }
func (d *Disconnected) NRFD() bool { return false }
func (d *Disconnected) NDAC() bool { return false }
func (d *Disconnected) SRQ() bool  { return false }
func (d *Disconnected) EOI() bool  { return false }
func (d *Disconnected) REN() bool  { return d.ren }

func (d *Disconnected) DataPut(byte)   {}
func (d *Disconnected) DataGet() byte  { return 0 }
func (d *Disconnected) ConfigTalker()  {}
func (d *Disconnected) ConfigListener() {}
func (d *Disconnected) SettleData()    {}
