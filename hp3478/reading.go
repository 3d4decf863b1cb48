/*
 * hp3478ext - Measurement reading model.
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

// Reading is a measurement as reported by the meter: a signed mantissa, a
// decimal point position counted from the most significant digit, and a
// decimal exponent. Dot+Exp identifies the numeric scale and is the
// alignment key for arithmetic between readings. Exp 9 is the overload
// sentinel.
type Reading struct {
	Value int32
	Dot   uint8
	Exp   int8
}

// Overload reports whether r is the out-of-range sentinel.
func (r Reading) Overload() bool { return r.Exp == 9 }

// ParseReading decodes the meter's ASCII form "±d.ddddddE±e".
func ParseReading(buf []byte) (Reading, bool) {
	var r Reading

	if len(buf) < 2 {
		return r, false
	}
	neg := buf[0] == '-'
	var v int32
	i := 1
	for ; i < len(buf); i++ {
		if buf[i] == 'E' {
			break
		}
		if buf[i] == '.' {
			r.Dot = uint8(i - 1)
		} else {
			v = v*10 + int32(buf[i]-'0')
		}
	}
	i++
	if len(buf)-i < 2 {
		return r, false
	}
	if neg {
		v = -v
	}
	r.Value = v
	if buf[i] == '-' {
		r.Exp = int8('0' - buf[i+1])
	} else {
		r.Exp = int8(buf[i+1] - '0')
	}
	return r, true
}

// Cmp compares two readings numerically: -1 when r1 < r2, 0 when equal,
// 1 when r1 > r2. It is a total order on non-overload readings.
func Cmp(r1, r2 Reading) int {
	v1 := int64(r1.Value)
	v2 := int64(r2.Value)
	e1 := int(r1.Exp) + int(r1.Dot)
	e2 := int(r2.Exp) + int(r2.Dot)

	if v1 < 0 && v2 >= 0 {
		return -1
	}
	if v2 < 0 && v1 >= 0 {
		return 1
	}
	if v1 < 0 && v2 < 0 {
		// Both negative: the larger magnitude is the smaller reading.
		return Cmp(Reading{Value: -r2.Value, Dot: r2.Dot, Exp: r2.Exp},
			Reading{Value: -r1.Value, Dot: r1.Dot, Exp: r1.Exp})
	}
	if e1 >= e2 {
		for {
			if v1 > v2 {
				return 1
			}
			if e1 == e2 {
				if v1 == v2 {
					return 0
				}
				return -1
			}
			v1 *= 10
			e1--
		}
	}
	for {
		if v2 > v1 {
			return -1
		}
		if e1 == e2 {
			if v1 == v2 {
				return 0
			}
			return 1
		}
		v2 *= 10
		e2--
	}
}

// Sub subtracts ref from in, aligning both to the coarser scale first. The
// result keeps the scale of the coarser operand so no precision is
// invented.
func Sub(in, ref Reading) Reading {
	var out Reading

	eRef := int(ref.Exp) + int(ref.Dot)
	eIn := int(in.Exp) + int(in.Dot)

	if eIn >= eRef {
		for i := eRef; i < eIn; i++ {
			ref.Value /= 10
		}
		out.Dot = in.Dot
		out.Exp = in.Exp
	} else {
		for i := eIn; i < eRef; i++ {
			in.Value /= 10
		}
		out.Dot = ref.Dot
		out.Exp = ref.Exp
	}
	out.Value = in.Value - ref.Value
	return out
}

// scaleChar is the multiplier letter on the display. The meter's segment
// display has no lowercase, so milli and mega share 'M' like the factory
// firmware does.
func scaleChar(exp int8) byte {
	switch exp {
	case -3:
		return 'M'
	case 0:
		return ' '
	case 3:
		return 'K'
	case 6:
		return 'M'
	case 9:
		return 'G'
	}
	return '?'
}

// overloadDot picks the decimal point slot of the "OVLD" overlay so it
// lines up with where the live display shows it for that function/range.
func overloadDot(st byte) int {
	switch st & (StRange | StFunc) {
	case StRange2 | StFuncDCA,
		StRange2 | StFuncACA,
		StRange3 | StFuncDCV,
		StRange3 | StFunc2WOhm,
		StRange3 | StFunc4WOhm,
		StRange6 | StFunc2WOhm,
		StRange6 | StFunc4WOhm:
		return 1
	case StRange1 | StFuncDCV,
		StRange1 | StFunc2WOhm,
		StRange1 | StFunc4WOhm,
		StRange3 | StFuncACV,
		StRange4 | StFuncDCV,
		StRange4 | StFunc2WOhm,
		StRange4 | StFunc4WOhm,
		StRange7 | StFunc2WOhm,
		StRange7 | StFunc4WOhm:
		return 2
	default:
		return 3
	}
}

func overloadScale(st byte) byte {
	switch st & (StRange | StFunc) {
	case StRange1 | StFuncDCV,
		StRange1 | StFuncACV,
		StRange1 | StFuncDCA,
		StRange1 | StFuncACA,
		StRange2 | StFuncDCV,
		StRange6 | StFunc2WOhm,
		StRange6 | StFunc4WOhm,
		StRange7 | StFunc2WOhm,
		StRange7 | StFunc4WOhm:
		return 'M'
	case StRange3 | StFunc2WOhm,
		StRange3 | StFunc4WOhm,
		StRange4 | StFunc2WOhm,
		StRange4 | StFunc4WOhm,
		StRange5 | StFunc2WOhm,
		StRange5 | StFunc4WOhm:
		return 'K'
	default:
		return ' '
	}
}

// FormatReading renders a reading into the 13 character display field:
// sign, seven digit positions with the decimal point, multiplier, units
// and an optional mode indicator in the last cell. st is status byte 0
// (function/range/digits). A lowercase indicator selects alternate units
// without occupying the last cell ('d' diode volts, 'c' Celsius).
func FormatReading(r Reading, st byte, ind byte) string {
	var d [13]byte
	var scale byte

	f := st & StFunc
	i := 0
	if r.Exp == 9 && r.Value >= 999900 {
		dot := overloadDot(st)
		d[0] = ' '
		d[1] = ' '
		i = 2
		if dot == 1 {
			d[i] = '.'
			i++
		}
		d[i] = 'O'
		i++
		if dot == 2 {
			d[i] = '.'
			i++
		}
		d[i] = 'V'
		i++
		if dot == 3 {
			d[i] = '.'
			i++
		}
		d[i] = 'L'
		i++
		d[i] = 'D'
		i++
		for i != 8 {
			d[i] = ' '
			i++
		}
		scale = overloadScale(st)
	} else {
		if r.Value >= 0 {
			if f == StFuncDCA || f == StFuncDCV {
				d[0] = '+'
			} else {
				d[0] = ' '
			}
		} else {
			d[0] = '-'
			r.Value = -r.Value
		}

		for i := 7; i > 0; i-- {
			if (st&StDigits != StDigits5 && i == 7) ||
				(st&StDigits == StDigits3 && i == 6) {
				d[i] = ' '
			} else {
				d[i] = byte(r.Value%10) + '0'
			}
			r.Value /= 10
			if i == int(r.Dot)+2 {
				i--
				d[i] = '.'
			}
		}
		scale = scaleChar(r.Exp)
	}

	i = 8
	if ind == 0 {
		d[i] = ' '
		i++
	}
	d[i] = scale
	i++

	var unit string
	switch {
	case ind == 'd':
		unit = "V  "
	case ind == 'c':
		unit = "C  "
	default:
		switch f {
		case StFuncDCV:
			unit = "VDC"
		case StFuncACV:
			unit = "VAC"
		case StFunc2WOhm, StFunc4WOhm:
			unit = "OHM"
		case StFuncDCA:
			unit = "ADC"
		case StFuncACA:
			unit = "ACA"
		default:
			unit = "???"
		}
	}
	copy(d[i:], unit)
	if ind != 0 {
		if ind < 'a' {
			d[12] = ind
		} else {
			d[12] = ' '
		}
	}
	return string(d[:])
}
