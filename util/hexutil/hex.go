/*
 * axpcore - Convert register/memory values to hex strings.
 *
 * Copyright 2025, axpcore Authors
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

package hexutil

import "strings"

var hexMap = "0123456789abcdef"

// FormatQuad appends each 64-bit value as 16 hex digits, space separated.
func FormatQuad(str *strings.Builder, quads []uint64) {
	for _, full := range quads {
		shift := 60
		for i := 0; i < 16; i++ {
			str.WriteByte(hexMap[(full>>uint(shift))&0xf])
			shift -= 4
		}
		str.WriteByte(' ')
	}
}

// FormatLong appends a 32-bit value as 8 hex digits.
func FormatLong(str *strings.Builder, word uint32) {
	shift := 28
	for i := 0; i < 8; i++ {
		str.WriteByte(hexMap[(word>>uint(shift))&0xf])
		shift -= 4
	}
}

// FormatBytes appends data as hex pairs, optionally space separated.
func FormatBytes(str *strings.Builder, space bool, data []byte) {
	for _, by := range data {
		str.WriteByte(hexMap[(by>>4)&0xf])
		str.WriteByte(hexMap[by&0xf])
		if space {
			str.WriteByte(' ')
		}
	}
}

// FormatByte appends a single byte as two hex digits.
func FormatByte(str *strings.Builder, data byte) {
	str.WriteByte(hexMap[(data>>4)&0xf])
	str.WriteByte(hexMap[data&0xf])
}

// Quad renders a 64-bit value as a "0x"-prefixed hex string.
func Quad(v uint64) string {
	var b strings.Builder
	b.WriteString("0x")
	FormatQuad(&b, []uint64{v})
	return strings.TrimSpace(b.String())
}
