/*
 * axpcore - Debug-trace configuration section.
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

// Package debugconfig wires a single [Debug] configuration section to the
// process-wide trace toggle in util/debug. This core has exactly one
// thing debug mode affects -- util/debug.TraceEnabled(), consulted by the
// barrier elimination policy and the JIT tier selector -- so the section
// is one boolean rather than a per-subsystem dispatch table.
package debugconfig

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rcornwell/axpcore/config/configparser"
	"github.com/rcornwell/axpcore/util/debug"
)

// Register attaches the [Debug] section handler to p. Call once per
// configuration load, before LoadFile.
func Register(p *configparser.Parser) {
	p.Register("Debug", apply)
}

func apply(values map[string]string) error {
	raw, ok := values["Trace"]
	if !ok {
		return nil
	}
	enabled, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("debugconfig: Trace must be true/false, got %q", raw)
	}
	debug.SetTrace(enabled)
	return nil
}
