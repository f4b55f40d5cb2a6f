/*
 * axpcore - Device/MMIO collaborator.
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

// Package mmio defines the narrow interface the core calls into above
// the physical-memory ceiling named by platform.Profile.MMIO -- the
// boundary where an access leaves the cache hierarchy and enters device
// land. Device models live outside this module; NullCollaborator is the
// only implementation shipped here, and a host embedding this module
// supplies its own.
package mmio

import (
	"fmt"

	"github.com/rcornwell/axpcore/platform"
	"github.com/rcornwell/axpcore/util/hexutil"
)

// Collaborator is whatever answers reads and writes that fall inside the
// profile's MMIO window instead of going through the cache hierarchy.
type Collaborator interface {
	Read(pa uint64, length int) ([]byte, error)
	Write(pa uint64, data []byte) error
}

// NullCollaborator is the default: reads return zero-filled data, writes
// are silently discarded. This keeps the MMIO window addressable -- a
// guest that probes it doesn't fault -- without pretending to model any
// particular device.
type NullCollaborator struct{}

func (NullCollaborator) Read(pa uint64, length int) ([]byte, error) {
	return make([]byte, length), nil
}

func (NullCollaborator) Write(pa uint64, data []byte) error {
	return nil
}

// DescribeWindow renders a profile's MMIO window for diagnostics output
// (the `axpcore inspect mmio` subcommand).
func DescribeWindow(p *platform.Profile) string {
	return fmt.Sprintf("%s MMIO window [%s, %s]",
		p.Generation, hexutil.Quad(p.MMIO.Base), hexutil.Quad(p.MMIO.Limit))
}
