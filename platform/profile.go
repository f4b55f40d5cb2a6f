/*
 * axpcore - Per-generation platform profile.
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

// Package platform carries every generation-specific constant in a single
// value, Profile, constructed once per run and passed by reference into
// every component that needs generation-specific layout. No component
// holds a package-level mutable singleton.
package platform

// Generation identifies an Alpha AXP implementation generation.
type Generation int

const (
	EV4 Generation = iota
	EV5
	EV56
	EV6
	EV67
	EV7
)

func (g Generation) String() string {
	switch g {
	case EV4:
		return "EV4"
	case EV5:
		return "EV5"
	case EV56:
		return "EV56"
	case EV6:
		return "EV6"
	case EV67:
		return "EV67"
	case EV7:
		return "EV7"
	default:
		return "unknown"
	}
}

// IPRLayout names the internal-processor-register numbers this profile's
// generation actually implements, for the subset of IPRs the PAL executor
// touches. Numbers follow the per-generation IPR tables of the Alpha
// Architecture Reference Manual; registers not referenced by any
// instruction this core implements (e.g. EV7 cache-diagnostic shift
// registers) are intentionally left unnamed.
type IPRLayout struct {
	PS       uint32 // Processor Status
	ExcAddr  uint32 // Exception Address
	ExcSum   uint32 // Exception Summary
	PalBase  uint32 // PAL Base Address
	ICSR     uint32 // Ibox/Istream Control-Status
	SIRR     uint32 // Software Interrupt Request
	WhoAmI   uint32 // Per-CPU identity register, used by SMP PAL calls
}

// MMIOWindow is the physical address range above main memory routed to the
// device/MMIO collaborator instead of the cache hierarchy.
type MMIOWindow struct {
	Base  uint64
	Limit uint64
}

// Profile bundles everything generation-specific. Build one per run (or per
// CPU, if a configuration mixes generations) and pass it by reference.
type Profile struct {
	Generation Generation
	IPRs       IPRLayout
	MMIO       MMIOWindow

	// PageBits is log2(page size); 13 for the architectural default of
	// 8 KiB pages.
	PageBits uint

	// MaxASN bounds the address-space-number field width for this
	// generation's TLB.
	MaxASN uint32
}

// Default returns the profile used when configuration does not request a
// specific generation: EV6, 8 KiB pages, 8-bit ASN.
func Default() *Profile {
	return ForGeneration(EV6)
}

// ForGeneration builds the profile for a named generation.
func ForGeneration(gen Generation) *Profile {
	p := &Profile{
		Generation: gen,
		PageBits:   13,
		MaxASN:     0xffff,
	}
	switch gen {
	case EV4, EV5, EV56:
		p.IPRs = IPRLayout{PS: 0x06, ExcAddr: 0x07, ExcSum: 0x08, PalBase: 0x09, ICSR: 0x01, SIRR: 0x0B}
		p.MMIO = MMIOWindow{Base: 0x00000801fc000000, Limit: 0x00000801ffffffff}
		p.MaxASN = 0x3f
	case EV6, EV67:
		p.IPRs = IPRLayout{PS: 0x00, ExcAddr: 0x05, ExcSum: 0x00, PalBase: 0x09, ICSR: 0x0A, SIRR: 0x02, WhoAmI: 0x0F}
		p.MMIO = MMIOWindow{Base: 0x00000801fe000000, Limit: 0x00000801feffffff}
		p.MaxASN = 0xff
	case EV7:
		p.IPRs = IPRLayout{PS: 0x00, ExcAddr: 0x04, ExcSum: 0x05, PalBase: 0x07, ICSR: 0x08, SIRR: 0x02, WhoAmI: 0x0F}
		p.MMIO = MMIOWindow{Base: 0x00000801ff000000, Limit: 0x00000801ffffffff}
		p.MaxASN = 0xffff
	default:
		p.IPRs = IPRLayout{PS: 0x00, ExcAddr: 0x05, ExcSum: 0x00, PalBase: 0x09, ICSR: 0x0A, SIRR: 0x02}
		p.MMIO = MMIOWindow{Base: 0x00000801fe000000, Limit: 0x00000801feffffff}
	}
	return p
}

// PageSize returns the page size in bytes for this profile.
func (p *Profile) PageSize() uint64 {
	return uint64(1) << p.PageBits
}

// IsMMIO reports whether a physical address falls in this profile's MMIO
// window and should bypass the cache hierarchy.
func (p *Profile) IsMMIO(pa uint64) bool {
	return pa >= p.MMIO.Base && pa <= p.MMIO.Limit
}
