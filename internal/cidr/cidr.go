// Package cidr parses IPv4 addresses and CIDR ranges and answers containment
// questions over them. It holds no state and performs no I/O.
package cidr

import (
	"fmt"
	"net/netip"
	"strings"
)

const fullMask = uint32(0xFFFFFFFF)

// Address is an IPv4 address packed big-endian into 32 bits.
type Address uint32

// Range is a base address plus a prefix length in [0,32]. Base may carry host
// bits; they are ignored by Contains.
type Range struct {
	Base   Address
	Prefix uint8
}

// FormatError reports a malformed address or range string.
type FormatError struct {
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("cidr: invalid %q: %s", e.Input, e.Reason)
}

// ParseAddress parses dotted-quad notation. Leading zeros, IPv6 and mapped
// IPv4 forms are rejected.
func ParseAddress(raw string) (Address, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, &FormatError{Input: raw, Reason: "empty address"}
	}
	if strings.Count(s, ".") != 3 {
		return 0, &FormatError{Input: raw, Reason: "expected four octets"}
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return 0, &FormatError{Input: raw, Reason: "octets must be decimal values in 0-255"}
	}
	if !addr.Is4() {
		return 0, &FormatError{Input: raw, Reason: "not an IPv4 address"}
	}

	return fromAddr(addr), nil
}

// ParseRange parses a.b.c.d/p with p in [0,32].
func ParseRange(raw string) (Range, error) {
	s := strings.TrimSpace(raw)
	base, bits, found := strings.Cut(s, "/")
	if !found {
		return Range{}, &FormatError{Input: raw, Reason: "missing prefix length"}
	}

	addr, err := ParseAddress(base)
	if err != nil {
		return Range{}, &FormatError{Input: raw, Reason: err.(*FormatError).Reason}
	}

	prefix, ok := parsePrefix(bits)
	if !ok {
		return Range{}, &FormatError{Input: raw, Reason: "prefix length must be 0-32"}
	}

	return Range{Base: addr, Prefix: prefix}, nil
}

func parsePrefix(s string) (uint8, bool) {
	if s == "" || len(s) > 2 {
		return 0, false
	}
	if len(s) == 2 && s[0] == '0' {
		return 0, false
	}

	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	if n > 32 {
		return 0, false
	}
	return uint8(n), true
}

// Mask returns the network mask for a prefix length. Prefix 0 yields 0 so the
// whole address space matches; values above 32 are clamped.
func Mask(prefix uint8) uint32 {
	if prefix == 0 {
		return 0
	}
	if prefix >= 32 {
		return fullMask
	}
	return fullMask << (32 - uint32(prefix))
}

// Contains reports whether candidate falls inside r.
func Contains(candidate Address, r Range) bool {
	mask := Mask(r.Prefix)
	return uint32(candidate)&mask == uint32(r.Base)&mask
}

// Contains is the method form of the package-level Contains.
func (r Range) Contains(candidate Address) bool {
	return Contains(candidate, r)
}

// Match validates both strings and tests containment.
func Match(address, rangeString string) (bool, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return false, err
	}
	r, err := ParseRange(rangeString)
	if err != nil {
		return false, err
	}
	return Contains(addr, r), nil
}

// First returns the network address of r.
func (r Range) First() Address {
	return Address(uint32(r.Base) & Mask(r.Prefix))
}

// Last returns the broadcast address of r.
func (r Range) Last() Address {
	return Address(uint32(r.First()) | ^Mask(r.Prefix))
}

// Size returns the number of addresses covered by r.
func (r Range) Size() uint64 {
	return uint64(1) << (32 - uint64(r.Prefix))
}

func (r Range) String() string {
	return fmt.Sprintf("%s/%d", r.Base, r.Prefix)
}

func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
}

func fromAddr(addr netip.Addr) Address {
	b := addr.As4()
	return Address(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
}
