package acl

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"net/netip"
	"strconv"
	"strings"
)

// ErrWrongIP 表达式无法解析为地址、范围、CIDR 或通配符
var ErrWrongIP = errors.New("malformed IP expression")

// Range 解析后的归一化地址区间。IPv4 用 32 位数值边界；IPv6 用定宽
// 32 位十六进制字符串边界（字典序即数值序）。
type Range struct {
	IPText  string
	Ver6    bool
	BeginV4 uint32
	EndV4   uint32
	BeginV6 string
	EndV6   string
}

// Single reports whether the range covers exactly one address.
func (r *Range) Single() bool {
	if r.Ver6 {
		return r.BeginV6 == r.EndV6
	}
	return r.BeginV4 == r.EndV4
}

// Contains 判断地址是否落在区间内（含边界）
func (r *Range) Contains(addr netip.Addr) bool {
	if r.Ver6 {
		if !addr.Is6() || addr.Is4In6() {
			return false
		}
		h := v6Hex(addr)
		return r.BeginV6 <= h && h <= r.EndV6
	}
	if !addr.Is4() {
		return false
	}
	n := v4Numeric(addr)
	return r.BeginV4 <= n && n <= r.EndV4
}

// Parse normalizes an IP expression into a range. Accepted forms, both
// families: a single address, a hyphenated range, CIDR notation, and
// wildcard notation ("192.168.1.*", "2001:db8:*").
func Parse(expr string) (*Range, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, ErrWrongIP
	}

	switch {
	case strings.Contains(expr, "/"):
		return parseCIDR(expr)
	case strings.Contains(expr, "*"):
		return parseWildcard(expr)
	case strings.Contains(expr, "-") && !strings.Contains(expr, ":"):
		return parseHyphenRange(expr)
	case strings.Count(expr, "-") == 1 && strings.Contains(expr, ":"):
		return parseHyphenRange(expr)
	}

	addr, err := netip.ParseAddr(expr)
	if err != nil {
		return nil, ErrWrongIP
	}
	return rangeFromAddrs(expr, addr, addr)
}

func parseHyphenRange(expr string) (*Range, error) {
	parts := strings.SplitN(expr, "-", 2)
	lo, err1 := netip.ParseAddr(strings.TrimSpace(parts[0]))
	hi, err2 := netip.ParseAddr(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return nil, ErrWrongIP
	}
	if lo.Is4() != hi.Is4() {
		return nil, ErrWrongIP
	}
	if hi.Less(lo) {
		lo, hi = hi, lo
	}
	return rangeFromAddrs(expr, lo, hi)
}

func parseCIDR(expr string) (*Range, error) {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(expr))
	if err != nil {
		return nil, ErrWrongIP
	}
	prefix = prefix.Masked()
	lo := prefix.Addr()
	hi := lastAddr(prefix)
	return rangeFromAddrs(expr, lo, hi)
}

// parseWildcard 通配符展开：被 * 覆盖的段取 0..max
func parseWildcard(expr string) (*Range, error) {
	if strings.Contains(expr, ":") {
		return parseWildcardV6(expr)
	}

	parts := strings.Split(expr, ".")
	if len(parts) != 4 {
		return nil, ErrWrongIP
	}
	var lo, hi [4]byte
	seenStar := false
	for i, p := range parts {
		if p == "*" {
			seenStar = true
			lo[i], hi[i] = 0, 255
			continue
		}
		if seenStar {
			// 通配段之后不允许再出现具体段
			return nil, ErrWrongIP
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return nil, ErrWrongIP
		}
		lo[i], hi[i] = byte(n), byte(n)
	}
	if !seenStar {
		return nil, ErrWrongIP
	}
	return rangeFromAddrs(expr, netip.AddrFrom4(lo), netip.AddrFrom4(hi))
}

func parseWildcardV6(expr string) (*Range, error) {
	// 仅支持尾部通配："2001:db8:*" 即剩余组全取 0..ffff
	trimmed := strings.TrimSuffix(expr, ":*")
	if trimmed == expr || strings.Contains(trimmed, "*") {
		return nil, ErrWrongIP
	}
	groups := strings.Split(trimmed, ":")
	if len(groups) == 0 || len(groups) > 7 {
		return nil, ErrWrongIP
	}
	var lo, hi [16]byte
	for i, g := range groups {
		n, err := strconv.ParseUint(g, 16, 16)
		if err != nil {
			return nil, ErrWrongIP
		}
		binary.BigEndian.PutUint16(lo[i*2:], uint16(n))
		binary.BigEndian.PutUint16(hi[i*2:], uint16(n))
	}
	for i := len(groups) * 2; i < 16; i++ {
		hi[i] = 0xff
	}
	return rangeFromAddrs(expr, netip.AddrFrom16(lo), netip.AddrFrom16(hi))
}

func rangeFromAddrs(text string, lo, hi netip.Addr) (*Range, error) {
	r := &Range{IPText: text}
	if lo.Is4() {
		r.BeginV4 = v4Numeric(lo)
		r.EndV4 = v4Numeric(hi)
		return r, nil
	}
	r.Ver6 = true
	r.BeginV6 = v6Hex(lo)
	r.EndV6 = v6Hex(hi)
	return r, nil
}

func lastAddr(p netip.Prefix) netip.Addr {
	if p.Addr().Is4() {
		b := p.Addr().As4()
		n := binary.BigEndian.Uint32(b[:])
		n |= ^uint32(0) >> p.Bits()
		var out [4]byte
		binary.BigEndian.PutUint32(out[:], n)
		return netip.AddrFrom4(out)
	}
	b := p.Addr().As16()
	for i := p.Bits(); i < 128; i++ {
		b[i/8] |= 1 << (7 - i%8)
	}
	return netip.AddrFrom16(b)
}

func v4Numeric(addr netip.Addr) uint32 {
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:])
}

func v6Hex(addr netip.Addr) string {
	b := addr.As16()
	return hex.EncodeToString(b[:])
}
