package acl

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipsentry/internal/constants"
	"ipsentry/internal/testutil"
)

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	addr, err := netip.ParseAddr(s)
	require.NoError(t, err)
	return addr
}

func TestParse_SingleV4(t *testing.T) {
	r, err := Parse("192.168.1.10")
	require.NoError(t, err)
	assert.False(t, r.Ver6)
	assert.True(t, r.Single())
	assert.Equal(t, uint32(0xC0A8010A), r.BeginV4)
	assert.Equal(t, r.BeginV4, r.EndV4)
}

func TestParse_HyphenRangeV4(t *testing.T) {
	r, err := Parse("10.0.0.1 - 10.0.0.100")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x0A000001), r.BeginV4)
	assert.Equal(t, uint32(0x0A000064), r.EndV4)
}

func TestParse_HyphenRangeV4_Reversed(t *testing.T) {
	r, err := Parse("10.0.0.100-10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x0A000001), r.BeginV4)
	assert.Equal(t, uint32(0x0A000064), r.EndV4)
}

func TestParse_CIDRV4(t *testing.T) {
	r, err := Parse("192.168.1.0/24")
	require.NoError(t, err)
	assert.Equal(t, uint32(0xC0A80100), r.BeginV4)
	assert.Equal(t, uint32(0xC0A801FF), r.EndV4)
}

func TestParse_WildcardV4(t *testing.T) {
	r, err := Parse("192.168.*.*")
	require.NoError(t, err)
	assert.Equal(t, uint32(0xC0A80000), r.BeginV4)
	assert.Equal(t, uint32(0xC0A8FFFF), r.EndV4)
}

func TestParse_WildcardV4_StarBeforeConcrete(t *testing.T) {
	_, err := Parse("192.*.1.1")
	assert.ErrorIs(t, err, ErrWrongIP)
}

func TestParse_SingleV6(t *testing.T) {
	r, err := Parse("2001:db8::1")
	require.NoError(t, err)
	assert.True(t, r.Ver6)
	assert.True(t, r.Single())
	assert.Len(t, r.BeginV6, 32)
	assert.Equal(t, "20010db8000000000000000000000001", r.BeginV6)
}

func TestParse_CIDRV6(t *testing.T) {
	r, err := Parse("2001:db8::/32")
	require.NoError(t, err)
	assert.True(t, r.Ver6)
	assert.Equal(t, "20010db8000000000000000000000000", r.BeginV6)
	assert.Equal(t, "20010db8ffffffffffffffffffffffff", r.EndV6)
}

func TestParse_WildcardV6(t *testing.T) {
	r, err := Parse("2001:db8:*")
	require.NoError(t, err)
	assert.True(t, r.Ver6)
	assert.Equal(t, "20010db8000000000000000000000000", r.BeginV6)
	assert.Equal(t, "20010db8ffffffffffffffffffffffff", r.EndV6)
}

func TestParse_Malformed(t *testing.T) {
	for _, expr := range []string{
		"", "garbage", "300.1.1.1", "10.0.0.1-2001:db8::1", "10.0.0.0/33", "1.2.3",
	} {
		_, err := Parse(expr)
		assert.ErrorIs(t, err, ErrWrongIP, "expr %q", expr)
	}
}

func TestRange_Contains_Boundaries(t *testing.T) {
	r, err := Parse("10.0.0.10-10.0.0.20")
	require.NoError(t, err)

	assert.True(t, r.Contains(mustAddr(t, "10.0.0.10")))
	assert.True(t, r.Contains(mustAddr(t, "10.0.0.15")))
	assert.True(t, r.Contains(mustAddr(t, "10.0.0.20")))
	assert.False(t, r.Contains(mustAddr(t, "10.0.0.9")), "begin-1 must not match")
	assert.False(t, r.Contains(mustAddr(t, "10.0.0.21")), "end+1 must not match")
}

func TestMatcher_AddCheck(t *testing.T) {
	cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	m := NewMatcher(nil)
	_, err := m.Add(nil, "192.168.1.0/24", constants.TagDeny, "office subnet", 0)
	require.NoError(t, err)

	match, err := m.Check("192.168.1.10", 0)
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, constants.TagDeny, match.Tag)
	assert.Equal(t, "192.168.1.0/24", match.Entry.IP)

	match, err = m.Check("192.168.2.10", 0)
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestMatcher_Add_Duplicate(t *testing.T) {
	cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	m := NewMatcher(nil)
	_, err := m.Add(nil, "10.0.0.0/8", constants.TagDeny, "", 0)
	require.NoError(t, err)

	_, err = m.Add(nil, "10.0.0.0/8", constants.TagDeny, "", 0)
	assert.ErrorIs(t, err, ErrDuplicate)

	entries, err := m.List(0)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "store size must be unchanged after rejected duplicate")

	// Other tag, slice or family are not duplicates
	_, err = m.Add(nil, "10.0.0.0/8", constants.TagAllow, "", 0)
	assert.NoError(t, err)
	_, err = m.Add(nil, "10.0.0.0/8", constants.TagDeny, "", 3)
	assert.NoError(t, err)
}

func TestMatcher_Add_WrongIP(t *testing.T) {
	cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	m := NewMatcher(nil)
	_, err := m.Add(nil, "not-an-ip", constants.TagDeny, "", 0)
	assert.ErrorIs(t, err, ErrWrongIP)

	_, err = m.Add(nil, "10.0.0.1", "X", "", 0)
	assert.ErrorIs(t, err, ErrWrongIP)
}

func TestMatcher_Check_FirstAscendingBegin(t *testing.T) {
	cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	m := NewMatcher(nil)
	// Inserted out of order; match order is ascending begin
	_, err := m.Add(nil, "10.0.0.0-10.0.0.255", constants.TagDeny, "wide", 0)
	require.NoError(t, err)
	_, err = m.Add(nil, "10.0.0.0-10.0.0.50", constants.TagAllow, "narrow", 0)
	require.NoError(t, err)

	match, err := m.Check("10.0.0.10", 0)
	require.NoError(t, err)
	require.NotNil(t, match)
	// Both start at the same begin; the first persisted wins the tie
	assert.Equal(t, "wide", match.Entry.Comment)
}

func TestMatcher_Check_V6(t *testing.T) {
	cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	m := NewMatcher(nil)
	_, err := m.Add(nil, "2001:db8::/32", constants.TagDeny, "", 0)
	require.NoError(t, err)

	match, err := m.Check("2001:db8::dead:beef", 0)
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, constants.TagDeny, match.Tag)

	match, err = m.Check("2001:db9::1", 0)
	require.NoError(t, err)
	assert.Nil(t, match)

	// v4 lookups never hit v6 entries
	match, err = m.Check("32.1.13.184", 0)
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestMatcher_Remove(t *testing.T) {
	cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	m := NewMatcher(nil)
	_, err := m.Add(nil, "192.168.1.0/24", constants.TagDeny, "", 0)
	require.NoError(t, err)
	_, err = m.Add(nil, "192.168.1.0/24", constants.TagAllow, "", 0)
	require.NoError(t, err)

	n, err := m.Remove(nil, "192.168.1.0/24", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "remove drops both tags for the same bounds")

	match, _ := m.Check("192.168.1.10", 0)
	assert.Nil(t, match)

	n, err = m.Remove(nil, "192.168.1.0/24", 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMatcher_Slices_Independent(t *testing.T) {
	cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	m := NewMatcher(nil)
	_, err := m.Add(nil, "203.0.113.0/24", constants.TagDeny, "", 5)
	require.NoError(t, err)

	match, err := m.Check("203.0.113.9", 0)
	require.NoError(t, err)
	assert.Nil(t, match, "entry in slice 5 must not match in the global slice")

	match, err = m.Check("203.0.113.9", 5)
	require.NoError(t, err)
	assert.NotNil(t, match)
}
