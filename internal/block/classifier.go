package block

import (
	"net/netip"
	"time"

	"ipsentry/internal/acl"
	"ipsentry/internal/constants"
	"ipsentry/internal/database"
)

// Classifier derives the status code recorded with an event from the
// address's standing: the global allow list takes precedence over any
// lockout or deny entry, a live lockout carries its own reason code, and
// a deny entry comes last.
type Classifier struct {
	matcher  *acl.Matcher
	lockouts *database.LockoutRepo
	now      func() time.Time
}

func NewClassifier(matcher *acl.Matcher) *Classifier {
	return &Classifier{
		matcher:  matcher,
		lockouts: database.NewLockoutRepo(),
		now:      time.Now,
	}
}

// Resolve 按 允许名单 > 活跃封锁原因 > 拒绝名单 的次序归类
func (c *Classifier) Resolve(ip string, activity int) int {
	match, err := c.matcher.CheckGlobal(ip)
	if err == nil && match != nil && match.Tag == constants.TagAllow {
		return constants.StatusAllowListed
	}

	if l := c.activeLockout(ip); l != nil {
		if l.Reason != constants.StatusNone {
			return l.Reason
		}
		return constants.StatusLockedOut
	}

	if err == nil && match != nil && match.Tag == constants.TagDeny {
		return constants.StatusDenyListed
	}
	return constants.StatusNone
}

// IsBlocked reports whether enforcement should deny the address, with the
// reason code. Allow-listed addresses bypass both lockouts and deny
// entries.
func (c *Classifier) IsBlocked(ip string) (bool, int) {
	status := c.Resolve(ip, 0)
	switch status {
	case constants.StatusNone, constants.StatusAllowListed:
		return false, status
	default:
		return true, status
	}
}

func (c *Classifier) activeLockout(ip string) *database.Lockout {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return nil
	}
	if addr.Is4() {
		b := addr.As4()
		n := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
		if l, err := c.lockouts.ActiveFor(n, c.now()); err == nil {
			return l
		}
		return nil
	}
	if l, err := c.lockouts.ActiveForIP(ip, c.now()); err == nil {
		return l
	}
	return nil
}

// Lock 写入一条带原因码的封锁
func (c *Classifier) Lock(ip string, reason int, d time.Duration) error {
	r, err := acl.Parse(ip)
	if err != nil {
		return err
	}
	return c.lockouts.Create(&database.Lockout{
		IP:        r.IPText,
		BeginV4:   r.BeginV4,
		EndV4:     r.EndV4,
		Reason:    reason,
		ExpiresAt: c.now().Add(d),
	})
}

// Release 解除封锁
func (c *Classifier) Release(ip string) (int64, error) {
	return c.lockouts.Release(ip)
}

// PurgeExpired 清理过期封锁，由后台定时器调用
func (c *Classifier) PurgeExpired() (int64, error) {
	return c.lockouts.PurgeExpired(c.now())
}
