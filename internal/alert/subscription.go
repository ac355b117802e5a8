package alert

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNoCriteria 订阅必须至少有一个条件，禁止"匹配一切"
	ErrNoCriteria = errors.New("subscription has no criteria")
	// ErrExists 相同条件的订阅已存在
	ErrExists = errors.New("subscription already exists")
	// ErrNotFound 订阅不存在
	ErrNotFound = errors.New("subscription not found")
)

// Channels 告警投递渠道开关
type Channels struct {
	Email           bool `json:"email"`
	Mobile          bool `json:"mobile"`
	RecipientUserID uint `json:"recipient_user_id,omitempty"`
}

// Subscription 告警订阅规则。条件字段为空即不参与匹配；ID 由条件元组
// 哈希而来，相同条件永远得到相同 ID。
type Subscription struct {
	ID string `json:"id"`

	Activities   []int  `json:"activities,omitempty"`
	UserID       uint   `json:"user_id,omitempty"`
	IPRangeBegin uint32 `json:"ip_range_begin,omitempty"`
	IPRangeEnd   uint32 `json:"ip_range_end,omitempty"`
	IP           string `json:"ip,omitempty"`
	Login        string `json:"login,omitempty"`
	FreeText     string `json:"free_text,omitempty"`
	Status       int    `json:"status,omitempty"`
	URLSubstring string `json:"url_substring,omitempty"`

	RateLimit             int        `json:"rate_limit,omitempty"`
	SentCount             int        `json:"sent_count"`
	ExpiresAt             *time.Time `json:"expires_at,omitempty"`
	IgnoreGlobalRateLimit bool       `json:"ignore_global_rate_limit,omitempty"`
	Channels              Channels   `json:"channels"`
}

// Validate 校验订阅至少有一个已填条件
func (s *Subscription) Validate() error {
	if len(s.Activities) == 0 && s.UserID == 0 &&
		s.IPRangeBegin == 0 && s.IPRangeEnd == 0 &&
		s.IP == "" && s.Login == "" && s.FreeText == "" &&
		s.Status == 0 && s.URLSubstring == "" {
		return ErrNoCriteria
	}
	return nil
}

// HashID 由归一化条件向量计算订阅 ID。仅条件参与哈希：限速、计数、
// 过期与渠道不改变订阅身份。
func (s *Subscription) HashID() string {
	acts := append([]int(nil), s.Activities...)
	sort.Ints(acts)
	parts := make([]string, 0, len(acts)+8)
	for _, a := range acts {
		parts = append(parts, fmt.Sprintf("a%d", a))
	}
	parts = append(parts,
		fmt.Sprintf("u%d", s.UserID),
		fmt.Sprintf("rb%d", s.IPRangeBegin),
		fmt.Sprintf("re%d", s.IPRangeEnd),
		"ip"+s.IP,
		"lg"+s.Login,
		"ft"+strings.ToLower(s.FreeText),
		fmt.Sprintf("st%d", s.Status),
		"url"+s.URLSubstring,
	)
	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Expired reports whether the subscription's expiry has passed.
func (s *Subscription) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// RateExhausted reports whether the per-subscription budget is spent.
func (s *Subscription) RateExhausted() bool {
	return s.RateLimit > 0 && s.SentCount >= s.RateLimit
}
