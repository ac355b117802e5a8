package eventlog

import (
	"fmt"

	"github.com/google/uuid"
)

// RequestContext carries the per-request state the event log and alert
// engine consult: the correlation id joining all records of one request,
// the caller's detected address, the dedup/ignore sets, and the one-shot
// flags set by earlier stages of the same request. It is created at the
// top of request handling and discarded with the request.
type RequestContext struct {
	SessionID string
	RemoteIP  string
	Country   string

	// ActingUserID 本次请求的操作者（区别于事件主体 user_id）
	ActingUserID uint
	BotScore     int

	// LastBlockReason 本请求内早先封锁判定留下的原因码
	LastBlockReason int

	// AlertSent 本请求是否已发出过一次告警通知
	AlertSent bool

	seen         map[string]bool
	seenActivity map[int]bool
	ignored      map[int]bool
}

func NewRequestContext(remoteIP string) *RequestContext {
	return &RequestContext{
		SessionID:    uuid.NewString(),
		RemoteIP:     remoteIP,
		seen:         make(map[string]bool),
		seenActivity: make(map[int]bool),
		ignored:      make(map[int]bool),
	}
}

func dedupKey(activity int, userID uint) string {
	return fmt.Sprintf("%d:%d", activity, userID)
}

// markSeen 记录去重键，返回是否首次出现
func (c *RequestContext) markSeen(activity int, userID uint) bool {
	key := dedupKey(activity, userID)
	c.seenActivity[activity] = true
	if c.seen[key] {
		return false
	}
	c.seen[key] = true
	return true
}

// Seen reports whether the (activity, user) pair was already appended in
// this request.
func (c *RequestContext) Seen(activity int, userID uint) bool {
	return c.seen[dedupKey(activity, userID)]
}

// SeenActivity reports whether any append with one of the given activity
// codes happened in this request, regardless of user.
func (c *RequestContext) SeenActivity(activities ...int) bool {
	for _, a := range activities {
		if c.seenActivity[a] {
			return true
		}
	}
	return false
}

// SetIgnore suppresses all further appends of the given activity code for
// the remainder of the request, regardless of user id.
func (c *RequestContext) SetIgnore(activity int) {
	c.ignored[activity] = true
}

func (c *RequestContext) isIgnored(activity int) bool {
	return c.ignored[activity]
}
