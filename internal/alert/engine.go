package alert

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"ipsentry/internal/database"
	"ipsentry/internal/eventlog"
	"ipsentry/internal/kvcache"
	"ipsentry/internal/logger"
)

// globalGapKey 全局发送间隔标记在共享缓存里的键
const globalGapKey = "alert:last_sent"

// Dispatcher delivers a built alert through the enabled channels. The
// notify package implements it.
type Dispatcher interface {
	Dispatch(msg Message) error
}

// Broadcaster pushes alerts to connected admin sessions. The WebSocket
// hub implements it.
type Broadcaster interface {
	Broadcast(channel, msgType string, data interface{})
}

// Message 构建好的告警消息：普通版与脱敏版并存，不得暴露原始标识的
// 渠道使用脱敏版。
type Message struct {
	TemplateID string
	Subject    string
	Body       string
	MaskedBody string
	Fields     map[string]string
	Channels   Channels
}

// Engine 规则告警引擎：事件落库后被同步调用，按持久化顺序匹配订阅，
// 首条全中即发送并停止——每请求至多一条通知。
type Engine struct {
	store      *Store
	users      *database.UserRepo
	cache      kvcache.Store[string, string]
	dispatcher Dispatcher
	broadcast  Broadcaster
	globalGap  time.Duration
	now        func() time.Time
}

func NewEngine(store *Store, cache kvcache.Store[string, string], globalGap time.Duration) *Engine {
	return &Engine{
		store:     store,
		users:     database.NewUserRepo(),
		cache:     cache,
		globalGap: globalGap,
		now:       time.Now,
	}
}

// SetDispatcher injects the external notification sender.
func (e *Engine) SetDispatcher(d Dispatcher) {
	e.dispatcher = d
}

// SetBroadcaster injects the live admin push channel.
func (e *Engine) SetBroadcaster(b Broadcaster) {
	e.broadcast = b
}

// Evaluate 对一条新事件求值。非命中条件跳过该订阅；命中的第一条订阅
// 发送通知并终止遍历。未命中订阅的试探性限速增量全部丢弃，只有真正
// 尝试了投递的订阅才持久化计数。
func (e *Engine) Evaluate(rctx *eventlog.RequestContext, rec *database.EventRecord) {
	if rctx.AlertSent {
		return
	}

	subs, err := e.store.List()
	if err != nil {
		logger.Alert.Error().Err(err).Msg("订阅加载失败，跳过本次求值")
		return
	}
	if len(subs) == 0 {
		return
	}

	now := e.now()
	for i := range subs {
		sub := &subs[i]
		if !e.matches(sub, rec, now) {
			continue
		}

		if !sub.IgnoreGlobalRateLimit && e.globalGapActive() {
			logger.Alert.Debug().Str("subscription", sub.ID).Msg("全局发送间隔未到，本次不发")
			return
		}

		e.dispatch(sub, rec)
		rctx.AlertSent = true

		if sub.RateLimit > 0 {
			if err := e.store.IncrementSent(sub.ID); err != nil {
				logger.Alert.Warn().Err(err).Str("subscription", sub.ID).Msg("计数持久化失败")
			}
		}
		return
	}
}

// matches 按固定次序检查订阅的每个已填条件
func (e *Engine) matches(sub *Subscription, rec *database.EventRecord, now time.Time) bool {
	if sub.Status != 0 && rec.ACStatus != sub.Status {
		return false
	}
	if sub.UserID != 0 && rec.UserID != sub.UserID && rec.ACByUser != sub.UserID {
		return false
	}
	if sub.Expired(now) {
		return false
	}
	if sub.RateExhausted() {
		return false
	}
	if len(sub.Activities) > 0 {
		found := false
		for _, a := range sub.Activities {
			if a == rec.Activity {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if sub.IPRangeBegin != 0 || sub.IPRangeEnd != 0 {
		if rec.IPNumeric < sub.IPRangeBegin || rec.IPNumeric > sub.IPRangeEnd {
			return false
		}
	}
	if sub.IP != "" && rec.IP != sub.IP {
		return false
	}
	if sub.Login != "" && rec.UserLogin != sub.Login {
		return false
	}
	if sub.URLSubstring != "" {
		url := eventlog.ParseDetails(rec.Details).RequestURL
		if !strings.Contains(url, sub.URLSubstring) {
			return false
		}
	}
	if sub.FreeText != "" && !e.freeTextMatch(sub.FreeText, rec) {
		return false
	}
	return true
}

// freeTextMatch 在 ip、登录名与显示名三个字段里做大小写无关子串匹配
func (e *Engine) freeTextMatch(text string, rec *database.EventRecord) bool {
	needle := strings.ToLower(text)
	if strings.Contains(strings.ToLower(rec.IP), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(rec.UserLogin), needle) {
		return true
	}
	if rec.UserID != 0 {
		if name := e.users.DisplayName(rec.UserID); name != "" {
			return strings.Contains(strings.ToLower(name), needle)
		}
	}
	return false
}

func (e *Engine) globalGapActive() bool {
	if e.globalGap <= 0 {
		return false
	}
	_, active := e.cache.Get(globalGapKey)
	return active
}

func (e *Engine) dispatch(sub *Subscription, rec *database.EventRecord) {
	msg := buildMessage(sub, rec)

	if e.dispatcher != nil {
		if err := e.dispatcher.Dispatch(msg); err != nil {
			// 投递失败不回滚已落库的事件，也不回退已提交的计数
			logger.Alert.Warn().Err(err).Str("subscription", sub.ID).Msg("告警投递失败")
		}
	}
	if e.globalGap > 0 {
		e.cache.Set(globalGapKey, strconv.FormatInt(e.now().Unix(), 10), e.globalGap)
	}
	if e.broadcast != nil {
		e.broadcast.Broadcast("alert", "alert", map[string]interface{}{
			"subscription": sub.ID,
			"activity":     rec.Activity,
			"ip":           msg.Fields["masked_ip"],
			"timestamp":    e.now().UTC().Format(time.RFC3339),
		})
	}
	logger.Alert.Info().
		Str("subscription", sub.ID).
		Int("activity", rec.Activity).
		Msg("告警已触发")
}

func buildMessage(sub *Subscription, rec *database.EventRecord) Message {
	url := eventlog.ParseDetails(rec.Details).RequestURL
	subject := fmt.Sprintf("Security alert: activity %d from %s", rec.Activity, rec.IP)
	body := fmt.Sprintf("activity=%d ip=%s login=%s status=%d url=%s session=%s",
		rec.Activity, rec.IP, rec.UserLogin, rec.ACStatus, url, rec.SessionID)
	masked := fmt.Sprintf("activity=%d ip=%s login=%s status=%d",
		rec.Activity, maskIP(rec.IP), maskLogin(rec.UserLogin), rec.ACStatus)

	return Message{
		TemplateID: "security_alert",
		Subject:    subject,
		Body:       body,
		MaskedBody: masked,
		Fields: map[string]string{
			"activity":  strconv.Itoa(rec.Activity),
			"ip":        rec.IP,
			"masked_ip": maskIP(rec.IP),
			"login":     rec.UserLogin,
			"status":    strconv.Itoa(rec.ACStatus),
			"url":       url,
		},
		Channels: sub.Channels,
	}
}

// maskIP 保留网络前缀，抹掉主机部分
func maskIP(ip string) string {
	if idx := strings.LastIndex(ip, "."); idx > 0 {
		return ip[:idx] + ".x"
	}
	groups := strings.Split(ip, ":")
	if len(groups) > 2 {
		return strings.Join(groups[:2], ":") + "::x"
	}
	return "x"
}

// maskLogin 只保留首字符
func maskLogin(login string) string {
	if login == "" {
		return ""
	}
	r := []rune(login)
	return string(r[0]) + "***"
}
