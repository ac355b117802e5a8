package eventlog

import (
	"encoding/binary"
	"net/netip"
	"time"

	"ipsentry/internal/constants"
	"ipsentry/internal/database"
	"ipsentry/internal/logger"
)

// StatusResolver derives the outcome code for an event from the address
// and activity when the caller did not supply one.
type StatusResolver interface {
	Resolve(ip string, activity int) int
}

// Evaluator is invoked synchronously with every persisted event. The alert
// engine implements it.
type Evaluator interface {
	Evaluate(rctx *RequestContext, rec *database.EventRecord)
}

// AppendInput 一次事件写入的参数；零值字段走默认解析
type AppendInput struct {
	Activity int
	Login    string
	UserID   uint
	Status   int
	IP       string
	URL      string
	Control  []string

	// NoDedup 跳过请求内去重（同一 activity:user 允许重复写入）
	NoDedup bool
}

// Log 追加式安全事件日志
type Log struct {
	events    *database.EventRepo
	watermark *WatermarkStore
	resolver  StatusResolver
	evaluator Evaluator
	now       func() time.Time

	repaired bool
}

func NewLog(watermark *WatermarkStore) *Log {
	return &Log{
		events:    database.NewEventRepo(),
		watermark: watermark,
		now:       time.Now,
	}
}

// SetResolver injects the status classifier. Wired once at boot; the
// classifier itself depends on the ACL matcher, which writes its audit
// events through this log.
func (l *Log) SetResolver(r StatusResolver) {
	l.resolver = r
}

// SetEvaluator injects the alert engine. Wired once at boot, after both
// sides exist.
func (l *Log) SetEvaluator(e Evaluator) {
	l.evaluator = e
}

// Watermark 返回日志水位线存储
func (l *Log) Watermark() *WatermarkStore {
	return l.watermark
}

// Append 写入一条事件。请求内按 activity:user 去重；写入失败不向上抛，
// 安全关键路径不能因日志失败中断。返回是否真正落库。
func (l *Log) Append(rctx *RequestContext, in AppendInput) bool {
	if rctx.isIgnored(in.Activity) {
		return false
	}

	ip := in.IP
	if ip != "" {
		if _, err := netip.ParseAddr(ip); err != nil {
			ip = ""
		}
	}
	if ip == "" {
		ip = rctx.RemoteIP
	}

	if in.NoDedup {
		rctx.markSeen(in.Activity, in.UserID)
	} else if !rctx.markSeen(in.Activity, in.UserID) {
		return false
	}

	status := in.Status
	if status == constants.StatusNone {
		switch in.Activity {
		case constants.ActivityIPBlocked, constants.ActivitySubnetBlocked:
			// 封锁类事件读取本请求内早先记下的封锁原因
			status = rctx.LastBlockReason
		default:
			if l.resolver != nil {
				status = l.resolver.Resolve(ip, in.Activity)
			}
		}
	}

	stamp := float64(l.now().UnixNano()) / 1e9
	rec := &database.EventRecord{
		IP:        ip,
		IPNumeric: ipNumeric(ip),
		UserLogin: in.Login,
		UserID:    in.UserID,
		Stamp:     stamp,
		Activity:  in.Activity,
		SessionID: rctx.SessionID,
		Country:   rctx.Country,
		Details:   Details{ControlSettings: in.Control, RequestURL: in.URL}.Encode(),
		ACStatus:  status,
		ACBot:     rctx.BotScore,
		ACByUser:  rctx.ActingUserID,
	}

	if err := l.events.Create(rec); err != nil {
		if !l.repaired {
			// 一次性自修复：尝试重建表结构后重试
			l.repaired = true
			logger.Event.Warn().Err(err).Msg("事件写入失败，尝试重建表结构")
			if mErr := database.AutoMigrate(); mErr == nil {
				err = l.events.Create(rec)
			}
		}
		if err != nil {
			logger.Event.Error().Err(err).Int("activity", in.Activity).Msg("事件写入失败")
			return false
		}
	}

	l.watermark.Advance(ip, stamp, rctx.SessionID)

	if l.evaluator != nil {
		l.evaluator.Evaluate(rctx, rec)
	}
	return true
}

// IsLogged 仅查询请求内去重状态，不访问持久存储
func (l *Log) IsLogged(rctx *RequestContext, activities ...int) bool {
	return rctx.SeenActivity(activities...)
}

// Delete 按条件批量删除，成功后重置水位线
func (l *Log) Delete(criteria database.EventDeleteCriteria) (int64, error) {
	n, err := l.events.Delete(criteria)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.watermark.Reset()
	}
	return n, nil
}

// PurgeOlderThan 保留期清理，由后台定时器调用
func (l *Log) PurgeOlderThan(cutoff time.Time) (int64, error) {
	return l.Delete(database.EventDeleteCriteria{Before: cutoff})
}

// ipNumeric IPv4 转 32 位数值；非 IPv4 返回哨兵值
func ipNumeric(ip string) uint32 {
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is4() {
		return constants.IPNumericSentinel
	}
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:])
}
