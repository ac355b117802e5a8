package acl

import (
	"errors"
	"net/netip"
	"strings"

	"ipsentry/internal/constants"
	"ipsentry/internal/database"
	"ipsentry/internal/eventlog"
	"ipsentry/internal/logger"
)

// ErrDuplicate 同一 slice+family 内已存在相同 (begin,end,tag) 条目
var ErrDuplicate = errors.New("duplicate ACL entry")

// Match is the result of a successful lookup.
type Match struct {
	Tag   string
	Entry *database.ACLEntry
}

// Matcher 访问列表引擎：解析、增删、区间匹配。ACL 变更本身也是安全
// 事件，通过事件日志留痕。
type Matcher struct {
	repo *database.ACLRepo
	log  *eventlog.Log
}

func NewMatcher(log *eventlog.Log) *Matcher {
	return &Matcher{
		repo: database.NewACLRepo(),
		log:  log,
	}
}

// Add 解析并写入一条访问列表条目。格式错误返回 ErrWrongIP，重复返回
// ErrDuplicate，其余为存储错误。
func (m *Matcher) Add(rctx *eventlog.RequestContext, expr, tag, comment string, slice int) (*database.ACLEntry, error) {
	if tag != constants.TagAllow && tag != constants.TagDeny {
		return nil, ErrWrongIP
	}

	r, err := Parse(expr)
	if err != nil {
		return nil, err
	}

	entry := &database.ACLEntry{
		IP:      r.IPText,
		BeginV4: r.BeginV4,
		EndV4:   r.EndV4,
		Tag:     tag,
		Comment: comment,
		Slice:   slice,
		Ver6:    r.Ver6,
	}
	if r.Ver6 {
		entry.V6Range = r.BeginV6 + "-" + r.EndV6
	}

	exists, err := m.repo.Exists(entry)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicate
	}

	if err := m.repo.Insert(entry); err != nil {
		return nil, err
	}

	logger.ACL.Info().
		Str("ip", entry.IP).Str("tag", tag).Int("slice", slice).
		Msg("访问列表新增条目")

	if m.log != nil && rctx != nil {
		m.log.Append(rctx, eventlog.AppendInput{
			Activity: constants.ActivityACLEntryAdded,
			Control:  []string{entry.IP, tag},
			NoDedup:  true,
		})
	}
	return entry, nil
}

// Remove 删除匹配该表达式范围的条目，返回删除行数
func (m *Matcher) Remove(rctx *eventlog.RequestContext, expr string, slice int) (int64, error) {
	r, err := Parse(expr)
	if err != nil {
		return 0, err
	}

	entry := &database.ACLEntry{
		BeginV4: r.BeginV4,
		EndV4:   r.EndV4,
		Slice:   slice,
		Ver6:    r.Ver6,
	}
	if r.Ver6 {
		entry.V6Range = r.BeginV6 + "-" + r.EndV6
	}

	n, err := m.repo.Remove(entry)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		logger.ACL.Info().
			Str("ip", r.IPText).Int("slice", slice).Int64("removed", n).
			Msg("访问列表删除条目")
		if m.log != nil && rctx != nil {
			m.log.Append(rctx, eventlog.AppendInput{
				Activity: constants.ActivityACLEntryRemoved,
				Control:  []string{r.IPText},
				NoDedup:  true,
			})
		}
	}
	return n, nil
}

// Check 在指定 slice 内匹配地址：按 begin 升序取第一条覆盖该地址的
// 条目。未命中返回 nil。
func (m *Matcher) Check(ip string, slice int) (*Match, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return nil, ErrWrongIP
	}

	ver6 := addr.Is6() && !addr.Is4In6()
	entries, err := m.repo.ListSlice(slice, ver6)
	if err != nil {
		return nil, err
	}

	for i := range entries {
		e := &entries[i]
		if entryContains(e, addr) {
			return &Match{Tag: e.Tag, Entry: e}, nil
		}
	}
	return nil, nil
}

// CheckGlobal 在全局列表（slice 0）内匹配
func (m *Matcher) CheckGlobal(ip string) (*Match, error) {
	return m.Check(ip, constants.GlobalSlice)
}

// List 列出指定 slice 的全部条目（双栈）
func (m *Matcher) List(slice int) ([]database.ACLEntry, error) {
	return m.repo.ListAll(slice)
}

func entryContains(e *database.ACLEntry, addr netip.Addr) bool {
	if e.Ver6 {
		lo, hi, ok := strings.Cut(e.V6Range, "-")
		if !ok {
			return false
		}
		h := v6Hex(addr)
		return lo <= h && h <= hi
	}
	n := v4Numeric(addr)
	return e.BeginV4 <= n && n <= e.EndV4
}
