package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"ipsentry/internal/acl"
	"ipsentry/internal/block"
	"ipsentry/internal/database"
	"ipsentry/internal/logger"
	"ipsentry/internal/viewcache"
	"ipsentry/internal/web"

	"github.com/goccy/go-json"
)

type ACLHandler struct {
	matcher    *acl.Matcher
	classifier *block.Classifier
	views      *viewcache.Cache
}

func NewACLHandler(matcher *acl.Matcher, classifier *block.Classifier, views *viewcache.Cache) *ACLHandler {
	return &ACLHandler{matcher: matcher, classifier: classifier, views: views}
}

type aclItem struct {
	ID      uint   `json:"id"`
	IP      string `json:"ip"`
	Tag     string `json:"tag"`
	Comment string `json:"comment"`
	Slice   int    `json:"slice"`
	Ver6    bool   `json:"ver6"`
}

func aclView(e *database.ACLEntry) aclItem {
	return aclItem{
		ID:      e.ID,
		IP:      e.IP,
		Tag:     e.Tag,
		Comment: e.Comment,
		Slice:   e.Slice,
		Ver6:    e.Ver6,
	}
}

// List 列出指定 slice 的全部条目
func (h *ACLHandler) List(w http.ResponseWriter, r *http.Request) {
	slice := parseSlice(r)
	entries, err := h.matcher.List(slice)
	if err != nil {
		web.FailErr(w, r, web.ErrACLQueryFail)
		return
	}
	items := make([]aclItem, 0, len(entries))
	for i := range entries {
		items = append(items, aclView(&entries[i]))
	}
	web.OK(w, r, map[string]interface{}{
		"slice": slice,
		"items": items,
	})
}

type aclAddRequest struct {
	IP      string `json:"ip"`
	Tag     string `json:"tag"`
	Comment string `json:"comment"`
	Slice   int    `json:"slice"`
}

// Add 新增条目。格式错误与重复分别映射为 400/409。
func (h *ACLHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req aclAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.FailErr(w, r, web.ErrInvalidBody)
		return
	}

	entry, err := h.matcher.Add(web.EventContext(r), req.IP, req.Tag, req.Comment, req.Slice)
	if err != nil {
		switch {
		case errors.Is(err, acl.ErrWrongIP):
			web.FailErr(w, r, web.ErrACLWrongIP)
		case errors.Is(err, acl.ErrDuplicate):
			web.FailErr(w, r, web.ErrACLDuplicate)
		default:
			logger.ACL.Error().Err(err).Msg("ACL insert failed")
			web.FailErr(w, r, web.ErrACLWriteFail)
		}
		return
	}

	// 封锁状态可能随条目变化，派生视图全部作废
	h.views.Purge("")
	web.OK(w, r, aclView(entry))
}

type aclRemoveRequest struct {
	IP    string `json:"ip"`
	Slice int    `json:"slice"`
}

func (h *ACLHandler) Remove(w http.ResponseWriter, r *http.Request) {
	var req aclRemoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.FailErr(w, r, web.ErrInvalidBody)
		return
	}

	n, err := h.matcher.Remove(web.EventContext(r), req.IP, req.Slice)
	if err != nil {
		if errors.Is(err, acl.ErrWrongIP) {
			web.FailErr(w, r, web.ErrACLWrongIP)
			return
		}
		logger.ACL.Error().Err(err).Msg("ACL remove failed")
		web.FailErr(w, r, web.ErrACLWriteFail)
		return
	}

	if n > 0 {
		h.views.Purge("")
	}
	web.OK(w, r, map[string]int64{"removed": n})
}

// Check 查询某地址在指定 slice 下的命中情况
func (h *ACLHandler) Check(w http.ResponseWriter, r *http.Request) {
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		web.FailErr(w, r, web.ErrInvalidParam)
		return
	}
	match, err := h.matcher.Check(ip, parseSlice(r))
	if err != nil {
		if errors.Is(err, acl.ErrWrongIP) {
			web.FailErr(w, r, web.ErrACLWrongIP)
			return
		}
		web.FailErr(w, r, web.ErrACLQueryFail)
		return
	}
	if match == nil {
		web.OK(w, r, map[string]interface{}{"matched": false})
		return
	}
	web.OK(w, r, map[string]interface{}{
		"matched": true,
		"tag":     match.Tag,
		"entry":   aclView(match.Entry),
	})
}

type lockRequest struct {
	IP      string `json:"ip"`
	Reason  int    `json:"reason"`
	Minutes int    `json:"minutes"`
}

// Lock 手动写入一条带原因码的封锁
func (h *ACLHandler) Lock(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.FailErr(w, r, web.ErrInvalidBody)
		return
	}
	if req.Minutes <= 0 {
		req.Minutes = 60
	}

	err := h.classifier.Lock(req.IP, req.Reason, time.Duration(req.Minutes)*time.Minute)
	if err != nil {
		if errors.Is(err, acl.ErrWrongIP) {
			web.FailErr(w, r, web.ErrACLWrongIP)
			return
		}
		logger.ACL.Error().Err(err).Msg("lockout create failed")
		web.FailErr(w, r, web.ErrLockoutFailed)
		return
	}

	h.views.Purge("")
	logger.ACL.Info().Str("ip", req.IP).Int("minutes", req.Minutes).Msg("address locked out")
	web.OK(w, r, map[string]string{"message": "locked"})
}

// Unlock 解除某地址的封锁
func (h *ACLHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.FailErr(w, r, web.ErrInvalidBody)
		return
	}

	n, err := h.classifier.Release(req.IP)
	if err != nil {
		logger.ACL.Error().Err(err).Msg("lockout release failed")
		web.FailErr(w, r, web.ErrLockoutFailed)
		return
	}

	if n > 0 {
		h.views.Purge("")
	}
	web.OK(w, r, map[string]int64{"released": n})
}

func parseSlice(r *http.Request) int {
	if v := r.URL.Query().Get("slice"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return 0
}
