package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ipsentry/internal/constants"
	"ipsentry/internal/database"
	"ipsentry/internal/eventlog"
	"ipsentry/internal/logger"
	"ipsentry/internal/viewcache"
	"ipsentry/internal/web"
	"ipsentry/internal/webconfig"

	"github.com/goccy/go-json"
	"gorm.io/gorm"
)

type EventHandler struct {
	events   *database.EventRepo
	log      *eventlog.Log
	views    *viewcache.Cache
	queryLag time.Duration
	ceiling  time.Duration
}

func NewEventHandler(cfg *webconfig.Config, log *eventlog.Log, views *viewcache.Cache) *EventHandler {
	lag := time.Duration(cfg.Cache.QueryLagSeconds) * time.Second
	return &EventHandler{
		events:   database.NewEventRepo(),
		log:      log,
		views:    views,
		queryLag: lag,
		ceiling:  10 * lag,
	}
}

// List 分页查询事件。结果经视图缓存复用：相同筛选条件在水位线未前进
// 时不重复查库。
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	pq := web.ParsePageQuery(r)
	filter := database.EventFilter{
		Page:      pq.Page,
		PageSize:  pq.PageSize,
		SortBy:    sanitizeSortBy(pq.SortBy),
		SortOrder: pq.SortOrder,
		Keyword:   pq.Keyword,
		StartTime: pq.StartTime,
		EndTime:   pq.EndTime,
		IP:        r.URL.Query().Get("ip"),
		SessionID: r.URL.Query().Get("session_id"),
	}
	if v := r.URL.Query().Get("activity"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Activity = n
		}
	}
	if v := r.URL.Query().Get("user_id"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.UserID = uint(n)
		}
	}
	if v := r.URL.Query().Get("status"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Status = n
		}
	}

	key := "events:" + eventFilterKey(filter)
	payload, err := h.views.GetOrCompute(key, func() ([]byte, error) {
		records, total, err := h.events.List(filter)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]interface{}{
			"items":     eventViews(records),
			"total":     total,
			"page":      filter.Page,
			"page_size": filter.PageSize,
		})
	}, h.queryLag, h.ceiling)
	if err != nil {
		logger.Event.Error().Err(err).Msg("event list query failed")
		web.FailErr(w, r, web.ErrEventQueryFail)
		return
	}
	web.OKRaw(w, r, payload)
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		web.FailErr(w, r, web.ErrInvalidParam)
		return
	}
	rec, err := h.events.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			web.FailErr(w, r, web.ErrEventNotFound)
			return
		}
		web.FailErr(w, r, web.ErrEventQueryFail)
		return
	}
	web.OK(w, r, eventView(rec))
}

type eventDeleteRequest struct {
	Before   string `json:"before"`
	UserID   uint   `json:"user_id"`
	Activity int    `json:"activity"`
	IP       string `json:"ip"`
	All      bool   `json:"all"`
}

// Delete 按条件批量删除事件，删除成功后水位线重置、缓存作废。
func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req eventDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.FailErr(w, r, web.ErrInvalidBody)
		return
	}

	criteria := database.EventDeleteCriteria{
		UserID:   req.UserID,
		Activity: req.Activity,
		IP:       req.IP,
		All:      req.All,
	}
	if req.Before != "" {
		before, err := time.Parse(time.RFC3339, req.Before)
		if err != nil {
			web.FailErr(w, r, web.ErrInvalidParam)
			return
		}
		criteria.Before = before
	}

	n, err := h.log.Delete(criteria)
	if err != nil {
		logger.Event.Error().Err(err).Msg("event deletion failed")
		web.FailErr(w, r, web.ErrEventDeleteFail)
		return
	}

	if n > 0 {
		h.views.Purge("")
		h.log.Append(web.EventContext(r), eventlog.AppendInput{
			Activity: constants.ActivityLogPurged,
			Login:    web.GetUsername(r),
			UserID:   web.GetUserID(r),
			Control:  []string{strconv.FormatInt(n, 10)},
			NoDedup:  true,
		})
		logger.Event.Info().Int64("deleted", n).Msg("event records purged")
	}

	web.OK(w, r, map[string]int64{"deleted": n})
}

// Stats 活动分布与来源统计，供仪表盘之外的报表页使用。
func (h *EventHandler) Stats(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 24*30 {
			hours = n
		}
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	key := fmt.Sprintf("events:stats:%d", hours)
	payload, err := h.views.GetOrCompute(key, func() ([]byte, error) {
		total, err := h.events.CountSince(since)
		if err != nil {
			return nil, err
		}
		byActivity, err := h.events.CountByActivity(since)
		if err != nil {
			return nil, err
		}
		byCountry, err := h.events.CountByCountry(since)
		if err != nil {
			return nil, err
		}
		topIPs, err := h.events.TopIPs(since, 10)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]interface{}{
			"hours":       hours,
			"total":       total,
			"by_activity": byActivity,
			"by_country":  byCountry,
			"top_ips":     topIPs,
		})
	}, h.queryLag, h.ceiling)
	if err != nil {
		web.FailErr(w, r, web.ErrEventQueryFail)
		return
	}
	web.OKRaw(w, r, payload)
}

type eventItem struct {
	ID        uint    `json:"id"`
	IP        string  `json:"ip"`
	UserLogin string  `json:"user_login"`
	UserID    uint    `json:"user_id"`
	Stamp     float64 `json:"stamp"`
	Activity  int     `json:"activity"`
	SessionID string  `json:"session_id"`
	Country   string  `json:"country"`
	Status    int     `json:"status"`
	ByUser    uint    `json:"by_user"`
	URL       string  `json:"url"`
	CreatedAt string  `json:"created_at"`
}

func eventView(rec *database.EventRecord) eventItem {
	details := eventlog.ParseDetails(rec.Details)
	return eventItem{
		ID:        rec.ID,
		IP:        rec.IP,
		UserLogin: rec.UserLogin,
		UserID:    rec.UserID,
		Stamp:     rec.Stamp,
		Activity:  rec.Activity,
		SessionID: rec.SessionID,
		Country:   rec.Country,
		Status:    rec.ACStatus,
		ByUser:    rec.ACByUser,
		URL:       details.RequestURL,
		CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func eventViews(records []database.EventRecord) []eventItem {
	items := make([]eventItem, 0, len(records))
	for i := range records {
		items = append(items, eventView(&records[i]))
	}
	return items
}

// eventFilterKey 将筛选条件规整为稳定的缓存键
func eventFilterKey(f database.EventFilter) string {
	return fmt.Sprintf("%d:%d:%s:%s:%d:%s:%d:%s:%d:%s:%s:%s",
		f.Page, f.PageSize, f.SortBy, f.SortOrder,
		f.Activity, f.IP, f.UserID, f.SessionID, f.Status,
		f.Keyword, f.StartTime, f.EndTime)
}

// sanitizeSortBy 限定排序列，防止拼接任意 SQL 标识符
func sanitizeSortBy(col string) string {
	switch col {
	case "id", "created_at", "activity", "ip", "user_login", "ac_status", "stamp":
		return col
	default:
		return "created_at"
	}
}
