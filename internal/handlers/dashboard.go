package handlers

import (
	"net/http"
	"time"

	"ipsentry/internal/constants"
	"ipsentry/internal/database"
	"ipsentry/internal/logger"
	"ipsentry/internal/viewcache"
	"ipsentry/internal/web"
	"ipsentry/internal/webconfig"

	"github.com/goccy/go-json"
)

type DashboardHandler struct {
	events    *database.EventRepo
	users     *database.UserRepo
	acl       *database.ACLRepo
	lockouts  *database.LockoutRepo
	views     *viewcache.Cache
	widgetLag time.Duration
	ceiling   time.Duration
}

func NewDashboardHandler(cfg *webconfig.Config, views *viewcache.Cache) *DashboardHandler {
	lag := time.Duration(cfg.Cache.WidgetLagSeconds) * time.Second
	return &DashboardHandler{
		events:    database.NewEventRepo(),
		users:     database.NewUserRepo(),
		acl:       database.NewACLRepo(),
		lockouts:  database.NewLockoutRepo(),
		views:     views,
		widgetLag: lag,
		ceiling:   10 * lag,
	}
}

// Widget 仪表盘摘要片段。重度聚合查询，经视图缓存复用：水位线未前进
// 时重复请求不落库。
func (h *DashboardHandler) Widget(w http.ResponseWriter, r *http.Request) {
	payload, err := h.views.GetOrCompute("dashboard:widget", h.renderWidget, h.widgetLag, h.ceiling)
	if err != nil {
		logger.Cache.Error().Err(err).Msg("dashboard widget render failed")
		web.FailErr(w, r, web.ErrEventQueryFail)
		return
	}
	web.OKRaw(w, r, payload)
}

func (h *DashboardHandler) renderWidget() ([]byte, error) {
	now := time.Now().UTC()
	since24h := now.Add(-24 * time.Hour)
	since7d := now.Add(-7 * 24 * time.Hour)

	total, err := h.events.Count()
	if err != nil {
		return nil, err
	}
	last24h, err := h.events.CountSince(since24h)
	if err != nil {
		return nil, err
	}
	last7d, err := h.events.CountSince(since7d)
	if err != nil {
		return nil, err
	}
	byActivity, err := h.events.CountByActivity(since24h)
	if err != nil {
		return nil, err
	}
	byCountry, err := h.events.CountByCountry(since24h)
	if err != nil {
		return nil, err
	}
	topIPs, err := h.events.TopIPs(since24h, 5)
	if err != nil {
		return nil, err
	}
	userCount, err := h.users.Count()
	if err != nil {
		return nil, err
	}
	aclCount, err := h.acl.Count(constants.GlobalSlice)
	if err != nil {
		return nil, err
	}
	activeLockouts, err := h.lockouts.Count(now)
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]interface{}{
		"generated_at":    now.Format(time.RFC3339),
		"events_total":    total,
		"events_24h":      last24h,
		"events_7d":       last7d,
		"by_activity":     byActivity,
		"by_country":      byCountry,
		"top_ips":         topIPs,
		"users":           userCount,
		"acl_entries":     aclCount,
		"active_lockouts": activeLockouts,
	})
}
