package handlers

import (
	"errors"
	"net/http"

	"ipsentry/internal/alert"
	"ipsentry/internal/logger"
	"ipsentry/internal/web"

	"github.com/goccy/go-json"
)

type AlertHandler struct {
	store *alert.Store
}

func NewAlertHandler(store *alert.Store) *AlertHandler {
	return &AlertHandler{store: store}
}

// List 按持久化顺序返回全部订阅（求值顺序即此顺序）
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.store.List()
	if err != nil {
		logger.Alert.Error().Err(err).Msg("subscription list failed")
		web.FailErr(w, r, web.ErrSubSaveFail)
		return
	}
	if subs == nil {
		subs = []alert.Subscription{}
	}
	web.OK(w, r, map[string]interface{}{
		"items": subs,
		"total": len(subs),
	})
}

// Create 新建订阅。空条件向量与重复条件分别映射为 400/409。
func (h *AlertHandler) Create(w http.ResponseWriter, r *http.Request) {
	var sub alert.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		web.FailErr(w, r, web.ErrInvalidBody)
		return
	}

	id, err := h.store.Create(sub)
	if err != nil {
		switch {
		case errors.Is(err, alert.ErrNoCriteria):
			web.FailErr(w, r, web.ErrSubNoCriteria)
		case errors.Is(err, alert.ErrExists):
			web.FailErr(w, r, web.ErrSubExists)
		default:
			logger.Alert.Error().Err(err).Msg("subscription create failed")
			web.FailErr(w, r, web.ErrSubSaveFail)
		}
		return
	}
	web.OK(w, r, map[string]string{"id": id})
}

// Exists 判断相同条件向量的订阅是否已存在，前端创建前预检用
func (h *AlertHandler) Exists(w http.ResponseWriter, r *http.Request) {
	var sub alert.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		web.FailErr(w, r, web.ErrInvalidBody)
		return
	}
	exists, err := h.store.Exists(sub)
	if err != nil {
		web.FailErr(w, r, web.ErrSubSaveFail)
		return
	}
	web.OK(w, r, map[string]interface{}{
		"exists": exists,
		"id":     sub.HashID(),
	})
}

func (h *AlertHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		web.FailErr(w, r, web.ErrInvalidParam)
		return
	}
	if err := h.store.Delete(id); err != nil {
		if errors.Is(err, alert.ErrNotFound) {
			web.FailErr(w, r, web.ErrSubNotFound)
			return
		}
		logger.Alert.Error().Err(err).Msg("subscription delete failed")
		web.FailErr(w, r, web.ErrSubSaveFail)
		return
	}
	web.OK(w, r, map[string]string{"message": "deleted"})
}
