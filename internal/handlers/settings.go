package handlers

import (
	"net/http"
	"strings"

	"ipsentry/internal/alert"
	"ipsentry/internal/constants"
	"ipsentry/internal/database"
	"ipsentry/internal/logger"
	"ipsentry/internal/notify"
	"ipsentry/internal/web"

	"github.com/goccy/go-json"
)

// notifySettingKeys 允许通过设置接口读写的键。订阅 blob 有专门接口，
// 不经此处。
var notifySettingKeys = []string{
	constants.SettingNotifyMailHost,
	constants.SettingNotifyMailPort,
	constants.SettingNotifyMailFrom,
	constants.SettingNotifyMailTo,
	constants.SettingNotifyMailUser,
	constants.SettingNotifyMailPass,
	constants.SettingNotifyTgToken,
	constants.SettingNotifyTgChatID,
	constants.SettingNotifySlackToken,
	constants.SettingNotifySlackChanID,
	constants.SettingNotifyWebhookURL,
}

// secretSettingKeys 读取时打码返回的敏感键
var secretSettingKeys = map[string]bool{
	constants.SettingNotifyMailPass:   true,
	constants.SettingNotifyTgToken:    true,
	constants.SettingNotifySlackToken: true,
}

type SettingsHandler struct {
	settings *database.SettingRepo
	notifier *notify.Manager
}

func NewSettingsHandler(notifier *notify.Manager) *SettingsHandler {
	return &SettingsHandler{
		settings: database.NewSettingRepo(),
		notifier: notifier,
	}
}

// Get 返回通知渠道配置，敏感值打码
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	all, err := h.settings.GetAll()
	if err != nil {
		web.FailErr(w, r, web.ErrSettingsQueryFail)
		return
	}
	out := make(map[string]string, len(notifySettingKeys))
	for _, key := range notifySettingKeys {
		v := all[key]
		if v != "" && secretSettingKeys[key] {
			v = maskSecret(v)
		}
		out[key] = v
	}
	web.OK(w, r, map[string]interface{}{
		"settings": out,
		"channels": h.notifier.ChannelNames(),
	})
}

// Update 批量写入通知配置并重载渠道。打码占位值视为"未修改"，跳过。
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.FailErr(w, r, web.ErrInvalidBody)
		return
	}

	items := make(map[string]string)
	for _, key := range notifySettingKeys {
		v, ok := req[key]
		if !ok {
			continue
		}
		if secretSettingKeys[key] && isMasked(v) {
			continue
		}
		items[key] = strings.TrimSpace(v)
	}
	if len(items) == 0 {
		web.FailErr(w, r, web.ErrInvalidParam)
		return
	}

	if err := h.settings.SetBatch(items); err != nil {
		logger.Notify.Error().Err(err).Msg("settings update failed")
		web.FailErr(w, r, web.ErrSettingsUpdateFail)
		return
	}

	h.notifier.Reload(h.settings)
	web.OK(w, r, map[string]interface{}{
		"message":  "updated",
		"channels": h.notifier.ChannelNames(),
	})
}

// TestNotify 通过当前已配置渠道发一条测试消息
func (h *SettingsHandler) TestNotify(w http.ResponseWriter, r *http.Request) {
	if !h.notifier.HasChannels() {
		web.FailErr(w, r, web.ErrNotifySendFail, "no channels configured")
		return
	}

	msg := alert.Message{
		Subject:    "Test notification",
		Body:       "Notification channels are working.",
		MaskedBody: "Notification channels are working.",
		Channels:   alert.Channels{Email: true, Mobile: true},
	}
	if err := h.notifier.Dispatch(msg); err != nil {
		web.FailErr(w, r, web.ErrNotifySendFail, err.Error())
		return
	}
	web.OK(w, r, map[string]interface{}{
		"message":  "sent",
		"channels": h.notifier.ChannelNames(),
	})
}

func maskSecret(v string) string {
	if len(v) <= 4 {
		return "****"
	}
	return v[:2] + strings.Repeat("*", 6) + v[len(v)-2:]
}

func isMasked(v string) bool {
	return strings.Contains(v, "****")
}
