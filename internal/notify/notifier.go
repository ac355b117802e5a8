package notify

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"ipsentry/internal/alert"
	"ipsentry/internal/constants"
	"ipsentry/internal/database"
	"ipsentry/internal/logger"

	nfy "github.com/nikoksr/notify"
	nfyhttp "github.com/nikoksr/notify/service/http"
	nfymail "github.com/nikoksr/notify/service/mail"
	nfyslack "github.com/nikoksr/notify/service/slack"
	nfytg "github.com/nikoksr/notify/service/telegram"
)

const sendTimeout = 10 * time.Second

// Manager wraps nikoksr/notify and manages channel lifecycle. Channels are
// split into three groups: mail for the email flag, push (Telegram/Slack)
// for the mobile flag, and outbound webhooks, which only ever receive the
// privacy-masked message body.
type Manager struct {
	mu      sync.RWMutex
	mail    *nfy.Notify
	push    *nfy.Notify
	webhook *nfy.Notify
	names   []string
}

// NewManager creates an empty notification manager.
func NewManager() *Manager {
	return &Manager{}
}

// Reload reads notification settings from the database and rebuilds
// channels. Safe to call at runtime after settings change.
func (m *Manager) Reload(settings *database.SettingRepo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mail, m.push, m.webhook = nil, nil, nil
	var names []string

	// ── Mail (via nikoksr/notify/service/mail) ──
	host, _ := settings.Get(constants.SettingNotifyMailHost)
	from, _ := settings.Get(constants.SettingNotifyMailFrom)
	to, _ := settings.Get(constants.SettingNotifyMailTo)
	if host != "" && from != "" && to != "" {
		port, _ := settings.Get(constants.SettingNotifyMailPort)
		if port == "" {
			port = "587"
		}
		mailSvc := nfymail.New(from, host+":"+port)
		user, _ := settings.Get(constants.SettingNotifyMailUser)
		pass, _ := settings.Get(constants.SettingNotifyMailPass)
		if user != "" {
			mailSvc.AuthenticateSMTP("", user, pass, host)
		}
		for _, rcpt := range strings.Split(to, ",") {
			mailSvc.AddReceivers(strings.TrimSpace(rcpt))
		}
		n := nfy.New()
		n.UseServices(mailSvc)
		m.mail = n
		names = append(names, "mail")
	}

	// ── Telegram (via nikoksr/notify/service/telegram) ──
	push := nfy.New()
	pushActive := false
	tgToken, _ := settings.Get(constants.SettingNotifyTgToken)
	tgChatID, _ := settings.Get(constants.SettingNotifyTgChatID)
	if tgToken != "" && tgChatID != "" {
		tgSvc, err := nfytg.New(tgToken)
		if err == nil {
			if id, err := strconv.ParseInt(strings.TrimSpace(tgChatID), 10, 64); err == nil {
				tgSvc.AddReceivers(id)
				push.UseServices(tgSvc)
				pushActive = true
				names = append(names, "telegram")
			} else {
				logger.Notify.Warn().Str("chat_id", tgChatID).Msg("Telegram chat ID 格式无效")
			}
		} else {
			logger.Notify.Warn().Err(err).Msg("Telegram 服务初始化失败")
		}
	}

	// ── Slack (via nikoksr/notify/service/slack) ──
	slackToken, _ := settings.Get(constants.SettingNotifySlackToken)
	slackChannelID, _ := settings.Get(constants.SettingNotifySlackChanID)
	if slackToken != "" && slackChannelID != "" {
		slackSvc := nfyslack.New(slackToken)
		slackSvc.AddReceivers(strings.TrimSpace(slackChannelID))
		push.UseServices(slackSvc)
		pushActive = true
		names = append(names, "slack")
	}
	if pushActive {
		m.push = push
	}

	// ── Webhook (via nikoksr/notify/service/http, masked body only) ──
	whURL, _ := settings.Get(constants.SettingNotifyWebhookURL)
	if whURL != "" {
		httpSvc := nfyhttp.New()
		httpSvc.AddReceivers(&nfyhttp.Webhook{
			URL:         whURL,
			Header:      http.Header{"Content-Type": []string{"application/json; charset=utf-8"}},
			ContentType: "application/json; charset=utf-8",
			Method:      "POST",
			BuildPayload: func(subject, message string) (payload any) {
				return map[string]string{"subject": subject, "message": message}
			},
		})
		n := nfy.New()
		n.UseServices(httpSvc)
		m.webhook = n
		names = append(names, "webhook")
	}

	m.names = names
	logger.Notify.Info().Int("channels", len(names)).Strs("names", names).Msg("通知渠道已重载")
}

// Dispatch delivers an alert message through the channels its subscription
// enables. Webhooks never see raw identifiers.
func (m *Manager) Dispatch(msg alert.Message) error {
	m.mu.RLock()
	mail, push, webhook := m.mail, m.push, m.webhook
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	var lastErr error
	if msg.Channels.Email && mail != nil {
		if err := mail.Send(ctx, msg.Subject, msg.Body); err != nil {
			logger.Notify.Warn().Err(err).Msg("邮件发送失败")
			lastErr = err
		}
	}
	if msg.Channels.Mobile && push != nil {
		if err := push.Send(ctx, msg.Subject, msg.Body); err != nil {
			logger.Notify.Warn().Err(err).Msg("推送发送失败")
			lastErr = err
		}
	}
	if webhook != nil {
		if err := webhook.Send(ctx, msg.Subject, msg.MaskedBody); err != nil {
			logger.Notify.Warn().Err(err).Msg("Webhook 发送失败")
			lastErr = err
		}
	}
	return lastErr
}

// HasChannels returns true if at least one channel is configured.
func (m *Manager) HasChannels() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.names) > 0
}

// ChannelNames returns the names of all configured channels.
func (m *Manager) ChannelNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]string, len(m.names))
	copy(result, m.names)
	return result
}
