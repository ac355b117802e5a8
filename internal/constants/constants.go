package constants

// Activity codes (persisted in event records; values are stable)
const (
	ActivityLogin           = 5
	ActivityLogout          = 6
	ActivityLoginFailed     = 7
	ActivityRegisterDenied  = 8
	ActivityIPBlocked       = 10 // request denied, single address lockout
	ActivitySubnetBlocked   = 11 // request denied, subnet lockout
	ActivityPasswordReset   = 21
	ActivityUserCreated     = 30
	ActivityUserDeleted     = 31
	ActivityACLEntryAdded   = 40
	ActivityACLEntryRemoved = 41
	ActivityLogPurged       = 50
	ActivitySpamDenied      = 52
	ActivityProbeDetected   = 56
)

var AllActivities = []int{
	ActivityLogin, ActivityLogout, ActivityLoginFailed, ActivityRegisterDenied,
	ActivityIPBlocked, ActivitySubnetBlocked, ActivityPasswordReset,
	ActivityUserCreated, ActivityUserDeleted, ActivityACLEntryAdded,
	ActivityACLEntryRemoved, ActivityLogPurged, ActivitySpamDenied,
	ActivityProbeDetected,
}

// Status codes (ac_status; outcome/reason attached to an event record)
const (
	StatusNone            = 0
	StatusAllowListed     = 500
	StatusDenyListed      = 501
	StatusTooManyFailures = 502
	StatusBotDetected     = 503
	StatusLockedOut       = 504
	StatusReservedLogin   = 505
)

// ACL tags
const (
	TagAllow = "W"
	TagDeny  = "B"
)

// GlobalSlice 是核心封锁逻辑查询的全局访问列表
const GlobalSlice = 0

// User roles
const (
	RoleAdmin    = "admin"
	RoleReadonly = "readonly"
)

// Settings keys
const (
	SettingSubscriptions     = "alert_subscriptions"
	SettingNotifyMailHost    = "notify_mail_host"
	SettingNotifyMailPort    = "notify_mail_port"
	SettingNotifyMailFrom    = "notify_mail_from"
	SettingNotifyMailTo      = "notify_mail_to"
	SettingNotifyMailUser    = "notify_mail_user"
	SettingNotifyMailPass    = "notify_mail_pass"
	SettingNotifyTgToken     = "notify_telegram_token"
	SettingNotifyTgChatID    = "notify_telegram_chat_id"
	SettingNotifySlackToken  = "notify_slack_token"
	SettingNotifySlackChanID = "notify_slack_channel_id"
	SettingNotifyWebhookURL  = "notify_webhook_url"
)

// IPNumericSentinel 非 IPv4 地址的 ip_numeric 哨兵值
const IPNumericSentinel = 0
