package database

import (
	"time"
)

type User struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Login          string     `gorm:"uniqueIndex;not null" json:"login"`
	DisplayName    string     `json:"display_name"`
	PasswordHash   string     `gorm:"not null" json:"-"`
	Role           string     `gorm:"not null;default:admin" json:"role"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	FailedAttempts int        `gorm:"default:0" json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// EventRecord 安全事件记录（仅追加，保留清理时批量删除）
type EventRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	IP        string    `gorm:"column:ip;index" json:"ip"`
	IPNumeric uint32    `gorm:"column:ip_numeric;index" json:"ip_numeric"`
	UserLogin string    `gorm:"column:user_login" json:"user_login"`
	UserID    uint      `gorm:"column:user_id;index" json:"user_id"`
	Stamp     float64   `gorm:"column:stamp;index" json:"stamp"`
	Activity  int       `gorm:"column:activity;index" json:"activity"`
	SessionID string    `gorm:"column:session_id;index" json:"session_id"`
	Country   string    `gorm:"column:country;size:2" json:"country"`
	Details   string    `gorm:"column:details;type:text" json:"details"`
	ACStatus  int       `gorm:"column:ac_status" json:"ac_status"`
	ACBot     int       `gorm:"column:ac_bot" json:"ac_bot"`
	ACByUser  uint      `gorm:"column:ac_by_user" json:"ac_by_user"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// ACLEntry 访问列表条目；同一 slice+family 内 (begin,end,tag) 不允许重复
type ACLEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	IP        string    `gorm:"column:ip" json:"ip"`
	BeginV4   uint32    `gorm:"column:ip_long_begin;index" json:"ip_long_begin"`
	EndV4     uint32    `gorm:"column:ip_long_end" json:"ip_long_end"`
	Tag       string    `gorm:"column:tag;size:1;index" json:"tag"`
	Comment   string    `gorm:"column:comments;type:text" json:"comments"`
	Slice     int       `gorm:"column:acl_slice;index;default:0" json:"acl_slice"`
	V6Range   string    `gorm:"column:v6range" json:"v6range"`
	Ver6      bool      `gorm:"column:ver6;default:false" json:"ver6"`
	CreatedAt time.Time `json:"created_at"`
}

// Lockout 活跃封锁（带原因码，供状态解析使用）
type Lockout struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	IP        string    `gorm:"index" json:"ip"`
	BeginV4   uint32    `gorm:"column:ip_long_begin;index" json:"ip_long_begin"`
	EndV4     uint32    `gorm:"column:ip_long_end" json:"ip_long_end"`
	Reason    int       `json:"reason"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"uniqueIndex" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
