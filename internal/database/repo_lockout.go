package database

import (
	"time"

	"gorm.io/gorm"
)

// LockoutRepo 活跃封锁数据仓库
type LockoutRepo struct {
	db *gorm.DB
}

func NewLockoutRepo() *LockoutRepo {
	return &LockoutRepo{db: DB}
}

// Create 写入封锁记录
func (r *LockoutRepo) Create(l *Lockout) error {
	return r.db.Create(l).Error
}

// ActiveFor 返回覆盖该 IPv4 数值且未过期的第一条封锁
func (r *LockoutRepo) ActiveFor(ipNumeric uint32, now time.Time) (*Lockout, error) {
	var l Lockout
	err := r.db.
		Where("ip_long_begin <= ? AND ip_long_end >= ? AND expires_at > ?", ipNumeric, ipNumeric, now).
		Order("ip_long_begin asc").
		First(&l).Error
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ActiveForIP 按原始地址文本查找（IPv6 走这里）
func (r *LockoutRepo) ActiveForIP(ip string, now time.Time) (*Lockout, error) {
	var l Lockout
	err := r.db.
		Where("ip = ? AND expires_at > ?", ip, now).
		First(&l).Error
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Release 解除指定地址的封锁，返回删除行数
func (r *LockoutRepo) Release(ip string) (int64, error) {
	res := r.db.Where("ip = ?", ip).Delete(&Lockout{})
	return res.RowsAffected, res.Error
}

// PurgeExpired 清理已过期的封锁
func (r *LockoutRepo) PurgeExpired(now time.Time) (int64, error) {
	res := r.db.Where("expires_at <= ?", now).Delete(&Lockout{})
	return res.RowsAffected, res.Error
}

// Count 统计活跃封锁数
func (r *LockoutRepo) Count(now time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&Lockout{}).Where("expires_at > ?", now).Count(&count).Error
	return count, err
}
