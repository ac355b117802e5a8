package database

import (
	"gorm.io/gorm"
)

// ACLRepo 访问列表数据仓库
type ACLRepo struct {
	db *gorm.DB
}

func NewACLRepo() *ACLRepo {
	return &ACLRepo{db: DB}
}

// Exists 判断同 slice+family 内是否已有相同 (begin,end,tag) 条目
func (r *ACLRepo) Exists(entry *ACLEntry) (bool, error) {
	var count int64
	q := r.db.Model(&ACLEntry{}).
		Where("acl_slice = ? AND ver6 = ? AND tag = ?", entry.Slice, entry.Ver6, entry.Tag)
	if entry.Ver6 {
		q = q.Where("v6range = ?", entry.V6Range)
	} else {
		q = q.Where("ip_long_begin = ? AND ip_long_end = ?", entry.BeginV4, entry.EndV4)
	}
	err := q.Count(&count).Error
	return count > 0, err
}

// Insert 写入条目（调用方负责先做重复检查）
func (r *ACLRepo) Insert(entry *ACLEntry) error {
	return r.db.Create(entry).Error
}

// ListSlice 列出指定 slice+family 的条目，按 begin 升序（匹配顺序）
func (r *ACLRepo) ListSlice(slice int, ver6 bool) ([]ACLEntry, error) {
	var entries []ACLEntry
	err := r.db.Where("acl_slice = ? AND ver6 = ?", slice, ver6).
		Order("ip_long_begin asc, v6range asc, id asc").
		Find(&entries).Error
	return entries, err
}

// ListAll 列出指定 slice 的所有条目（双栈，管理界面用）
func (r *ACLRepo) ListAll(slice int) ([]ACLEntry, error) {
	var entries []ACLEntry
	err := r.db.Where("acl_slice = ?", slice).
		Order("ver6 asc, ip_long_begin asc, v6range asc, id asc").
		Find(&entries).Error
	return entries, err
}

// Remove 删除匹配范围的条目，返回删除行数
func (r *ACLRepo) Remove(entry *ACLEntry) (int64, error) {
	q := r.db.Where("acl_slice = ? AND ver6 = ?", entry.Slice, entry.Ver6)
	if entry.Ver6 {
		q = q.Where("v6range = ?", entry.V6Range)
	} else {
		q = q.Where("ip_long_begin = ? AND ip_long_end = ?", entry.BeginV4, entry.EndV4)
	}
	res := q.Delete(&ACLEntry{})
	return res.RowsAffected, res.Error
}

// Count 统计指定 slice 的条目数
func (r *ACLRepo) Count(slice int) (int64, error) {
	var count int64
	err := r.db.Model(&ACLEntry{}).Where("acl_slice = ?", slice).Count(&count).Error
	return count, err
}
