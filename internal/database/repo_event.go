package database

import (
	"time"

	"gorm.io/gorm"
)

// EventRepo 安全事件数据仓库
type EventRepo struct {
	db *gorm.DB
}

func NewEventRepo() *EventRepo {
	return &EventRepo{db: DB}
}

// Create 写入事件记录
func (r *EventRepo) Create(rec *EventRecord) error {
	return r.db.Create(rec).Error
}

// Count 统计事件总数
func (r *EventRepo) Count() (int64, error) {
	var count int64
	err := r.db.Model(&EventRecord{}).Count(&count).Error
	return count, err
}

// CountSince 统计指定时间之后的事件数
func (r *EventRepo) CountSince(since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&EventRecord{}).Where("created_at >= ?", since).Count(&count).Error
	return count, err
}

// CountByActivity 按活动码统计（指定时间之后）
func (r *EventRepo) CountByActivity(since time.Time) (map[int]int64, error) {
	type result struct {
		Activity int
		Count    int64
	}
	var results []result
	err := r.db.Model(&EventRecord{}).
		Select("activity, count(*) as count").
		Where("created_at >= ?", since).
		Group("activity").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[int]int64)
	for _, row := range results {
		counts[row.Activity] = row.Count
	}
	return counts, nil
}

// CountByCountry 按国家统计（指定时间之后）
func (r *EventRepo) CountByCountry(since time.Time) (map[string]int64, error) {
	type result struct {
		Country string
		Count   int64
	}
	var results []result
	err := r.db.Model(&EventRecord{}).
		Select("country, count(*) as count").
		Where("created_at >= ? AND country != ''", since).
		Group("country").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for _, row := range results {
		counts[row.Country] = row.Count
	}
	return counts, nil
}

// TopIPs 事件数最多的来源地址（指定时间之后）
func (r *EventRepo) TopIPs(since time.Time, limit int) (map[string]int64, error) {
	type result struct {
		IP    string
		Count int64
	}
	var results []result
	err := r.db.Model(&EventRecord{}).
		Select("ip, count(*) as count").
		Where("created_at >= ?", since).
		Group("ip").
		Order("count desc").
		Limit(limit).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for _, row := range results {
		counts[row.IP] = row.Count
	}
	return counts, nil
}

// List 分页查询事件
func (r *EventRepo) List(filter EventFilter) ([]EventRecord, int64, error) {
	var records []EventRecord
	var total int64

	q := r.db.Model(&EventRecord{})
	if filter.Activity != 0 {
		q = q.Where("activity = ?", filter.Activity)
	}
	if filter.IP != "" {
		q = q.Where("ip = ?", filter.IP)
	}
	if filter.UserID != 0 {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.SessionID != "" {
		q = q.Where("session_id = ?", filter.SessionID)
	}
	if filter.Status != 0 {
		q = q.Where("ac_status = ?", filter.Status)
	}
	if filter.Keyword != "" {
		q = q.Where("user_login LIKE ? OR ip LIKE ?", "%"+filter.Keyword+"%", "%"+filter.Keyword+"%")
	}
	if filter.StartTime != "" {
		q = q.Where("created_at >= ?", filter.StartTime)
	}
	if filter.EndTime != "" {
		q = q.Where("created_at <= ?", filter.EndTime)
	}

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	sortOrder := filter.SortOrder
	if sortOrder == "" {
		sortOrder = "desc"
	}

	err := q.Order(sortBy + " " + sortOrder).
		Offset(filter.Offset()).
		Limit(filter.PageSize).
		Find(&records).Error
	return records, total, err
}

// GetByID 根据 ID 获取事件详情
func (r *EventRepo) GetByID(id uint) (*EventRecord, error) {
	var rec EventRecord
	err := r.db.First(&rec, id).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete 按条件批量删除，返回删除行数
func (r *EventRepo) Delete(criteria EventDeleteCriteria) (int64, error) {
	q := r.db.Model(&EventRecord{})
	applied := false
	if !criteria.Before.IsZero() {
		q = q.Where("created_at < ?", criteria.Before)
		applied = true
	}
	if criteria.UserID != 0 {
		q = q.Where("user_id = ?", criteria.UserID)
		applied = true
	}
	if criteria.Activity != 0 {
		q = q.Where("activity = ?", criteria.Activity)
		applied = true
	}
	if criteria.IP != "" {
		q = q.Where("ip = ?", criteria.IP)
		applied = true
	}
	if criteria.All {
		applied = true
		q = q.Where("1 = 1")
	}
	if !applied {
		return 0, nil
	}
	res := q.Delete(&EventRecord{})
	return res.RowsAffected, res.Error
}

// EventFilter 事件查询筛选条件
type EventFilter struct {
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
	Activity  int
	IP        string
	UserID    uint
	SessionID string
	Status    int
	Keyword   string
	StartTime string
	EndTime   string
}

func (f *EventFilter) Offset() int {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = 20
	}
	return (f.Page - 1) * f.PageSize
}

// EventDeleteCriteria 批量删除条件；全部为零值时不删除任何行
type EventDeleteCriteria struct {
	Before   time.Time
	UserID   uint
	Activity int
	IP       string
	All      bool
}
