package alert

import (
	"errors"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/gorm"

	"ipsentry/internal/constants"
	"ipsentry/internal/database"
)

// Store 订阅存储：整表以 JSON 序列化存放在单个站点设置项里，按持久化
// 顺序求值。整 blob 读改写不加锁，并发覆盖是接受的权衡（通知特性，
// 不是安全控制）。
type Store struct {
	settings *database.SettingRepo
}

func NewStore() *Store {
	return &Store{settings: database.NewSettingRepo()}
}

// List 按持久化顺序返回全部订阅
func (s *Store) List() ([]Subscription, error) {
	raw, err := s.settings.Get(constants.SettingSubscriptions)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var subs []Subscription
	if err := json.Unmarshal([]byte(raw), &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

func (s *Store) save(subs []Subscription) error {
	data, err := json.Marshal(subs)
	if err != nil {
		return err
	}
	return s.settings.Set(constants.SettingSubscriptions, string(data))
}

// Create 校验并追加订阅，返回计算出的 ID。相同条件重复创建返回
// ErrExists。
func (s *Store) Create(sub Subscription) (string, error) {
	if err := sub.Validate(); err != nil {
		return "", err
	}
	sub.ID = sub.HashID()
	sub.SentCount = 0

	subs, err := s.List()
	if err != nil {
		return "", err
	}
	for _, existing := range subs {
		if existing.ID == sub.ID {
			return "", ErrExists
		}
	}
	if err := s.save(append(subs, sub)); err != nil {
		return "", err
	}
	return sub.ID, nil
}

// Exists 判断相同条件的订阅是否已存在
func (s *Store) Exists(sub Subscription) (bool, error) {
	id := sub.HashID()
	subs, err := s.List()
	if err != nil {
		return false, err
	}
	for _, existing := range subs {
		if existing.ID == id {
			return true, nil
		}
	}
	return false, nil
}

// Delete 按 ID 删除订阅
func (s *Store) Delete(id string) error {
	subs, err := s.List()
	if err != nil {
		return err
	}
	kept := subs[:0]
	found := false
	for _, sub := range subs {
		if sub.ID == id {
			found = true
			continue
		}
		kept = append(kept, sub)
	}
	if !found {
		return ErrNotFound
	}
	return s.save(kept)
}

// IncrementSent 持久化某订阅的已发计数（仅在投递已尝试后调用）
func (s *Store) IncrementSent(id string) error {
	subs, err := s.List()
	if err != nil {
		return err
	}
	for i := range subs {
		if subs[i].ID == id {
			subs[i].SentCount++
			return s.save(subs)
		}
	}
	return ErrNotFound
}

// PruneExpired 删除已过期与收件人已不存在的订阅，返回删除数。
// 由后台定时器调用。
func (s *Store) PruneExpired(now time.Time, userExists func(uint) bool) (int, error) {
	subs, err := s.List()
	if err != nil {
		return 0, err
	}
	kept := subs[:0]
	for _, sub := range subs {
		if sub.Expired(now) {
			continue
		}
		if sub.Channels.RecipientUserID != 0 && userExists != nil && !userExists(sub.Channels.RecipientUserID) {
			continue
		}
		kept = append(kept, sub)
	}
	removed := len(subs) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	return removed, s.save(kept)
}

// DeleteForRecipient 删除指定收件人的全部订阅（账号删除时调用）
func (s *Store) DeleteForRecipient(userID uint) (int, error) {
	subs, err := s.List()
	if err != nil {
		return 0, err
	}
	kept := subs[:0]
	for _, sub := range subs {
		if sub.Channels.RecipientUserID == userID {
			continue
		}
		kept = append(kept, sub)
	}
	removed := len(subs) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	return removed, s.save(kept)
}
