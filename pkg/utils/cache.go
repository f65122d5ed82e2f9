package utils

import (
	"context"
	"sync"
	"time"
)

// cacheItem 值 + 过期时间
type cacheItem struct {
	value     string
	expiresAt time.Time
}

// MemoryStore 进程内 KV，带过期
// 未配置 Redis 时承担 OAuth state 与同步冷却
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]cacheItem
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]cacheItem), now: time.Now}
}

// Put 写入
func (s *MemoryStore) Put(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = cacheItem{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

// Take 读取并删除 (用完即焚)
func (s *MemoryStore) Take(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[key]
	if !ok {
		return "", false, nil
	}
	delete(s.items, key)
	if s.now().After(item.expiresAt) {
		return "", false, nil
	}
	return item.value, true, nil
}

// ==================== 冷却 ====================

// Mark 标记冷却
func (s *MemoryStore) Mark(ctx context.Context, key string, ttl time.Duration) error {
	return s.Put(ctx, key, "1", ttl)
}

// Active 冷却是否生效，过期的条目懒删除
func (s *MemoryStore) Active(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[key]
	if !ok {
		return false, nil
	}
	if s.now().After(item.expiresAt) {
		delete(s.items, key)
		return false, nil
	}
	return true, nil
}
