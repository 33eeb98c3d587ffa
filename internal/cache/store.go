// Package cache реализует многоуровневый кэш превью с объединением
// одновременных загрузок одного URL.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/SergeiKhy/link-preview/internal/models"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrMiss: ключа нет в хранилище
var ErrMiss = errors.New("запись в кэше не найдена")

// Store: один уровень кэша превью
type Store interface {
	Name() string
	Get(ctx context.Context, key string) (*models.LinkPreview, error)
	Set(ctx context.Context, key string, preview *models.LinkPreview, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

const DefaultMemorySize = 5000

// MemoryStore: локальный LRU процесса
type MemoryStore struct {
	lru *expirable.LRU[string, *models.LinkPreview]
}

// NewMemoryStore создаёт LRU на size записей. ttl ограничивает жизнь записи
// сверху; точный срок проверяется по ExpiresAt самого превью.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = DefaultMemorySize
	}
	return &MemoryStore{lru: expirable.NewLRU[string, *models.LinkPreview](size, nil, ttl)}
}

func (s *MemoryStore) Name() string {
	return "memory"
}

func (s *MemoryStore) Get(_ context.Context, key string) (*models.LinkPreview, error) {
	p, ok := s.lru.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	return p.Clone(), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, preview *models.LinkPreview, _ time.Duration) error {
	s.lru.Add(key, preview.Clone())
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.lru.Remove(key)
	return nil
}

// Len возвращает число записей
func (s *MemoryStore) Len() int {
	return s.lru.Len()
}
