package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rendis/flowos/pkg/schema"
)

// DefaultMemorySize bounds the in-memory cache when no size is configured.
const DefaultMemorySize = 512

// MemoryCache is a bounded LRU held in process memory.
type MemoryCache struct {
	lru *lru.Cache[string, []byte]
}

// NewMemoryCache returns an LRU cache holding at most size entries.
// A non-positive size selects DefaultMemorySize.
func NewMemoryCache(size int) (*MemoryCache, error) {
	if size <= 0 {
		size = DefaultMemorySize
	}
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("cache: create lru: %w", err)
	}
	return &MemoryCache{lru: c}, nil
}

func (m *MemoryCache) Get(_ context.Context, key string) (*schema.ConversionResult, bool, error) {
	b, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	res, err := decode(b)
	if err != nil {
		m.lru.Remove(key)
		return nil, false, err
	}
	return res, true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, res *schema.ConversionResult) error {
	b, err := encode(res)
	if err != nil {
		return err
	}
	m.lru.Add(key, b)
	return nil
}

func (m *MemoryCache) Evict(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

// Len returns the number of cached entries.
func (m *MemoryCache) Len() int {
	return m.lru.Len()
}
