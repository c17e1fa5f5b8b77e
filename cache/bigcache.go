package cache

import (
	"context"
	"time"

	"github.com/allegro/bigcache/v3"
)

type BigCache struct {
	Cache *bigcache.BigCache
}

func NewBigCache(allKeysExpTime time.Duration) (*BigCache, error) {
	bc, err := bigcache.New(context.Background(), bigcache.DefaultConfig(allKeysExpTime))
	if err != nil {
		return nil, err
	}
	return &BigCache{Cache: bc}, nil
}

func (b *BigCache) Set(key string, entry []byte) error {
	return b.Cache.Set(key, entry)
}

func (b *BigCache) Get(key string) ([]byte, error) {
	return b.Cache.Get(key)
}
