package cache

import "time"

// Cache is a process-local byte cache with a single expiry horizon,
// used as the hot layer in front of the chunk object store.
type Cache struct {
	Cache ICache
}

type ICache interface {
	Set(key string, entry []byte) error
	Get(key string) ([]byte, error)
}

func NewLocalCache(allKeysExpTime time.Duration) (*Cache, error) {
	bc, err := NewBigCache(allKeysExpTime)
	if err != nil {
		return nil, err
	}
	return &Cache{Cache: bc}, nil
}
