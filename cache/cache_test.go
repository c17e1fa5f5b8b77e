package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocalCacheSetGet(t *testing.T) {
	c, err := NewLocalCache(time.Minute)
	assert.NoError(t, err)

	key := "chunks/root01/0"
	assert.NoError(t, c.Cache.Set(key, []byte("chunk-bytes")))

	data, err := c.Cache.Get(key)
	assert.NoError(t, err)
	assert.Equal(t, []byte("chunk-bytes"), data)

	_, err = c.Cache.Get("chunks/root01/262144")
	assert.Error(t, err)
}
