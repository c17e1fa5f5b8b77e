package argateway

import (
	"sync"
	"time"

	"github.com/everFinance/goar/types"
	"github.com/permadata-network/argateway/cache"
	"github.com/permadata-network/argateway/schema"
)

const hotChunkExpTime = 10 * time.Minute

// Cache holds the last seen network info plus a short-lived in-memory
// layer for chunk payloads, so a popular tx being reassembled does not
// hit the object store once per reader.
type Cache struct {
	arInfo types.NetworkInfo
	lock   sync.RWMutex

	hot *cache.Cache
}

func NewCache(peerCli *PeerClient) *Cache {
	c := &Cache{}
	info, err := peerCli.GetInfo()
	if err != nil {
		panic(err)
	}
	c.UpdateInfo(*info)

	hot, err := cache.NewLocalCache(hotChunkExpTime)
	if err != nil {
		panic(err)
	}
	c.hot = hot
	return c
}

func (c *Cache) GetInfo() types.NetworkInfo {
	c.lock.RLock()
	defer c.lock.RUnlock()
	info := c.arInfo
	return info
}

func (c *Cache) UpdateInfo(info types.NetworkInfo) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.arInfo = info
}

func (c *Cache) HotGetChunk(dataRoot string, offset int64) ([]byte, bool) {
	data, err := c.hot.Cache.Get(schema.ChunkDataKey(dataRoot, offset))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *Cache) HotSetChunk(dataRoot string, offset int64, data []byte) {
	// best effort, a full hot cache just means store reads
	_ = c.hot.Cache.Set(schema.ChunkDataKey(dataRoot, offset), data)
}
