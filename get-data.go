package argateway

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/everFinance/goar/utils"
	"github.com/permadata-network/argateway/schema"
	"github.com/tidwall/gjson"
)

// payloads larger than this are never cached whole; they stream chunk
// by chunk instead
const maxInlineDataSize = 1 << 26

// GetData materializes a payload through the full cascade. Bundle
// import uses this, it needs the whole binary in memory anyway.
func (s *Gateway) GetData(id string) ([]byte, string, error) {
	body, _, contentType, err := s.DataStream(id)
	if err != nil {
		return nil, "", err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", err
	}
	return data, contentType, nil
}

// DataStream resolves a payload: object store first, then the bundle
// parent, then cached chunks, then the peer network. Each tier falls
// through silently; only exhausting all four is an error.
func (s *Gateway) DataStream(id string) (io.ReadCloser, int64, string, error) {
	if body, size, contentType, err := s.streamCachedData(id); err == nil {
		metricDataResolved("cache")
		return body, size, contentType, nil
	}

	dbTx, txErr := s.wdb.GetTx(id)

	if txErr == nil && dbTx.DataSize > 0 && dbTx.Parent != "" {
		if body, size, contentType, err := s.streamFromParent(id, dbTx.Parent); err == nil {
			metricDataResolved("parent")
			return body, size, contentType, nil
		}
	}

	if txErr == nil && dbTx.DataSize > 0 && dbTx.DataRoot != "" {
		if body, size, contentType, err := s.streamCachedChunks(dbTx); err == nil {
			metricDataResolved("chunks")
			return body, size, contentType, nil
		}
	}

	var header *schema.Transaction
	if txErr == nil {
		header = &dbTx
	}
	body, size, contentType, err := s.fetchFromNetwork(id, header)
	if err != nil {
		log.Warn("data not resolvable", "txId", id, "err", err)
		return nil, 0, "", schema.ErrNotFound
	}
	metricDataResolved("network")
	return body, size, contentType, nil
}

func (s *Gateway) streamCachedData(id string) (io.ReadCloser, int64, string, error) {
	return s.store.GetStream(schema.TxDataBucket, schema.TxDataKey(id))
}

// streamFromParent digs a legacy bundle item out of its containing
// bundle's json. Binary bundle items never take this path, extraction
// already cached them under their own key.
func (s *Gateway) streamFromParent(id, parentId string) (io.ReadCloser, int64, string, error) {
	parentData, _, err := s.GetData(parentId)
	if err != nil {
		return nil, 0, "", err
	}
	items := gjson.GetBytes(parentData, "items")
	if !items.IsArray() {
		return nil, 0, "", schema.ErrNotExist
	}
	for _, rawItem := range items.Array() {
		if rawItem.Get("id").String() != id {
			continue
		}
		data, err := utils.Base64Decode(rawItem.Get("data").String())
		if err != nil {
			return nil, 0, "", err
		}
		contentType := ""
		rawItem.Get("tags").ForEach(func(_, tg gjson.Result) bool {
			nameBy, err := utils.Base64Decode(tg.Get("name").String())
			if err != nil || !strings.EqualFold(string(nameBy), schema.ContentTypeTag) {
				return true
			}
			if valBy, err := utils.Base64Decode(tg.Get("value").String()); err == nil {
				contentType = string(valBy)
			}
			return false
		})
		return io.NopCloser(bytes.NewReader(data)), int64(len(data)), contentType, nil
	}
	return nil, 0, "", schema.ErrNotExist
}

// streamCachedChunks serves the payload from individually cached
// chunks. Only a complete set qualifies: the indexed chunk sizes must
// add up to the tx data size. The first chunk is probed eagerly so a
// hole in the store fails the tier before any bytes go out.
func (s *Gateway) streamCachedChunks(dbTx schema.Transaction) (io.ReadCloser, int64, string, error) {
	chunks, err := s.wdb.GetChunks(dbTx.DataRoot, dbTx.DataSize)
	if err != nil {
		return nil, 0, "", err
	}
	var cachedSum int64
	for _, chunk := range chunks {
		cachedSum += chunk.ChunkSize
	}
	if cachedSum != dbTx.DataSize {
		log.Debug("cached chunks incomplete", "txId", dbTx.Id, "cached", cachedSum, "dataSize", dbTx.DataSize)
		return nil, 0, "", schema.ErrNotExist
	}

	if _, ok := s.cache.HotGetChunk(dbTx.DataRoot, chunks[0].Offset); !ok {
		if _, _, err := s.store.Head(schema.TxDataBucket, schema.ChunkDataKey(dbTx.DataRoot, chunks[0].Offset)); err != nil {
			return nil, 0, "", err
		}
	}

	return &chunkReader{gw: s, dataRoot: dbTx.DataRoot, chunks: chunks}, dbTx.DataSize, dbTx.ContentType, nil
}

// chunkReader streams cached chunks in offset order, one store read at
// a time. The first failed chunk poisons the reader for good.
type chunkReader struct {
	gw       *Gateway
	dataRoot string
	chunks   []schema.Chunk
	idx      int
	buf      []byte
	err      error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	for len(r.buf) == 0 {
		if r.idx >= len(r.chunks) {
			r.err = io.EOF
			return 0, io.EOF
		}
		offset := r.chunks[r.idx].Offset
		data, ok := r.gw.cache.HotGetChunk(r.dataRoot, offset)
		if !ok {
			var err error
			data, _, err = r.gw.store.Get(schema.TxDataBucket, schema.ChunkDataKey(r.dataRoot, offset))
			if err != nil {
				r.err = err
				return 0, err
			}
			r.gw.cache.HotSetChunk(r.dataRoot, offset, data)
		}
		r.buf = data
		r.idx++
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *chunkReader) Close() error {
	r.buf = nil
	if r.err == nil {
		r.err = io.ErrClosedPipe
	}
	return nil
}

// fetchFromNetwork is the cascade's last tier. Small payloads are
// fetched whole and written through to the object store; oversized ones
// stream chunk by chunk off the weave, caching each chunk as it passes.
func (s *Gateway) fetchFromNetwork(id string, dbTx *schema.Transaction) (io.ReadCloser, int64, string, error) {
	contentType := ""
	dataSize := int64(0)
	dataRoot := ""
	if dbTx != nil {
		contentType, dataSize, dataRoot = dbTx.ContentType, dbTx.DataSize, dbTx.DataRoot
	} else if tx, err := s.peerCli.GetUnconfirmedTx(id); err == nil {
		contentType = getTagValue(tx.Tags, schema.ContentTypeTag)
		dataSize, _ = strconv.ParseInt(tx.DataSize, 10, 64)
		dataRoot = tx.DataRoot
	}

	if dataSize > maxInlineDataSize {
		offsetInfo, err := s.peerCli.GetTxOffset(id)
		if err != nil {
			return nil, 0, "", err
		}
		endOffset, err := strconv.ParseInt(offsetInfo.Offset, 10, 64)
		if err != nil {
			return nil, 0, "", err
		}
		size, err := strconv.ParseInt(offsetInfo.Size, 10, 64)
		if err != nil {
			return nil, 0, "", err
		}
		reader := &networkChunkReader{
			gw:          s,
			dataRoot:    dataRoot,
			dataSize:    size,
			startOffset: endOffset - size + 1,
		}
		return reader, size, contentType, nil
	}

	data, err := s.peerCli.GetTxData(id)
	if err != nil {
		return nil, 0, "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := s.store.Put(schema.TxDataBucket, schema.TxDataKey(id), data, contentType); err != nil {
		log.Warn("write-through to store failed", "txId", id, "err", err)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), contentType, nil
}

// networkChunkReader walks the weave's chunk endpoint across a tx's
// byte range. Chunks land in the store and the chunk index on the way
// through, so the next reader hits the cached-chunks tier instead.
type networkChunkReader struct {
	gw          *Gateway
	dataRoot    string
	dataSize    int64
	startOffset int64
	read        int64
	buf         []byte
	err         error
}

func (r *networkChunkReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	for len(r.buf) == 0 {
		if r.read >= r.dataSize {
			r.err = io.EOF
			return 0, io.EOF
		}
		data, err := r.gw.peerCli.GetChunkData(r.startOffset + r.read)
		if err != nil {
			r.err = err
			return 0, err
		}
		if len(data) == 0 {
			r.err = io.ErrUnexpectedEOF
			return 0, r.err
		}
		relOffset := r.read
		if r.dataRoot != "" {
			if err := r.gw.store.Put(schema.TxDataBucket, schema.ChunkDataKey(r.dataRoot, relOffset), data, ""); err == nil {
				if err := r.gw.wdb.SaveChunk(schema.Chunk{
					DataRoot:  r.dataRoot,
					DataSize:  r.dataSize,
					Offset:    relOffset,
					ChunkSize: int64(len(data)),
				}); err != nil {
					log.Warn("index chunk failed", "dataRoot", r.dataRoot, "offset", relOffset, "err", err)
				}
				r.gw.cache.HotSetChunk(r.dataRoot, relOffset, data)
			}
		}
		r.read += int64(len(data))
		r.buf = data
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *networkChunkReader) Close() error {
	r.buf = nil
	if r.err == nil {
		r.err = io.ErrClosedPipe
	}
	return nil
}
