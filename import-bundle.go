package argateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/everFinance/goar/types"
	"github.com/everFinance/goar/utils"
	"github.com/panjf2000/ants/v2"
	"github.com/permadata-network/argateway/schema"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// OnImportBundle is the import-bundles queue handler. Retries are
// self-scheduled with a delay, so the handler reports success to the
// queue even when the import itself did not finish.
func (s *Gateway) OnImportBundle(ctx context.Context, body []byte) error {
	msg := schema.ImportBundle{}
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Error("bad import-bundles message", "err", err, "body", string(body))
		return nil
	}
	return s.handleImportBundle(msg)
}

func (s *Gateway) handleImportBundle(msg schema.ImportBundle) error {
	tx := msg.Header
	if tx == nil {
		var err error
		tx, err = s.peerCli.GetUnconfirmedTx(msg.Id)
		if err != nil {
			log.Warn("fetch bundle header failed", "txId", msg.Id, "err", err)
			return err
		}
	}

	status, err := s.wdb.GetBundleStatus(tx.ID)
	if err != nil && err != schema.ErrNotExist {
		return err
	}
	switch status.Status {
	case schema.BundleInvalid, schema.BundleError:
		// terminal, a duplicate delivery changes nothing; a complete
		// bundle re-runs so purged item data gets repaired after forks
		return nil
	}
	attempts := status.Attempts + 1
	log.Info("importing bundle", "txId", tx.ID, "attempts", attempts)

	data, contentType, err := s.GetData(tx.ID)
	if err != nil {
		log.Warn("bundle data not available yet", "txId", tx.ID, "err", err)
		return s.retryBundle(tx, attempts, "data not yet available")
	}
	if err := s.ensureCached(tx.ID, data, contentType); err != nil {
		log.Warn("cache bundle binary failed", "txId", tx.ID, "err", err)
		return s.retryBundle(tx, attempts, err.Error())
	}

	// a retry after a partial import reuses the parsed item list
	var items []schema.BundleItem
	if len(status.BundleMeta) > 0 {
		if err := json.Unmarshal(status.BundleMeta, &items); err != nil {
			items = nil
		}
	}
	if items == nil {
		if isAns104(tx.Tags) {
			items, err = indexBundle(data)
		} else {
			items, err = parseLegacyBundle(data)
		}
		if err != nil {
			log.Warn("bundle failed validation", "txId", tx.ID, "err", err)
			return s.invalidBundle(tx.ID, attempts, err)
		}
		metaBy, err := json.Marshal(items)
		if err != nil {
			return err
		}
		if err := s.wdb.SaveBundleStatus(schema.BundleStatus{
			Id:       tx.ID,
			Status:   schema.BundlePending,
			Attempts: status.Attempts,
		}); err != nil {
			return err
		}
		if err := s.wdb.SaveBundleMeta(tx.ID, metaBy); err != nil {
			return err
		}
	}

	// duplicate ids inside one bundle collapse to the first occurrence
	// before extraction, so payload and index row always agree
	items = dedupItems(items)

	if err := s.extractItems(tx.ID, data, items); err != nil {
		log.Error("extract bundle items failed", "txId", tx.ID, "err", err)
		return s.retryBundle(tx, attempts, err.Error())
	}

	dbItems, tagRows, err := itemRows(tx.ID, s.bundleHeight(tx.ID), items)
	if err != nil {
		return s.invalidBundle(tx.ID, attempts, err)
	}
	if err := s.wdb.SaveBundleItems(dbItems, tagRows); err != nil {
		return s.retryBundle(tx, attempts, err.Error())
	}

	if err := s.wdb.SaveBundleStatus(schema.BundleStatus{
		Id:       tx.ID,
		Status:   schema.BundleComplete,
		Attempts: attempts,
	}); err != nil {
		return err
	}
	metricBundleImported(schema.BundleComplete)
	s.publishItemEvents(dbItems)
	log.Info("bundle imported", "txId", tx.ID, "items", len(dbItems))
	return nil
}

// bundleHeight reads the containing tx's confirmed height so items
// inherit it; nil while the bundle tx is still pending.
func (s *Gateway) bundleHeight(bundleId string) *int64 {
	dbTx, err := s.wdb.GetTx(bundleId)
	if err != nil {
		return nil
	}
	return dbTx.Height
}

// retryBundle re-queues the bundle with a backoff scaled by how much
// the poster paid relative to the network price. Past the retry cap the
// status flips to the terminal error state and the message is dropped.
func (s *Gateway) retryBundle(tx *types.Transaction, attempts int, errMsg string) error {
	if attempts >= schema.MaxRetry+1 {
		if err := s.wdb.SaveBundleStatus(schema.BundleStatus{
			Id:       tx.ID,
			Status:   schema.BundleError,
			Attempts: attempts,
			Error:    errMsg,
		}); err != nil {
			return err
		}
		metricBundleImported(schema.BundleError)
		log.Error("bundle import gave up", "txId", tx.ID, "attempts", attempts, "err", errMsg)
		return nil
	}

	dataSize, _ := strconv.ParseInt(tx.DataSize, 10, 64)
	reward, _ := strconv.ParseInt(tx.Reward, 10, 64)
	delay := int64(schema.MaxBackoffSeconds)
	if basePrice, err := s.peerCli.GetPriceWinston(dataSize); err == nil {
		delay = computeBackoff(attempts, basePrice, reward)
	}

	if err := s.wdb.SaveBundleStatus(schema.BundleStatus{
		Id:       tx.ID,
		Status:   schema.BundlePending,
		Attempts: attempts,
		Error:    errMsg,
	}); err != nil {
		return err
	}
	body, err := json.Marshal(schema.ImportBundle{Id: tx.ID, Header: tx})
	if err != nil {
		return err
	}
	log.Info("bundle import requeued", "txId", tx.ID, "attempts", attempts, "delay", delay)
	return s.queue.Enqueue(schema.QueueImportBundles, body, &EnqueueOptions{
		GroupId:      tx.ID,
		DelaySeconds: delay,
	})
}

func (s *Gateway) invalidBundle(id string, attempts int, cause error) error {
	if err := s.wdb.SaveBundleStatus(schema.BundleStatus{
		Id:       id,
		Status:   schema.BundleInvalid,
		Attempts: attempts,
		Error:    cause.Error(),
	}); err != nil {
		return err
	}
	metricBundleImported(schema.BundleInvalid)
	return nil
}

// computeBackoff scales the base retry delay inversely with the reward
// multiple the poster paid over the network price, floored so cheap
// bundles still wait a couple of minutes.
func computeBackoff(attempts int, basePrice, reward int64) int64 {
	if reward <= 0 || basePrice <= 0 {
		return schema.MaxBackoffSeconds
	}
	wait := decimal.NewFromInt(int64(attempts) * schema.RetryBackoffSeconds).
		Mul(decimal.NewFromInt(basePrice)).
		Div(decimal.NewFromInt(reward))
	if wait.LessThan(decimal.NewFromInt(schema.MaxBackoffSeconds)) {
		return schema.MaxBackoffSeconds
	}
	return wait.IntPart()
}

func isAns104(tags []types.Tag) bool {
	return getTagValue(tags, schema.BundleFormatTag) == schema.BundleFormatBinary &&
		getTagValue(tags, schema.BundleVersionTag) == schema.BundleVersionV2
}

func byteArrayToLong(b []byte) int64 {
	var value int64
	for i := len(b) - 1; i >= 0; i-- {
		value = value*256 + int64(b[i])
	}
	return value
}

type bundleEntry struct {
	id   string
	size int64
}

// parseBundleEntries reads the binary bundle preamble: a 32-byte little
// endian item count followed by one 64-byte entry per item, each entry
// a 32-byte size and the 32-byte item id.
func parseBundleEntries(data []byte) ([]bundleEntry, int64, error) {
	if len(data) < schema.MinBundleBinarySize {
		return nil, 0, fmt.Errorf("binary too short for a bundle: %d bytes", len(data))
	}
	count := byteArrayToLong(data[:32])
	if count <= 0 {
		return nil, 0, fmt.Errorf("bundle item count must be positive, got %d", count)
	}
	entriesEnd := 32 + count*64
	if entriesEnd > int64(len(data)) {
		return nil, 0, fmt.Errorf("bundle entry table truncated: %d items in %d bytes", count, len(data))
	}
	entries := make([]bundleEntry, 0, count)
	total := entriesEnd
	for i := int64(0); i < count; i++ {
		entryStart := 32 + i*64
		size := byteArrayToLong(data[entryStart : entryStart+32])
		if size <= 0 {
			return nil, 0, fmt.Errorf("bundle item %d has size %d", i, size)
		}
		id := utils.Base64Encode(data[entryStart+32 : entryStart+64])
		entries = append(entries, bundleEntry{id: id, size: size})
		total += size
	}
	if total > int64(len(data)) {
		return nil, 0, fmt.Errorf("bundle items overflow binary: need %d bytes, have %d", total, len(data))
	}
	return entries, entriesEnd, nil
}

// indexBundle decomposes a binary bundle into item metadata without
// holding a copy of any payload: each item records the absolute offset
// of its data inside the bundle binary instead.
func indexBundle(data []byte) ([]schema.BundleItem, error) {
	entries, itemStart, err := parseBundleEntries(data)
	if err != nil {
		return nil, err
	}
	items := make([]schema.BundleItem, 0, len(entries))
	for i, entry := range entries {
		item, err := utils.DecodeBundleItem(data[itemStart : itemStart+entry.size])
		if err != nil {
			return nil, fmt.Errorf("decode bundle item %d: %v", i, err)
		}
		if item.Id != entry.id {
			return nil, fmt.Errorf("bundle item %d id mismatch: entry %s, item %s", i, entry.id, item.Id)
		}
		dataBy, err := utils.Base64Decode(item.Data)
		if err != nil {
			return nil, fmt.Errorf("decode bundle item %d data: %v", i, err)
		}
		dataSize := int64(len(dataBy))
		items = append(items, schema.BundleItem{
			Id:        item.Id,
			Owner:     item.Owner,
			Target:    item.Target,
			Signature: item.Signature,
			Anchor:    item.Anchor,
			// item tags decode to plain text, normalize to base64url
			Tags:       encodeTags(item.Tags),
			DataOffset: itemStart + (entry.size - dataSize),
			DataSize:   dataSize,
		})
		itemStart += entry.size
	}
	return items, nil
}

var legacyRequiredFields = []string{"id", "owner", "signature", "data"}

// parseLegacyBundle decodes the json wrapper format. Any item missing a
// required field condemns the whole bundle.
func parseLegacyBundle(data []byte) ([]schema.BundleItem, error) {
	root := gjson.GetBytes(data, "items")
	if !root.Exists() || !root.IsArray() {
		return nil, fmt.Errorf("bundle json has no items array")
	}
	for i, rawItem := range root.Array() {
		for _, field := range legacyRequiredFields {
			if !rawItem.Get(field).Exists() {
				return nil, fmt.Errorf("bundle item %d missing required field: %s", i, field)
			}
		}
	}
	wrapper := schema.BundleWrapper{}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, err
	}
	for i := range wrapper.Items {
		dataBy, err := utils.Base64Decode(wrapper.Items[i].Data)
		if err != nil {
			return nil, fmt.Errorf("decode bundle item %d data: %v", i, err)
		}
		wrapper.Items[i].DataSize = int64(len(dataBy))
	}
	return wrapper.Items, nil
}

// ensureCached guarantees the raw bundle binary sits at tx/{id}, so
// retries and item range reads hit the store instead of reassembling
// the payload from chunks or the network again.
func (s *Gateway) ensureCached(id string, data []byte, contentType string) error {
	key := schema.TxDataKey(id)
	if size, _, err := s.store.Head(schema.TxDataBucket, key); err == nil && size == int64(len(data)) {
		return nil
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return s.store.PutStream(schema.TxDataBucket, key, bytes.NewReader(data), contentType)
}

// extractItems copies every item payload into the object store under
// its own key, concurrently across the pool. Items whose object is
// already present are skipped, which makes a repair run after data loss
// touch only the missing ones.
func (s *Gateway) extractItems(bundleId string, data []byte, items []schema.BundleItem) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}
	p, err := ants.NewPoolWithFunc(schema.ItemExtractPool, func(i interface{}) {
		defer wg.Done()
		item := i.(schema.BundleItem)
		if s.store.Exist(schema.TxDataBucket, schema.TxDataKey(item.Id)) {
			return
		}
		payload, err := s.itemPayload(bundleId, data, item)
		if err != nil {
			setErr(err)
			return
		}
		contentType := getTagValue(item.Tags, schema.ContentTypeTag)
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		if err := s.store.Put(schema.TxDataBucket, schema.TxDataKey(item.Id), payload, contentType); err != nil {
			setErr(err)
		}
	})
	if err != nil {
		return err
	}
	defer p.Release()

	for _, item := range items {
		wg.Add(1)
		if err := p.Invoke(item); err != nil {
			wg.Done()
			setErr(err)
		}
	}
	wg.Wait()
	if firstErr != nil {
		return fmt.Errorf("extract items of bundle %s: %v", bundleId, firstErr)
	}
	return nil
}

// itemPayload reads one item's payload. Binary-format items come off
// the cached bundle object as a byte range, with the in-memory copy as
// fallback; legacy items carry the payload inline.
func (s *Gateway) itemPayload(bundleId string, data []byte, item schema.BundleItem) ([]byte, error) {
	if item.DataOffset > 0 {
		if item.DataSize == 0 {
			return []byte{}, nil
		}
		payload, err := s.store.GetRange(schema.TxDataBucket, schema.TxDataKey(bundleId),
			item.DataOffset, item.DataOffset+item.DataSize-1)
		if err == nil {
			return payload, nil
		}
		if item.DataOffset+item.DataSize > int64(len(data)) {
			return nil, fmt.Errorf("item %s data range out of bundle", item.Id)
		}
		return data[item.DataOffset : item.DataOffset+item.DataSize], nil
	}
	return utils.Base64Decode(item.Data)
}

func dedupItems(items []schema.BundleItem) []schema.BundleItem {
	seen := make(map[string]bool, len(items))
	deduped := make([]schema.BundleItem, 0, len(items))
	for _, item := range items {
		if seen[item.Id] {
			continue
		}
		seen[item.Id] = true
		deduped = append(deduped, item)
	}
	return deduped
}

// itemRows maps items to index rows.
func itemRows(bundleId string, height *int64, items []schema.BundleItem) ([]schema.Transaction, []schema.TagRow, error) {
	rows := make([]schema.Transaction, 0, len(items))
	tagRows := make([]schema.TagRow, 0)
	for _, item := range items {
		ownerAddr, err := ownerAddress(item.Owner)
		if err != nil {
			return nil, nil, fmt.Errorf("item %s owner undecodable: %v", item.Id, err)
		}
		tagsBy, err := json.Marshal(item.Tags)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, schema.Transaction{
			Id:           item.Id,
			Height:       height,
			Parent:       bundleId,
			Format:       1,
			Signature:    item.Signature,
			Owner:        item.Owner,
			OwnerAddress: ownerAddr,
			Target:       item.Target,
			Quantity:     "0",
			Reward:       "0",
			LastTx:       item.Anchor,
			Tags:         tagsBy,
			DataSize:     item.DataSize,
			ContentType:  getTagValue(item.Tags, schema.ContentTypeTag),
		})
		tagRows = append(tagRows, tagsToRows(item.Id, item.Tags)...)
	}
	return rows, tagRows, nil
}

func (s *Gateway) publishItemEvents(items []schema.Transaction) {
	kw, ok := s.kwriters[ItemTopic]
	if !ok {
		return
	}
	for _, item := range items {
		body, err := json.Marshal(item)
		if err != nil {
			continue
		}
		if err := kw.Write(body); err != nil {
			log.Warn("publish item event failed", "itemId", item.Id, "err", err)
		}
	}
}
