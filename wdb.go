package argateway

import (
	"path"
	"time"

	"github.com/permadata-network/argateway/schema"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const sqliteName = "argateway.sqlite"

// Wdb wraps the index database. Reads and writes run on separate
// connections so heavy ingest does not starve lookups; with a single
// DSN both point at the same pool.
type Wdb struct {
	Read  *gorm.DB
	Write *gorm.DB
}

func NewMysqlWdb(readDsn, writeDsn string) *Wdb {
	if readDsn == "" {
		readDsn = writeDsn
	}
	write, err := gorm.Open(mysql.Open(writeDsn), &gorm.Config{
		Logger:          logger.Default.LogMode(logger.Error),
		CreateBatchSize: 200,
	})
	if err != nil {
		panic(err)
	}
	read := write
	if readDsn != writeDsn {
		read, err = gorm.Open(mysql.Open(readDsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Error),
		})
		if err != nil {
			panic(err)
		}
	}
	log.Info("connect mysql db success")
	return &Wdb{Read: read, Write: write}
}

func NewSqliteWdb(dir string) *Wdb {
	db, err := gorm.Open(sqlite.Open(path.Join(dir, sqliteName)), &gorm.Config{
		Logger:          logger.Default.LogMode(logger.Error),
		CreateBatchSize: 200,
	})
	if err != nil {
		panic(err)
	}
	log.Info("connect sqlite db success")
	return &Wdb{Read: db, Write: db}
}

func (w *Wdb) Migrate() error {
	return w.Write.AutoMigrate(
		&schema.Block{},
		&schema.Transaction{},
		&schema.TagRow{},
		&schema.Chunk{},
		&schema.BundleStatus{},
	)
}

func (w *Wdb) Close() {
	closeGorm := func(db *gorm.DB) {
		if sqlDb, err := db.DB(); err == nil {
			sqlDb.Close()
		}
	}
	closeGorm(w.Write)
	if w.Read != w.Write {
		closeGorm(w.Read)
	}
}

// SaveBlock writes one block and the height backfill for its txs in a
// single transaction; the block is the unit of atomicity, a mid-batch
// failure never leaves a half-applied block. Heights go in small
// batches keyed by tx id; a tx row that does not exist yet is created
// as a stub the header import fills in later.
func (w *Wdb) SaveBlock(block schema.Block, txHeights []schema.TxHeight) error {
	return w.Write.Transaction(func(dbTx *gorm.DB) error {
		if err := dbTx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "height"}},
			UpdateAll: true,
		}).Create(&block).Error; err != nil {
			return err
		}
		for start := 0; start < len(txHeights); start += schema.HeightBatch {
			end := start + schema.HeightBatch
			if end > len(txHeights) {
				end = len(txHeights)
			}
			batch := txHeights[start:end]
			if err := dbTx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"height"}),
			}).Create(&batch).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Wdb) GetLatestBlock() (block schema.Block, err error) {
	err = w.Read.Order("height desc").First(&block).Error
	return
}

// GetRecentBlocks returns the newest blocks up to window, newest first.
func (w *Wdb) GetRecentBlocks(window int) ([]schema.Block, error) {
	blocks := make([]schema.Block, 0, window)
	err := w.Read.Order("height desc").Limit(window).Find(&blocks).Error
	return blocks, err
}

func (w *Wdb) GetBlockByHeight(height int64) (block schema.Block, err error) {
	err = w.Read.Where("height = ?", height).First(&block).Error
	return
}

// txHeaderColumns are what a header re-import may overwrite. Height is
// owned by block persistence and parent by bundle import; a plain
// header upsert must leave both alone.
var txHeaderColumns = []string{
	"format", "signature", "owner", "owner_address", "target",
	"quantity", "reward", "last_tx", "tags", "data_size", "data_root",
	"content_type",
}

// SaveTx upserts a full tx header together with its tag index rows.
func (w *Wdb) SaveTx(tx schema.Transaction, tagRows []schema.TagRow) error {
	return w.Write.Transaction(func(dbTx *gorm.DB) error {
		if err := dbTx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(txHeaderColumns),
		}).Create(&tx).Error; err != nil {
			return err
		}
		if len(tagRows) == 0 {
			return nil
		}
		return dbTx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_id"}, {Name: "index"}},
			UpdateAll: true,
		}).Create(&tagRows).Error
	})
}

// SaveBundleItems persists extracted item headers and their tags. Item
// rows never clobber an existing row, the first writer wins.
func (w *Wdb) SaveBundleItems(items []schema.Transaction, tagRows []schema.TagRow) error {
	return w.Write.Transaction(func(dbTx *gorm.DB) error {
		for start := 0; start < len(items); start += schema.ItemPersistBatch {
			end := start + schema.ItemPersistBatch
			if end > len(items) {
				end = len(items)
			}
			batch := items[start:end]
			if err := dbTx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoNothing: true,
			}).Create(&batch).Error; err != nil {
				return err
			}
		}
		if len(tagRows) == 0 {
			return nil
		}
		return dbTx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_id"}, {Name: "index"}},
			DoNothing: true,
		}).Create(&tagRows).Error
	})
}

func (w *Wdb) GetTx(id string) (tx schema.Transaction, err error) {
	err = w.Read.Where("id = ?", id).First(&tx).Error
	if err == gorm.ErrRecordNotFound {
		err = schema.ErrNotExist
	}
	return
}

func (w *Wdb) SaveChunk(chunk schema.Chunk) error {
	return w.Write.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "data_root"}, {Name: "data_size"}, {Name: "offset"}},
		DoNothing: true,
	}).Create(&chunk).Error
}

// GetChunks returns the indexed chunks of one data tree ordered by
// offset, which is the reassembly order.
func (w *Wdb) GetChunks(dataRoot string, dataSize int64) ([]schema.Chunk, error) {
	chunks := make([]schema.Chunk, 0)
	err := w.Read.Where("data_root = ? and data_size = ?", dataRoot, dataSize).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "offset"}}).Find(&chunks).Error
	return chunks, err
}

func (w *Wdb) GetBundleStatus(id string) (status schema.BundleStatus, err error) {
	err = w.Read.Where("id = ?", id).First(&status).Error
	if err == gorm.ErrRecordNotFound {
		err = schema.ErrNotExist
	}
	return
}

// bundleStatusColumns are what a status transition may overwrite.
// bundle_meta is the parsed item list carried across retries; only
// SaveBundleMeta touches it.
var bundleStatusColumns = []string{"status", "attempts", "error", "updated_at"}

func (w *Wdb) SaveBundleStatus(status schema.BundleStatus) error {
	status.UpdatedAt = time.Now().UTC()
	return w.Write.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(bundleStatusColumns),
	}).Create(&status).Error
}

func (w *Wdb) SaveBundleMeta(id string, meta datatypes.JSON) error {
	return w.Write.Model(&schema.BundleStatus{}).Where("id = ?", id).
		Update("bundle_meta", meta).Error
}
