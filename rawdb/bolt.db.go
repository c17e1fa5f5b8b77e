package rawdb

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path"
	"time"

	"github.com/permadata-network/argateway/schema"
	bolt "go.etcd.io/bbolt"
)

const (
	boltAllocSize = 8 * 1024 * 1024
	boltName      = "gateway.db"
	BoltType      = "boltdb"

	contentTypeSuffix = "-content-type"
)

type BoltDB struct {
	Db *bolt.DB
}

func NewBoltDB(boltDirPath string) (*BoltDB, error) {
	if len(boltDirPath) == 0 {
		return nil, errors.New("boltDb dir path can not null")
	}
	if err := os.MkdirAll(boltDirPath, os.ModePerm); err != nil {
		return nil, err
	}

	Db, err := bolt.Open(path.Join(boltDirPath, boltName), 0660, &bolt.Options{Timeout: 2 * time.Second, InitialMmapSize: 10e6})
	if err != nil {
		if err == bolt.ErrTimeout {
			return nil, errors.New("cannot obtain database lock, database may be in use by another process")
		}
		return nil, err
	}
	Db.AllocSize = boltAllocSize
	boltDB := &BoltDB{
		Db: Db,
	}
	if err := boltDB.Db.Update(func(tx *bolt.Tx) error {
		bucketNames := make([]string, 0, 2*len(schema.AllBuckets))
		for _, name := range schema.AllBuckets {
			// content types live in a sidecar bucket keyed the same way
			bucketNames = append(bucketNames, name, name+contentTypeSuffix)
		}
		return createBuckets(tx, bucketNames)
	}); err != nil {
		return nil, err
	}
	return boltDB, nil
}

func (s *BoltDB) Type() string {
	return BoltType
}

func (s *BoltDB) Put(bucket, key string, value []byte, contentType string) (err error) {
	err = s.Db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(bucket)).Put([]byte(key), value); err != nil {
			return err
		}
		if contentType == "" {
			return nil
		}
		return tx.Bucket([]byte(bucket + contentTypeSuffix)).Put([]byte(key), []byte(contentType))
	})
	return
}

func (s *BoltDB) PutStream(bucket, key string, value io.Reader, contentType string) (err error) {
	data, err := io.ReadAll(value)
	if err != nil {
		return
	}
	return s.Put(bucket, key, data, contentType)
}

func (s *BoltDB) Get(bucket, key string) (data []byte, contentType string, err error) {
	err = s.Db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket([]byte(bucket)).Get([]byte(key))
		if val == nil {
			return schema.ErrNotExist
		}
		// bolt values are only valid inside the transaction
		data = make([]byte, len(val))
		copy(data, val)
		if ct := tx.Bucket([]byte(bucket + contentTypeSuffix)).Get([]byte(key)); ct != nil {
			contentType = string(ct)
		}
		return nil
	})
	return
}

func (s *BoltDB) GetStream(bucket, key string) (body io.ReadCloser, size int64, contentType string, err error) {
	data, contentType, err := s.Get(bucket, key)
	if err != nil {
		return
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), contentType, nil
}

func (s *BoltDB) GetRange(bucket, key string, start, end int64) (data []byte, err error) {
	full, _, err := s.Get(bucket, key)
	if err != nil {
		return
	}
	if start < 0 || start >= int64(len(full)) || end < start {
		return nil, schema.ErrNotExist
	}
	if end >= int64(len(full)) {
		end = int64(len(full)) - 1
	}
	return full[start : end+1], nil
}

func (s *BoltDB) Head(bucket, key string) (size int64, contentType string, err error) {
	err = s.Db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket([]byte(bucket)).Get([]byte(key))
		if val == nil {
			return schema.ErrNotExist
		}
		size = int64(len(val))
		if ct := tx.Bucket([]byte(bucket + contentTypeSuffix)).Get([]byte(key)); ct != nil {
			contentType = string(ct)
		}
		return nil
	})
	return
}

func (s *BoltDB) GetAllKey(bucket string) (keys []string, err error) {
	keys = make([]string, 0)
	err = s.Db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).ForEach(func(k, v []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return
}

func (s *BoltDB) Delete(bucket, key string) (err error) {
	err = s.Db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(bucket)).Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucket + contentTypeSuffix)).Delete([]byte(key))
	})
	return
}

func (s *BoltDB) Exist(bucket, key string) bool {
	_, _, err := s.Head(bucket, key)
	return err == nil
}

func (s *BoltDB) Close() (err error) {
	return s.Db.Close()
}

func createBuckets(tx *bolt.Tx, buckets []string) error {
	for _, bucket := range buckets {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
			return err
		}
	}
	return nil
}
