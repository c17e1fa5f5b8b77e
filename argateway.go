package argateway

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/permadata-network/argateway/rawdb"
	"github.com/permadata-network/argateway/schema"
)

type Gateway struct {
	store   rawdb.KeyValueDB
	wdb     *Wdb
	queue   Queue
	peerCli *PeerClient
	cache   *Cache

	kwriters  map[string]*KWriter
	scheduler *gocron.Scheduler

	maxForkDepth int

	ctx    context.Context
	cancel context.CancelFunc
}

func New(
	boltDirPath, mySqlDsn string, sqliteDir string, useSqlite bool,
	arNode string,
	useS3 bool, s3AccKey, s3SecretKey, s3BucketPrefix, s3Region, s3Endpoint string,
	useSqs bool, sqsAccKey, sqsSecretKey, sqsRegion, importTxsUrl, importBundlesUrl string,
	kafkaUri string,
	maxForkDepth int,
) *Gateway {
	var err error
	var store rawdb.KeyValueDB
	if useS3 {
		store, err = rawdb.NewS3DB(s3AccKey, s3SecretKey, s3Region, s3BucketPrefix, s3Endpoint)
	} else {
		store, err = rawdb.NewBoltDB(boltDirPath)
	}
	if err != nil {
		panic(err)
	}

	var wdb *Wdb
	if useSqlite {
		wdb = NewSqliteWdb(sqliteDir)
	} else {
		wdb = NewMysqlWdb("", mySqlDsn)
	}
	if err = wdb.Migrate(); err != nil {
		panic(err)
	}

	var queue Queue
	if useSqs {
		queue = NewSqsQueue(sqsAccKey, sqsSecretKey, sqsRegion, map[string]string{
			schema.QueueImportTxs:     importTxsUrl,
			schema.QueueImportBundles: importBundlesUrl,
		})
	} else {
		queue = NewMemQueue()
	}

	kwriters := map[string]*KWriter{}
	if len(kafkaUri) > 0 {
		kwriters, err = NewKWriters(kafkaUri)
		if err != nil {
			panic(err)
		}
	}

	peerCli := NewPeerClient(arNode)

	if maxForkDepth <= 0 {
		maxForkDepth = DefaultMaxForkDepth
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		store:        store,
		wdb:          wdb,
		queue:        queue,
		peerCli:      peerCli,
		cache:        NewCache(peerCli),
		kwriters:     kwriters,
		scheduler:    gocron.NewScheduler(time.UTC),
		maxForkDepth: maxForkDepth,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (s *Gateway) Run() {
	go s.runJobs()
	go s.queue.Consume(s.ctx, schema.QueueImportTxs, s.OnImportTx)
	go s.queue.Consume(s.ctx, schema.QueueImportBundles, s.OnImportBundle)
}

func (s *Gateway) Close() {
	s.cancel()
	s.scheduler.Stop()
	if err := s.queue.Close(); err != nil {
		log.Error("close queue failed", "err", err)
	}
	for _, kw := range s.kwriters {
		kw.Close()
	}
	if err := s.store.Close(); err != nil {
		log.Error("close store failed", "err", err)
	}
	s.wdb.Close()
	log.Info("gateway closed")
}
