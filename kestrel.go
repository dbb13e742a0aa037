// Package kestrel assembles the storage and concurrency core of the engine:
// a single database file behind a sharded buffer pool, a wound-wait lock
// manager with its transaction manager, and the catalog that hands tables
// to the executors. The engine is consumed as a library; there is no
// server or shell here.
package kestrel

import (
	"github.com/juju/errors"

	"github.com/kestreldb/kestrel/catalog"
	"github.com/kestreldb/kestrel/common"
	"github.com/kestreldb/kestrel/storage"
	"github.com/kestreldb/kestrel/transaction"
)

// Engine owns the subsystem graph of one database instance.
type Engine struct {
	cfg  *common.Config
	disk *storage.FileDiskManager

	Pool   *storage.ParallelBufferPool
	TxnMgr *transaction.TransactionManager
	Cat    *catalog.Catalog
}

// Open builds an engine from a configuration.
func Open(cfg *common.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	common.SetLogLevel(cfg.LogLevel)

	disk, err := storage.NewFileDiskManager(cfg.DBFile)
	if err != nil {
		return nil, errors.Trace(err)
	}

	pool := storage.NewParallelBufferPool(uint32(cfg.NumInstances), cfg.PoolSize, disk)
	return &Engine{
		cfg:    cfg,
		disk:   disk,
		Pool:   pool,
		TxnMgr: transaction.NewTransactionManager(),
		Cat:    catalog.NewCatalog(pool),
	}, nil
}

// OpenFile builds an engine from an INI configuration file.
func OpenFile(configPath string) (*Engine, error) {
	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return Open(cfg)
}

// LockManager returns the engine's lock manager.
func (e *Engine) LockManager() *transaction.LockManager {
	return e.TxnMgr.LockManager()
}

// Close flushes every dirty page and shuts the database file down.
func (e *Engine) Close() error {
	e.Pool.FlushAll()
	return errors.Trace(e.disk.Shutdown())
}
