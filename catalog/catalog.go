package catalog

import (
	"sync"

	"github.com/juju/errors"

	"github.com/kestreldb/kestrel/common"
	"github.com/kestreldb/kestrel/execution"
	"github.com/kestreldb/kestrel/indexing"
	"github.com/kestreldb/kestrel/storage"
)

// IndexKind selects the physical structure backing an index.
type IndexKind int

const (
	// HashIndex is the disk-backed extendible hash index; point lookups
	// only.
	HashIndex IndexKind = iota
	// BTreeIndex is the in-memory ordered index; supports range scans.
	BTreeIndex
)

// TableInfo bundles a table's schema, heap and secondary indexes.
type TableInfo struct {
	Name    string
	Schema  *execution.Schema
	Heap    *execution.TableHeap
	Indexes []indexing.Index
}

// Catalog tracks the tables of one engine instance. It is metadata only;
// tuple data lives in the heaps and pages it points at.
type Catalog struct {
	pool storage.BufferPool

	mu     sync.RWMutex
	tables map[string]*TableInfo
}

// NewCatalog creates an empty catalog whose tables allocate pages from
// pool.
func NewCatalog(pool storage.BufferPool) *Catalog {
	return &Catalog{
		pool:   pool,
		tables: make(map[string]*TableInfo),
	}
}

// CreateTable registers a new table and allocates its heap.
func (c *Catalog) CreateTable(name string, schema *execution.Schema) (*TableInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tables[name]; ok {
		return nil, errors.AlreadyExistsf("table %q", name)
	}
	info := &TableInfo{
		Name:   name,
		Schema: schema,
		Heap:   execution.NewTableHeap(c.pool, schema),
	}
	c.tables[name] = info
	return info, nil
}

// GetTable looks a table up by name.
func (c *Catalog) GetTable(name string) (*TableInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info, ok := c.tables[name]
	if !ok {
		return nil, errors.NotFoundf("table %q", name)
	}
	return info, nil
}

// CreateIndex builds an index over an integer column of an existing table
// and backfills it from the current heap contents.
func (c *Catalog) CreateIndex(tableName string, keyColumn int, kind IndexKind) (indexing.Index, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, ok := c.tables[tableName]
	if !ok {
		return nil, errors.NotFoundf("table %q", tableName)
	}
	if info.Schema.TypeOf(keyColumn) != common.IntType {
		return nil, errors.NotSupportedf("index over non-integer column %d", keyColumn)
	}

	var idx indexing.Index
	switch kind {
	case HashIndex:
		idx = indexing.NewDiskHashIndex(c.pool, keyColumn)
	case BTreeIndex:
		idx = indexing.NewMemBTreeIndex(keyColumn)
	default:
		return nil, errors.NotSupportedf("index kind %d", kind)
	}

	for _, rid := range info.Heap.ScanRIDs() {
		values, ok := info.Heap.GetTuple(rid)
		if !ok {
			continue
		}
		key := values[keyColumn].IntValue()
		if !idx.InsertEntry(nil, key, rid) {
			return nil, errors.Errorf("backfill of index on %q failed at %s", tableName, rid)
		}
	}

	info.Indexes = append(info.Indexes, idx)
	return idx, nil
}
