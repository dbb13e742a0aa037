package kestrel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestreldb/kestrel/catalog"
	"github.com/kestreldb/kestrel/common"
	"github.com/kestreldb/kestrel/execution"
	"github.com/kestreldb/kestrel/transaction"
)

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	cfg := common.DefaultConfig()
	cfg.DBFile = filepath.Join(t.TempDir(), "engine.db")
	cfg.PoolSize = 16
	cfg.NumInstances = 2
	return cfg
}

func TestEngine_EndToEnd(t *testing.T) {
	eng, err := Open(testConfig(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, eng.Close()) }()

	schema := execution.NewSchema(common.IntType, common.StringType)
	info, err := eng.Cat.CreateTable("users", schema)
	require.NoError(t, err)

	_, err = eng.Cat.CreateTable("users", schema)
	assert.Error(t, err, "duplicate table names are rejected")

	_, err = eng.Cat.CreateIndex("users", 0, catalog.HashIndex)
	require.NoError(t, err)
	info, err = eng.Cat.GetTable("users")
	require.NoError(t, err)
	require.Len(t, info.Indexes, 1)

	txn := eng.TxnMgr.Begin(transaction.RepeatableRead)
	ctx := execution.NewExecutorContext(txn, eng.TxnMgr)

	insert := execution.NewInsertExecutor(info.Heap, info.Indexes, [][]common.Value{
		{common.NewIntValue(1), common.NewStringValue("ada")},
		{common.NewIntValue(2), common.NewStringValue("bob")},
	})
	require.NoError(t, insert.Init(ctx))
	for insert.Next() {
	}
	require.NoError(t, insert.Error())
	eng.TxnMgr.Commit(txn)

	rids := info.Indexes[0].ScanKey(2)
	require.Len(t, rids, 1)
	values, ok := info.Heap.GetTuple(rids[0])
	require.True(t, ok)
	assert.Equal(t, "bob", values[1].StringValue())
}

func TestEngine_CloseFlushes(t *testing.T) {
	cfg := testConfig(t)
	eng, err := Open(cfg)
	require.NoError(t, err)

	schema := execution.NewSchema(common.IntType)
	info, err := eng.Cat.CreateTable("nums", schema)
	require.NoError(t, err)

	txn := eng.TxnMgr.Begin(transaction.ReadCommitted)
	ctx := execution.NewExecutorContext(txn, eng.TxnMgr)
	insert := execution.NewInsertExecutor(info.Heap, nil, [][]common.Value{
		{common.NewIntValue(42)},
	})
	require.NoError(t, insert.Init(ctx))
	for insert.Next() {
	}
	require.NoError(t, insert.Error())
	eng.TxnMgr.Commit(txn)

	require.NoError(t, eng.Close())

	stat, err := os.Stat(cfg.DBFile)
	require.NoError(t, err)
	assert.Greater(t, stat.Size(), int64(0), "close must leave flushed pages behind")
}

func TestConfig_LoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kestrel.ini")
	content := `
[storage]
pool_size     = 8
num_instances = 2
db_file       = ` + filepath.Join(dir, "custom.db") + `

[log]
level = warn
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := common.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.PoolSize)
	assert.Equal(t, 2, cfg.NumInstances)
	assert.Equal(t, "warn", cfg.LogLevel)

	eng, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, eng.Close())
}

func TestConfig_Invalid(t *testing.T) {
	cfg := common.DefaultConfig()
	cfg.PoolSize = 0
	_, err := Open(cfg)
	assert.Error(t, err)
}
