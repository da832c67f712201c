package middb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// WALSyncMode controls whether WAL appends fsync before acknowledging a
// write. SyncNever exists only for tests exercising the rest of the engine
// without paying for real fsyncs.
type WALSyncMode int

const (
	SyncAlways WALSyncMode = iota
	SyncNever
)

// Options configures an Open call. This replaces the teacher's positional
// Open(directory, memtableFlushThreshold, compactionInterval, logging,
// compress bool, args ...interface{}) signature with a single typed,
// self-documenting struct.
type Options struct {
	// MemtableSizeLimit is the approximate byte size at which the active
	// MemTable is frozen and queued for flush. Default 4 MiB.
	MemtableSizeLimit int64

	// L0CompactionTrigger is the number of L0 files at which the compactor
	// schedules an L0 -> L1 compaction. Default 4.
	L0CompactionTrigger int

	// MaxSSTableSize is the size at which a compaction output rolls to a
	// new SSTable file; a flush always writes one file. Default 2 MiB.
	MaxSSTableSize int64

	// BlockSize is the target size of a data block before it is flushed.
	// Default 4 KiB.
	BlockSize int

	// BlockRestartInterval is how many entries elapse between block
	// restart points. Default 16.
	BlockRestartInterval int

	// BloomBitsPerKey sizes each SSTable's bloom filter. Default 10.
	BloomBitsPerKey int

	// WALSyncMode controls WAL fsync behavior. Default SyncAlways.
	WALSyncMode WALSyncMode

	// BackgroundCompaction toggles the background compactor goroutine.
	// Default true.
	BackgroundCompaction bool

	// MaxConcurrentCompactions bounds how many compactions may run at
	// once. Default 1.
	MaxConcurrentCompactions int

	// Logger receives structured engine logs. Nil defaults to a discard
	// logger so the store is silent unless configured.
	Logger *logrus.Logger

	// MetricsRegisterer, if non-nil, receives the engine's Prometheus
	// collectors.
	MetricsRegisterer prometheus.Registerer
}

// DefaultOptions returns the documented defaults from the external
// interfaces section of the specification this module implements.
func DefaultOptions() Options {
	logger := logrus.New()
	logger.SetOutput(discardWriter{})
	return Options{
		MemtableSizeLimit:        4 << 20,
		L0CompactionTrigger:      4,
		MaxSSTableSize:           2 << 20,
		BlockSize:                4 << 10,
		BlockRestartInterval:     16,
		BloomBitsPerKey:          10,
		WALSyncMode:              SyncAlways,
		BackgroundCompaction:     true,
		MaxConcurrentCompactions: 1,
		Logger:                   logger,
	}
}

func (o *Options) withDefaults() Options {
	out := *o
	def := DefaultOptions()
	if out.MemtableSizeLimit <= 0 {
		out.MemtableSizeLimit = def.MemtableSizeLimit
	}
	if out.L0CompactionTrigger <= 0 {
		out.L0CompactionTrigger = def.L0CompactionTrigger
	}
	if out.MaxSSTableSize <= 0 {
		out.MaxSSTableSize = def.MaxSSTableSize
	}
	if out.BlockSize <= 0 {
		out.BlockSize = def.BlockSize
	}
	if out.BlockRestartInterval <= 0 {
		out.BlockRestartInterval = def.BlockRestartInterval
	}
	if out.BloomBitsPerKey <= 0 {
		out.BloomBitsPerKey = def.BloomBitsPerKey
	}
	if out.MaxConcurrentCompactions <= 0 {
		out.MaxConcurrentCompactions = def.MaxConcurrentCompactions
	}
	if out.Logger == nil {
		out.Logger = def.Logger
	}
	return out
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
