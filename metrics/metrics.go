// Package metrics
// BSD 3-Clause License
//
// Copyright (c) 2024, Alex Gaetano Padula
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
//  1. Redistributions of source code must retain the above copyright notice, this
//     list of conditions and the following disclaimer.
//
//  2. Redistributions in binary form must reproduce the above copyright notice,
//     this list of conditions and the following disclaimer in the documentation
//     and/or other materials provided with the distribution.
//
//  3. Neither the name of the copyright holder nor the names of its
//     contributors may be used to endorse or promote products derived from
//     this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// Package metrics collects the Prometheus instrumentation exposed through
// Options.MetricsRegisterer: memtable and level sizes, compaction activity,
// WAL throughput, and transaction outcomes. The teacher engine has no
// equivalent — this is pure observability surface built for the expanded
// scope of this module.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector groups every metric this engine exports. A nil *Collector is
// safe to use: every method on it is a no-op, so callers never need a
// "metrics enabled" branch.
type Collector struct {
	MemtableBytes     prometheus.Gauge
	MemtableEntries   prometheus.Gauge
	LevelFileCount    *prometheus.GaugeVec
	LevelBytes        *prometheus.GaugeVec
	CompactionsTotal  prometheus.Counter
	CompactionSeconds prometheus.Histogram
	WALBytesWritten   prometheus.Counter
	TxnCommitsTotal   prometheus.Counter
	TxnConflictsTotal prometheus.Counter
	TxnAbortsTotal    prometheus.Counter
}

// New builds a Collector with its metrics registered against reg. Passing
// nil returns nil, letting Open skip instrumentation entirely when no
// registerer was configured.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		return nil
	}
	c := &Collector{
		MemtableBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "middb", Subsystem: "memtable", Name: "bytes",
			Help: "Approximate size in bytes of the active MemTable.",
		}),
		MemtableEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "middb", Subsystem: "memtable", Name: "entries",
			Help: "Number of entries in the active MemTable.",
		}),
		LevelFileCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "middb", Subsystem: "level", Name: "file_count",
			Help: "Number of SSTables resident in each level.",
		}, []string{"level"}),
		LevelBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "middb", Subsystem: "level", Name: "bytes",
			Help: "Total SSTable bytes resident in each level.",
		}, []string{"level"}),
		CompactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "middb", Subsystem: "compaction", Name: "total",
			Help: "Number of compactions completed.",
		}),
		CompactionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "middb", Subsystem: "compaction", Name: "duration_seconds",
			Help:    "Wall-clock duration of a single compaction run.",
			Buckets: prometheus.DefBuckets,
		}),
		WALBytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "middb", Subsystem: "wal", Name: "bytes_written_total",
			Help: "Total bytes appended to the write-ahead log.",
		}),
		TxnCommitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "middb", Subsystem: "txn", Name: "commits_total",
			Help: "Number of transactions committed.",
		}),
		TxnConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "middb", Subsystem: "txn", Name: "conflicts_total",
			Help: "Number of transactions aborted due to a write-write or read-write conflict.",
		}),
		TxnAbortsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "middb", Subsystem: "txn", Name: "aborts_total",
			Help: "Number of transactions explicitly aborted by the caller.",
		}),
	}

	reg.MustRegister(
		c.MemtableBytes, c.MemtableEntries,
		c.LevelFileCount, c.LevelBytes,
		c.CompactionsTotal, c.CompactionSeconds,
		c.WALBytesWritten,
		c.TxnCommitsTotal, c.TxnConflictsTotal, c.TxnAbortsTotal,
	)
	return c
}

func levelLabel(level int) string {
	return [...]string{"0", "1", "2", "3", "4", "5", "6"}[level]
}

// SetLevelStats records the current file count and byte size of one level.
func (c *Collector) SetLevelStats(level int, fileCount int, bytes int64) {
	if c == nil {
		return
	}
	label := levelLabel(level)
	c.LevelFileCount.WithLabelValues(label).Set(float64(fileCount))
	c.LevelBytes.WithLabelValues(label).Set(float64(bytes))
}

// SetMemtableStats records the active MemTable's size and entry count.
func (c *Collector) SetMemtableStats(bytes int64, entries int) {
	if c == nil {
		return
	}
	c.MemtableBytes.Set(float64(bytes))
	c.MemtableEntries.Set(float64(entries))
}

// ObserveCompaction records one completed compaction's duration.
func (c *Collector) ObserveCompaction(seconds float64) {
	if c == nil {
		return
	}
	c.CompactionsTotal.Inc()
	c.CompactionSeconds.Observe(seconds)
}

// AddWALBytes accounts for n bytes appended to the WAL.
func (c *Collector) AddWALBytes(n int) {
	if c == nil {
		return
	}
	c.WALBytesWritten.Add(float64(n))
}

// IncTxnCommit records one successful transaction commit.
func (c *Collector) IncTxnCommit() {
	if c == nil {
		return
	}
	c.TxnCommitsTotal.Inc()
}

// IncTxnConflict records one transaction aborted by the conflict check.
func (c *Collector) IncTxnConflict() {
	if c == nil {
		return
	}
	c.TxnConflictsTotal.Inc()
}

// IncTxnAbort records one transaction explicitly aborted by its caller.
func (c *Collector) IncTxnAbort() {
	if c == nil {
		return
	}
	c.TxnAbortsTotal.Inc()
}
