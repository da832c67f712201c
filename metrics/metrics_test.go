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
package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewWithNilRegistererReturnsNil(t *testing.T) {
	if c := New(nil); c != nil {
		t.Fatalf("New(nil) = %v, want nil", c)
	}
}

func TestNilCollectorMethodsAreNoOps(t *testing.T) {
	var c *Collector
	c.SetLevelStats(0, 1, 100)
	c.SetMemtableStats(10, 1)
	c.ObserveCompaction(0.5)
	c.AddWALBytes(10)
	c.IncTxnCommit()
	c.IncTxnConflict()
	c.IncTxnAbort()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestSetMemtableStatsUpdatesGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.SetMemtableStats(4096, 12)

	if got := gaugeValue(t, c.MemtableBytes); got != 4096 {
		t.Fatalf("MemtableBytes = %v, want 4096", got)
	}
	if got := gaugeValue(t, c.MemtableEntries); got != 12 {
		t.Fatalf("MemtableEntries = %v, want 12", got)
	}
}

func TestObserveCompactionIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.ObserveCompaction(0.1)
	c.ObserveCompaction(0.2)

	if got := counterValue(t, c.CompactionsTotal); got != 2 {
		t.Fatalf("CompactionsTotal = %v, want 2", got)
	}
}

func TestTxnCountersIncrementIndependently(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.IncTxnCommit()
	c.IncTxnCommit()
	c.IncTxnConflict()
	c.IncTxnAbort()

	if got := counterValue(t, c.TxnCommitsTotal); got != 2 {
		t.Fatalf("TxnCommitsTotal = %v, want 2", got)
	}
	if got := counterValue(t, c.TxnConflictsTotal); got != 1 {
		t.Fatalf("TxnConflictsTotal = %v, want 1", got)
	}
	if got := counterValue(t, c.TxnAbortsTotal); got != 1 {
		t.Fatalf("TxnAbortsTotal = %v, want 1", got)
	}
}
