// Package version
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

// Package version tracks which SSTables belong to which level at a given
// point in time. A Version is an immutable snapshot; the VersionSet holds
// the current one and atomically swaps it for a new one whenever a flush
// or compaction installs a VersionEdit. Reference counting keeps a Version
// (and the files it names) alive for as long as any in-flight read holds
// it, even after a newer Version has been installed.
package version

import (
	"sync/atomic"

	"github.com/willzeng274/MidDB/sstable"
)

// NumLevels is the number of levels in the LSM tree, L0 through L6.
const NumLevels = 7

// Version is an immutable snapshot of level → sorted file list. L0 files
// may overlap each other; L1 and below are disjoint and sorted by
// smallest key.
type Version struct {
	Files [NumLevels][]*sstable.FileMetadata
	refs  int32

	// obsolete lists file numbers that were removed from this Version's
	// successor; they must stay on disk until this Version's refcount
	// reaches zero, since an in-flight read may still be holding it.
	obsolete []uint64
}

// NewVersion returns an unreferenced, empty Version.
func NewVersion() *Version {
	return &Version{}
}

// Ref increments the reference count.
func (v *Version) Ref() {
	atomic.AddInt32(&v.refs, 1)
}

// Unref decrements the reference count, returning true if it reached zero
// (the Version, and any files exclusive to it, are now reclaimable).
func (v *Version) Unref() bool {
	return atomic.AddInt32(&v.refs, -1) == 0
}

// TotalSize returns the sum of file sizes across every level.
func (v *Version) TotalSize() int64 {
	var total int64
	for _, level := range v.Files {
		for _, f := range level {
			total += f.Size
		}
	}
	return total
}

// LevelSize returns the sum of file sizes in a single level.
func (v *Version) LevelSize(level int) int64 {
	var total int64
	for _, f := range v.Files[level] {
		total += f.Size
	}
	return total
}

// clone returns a shallow copy of v suitable for mutation into a new
// Version: file-metadata pointers are shared (they are themselves
// immutable once written) but the per-level slices are independent.
func (v *Version) clone() *Version {
	nv := &Version{}
	for i := range v.Files {
		nv.Files[i] = append([]*sstable.FileMetadata(nil), v.Files[i]...)
	}
	return nv
}
