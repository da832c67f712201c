// Package compaction
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

// Package compaction selects compaction inputs and runs the leveled merge
// that keeps level sizes bounded: it generalizes the teacher engine's
// pairwise SSTable merge into leveled, overlap-aware selection across an
// arbitrary number of levels.
package compaction

import (
	"github.com/willzeng274/MidDB/sstable"
	"github.com/willzeng274/MidDB/version"
)

// levelBudget returns the target byte size of level, growing geometrically
// starting at 10 MiB for L1 (L0 has no byte budget; it is bounded by file
// count instead).
func levelBudget(level int) int64 {
	const base = 10 << 20
	budget := int64(base)
	for i := 1; i < level; i++ {
		budget *= 10
	}
	return budget
}

// Task describes one compaction to run: merge Inputs[0] (the source level)
// and Inputs[1] (the overlapping portion of the next level) into OutputLevel.
type Task struct {
	SourceLevel int
	OutputLevel int
	Inputs      [2][]*sstable.FileMetadata
}

// cursor tracks, per level, the largest key compacted out of it last time,
// so repeated compactions round-robin across a level's key space instead of
// always picking the same file.
type cursor struct {
	lastKey []byte
}

// Picker holds per-level round-robin state across repeated calls to Pick.
type Picker struct {
	cursors [version.NumLevels]cursor
}

// NewPicker returns a Picker with no compaction history.
func NewPicker() *Picker {
	return &Picker{}
}

// Config bounds when Pick decides work is needed.
type Config struct {
	L0CompactionTrigger int
}

// Pick inspects v and returns the next compaction task to run, or nil if
// no level needs compaction. L0 is preferred over any other level since
// unbounded L0 growth directly slows every point lookup.
func (p *Picker) Pick(v *version.Version, cfg Config) *Task {
	trigger := cfg.L0CompactionTrigger
	if trigger <= 0 {
		trigger = 4
	}
	if len(v.Files[0]) >= trigger {
		return p.pickLevel(v, 0)
	}
	for level := 1; level < version.NumLevels-1; level++ {
		if v.LevelSize(level) > levelBudget(level) {
			return p.pickLevel(v, level)
		}
	}
	return nil
}

func (p *Picker) pickLevel(v *version.Version, level int) *Task {
	files := v.Files[level]
	if len(files) == 0 {
		return nil
	}

	var picked *sstable.FileMetadata
	if level == 0 {
		// L0 files overlap each other; always take the whole level so the
		// output for a given user key is computed from every version of it.
		picked = files[0]
	} else {
		picked = selectRoundRobin(files, p.cursors[level].lastKey)
	}

	smallest, largest := picked.Smallest.UserKey(), picked.Largest.UserKey()

	var sourceInputs []*sstable.FileMetadata
	if level == 0 {
		sourceInputs = append(sourceInputs, files...)
		for _, f := range sourceInputs {
			if string(f.Smallest.UserKey()) < string(smallest) {
				smallest = f.Smallest.UserKey()
			}
			if string(f.Largest.UserKey()) > string(largest) {
				largest = f.Largest.UserKey()
			}
		}
	} else {
		sourceInputs = append(sourceInputs, picked)
	}

	outputLevel := level + 1
	var nextInputs []*sstable.FileMetadata
	for _, f := range v.Files[outputLevel] {
		if f.Overlaps(smallest, largest) {
			nextInputs = append(nextInputs, f)
		}
	}

	p.cursors[level].lastKey = append([]byte(nil), largest...)

	return &Task{
		SourceLevel: level,
		OutputLevel: outputLevel,
		Inputs:      [2][]*sstable.FileMetadata{sourceInputs, nextInputs},
	}
}

// selectRoundRobin picks the first file in files whose smallest key sorts
// after lastKey, wrapping around to files[0] if every file sorts at or
// before it. This rotates which part of a non-L0 level's key space gets
// compacted on successive calls instead of starving the tail of the level.
func selectRoundRobin(files []*sstable.FileMetadata, lastKey []byte) *sstable.FileMetadata {
	if lastKey == nil {
		return files[0]
	}
	for _, f := range files {
		if string(f.Smallest.UserKey()) > string(lastKey) {
			return f
		}
	}
	return files[0]
}
