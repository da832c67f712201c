package compaction

import (
	"container/heap"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/willzeng274/MidDB/ikey"
	"github.com/willzeng274/MidDB/sstable"
	"github.com/willzeng274/MidDB/storage"
	"github.com/willzeng274/MidDB/version"
)

// Params wires a running compaction to its host database: where files
// live, how they are opened, and how output files are shaped. The oldest
// sequence number an open snapshot could still need is passed to Run
// separately.
type Params struct {
	Dirname              string
	Backend              storage.Backend
	BlockSize            int
	BlockRestartInterval int
	BloomBitsPerKey      int
	MaxSSTableSize       int64
}

type mergeSource struct {
	reader *sstable.Reader
	file   storage.File
	it     *sstable.Iterator
}

type mergeHeap []*mergeSource

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	return ikey.Less(h[i].it.Key(), h[j].it.Key())
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) {
	*h = append(*h, x.(*mergeSource))
}
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Run executes task: it opens every input file, k-way merges their entries
// in internal-key order, drops superseded versions and safely-collectible
// tombstones, and writes one or more output SSTables at OutputLevel. On
// success it returns the output files' metadata; the caller is responsible
// for building and installing the version.Edit that deletes task's input
// files and adds the outputs.
func Run(task *Task, p Params, isBottomLevel bool, minSnapshotSequence uint64, fileNumbers func() uint64) (outputs []sstable.FileMetadata, err error) {
	var sources []*mergeSource
	defer func() {
		for _, s := range sources {
			s.file.Close()
		}
	}()

	for _, group := range task.Inputs {
		for _, meta := range group {
			f, openErr := p.Backend.Open(filepath.Join(p.Dirname, version.SSTableFileName(meta.FileNum)))
			if openErr != nil {
				return nil, errors.Wrapf(openErr, "compaction: open input file %d", meta.FileNum)
			}
			reader, readErr := sstable.Open(f)
			if readErr != nil {
				f.Close()
				return nil, errors.Wrapf(readErr, "compaction: open reader for file %d", meta.FileNum)
			}
			it := reader.NewIter()
			it.First()
			sources = append(sources, &mergeSource{reader: reader, file: f, it: it})
		}
	}

	h := make(mergeHeap, 0, len(sources))
	for _, s := range sources {
		if s.it.Valid() {
			h = append(h, s)
		}
	}
	heap.Init(&h)

	var (
		writer       *sstable.Writer
		currentFile  storage.File
		currentMeta  sstable.FileMetadata
		lastUserKey  []byte
		haveLastUser bool
	)

	rollOutput := func() error {
		if writer == nil || writer.Empty() {
			return nil
		}
		meta, finErr := writer.Finish()
		if finErr != nil {
			return errors.Wrap(finErr, "compaction: finish output file")
		}
		meta.FileNum = currentMeta.FileNum
		meta.Level = task.OutputLevel
		outputs = append(outputs, meta)
		return currentFile.Close()
	}

	openOutput := func() error {
		num := fileNumbers()
		f, createErr := p.Backend.Create(filepath.Join(p.Dirname, version.SSTableFileName(num)))
		if createErr != nil {
			return errors.Wrap(createErr, "compaction: create output file")
		}
		currentFile = f
		currentMeta = sstable.FileMetadata{FileNum: num, Level: task.OutputLevel}
		writer = sstable.NewWriter(f, p.BlockSize, p.BlockRestartInterval, p.BloomBitsPerKey)
		return nil
	}

	for h.Len() > 0 {
		src := h[0]
		key := src.it.Key().Clone()
		value := append([]byte(nil), src.it.Value()...)
		userKey := key.UserKey()

		isNewestVersion := !haveLastUser || string(userKey) != string(lastUserKey)
		if isNewestVersion {
			lastUserKey = append(lastUserKey[:0], userKey...)
			haveLastUser = true
		}

		keep := isNewestVersion || key.Sequence() >= minSnapshotSequence
		if keep && key.Kind() == ikey.KindDelete && isBottomLevel && key.Sequence() < minSnapshotSequence {
			keep = false
		}

		if keep {
			if writer == nil {
				if err := openOutput(); err != nil {
					return nil, err
				}
			}
			if err := writer.Add(key, value); err != nil {
				return nil, errors.Wrap(err, "compaction: write output entry")
			}
			if writer.Size() >= p.MaxSSTableSize {
				if err := rollOutput(); err != nil {
					return nil, err
				}
				writer = nil
			}
		}

		if src.it.Next() {
			heap.Fix(&h, 0)
		} else {
			heap.Pop(&h)
		}
	}

	if err := rollOutput(); err != nil {
		return nil, err
	}

	return outputs, nil
}
