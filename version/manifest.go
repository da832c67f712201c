package version

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/willzeng274/MidDB/storage"
)

// manifestFileName returns the on-disk name of manifest number n.
func manifestFileName(n uint64) string {
	return fmt.Sprintf("MANIFEST-%06d", n)
}

// SSTableFileName returns the on-disk name of table file number n.
func SSTableFileName(n uint64) string {
	return fmt.Sprintf("%06d.sst", n)
}

const currentFileName = "CURRENT"

// Set holds the current Version plus the counters (next file number, last
// sequence, log number) that must survive a restart. It serializes every
// mutation through mu; readers take a consistent snapshot via Current.
type Set struct {
	mu sync.Mutex

	dirname string
	backend storage.Backend
	logger  *logrus.Logger

	current atomic.Pointer[Version]

	nextFileNumber uint64
	lastSequence   uint64
	logNumber      uint64

	manifestFile   storage.File
	manifestNumber uint64

	// Reclaim is invoked with the file numbers of a Version that has been
	// superseded and fully dereferenced; the caller (the database façade)
	// closes any open table handles and deletes the files from disk.
	Reclaim func(fileNums []uint64)
	retired []*Version
}

// New creates a VersionSet rooted at dirname. Call Recover (on an existing
// database) or Bootstrap (on a fresh one) before using it.
func New(dirname string, backend storage.Backend, logger *logrus.Logger) *Set {
	s := &Set{dirname: dirname, backend: backend, logger: logger, nextFileNumber: 1}
	s.current.Store(NewVersion())
	return s
}

// Current returns the live Version, referenced so it will not be reclaimed
// until the caller calls Unref.
func (s *Set) Current() *Version {
	v := s.current.Load()
	v.Ref()
	return v
}

// NextFileNumber allocates and returns a fresh file number.
func (s *Set) NextFileNumber() uint64 {
	return atomic.AddUint64(&s.nextFileNumber, 1) - 1
}

// LastSequence returns the highest sequence number ever assigned.
func (s *Set) LastSequence() uint64 {
	return atomic.LoadUint64(&s.lastSequence)
}

// SetLastSequence records the highest sequence number assigned so far.
func (s *Set) SetLastSequence(seq uint64) {
	for {
		cur := atomic.LoadUint64(&s.lastSequence)
		if seq <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&s.lastSequence, cur, seq) {
			return
		}
	}
}

// LogNumber returns the file number of the WAL segment writes should
// currently be appended to.
func (s *Set) LogNumber() uint64 {
	return atomic.LoadUint64(&s.logNumber)
}

func (s *Set) markFileNumUsed(n uint64) {
	for {
		cur := atomic.LoadUint64(&s.nextFileNumber)
		if n < cur {
			return
		}
		if atomic.CompareAndSwapUint64(&s.nextFileNumber, cur, n+1) {
			return
		}
	}
}

// Bootstrap initializes a brand-new database: allocates the first log
// number and writes an initial manifest plus CURRENT file.
func (s *Set) Bootstrap() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logNumber = s.NextFileNumber()
	s.manifestNumber = s.NextFileNumber()
	if err := s.createManifestLocked(); err != nil {
		return err
	}
	return s.writeCurrentLocked()
}

// Recover reads the CURRENT file to find the active manifest, then replays
// every edit in it to reconstruct the live Version and counters.
func (s *Set) Recover() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := readFile(s.backend, filepath.Join(s.dirname, currentFileName))
	if err != nil {
		return errors.Wrap(err, "version: read CURRENT")
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return errors.New("version: CURRENT file is empty")
	}

	manifestBytes, err := readFile(s.backend, filepath.Join(s.dirname, name))
	if err != nil {
		return errors.Wrapf(err, "version: read manifest %q", name)
	}

	var v *Version
	records, err := splitRecords(manifestBytes)
	if err != nil {
		return err
	}
	for _, rec := range records {
		var e Edit
		if err := e.Decode(rec); err != nil {
			return errors.Wrap(err, "version: decode manifest record")
		}
		if e.ComparatorName != "" && e.ComparatorName != comparatorName {
			return errors.Errorf("version: comparator mismatch: %q", e.ComparatorName)
		}
		v, err = apply(v, &e)
		if err != nil {
			return err
		}
		if e.LogNumber != 0 {
			s.logNumber = e.LogNumber
			s.markFileNumUsed(e.LogNumber)
		}
		if e.NextFileNumber != 0 {
			s.markFileNumUsed(e.NextFileNumber - 1)
		}
		if e.LastSequence != 0 {
			s.SetLastSequence(e.LastSequence)
		}
		for _, nf := range e.NewFiles {
			s.markFileNumUsed(nf.Meta.FileNum)
		}
	}
	if v == nil {
		v = NewVersion()
	}

	manifestNum, err := parseManifestNumber(name)
	if err != nil {
		return err
	}
	s.manifestNumber = manifestNum
	s.markFileNumUsed(manifestNum)

	f, err := s.backend.Open(filepath.Join(s.dirname, name))
	if err != nil {
		return errors.Wrap(err, "version: reopen manifest for appends")
	}
	s.manifestFile = f

	v.Ref()
	s.current.Store(v)
	return nil
}

func parseManifestNumber(name string) (uint64, error) {
	const prefix = "MANIFEST-"
	if !strings.HasPrefix(name, prefix) {
		return 0, errors.Errorf("version: malformed manifest name %q", name)
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(name, prefix), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "version: malformed manifest name %q", name)
	}
	return n, nil
}

// LogAndApply durably appends edit to the manifest, then installs a new
// Version folding it onto the current one. The old Version is unreferenced;
// it remains alive until every outstanding reader releases it.
func (s *Set) LogAndApply(edit *Edit) (*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	edit.NextFileNumber = atomic.LoadUint64(&s.nextFileNumber)
	edit.LastSequence = atomic.LoadUint64(&s.lastSequence)

	newVersion, err := apply(s.current.Load(), edit)
	if err != nil {
		return nil, err
	}

	if s.manifestFile == nil {
		s.manifestNumber = s.NextFileNumber()
		if err := s.createManifestLocked(); err != nil {
			return nil, err
		}
	}

	if err := appendRecord(s.manifestFile, edit.Encode()); err != nil {
		return nil, errors.Wrap(err, "version: append manifest record")
	}
	if err := s.manifestFile.Sync(); err != nil {
		return nil, errors.Wrap(err, "version: sync manifest")
	}

	old := s.current.Load()
	old.obsolete = fileNumsOf(edit.DeletedFiles)
	newVersion.Ref()
	s.current.Store(newVersion)
	if old.Unref() {
		s.reclaimLocked(old)
	} else if len(old.obsolete) > 0 {
		s.retired = append(s.retired, old)
	}

	if edit.LogNumber != 0 {
		atomic.StoreUint64(&s.logNumber, edit.LogNumber)
	}

	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"new_files":     len(edit.NewFiles),
			"deleted_files": len(edit.DeletedFiles),
		}).Debug("version: installed new version")
	}
	return newVersion, nil
}

// RotateLog is called when the active MemTable is frozen and a new WAL
// segment is opened; it records the new log number durably on the next
// LogAndApply call that follows.
func (s *Set) RotateLog(newLogNumber uint64) {
	atomic.StoreUint64(&s.logNumber, newLogNumber)
}

func (s *Set) createManifestLocked() error {
	name := manifestFileName(s.manifestNumber)
	f, err := s.backend.Create(filepath.Join(s.dirname, name))
	if err != nil {
		return errors.Wrap(err, "version: create manifest")
	}

	snapshot := Edit{
		ComparatorName: comparatorName,
		NextFileNumber: atomic.LoadUint64(&s.nextFileNumber),
		LastSequence:   atomic.LoadUint64(&s.lastSequence),
		LogNumber:      atomic.LoadUint64(&s.logNumber),
	}
	for level, files := range s.current.Load().Files {
		for _, fm := range files {
			snapshot.NewFiles = append(snapshot.NewFiles, NewFileEntry{Level: level, Meta: *fm})
		}
	}
	if err := appendRecord(f, snapshot.Encode()); err != nil {
		return errors.Wrap(err, "version: write manifest snapshot")
	}
	if err := f.Sync(); err != nil {
		return errors.Wrap(err, "version: sync manifest")
	}
	s.manifestFile = f
	return s.writeCurrentLocked()
}

func (s *Set) writeCurrentLocked() error {
	name := manifestFileName(s.manifestNumber)
	tmp := filepath.Join(s.dirname, currentFileName+".tmp")
	f, err := s.backend.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "version: create CURRENT tmp")
	}
	if _, err := f.Append([]byte(name + "\n")); err != nil {
		return errors.Wrap(err, "version: write CURRENT tmp")
	}
	if err := f.Sync(); err != nil {
		return errors.Wrap(err, "version: sync CURRENT tmp")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "version: close CURRENT tmp")
	}
	return s.backend.RenameAtomic(tmp, filepath.Join(s.dirname, currentFileName))
}

func fileNumsOf(deleted []DeletedFileEntry) []uint64 {
	if len(deleted) == 0 {
		return nil
	}
	nums := make([]uint64, len(deleted))
	for i, d := range deleted {
		nums[i] = d.FileNum
	}
	return nums
}

// reclaimLocked invokes Reclaim for v's obsolete files. Callers must hold
// s.mu or otherwise guarantee v is not concurrently in s.retired.
func (s *Set) reclaimLocked(v *Version) {
	if len(v.obsolete) > 0 && s.Reclaim != nil {
		s.Reclaim(v.obsolete)
	}
	v.obsolete = nil
}

// ReleaseVersion drops a reference acquired via Current. Once a retired
// Version's refcount reaches zero, its obsolete files are handed to
// Reclaim for deletion.
func (s *Set) ReleaseVersion(v *Version) {
	if !v.Unref() {
		return
	}
	s.mu.Lock()
	for i, r := range s.retired {
		if r == v {
			s.retired = append(s.retired[:i], s.retired[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.reclaimLocked(v)
}

// LiveFileNums returns the set of SSTable file numbers referenced by the
// current Version, used by the compactor to decide which orphaned files on
// disk are safe to remove.
func (s *Set) LiveFileNums() map[uint64]struct{} {
	live := map[uint64]struct{}{}
	v := s.current.Load()
	for _, files := range v.Files {
		for _, f := range files {
			live[f.FileNum] = struct{}{}
		}
	}
	return live
}

func readFile(backend storage.Backend, name string) ([]byte, error) {
	f, err := backend.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}
