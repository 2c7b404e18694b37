// Package disk implements the persistent tier of the cache: one record file per
// key, addressed by a hash of the key, plus a compact index file that lets the
// cache rebuild its in-memory index at startup without reading every payload.
//
// A Store is not safe for concurrent use. The cache manager serializes every
// call behind its own lock and is the only writer of the directory.
package disk

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	psdisk "github.com/shirou/gopsutil/v4/disk"
)

const (
	dataDirName   = "data"
	tempDirName   = "tmp"
	indexFileName = "index.msgpack"
	recordExt     = ".rec"
)

// Store manages the on-disk layout of a cache directory:
//
//	<dir>/index.msgpack
//	<dir>/data/<xx>/<hash>.rec
//	<dir>/tmp/
type Store struct {
	dir     string
	dataDir string
	tempDir string
	clock   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry checks.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Open prepares dir for use as a cache directory, creating it if needed.
func Open(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("disk: cache directory cannot be empty")
	}
	s := &Store{
		dir:     dir,
		dataDir: filepath.Join(dir, dataDirName),
		tempDir: filepath.Join(dir, tempDirName),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, d := range []string{s.dir, s.dataDir, s.tempDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, errors.Wrapf(err, "disk: create %s", d)
		}
	}
	return s, nil
}

// Dir returns the root directory of the store.
func (s *Store) Dir() string {
	return s.dir
}

// fileName returns the hashed file name for key.
func fileName(key string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(key)) + recordExt
}

// Path returns the deterministic record path for key.
func (s *Store) Path(key string) string {
	name := fileName(key)
	return filepath.Join(s.dataDir, name[:2], name)
}

// Save writes rec as the record for key and returns the number of bytes
// written. The write goes to a temp file first and is renamed into place, so
// a crash mid-write never corrupts another key's file.
func (s *Store) Save(key string, rec Record) (int64, error) {
	rec.Key = key
	buf, err := encodeRecord(rec)
	if err != nil {
		return 0, errors.Wrapf(err, "disk: encode record for %q", key)
	}
	if err := s.writeAtomically(s.Path(key), buf); err != nil {
		return 0, errors.Wrapf(err, "disk: save %q", key)
	}
	return int64(len(buf)), nil
}

// Load reads the record for key. It returns ErrNotFound when no record exists,
// ErrCorrupt when the file cannot be decoded and ErrExpired when the recorded
// expiry has passed. Corrupt and expired files are deleted on encounter.
func (s *Store) Load(key string) (Record, error) {
	path := s.Path(key)
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, ErrNotFound
		}
		return Record{}, errors.Wrapf(err, "disk: read %q", key)
	}
	rec, err := decodeRecord(buf)
	if err != nil {
		_ = os.Remove(path)
		return Record{}, errors.Wrapf(err, "disk: load %q", key)
	}
	if rec.Key != key {
		// another key hashed to the same file; it is not ours to delete
		return Record{}, errors.Wrapf(ErrNotFound, "disk: %q holds record for another key", path)
	}
	if rec.Expired(s.clock()) {
		_ = os.Remove(path)
		return Record{}, ErrExpired
	}
	return rec, nil
}

// Remove deletes the record for key. Removing a missing record is not an error.
func (s *Store) Remove(key string) error {
	if err := os.Remove(s.Path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "disk: remove %q", key)
	}
	return nil
}

// Clear removes every record, temp file and the index file.
func (s *Store) Clear() error {
	for _, d := range []string{s.dataDir, s.tempDir} {
		if err := os.RemoveAll(d); err != nil {
			return errors.Wrapf(err, "disk: clear %s", d)
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return errors.Wrapf(err, "disk: recreate %s", d)
		}
	}
	if err := os.Remove(s.indexPath()); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "disk: remove index")
	}
	return nil
}

// Usage describes the filesystem holding the cache directory.
type Usage struct {
	Total uint64
	Free  uint64
	Used  uint64
}

// Usage reports capacity of the filesystem that holds the cache directory.
func (s *Store) Usage() (Usage, error) {
	stat, err := psdisk.Usage(s.dir)
	if err != nil {
		return Usage{}, errors.Wrapf(err, "disk: usage of %s", s.dir)
	}
	return Usage{Total: stat.Total, Free: stat.Free, Used: stat.Used}, nil
}

func (s *Store) writeAtomically(target string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrap(err, "create record directory")
	}
	if err := os.MkdirAll(s.tempDir, 0o755); err != nil {
		return errors.Wrap(err, "create temp directory")
	}
	tmp := filepath.Join(s.tempDir, uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "write temp file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "sync temp file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "rename temp file")
	}
	return nil
}
