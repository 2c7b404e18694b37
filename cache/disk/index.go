package disk

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const indexVersion = 1

// IndexEntry is the metadata kept for each disk-resident key. It carries
// everything needed to rebuild the in-memory index without reading payloads.
type IndexEntry struct {
	Key        string    `msgpack:"key"`
	Expiry     time.Time `msgpack:"expiry"`
	Size       int64     `msgpack:"size"`
	DiskSize   int64     `msgpack:"disk_size"`
	LastAccess time.Time `msgpack:"last_access"`
	HitCount   int64     `msgpack:"hit_count"`
}

// Expired reports whether the entry's expiry is at or before now.
func (e IndexEntry) Expired(now time.Time) bool {
	return !e.Expiry.IsZero() && !now.Before(e.Expiry)
}

type indexFile struct {
	Version int          `msgpack:"version"`
	SavedAt time.Time    `msgpack:"saved_at"`
	Entries []IndexEntry `msgpack:"entries"`
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, indexFileName)
}

// LoadIndex reads the index file. A missing index yields an empty map; an
// unreadable one returns ErrCorrupt.
func (s *Store) LoadIndex() (map[string]IndexEntry, error) {
	entries := make(map[string]IndexEntry)
	buf, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return entries, errors.Wrap(err, "disk: read index")
	}
	var doc indexFile
	if err := msgpack.Unmarshal(buf, &doc); err != nil {
		return entries, errors.Mark(errors.Wrap(err, "disk: decode index"), ErrCorrupt)
	}
	if doc.Version != indexVersion {
		return entries, errors.Wrapf(ErrCorrupt, "disk: unsupported index version %d", doc.Version)
	}
	for _, e := range doc.Entries {
		if e.Key == "" {
			continue
		}
		entries[e.Key] = e
	}
	return entries, nil
}

// SaveIndex atomically replaces the index file with entries.
func (s *Store) SaveIndex(entries map[string]IndexEntry) error {
	doc := indexFile{
		Version: indexVersion,
		SavedAt: s.clock(),
		Entries: make([]IndexEntry, 0, len(entries)),
	}
	for key, e := range entries {
		e.Key = key
		doc.Entries = append(doc.Entries, e)
	}
	sort.Slice(doc.Entries, func(i, j int) bool {
		return doc.Entries[i].Key < doc.Entries[j].Key
	})
	buf, err := msgpack.Marshal(&doc)
	if err != nil {
		return errors.Wrap(err, "disk: encode index")
	}
	if err := s.writeAtomically(s.indexPath(), buf); err != nil {
		return errors.Wrap(err, "disk: save index")
	}
	return nil
}

// ReconcileResult is the outcome of matching an index against the files
// actually present in the data directory.
type ReconcileResult struct {
	// Entries holds every entry that is backed by a file on disk.
	Entries map[string]IndexEntry
	// Dropped counts index entries whose file was missing, had the wrong size
	// or no longer validated.
	Dropped int
	// Refreshed counts index entries re-read from their record because the
	// file was written after the index.
	Refreshed int
	// Adopted counts files unknown to the index that validated and were added.
	Adopted int
	// Purged counts invalid orphan and leftover temp files that were deleted.
	Purged int
}

// Reconcile checks index against the data directory. Indexed entries whose
// file is older than the index file are verified with a stat only. Files
// modified at or after the index was written, and files the index does not
// know about, are decoded and validated (key must hash to the file name,
// checksum must match, not expired); valid ones are taken from the record
// itself and invalid ones are deleted.
func (s *Store) Reconcile(index map[string]IndexEntry) (ReconcileResult, error) {
	res := ReconcileResult{Entries: make(map[string]IndexEntry, len(index))}
	known := make(map[string]struct{}, len(index))
	now := s.clock()

	// file times only, the store clock may be unrelated to the filesystem's
	var flushedAt time.Time
	if info, err := os.Stat(s.indexPath()); err == nil {
		flushedAt = info.ModTime()
	}
	for key, e := range index {
		path := s.Path(key)
		info, err := os.Stat(path)
		if err != nil {
			res.Dropped++
			continue
		}
		if info.ModTime().Before(flushedAt) {
			if info.Size() != e.DiskSize {
				res.Dropped++
				continue
			}
			e.Key = key
			res.Entries[key] = e
			known[fileName(key)] = struct{}{}
			continue
		}
		fresh, ok := s.adopt(path, fileName(key), now)
		if !ok {
			res.Dropped++
			_ = os.Remove(path)
			continue
		}
		if fresh.Key != key {
			// another key's record, picked up by the scan below
			res.Dropped++
			continue
		}
		res.Entries[key] = fresh
		known[fileName(key)] = struct{}{}
		res.Refreshed++
	}

	err := filepath.WalkDir(s.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), recordExt) {
			return nil
		}
		if _, ok := known[d.Name()]; ok {
			return nil
		}
		entry, ok := s.adopt(path, d.Name(), now)
		if !ok {
			if err := os.Remove(path); err == nil {
				res.Purged++
			}
			return nil
		}
		if _, dup := res.Entries[entry.Key]; dup {
			return nil
		}
		res.Entries[entry.Key] = entry
		known[d.Name()] = struct{}{}
		res.Adopted++
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return res, errors.Wrap(err, "disk: scan data directory")
	}

	temps, err := os.ReadDir(s.tempDir)
	if err != nil && !os.IsNotExist(err) {
		return res, errors.Wrap(err, "disk: scan temp directory")
	}
	for _, t := range temps {
		if err := os.RemoveAll(filepath.Join(s.tempDir, t.Name())); err == nil {
			res.Purged++
		}
	}
	return res, nil
}

// adopt validates an orphan record file and returns its index entry.
func (s *Store) adopt(path, name string, now time.Time) (IndexEntry, bool) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return IndexEntry{}, false
	}
	rec, err := decodeRecord(buf)
	if err != nil {
		return IndexEntry{}, false
	}
	if fileName(rec.Key) != name || filepath.Base(filepath.Dir(path)) != name[:2] {
		return IndexEntry{}, false
	}
	if rec.Expired(now) {
		return IndexEntry{}, false
	}
	return IndexEntry{
		Key:        rec.Key,
		Expiry:     rec.Expiry,
		Size:       int64(len(rec.Data)),
		DiskSize:   int64(len(buf)),
		LastAccess: rec.LastAccess,
		HitCount:   rec.HitCount,
	}, true
}
