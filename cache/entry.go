package cache

import (
	"time"

	"github.com/jingo-vpn/tiercache/cache/disk"
)

// Entry is the unit of storage tracked by the Manager's index. An entry can be
// resident in memory, on disk, or both.
type Entry struct {
	Key string
	// Data is the encoded payload while the entry is resident in memory and
	// nil once it has been demoted to disk only.
	Data []byte
	// Expiry is the absolute expiry time. The zero value never expires.
	Expiry time.Time
	// Size is the accounted payload size, len of the encoded value.
	Size int64
	// DiskSize is the number of bytes written to the record file.
	DiskSize   int64
	LastAccess time.Time
	HitCount   int64
	InMemory   bool
	OnDisk     bool
}

// Expired reports whether the entry's expiry is at or before now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.Expiry.IsZero() && !now.Before(e.Expiry)
}

// Live is the inverse of Expired.
func (e *Entry) Live(now time.Time) bool {
	return !e.Expired(now)
}

func (e *Entry) touch(now time.Time) {
	e.LastAccess = now
	e.HitCount++
}

func (e *Entry) record() disk.Record {
	return disk.Record{
		Key:        e.Key,
		Data:       e.Data,
		Expiry:     e.Expiry,
		LastAccess: e.LastAccess,
		HitCount:   e.HitCount,
	}
}

func (e *Entry) indexEntry() disk.IndexEntry {
	return disk.IndexEntry{
		Key:        e.Key,
		Expiry:     e.Expiry,
		Size:       e.Size,
		DiskSize:   e.DiskSize,
		LastAccess: e.LastAccess,
		HitCount:   e.HitCount,
	}
}

func entryFromIndex(ie disk.IndexEntry) *Entry {
	return &Entry{
		Key:        ie.Key,
		Expiry:     ie.Expiry,
		Size:       ie.Size,
		DiskSize:   ie.DiskSize,
		LastAccess: ie.LastAccess,
		HitCount:   ie.HitCount,
		OnDisk:     true,
	}
}

// snapshot returns a copy of the entry without its payload.
func (e *Entry) snapshot() Entry {
	c := *e
	c.Data = nil
	return c
}
