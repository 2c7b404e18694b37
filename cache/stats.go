package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jingo-vpn/tiercache/resilience"
)

// Stats is a point-in-time snapshot of a Manager.
type Stats struct {
	Entries         int
	MemoryEntries   int
	DiskEntries     int
	ExpiredEntries  int
	MemoryBytesUsed int64
	MaxMemoryBytes  int64
	DiskBytesUsed   int64
	MaxDiskBytes    int64

	MemoryHits            int64
	DiskHits              int64
	Misses                int64
	MemoryEvictions       int64
	DiskEvictions         int64
	Expirations           int64
	Rejections            int64
	DiskWriteFailures     int64
	DiskReadFailures      int64
	SerializationFailures int64
	IndexSaveFailures     int64

	DiskEnabled bool
	DiskTripped bool
	// DiskBreakerTrips counts how often repeated write failures paused the
	// disk tier. ConsecutiveDiskFailures resets on the next good write.
	DiskBreakerTrips        int64
	ConsecutiveDiskFailures int
	Directory       string
	CleanupInterval time.Duration
	// FilesystemFreeBytes is the free space on the filesystem holding the
	// cache directory, zero when unknown.
	FilesystemFreeBytes uint64
}

// Hits is the sum of memory and disk hits.
func (s Stats) Hits() int64 {
	return s.MemoryHits + s.DiskHits
}

// HitRate is hits over lookups, zero before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits() + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits()) / float64(total)
}

// Stats returns a snapshot of the cache's counters and usage.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	now := m.now()
	s := Stats{
		Entries:         len(m.entries),
		MemoryBytesUsed: m.memUsed,
		MaxMemoryBytes:  m.cfg.maxMemoryBytes,
		DiskBytesUsed:   m.diskUsed,
		MaxDiskBytes:    m.cfg.maxDiskBytes,
		DiskEnabled:     m.diskActive(),
		CleanupInterval: m.cfg.cleanupInterval,
	}
	for _, e := range m.entries {
		if e.InMemory {
			s.MemoryEntries++
		}
		if e.OnDisk {
			s.DiskEntries++
		}
		if e.Expired(now) {
			s.ExpiredEntries++
		}
	}
	store := m.store
	m.mu.RUnlock()

	if store != nil {
		s.Directory = store.Dir()
		if usage, err := store.Usage(); err == nil {
			s.FilesystemFreeBytes = usage.Free
		}
	}
	breaker := m.breaker.Stats()
	s.DiskTripped = breaker.State == resilience.StateOpen
	s.DiskBreakerTrips = int64(breaker.Trips)
	s.ConsecutiveDiskFailures = breaker.Failures
	s.MemoryHits = m.counters.memoryHits.Load()
	s.DiskHits = m.counters.diskHits.Load()
	s.Misses = m.counters.misses.Load()
	s.MemoryEvictions = m.counters.memoryEvictions.Load()
	s.DiskEvictions = m.counters.diskEvictions.Load()
	s.Expirations = m.counters.expirations.Load()
	s.Rejections = m.counters.rejections.Load()
	s.DiskWriteFailures = m.counters.diskWriteFailures.Load()
	s.DiskReadFailures = m.counters.diskReadFailures.Load()
	s.SerializationFailures = m.counters.serializationFailures.Load()
	s.IndexSaveFailures = m.counters.indexSaveFailures.Load()
	return s
}

func ceiling(n int64) string {
	if n <= 0 {
		return "unlimited"
	}
	return humanize.IBytes(uint64(n))
}

// String renders the snapshot as a short multi-line summary.
func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "entries: %s (memory %s, disk %s, expired %s)\n",
		humanize.Comma(int64(s.Entries)), humanize.Comma(int64(s.MemoryEntries)),
		humanize.Comma(int64(s.DiskEntries)), humanize.Comma(int64(s.ExpiredEntries)))
	fmt.Fprintf(&b, "memory: %s of %s\n", humanize.IBytes(uint64(s.MemoryBytesUsed)), ceiling(s.MaxMemoryBytes))
	disk := "disabled"
	if s.DiskEnabled {
		disk = fmt.Sprintf("%s of %s", humanize.IBytes(uint64(s.DiskBytesUsed)), ceiling(s.MaxDiskBytes))
		if s.DiskTripped {
			disk += " (writes paused after repeated failures)"
		}
		if s.FilesystemFreeBytes > 0 {
			disk += fmt.Sprintf(", %s free on device", humanize.IBytes(s.FilesystemFreeBytes))
		}
	}
	fmt.Fprintf(&b, "disk: %s\n", disk)
	fmt.Fprintf(&b, "hits: %s (memory %s, disk %s), misses: %s, hit rate: %.1f%%\n",
		humanize.Comma(s.Hits()), humanize.Comma(s.MemoryHits), humanize.Comma(s.DiskHits),
		humanize.Comma(s.Misses), s.HitRate()*100)
	fmt.Fprintf(&b, "evictions: memory %s, disk %s; expirations: %s; rejections: %s\n",
		humanize.Comma(s.MemoryEvictions), humanize.Comma(s.DiskEvictions),
		humanize.Comma(s.Expirations), humanize.Comma(s.Rejections))
	fmt.Fprintf(&b, "failures: disk write %d, disk read %d, serialization %d, index save %d; disk pauses: %d",
		s.DiskWriteFailures, s.DiskReadFailures, s.SerializationFailures, s.IndexSaveFailures, s.DiskBreakerTrips)
	return b.String()
}

// Statistics returns a human-readable summary of Stats.
func (m *Manager) Statistics() string {
	return m.Stats().String()
}
