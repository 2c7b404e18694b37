package cache

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jingo-vpn/tiercache/cache/disk"
	"github.com/jingo-vpn/tiercache/logger"
	"github.com/jingo-vpn/tiercache/resilience"
	"golang.org/x/sync/singleflight"
)

// persister is the disk tier as seen by the Manager. *disk.Store implements it.
type persister interface {
	Save(key string, rec disk.Record) (int64, error)
	Load(key string) (disk.Record, error)
	Remove(key string) error
	Clear() error
	LoadIndex() (map[string]disk.IndexEntry, error)
	SaveIndex(entries map[string]disk.IndexEntry) error
	Reconcile(index map[string]disk.IndexEntry) (disk.ReconcileResult, error)
	Usage() (disk.Usage, error)
	Dir() string
}

var _ persister = (*disk.Store)(nil)

type counters struct {
	memoryHits            atomic.Int64
	diskHits              atomic.Int64
	misses                atomic.Int64
	memoryEvictions       atomic.Int64
	diskEvictions         atomic.Int64
	expirations           atomic.Int64
	rejections            atomic.Int64
	diskWriteFailures     atomic.Int64
	diskReadFailures      atomic.Int64
	serializationFailures atomic.Int64
	indexSaveFailures     atomic.Int64
}

// Manager is a two-tier cache. Values are encoded once by the configured
// Codec and the encoded bytes are kept in memory and, when the disk tier is
// enabled, mirrored to one record file per key.
//
// A single lock guards the index, the byte accounting and the cache
// directory. Every mutating method holds it for its whole duration, disk I/O
// included. Get mutates access metadata and therefore takes the write lock.
type Manager struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	memUsed  int64
	diskUsed int64
	pending  []Event

	cfg      config
	store    persister
	breaker  *resilience.CircuitBreaker
	log      logger.Logger
	counters counters
	flight   singleflight.Group
	sched    *scheduler

	obsMu        sync.Mutex
	observers    map[uint64]Observer
	nextObserver uint64

	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// New returns a Manager configured by opts. When the disk tier is enabled the
// persisted index in the cache directory is loaded and reconciled with the
// record files before New returns. The background sweep stops when ctx is
// done or Close is called.
func New(ctx context.Context, opts ...Option) *Manager {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(ctx)
	breakerCfg := cfg.breaker
	if breakerCfg.Clock == nil {
		breakerCfg.Clock = cfg.clock
	}
	m := &Manager{
		entries:   make(map[string]*Entry),
		cfg:       cfg,
		store:     cfg.store,
		breaker:   resilience.NewCircuitBreaker(breakerCfg),
		log:       cfg.log.WithPrefix("[cache]"),
		observers: make(map[uint64]Observer),
		cancel:    cancel,
	}
	if m.store == nil && (cfg.diskEnabled || cfg.directory != "") {
		m.store = m.openStore()
	}
	if m.diskActive() {
		m.mu.Lock()
		m.loadIndexLocked()
		m.pending = nil
		m.mu.Unlock()
	}
	m.sched = newScheduler(ctx, m.Cleanup)
	m.sched.reset(cfg.cleanupInterval)
	return m
}

func (m *Manager) openStore() persister {
	dir := m.cfg.directory
	if dir == "" {
		var err error
		if dir, err = DefaultDirectory(); err != nil {
			m.log.Error("disk tier unavailable: %s", err)
			return nil
		}
	}
	store, err := disk.Open(dir, disk.WithClock(m.cfg.clock))
	if err != nil {
		m.log.Error("disk tier unavailable: %s", err)
		return nil
	}
	m.cfg.directory = dir
	return store
}

func (m *Manager) now() time.Time {
	return m.cfg.clock()
}

func (m *Manager) diskActive() bool {
	return m.cfg.diskEnabled && m.store != nil
}

func fits(size, ceiling int64) bool {
	return ceiling <= 0 || size <= ceiling
}

// Set stores value under key, replacing any previous entry. A ttl of zero or
// less never expires. Set has no error result: encoding failures are logged
// and counted, and disk failures leave the entry memory-only.
//
// A value larger than the memory ceiling is kept on disk only, provided it
// fits the disk ceiling. A value that fits neither tier is rejected and the
// previous entry for the key is dropped.
func (m *Manager) Set(key string, value any, ttl time.Duration) {
	data, err := m.cfg.codec.Marshal(value)
	if err != nil {
		m.counters.serializationFailures.Add(1)
		m.log.Warn("encode value for %q: %s", key, err)
		return
	}
	m.put(key, data, ttl)
}

// SetBytes stores a copy of an already encoded payload. It is Set without
// the codec.
func (m *Manager) SetBytes(key string, data []byte, ttl time.Duration) {
	m.put(key, bytes.Clone(data), ttl)
}

// put takes ownership of data.
func (m *Manager) put(key string, data []byte, ttl time.Duration) {
	if data == nil {
		data = []byte{}
	}
	m.mu.Lock()
	defer m.unlock()
	m.storeLocked(key, data, ttl)
}

func (m *Manager) storeLocked(key string, data []byte, ttl time.Duration) {
	now := m.now()
	prior, existed := m.entries[key]
	if existed {
		m.detachLocked(prior)
	}

	e := &Entry{
		Key:        key,
		Size:       int64(len(data)),
		LastAccess: now,
	}
	if ttl > 0 {
		e.Expiry = now.Add(ttl)
	}
	if fits(e.Size, m.cfg.maxMemoryBytes) {
		e.Data = data
		e.InMemory = true
	}
	if m.diskActive() && fits(e.Size, m.cfg.maxDiskBytes) {
		e.OnDisk = m.writeDiskLocked(e, data)
	} else {
		m.discardFileLocked(key)
	}

	if !e.InMemory && !e.OnDisk {
		m.counters.rejections.Add(1)
		m.log.Debug("rejected %q: %d bytes fits neither tier", key, e.Size)
		if existed {
			m.emit(EventRemoved, key, ReasonRejected)
		}
		return
	}
	if !e.InMemory {
		e.Data = nil
	}

	m.entries[key] = e
	m.accountLocked(e, 1)
	m.enforceLocked(key)
	m.emit(EventUpdated, key, ReasonNone)
}

// writeDiskLocked mirrors e to its record file and reports whether the file
// now holds it. On failure any older record for the key is deleted.
func (m *Manager) writeDiskLocked(e *Entry, data []byte) bool {
	rec := e.record()
	rec.Data = data
	var n int64
	err := m.breaker.Do(func() error {
		var err error
		n, err = m.store.Save(e.Key, rec)
		return err
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitBreakerOpen) {
			m.counters.diskWriteFailures.Add(1)
			m.log.Warn("disk write for %q failed, keeping it in memory: %s", e.Key, err)
		}
		m.discardFileLocked(e.Key)
		return false
	}
	if !fits(n, m.cfg.maxDiskBytes) {
		m.discardFileLocked(e.Key)
		return false
	}
	e.DiskSize = n
	return true
}

func (m *Manager) discardFileLocked(key string) {
	if m.store == nil {
		return
	}
	if err := m.store.Remove(key); err != nil {
		m.log.Warn("remove record for %q: %s", key, err)
	}
}

// accountLocked adds (sign 1) or subtracts (sign -1) e's residency from the
// byte counters.
func (m *Manager) accountLocked(e *Entry, sign int64) {
	if e.InMemory {
		m.memUsed += sign * e.Size
	}
	if e.OnDisk {
		m.diskUsed += sign * e.DiskSize
	}
}

// detachLocked removes e from the index and accounting without touching its
// record file.
func (m *Manager) detachLocked(e *Entry) {
	delete(m.entries, e.Key)
	m.accountLocked(e, -1)
}

// dropLocked removes e from the index, accounting and disk.
func (m *Manager) dropLocked(e *Entry) {
	m.detachLocked(e)
	if e.OnDisk {
		m.discardFileLocked(e.Key)
	}
}

// enforceLocked evicts until both ceilings hold. pinned is never chosen as a
// victim.
func (m *Manager) enforceLocked(pinned string) {
	if over := m.memUsed - m.cfg.maxMemoryBytes; m.cfg.maxMemoryBytes > 0 && over > 0 {
		for _, key := range SelectVictims(m.candidatesLocked(pinned, true), over) {
			m.evictMemoryLocked(key)
		}
	}
	if over := m.diskUsed - m.cfg.maxDiskBytes; m.cfg.maxDiskBytes > 0 && over > 0 {
		for _, key := range SelectVictims(m.candidatesLocked(pinned, false), over) {
			m.evictDiskLocked(key)
		}
	}
}

func (m *Manager) candidatesLocked(pinned string, memory bool) []Candidate {
	var out []Candidate
	for key, e := range m.entries {
		if key == pinned {
			continue
		}
		c := Candidate{Key: key, LastAccess: e.LastAccess, HitCount: e.HitCount}
		switch {
		case memory && e.InMemory:
			c.Size = e.Size
		case !memory && e.OnDisk:
			c.Size = e.DiskSize
		default:
			continue
		}
		out = append(out, c)
	}
	return out
}

// evictMemoryLocked releases the in-memory copy of key. Entries without a
// disk copy leave the cache.
func (m *Manager) evictMemoryLocked(key string) {
	e, ok := m.entries[key]
	if !ok || !e.InMemory {
		return
	}
	m.memUsed -= e.Size
	e.Data = nil
	e.InMemory = false
	m.counters.memoryEvictions.Add(1)
	if !e.OnDisk {
		delete(m.entries, key)
		m.emit(EventRemoved, key, ReasonEvicted)
	}
}

// evictDiskLocked deletes the record file of key. Entries not resident in
// memory leave the cache.
func (m *Manager) evictDiskLocked(key string) {
	e, ok := m.entries[key]
	if !ok || !e.OnDisk {
		return
	}
	m.discardFileLocked(key)
	m.diskUsed -= e.DiskSize
	e.OnDisk = false
	e.DiskSize = 0
	m.counters.diskEvictions.Add(1)
	if !e.InMemory {
		delete(m.entries, key)
		m.emit(EventRemoved, key, ReasonEvicted)
	}
}

// GetBytes returns a copy of the encoded payload for key. A disk hit is
// promoted into memory when it fits the memory ceiling. Expired entries are
// removed and reported as misses.
func (m *Manager) GetBytes(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.unlock()
	data, ok := m.getLocked(key)
	if !ok {
		return nil, false
	}
	return bytes.Clone(data), true
}

func (m *Manager) getLocked(key string) ([]byte, bool) {
	now := m.now()
	e, ok := m.entries[key]
	if !ok {
		m.counters.misses.Add(1)
		return nil, false
	}
	if e.Expired(now) {
		m.dropLocked(e)
		m.counters.expirations.Add(1)
		m.counters.misses.Add(1)
		m.emit(EventRemoved, key, ReasonExpired)
		return nil, false
	}
	if e.InMemory {
		e.touch(now)
		m.counters.memoryHits.Add(1)
		return e.Data, true
	}

	rec, err := m.store.Load(key)
	if err != nil || int64(len(rec.Data)) != e.Size {
		m.detachLocked(e)
		m.counters.misses.Add(1)
		reason := ReasonCorrupted
		switch {
		case errors.Is(err, disk.ErrExpired):
			m.counters.expirations.Add(1)
			reason = ReasonExpired
		case err == nil:
			m.counters.diskReadFailures.Add(1)
			m.discardFileLocked(key)
			m.log.Warn("disk record for %q has %d bytes, expected %d", key, len(rec.Data), e.Size)
		default:
			m.counters.diskReadFailures.Add(1)
			m.log.Warn("disk read for %q failed: %s", key, err)
		}
		m.emit(EventRemoved, key, reason)
		return nil, false
	}

	e.touch(now)
	m.counters.diskHits.Add(1)
	if fits(e.Size, m.cfg.maxMemoryBytes) {
		e.Data = rec.Data
		e.InMemory = true
		m.memUsed += e.Size
		m.enforceLocked(key)
	}
	return rec.Data, true
}

// Get returns the value stored under key decoded with the manager's codec
// into its generic form (for msgpack: strings, numbers, []byte, maps and
// slices of those), or def on a miss. Use the generic Get or Lookup to decode
// into a concrete type.
func (m *Manager) Get(key string, def any) any {
	data, ok := m.GetBytes(key)
	if !ok {
		return def
	}
	var v any
	if err := m.cfg.codec.Unmarshal(data, &v); err != nil {
		m.counters.serializationFailures.Add(1)
		m.log.Warn("decode %q: %s", key, err)
		return def
	}
	return v
}

// Has reports whether key holds an unexpired entry. It performs no disk I/O
// and does not count as an access.
func (m *Manager) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return ok && e.Live(m.now())
}

// Remove deletes key from both tiers. Removing an absent key is a no-op.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	defer m.unlock()
	e, ok := m.entries[key]
	if ok {
		m.detachLocked(e)
	}
	// the record file may exist even when the index does not list it, for
	// example while the disk tier is disabled
	m.discardFileLocked(key)
	if ok {
		m.emit(EventRemoved, key, ReasonRemoved)
	}
}

// Clear deletes every entry from both tiers, including record files the
// index does not know about.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.unlock()
	m.entries = make(map[string]*Entry)
	m.memUsed = 0
	m.diskUsed = 0
	if m.store != nil {
		if err := m.store.Clear(); err != nil {
			m.log.Error("clear cache directory: %s", err)
		}
	}
	m.emit(EventCleared, "", ReasonNone)
}

// Cleanup removes every expired entry from both tiers, re-checks the
// ceilings and persists the disk index. It runs synchronously; the
// background sweep calls it on every tick.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.unlock()
	m.sweepLocked()
	m.enforceLocked("")
	m.flushIndexLocked()
}

func (m *Manager) sweepLocked() {
	now := m.now()
	keys := make([]string, 0)
	for key, e := range m.entries {
		if e.Expired(now) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		m.dropLocked(m.entries[key])
		m.counters.expirations.Add(1)
		m.emit(EventRemoved, key, ReasonExpired)
	}
	if len(keys) > 0 {
		m.log.Debug("swept %d expired entries", len(keys))
	}
}

// SetMaxMemoryBytes changes the memory ceiling, evicting immediately when
// usage is above it. Zero or less means unlimited.
func (m *Manager) SetMaxMemoryBytes(n int64) {
	m.mu.Lock()
	defer m.unlock()
	m.cfg.maxMemoryBytes = n
	m.enforceLocked("")
}

// SetMaxDiskBytes changes the disk ceiling, evicting immediately when usage
// is above it. Zero or less means unlimited.
func (m *Manager) SetMaxDiskBytes(n int64) {
	m.mu.Lock()
	defer m.unlock()
	m.cfg.maxDiskBytes = n
	m.enforceLocked("")
}

// SetDiskCacheEnabled turns the disk tier on or off. Disabling persists the
// index and forgets disk-only entries but leaves their files in place;
// enabling closes the write breaker and loads the persisted index again.
// Entries already in memory win over their older files.
func (m *Manager) SetDiskCacheEnabled(enabled bool) {
	m.mu.Lock()
	defer m.unlock()
	if enabled == m.cfg.diskEnabled {
		return
	}
	if !enabled {
		m.flushIndexLocked()
		m.cfg.diskEnabled = false
		for key, e := range m.entries {
			if !e.OnDisk {
				continue
			}
			e.OnDisk = false
			e.DiskSize = 0
			if !e.InMemory {
				delete(m.entries, key)
			}
		}
		m.diskUsed = 0
		return
	}
	m.cfg.diskEnabled = true
	m.breaker.Reset()
	if m.store == nil {
		m.store = m.openStore()
	}
	if m.store != nil {
		m.loadIndexLocked()
	}
}

// SetCleanupInterval restarts the background sweep at interval d. Zero
// disables it. An in-flight sweep completes first.
func (m *Manager) SetCleanupInterval(d time.Duration) {
	m.mu.Lock()
	m.cfg.cleanupInterval = d
	m.mu.Unlock()
	m.sched.reset(d)
}

// loadIndexLocked merges the persisted index into the in-memory one.
func (m *Manager) loadIndexLocked() {
	index, err := m.store.LoadIndex()
	if err != nil {
		m.log.Warn("disk index unreadable, recovering from record files: %s", err)
		index = map[string]disk.IndexEntry{}
	}
	res, err := m.store.Reconcile(index)
	if err != nil {
		m.log.Warn("reconcile cache directory: %s", err)
	}
	if res.Dropped+res.Adopted+res.Purged+res.Refreshed > 0 {
		m.log.Info("reconciled cache directory: %d dropped, %d adopted, %d refreshed, %d purged",
			res.Dropped, res.Adopted, res.Refreshed, res.Purged)
	}
	now := m.now()
	for key, ie := range res.Entries {
		if ie.Expired(now) {
			m.discardFileLocked(key)
			continue
		}
		if e, ok := m.entries[key]; ok {
			if !e.OnDisk {
				m.discardFileLocked(key)
			}
			continue
		}
		if !fits(ie.DiskSize, m.cfg.maxDiskBytes) {
			m.discardFileLocked(key)
			continue
		}
		ie.Key = key
		e := entryFromIndex(ie)
		m.entries[key] = e
		m.diskUsed += e.DiskSize
	}
	m.enforceLocked("")
}

// flushIndexLocked persists the metadata of every disk-resident entry.
func (m *Manager) flushIndexLocked() error {
	if !m.diskActive() {
		return nil
	}
	index := make(map[string]disk.IndexEntry)
	for key, e := range m.entries {
		if e.OnDisk {
			index[key] = e.indexEntry()
		}
	}
	if err := m.store.SaveIndex(index); err != nil {
		m.counters.indexSaveFailures.Add(1)
		m.log.Warn("persist disk index: %s", err)
		return err
	}
	return nil
}

// Count returns the number of entries in the index, including expired
// entries that have not been swept yet.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// MemoryBytesUsed returns the accounted size of memory-resident entries.
func (m *Manager) MemoryBytesUsed() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memUsed
}

// DiskBytesUsed returns the size of the record files of disk-resident entries.
func (m *Manager) DiskBytesUsed() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.diskUsed
}

// TotalBytesUsed is MemoryBytesUsed plus DiskBytesUsed.
func (m *Manager) TotalBytesUsed() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memUsed + m.diskUsed
}

// Keys returns the unexpired keys in sorted order.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	keys := make([]string, 0, len(m.entries))
	for key, e := range m.entries {
		if e.Live(now) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Entries returns payload-free copies of the unexpired entries, sorted by key.
func (m *Manager) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.Live(now) {
			out = append(out, e.snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Directory returns the cache directory, or "" when there is no disk tier.
func (m *Manager) Directory() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.store == nil {
		return ""
	}
	return m.store.Dir()
}

// Close stops the background sweep and persists the disk index. The Manager
// stays usable afterwards without the sweep. Close is idempotent.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.cancel()
		m.sched.stop()
		m.mu.Lock()
		if err := m.flushIndexLocked(); err != nil {
			m.closeErr = errors.Wrap(err, "cache: close")
		}
		m.unlock()
	})
	return m.closeErr
}
