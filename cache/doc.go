// Package cache provides a bounded two-tier cache: a fast in-memory tier
// backed by an optional persistent disk tier, with per-entry TTLs and
// least-recently-used eviction under independent memory and disk ceilings.
//
// # Manager
//
// [New] constructs a [Manager]. There is no package-level instance; the
// application creates one and passes it to whatever needs caching:
//
//	m := cache.New(ctx,
//	    cache.WithDirectory(dir),
//	    cache.WithMaxMemoryBytes(10<<20),
//	    cache.WithMaxDiskBytes(100<<20),
//	)
//	defer m.Close()
//
//	m.Set("token", "abc", time.Second)
//	token := cache.Get(m, "token", "")
//
// Values are encoded once with the configured [Codec] ([MsgpackCodec] by
// default). The encoded length is the entry's accounted size. The same bytes
// are kept in memory and written to disk, so reading a value back always
// means decoding it; use [Get] or [Lookup] to decode into a concrete type.
//
// # Tiers
//
// [Manager.Set] stores the value in memory and, when the disk tier is
// enabled, mirrors it to a record file in the cache directory.
// [Manager.Get] consults memory first and then disk. A disk hit is promoted
// back into memory. Evicting an entry from memory keeps its disk copy, so
// the entry is demoted rather than lost.
//
// A value larger than the memory ceiling is stored on disk only. A value that
// fits neither tier is rejected: the previous value for the key is removed
// and [Stats.Rejections] is incremented.
//
// Ceilings of zero or less are unlimited. Lowering a ceiling evicts
// immediately.
//
// # Eviction
//
// Victims are chosen by [OrderVictims]: least recently accessed first, ties
// broken by fewer hits and then by key. Only as many victims as needed to get
// back under the ceiling are evicted. The key that triggered an eviction pass
// is never its own victim.
//
// # Expiry
//
// Expired entries are invisible to [Manager.Get], [Manager.Has] and
// [Manager.Keys] immediately. They are physically removed lazily by Get, by
// [Manager.Cleanup] and by the background sweep, which runs every
// [DefaultCleanupInterval] unless changed with [WithCleanupInterval] or
// [Manager.SetCleanupInterval]. [Manager.Count] includes expired entries that
// have not been swept yet.
//
// # Persistence
//
// The disk tier is managed by package [github.com/jingo-vpn/tiercache/cache/disk].
// The index of disk-resident entries is persisted by Cleanup, by Close and
// when the disk tier is disabled. On startup the index is reconciled with the
// record files, so entries written after the last persisted index survive a
// crash as long as their record file is intact.
//
// # Failures
//
// No method returns a disk error. Failed writes leave the entry in memory
// only and failed reads count as misses. Both are logged and counted in
// [Stats]. After repeated consecutive write failures the disk tier stops
// writing for a cool-down period; see [WithDiskBreaker].
//
// # Observers
//
// [Manager.Subscribe] registers an [Observer]. Events are delivered after
// the cache lock is released, so observers may call back into the Manager.
// A panicking observer does not affect the cache.
package cache
