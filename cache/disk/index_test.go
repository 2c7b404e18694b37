package disk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadIndexMissing(t *testing.T) {
	s, _ := newTestStore(t)
	idx, err := s.LoadIndex()
	require.NoError(t, err)
	assert.Empty(t, idx)
}

func TestIndexRoundTrip(t *testing.T) {
	s, clock := newTestStore(t)
	in := map[string]IndexEntry{
		"a": {Size: 10, DiskSize: 64, Expiry: clock.now.Add(time.Minute), LastAccess: clock.now, HitCount: 2},
		"b": {Size: 20, DiskSize: 80, LastAccess: clock.now.Add(-time.Minute)},
	}
	require.NoError(t, s.SaveIndex(in))

	out, err := s.LoadIndex()
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out["a"].Key)
	assert.Equal(t, int64(10), out["a"].Size)
	assert.Equal(t, int64(64), out["a"].DiskSize)
	assert.Equal(t, int64(2), out["a"].HitCount)
	assert.True(t, in["a"].Expiry.Equal(out["a"].Expiry))
	assert.True(t, out["b"].Expiry.IsZero(), "no expiry must survive as zero")
	assert.False(t, out["b"].Expired(clock.now.Add(100*365*24*time.Hour)))
}

func TestLoadIndexCorrupt(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), indexFileName), []byte{0xc1, 0x00, 0x13}, 0o644))
	idx, err := s.LoadIndex()
	assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)
	assert.Empty(t, idx)
}

func TestReconcileDropsMissingAndResized(t *testing.T) {
	s, _ := newTestStore(t)
	n, err := s.Save("present", Record{Data: []byte("here")})
	require.NoError(t, err)
	m, err := s.Save("resized", Record{Data: []byte("here too")})
	require.NoError(t, err)

	index := map[string]IndexEntry{
		"present": {Size: 4, DiskSize: n},
		"missing": {Size: 4, DiskSize: 100},
		"resized": {Size: 8, DiskSize: m + 1},
	}
	require.NoError(t, s.SaveIndex(index))
	backdate(t, s.Path("present"), s.Path("resized"))
	res, err := s.Reconcile(index)
	require.NoError(t, err)
	assert.Contains(t, res.Entries, "present")
	assert.NotContains(t, res.Entries, "missing")
	assert.Equal(t, 2, res.Dropped)

	// the resized file is valid on its own, so it comes back as an orphan
	assert.Contains(t, res.Entries, "resized")
	assert.Equal(t, m, res.Entries["resized"].DiskSize)
	assert.Equal(t, 1, res.Adopted)
}

// backdate moves the modification time of paths an hour before the index
// file was written.
func backdate(t *testing.T, paths ...string) {
	t.Helper()
	info, err := os.Stat(paths[0])
	require.NoError(t, err)
	old := info.ModTime().Add(-time.Hour)
	for _, p := range paths {
		require.NoError(t, os.Chtimes(p, old, old))
	}
}

// touchAfterIndex moves the modification time of path past the index file's.
func touchAfterIndex(t *testing.T, s *Store, path string) {
	t.Helper()
	info, err := os.Stat(filepath.Join(s.Dir(), indexFileName))
	require.NoError(t, err)
	later := info.ModTime().Add(time.Second)
	require.NoError(t, os.Chtimes(path, later, later))
}

func TestReconcileTrustsIndexForOlderFiles(t *testing.T) {
	s, clock := newTestStore(t)
	n, err := s.Save("tok", Record{Data: []byte("v"), Expiry: clock.now.Add(10 * time.Hour)})
	require.NoError(t, err)
	index := map[string]IndexEntry{
		"tok": {Size: 1, DiskSize: n, Expiry: clock.now.Add(time.Hour), HitCount: 7},
	}
	require.NoError(t, s.SaveIndex(index))
	backdate(t, s.Path("tok"))

	res, err := s.Reconcile(index)
	require.NoError(t, err)
	require.Contains(t, res.Entries, "tok")
	assert.True(t, res.Entries["tok"].Expiry.Equal(clock.now.Add(time.Hour)), "stat-only path keeps the indexed metadata")
	assert.Equal(t, int64(7), res.Entries["tok"].HitCount)
	assert.Zero(t, res.Refreshed)
}

func TestReconcileRereadsFilesWrittenAfterIndex(t *testing.T) {
	s, clock := newTestStore(t)
	n, err := s.Save("tok", Record{Data: []byte("v"), Expiry: clock.now.Add(time.Hour)})
	require.NoError(t, err)
	index := map[string]IndexEntry{
		"tok": {Size: 1, DiskSize: n, Expiry: clock.now.Add(time.Hour)},
	}
	require.NoError(t, s.SaveIndex(index))

	// rewritten with a longer ttl after the flush
	_, err = s.Save("tok", Record{Data: []byte("w"), Expiry: clock.now.Add(10 * time.Hour)})
	require.NoError(t, err)
	touchAfterIndex(t, s, s.Path("tok"))

	clock.now = clock.now.Add(2 * time.Hour)
	res, err := s.Reconcile(index)
	require.NoError(t, err)
	require.Contains(t, res.Entries, "tok")
	assert.True(t, res.Entries["tok"].Expiry.Equal(clock.now.Add(8*time.Hour)))
	assert.Equal(t, 1, res.Refreshed)
	assert.Zero(t, res.Dropped)
}

func TestReconcileDeletesRewrittenExpiredFiles(t *testing.T) {
	s, clock := newTestStore(t)
	n, err := s.Save("tok", Record{Data: []byte("v"), Expiry: clock.now.Add(10 * time.Hour)})
	require.NoError(t, err)
	index := map[string]IndexEntry{
		"tok": {Size: 1, DiskSize: n, Expiry: clock.now.Add(10 * time.Hour)},
	}
	require.NoError(t, s.SaveIndex(index))

	// rewritten with a shorter ttl after the flush
	_, err = s.Save("tok", Record{Data: []byte("w"), Expiry: clock.now.Add(time.Hour)})
	require.NoError(t, err)
	touchAfterIndex(t, s, s.Path("tok"))

	clock.now = clock.now.Add(2 * time.Hour)
	res, err := s.Reconcile(index)
	require.NoError(t, err)
	assert.NotContains(t, res.Entries, "tok")
	assert.Equal(t, 1, res.Dropped)
	_, statErr := os.Stat(s.Path("tok"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestReconcileAdoptsValidOrphans(t *testing.T) {
	s, clock := newTestStore(t)
	n, err := s.Save("orphan", Record{Data: []byte("payload"), LastAccess: clock.now, HitCount: 5})
	require.NoError(t, err)

	res, err := s.Reconcile(map[string]IndexEntry{})
	require.NoError(t, err)
	require.Contains(t, res.Entries, "orphan")
	e := res.Entries["orphan"]
	assert.Equal(t, int64(len("payload")), e.Size)
	assert.Equal(t, n, e.DiskSize)
	assert.Equal(t, int64(5), e.HitCount)
	assert.Equal(t, 1, res.Adopted)
	assert.Zero(t, res.Purged)
}

func TestReconcilePurgesInvalidFiles(t *testing.T) {
	s, clock := newTestStore(t)

	// expired orphan
	_, err := s.Save("stale", Record{Data: []byte("x"), Expiry: clock.now.Add(-time.Second)})
	require.NoError(t, err)

	// garbage in a record-shaped file
	junk := filepath.Join(s.Dir(), dataDirName, "ab", "abababababababab"+recordExt)
	require.NoError(t, os.MkdirAll(filepath.Dir(junk), 0o755))
	require.NoError(t, os.WriteFile(junk, []byte("not a record"), 0o644))

	// valid record stored under the wrong name
	_, err = s.Save("moved", Record{Data: []byte("y")})
	require.NoError(t, err)
	wrong := filepath.Join(s.Dir(), dataDirName, "cd", "cdcdcdcdcdcdcdcd"+recordExt)
	require.NoError(t, os.MkdirAll(filepath.Dir(wrong), 0o755))
	require.NoError(t, os.Rename(s.Path("moved"), wrong))

	// interrupted write
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), tempDirName, "partial"), []byte("half"), 0o644))

	res, err := s.Reconcile(map[string]IndexEntry{})
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
	assert.Equal(t, 4, res.Purged)
	assert.Zero(t, res.Adopted)

	for _, p := range []string{s.Path("stale"), junk, wrong} {
		_, statErr := os.Stat(p)
		assert.True(t, os.IsNotExist(statErr), p)
	}
	temps, err := os.ReadDir(filepath.Join(s.Dir(), tempDirName))
	require.NoError(t, err)
	assert.Empty(t, temps)
}

func TestReconcileIgnoresForeignFiles(t *testing.T) {
	s, _ := newTestStore(t)
	readme := filepath.Join(s.Dir(), dataDirName, "README")
	require.NoError(t, os.WriteFile(readme, []byte("hi"), 0o644))

	res, err := s.Reconcile(nil)
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
	_, statErr := os.Stat(readme)
	assert.NoError(t, statErr)
}
