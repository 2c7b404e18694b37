package disk

import (
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrNotFound is returned when no record exists for a key.
	ErrNotFound = errors.New("disk: record not found")
	// ErrCorrupt is returned when a record or index file cannot be decoded or
	// fails its checksum.
	ErrCorrupt = errors.New("disk: record is corrupt")
	// ErrExpired is returned when a record's stored expiry has passed.
	ErrExpired = errors.New("disk: record has expired")
)

const (
	recordMagic   = "TCR1"
	recordVersion = 1
)

// Record is the persisted form of a cache entry.
type Record struct {
	Key        string
	Data       []byte
	Expiry     time.Time // zero means the record never expires
	LastAccess time.Time
	HitCount   int64
}

// Expired reports whether the record's expiry is at or before now.
func (r Record) Expired(now time.Time) bool {
	return !r.Expiry.IsZero() && !now.Before(r.Expiry)
}

// envelope is the msgpack document written to a record file. Times are stored
// as unix nanoseconds so a zero value round-trips as "never".
type envelope struct {
	Magic      string `msgpack:"m"`
	Version    int    `msgpack:"v"`
	Key        string `msgpack:"k"`
	Expiry     int64  `msgpack:"e"`
	LastAccess int64  `msgpack:"a"`
	HitCount   int64  `msgpack:"h"`
	Checksum   uint64 `msgpack:"c"`
	Data       []byte `msgpack:"d"`
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func encodeRecord(rec Record) ([]byte, error) {
	return msgpack.Marshal(&envelope{
		Magic:      recordMagic,
		Version:    recordVersion,
		Key:        rec.Key,
		Expiry:     toUnixNano(rec.Expiry),
		LastAccess: toUnixNano(rec.LastAccess),
		HitCount:   rec.HitCount,
		Checksum:   xxhash.Sum64(rec.Data),
		Data:       rec.Data,
	})
}

func decodeRecord(buf []byte) (Record, error) {
	var env envelope
	if err := msgpack.Unmarshal(buf, &env); err != nil {
		return Record{}, errors.Mark(errors.Wrap(err, "decode record"), ErrCorrupt)
	}
	if env.Magic != recordMagic || env.Version != recordVersion {
		return Record{}, errors.Wrapf(ErrCorrupt, "unexpected record header %q v%d", env.Magic, env.Version)
	}
	if env.Key == "" {
		return Record{}, errors.Wrap(ErrCorrupt, "record has no key")
	}
	if xxhash.Sum64(env.Data) != env.Checksum {
		return Record{}, errors.Wrap(ErrCorrupt, "checksum mismatch")
	}
	if env.Data == nil {
		env.Data = []byte{}
	}
	return Record{
		Key:        env.Key,
		Data:       env.Data,
		Expiry:     fromUnixNano(env.Expiry),
		LastAccess: fromUnixNano(env.LastAccess),
		HitCount:   env.HitCount,
	}, nil
}
