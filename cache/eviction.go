package cache

import (
	"sort"
	"time"
)

// Candidate describes one resident entry considered for eviction from a tier.
type Candidate struct {
	Key        string
	Size       int64
	LastAccess time.Time
	HitCount   int64
}

// OrderVictims returns a copy of candidates sorted in eviction order: least
// recently accessed first, then lowest hit count, then key.
func OrderVictims(candidates []Candidate) []Candidate {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.LastAccess.Equal(b.LastAccess) {
			return a.LastAccess.Before(b.LastAccess)
		}
		if a.HitCount != b.HitCount {
			return a.HitCount < b.HitCount
		}
		return a.Key < b.Key
	})
	return ordered
}

// SelectVictims returns the keys of the shortest prefix of the eviction order
// whose sizes add up to at least bytesToFree. When the candidates cannot free
// that much, every candidate is returned.
func SelectVictims(candidates []Candidate, bytesToFree int64) []string {
	if bytesToFree <= 0 || len(candidates) == 0 {
		return nil
	}
	var (
		victims []string
		freed   int64
	)
	for _, c := range OrderVictims(candidates) {
		victims = append(victims, c.Key)
		freed += c.Size
		if freed >= bytesToFree {
			break
		}
	}
	return victims
}
