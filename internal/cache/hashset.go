package cache

import (
	"hash/fnv"
	"time"
)

const hashSetShards = 16

// HashSet remembers recently seen content hashes. It is sharded by the
// leading hex digit of the hash, which is uniformly distributed for SHA-256
// identifiers; other keys fall back to FNV.
type HashSet struct {
	shards [hashSetShards]*LRU[string, struct{}]
}

// NewHashSet returns a set holding roughly capacity hashes in total.
func NewHashSet(name string, capacity int, ttl time.Duration) *HashSet {
	perShard := capacity / hashSetShards
	if perShard < 1 {
		perShard = 1
	}
	s := &HashSet{}
	for i := range s.shards {
		s.shards[i] = NewLRU[string, struct{}](name, perShard, ttl)
	}
	return s
}

func (s *HashSet) shard(hash string) *LRU[string, struct{}] {
	if hash != "" {
		if i, ok := hexDigit(hash[0]); ok {
			return s.shards[i]
		}
	}
	h := fnv.New32a()
	h.Write([]byte(hash))
	return s.shards[h.Sum32()%hashSetShards]
}

func hexDigit(b byte) (int, bool) {
	switch {
	case b >= '0' && b <= '9':
		return int(b - '0'), true
	case b >= 'a' && b <= 'f':
		return int(b-'a') + 10, true
	}
	return 0, false
}

// Seen reports whether hash was added and has not been evicted.
func (s *HashSet) Seen(hash string) bool {
	_, ok := s.shard(hash).Get(hash)
	return ok
}

// Add records hash.
func (s *HashSet) Add(hash string) {
	s.shard(hash).Put(hash, struct{}{})
}

// Forget drops hash.
func (s *HashSet) Forget(hash string) {
	s.shard(hash).Remove(hash)
}

// Len returns the number of hashes held across shards.
func (s *HashSet) Len() int {
	total := 0
	for _, sh := range s.shards {
		total += sh.Len()
	}
	return total
}
