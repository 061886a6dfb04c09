package filter

import (
	"math"
	"time"
)

// BloomFilter is a fixed-size bit vector with k-hash insert/query, per
// spec.md §3/§4.B. It never reports false negatives and stores no
// original keys — only the bit vector.
type BloomFilter struct {
	hp HashProvider

	m uint32 // bit-vector length
	k uint32 // number of hash functions
	n uint64 // count of insert calls, duplicates counted

	bits []uint64 // packed bit vector, m bits across ceil(m/64) words

	createdAt    time.Time
	lastModified time.Time
}

// BloomStats is a point-in-time snapshot of a BloomFilter, following the
// teacher's GetStats()-snapshot convention for observability.
type BloomStats struct {
	M            uint32
	K            uint32
	N            uint64
	ExpectedFPR  float64
	CreatedAt    time.Time
	LastModified time.Time
}

// NewBloomFilter constructs a BloomFilter with m bits and k hash
// functions, using the default XXHashProvider. Fails with
// ErrInvalidArgument if m < 1 or k < 1.
func NewBloomFilter(m, k uint32) (*BloomFilter, error) {
	return NewBloomFilterWithHash(m, k, XXHashProvider{})
}

// NewBloomFilterWithHash is NewBloomFilter with an explicit HashProvider,
// for tests that need a deterministic or recording hash.
func NewBloomFilterWithHash(m, k uint32, hp HashProvider) (*BloomFilter, error) {
	if m < 1 {
		return nil, invalidArgument("new_bloom", "m must be >= 1")
	}
	if k < 1 {
		return nil, invalidArgument("new_bloom", "k must be >= 1")
	}

	now := time.Now()
	return &BloomFilter{
		hp:           hp,
		m:            m,
		k:            k,
		bits:         make([]uint64, (m+63)/64),
		createdAt:    now,
		lastModified: now,
	}, nil
}

// Insert sets the k probed bits for key and increments n unconditionally
// — n counts insert calls, not distinct keys (spec.md §9 open question,
// preserved rather than silently fixed).
func (b *BloomFilter) Insert(key []byte) {
	for i := uint32(0); i < b.k; i++ {
		idx := hashK(b.hp, key, i) % b.m
		b.setBit(idx)
	}
	b.n++
	b.lastModified = time.Now()
}

// Lookup returns true iff all k probed bits are set. False negatives are
// impossible; false positives are possible and bounded by ExpectedFPR.
func (b *BloomFilter) Lookup(key []byte) bool {
	for i := uint32(0); i < b.k; i++ {
		idx := hashK(b.hp, key, i) % b.m
		if !b.getBit(idx) {
			return false
		}
	}
	return true
}

// BitAt is a byte-ordered debug accessor over the bit vector, per
// spec.md §4.B.
func (b *BloomFilter) BitAt(i uint32) bool {
	return b.getBit(i)
}

// ExpectedFPR returns (1 - (1 - 1/m)^(k*n))^k, per spec.md §4.B. Because
// n counts all insert calls rather than distinct keys, this overestimates
// the true false-positive rate when duplicates have been inserted.
func (b *BloomFilter) ExpectedFPR() float64 {
	if b.n == 0 {
		return 0
	}
	inner := math.Pow(1-1/float64(b.m), float64(b.k)*float64(b.n))
	return math.Pow(1-inner, float64(b.k))
}

// Stats returns a snapshot of the filter's sizing and usage counters.
func (b *BloomFilter) Stats() BloomStats {
	return BloomStats{
		M:            b.m,
		K:            b.k,
		N:            b.n,
		ExpectedFPR:  b.ExpectedFPR(),
		CreatedAt:    b.createdAt,
		LastModified: b.lastModified,
	}
}

func (b *BloomFilter) setBit(i uint32) {
	b.bits[i/64] |= 1 << (i % 64)
}

func (b *BloomFilter) getBit(i uint32) bool {
	return b.bits[i/64]&(1<<(i%64)) != 0
}
