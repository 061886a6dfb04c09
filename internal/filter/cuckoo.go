package filter

import (
	"math"
	"math/rand"
	"time"
)

// CuckooFilter is an array of fixed-capacity buckets of fingerprints
// with partial-key cuckoo hashing and random-walk eviction, per
// spec.md §3/§4.C. Unlike BloomFilter it supports deletion; unlike
// CBCuckooFilter every bucket stores fixed-width fingerprints and no
// original keys are retained.
type CuckooFilter struct {
	hp  HashProvider
	rng *rand.Rand

	numBuckets      uint32
	bucketSize      uint32
	fingerprintBits uint8
	maxKicks        uint32

	buckets [][]uint32 // each slice has len <= bucketSize
	n       uint64

	createdAt    time.Time
	lastModified time.Time
}

// CuckooStats is a point-in-time snapshot, following the teacher's
// GetStats()-snapshot convention.
type CuckooStats struct {
	NumBuckets      uint32
	BucketSize      uint32
	FingerprintBits uint8
	N               uint64
	Occupancy       float64
	ExpectedFPR     float64
	CreatedAt       time.Time
	LastModified    time.Time
}

// NewCuckooFilter constructs a CuckooFilter using the default
// XXHashProvider and a time-seeded PRNG. Fails with ErrInvalidArgument
// if any of numBuckets, bucketSize, fingerprintBits, maxKicks is < 1.
func NewCuckooFilter(numBuckets, bucketSize uint32, fingerprintBits uint8, maxKicks uint32) (*CuckooFilter, error) {
	return NewCuckooFilterWithHash(numBuckets, bucketSize, fingerprintBits, maxKicks, XXHashProvider{}, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewCuckooFilterWithHash is NewCuckooFilter with an explicit
// HashProvider and PRNG, so tests can pin both the hash family and the
// eviction random-walk seed for determinism (spec.md §8 property 2).
func NewCuckooFilterWithHash(numBuckets, bucketSize uint32, fingerprintBits uint8, maxKicks uint32, hp HashProvider, rng *rand.Rand) (*CuckooFilter, error) {
	if numBuckets < 1 {
		return nil, invalidArgument("new_cuckoo", "num_buckets must be >= 1")
	}
	if bucketSize < 1 {
		return nil, invalidArgument("new_cuckoo", "bucket_size must be >= 1")
	}
	if fingerprintBits < 1 {
		return nil, invalidArgument("new_cuckoo", "fingerprint_bits must be >= 1")
	}
	if maxKicks < 1 {
		return nil, invalidArgument("new_cuckoo", "max_kicks must be >= 1")
	}

	now := time.Now()
	return &CuckooFilter{
		hp:              hp,
		rng:             rng,
		numBuckets:      numBuckets,
		bucketSize:      bucketSize,
		fingerprintBits: fingerprintBits,
		maxKicks:        maxKicks,
		buckets:         make([][]uint32, numBuckets),
		createdAt:       now,
		lastModified:    now,
	}, nil
}

func (c *CuckooFilter) altBucket(i uint32, fp uint32) uint32 {
	return (i ^ hash2(c.hp, fp)) % c.numBuckets
}

// Insert computes the fingerprint and candidate buckets for key and
// tries to place it, evicting along a random walk of up to max_kicks
// hops when both candidate buckets are full, per spec.md §4.C.
//
// On success ok is true. On failure ok is false and the filter has
// already been mutated along the eviction chain without any net change
// in stored item count (spec.md §4.C step 5, §9 open question 1);
// displaced carries the fingerprint that ended up with nowhere to go,
// so a caller can attempt its own recovery instead of losing it
// silently.
func (c *CuckooFilter) Insert(key []byte) (ok bool, displaced uint32) {
	fp := fprint(c.hp, key, c.fingerprintBits)
	i1 := hash1(c.hp, key) % c.numBuckets
	i2 := c.altBucket(i1, fp)

	if c.appendTo(i1, fp) {
		return true, 0
	}
	if c.appendTo(i2, fp) {
		return true, 0
	}

	e := i1
	if c.rng.Intn(2) == 1 {
		e = i2
	}

	for kicks := uint32(0); kicks < c.maxKicks; kicks++ {
		if c.appendTo(e, fp) {
			return true, 0
		}
		slot := c.rng.Intn(len(c.buckets[e]))
		evicted := c.buckets[e][slot]
		c.buckets[e][slot] = fp
		fp = evicted
		e = c.altBucket(e, fp)
	}

	return false, fp
}

// Lookup returns true iff fp is present in either candidate bucket.
func (c *CuckooFilter) Lookup(key []byte) bool {
	fp := fprint(c.hp, key, c.fingerprintBits)
	i1 := hash1(c.hp, key) % c.numBuckets
	i2 := c.altBucket(i1, fp)
	return contains(c.buckets[i1], fp) || contains(c.buckets[i2], fp)
}

// Delete removes one occurrence of key's fingerprint from its first
// candidate bucket, falling back to the second. Returns ErrNotFound if
// neither bucket holds it.
func (c *CuckooFilter) Delete(key []byte) error {
	fp := fprint(c.hp, key, c.fingerprintBits)
	i1 := hash1(c.hp, key) % c.numBuckets
	i2 := c.altBucket(i1, fp)

	if removeFirst(&c.buckets[i1], fp) {
		c.n--
		c.lastModified = time.Now()
		return nil
	}
	if removeFirst(&c.buckets[i2], fp) {
		c.n--
		c.lastModified = time.Now()
		return nil
	}
	return notFound("delete")
}

// ExpectedFPR returns 8 * occupancy / 2^fingerprintBits, per spec.md §4.C.
func (c *CuckooFilter) ExpectedFPR() float64 {
	return 8 * c.Occupancy() / math.Pow(2, float64(c.fingerprintBits))
}

// Occupancy returns n / (numBuckets * bucketSize).
func (c *CuckooFilter) Occupancy() float64 {
	return float64(c.n) / (float64(c.numBuckets) * float64(c.bucketSize))
}

// Stats returns a snapshot of the filter's sizing and usage counters.
func (c *CuckooFilter) Stats() CuckooStats {
	return CuckooStats{
		NumBuckets:      c.numBuckets,
		BucketSize:      c.bucketSize,
		FingerprintBits: c.fingerprintBits,
		N:               c.n,
		Occupancy:       c.Occupancy(),
		ExpectedFPR:     c.ExpectedFPR(),
		CreatedAt:       c.createdAt,
		LastModified:    c.lastModified,
	}
}

func (c *CuckooFilter) appendTo(bucket uint32, fp uint32) bool {
	if uint32(len(c.buckets[bucket])) >= c.bucketSize {
		return false
	}
	c.buckets[bucket] = append(c.buckets[bucket], fp)
	c.n++
	c.lastModified = time.Now()
	return true
}

func contains(bucket []uint32, fp uint32) bool {
	for _, v := range bucket {
		if v == fp {
			return true
		}
	}
	return false
}

func removeFirst(bucket *[]uint32, fp uint32) bool {
	for i, v := range *bucket {
		if v == fp {
			*bucket = append((*bucket)[:i], (*bucket)[i+1:]...)
			return true
		}
	}
	return false
}
