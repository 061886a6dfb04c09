package filter

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rverma/cbcuckoofilter/internal/logging"
)

// cbcfSlot is the single-struct slot representation spec.md §9
// recommends in place of two parallel arrays: the stored fingerprint and
// the original key that produced it, kept together so they can never
// drift out of lockstep.
type cbcfSlot struct {
	fp  uint32
	key []byte
}

// CBCuckooFilter is the Configurable-Bucket Cuckoo filter: a cuckoo
// filter that stores long (F-bit) fingerprints in buckets that are not
// yet full and short (f-bit) fingerprints in buckets that are full,
// trading fingerprint width for occupancy. This is the core of the
// package — see spec.md §4.D.
type CBCuckooFilter struct {
	hp  HashProvider
	rng *rand.Rand

	numBuckets uint32
	bucketSize uint32
	shortBits  uint8 // f
	longBits   uint8 // F = f + floor(f/3)
	maxKicks   uint32

	buckets  [][]cbcfSlot
	sBits    []uint64 // packed: bit set = unfilled (long fingerprints)
	n        uint64
	keyCodec func([]byte) []byte

	logCtx context.Context

	createdAt    time.Time
	lastModified time.Time
}

// CBCFStats is a point-in-time snapshot, following the teacher's
// GetStats()-snapshot convention.
type CBCFStats struct {
	NumBuckets      uint32
	BucketSize      uint32
	ShortBits       uint8
	LongBits        uint8
	N               uint64
	Occupancy       float64
	ExpectedFPR     float64
	FullBuckets     uint32
	CreatedAt       time.Time
	LastModified    time.Time
}

// NewCBCuckooFilter constructs a CBCuckooFilter using the default
// XXHashProvider, a time-seeded PRNG, and an identity key codec. Fails
// with ErrInvalidArgument if any of numBuckets, bucketSize,
// fingerprintBits, maxKicks is < 1.
func NewCBCuckooFilter(numBuckets, bucketSize uint32, fingerprintBits uint8, maxKicks uint32) (*CBCuckooFilter, error) {
	return NewCBCuckooFilterWithHash(numBuckets, bucketSize, fingerprintBits, maxKicks, XXHashProvider{}, rand.New(rand.NewSource(time.Now().UnixNano())), nil)
}

// NewCBCuckooFilterWithHash is NewCBCuckooFilter with an explicit
// HashProvider, PRNG, and key codec. keyCodec converts a key to its
// canonical retained byte representation before every hash computation
// and before it is stored alongside a fingerprint — per spec.md §9, so
// callers can retain a digest instead of a full key. A nil keyCodec
// keeps the key as-is.
func NewCBCuckooFilterWithHash(numBuckets, bucketSize uint32, fingerprintBits uint8, maxKicks uint32, hp HashProvider, rng *rand.Rand, keyCodec func([]byte) []byte) (*CBCuckooFilter, error) {
	if numBuckets < 1 {
		return nil, invalidArgument("new_cbcf", "num_buckets must be >= 1")
	}
	if bucketSize < 1 {
		return nil, invalidArgument("new_cbcf", "bucket_size must be >= 1")
	}
	if fingerprintBits < 1 {
		return nil, invalidArgument("new_cbcf", "fingerprint_bits must be >= 1")
	}
	if maxKicks < 1 {
		return nil, invalidArgument("new_cbcf", "max_kicks must be >= 1")
	}
	if keyCodec == nil {
		keyCodec = func(key []byte) []byte { return key }
	}

	now := time.Now()
	numWords := (numBuckets + 63) / 64
	sBits := make([]uint64, numWords)
	for i := range sBits {
		sBits[i] = ^uint64(0) // all buckets start unfilled (long), per spec.md §3
	}
	// Clear any bits past numBuckets in the last word so bit-scans that
	// iterate by word boundary don't see phantom set buckets.
	if rem := numBuckets % 64; rem != 0 {
		sBits[numWords-1] &= (uint64(1) << rem) - 1
	}

	return &CBCuckooFilter{
		hp:           hp,
		rng:          rng,
		numBuckets:   numBuckets,
		bucketSize:   bucketSize,
		shortBits:    fingerprintBits,
		longBits:     fingerprintBits + fingerprintBits/3,
		maxKicks:     maxKicks,
		buckets:      make([][]cbcfSlot, numBuckets),
		sBits:        sBits,
		keyCodec:     keyCodec,
		logCtx:       context.Background(),
		createdAt:    now,
		lastModified: now,
	}, nil
}

// SetLogContext sets the context used to tag scrub diagnostics emitted
// through internal/logging, so a harness run can correlate multiple
// scrub calls with a single run ID (see SPEC_FULL.md §4.E/§4.G).
func (c *CBCuckooFilter) SetLogContext(ctx context.Context) {
	c.logCtx = ctx
}

func (c *CBCuckooFilter) getS(i uint32) bool {
	return c.sBits[i/64]&(1<<(i%64)) != 0
}

func (c *CBCuckooFilter) setS(i uint32, unfilled bool) {
	if unfilled {
		c.sBits[i/64] |= 1 << (i % 64)
	} else {
		c.sBits[i/64] &^= 1 << (i % 64)
	}
}

func (c *CBCuckooFilter) altBucket(i uint32, shortFP uint32) uint32 {
	return (i ^ hash2(c.hp, shortFP)) % c.numBuckets
}

// otherBucket returns the candidate bucket of key that is not i. Its
// candidates are i1 = h1(key) mod B and i2 = altBucket(i1, sfp); when B
// is not a power of two, altBucket(i2, sfp) need not equal i1, so the
// retained key is used to recover i1.
func (c *CBCuckooFilter) otherBucket(i uint32, key []byte, sfp uint32) uint32 {
	i1 := hash1(c.hp, key) % c.numBuckets
	if i == i1 {
		return c.altBucket(i1, sfp)
	}
	return i1
}

// tryPlace attempts to place (sfp, key) into bucket i. If the bucket has
// b-1 elements, inserting would make it full: every existing long
// fingerprint is rewritten as the short fingerprint of its retained key,
// sfp is appended, and s[i] flips to filled. Otherwise the long
// fingerprint of key is computed fresh and appended, leaving the bucket
// unfilled. Returns false if the bucket is already full.
func (c *CBCuckooFilter) tryPlace(i uint32, sfp uint32, key []byte) bool {
	if uint32(len(c.buckets[i])) >= c.bucketSize {
		return false
	}
	if uint32(len(c.buckets[i])) == c.bucketSize-1 {
		c.transitionToFilled(i, sfp, key)
	} else {
		lfp := fprint(c.hp, key, c.longBits)
		c.buckets[i] = append(c.buckets[i], cbcfSlot{fp: lfp, key: cloneBytes(key)})
	}
	c.n++
	c.lastModified = time.Now()
	return true
}

// transitionToFilled converts every existing slot in bucket i from its
// long fingerprint to the short fingerprint of its retained key, appends
// the new (sfp, key) pair, and marks the bucket filled (s[i] = 0).
func (c *CBCuckooFilter) transitionToFilled(i uint32, sfp uint32, key []byte) {
	for j := range c.buckets[i] {
		c.buckets[i][j].fp = fprint(c.hp, c.buckets[i][j].key, c.shortBits)
	}
	c.buckets[i] = append(c.buckets[i], cbcfSlot{fp: sfp, key: cloneBytes(key)})
	c.setS(i, false)
}

// transitionToUnfilled rewrites every remaining slot in bucket i from
// its short fingerprint to the long fingerprint of its retained key and
// marks the bucket unfilled (s[i] = 1). Called after a delete frees a
// slot in a previously full bucket.
func (c *CBCuckooFilter) transitionToUnfilled(i uint32) {
	for j := range c.buckets[i] {
		c.buckets[i][j].fp = fprint(c.hp, c.buckets[i][j].key, c.longBits)
	}
	c.setS(i, true)
}

// cbcfDisplaced carries the fingerprint/key pair that ended up with
// nowhere to go when Insert exhausts max_kicks, per spec.md §9 open
// question 1 — the caller MAY use it to attempt recovery.
type cbcfDisplaced struct {
	Fingerprint uint32
	Key         []byte
}

// Insert places key into the filter, transitioning buckets between
// short- and long-fingerprint state as needed and evicting along a
// random walk when both candidate buckets are full, per spec.md §4.D.
//
// On success ok is true. On failure ok is false; the filter has already
// been mutated along the eviction chain with no net change in stored
// item count, and displaced carries the (fingerprint, key) pair that
// ended up homeless.
func (c *CBCuckooFilter) Insert(key []byte) (ok bool, displaced cbcfDisplaced) {
	return c.insertEncoded(c.keyCodec(key))
}

// insertEncoded is Insert for a key that has already been through keyCodec.
func (c *CBCuckooFilter) insertEncoded(key []byte) (ok bool, displaced cbcfDisplaced) {
	sfp := fprint(c.hp, key, c.shortBits)
	i1 := hash1(c.hp, key) % c.numBuckets
	i2 := c.altBucket(i1, sfp)

	t := i1
	if len(c.buckets[i1]) >= len(c.buckets[i2]) {
		t = i2 // tie-break to i2 on equal bucket length, per spec.md §4.D/§9
	}

	if c.tryPlace(t, sfp, key) {
		return true, cbcfDisplaced{}
	}

	e := i1
	if c.rng.Intn(2) == 1 {
		e = i2
	}

	for kicks := uint32(0); kicks < c.maxKicks; kicks++ {
		if c.tryPlace(e, sfp, key) {
			return true, cbcfDisplaced{}
		}

		last := len(c.buckets[e]) - 1
		evictedFP := c.buckets[e][last].fp
		evictedKey := c.buckets[e][last].key
		c.buckets[e] = c.buckets[e][:last]
		c.buckets[e] = append(c.buckets[e], cbcfSlot{fp: sfp, key: cloneBytes(key)})

		sfp = evictedFP
		key = evictedKey
		e = c.otherBucket(e, key, sfp)
	}

	return false, cbcfDisplaced{Fingerprint: sfp, Key: cloneBytes(key)}
}

// Lookup returns true iff key's fingerprint is present in either
// candidate bucket, reading long or short fingerprints according to
// each bucket's current state.
func (c *CBCuckooFilter) Lookup(key []byte) bool {
	key = c.keyCodec(key)
	sfp := fprint(c.hp, key, c.shortBits)
	lfp := fprint(c.hp, key, c.longBits)
	i1 := hash1(c.hp, key) % c.numBuckets
	i2 := c.altBucket(i1, sfp)

	return c.bucketHas(i1, sfp, lfp) || c.bucketHas(i2, sfp, lfp)
}

func (c *CBCuckooFilter) bucketHas(i uint32, sfp, lfp uint32) bool {
	want := lfp
	if !c.getS(i) {
		want = sfp
	}
	for _, slot := range c.buckets[i] {
		if slot.fp == want {
			return true
		}
	}
	return false
}

// Delete removes key from its first candidate bucket if present, else
// its second. A full bucket that loses an element transitions back to
// unfilled/long-fingerprint state. Returns ErrNotFound if key is present
// in neither bucket's retained keys.
func (c *CBCuckooFilter) Delete(key []byte) error {
	key = c.keyCodec(key)
	sfp := fprint(c.hp, key, c.shortBits)
	lfp := fprint(c.hp, key, c.longBits)
	i1 := hash1(c.hp, key) % c.numBuckets
	i2 := c.altBucket(i1, sfp)

	for _, i := range [2]uint32{i1, i2} {
		if c.deleteAt(i, sfp, lfp, key) {
			c.n--
			c.lastModified = time.Now()
			return nil
		}
	}
	return notFound("delete")
}

func (c *CBCuckooFilter) deleteAt(i uint32, sfp, lfp uint32, key []byte) bool {
	unfilled := c.getS(i)
	want := lfp
	if !unfilled {
		want = sfp
	}

	hasFP := false
	keyIdx := -1
	for j, slot := range c.buckets[i] {
		if slot.fp == want {
			hasFP = true
		}
		if keyIdx == -1 && bytesEqual(slot.key, key) {
			keyIdx = j
		}
	}
	if !hasFP || keyIdx == -1 {
		return false
	}

	c.buckets[i] = append(c.buckets[i][:keyIdx], c.buckets[i][keyIdx+1:]...)
	if !unfilled {
		c.transitionToUnfilled(i)
	}
	return true
}

// ExpectedFPR returns 8 * (l_frac/2^F + s_frac/2^f), per spec.md §4.D,
// where shorts_count counts slots only in currently-full buckets.
func (c *CBCuckooFilter) ExpectedFPR() float64 {
	shortsCount := uint64(0)
	for i := uint32(0); i < c.numBuckets; i++ {
		if !c.getS(i) {
			shortsCount += uint64(c.bucketSize)
		}
	}
	total := float64(c.numBuckets) * float64(c.bucketSize)
	sFrac := float64(shortsCount) / total
	lFrac := float64(c.n-shortsCount) / total
	return 8 * (lFrac/math.Pow(2, float64(c.longBits)) + sFrac/math.Pow(2, float64(c.shortBits)))
}

// Occupancy returns n / (numBuckets * bucketSize).
func (c *CBCuckooFilter) Occupancy() float64 {
	return float64(c.n) / (float64(c.numBuckets) * float64(c.bucketSize))
}

// Stats returns a snapshot of the filter's sizing and usage counters.
func (c *CBCuckooFilter) Stats() CBCFStats {
	full := uint32(0)
	for i := uint32(0); i < c.numBuckets; i++ {
		if !c.getS(i) {
			full++
		}
	}
	return CBCFStats{
		NumBuckets:   c.numBuckets,
		BucketSize:   c.bucketSize,
		ShortBits:    c.shortBits,
		LongBits:     c.longBits,
		N:            c.n,
		Occupancy:    c.Occupancy(),
		ExpectedFPR:  c.ExpectedFPR(),
		FullBuckets:  full,
		CreatedAt:    c.createdAt,
		LastModified: c.lastModified,
	}
}

// Scrub attempts to restore full buckets to the unfilled/long-fingerprint
// state, lowering ExpectedFPR without changing the stored key set, per
// spec.md §4.D.
//
// If occupancy is 1.0, Scrub aborts immediately with ErrScrubAborted. If
// occupancy exceeds 0.95 a warning is logged (scrubbing a near-full
// filter can be slow) but the pass still runs. For each currently-full
// bucket, in index order, one element is popped and the bucket's
// remaining entries rewritten as long fingerprints; the popped element
// is then re-homed by a bounded constrained walk (spec.md §4.D: up to 20
// hops, landing only in a bucket with >= 2 free slots) and, failing
// that, an unbounded relaxed walk that may refill a bucket. Scrub never
// returns an error once past the occupancy check; a relaxed walk that
// exceeds its production hop guard falls back to re-inserting the
// popped element through the ordinary Insert path so it is never
// silently dropped.
func (c *CBCuckooFilter) Scrub() error {
	if c.Occupancy() >= 1.0 {
		return scrubAborted()
	}
	if c.Occupancy() > 0.95 {
		logging.Warn(c.logCtx, logging.ComponentCBCF, logging.ActionScrub,
			"scrubbing a filter above 0.95 occupancy may be slow",
			map[string]interface{}{"occupancy": c.Occupancy()})
	}

	stopTimer := logging.StartTimer(c.logCtx, logging.ComponentCBCF, logging.ActionScrub, "scrub pass complete")
	defer stopTimer()

	for i := uint32(0); i < c.numBuckets; i++ {
		if c.getS(i) || len(c.buckets[i]) == 0 {
			continue
		}

		last := len(c.buckets[i]) - 1
		poppedKey := cloneBytes(c.buckets[i][last].key)
		c.buckets[i] = c.buckets[i][:last]
		c.n--
		c.transitionToUnfilled(i)

		if c.scrubConstrainedWalk(i, poppedKey) {
			continue
		}
		c.scrubRelaxedWalk(i, poppedKey)
	}
	return nil
}

// scrubConstrainedWalk walks up to 20 cuckoo hops from origin looking
// for a bucket with at least 2 free slots (len < bucketSize-1), so
// placing key there cannot itself refill a bucket. Returns true and
// places key as a long fingerprint on success.
func (c *CBCuckooFilter) scrubConstrainedWalk(origin uint32, key []byte) bool {
	if c.bucketSize < 2 {
		return false // no bucket can ever have >= 2 free slots
	}
	walkFP := fprint(c.hp, key, c.shortBits)
	current := origin
	for hop := 0; hop < 20; hop++ {
		current = c.otherBucket(current, key, walkFP)
		if uint32(len(c.buckets[current])) < c.bucketSize-1 {
			lfp := fprint(c.hp, key, c.longBits)
			c.buckets[current] = append(c.buckets[current], cbcfSlot{fp: lfp, key: cloneBytes(key)})
			c.n++
			c.lastModified = time.Now()
			return true
		}
	}
	return false
}

// scrubRelaxedWalk continues hopping with no bound on the free-slot
// count a candidate bucket must have — landing in a bucket at
// bucketSize-1 is accepted and refills it (Unfilled -> Filled). Per
// spec.md §9's production guidance this carries a 10*numBuckets hop
// guard; if exceeded, key is re-homed through the ordinary Insert path
// instead of looping indefinitely, and a warning is logged either way.
func (c *CBCuckooFilter) scrubRelaxedWalk(origin uint32, key []byte) {
	walkFP := fprint(c.hp, key, c.shortBits)
	current := origin
	guard := 10 * c.numBuckets
	for hop := uint32(0); hop < guard; hop++ {
		current = c.otherBucket(current, key, walkFP)
		if c.tryPlace(current, walkFP, key) {
			return
		}
	}

	logging.Warn(c.logCtx, logging.ComponentCBCF, logging.ActionScrub,
		"scrub relaxed walk exceeded hop guard, re-homing via ordinary insert",
		map[string]interface{}{"hop_guard": guard})
	c.insertEncoded(key)
}

// VerifyState asserts every invariant spec.md §3/§8 requires and returns
// the first violation found, or nil. It is a debug accessor, not part of
// the operational contract — callers should not branch on its result in
// production code paths.
func (c *CBCuckooFilter) VerifyState() error {
	for i := uint32(0); i < c.numBuckets; i++ {
		bucket := c.buckets[i]
		for j, slot := range bucket {
			i1 := hash1(c.hp, slot.key) % c.numBuckets
			i2 := c.altBucket(i1, fprint(c.hp, slot.key, c.shortBits))
			if i != i1 && i != i2 {
				return fmt.Errorf("bucket %d slot %d: key's candidate buckets are %d and %d", i, j, i1, i2)
			}
		}
		if c.getS(i) {
			if uint32(len(bucket)) >= c.bucketSize {
				return fmt.Errorf("bucket %d: s=1 but len=%d >= bucketSize=%d", i, len(bucket), c.bucketSize)
			}
			for j, slot := range bucket {
				want := fprint(c.hp, slot.key, c.longBits)
				if slot.fp != want {
					return fmt.Errorf("bucket %d slot %d: s=1 but fingerprint %d != long fingerprint %d", i, j, slot.fp, want)
				}
			}
		} else {
			if uint32(len(bucket)) != c.bucketSize {
				return fmt.Errorf("bucket %d: s=0 but len=%d != bucketSize=%d", i, len(bucket), c.bucketSize)
			}
			for j, slot := range bucket {
				want := fprint(c.hp, slot.key, c.shortBits)
				if slot.fp != want {
					return fmt.Errorf("bucket %d slot %d: s=0 but fingerprint %d != short fingerprint %d", i, j, slot.fp, want)
				}
			}
		}
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
