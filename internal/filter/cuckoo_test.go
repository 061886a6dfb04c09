package filter_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rverma/cbcuckoofilter/internal/filter"
)

// TestCuckooFilterBasic covers scenario S2 from spec.md §8: B=500, b=4,
// f=10. Insert the 500 decimal-ASCII keys "10000".."10499"; all must
// then lookup true, and the measured false-positive rate over
// "3000".."6999" (4000 queries) should be bounded by
// O(8 * occupancy / 2^f).
func TestCuckooFilterBasic(t *testing.T) {
	cf, err := filter.NewCuckooFilter(500, 4, 10, 500)
	if err != nil {
		t.Fatalf("NewCuckooFilter failed: %v", err)
	}

	for i := 10000; i < 10500; i++ {
		ok, _ := cf.Insert([]byte(fmt.Sprintf("%d", i)))
		if !ok {
			t.Fatalf("insert of key %d failed unexpectedly", i)
		}
	}

	for i := 10000; i < 10500; i++ {
		if !cf.Lookup([]byte(fmt.Sprintf("%d", i))) {
			t.Errorf("lookup(%d) should be true after insert", i)
		}
	}

	falsePositives := 0
	queries := 0
	for i := 3000; i < 7000; i++ {
		queries++
		if cf.Lookup([]byte(fmt.Sprintf("%d", i))) {
			falsePositives++
		}
	}

	observed := float64(falsePositives) / float64(queries)
	bound := cf.ExpectedFPR()
	t.Logf("observed FPR=%.5f expected bound=%.5f occupancy=%.3f", observed, bound, cf.Occupancy())

	if observed > bound*4+0.01 {
		t.Errorf("observed FPR %.5f far exceeds expected bound %.5f", observed, bound)
	}
}

// TestCuckooFilterDelete covers scenario S3: B=100, b=4, f=12. Insert
// "0".."299". Delete "0".."199". All remaining keys "200".."299" must
// still lookup true.
func TestCuckooFilterDelete(t *testing.T) {
	cf, err := filter.NewCuckooFilter(100, 4, 12, 500)
	if err != nil {
		t.Fatalf("NewCuckooFilter failed: %v", err)
	}

	for i := 0; i < 300; i++ {
		ok, _ := cf.Insert([]byte(fmt.Sprintf("%d", i)))
		if !ok {
			t.Fatalf("insert of key %d failed unexpectedly", i)
		}
	}

	for i := 0; i < 200; i++ {
		if err := cf.Delete([]byte(fmt.Sprintf("%d", i))); err != nil {
			t.Fatalf("delete of key %d failed: %v", i, err)
		}
	}

	for i := 200; i < 300; i++ {
		if !cf.Lookup([]byte(fmt.Sprintf("%d", i))) {
			t.Errorf("lookup(%d) should still be true after unrelated deletes", i)
		}
	}
}

func TestCuckooFilterDeleteMissingKeyReturnsNotFound(t *testing.T) {
	cf, err := filter.NewCuckooFilter(50, 4, 12, 100)
	if err != nil {
		t.Fatalf("NewCuckooFilter failed: %v", err)
	}

	err = cf.Delete([]byte("never-inserted"))
	if err == nil {
		t.Fatal("expected ErrNotFound deleting a key never inserted")
	}
	if !errors.Is(err, filter.ErrNotFound) {
		t.Errorf("expected errors.Is(err, filter.ErrNotFound), got %v", err)
	}
}

func TestCuckooFilterOccupancyMonotonic(t *testing.T) {
	cf, err := filter.NewCuckooFilter(50, 4, 10, 200)
	if err != nil {
		t.Fatalf("NewCuckooFilter failed: %v", err)
	}

	prev := cf.Occupancy()
	for i := 0; i < 100; i++ {
		ok, _ := cf.Insert([]byte(fmt.Sprintf("occ-%d", i)))
		if !ok {
			break
		}
		cur := cf.Occupancy()
		if cur < prev {
			t.Fatalf("occupancy decreased after successful insert: %.4f -> %.4f", prev, cur)
		}
		prev = cur
	}
}

func TestCuckooFilterInvalidArguments(t *testing.T) {
	cases := []struct {
		name                             string
		numBuckets, bucketSize, maxKicks uint32
		fingerprintBits                  uint8
	}{
		{"zero num_buckets", 0, 4, 10, 10},
		{"zero bucket_size", 10, 0, 10, 10},
		{"zero fingerprint_bits", 10, 4, 10, 0},
		{"zero max_kicks", 10, 4, 0, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := filter.NewCuckooFilter(tc.numBuckets, tc.bucketSize, tc.fingerprintBits, tc.maxKicks); err == nil {
				t.Errorf("expected error for %s", tc.name)
			}
		})
	}
}
