package filter_test

import (
	"fmt"
	"testing"

	"github.com/rverma/cbcuckoofilter/internal/filter"
)

// TestBloomFilterRoundTrip covers scenario S1 from spec.md §8: m=1000,
// k=12, insert "HI", lookup("HI") must be true and lookup("HO") false
// with overwhelming probability.
func TestBloomFilterRoundTrip(t *testing.T) {
	bf, err := filter.NewBloomFilter(1000, 12)
	if err != nil {
		t.Fatalf("NewBloomFilter failed: %v", err)
	}

	bf.Insert([]byte("HI"))

	if !bf.Lookup([]byte("HI")) {
		t.Error("lookup(\"HI\") should be true after insert")
	}
	if bf.Lookup([]byte("HO")) {
		t.Error("lookup(\"HO\") should be false (no false positive expected for this pair)")
	}
}

func TestBloomFilterNoFalseNegatives(t *testing.T) {
	bf, err := filter.NewBloomFilter(4096, 10)
	if err != nil {
		t.Fatalf("NewBloomFilter failed: %v", err)
	}

	n := 500
	for i := 0; i < n; i++ {
		bf.Insert([]byte(fmt.Sprintf("key-%d", i)))
	}
	for i := 0; i < n; i++ {
		if !bf.Lookup([]byte(fmt.Sprintf("key-%d", i))) {
			t.Errorf("key-%d: expected lookup true, Bloom filters never false-negative", i)
		}
	}
}

func TestBloomFilterExpectedFPRWithinBound(t *testing.T) {
	bf, err := filter.NewBloomFilter(8192, 8)
	if err != nil {
		t.Fatalf("NewBloomFilter failed: %v", err)
	}

	n := 1000
	for i := 0; i < n; i++ {
		bf.Insert([]byte(fmt.Sprintf("item-%d", i)))
	}

	falsePositives := 0
	trials := 4000
	for i := n; i < n+trials; i++ {
		if bf.Lookup([]byte(fmt.Sprintf("item-%d", i))) {
			falsePositives++
		}
	}

	observed := float64(falsePositives) / float64(trials)
	expected := bf.ExpectedFPR()
	t.Logf("observed FPR=%.4f expected FPR=%.4f", observed, expected)

	if observed > expected*4+0.02 {
		t.Errorf("observed FPR %.4f far exceeds expected FPR %.4f", observed, expected)
	}
}

func TestBloomFilterNCountsInsertsNotDistinctKeys(t *testing.T) {
	bf, err := filter.NewBloomFilter(1000, 4)
	if err != nil {
		t.Fatalf("NewBloomFilter failed: %v", err)
	}

	bf.Insert([]byte("dup"))
	bf.Insert([]byte("dup"))
	bf.Insert([]byte("dup"))

	if got := bf.Stats().N; got != 3 {
		t.Errorf("n should count all insert calls including duplicates, got %d want 3", got)
	}
}

func TestBloomFilterInvalidArguments(t *testing.T) {
	if _, err := filter.NewBloomFilter(0, 4); err == nil {
		t.Error("expected error for m=0")
	}
	if _, err := filter.NewBloomFilter(100, 0); err == nil {
		t.Error("expected error for k=0")
	}
}
