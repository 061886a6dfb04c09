package filter

import "testing"

func TestXXHashProviderDeterministic(t *testing.T) {
	hp := XXHashProvider{}
	key := []byte("determinism-key")

	first := hp.H(7, key)
	for i := 0; i < 5; i++ {
		if got := hp.H(7, key); got != first {
			t.Fatalf("H(7, key) not deterministic: got %d, want %d", got, first)
		}
	}
}

func TestXXHashProviderVariesWithSeedAndKey(t *testing.T) {
	hp := XXHashProvider{}
	a := hp.H(0, []byte("alpha"))
	b := hp.H(1, []byte("alpha"))
	if a == b {
		t.Error("H should vary with seed for a fixed key (not guaranteed, but expected for this hash)")
	}

	c := hp.H(0, []byte("beta"))
	if a == c {
		t.Error("H should vary with key for a fixed seed (not guaranteed, but expected for this hash)")
	}
}

func TestHash2HashesDecimalASCIIOfFingerprint(t *testing.T) {
	hp := XXHashProvider{}
	var fp uint32 = 42
	got := hash2(hp, fp)
	want := hp.H(2, []byte("42"))
	if got != want {
		t.Errorf("hash2(42) = %d, want %d (hash of decimal ASCII \"42\")", got, want)
	}
}

func TestFprintRespectsWidth(t *testing.T) {
	hp := XXHashProvider{}
	key := []byte("width-test")
	for _, width := range []uint8{1, 4, 8, 16, 20} {
		fp := fprint(hp, key, width)
		limit := uint32(1) << width
		if fp >= limit {
			t.Errorf("fprint(width=%d) = %d, want < %d", width, fp, limit)
		}
	}
}

func TestFprintWideWidthUsesFullHash(t *testing.T) {
	hp := XXHashProvider{}
	key := []byte("wide-width")
	if fprint(hp, key, 32) != hp.H(0, key) {
		t.Error("fprint(width=32) should equal H(0, key) unmasked")
	}
}
