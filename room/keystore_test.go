package room

import "testing"

func TestAddDedupesAndPreservesOrder(t *testing.T) {
	ks := NewKeystore()
	var k1, k2 [32]byte
	k1[0] = 1
	k2[0] = 2

	ks.Add(k1)
	ks.Add(k2)
	ks.Add(k1) // re-announce, no-op

	if ks.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", ks.Len())
	}

	all := ks.All()
	if all[0] != k1 || all[1] != k2 {
		t.Fatal("expected insertion order to be preserved")
	}

	primary, ok := ks.Primary()
	if !ok || primary != k1 {
		t.Fatal("expected primary to be the first-inserted key")
	}
}

func TestPrimaryEmpty(t *testing.T) {
	ks := NewKeystore()
	if _, ok := ks.Primary(); ok {
		t.Fatal("expected no primary key on an empty keystore")
	}
}
